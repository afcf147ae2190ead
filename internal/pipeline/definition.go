// Package pipeline sequences the per-feature execution steps: it knows which
// steps exist, in what order they run, and how to drive the external agent
// through them.
package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ldi/conveyor/internal/store"
)

// Step is one pipeline step definition. ID feeds the pipeline_<id> status
// namespace; Name is the human-readable section header for the step's
// summary.
type Step struct {
	ID           string `yaml:"id"`
	Name         string `yaml:"name"`
	Instructions string `yaml:"instructions,omitempty"`
}

// Definition is an ordered step sequence for a project.
type Definition struct {
	Steps []Step `yaml:"steps"`
}

// DefaultDefinition is used when a project has no pipeline.yaml.
func DefaultDefinition() *Definition {
	return &Definition{Steps: []Step{
		{ID: "implementation", Name: "Implementation", Instructions: "Implement the feature as described."},
		{ID: "code_review", Name: "Code Review", Instructions: "Review the implementation for defects and style issues. Fix what you find."},
		{ID: "testing", Name: "Testing", Instructions: "Write and run tests covering the implemented behavior."},
	}}
}

// ParseDefinition decodes and validates a pipeline definition payload.
func ParseDefinition(data []byte) (*Definition, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("pipeline: definition is empty")
	}
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("pipeline: decode definition: %w", err)
	}
	if err := def.validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

func (d *Definition) validate() error {
	if len(d.Steps) == 0 {
		return fmt.Errorf("pipeline: definition has no steps")
	}
	seen := make(map[string]bool, len(d.Steps))
	for i, s := range d.Steps {
		id := strings.TrimSpace(s.ID)
		if id == "" {
			return fmt.Errorf("pipeline: step %d has no id", i)
		}
		if seen[id] {
			return fmt.Errorf("pipeline: duplicate step id %q", id)
		}
		seen[id] = true
	}
	return nil
}

// LoadDefinition reads a project's pipeline definition, falling back to the
// default pipeline when the project has none.
func LoadDefinition(projectPath string) (*Definition, error) {
	data, err := os.ReadFile(store.PipelinePath(projectPath))
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultDefinition(), nil
		}
		return nil, fmt.Errorf("pipeline: read definition: %w", err)
	}
	return ParseDefinition(data)
}

// StepByID returns the step with the given id, or nil.
func (d *Definition) StepByID(id string) *Step {
	for i := range d.Steps {
		if d.Steps[i].ID == id {
			return &d.Steps[i]
		}
	}
	return nil
}

// NextStep returns the step after the one with the given id, or nil when id
// names the last step or is unknown.
func (d *Definition) NextStep(id string) *Step {
	for i := range d.Steps {
		if d.Steps[i].ID == id && i+1 < len(d.Steps) {
			return &d.Steps[i+1]
		}
	}
	return nil
}

// Resolver adapts per-project definitions to the state manager's step name
// lookup.
type Resolver struct{}

func (Resolver) StepName(_ context.Context, projectPath, stepID string) (string, error) {
	def, err := LoadDefinition(projectPath)
	if err != nil {
		return "", err
	}
	step := def.StepByID(stepID)
	if step == nil {
		return "", fmt.Errorf("pipeline: unknown step %q", stepID)
	}
	return step.Name, nil
}
