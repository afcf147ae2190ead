package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ldi/conveyor/internal/store"
)

func writePipeline(t *testing.T, project, content string) {
	t.Helper()
	path := store.PipelinePath(project)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Failed to create data dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write pipeline definition: %v", err)
	}
}

func TestParseDefinition(t *testing.T) {
	def, err := ParseDefinition([]byte(`
steps:
  - id: implementation
    name: Implementation
    instructions: Build it.
  - id: code_review
    name: Code Review
`))
	if err != nil {
		t.Fatalf("Failed to parse: %v", err)
	}
	if len(def.Steps) != 2 {
		t.Fatalf("Expected 2 steps, got %d", len(def.Steps))
	}
	if def.Steps[1].Name != "Code Review" {
		t.Errorf("Expected Code Review, got %s", def.Steps[1].Name)
	}
}

func TestParseDefinitionRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"empty":        "",
		"no steps":     "steps: []",
		"missing id":   "steps:\n  - name: X",
		"duplicate id": "steps:\n  - id: a\n  - id: a",
	}
	for name, payload := range cases {
		if _, err := ParseDefinition([]byte(payload)); err == nil {
			t.Errorf("%s: expected an error", name)
		}
	}
}

func TestLoadDefinitionFallsBackToDefault(t *testing.T) {
	def, err := LoadDefinition(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to load: %v", err)
	}
	if len(def.Steps) == 0 {
		t.Fatalf("Expected default steps")
	}
	if def.Steps[0].ID != "implementation" {
		t.Errorf("Expected implementation first, got %s", def.Steps[0].ID)
	}
}

func TestNextStep(t *testing.T) {
	def := DefaultDefinition()

	next := def.NextStep("implementation")
	if next == nil || next.ID != "code_review" {
		t.Errorf("Expected code_review after implementation, got %+v", next)
	}

	last := def.Steps[len(def.Steps)-1]
	if def.NextStep(last.ID) != nil {
		t.Errorf("Expected nil after the last step")
	}
	if def.NextStep("unknown") != nil {
		t.Errorf("Expected nil for an unknown step")
	}
}

func TestResolver(t *testing.T) {
	project := t.TempDir()
	writePipeline(t, project, "steps:\n  - id: qa_pass\n    name: Quality Gate\n")

	name, err := Resolver{}.StepName(context.Background(), project, "qa_pass")
	if err != nil {
		t.Fatalf("Failed to resolve: %v", err)
	}
	if name != "Quality Gate" {
		t.Errorf("Expected Quality Gate, got %s", name)
	}

	if _, err := (Resolver{}).StepName(context.Background(), project, "nope"); err == nil {
		t.Errorf("Expected an error for an unknown step")
	}
}

func TestExtractSummary(t *testing.T) {
	out := "lots of build output\n## Summary\n\ndid the thing\n"
	if got := ExtractSummary(out); got != "did the thing" {
		t.Errorf("Expected extracted summary, got %q", got)
	}

	if got := ExtractSummary("no marker here"); got != "" {
		t.Errorf("Expected empty summary, got %q", got)
	}

	// Only the last marker counts.
	out = "## Summary\nfirst\n## Summary\nsecond"
	if got := ExtractSummary(out); got != "second" {
		t.Errorf("Expected last marker's text, got %q", got)
	}
}

func TestTrailingOutput(t *testing.T) {
	out := "a\n\nb\nc\n\n"
	if got := TrailingOutput(out, 2); got != "b\nc" {
		t.Errorf("Expected last two non-empty lines, got %q", got)
	}
	if got := TrailingOutput("", 5); got != "" {
		t.Errorf("Expected empty, got %q", got)
	}
}
