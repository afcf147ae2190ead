package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ldi/conveyor/embed/prompts"
	"github.com/ldi/conveyor/internal/state"
	"github.com/ldi/conveyor/pkg/models"
)

// trailingLines bounds the fallback summary taken from raw agent output.
const trailingLines = 20

// Orchestrator drives a feature through its pipeline steps, feeding each
// step's summary back into the state manager. All state mutation goes
// through the manager; the orchestrator never touches records directly.
type Orchestrator struct {
	manager *state.Manager
	runner  AgentRunner
	logger  zerolog.Logger
}

func NewOrchestrator(manager *state.Manager, runner AgentRunner, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		manager: manager,
		runner:  runner,
		logger:  logger.With().Str("component", "pipeline").Logger(),
	}
}

// RunStep executes the single step the feature is currently on. The feature
// must be in a pipeline status.
func (o *Orchestrator) RunStep(ctx context.Context, projectPath, featureID string) error {
	f := o.manager.LoadFeature(ctx, projectPath, featureID)
	if f == nil {
		return fmt.Errorf("feature %s not found", featureID)
	}

	stepID, ok := models.StepIDFromStatus(f.Status)
	if !ok {
		return fmt.Errorf("feature %s is not on a pipeline step (status %s)", featureID, f.Status)
	}

	def, err := LoadDefinition(projectPath)
	if err != nil {
		return err
	}

	step := def.StepByID(stepID)
	if step == nil {
		// Unknown step ids still run: the status is authoritative and the
		// summary falls back to a name derived from the id.
		step = &Step{ID: stepID, Name: "", Instructions: ""}
		o.logger.Warn().Str("feature_id", featureID).Str("step_id", stepID).Msg("Step not in definition, running with defaults")
	}

	o.logger.Info().Str("feature_id", featureID).Str("step", step.ID).Msg("Running pipeline step")

	result, err := o.runner.Run(ctx, projectPath, o.buildPrompt(f, step))
	if err != nil {
		return fmt.Errorf("step %s: %w", step.ID, err)
	}

	summary := result.Summary
	if summary == "" {
		// Pipeline steps must leave a durable trace; fall back to the raw
		// trailing output. Non-pipeline runs never do this: for them an
		// absent summary is a legitimate "nothing to report".
		summary = TrailingOutput(result.Output, trailingLines)
		o.logger.Debug().Str("feature_id", featureID).Str("step", step.ID).Msg("No extractable summary, using trailing output")
	}

	o.manager.SaveStepSummary(ctx, projectPath, featureID, summary)
	return nil
}

// Run drives the feature through the remaining pipeline steps in order. A
// feature already sitting on a pipeline status resumes from that exact
// step; anything else starts from the first step. After the final step the
// feature moves to waiting_approval.
func (o *Orchestrator) Run(ctx context.Context, projectPath, featureID string) error {
	f := o.manager.LoadFeature(ctx, projectPath, featureID)
	if f == nil {
		return fmt.Errorf("feature %s not found", featureID)
	}

	def, err := LoadDefinition(projectPath)
	if err != nil {
		return err
	}

	step := &def.Steps[0]
	if stepID, ok := models.StepIDFromStatus(f.Status); ok {
		if resumed := def.StepByID(stepID); resumed != nil {
			step = resumed
			o.logger.Info().Str("feature_id", featureID).Str("step", step.ID).Msg("Resuming pipeline from persisted step")
		}
	}

	for step != nil {
		if ctx.Err() != nil {
			// An aborted run leaves the last persisted status as the
			// resumable checkpoint.
			o.manager.MarkInterrupted(ctx, projectPath, featureID, "pipeline run canceled")
			return ctx.Err()
		}

		o.manager.UpdateStatus(ctx, projectPath, featureID, models.PipelineStatusFor(step.ID))

		if err := o.RunStep(ctx, projectPath, featureID); err != nil {
			o.manager.MarkInterrupted(context.WithoutCancel(ctx), projectPath, featureID, err.Error())
			return err
		}

		step = def.NextStep(step.ID)
	}

	o.manager.UpdateStatus(ctx, projectPath, featureID, models.StatusWaitingApproval)
	o.logger.Info().Str("feature_id", featureID).Msg("Pipeline complete, waiting for approval")
	return nil
}

func (o *Orchestrator) buildPrompt(f *models.Feature, step *Step) string {
	var sb strings.Builder
	sb.WriteString(prompts.Header)
	sb.WriteString("\n\n")
	sb.WriteString(fmt.Sprintf("# Feature: %s\n\n", f.Name))
	if f.Description != "" {
		sb.WriteString(fmt.Sprintf("## Description\n%s\n\n", f.Description))
	}
	if f.PlanSpec != nil && f.PlanSpec.Content != "" {
		sb.WriteString(fmt.Sprintf("## Plan\n%s\n\n", f.PlanSpec.Content))
	}
	if step.Instructions != "" {
		sb.WriteString(fmt.Sprintf("## Step: %s\n%s\n\n", step.Name, step.Instructions))
	}
	if f.Summary != "" {
		sb.WriteString(fmt.Sprintf("## Progress so far\n%s\n\n", f.Summary))
	}
	sb.WriteString(prompts.Footer)
	return sb.String()
}
