package state

import (
	"context"
	"strings"

	"github.com/ldi/conveyor/internal/events"
	"github.com/ldi/conveyor/pkg/models"
)

const (
	// sectionSeparator joins the per-step sections of an accumulated
	// summary. Section headers are only recognized immediately after it
	// (or at string start), never inside body text.
	sectionSeparator = "\n\n---\n\n"

	sectionHeaderPrefix = "### "

	// fallbackSectionName wraps summaries written before pipeline
	// accumulation began, so later steps append correctly.
	fallbackSectionName = "Implementation"
)

// SaveStepSummary records the summary an agent run produced. For a feature
// under a pipeline status the text accumulates as one section per step,
// replacing the section in place when the same step runs again; for any
// other status the summary is simply overwritten.
func (m *Manager) SaveStepSummary(ctx context.Context, projectPath, featureID, rawSummary string) {
	trimmed := strings.TrimSpace(rawSummary)
	if trimmed == "" {
		// Callers invoke this speculatively after every agent run.
		m.logger.Debug().Str("feature_id", featureID).Msg("Empty summary, nothing to save")
		return
	}

	unlock := m.lock(projectPath, featureID)
	defer unlock()

	f := m.load(projectPath, featureID)
	if f == nil {
		m.logger.Warn().Str("feature_id", featureID).Msg("Cannot save summary: feature not found")
		return
	}

	if !f.Status.IsPipelineStatus() {
		f.Summary = trimmed
	} else {
		stepName := m.resolveStepName(ctx, projectPath, f.Status)
		f.Summary = accumulateSummary(f.Summary, stepName, trimmed)
		m.logger.Info().
			Str("feature_id", featureID).
			Str("step", stepName).
			Msg("Saved pipeline step summary")
	}

	f.UpdatedAt = m.now()

	if !m.persist(projectPath, f) {
		return
	}

	// The event always carries the full accumulated text so observers can
	// show complete pipeline history without knowing the section format.
	m.emitter.Emit(events.AutoModeSummary, events.SummaryPayload{
		FeatureID:   featureID,
		ProjectPath: projectPath,
		Summary:     f.Summary,
	})
}

// resolveStepName maps the feature's current pipeline status to a display
// name. Resolver failures of any kind fall back to a name derived from the
// step id itself.
func (m *Manager) resolveStepName(ctx context.Context, projectPath string, status models.Status) string {
	stepID, ok := models.StepIDFromStatus(status)
	if !ok {
		return fallbackSectionName
	}

	if m.steps != nil {
		name, err := m.steps.StepName(ctx, projectPath, stepID)
		if err != nil {
			m.logger.Debug().Err(err).Str("step_id", stepID).Msg("Step lookup failed, deriving name from id")
		} else if name != "" {
			return name
		}
	}
	return titleCaseStepID(stepID)
}

// titleCaseStepID turns "code_review" into "Code Review".
func titleCaseStepID(stepID string) string {
	words := strings.Split(stepID, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// accumulateSummary merges one step's text into the accumulated summary.
// A section whose header matches the step is replaced in place (step
// retries must not duplicate their entry); otherwise the new section is
// appended. Header matching happens only at section boundaries, so the
// same text inside a section body is never mistaken for a header.
func accumulateSummary(existing, stepName, text string) string {
	section := sectionHeaderPrefix + stepName + "\n\n" + text

	if existing == "" {
		return section
	}

	if !strings.HasPrefix(existing, sectionHeaderPrefix) {
		existing = sectionHeaderPrefix + fallbackSectionName + "\n\n" + existing
	}

	header := sectionHeaderPrefix + stepName
	parts := strings.Split(existing, sectionSeparator)
	for i, part := range parts {
		if part == header || strings.HasPrefix(part, header+"\n\n") {
			parts[i] = section
			return strings.Join(parts, sectionSeparator)
		}
	}

	return existing + sectionSeparator + section
}

// SummarySections parses an accumulated summary back into (stepName, body)
// pairs, in save order. Sections without a recognizable header get an empty
// name and their full text as body.
func SummarySections(summary string) [][2]string {
	if summary == "" {
		return nil
	}

	parts := strings.Split(summary, sectionSeparator)
	sections := make([][2]string, 0, len(parts))
	for _, part := range parts {
		if !strings.HasPrefix(part, sectionHeaderPrefix) {
			sections = append(sections, [2]string{"", part})
			continue
		}
		rest := part[len(sectionHeaderPrefix):]
		name, body, found := strings.Cut(rest, "\n\n")
		if !found {
			name = rest
			body = ""
		}
		sections = append(sections, [2]string{name, body})
	}
	return sections
}
