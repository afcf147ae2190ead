// Package events defines the notification events the state manager emits and
// a small in-process bus for delivering them. Transport (websocket, HTTP) is
// a consumer's concern; everything here is process-local.
package events

import "github.com/ldi/conveyor/pkg/models"

// Event names.
const (
	FeatureStatusChanged = "feature_status_changed"
	FeaturesReconciled   = "features_reconciled"
	PlanSpecUpdated      = "plan_spec_updated"
	AutoModeSummary      = "auto_mode_summary"
	AutoModeTaskStatus   = "auto_mode_task_status"
)

// Emitter delivers a named event with a payload. Implementations must not
// block the caller for long; the state manager emits on its own mutation
// path after every persist.
type Emitter interface {
	Emit(event string, payload any)
}

type StatusChangedPayload struct {
	FeatureID      string        `json:"featureId"`
	ProjectPath    string        `json:"projectPath"`
	Status         models.Status `json:"status"`
	PreviousStatus models.Status `json:"previousStatus,omitempty"`
	Reason         string        `json:"reason,omitempty"`
}

type ReconciledPayload struct {
	ProjectPath          string   `json:"projectPath"`
	ReconciledCount      int      `json:"reconciledCount"`
	ReconciledFeatureIDs []string `json:"reconciledFeatureIds"`
	Message              string   `json:"message"`
}

type PlanSpecUpdatedPayload struct {
	FeatureID   string           `json:"featureId"`
	ProjectPath string           `json:"projectPath"`
	PlanSpec    *models.PlanSpec `json:"planSpec"`
}

type SummaryPayload struct {
	FeatureID   string `json:"featureId"`
	ProjectPath string `json:"projectPath"`
	// Summary always carries the full accumulated text, never just the
	// newest section.
	Summary string `json:"summary"`
}

type TaskStatusPayload struct {
	FeatureID   string            `json:"featureId"`
	ProjectPath string            `json:"projectPath"`
	TaskID      string            `json:"taskId"`
	Status      models.TaskStatus `json:"status"`
	Summary     *string           `json:"summary,omitempty"`
	Tasks       []models.Task     `json:"tasks"`
}
