package models

type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
)

// Task is one entry in a feature's plan. Under normal operation at most one
// task is in_progress at a time; the reconciliation scan tolerates records
// where that does not hold.
type Task struct {
	ID          string     `json:"id"`
	Name        string     `json:"name,omitempty"`
	Description string     `json:"description,omitempty"`
	Status      TaskStatus `json:"status"`
	Summary     *string    `json:"summary,omitempty"`
}
