package models

import "time"

// Feature is the persisted unit of work. One JSON document per feature lives
// on disk; nothing holds a Feature in memory between operations, so the
// on-disk record is always the current value.
type Feature struct {
	ID             string     `json:"id"`
	Name           string     `json:"name,omitempty"`
	Description    string     `json:"description,omitempty"`
	Status         Status     `json:"status"`
	Summary        string     `json:"summary,omitempty"`
	JustFinishedAt *time.Time `json:"just_finished_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	PlanSpec       *PlanSpec  `json:"plan_spec,omitempty"`
}

type PlanStatus string

const (
	PlanStatusPending    PlanStatus = "pending"
	PlanStatusGenerating PlanStatus = "generating"
	PlanStatusApproved   PlanStatus = "approved"
)

// PlanSpec is the feature's task plan. Version increments whenever Content
// changes; TasksCompleted is derived and kept in sync by RecountCompleted.
type PlanSpec struct {
	Status         PlanStatus `json:"status"`
	Version        int        `json:"version"`
	ReviewedByUser bool       `json:"reviewed_by_user"`
	Content        string     `json:"content,omitempty"`
	Tasks          []Task     `json:"tasks,omitempty"`
	CurrentTaskID  string     `json:"current_task_id,omitempty"`
	TasksCompleted int        `json:"tasks_completed"`
}

// RecountCompleted recomputes TasksCompleted from the task list. Call it
// after any mutation that touches task statuses.
func (p *PlanSpec) RecountCompleted() {
	n := 0
	for i := range p.Tasks {
		if p.Tasks[i].Status == TaskStatusCompleted {
			n++
		}
	}
	p.TasksCompleted = n
}

// TaskByID returns a pointer into the task list, or nil.
func (p *PlanSpec) TaskByID(id string) *Task {
	for i := range p.Tasks {
		if p.Tasks[i].ID == id {
			return &p.Tasks[i]
		}
	}
	return nil
}

// HasApprovedPlan reports whether the feature carries a user-approved plan.
func (f *Feature) HasApprovedPlan() bool {
	return f.PlanSpec != nil && f.PlanSpec.Status == PlanStatusApproved
}
