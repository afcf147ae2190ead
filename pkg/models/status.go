package models

import "strings"

// Status is a feature lifecycle status. It is either one of the fixed
// resting states below or a dynamic pipeline status of the form
// "pipeline_<stepID>" produced by PipelineStatusFor.
type Status string

const (
	StatusBacklog         Status = "backlog"
	StatusReady           Status = "ready"
	StatusPending         Status = "pending"
	StatusInProgress      Status = "in_progress"
	StatusInterrupted     Status = "interrupted"
	StatusWaitingApproval Status = "waiting_approval"
	StatusVerified        Status = "verified"
	StatusCompleted       Status = "completed"
)

// IsValid reports whether s is one of the fixed resting states or a
// well-formed pipeline status. External writers (CLI flags, tool calls) go
// through this before handing a status to the state manager.
func (s Status) IsValid() bool {
	switch s {
	case StatusBacklog, StatusReady, StatusPending, StatusInProgress,
		StatusInterrupted, StatusWaitingApproval, StatusVerified, StatusCompleted:
		return true
	}
	return s.IsPipelineStatus()
}

// pipelineStatusPrefix is the only place the wire convention lives.
// Everything else goes through PipelineStatusFor and StepIDFromStatus.
const pipelineStatusPrefix = "pipeline_"

// PipelineStatusFor encodes a step id into its pipeline status.
func PipelineStatusFor(stepID string) Status {
	return Status(pipelineStatusPrefix + stepID)
}

// IsPipelineStatus reports whether s denotes a currently-executing pipeline
// step. The prefix match is case-sensitive and a bare "pipeline_" with no
// step id is not a pipeline status.
func (s Status) IsPipelineStatus() bool {
	return strings.HasPrefix(string(s), pipelineStatusPrefix) &&
		len(s) > len(pipelineStatusPrefix)
}

// StepIDFromStatus decodes the step id out of a pipeline status. The second
// return is false for anything that is not a pipeline status; callers fall
// back to their own naming in that case.
func StepIDFromStatus(s Status) (string, bool) {
	if !s.IsPipelineStatus() {
		return "", false
	}
	return string(s[len(pipelineStatusPrefix):]), true
}
