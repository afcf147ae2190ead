package state

import (
	"context"
	"fmt"

	"github.com/ldi/conveyor/internal/events"
	"github.com/ldi/conveyor/internal/store"
	"github.com/ldi/conveyor/pkg/models"
)

// ReconcileStuck scans every feature in a project and resets state that
// implies a running agent: after a restart no agent process is actually
// running, whatever the records say. Emits one feature_status_changed per
// reset feature plus a bulk features_reconciled event, and returns how many
// features changed.
func (m *Manager) ReconcileStuck(ctx context.Context, projectPath string) int {
	return m.reconcile(ctx, projectPath, true)
}

// ResetStuck performs the same reset logic without emitting any events.
// Used for the lighter-weight cleanup when auto mode is enabled, versus the
// full startup reconciliation.
func (m *Manager) ResetStuck(ctx context.Context, projectPath string) {
	m.reconcile(ctx, projectPath, false)
}

type reconciledFeature struct {
	id         string
	prevStatus models.Status
	newStatus  models.Status
	statusWas  bool
}

func (m *Manager) reconcile(ctx context.Context, projectPath string, emit bool) int {
	ids, err := store.ListFeatureIDs(projectPath)
	if err != nil {
		m.logger.Error().Err(err).Str("project", projectPath).Msg("Failed to scan features for reconciliation")
		return 0
	}

	var changed []reconciledFeature
	for _, id := range ids {
		if rf, ok := m.reconcileOne(projectPath, id); ok {
			changed = append(changed, rf)
			if emit && rf.statusWas {
				m.emitter.Emit(events.FeatureStatusChanged, events.StatusChangedPayload{
					FeatureID:      rf.id,
					ProjectPath:    projectPath,
					Status:         rf.newStatus,
					PreviousStatus: rf.prevStatus,
					Reason:         "reset after restart: no agent is running",
				})
			}
		}
	}

	if emit && len(changed) > 0 {
		changedIDs := make([]string, len(changed))
		for i, rf := range changed {
			changedIDs[i] = rf.id
		}
		m.emitter.Emit(events.FeaturesReconciled, events.ReconciledPayload{
			ProjectPath:          projectPath,
			ReconciledCount:      len(changed),
			ReconciledFeatureIDs: changedIDs,
			Message:              fmt.Sprintf("Reset %d stuck feature(s) after restart", len(changed)),
		})
	}

	return len(changed)
}

// reconcileOne applies every reset rule to a single feature and performs at
// most one disk write, batching all field mutations first.
func (m *Manager) reconcileOne(projectPath, featureID string) (reconciledFeature, bool) {
	unlock := m.lock(projectPath, featureID)
	defer unlock()

	f := m.load(projectPath, featureID)
	if f == nil {
		return reconciledFeature{}, false
	}

	rf := reconciledFeature{id: featureID, prevStatus: f.Status}
	dirty := false

	switch {
	case f.Status.IsPipelineStatus():
		// Pipeline statuses survive restarts so the exact step resumes.
		m.logger.Info().
			Str("feature_id", featureID).
			Str("status", string(f.Status)).
			Msg("Leaving pipeline status in place for resumption")
	case f.Status == models.StatusInProgress || f.Status == models.StatusInterrupted:
		if f.HasApprovedPlan() {
			f.Status = models.StatusReady
		} else {
			f.Status = models.StatusBacklog
		}
		rf.newStatus = f.Status
		rf.statusWas = true
		dirty = true
	}

	if f.PlanSpec != nil {
		if f.PlanSpec.Status == models.PlanStatusGenerating {
			f.PlanSpec.Status = models.PlanStatusPending
			dirty = true
		}

		tasksTouched := false
		for i := range f.PlanSpec.Tasks {
			task := &f.PlanSpec.Tasks[i]
			if task.Status != models.TaskStatusInProgress {
				continue
			}
			task.Status = models.TaskStatusPending
			if f.PlanSpec.CurrentTaskID == task.ID {
				f.PlanSpec.CurrentTaskID = ""
			}
			tasksTouched = true
		}
		if tasksTouched {
			f.PlanSpec.RecountCompleted()
			dirty = true
		}
	}

	if !dirty {
		return reconciledFeature{}, false
	}

	f.UpdatedAt = m.now()
	if !m.persist(projectPath, f) {
		return reconciledFeature{}, false
	}

	m.logger.Info().
		Str("feature_id", featureID).
		Str("from", string(rf.prevStatus)).
		Str("to", string(f.Status)).
		Msg("Reconciled stuck feature")
	return rf, true
}
