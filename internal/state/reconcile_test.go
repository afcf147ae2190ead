package state

import (
	"context"
	"testing"

	"github.com/ldi/conveyor/internal/events"
	"github.com/ldi/conveyor/pkg/models"
)

func TestReconcileInProgressWithApprovedPlan(t *testing.T) {
	m, _, project := newTestManager(t)
	ctx := context.Background()

	mustWrite(t, m, project, &models.Feature{
		ID:       "f1",
		Status:   models.StatusInProgress,
		PlanSpec: &models.PlanSpec{Status: models.PlanStatusApproved},
	})

	count := m.ReconcileStuck(ctx, project)
	if count != 1 {
		t.Errorf("Expected 1 reconciled feature, got %d", count)
	}

	f := m.LoadFeature(ctx, project, "f1")
	if f.Status != models.StatusReady {
		t.Errorf("Approved plan should reset to ready, got %s", f.Status)
	}
}

func TestReconcileInterruptedWithoutPlan(t *testing.T) {
	m, _, project := newTestManager(t)
	ctx := context.Background()

	mustWrite(t, m, project, &models.Feature{ID: "f1", Status: models.StatusInterrupted})

	m.ReconcileStuck(ctx, project)

	f := m.LoadFeature(ctx, project, "f1")
	if f.Status != models.StatusBacklog {
		t.Errorf("No approved plan should reset to backlog, got %s", f.Status)
	}
}

func TestReconcileLeavesPipelineStatusButResetsTasks(t *testing.T) {
	m, _, project := newTestManager(t)
	ctx := context.Background()

	mustWrite(t, m, project, &models.Feature{
		ID:     "f1",
		Status: "pipeline_x",
		PlanSpec: &models.PlanSpec{
			Status: models.PlanStatusApproved,
			Tasks: []models.Task{
				{ID: "t1", Status: models.TaskStatusCompleted},
				{ID: "t2", Status: models.TaskStatusInProgress},
			},
			CurrentTaskID:  "t2",
			TasksCompleted: 1,
		},
	})

	count := m.ReconcileStuck(ctx, project)
	if count != 1 {
		t.Errorf("Expected the task reset to count as a change, got %d", count)
	}

	f := m.LoadFeature(ctx, project, "f1")
	if f.Status != "pipeline_x" {
		t.Errorf("Pipeline status must survive reconciliation, got %s", f.Status)
	}
	if f.PlanSpec.Tasks[1].Status != models.TaskStatusPending {
		t.Errorf("Stray in_progress task should reset to pending, got %s", f.PlanSpec.Tasks[1].Status)
	}
	if f.PlanSpec.CurrentTaskID != "" {
		t.Errorf("currentTaskId pointing at a reset task should clear, got %s", f.PlanSpec.CurrentTaskID)
	}
	if f.PlanSpec.TasksCompleted != 1 {
		t.Errorf("Expected tasksCompleted 1, got %d", f.PlanSpec.TasksCompleted)
	}
}

func TestReconcileResetsGeneratingPlan(t *testing.T) {
	m, _, project := newTestManager(t)
	ctx := context.Background()

	mustWrite(t, m, project, &models.Feature{
		ID:       "f1",
		Status:   models.StatusBacklog,
		PlanSpec: &models.PlanSpec{Status: models.PlanStatusGenerating},
	})

	m.ReconcileStuck(ctx, project)

	f := m.LoadFeature(ctx, project, "f1")
	if f.PlanSpec.Status != models.PlanStatusPending {
		t.Errorf("Generating plan should reset to pending, got %s", f.PlanSpec.Status)
	}
	if f.Status != models.StatusBacklog {
		t.Errorf("Resting status should be untouched, got %s", f.Status)
	}
}

func TestReconcileUntouchedFeatureNotCounted(t *testing.T) {
	m, rec, project := newTestManager(t)
	ctx := context.Background()

	mustWrite(t, m, project, &models.Feature{ID: "f1", Status: models.StatusReady})
	mustWrite(t, m, project, &models.Feature{ID: "f2", Status: models.StatusCompleted})

	count := m.ReconcileStuck(ctx, project)
	if count != 0 {
		t.Errorf("Expected nothing to reconcile, got %d", count)
	}
	if len(rec.names()) != 0 {
		t.Errorf("Expected no events, got %v", rec.names())
	}
}

func TestReconcileEmitsEventsPerFeaturePlusBulk(t *testing.T) {
	m, rec, project := newTestManager(t)
	ctx := context.Background()

	mustWrite(t, m, project, &models.Feature{ID: "f1", Status: models.StatusInProgress})
	mustWrite(t, m, project, &models.Feature{
		ID:       "f2",
		Status:   models.StatusInterrupted,
		PlanSpec: &models.PlanSpec{Status: models.PlanStatusApproved},
	})

	count := m.ReconcileStuck(ctx, project)
	if count != 2 {
		t.Fatalf("Expected 2 reconciled, got %d", count)
	}

	if rec.count(events.FeatureStatusChanged) != 2 {
		t.Errorf("Expected 2 status events, got %v", rec.names())
	}

	payload, ok := rec.last(events.FeaturesReconciled)
	if !ok {
		t.Fatalf("Expected bulk features_reconciled event")
	}
	p := payload.(events.ReconciledPayload)
	if p.ReconciledCount != 2 || len(p.ReconciledFeatureIDs) != 2 {
		t.Errorf("Unexpected bulk payload: %+v", p)
	}

	statusPayload, _ := rec.last(events.FeatureStatusChanged)
	sp := statusPayload.(events.StatusChangedPayload)
	if sp.PreviousStatus == "" || sp.Reason == "" {
		t.Errorf("Status event should carry previous status and reason: %+v", sp)
	}
}

func TestResetStuckEmitsNoEvents(t *testing.T) {
	m, rec, project := newTestManager(t)
	ctx := context.Background()

	mustWrite(t, m, project, &models.Feature{ID: "f1", Status: models.StatusInProgress})

	m.ResetStuck(ctx, project)

	f := m.LoadFeature(ctx, project, "f1")
	if f.Status != models.StatusBacklog {
		t.Errorf("Expected reset to backlog, got %s", f.Status)
	}
	if len(rec.names()) != 0 {
		t.Errorf("ResetStuck must be silent, got %v", rec.names())
	}
}

func TestReconcileEmptyProject(t *testing.T) {
	m, rec, project := newTestManager(t)

	count := m.ReconcileStuck(context.Background(), project)
	if count != 0 {
		t.Errorf("Expected 0 for an empty project, got %d", count)
	}
	if len(rec.names()) != 0 {
		t.Errorf("Expected no events, got %v", rec.names())
	}
}
