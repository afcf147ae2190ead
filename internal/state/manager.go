// Package state implements the feature lifecycle state machine. Every
// mutating operation is a complete read→mutate→persist→notify unit of work
// against the on-disk record; nothing is cached in memory between calls.
package state

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ldi/conveyor/internal/events"
	"github.com/ldi/conveyor/internal/store"
	"github.com/ldi/conveyor/pkg/models"
)

// StepResolver looks up the display name of a pipeline step. Implementations
// may fail for unknown ids; the manager falls back to deriving a name from
// the step id itself.
type StepResolver interface {
	StepName(ctx context.Context, projectPath, stepID string) (string, error)
}

// Notifier creates an observer-facing notification. Best-effort: failures
// are logged and never affect the operation that triggered them.
type Notifier interface {
	CreateNotification(ctx context.Context, projectPath, featureID string, status models.Status) error
}

// SpecSyncer pushes a finished feature out to an external spec document.
// Best-effort, fire-and-forget.
type SpecSyncer interface {
	SyncFeature(ctx context.Context, projectPath, featureID string) error
}

// recordStore is the persistence surface the manager needs. *store.Store
// implements it; tests substitute instrumented or failing stores.
type recordStore interface {
	ReadJSON(path string, v any) (recovered bool, source string, err error)
	WriteJSON(path string, v any) error
}

// Manager is the authoritative mutator for feature records. Operations on
// the same feature id are serialized through a per-feature mutex so the
// read-modify-write cycle cannot interleave with a concurrent caller's.
type Manager struct {
	store    recordStore
	emitter  events.Emitter
	steps    StepResolver
	notifier Notifier
	specSync SpecSyncer
	logger   zerolog.Logger
	now      func() time.Time

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func NewManager(st *store.Store, emitter events.Emitter, logger zerolog.Logger) *Manager {
	if emitter == nil {
		emitter = events.Nop{}
	}
	return &Manager{
		store:   st,
		emitter: emitter,
		logger:  logger.With().Str("component", "state").Logger(),
		now:     time.Now,
		locks:   make(map[string]*sync.Mutex),
	}
}

func (m *Manager) SetStepResolver(r StepResolver) { m.steps = r }
func (m *Manager) SetNotifier(n Notifier)         { m.notifier = n }
func (m *Manager) SetSpecSyncer(s SpecSyncer)     { m.specSync = s }

// lock serializes mutations for one feature id. The returned func releases it.
func (m *Manager) lock(projectPath, featureID string) func() {
	key := projectPath + "\x00" + featureID
	m.locksMu.Lock()
	mu, ok := m.locks[key]
	if !ok {
		mu = &sync.Mutex{}
		m.locks[key] = mu
	}
	m.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// LoadFeature reads a feature record. Absent or unrecoverable records return
// nil rather than an error; corruption handled by backup recovery is only a
// warning.
func (m *Manager) LoadFeature(ctx context.Context, projectPath, featureID string) *models.Feature {
	return m.load(projectPath, featureID)
}

func (m *Manager) load(projectPath, featureID string) *models.Feature {
	path := store.FeaturePath(projectPath, featureID)
	var f models.Feature
	recovered, source, err := m.store.ReadJSON(path, &f)
	if err != nil {
		if os.IsNotExist(err) {
			m.logger.Debug().Str("feature_id", featureID).Msg("Feature record not found")
		} else {
			m.logger.Error().Err(err).Str("feature_id", featureID).Msg("Failed to load feature record")
		}
		return nil
	}
	if recovered {
		m.logger.Warn().Str("feature_id", featureID).Str("source", source).Msg("Feature record recovered from backup")
	}
	return &f
}

// persist writes the full record atomically. Returns false (after logging)
// on failure; callers must skip their event emission in that case.
func (m *Manager) persist(projectPath string, f *models.Feature) bool {
	if err := m.store.WriteJSON(store.FeaturePath(projectPath, f.ID), f); err != nil {
		m.logger.Error().Err(err).Str("feature_id", f.ID).Msg("Failed to persist feature record")
		return false
	}
	return true
}

// UpdateStatus moves a feature to newStatus, applying the transition side
// effects, persisting, and only then emitting feature_status_changed. An
// observer that re-reads the record on receipt is guaranteed to see the new
// status.
func (m *Manager) UpdateStatus(ctx context.Context, projectPath, featureID string, newStatus models.Status) {
	unlock := m.lock(projectPath, featureID)
	defer unlock()

	f := m.load(projectPath, featureID)
	if f == nil {
		m.logger.Warn().Str("feature_id", featureID).Str("status", string(newStatus)).Msg("Cannot update status: feature not found")
		return
	}

	m.applyStatus(ctx, projectPath, f, newStatus)
}

// applyStatus performs the transition on an already-loaded record. The caller
// must hold the feature's mutex.
func (m *Manager) applyStatus(ctx context.Context, projectPath string, f *models.Feature, newStatus models.Status) {
	prev := f.Status
	now := m.now()
	f.Status = newStatus
	f.UpdatedAt = now

	switch newStatus {
	case models.StatusWaitingApproval:
		f.JustFinishedAt = &now
		finalizeTasks(f)
	case models.StatusVerified:
		finalizeTasks(f)
		f.JustFinishedAt = nil
	default:
		f.JustFinishedAt = nil
	}

	if !m.persist(projectPath, f) {
		return
	}

	m.logger.Info().
		Str("feature_id", f.ID).
		Str("from", string(prev)).
		Str("to", string(newStatus)).
		Msg("Feature status updated")

	m.emitter.Emit(events.FeatureStatusChanged, events.StatusChangedPayload{
		FeatureID:   f.ID,
		ProjectPath: projectPath,
		Status:      newStatus,
	})

	m.runSideEffects(ctx, projectPath, f.ID, newStatus)
}

// runSideEffects performs the best-effort collaborator calls tied to a
// status transition. Their failures never affect the primary operation.
func (m *Manager) runSideEffects(ctx context.Context, projectPath, featureID string, status models.Status) {
	if m.notifier != nil && (status == models.StatusWaitingApproval || status == models.StatusVerified) {
		if err := m.notifier.CreateNotification(ctx, projectPath, featureID, status); err != nil {
			m.logger.Warn().Err(err).Str("feature_id", featureID).Msg("Failed to create notification")
		}
	}
	if m.specSync != nil && (status == models.StatusVerified || status == models.StatusCompleted) {
		if err := m.specSync.SyncFeature(ctx, projectPath, featureID); err != nil {
			m.logger.Warn().Err(err).Str("feature_id", featureID).Msg("Failed to sync feature to spec")
		}
	}
}

// finalizeTasks promotes every in_progress task to completed when a feature
// leaves active execution. Pending tasks were never started and stay pending.
func finalizeTasks(f *models.Feature) {
	if f.PlanSpec == nil {
		return
	}
	for i := range f.PlanSpec.Tasks {
		if f.PlanSpec.Tasks[i].Status == models.TaskStatusInProgress {
			f.PlanSpec.Tasks[i].Status = models.TaskStatusCompleted
		}
	}
	f.PlanSpec.RecountCompleted()
	f.PlanSpec.CurrentTaskID = ""
}

// MarkInterrupted records that a feature's run was cut short. A feature
// sitting in a pipeline status is left untouched so resumption can pick up
// the exact step it was on.
func (m *Manager) MarkInterrupted(ctx context.Context, projectPath, featureID, reason string) {
	// The pipeline check and the transition must share one lock acquisition:
	// a concurrent update landing between them could persist a pipeline
	// checkpoint that the transition would then clobber.
	unlock := m.lock(projectPath, featureID)
	defer unlock()

	f := m.load(projectPath, featureID)
	if f == nil {
		m.logger.Warn().Str("feature_id", featureID).Msg("Cannot mark interrupted: feature not found")
		return
	}

	if f.Status.IsPipelineStatus() {
		m.logger.Info().
			Str("feature_id", featureID).
			Str("status", string(f.Status)).
			Str("reason", reason).
			Msg("Interrupted during pipeline step, leaving status for resumption")
		return
	}

	if reason != "" {
		m.logger.Info().Str("feature_id", featureID).Str("reason", reason).Msg("Marking feature interrupted")
	}
	m.applyStatus(ctx, projectPath, f, models.StatusInterrupted)
}

// PlanSpecUpdate is a partial plan spec update; nil fields are left as-is.
type PlanSpecUpdate struct {
	Status         *models.PlanStatus
	Content        *string
	ReviewedByUser *bool
	Tasks          *[]models.Task
	CurrentTaskID  *string
}

// UpdatePlanSpec applies a shallow merge onto the feature's plan spec,
// initializing one if absent. A content change bumps the version.
func (m *Manager) UpdatePlanSpec(ctx context.Context, projectPath, featureID string, update PlanSpecUpdate) {
	unlock := m.lock(projectPath, featureID)
	defer unlock()

	f := m.load(projectPath, featureID)
	if f == nil {
		m.logger.Warn().Str("feature_id", featureID).Msg("Cannot update plan spec: feature not found")
		return
	}

	if f.PlanSpec == nil {
		f.PlanSpec = &models.PlanSpec{
			Status:         models.PlanStatusPending,
			Version:        1,
			ReviewedByUser: false,
		}
	}
	spec := f.PlanSpec

	if update.Content != nil && *update.Content != spec.Content {
		spec.Content = *update.Content
		spec.Version++
	}
	if update.Status != nil {
		spec.Status = *update.Status
	}
	if update.ReviewedByUser != nil {
		spec.ReviewedByUser = *update.ReviewedByUser
	}
	if update.Tasks != nil {
		spec.Tasks = *update.Tasks
		spec.RecountCompleted()
	}
	if update.CurrentTaskID != nil {
		spec.CurrentTaskID = *update.CurrentTaskID
	}

	f.UpdatedAt = m.now()

	if !m.persist(projectPath, f) {
		return
	}

	m.emitter.Emit(events.PlanSpecUpdated, events.PlanSpecUpdatedPayload{
		FeatureID:   featureID,
		ProjectPath: projectPath,
		PlanSpec:    spec,
	})
}

// UpdateTaskStatus sets one task's status (and summary, if given), then
// emits the full task list so observers never need a partial-diff protocol.
func (m *Manager) UpdateTaskStatus(ctx context.Context, projectPath, featureID, taskID string, status models.TaskStatus, summary *string) {
	unlock := m.lock(projectPath, featureID)
	defer unlock()

	f := m.load(projectPath, featureID)
	if f == nil {
		m.logger.Warn().Str("feature_id", featureID).Str("task_id", taskID).Msg("Cannot update task: feature not found")
		return
	}

	if f.PlanSpec == nil || len(f.PlanSpec.Tasks) == 0 {
		m.logger.Warn().Str("feature_id", featureID).Str("task_id", taskID).Msg("Cannot update task: feature has no tasks")
		return
	}

	task := f.PlanSpec.TaskByID(taskID)
	if task == nil {
		ids := make([]string, 0, len(f.PlanSpec.Tasks))
		for i := range f.PlanSpec.Tasks {
			ids = append(ids, f.PlanSpec.Tasks[i].ID)
		}
		m.logger.Warn().
			Str("feature_id", featureID).
			Str("task_id", taskID).
			Strs("available", ids).
			Msg("Cannot update task: task not found")
		return
	}

	task.Status = status
	if summary != nil {
		task.Summary = summary
	}
	f.PlanSpec.RecountCompleted()
	f.UpdatedAt = m.now()

	if !m.persist(projectPath, f) {
		return
	}

	m.emitter.Emit(events.AutoModeTaskStatus, events.TaskStatusPayload{
		FeatureID:   featureID,
		ProjectPath: projectPath,
		TaskID:      taskID,
		Status:      status,
		Summary:     summary,
		Tasks:       f.PlanSpec.Tasks,
	})
}
