package transcode

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"craftworker/core/apperr"
	"craftworker/logger"
	"craftworker/model"
)

// StateRecorder persists job snapshots outside the process.
type StateRecorder interface {
	Record(ctx context.Context, snap model.JobSnapshot) error
}

const recordTimeout = 2 * time.Second

// Tracker holds the state of the job currently owning the gate.
type Tracker struct {
	mu        sync.RWMutex
	current   model.JobSnapshot
	recorders []StateRecorder
	now       func() time.Time
	log       *zap.Logger
}

// NewTracker creates an idle tracker forwarding every change to recorders.
func NewTracker(recorders ...StateRecorder) *Tracker {
	return &Tracker{
		current:   model.JobSnapshot{State: model.StateIdle},
		recorders: recorders,
		now:       time.Now,
		log:       logger.Named("job-state"),
	}
}

// Start begins tracking req in the received state.
func (t *Tracker) Start(req model.JobRequest) error {
	t.mu.Lock()
	if t.current.State != model.StateIdle && !t.current.State.Terminal() {
		busy := t.current
		t.mu.Unlock()
		return fmt.Errorf("job %s still %s", busy.JobID, busy.State)
	}
	now := t.now()
	t.current = model.JobSnapshot{
		JobID:     req.JobID,
		Name:      req.Name,
		State:     model.StateReceived,
		FileCount: len(req.Files),
		StartedAt: now,
		UpdatedAt: now,
	}
	snap := t.current
	t.mu.Unlock()

	t.record(snap)
	return nil
}

// Reject records req as turned away because another job holds the gate.
// The tracked job is left untouched.
func (t *Tracker) Reject(req model.JobRequest) {
	now := t.now()
	t.record(model.JobSnapshot{
		JobID:     req.JobID,
		Name:      req.Name,
		State:     model.StateBusy,
		FileCount: len(req.Files),
		ErrorName: string(apperr.KindWorkerBusy),
		StartedAt: now,
		UpdatedAt: now,
	})
}

// Transition moves the current job to state.
func (t *Tracker) Transition(state model.JobState) error {
	return t.apply(state, func(*model.JobSnapshot) {})
}

// Complete marks the current job completed with craftID.
func (t *Tracker) Complete(craftID string) error {
	return t.apply(model.StateCompleted, func(s *model.JobSnapshot) { s.CraftID = craftID })
}

// Fail marks the current job failed with errorName.
func (t *Tracker) Fail(errorName string) error {
	return t.apply(model.StateFailed, func(s *model.JobSnapshot) { s.ErrorName = errorName })
}

// Current returns a copy of the tracked snapshot.
func (t *Tracker) Current() model.JobSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current
}

func (t *Tracker) apply(state model.JobState, mutate func(*model.JobSnapshot)) error {
	t.mu.Lock()
	if t.current.JobID == "" {
		t.mu.Unlock()
		return fmt.Errorf("cannot transition to %s without an active job", state)
	}
	if !isValidTransition(t.current.State, state) {
		from := t.current.State
		t.mu.Unlock()
		return fmt.Errorf("invalid transition: %s -> %s", from, state)
	}
	t.current.State = state
	t.current.UpdatedAt = t.now()
	mutate(&t.current)
	snap := t.current
	t.mu.Unlock()

	t.record(snap)
	return nil
}

func (t *Tracker) record(snap model.JobSnapshot) {
	t.log.Debug("Job state changed", logger.JobID(snap.JobID), zap.String("state", string(snap.State)))
	for _, r := range t.recorders {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		if err := r.Record(ctx, snap); err != nil {
			t.log.Warn("Failed to record job state",
				logger.JobID(snap.JobID),
				zap.String("state", string(snap.State)),
				logger.ErrorField(err))
		}
		cancel()
	}
}

// isValidTransition enforces the allowed job state machine edges.
func isValidTransition(from, to model.JobState) bool {
	if to == model.StateFailed {
		return !from.Terminal() && from != model.StateIdle
	}
	switch from {
	case model.StateReceived:
		return to == model.StateValidated
	case model.StateValidated:
		return to == model.StateFetching
	case model.StateFetching:
		return to == model.StateMerging
	case model.StateMerging:
		return to == model.StateUploading
	case model.StateUploading:
		return to == model.StateRegistering
	case model.StateRegistering:
		return to == model.StateCompleted
	default:
		return false
	}
}
