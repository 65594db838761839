package orchestrator

import (
	"context"
	"time"
)

// RunEvent is one lifecycle event emitted while a run executes.
type RunEvent struct {
	RunID     string    `json:"run_id"`
	Type      string    `json:"type"`
	TaskID    string    `json:"task_id,omitempty"`
	Worker    string    `json:"worker,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Run event types.
const (
	EventTaskDispatched   = "task_dispatched"
	EventTaskApproved     = "task_approved"
	EventTaskRejected     = "task_rejected"
	EventTaskFailed       = "task_failed"
	EventConflictResolved = "conflict_resolved"
	EventRunCompleted     = "run_completed"
	EventRunFailed        = "run_failed"
	EventRunDeadlocked    = "run_deadlocked"
)

// EventPublisher receives run lifecycle events. Publishing is
// best-effort; the engine never blocks a run on a publisher error.
type EventPublisher interface {
	PublishRunEvent(ctx context.Context, ev *RunEvent) error
}
