package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/nidhogg/overseer/internal/plan"
	"go.uber.org/zap"
)

// DefaultMaxRetries is the retry budget: consecutive rejects before a
// task is marked terminally failed.
const DefaultMaxRetries = 2

// reviewGate wraps the verifier with the bounded-retry state machine.
type reviewGate struct {
	verifier   Verifier
	maxRetries int
	timeout    time.Duration
	logger     *zap.Logger
}

// reviewDecision is the gate's outcome for one task attempt.
type reviewDecision struct {
	status   TaskStatus
	retries  int
	critique string
}

// review judges one execution attempt and returns the task's next status.
// An executor error is an implicit reject: it consumes a retry through
// the same budget as a logical rejection. A verifier error also rejects
// (fail closed — never approve unverified output).
func (g *reviewGate) review(ctx context.Context, task plan.Task, out *WorkerOutput, execErr error, retries int) reviewDecision {
	if execErr != nil {
		return g.reject(task, retries, fmt.Sprintf("worker execution failed: %v", execErr))
	}

	jctx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		jctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	verdict, err := g.verifier.Judge(jctx, task, out)
	if err != nil {
		return g.reject(task, retries, fmt.Sprintf("verifier unavailable: %v", err))
	}

	if verdict.Approve {
		g.logger.Info("task approved", zap.String("task", task.ID), zap.String("worker", string(task.Worker)))
		return reviewDecision{status: TaskApproved, retries: 0}
	}
	return g.reject(task, retries, verdict.Critique)
}

func (g *reviewGate) reject(task plan.Task, retries int, critique string) reviewDecision {
	next := retries + 1
	if next >= g.maxRetries {
		g.logger.Warn("task failed, retry budget exhausted",
			zap.String("task", task.ID),
			zap.Int("retries", next),
			zap.String("critique", critique))
		return reviewDecision{status: TaskFailed, retries: next, critique: critique}
	}

	g.logger.Warn("task rejected, will retry",
		zap.String("task", task.ID),
		zap.Int("retries", next),
		zap.String("critique", critique))
	// Back to reviewing: the task re-enters the dispatch-eligible pool
	// carrying the critique for the next attempt.
	return reviewDecision{status: TaskReviewing, retries: next, critique: critique}
}
