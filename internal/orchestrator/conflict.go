package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// conflictResolver runs the conflict judge once per cycle when at least
// two worker outputs have accumulated for the run.
type conflictResolver struct {
	judge   ConflictJudge
	timeout time.Duration
	logger  *zap.Logger
}

// resolve asks the judge to check the accumulated outputs for semantic
// contradictions. Resolution is best-effort: a judge error or a missing
// judge yields a no-conflict verdict rather than failing the run.
func (r *conflictResolver) resolve(ctx context.Context, outputs []*WorkerOutput) ConflictVerdict {
	if r.judge == nil || len(outputs) < 2 {
		return ConflictVerdict{}
	}

	jctx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		jctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	verdict, err := r.judge.Resolve(jctx, outputs)
	if err != nil {
		r.logger.Warn("conflict judge failed, skipping resolution", zap.Error(err))
		return ConflictVerdict{}
	}

	if verdict.HasConflict {
		r.logger.Warn("conflict detected across worker outputs",
			zap.String("summary", verdict.Summary))
	}
	return verdict
}
