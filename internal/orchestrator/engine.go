package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nidhogg/overseer/internal/plan"
	"go.uber.org/zap"
)

// Checkpoint is the serializable state of a run, written after every
// cycle so a run can survive a process restart.
type Checkpoint struct {
	RunID      string                   `json:"run_id"`
	Tasks      []plan.Task              `json:"tasks"`
	Statuses   map[string]TaskStatus    `json:"statuses"`
	Retries    map[string]int           `json:"retries"`
	Outputs    map[string]*WorkerOutput `json:"outputs"`
	State      RunState                 `json:"state"`
	LastOutput string                   `json:"last_output,omitempty"`
}

// Result reconstructs the result view of a checkpointed run so a
// restarted process can answer status queries without re-running it.
// Cycle counts are not persisted and read as zero.
func (cp *Checkpoint) Result() *Result {
	res := &Result{
		RunID:         cp.RunID,
		State:         cp.State,
		OutputsByTask: make(map[string]string, len(cp.Outputs)),
		LastOutput:    cp.LastOutput,
	}
	for id, out := range cp.Outputs {
		res.OutputsByTask[id] = out.Text
	}
	for _, task := range cp.Tasks {
		st := cp.Statuses[task.ID]
		if cp.State == RunFailed && st == TaskFailed && res.FailedTask == "" {
			res.FailedTask = task.ID
		}
		if cp.State == RunDeadlocked && !st.Terminal() {
			res.StuckTasks = append(res.StuckTasks, task.ID)
		}
	}
	return res
}

// CheckpointSaver persists run checkpoints. Saving is best-effort.
type CheckpointSaver interface {
	SaveCheckpoint(ctx context.Context, cp *Checkpoint) error
}

// Options tune the engine's retry budget and per-call timeouts.
type Options struct {
	MaxRetries      int
	ExecTimeout     time.Duration
	VerifyTimeout   time.Duration
	ConflictTimeout time.Duration
}

// Engine drives a compiled plan to a terminal outcome: dispatch eligible
// tasks, execute them concurrently, review every output through the
// retry gate, resolve cross-output conflicts, repeat. Cycles are
// strictly sequential; all parallelism lives inside a cycle.
type Engine struct {
	executors   map[plan.WorkerType]Executor
	gate        *reviewGate
	conflicts   *conflictResolver
	events      EventPublisher
	checkpoints CheckpointSaver
	execTimeout time.Duration
	logger      *zap.Logger
}

// NewEngine creates an engine. The verifier is required; the conflict
// judge, event publisher and checkpoint saver are optional.
func NewEngine(verifier Verifier, judge ConflictJudge, opts Options, logger *zap.Logger) *Engine {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	return &Engine{
		executors: make(map[plan.WorkerType]Executor),
		gate: &reviewGate{
			verifier:   verifier,
			maxRetries: opts.MaxRetries,
			timeout:    opts.VerifyTimeout,
			logger:     logger,
		},
		conflicts: &conflictResolver{
			judge:   judge,
			timeout: opts.ConflictTimeout,
			logger:  logger,
		},
		execTimeout: opts.ExecTimeout,
		logger:      logger,
	}
}

// RegisterExecutor binds an executor to a worker type.
func (e *Engine) RegisterExecutor(wt plan.WorkerType, ex Executor) {
	e.executors[wt] = ex
}

// SetEventPublisher enables run event publishing.
func (e *Engine) SetEventPublisher(p EventPublisher) { e.events = p }

// SetCheckpointSaver enables per-cycle run persistence.
func (e *Engine) SetCheckpointSaver(s CheckpointSaver) { e.checkpoints = s }

// Run drives a fresh plan to a terminal outcome.
func (e *Engine) Run(ctx context.Context, runID string, p *plan.Plan) (*Result, error) {
	if p == nil || p.Len() == 0 {
		return nil, fmt.Errorf("run %s: %w", runID, plan.ErrInvalidPlan)
	}
	store := NewStatusStore(p.TaskIDs())
	return e.loop(ctx, runID, p, store, make(map[string]*WorkerOutput), "")
}

// Resume re-enters the loop from a persisted checkpoint. No special
// resume logic is needed: the loop is idempotent over tasks that are
// already approved or failed.
func (e *Engine) Resume(ctx context.Context, cp *Checkpoint) (*Result, error) {
	p, err := plan.Compile(cp.Tasks)
	if err != nil {
		return nil, fmt.Errorf("resume %s: %w", cp.RunID, err)
	}
	store := NewStatusStoreFrom(cp.Statuses, cp.Retries)
	outputs := make(map[string]*WorkerOutput, len(cp.Outputs))
	for id, out := range cp.Outputs {
		outputs[id] = out
	}
	return e.loop(ctx, cp.RunID, p, store, outputs, cp.LastOutput)
}

// execResult pairs a task with its execution attempt.
type execResult struct {
	out *WorkerOutput
	err error
}

func (e *Engine) loop(ctx context.Context, runID string, p *plan.Plan, store *StatusStore, outputs map[string]*WorkerOutput, lastOutput string) (*Result, error) {
	critiques := make(map[string]string)
	cycles := 0

	for {
		if err := ctx.Err(); err != nil {
			return e.finish(runID, p, store, outputs, cycles, &Result{
				State:    RunFailed,
				Critique: fmt.Sprintf("run canceled: %v", err),
			}, lastOutput)
		}

		statuses, retries := store.Snapshot()
		d := selectRunnable(p, statuses)

		if d.failedTask != "" {
			res := &Result{
				State:      RunFailed,
				FailedTask: d.failedTask,
				Critique:   critiques[d.failedTask],
			}
			e.publish(ctx, &RunEvent{RunID: runID, Type: EventRunFailed, TaskID: d.failedTask, Detail: res.Critique})
			return e.finish(runID, p, store, outputs, cycles, res, lastOutput)
		}

		if len(d.selected) == 0 {
			stuck := stuckTasks(p, statuses)
			if len(stuck) == 0 {
				e.publish(ctx, &RunEvent{RunID: runID, Type: EventRunCompleted})
				return e.finish(runID, p, store, outputs, cycles, &Result{State: RunCompleted}, lastOutput)
			}
			// Safety valve: nothing runnable but non-terminal tasks
			// remain. Dependencies can never be satisfied.
			e.logger.Warn("run deadlocked",
				zap.String("run", runID),
				zap.Strings("stuck", stuck))
			e.publish(ctx, &RunEvent{RunID: runID, Type: EventRunDeadlocked, Detail: fmt.Sprintf("%d tasks stuck", len(stuck))})
			return e.finish(runID, p, store, outputs, cycles, &Result{State: RunDeadlocked, StuckTasks: stuck}, lastOutput)
		}

		cycles++
		for id, st := range d.delta {
			statuses[id] = st
		}
		store.Apply(statuses, retries)

		for _, task := range d.selected {
			e.logger.Info("dispatching task",
				zap.String("run", runID),
				zap.String("task", task.ID),
				zap.String("worker", string(task.Worker)))
			e.publish(ctx, &RunEvent{RunID: runID, Type: EventTaskDispatched, TaskID: task.ID, Worker: string(task.Worker)})
		}

		// Execute all selected tasks concurrently. Fan-out is bounded by
		// the number of distinct worker types claimed this cycle. A slow
		// or failing call never cancels its siblings.
		results := make(map[string]execResult, len(d.selected))
		var mu sync.Mutex
		var wg sync.WaitGroup
		for _, task := range d.selected {
			wg.Add(1)
			go func(task plan.Task) {
				defer wg.Done()
				out, err := e.execute(ctx, task, ExecContext{
					RunID:    runID,
					Critique: critiques[task.ID],
					Attempt:  retries[task.ID] + 1,
				})
				mu.Lock()
				results[task.ID] = execResult{out: out, err: err}
				mu.Unlock()
			}(task)
		}
		wg.Wait()

		// In-flight calls were allowed to finish; on cancellation their
		// results are discarded.
		if err := ctx.Err(); err != nil {
			return e.finish(runID, p, store, outputs, cycles, &Result{
				State:    RunFailed,
				Critique: fmt.Sprintf("run canceled: %v", err),
			}, lastOutput)
		}

		// All executions are collected before any review is issued.
		for _, task := range d.selected {
			if r := results[task.ID]; r.err == nil && r.out != nil {
				outputs[task.ID] = r.out
				lastOutput = r.out.Text
			}
		}

		decisions := make(map[string]reviewDecision, len(d.selected))
		wg = sync.WaitGroup{}
		for _, task := range d.selected {
			wg.Add(1)
			go func(task plan.Task) {
				defer wg.Done()
				r := results[task.ID]
				dec := e.gate.review(ctx, task, r.out, r.err, retries[task.ID])
				mu.Lock()
				decisions[task.ID] = dec
				mu.Unlock()
			}(task)
		}
		wg.Wait()

		for _, task := range d.selected {
			dec := decisions[task.ID]
			statuses[task.ID] = dec.status
			retries[task.ID] = dec.retries
			switch dec.status {
			case TaskApproved:
				delete(critiques, task.ID)
				e.publish(ctx, &RunEvent{RunID: runID, Type: EventTaskApproved, TaskID: task.ID, Worker: string(task.Worker)})
			case TaskFailed:
				critiques[task.ID] = dec.critique
				e.publish(ctx, &RunEvent{RunID: runID, Type: EventTaskFailed, TaskID: task.ID, Worker: string(task.Worker), Detail: dec.critique})
			default:
				critiques[task.ID] = dec.critique
				e.publish(ctx, &RunEvent{RunID: runID, Type: EventTaskRejected, TaskID: task.ID, Worker: string(task.Worker), Detail: dec.critique})
			}
		}

		// Conflict check runs once per cycle, after every review has
		// landed, and only when two or more outputs exist for the run.
		if verdict := e.conflicts.resolve(ctx, orderedOutputs(p, outputs)); verdict.HasConflict {
			lastOutput = verdict.ResolvedOutput
			e.publish(ctx, &RunEvent{RunID: runID, Type: EventConflictResolved, Detail: verdict.Summary})
		}

		store.Apply(statuses, retries)
		e.saveCheckpoint(ctx, runID, p, statuses, retries, outputs, RunRunning, lastOutput)
	}
}

// execute runs one task through its worker type's executor with the
// per-call timeout. A timeout or executor error surfaces as an implicit
// reject through the review gate, never as a crash.
func (e *Engine) execute(ctx context.Context, task plan.Task, ec ExecContext) (*WorkerOutput, error) {
	ex, ok := e.executors[task.Worker]
	if !ok {
		return nil, fmt.Errorf("no executor registered for worker type %s", task.Worker)
	}

	ectx := ctx
	if e.execTimeout > 0 {
		var cancel context.CancelFunc
		ectx, cancel = context.WithTimeout(ctx, e.execTimeout)
		defer cancel()
	}

	out, err := ex.Execute(ectx, task, ec)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, fmt.Errorf("executor for %s returned no output", task.Worker)
	}
	if out.TaskID == "" {
		out.TaskID = task.ID
	}
	return out, nil
}

// finish assembles the terminal result and writes the final checkpoint.
func (e *Engine) finish(runID string, p *plan.Plan, store *StatusStore, outputs map[string]*WorkerOutput, cycles int, res *Result, lastOutput string) (*Result, error) {
	res.RunID = runID
	res.Cycles = cycles
	res.LastOutput = lastOutput
	res.OutputsByTask = make(map[string]string, len(outputs))
	for id, out := range outputs {
		res.OutputsByTask[id] = out.Text
	}

	statuses, retries := store.Snapshot()
	// Detached context: the final checkpoint must land even when the
	// run's own context was canceled.
	cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	e.saveCheckpoint(cctx, runID, p, statuses, retries, outputs, res.State, lastOutput)

	e.logger.Info("run finished",
		zap.String("run", runID),
		zap.String("state", string(res.State)),
		zap.Int("cycles", cycles))
	return res, nil
}

func (e *Engine) saveCheckpoint(ctx context.Context, runID string, p *plan.Plan, statuses map[string]TaskStatus, retries map[string]int, outputs map[string]*WorkerOutput, state RunState, lastOutput string) {
	if e.checkpoints == nil {
		return
	}
	cp := &Checkpoint{
		RunID:      runID,
		Tasks:      p.Tasks(),
		Statuses:   statuses,
		Retries:    retries,
		Outputs:    outputs,
		State:      state,
		LastOutput: lastOutput,
	}
	if err := e.checkpoints.SaveCheckpoint(ctx, cp); err != nil {
		e.logger.Warn("checkpoint save failed", zap.String("run", runID), zap.Error(err))
	}
}

func (e *Engine) publish(ctx context.Context, ev *RunEvent) {
	if e.events == nil {
		return
	}
	ev.Timestamp = time.Now()
	if err := e.events.PublishRunEvent(ctx, ev); err != nil {
		e.logger.Debug("event publish failed", zap.String("type", ev.Type), zap.Error(err))
	}
}

// orderedOutputs returns accumulated outputs in plan declaration order
// so the conflict judge sees a deterministic sequence.
func orderedOutputs(p *plan.Plan, outputs map[string]*WorkerOutput) []*WorkerOutput {
	var ordered []*WorkerOutput
	for _, task := range p.Tasks() {
		if out, ok := outputs[task.ID]; ok {
			ordered = append(ordered, out)
		}
	}
	return ordered
}
