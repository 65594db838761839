package orchestrator

import (
	"context"

	"github.com/nidhogg/overseer/internal/plan"
)

// TaskStatus tracks a task through the dispatch/review lifecycle.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskReviewing  TaskStatus = "reviewing"
	TaskApproved   TaskStatus = "approved"
	TaskFailed     TaskStatus = "failed"
)

// Terminal reports whether a status is final for a task.
func (s TaskStatus) Terminal() bool {
	return s == TaskApproved || s == TaskFailed
}

// RunState is the state of a whole orchestration run.
type RunState string

const (
	RunRunning    RunState = "running"
	RunCompleted  RunState = "completed"
	RunFailed     RunState = "failed"
	RunDeadlocked RunState = "deadlocked"
)

// ToolEvidence records one tool invocation made by a worker while
// producing its output. Reviewers audit outputs against this.
type ToolEvidence struct {
	Tool   string `json:"tool"`
	Args   string `json:"args,omitempty"`
	Output string `json:"output,omitempty"`
}

// WorkerOutput is the result of one worker execution attempt.
type WorkerOutput struct {
	TaskID   string         `json:"task_id"`
	Text     string         `json:"text"`
	Evidence []ToolEvidence `json:"evidence,omitempty"`
}

// Verdict is a verifier's judgment of one worker output.
type Verdict struct {
	Approve  bool   `json:"approve"`
	Critique string `json:"critique,omitempty"`
}

// ConflictVerdict reports whether accumulated worker outputs contradict
// each other, and carries the merged replacement output when they do.
type ConflictVerdict struct {
	HasConflict    bool   `json:"has_conflict"`
	Summary        string `json:"summary,omitempty"`
	ResolvedOutput string `json:"resolved_output,omitempty"`
}

// ExecContext carries per-attempt context into a worker execution.
// Critique is set on retry attempts so the worker can see what the
// reviewer rejected last time.
type ExecContext struct {
	RunID        string
	Conversation string
	Critique     string
	Attempt      int
}

// Planner produces a task list from conversation context.
type Planner interface {
	Plan(ctx context.Context, conversation string) ([]plan.Task, error)
}

// Executor runs one task for a single worker type.
type Executor interface {
	Execute(ctx context.Context, task plan.Task, ec ExecContext) (*WorkerOutput, error)
}

// Verifier judges one worker output. It is always called, even when the
// output carries no tool evidence.
type Verifier interface {
	Judge(ctx context.Context, task plan.Task, out *WorkerOutput) (Verdict, error)
}

// ConflictJudge detects semantic contradictions across worker outputs.
type ConflictJudge interface {
	Resolve(ctx context.Context, outputs []*WorkerOutput) (ConflictVerdict, error)
}

// Result is the terminal outcome of a run.
type Result struct {
	RunID         string            `json:"run_id"`
	State         RunState          `json:"state"`
	OutputsByTask map[string]string `json:"outputs_by_task"`
	LastOutput    string            `json:"last_output,omitempty"`
	FailedTask    string            `json:"failed_task,omitempty"`
	Critique      string            `json:"critique,omitempty"`
	StuckTasks    []string          `json:"stuck_tasks,omitempty"`
	Cycles        int               `json:"cycles"`
}
