package capability

import (
	"context"
	"fmt"

	"github.com/nidhogg/overseer/internal/orchestrator"
	"github.com/nidhogg/overseer/internal/plan"
	"github.com/nidhogg/overseer/internal/provider"
	"go.uber.org/zap"
)

// LLMWorker is a plain prompt-driven executor for one worker type.
// Deployments with tool access wrap or replace this; the engine only
// sees the Executor interface.
type LLMWorker struct {
	worker plan.WorkerType
	role   string
	router ChatRouter
	model  string
	logger *zap.Logger
}

// NewLLMWorker creates an executor for a worker type. The role text
// describes the worker's responsibility in its system prompt.
func NewLLMWorker(worker plan.WorkerType, role string, router ChatRouter, model string, logger *zap.Logger) *LLMWorker {
	return &LLMWorker{worker: worker, role: role, router: router, model: model, logger: logger}
}

// Execute prompts the LLM with the task description. On retry attempts
// the previous reviewer critique is included so the worker can correct
// what was rejected.
func (w *LLMWorker) Execute(ctx context.Context, task plan.Task, ec orchestrator.ExecContext) (*orchestrator.WorkerOutput, error) {
	system := fmt.Sprintf("You are the %s worker for a commerce assistant. %s", w.worker, w.role)
	user := task.Description
	if ec.Critique != "" {
		user = fmt.Sprintf("%s\n\nYour previous attempt was rejected: %s\nCorrect it this time.", task.Description, ec.Critique)
	}

	resp, err := w.router.Route(ctx, "worker:"+string(w.worker), &provider.ChatRequest{
		Model: w.model,
		Messages: []provider.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		MaxTokens: 1024,
	})
	if err != nil {
		return nil, fmt.Errorf("worker %s: %w", w.worker, err)
	}

	w.logger.Debug("worker produced output",
		zap.String("worker", string(w.worker)),
		zap.String("task", task.ID),
		zap.Int("attempt", ec.Attempt))
	return &orchestrator.WorkerOutput{TaskID: task.ID, Text: resp.Content}, nil
}
