package capability

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nidhogg/overseer/internal/plan"
	"github.com/nidhogg/overseer/internal/provider"
	"go.uber.org/zap"
)

// ChatRouter is the minimal surface the capabilities need from the
// provider router.
type ChatRouter interface {
	Route(ctx context.Context, caller string, req *provider.ChatRequest) (*provider.ChatResponse, error)
}

const plannerSystemPrompt = `You are the main planner for a commerce assistant.

Create a dependency-aware execution plan for the user's request.

Think first:
1. What is the user's primary intent? (buy, inquire, complain, greet)
2. What information is needed? (stock, price, delivery, payment)
3. Which workers can provide it?
4. What is the correct order of operations?

Available workers:
- sales: product search, explanation, chat
- payment: delivery calculation, payment links
- admin: stock checks, approvals, reporting
- support: complaints and escalation

Reply with JSON only:
{"thinking":"...","plan":[{"id":"step1","worker":"sales","task":"...","dependencies":[],"reason":"..."}]}

Rules:
1. Simple queries are one step. Do not over-plan.
2. Calculate delivery before generating a payment link.
3. Dependencies reference step ids from this plan only.`

// LLMPlanner produces a task list by prompting an LLM for a JSON plan.
type LLMPlanner struct {
	router ChatRouter
	model  string
	logger *zap.Logger
}

// NewLLMPlanner creates a planner bound to the "planner" router caller.
func NewLLMPlanner(router ChatRouter, model string, logger *zap.Logger) *LLMPlanner {
	return &LLMPlanner{router: router, model: model, logger: logger}
}

// plannerStep mirrors the JSON shape the prompt demands.
type plannerStep struct {
	ID           string   `json:"id"`
	Worker       string   `json:"worker"`
	Task         string   `json:"task"`
	Dependencies []string `json:"dependencies"`
	Reason       string   `json:"reason"`
}

// Plan asks the LLM for an execution plan. A planner failure degrades to
// a single sales task so the conversation still gets a reply.
func (p *LLMPlanner) Plan(ctx context.Context, conversation string) ([]plan.Task, error) {
	req := &provider.ChatRequest{
		Model: p.model,
		Messages: []provider.Message{
			{Role: "system", Content: plannerSystemPrompt},
			{Role: "user", Content: conversation},
		},
		Temperature: 0.0,
		MaxTokens:   1024,
	}

	resp, err := p.router.Route(ctx, CallerPlanner, req)
	if err != nil {
		p.logger.Warn("planner LLM call failed, using fallback plan", zap.Error(err))
		return fallbackPlan(), nil
	}

	tasks, err := ParsePlannerResponse(resp.Content)
	if err != nil {
		p.logger.Warn("planner returned unparseable plan, using fallback",
			zap.Error(err), zap.String("raw", resp.Content))
		return fallbackPlan(), nil
	}
	p.logger.Info("planner produced plan", zap.Int("tasks", len(tasks)))
	return tasks, nil
}

// ParsePlannerResponse extracts tasks from a raw planner reply.
func ParsePlannerResponse(raw string) ([]plan.Task, error) {
	obj, ok := extractJSON(raw)
	if !ok {
		return nil, fmt.Errorf("no JSON object in planner response")
	}

	var parsed struct {
		Thinking string        `json:"thinking"`
		Plan     []plannerStep `json:"plan"`
	}
	if err := json.Unmarshal([]byte(obj), &parsed); err != nil {
		return nil, fmt.Errorf("decode planner response: %w", err)
	}
	if len(parsed.Plan) == 0 {
		return nil, fmt.Errorf("planner response has empty plan")
	}

	tasks := make([]plan.Task, 0, len(parsed.Plan))
	for _, step := range parsed.Plan {
		tasks = append(tasks, plan.Task{
			ID:           step.ID,
			Worker:       plan.WorkerType(step.Worker),
			Description:  step.Task,
			Dependencies: step.Dependencies,
			Rationale:    step.Reason,
		})
	}
	return tasks, nil
}

// fallbackPlan is the single-task degradation used when planning fails.
func fallbackPlan() []plan.Task {
	return []plan.Task{{
		ID:          "fallback",
		Worker:      plan.WorkerSales,
		Description: "Reply to the user",
		Rationale:   "planner fallback",
	}}
}
