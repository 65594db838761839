package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nidhogg/overseer/internal/orchestrator"
	"github.com/nidhogg/overseer/internal/provider"
	"go.uber.org/zap"
)

// LLMConflictJudge detects semantic contradictions across accumulated
// worker outputs and produces a single merged replacement.
type LLMConflictJudge struct {
	router ChatRouter
	model  string
	logger *zap.Logger
}

// NewLLMConflictJudge creates a judge bound to the "conflict" router caller.
func NewLLMConflictJudge(router ChatRouter, model string, logger *zap.Logger) *LLMConflictJudge {
	return &LLMConflictJudge{router: router, model: model, logger: logger}
}

const conflictSystemPrompt = `You are the conflict resolution arbiter for a commerce assistant.

Detect semantic contradictions:
1. Price mismatch: different prices quoted for the same item
2. Stock mismatch: in-stock vs out-of-stock for the same item
3. Policy mismatch: contradictory rules stated

Authority hierarchy when outputs disagree:
- prices and delivery: trust the payment worker
- stock and approvals: trust the admin worker
- product information: trust the sales worker

Reply with JSON only:
{"has_conflict":boolean,"conflict_summary":"...","resolved_output":"merged consistent response, or null"}`

// Resolve checks the outputs for price, stock and policy contradictions.
func (j *LLMConflictJudge) Resolve(ctx context.Context, outputs []*orchestrator.WorkerOutput) (orchestrator.ConflictVerdict, error) {
	var b strings.Builder
	b.WriteString("Worker outputs produced for this conversation:\n")
	for _, out := range outputs {
		fmt.Fprintf(&b, "[task %s]: %s\n\n", out.TaskID, out.Text)
	}

	resp, err := j.router.Route(ctx, CallerConflict, &provider.ChatRequest{
		Model: j.model,
		Messages: []provider.Message{
			{Role: "system", Content: conflictSystemPrompt},
			{Role: "user", Content: b.String()},
		},
		Temperature: 0.1,
		MaxTokens:   1024,
	})
	if err != nil {
		return orchestrator.ConflictVerdict{}, fmt.Errorf("conflict judge call: %w", err)
	}

	verdict, err := ParseConflictVerdict(resp.Content)
	if err != nil {
		return orchestrator.ConflictVerdict{}, err
	}
	if verdict.HasConflict {
		j.logger.Warn("conflict detected", zap.String("summary", verdict.Summary))
	}
	return verdict, nil
}

// ParseConflictVerdict decodes a conflict judge reply.
func ParseConflictVerdict(raw string) (orchestrator.ConflictVerdict, error) {
	obj, ok := extractJSON(raw)
	if !ok {
		return orchestrator.ConflictVerdict{}, fmt.Errorf("no JSON object in conflict judge response")
	}

	var parsed struct {
		HasConflict     bool   `json:"has_conflict"`
		ConflictSummary string `json:"conflict_summary"`
		ResolvedOutput  string `json:"resolved_output"`
	}
	if err := json.Unmarshal([]byte(obj), &parsed); err != nil {
		return orchestrator.ConflictVerdict{}, fmt.Errorf("decode conflict verdict: %w", err)
	}
	if parsed.HasConflict && parsed.ResolvedOutput == "" {
		// A conflict without a replacement is unusable; treat as none.
		return orchestrator.ConflictVerdict{}, nil
	}
	return orchestrator.ConflictVerdict{
		HasConflict:    parsed.HasConflict,
		Summary:        parsed.ConflictSummary,
		ResolvedOutput: parsed.ResolvedOutput,
	}, nil
}
