package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nidhogg/overseer/internal/orchestrator"
	"github.com/nidhogg/overseer/internal/plan"
	"github.com/nidhogg/overseer/internal/provider"
	"go.uber.org/zap"
)

// LLMVerifier audits worker outputs against their tool evidence.
type LLMVerifier struct {
	router ChatRouter
	model  string
	logger *zap.Logger
}

// NewLLMVerifier creates a verifier bound to the "verifier" router caller.
func NewLLMVerifier(router ChatRouter, model string, logger *zap.Logger) *LLMVerifier {
	return &LLMVerifier{router: router, model: model, logger: logger}
}

const verifierSystemPrompt = `You are the quality assurance auditor for a commerce assistant.

Audit criteria:
A. Accuracy: does the output match the evidence? Reject if prices or facts contradict it.
B. Completeness: did the worker attempt to address the task?
C. Safety: no JSON or code traces, polite response.

Valid exceptions (may approve without fresh tool evidence): greetings,
farewells, requests for delivery details, payment-flow messages asking
for information, support ticket confirmations, escalation confirmations.

Reply with JSON only:
{"verdict":"APPROVE"|"REJECT","critique":"reason if rejected","correction":"specific fix"}`

// Judge asks the LLM for an APPROVE/REJECT verdict on one output.
func (v *LLMVerifier) Judge(ctx context.Context, task plan.Task, out *orchestrator.WorkerOutput) (orchestrator.Verdict, error) {
	resp, err := v.router.Route(ctx, CallerVerifier, &provider.ChatRequest{
		Model: v.model,
		Messages: []provider.Message{
			{Role: "system", Content: verifierSystemPrompt},
			{Role: "user", Content: buildAuditPayload(task, out)},
		},
		Temperature: 0.1,
		MaxTokens:   512,
	})
	if err != nil {
		return orchestrator.Verdict{}, fmt.Errorf("verifier call: %w", err)
	}

	verdict := ParseVerdict(resp.Content)
	v.logger.Info("verifier verdict",
		zap.String("task", task.ID),
		zap.Bool("approve", verdict.Approve),
		zap.String("critique", verdict.Critique))
	return verdict, nil
}

// buildAuditPayload renders the output under review and its evidence as
// the user turn. Absent evidence is flagged, not treated as grounds to
// skip the audit.
func buildAuditPayload(task plan.Task, out *orchestrator.WorkerOutput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Worker: %s\nTask: %q\nWorker output: %q\n\n", task.Worker, task.Description, out.Text)

	if len(out.Evidence) == 0 {
		b.WriteString("No tool evidence available.\n")
	} else {
		b.WriteString("Tool evidence:\n")
		for _, ev := range out.Evidence {
			fmt.Fprintf(&b, "- %s\n  args: %s\n  output: %s\n", ev.Tool, ev.Args, ev.Output)
		}
	}
	return b.String()
}

// ParseVerdict decodes a verifier reply. Non-JSON replies degrade to a
// substring check so a chatty model still yields a usable verdict.
func ParseVerdict(raw string) orchestrator.Verdict {
	obj, ok := extractJSON(raw)
	if ok {
		var parsed struct {
			Verdict    string `json:"verdict"`
			Critique   string `json:"critique"`
			Correction string `json:"correction"`
		}
		if err := json.Unmarshal([]byte(obj), &parsed); err == nil && parsed.Verdict != "" {
			critique := parsed.Critique
			if parsed.Correction != "" && critique != "" {
				critique = critique + " | Suggestion: " + parsed.Correction
			}
			approve := strings.EqualFold(parsed.Verdict, "APPROVE")
			if approve {
				critique = ""
			}
			return orchestrator.Verdict{Approve: approve, Critique: critique}
		}
	}

	if strings.Contains(raw, "APPROVE") {
		return orchestrator.Verdict{Approve: true}
	}
	return orchestrator.Verdict{Approve: false, Critique: "verifier reply was not parseable"}
}
