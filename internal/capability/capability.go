// Package capability provides LLM-backed implementations of the
// orchestrator's planner, verifier and conflict judge interfaces,
// routed through the provider router.
package capability

import "strings"

// Router caller names used for provider bindings.
const (
	CallerPlanner  = "planner"
	CallerVerifier = "verifier"
	CallerConflict = "conflict"
)

// extractJSON returns the outermost JSON object embedded in an LLM
// response, tolerating prose before or after it.
func extractJSON(s string) (string, bool) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}
