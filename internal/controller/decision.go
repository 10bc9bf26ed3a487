package controller

import (
	"errors"

	"github.com/wardenhq/warden/internal/memory"
	"github.com/wardenhq/warden/internal/planner"
)

// Status is the terminal disposition of a query.
type Status string

const (
	StatusAnswer Status = "answer"
	StatusRefuse Status = "refuse"
)

// RefusalReason names one of the three fixed refusal categories.
type RefusalReason string

const (
	ReasonAccessDenied      RefusalReason = "AccessDenied"
	ReasonInjectionDetected RefusalReason = "InjectionDetected"
	ReasonLeakageRisk       RefusalReason = "LeakageRisk"
)

// ErrGeneration marks transient answer-generation failures (LLM timeout,
// malformed response, index unavailable). These are retryable by the caller
// and are never refusals.
var ErrGeneration = errors.New("generation failed")

// refusalMessages is the exact response text per reason. These strings are
// an observable contract; tooling and tests match them verbatim.
var refusalMessages = map[RefusalReason]string{
	ReasonAccessDenied:      "You do not have access to that information.",
	ReasonInjectionDetected: "Ignoring instructions that conflict with system policy.",
	ReasonLeakageRisk:       "Your request may expose private or PII data.",
}

// RefusalMessage returns the fixed response text for a refusal reason.
func RefusalMessage(reason RefusalReason) string {
	return refusalMessages[reason]
}

// Decision is the terminal artifact of one processed query.
type Decision struct {
	Status          Status         `json:"status"`
	Reason          RefusalReason  `json:"refusal_reason,omitempty"`
	Output          string         `json:"output"`
	Intent          planner.Intent `json:"intent"`
	MatchedRule     string         `json:"matched_rule,omitempty"`
	RetrievedDocIDs []string       `json:"retrieved_doc_ids"` // empty on refusal
	MemoryMode      memory.Mode    `json:"memory_mode"`
	DroppedHits     int            `json:"dropped_hits"` // hits removed by the access re-check
	Redactions      int            `json:"redactions"`
	Model           string         `json:"model,omitempty"`
	TokensPrompt    int            `json:"tokens_prompt"`
	TokensOutput    int            `json:"tokens_completion"`
	LatencyMS       int64          `json:"latency_ms"`
}

// Refused reports whether the decision is a refusal.
func (d *Decision) Refused() bool {
	return d.Status == StatusRefuse
}
