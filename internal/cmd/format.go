package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wardenhq/warden/internal/controller"
)

// formatDecision renders a decision for terminal output.
func formatDecision(d *controller.Decision) string {
	var b strings.Builder
	b.WriteString(d.Output)
	b.WriteString("\n")

	b.WriteString(fmt.Sprintf("\n[%s", d.Status))
	if d.Reason != "" {
		b.WriteString(fmt.Sprintf(" %s", d.Reason))
	}
	b.WriteString(fmt.Sprintf(" | intent=%s", d.Intent))
	if d.MatchedRule != "" {
		b.WriteString(fmt.Sprintf(" rule=%s", d.MatchedRule))
	}
	if len(d.RetrievedDocIDs) > 0 {
		b.WriteString(fmt.Sprintf(" docs=%s", strings.Join(d.RetrievedDocIDs, ",")))
	}
	if d.Redactions > 0 {
		b.WriteString(fmt.Sprintf(" redactions=%d", d.Redactions))
	}
	b.WriteString(fmt.Sprintf(" %dms]", d.LatencyMS))
	return b.String()
}

// formatDecisionJSON renders a decision as indented JSON.
func formatDecisionJSON(d *controller.Decision) (string, error) {
	out, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding decision: %w", err)
	}
	return string(out), nil
}
