package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/internal/controller"
)

func TestParseAPIKeys(t *testing.T) {
	m := parseAPIKeys("key1:U1, key2:U2 ,,malformed, :U3, key4:")
	assert.Equal(t, map[string]string{"key1": "U1", "key2": "U2"}, m)

	assert.Empty(t, parseAPIKeys(""))
}

func TestValidateTenant(t *testing.T) {
	known := []string{"U1", "U2"}
	require.NoError(t, validateTenant(known, "U1"))
	assert.Error(t, validateTenant(known, "U9"))
	assert.Error(t, validateTenant(known, ""))
}

func TestBuildProbes_TargetsOtherTenants(t *testing.T) {
	probes := buildProbes([]string{"U1", "U2", "U3"}, "U1")

	var crossTenant []string
	for _, p := range probes {
		if p.WantReason == controller.ReasonAccessDenied {
			crossTenant = append(crossTenant, p.Query)
		}
	}
	require.Len(t, crossTenant, 2)
	assert.Contains(t, crossTenant[0], "U2")
	assert.Contains(t, crossTenant[1], "U3")
	for _, q := range crossTenant {
		assert.NotContains(t, q, "U1 datasets")
	}
}

func TestFormatDecision_Refusal(t *testing.T) {
	d := &controller.Decision{
		Status:      controller.StatusRefuse,
		Reason:      controller.ReasonAccessDenied,
		Output:      "You do not have access to that information.",
		Intent:      "cross_tenant",
		MatchedRule: "other_tenant_data",
		LatencyMS:   3,
	}

	out := formatDecision(d)
	assert.Contains(t, out, "You do not have access to that information.")
	assert.Contains(t, out, "refuse AccessDenied")
	assert.Contains(t, out, "rule=other_tenant_data")
	assert.NotContains(t, out, "docs=")
}

func TestFormatDecision_Answer(t *testing.T) {
	d := &controller.Decision{
		Status:          controller.StatusAnswer,
		Output:          "goggles are required [1]",
		Intent:          "normal",
		RetrievedDocIDs: []string{"PUB_safety"},
		Redactions:      1,
		LatencyMS:       12,
	}

	out := formatDecision(d)
	assert.Contains(t, out, "goggles are required [1]")
	assert.Contains(t, out, "docs=PUB_safety")
	assert.Contains(t, out, "redactions=1")
}

func TestFormatDecisionJSON(t *testing.T) {
	d := &controller.Decision{Status: controller.StatusAnswer, Output: "hi"}

	out, err := formatDecisionJSON(d)
	require.NoError(t, err)
	assert.Contains(t, out, `"status": "answer"`)
}
