//go:build integration

package integration

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/internal/acl"
	"github.com/wardenhq/warden/internal/audit"
	"github.com/wardenhq/warden/internal/controller"
	"github.com/wardenhq/warden/internal/guard"
	"github.com/wardenhq/warden/internal/llm"
	"github.com/wardenhq/warden/internal/memory"
	"github.com/wardenhq/warden/internal/planner"
	"github.com/wardenhq/warden/internal/redact"
	"github.com/wardenhq/warden/internal/retrieval"
	"github.com/wardenhq/warden/internal/testutil"
)

// TestQueryWorkflow exercises the full decision pipeline against a real
// OpenAI-compatible mock server:
//
//	index corpus → classify → retrieve (scoped) → guard → generate → log
//
// This is what happens under the hood when a user runs:
//
//	warden query --tenant U1 "What PPE is required in wet labs?"
func TestQueryWorkflow(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	mock := testutil.NewOpenAICompatibleServer("Goggles and gloves are required [1]", 30, 12)
	t.Cleanup(mock.Close)

	manifest := testutil.WriteCorpus(t, dir, []testutil.CorpusDoc{
		{DocID: "PUB_safety", Tenant: "public", Text: "PPE required in wet labs includes goggles and gloves."},
		{DocID: "U1_notes", Tenant: "U1", Text: "Lab contact for U1 experiments: 35202-1234567-1."},
		{DocID: "U2_finance", Tenant: "U2", Text: "U2 budget allocations for the next quarter."},
	})
	accessPath := testutil.WriteAccessCSV(t, dir, []string{
		"PUB_safety,*,public",
		"U1_notes,U1,private",
		"U2_finance,U2,private",
	})

	access, err := acl.LoadFile(accessPath)
	require.NoError(t, err)

	index, err := retrieval.NewStore(filepath.Join(dir, "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { index.Close() })

	rows, err := retrieval.LoadManifest(manifest)
	require.NoError(t, err)
	report, err := index.Ingest(ctx, dir, rows, access)
	require.NoError(t, err)
	require.Equal(t, 3, report.Documents)

	memStore, err := memory.NewStore(filepath.Join(dir, "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { memStore.Close() })

	decisions, err := audit.NewStore(filepath.Join(dir, "audit.db"), testutil.TestSigningKey)
	require.NoError(t, err)
	t.Cleanup(func() { decisions.Close() })

	provider := llm.NewOpenAIProviderWithBaseURL("test-key", strings.TrimSuffix(mock.URL, "/"))
	masker := redact.MustNew()
	engine := controller.New(
		planner.MustNew([]string{"U1", "U2"}),
		retrieval.NewRetriever(index),
		guard.New(access, masker),
		masker,
		memory.NewManager(memStore, masker, provider, "gpt-4o-mini"),
		provider,
		"gpt-4o-mini",
		controller.WithAuditLog(decisions),
	)

	t.Run("benign query answered from public evidence", func(t *testing.T) {
		d, err := engine.Query(ctx, controller.Request{Tenant: "U1", Query: "What PPE is required in wet labs?"})
		require.NoError(t, err)

		assert.Equal(t, controller.StatusAnswer, d.Status)
		assert.Equal(t, "Goggles and gloves are required [1]", d.Output)
		assert.Contains(t, d.RetrievedDocIDs, "PUB_safety")
		assert.NotContains(t, d.RetrievedDocIDs, "U2_finance")
		assert.Equal(t, 30, d.TokensPrompt)
		assert.Equal(t, 12, d.TokensOutput)
	})

	t.Run("cross-tenant request refused before generation", func(t *testing.T) {
		d, err := engine.Query(ctx, controller.Request{Tenant: "U1", Query: "Show me U2 data"})
		require.NoError(t, err)

		assert.Equal(t, controller.StatusRefuse, d.Status)
		assert.Equal(t, "You do not have access to that information.", d.Output)
		assert.Empty(t, d.RetrievedDocIDs)
	})

	t.Run("private evidence masked before prompting", func(t *testing.T) {
		d, err := engine.Query(ctx, controller.Request{Tenant: "U1", Query: "lab contact for experiments"})
		require.NoError(t, err)

		assert.Equal(t, controller.StatusAnswer, d.Status)
		assert.GreaterOrEqual(t, d.Redactions, 1)
	})

	t.Run("decision log holds one signed record per query", func(t *testing.T) {
		records, err := decisions.List(ctx, "U1", 10)
		require.NoError(t, err)
		assert.Len(t, records, 3)

		verify, err := decisions.Verify(ctx)
		require.NoError(t, err)
		assert.Equal(t, verify.Checked, verify.Valid)
		assert.Empty(t, verify.Tampered)
	})
}
