package memory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendAndRecentTurns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.AppendTurn(ctx, "U1", "user", "question"))
		require.NoError(t, s.AppendTurn(ctx, "U1", "assistant", "answer"))
	}

	turns, err := s.RecentTurns(ctx, "U1", 4)
	require.NoError(t, err)
	require.Len(t, turns, 4)

	// Chronological order, newest window.
	assert.Equal(t, "user", turns[0].Role)
	assert.Equal(t, "assistant", turns[3].Role)
	assert.Less(t, turns[0].ID, turns[3].ID)
}

func TestTurns_TenantIsolation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendTurn(ctx, "U1", "user", "u1 question"))
	require.NoError(t, s.AppendTurn(ctx, "U2", "user", "u2 question"))

	turns, err := s.RecentTurns(ctx, "U1", 10)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "u1 question", turns[0].Content)
}

func TestSummary_Roundtrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	got, err := s.Summary(ctx, "U1")
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, s.SetSummary(ctx, "U1", "talked about datasets"))
	require.NoError(t, s.SetSummary(ctx, "U1", "talked about datasets and policies"))

	got, err = s.Summary(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, "talked about datasets and policies", got)
}

func TestMode_DefaultsToBuffer(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mode, err := s.ModeFor(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, ModeBuffer, mode)

	require.NoError(t, s.SetMode(ctx, "U1", ModeSummary))
	mode, err = s.ModeFor(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, ModeSummary, mode)
}

func TestClear_RemovesTurnsAndSummaryKeepsMode(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetMode(ctx, "U1", ModeSummary))
	require.NoError(t, s.AppendTurn(ctx, "U1", "user", "hello"))
	require.NoError(t, s.SetSummary(ctx, "U1", "a summary"))
	require.NoError(t, s.AppendTurn(ctx, "U2", "user", "untouched"))

	require.NoError(t, s.Clear(ctx, "U1"))

	turns, err := s.RecentTurns(ctx, "U1", 10)
	require.NoError(t, err)
	assert.Empty(t, turns)

	summary, err := s.Summary(ctx, "U1")
	require.NoError(t, err)
	assert.Empty(t, summary)

	mode, err := s.ModeFor(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, ModeSummary, mode)

	turns, err = s.RecentTurns(ctx, "U2", 10)
	require.NoError(t, err)
	assert.Len(t, turns, 1)
}

func TestParseMode(t *testing.T) {
	for _, valid := range []string{"none", "buffer", "summary"} {
		mode, err := ParseMode(valid)
		require.NoError(t, err)
		assert.Equal(t, Mode(valid), mode)
	}
	_, err := ParseMode("episodic")
	assert.ErrorIs(t, err, ErrUnknownMode)
}
