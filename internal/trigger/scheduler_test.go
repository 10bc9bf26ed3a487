package trigger

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReindexer struct {
	calls atomic.Int64
}

func (f *fakeReindexer) Reindex(ctx context.Context) error {
	f.calls.Add(1)
	return nil
}

func TestRegister_ValidCron(t *testing.T) {
	s := NewScheduler(&fakeReindexer{})

	require.NoError(t, s.Register("0 3 * * *"))
	require.NoError(t, s.Register("*/15 * * * *"))
	assert.Equal(t, 2, s.Entries())
}

func TestRegister_InvalidCron(t *testing.T) {
	s := NewScheduler(&fakeReindexer{})

	err := s.Register("not a cron expression")
	require.Error(t, err)
	assert.Equal(t, 0, s.Entries())
}

func TestStartStop(t *testing.T) {
	s := NewScheduler(&fakeReindexer{})
	require.NoError(t, s.Register("0 3 * * *"))

	s.Start()
	s.Stop()
}
