// Package trigger implements cron-driven corpus re-indexing.
package trigger

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// reindexTimeout bounds one scheduled indexing run.
const reindexTimeout = 30 * time.Minute

// Reindexer re-ingests the corpus into the retrieval index.
type Reindexer interface {
	Reindex(ctx context.Context) error
}

// Scheduler manages cron-based corpus re-indexing.
type Scheduler struct {
	cron    *cron.Cron
	indexer Reindexer
}

// NewScheduler creates a scheduler backed by the given indexer.
// Cron expressions use the standard 5-field format: minute hour day-of-month
// month day-of-week (e.g. "0 3 * * *" for a nightly run at 03:00). Do not use
// WithSeconds() so docs and configs match.
func NewScheduler(indexer Reindexer) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		indexer: indexer,
	}
}

// Register adds a re-index entry for the given cron expression.
func (s *Scheduler) Register(spec string) error {
	_, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), reindexTimeout)
		defer cancel()

		log.Info().Str("cron", spec).Msg("reindex_trigger_fired")

		if err := s.indexer.Reindex(ctx); err != nil {
			log.Error().Err(err).Msg("reindex_trigger_failed")
		}
	})
	if err != nil {
		return fmt.Errorf("registering cron %q: %w", spec, err)
	}
	return nil
}

// Start begins executing registered cron jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler and waits for running jobs to complete.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Entries returns the number of registered cron entries (for testing).
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}
