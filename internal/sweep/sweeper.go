// Package sweep runs the background reconciliation loops that repair index
// records left in a non-final state: degraded records whose handle may now be
// resolvable exactly, and failed-writeback records whose ledger mutation never
// made it into the index.
package sweep

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/LeJamon/goMarketd/internal/index"
	"github.com/LeJamon/goMarketd/internal/saga"
)

// Replayer re-runs resolution and write-back for a record from its stored
// mutation digest. Satisfied by the saga coordinator.
type Replayer interface {
	Replay(ctx context.Context, recordID string) (*saga.Outcome, error)
}

// Config tunes the sweep intervals and batch sizes.
type Config struct {
	// DegradedInterval is how often degraded records are re-resolved.
	DegradedInterval time.Duration

	// WritebackInterval is how often failed-writeback records are repaired.
	// These are the urgent ones: a ledger mutation exists with no index
	// record.
	WritebackInterval time.Duration

	// BatchSize caps the records processed per pass.
	BatchSize int

	// PendingGrace is how long a pending record may sit before the sweep
	// treats it as abandoned by a crashed saga and tries to replay it.
	PendingGrace time.Duration
}

func (c *Config) fill() {
	if c.DegradedInterval <= 0 {
		c.DegradedInterval = 5 * time.Minute
	}
	if c.WritebackInterval <= 0 {
		c.WritebackInterval = 30 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.PendingGrace <= 0 {
		c.PendingGrace = 10 * time.Minute
	}
}

// Sweeper owns the reconciliation loops.
type Sweeper struct {
	idx      index.Index
	replayer Replayer
	cfg      Config
	logger   zerolog.Logger
}

// New creates a sweeper over the given index and replayer.
func New(idx index.Index, replayer Replayer, cfg Config, logger zerolog.Logger) *Sweeper {
	cfg.fill()
	return &Sweeper{
		idx:      idx,
		replayer: replayer,
		cfg:      cfg,
		logger:   logger.With().Str("component", "sweep").Logger(),
	}
}

// Run starts the sweep loops and blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.loop(ctx, s.cfg.WritebackInterval, s.SweepWritebackFailures)
	})
	g.Go(func() error {
		return s.loop(ctx, s.cfg.DegradedInterval, s.SweepDegraded)
	})
	g.Go(func() error {
		return s.loop(ctx, s.cfg.DegradedInterval, s.SweepStalePending)
	})
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Sweeper) loop(ctx context.Context, interval time.Duration, pass func(ctx context.Context) (int, error)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			repaired, err := pass(ctx)
			if err != nil {
				s.logger.Warn().Err(err).Msg("sweep pass failed")
				continue
			}
			if repaired > 0 {
				s.logger.Info().Int("repaired", repaired).Msg("sweep pass complete")
			}
		}
	}
}

// SweepWritebackFailures replays failed-writeback records. Each has a ledger
// mutation that succeeded but was never written to the index; replay reuses
// the stored digest and never resubmits.
func (s *Sweeper) SweepWritebackFailures(ctx context.Context) (int, error) {
	return s.sweepStatus(ctx, index.StatusFailedWriteback, nil)
}

// SweepDegraded re-resolves degraded records. A record degraded by poll
// exhaustion may have visible effects by now; one degraded by a fallback
// resolution may now resolve exactly. Replays that land degraded again simply
// wait for the next pass.
func (s *Sweeper) SweepDegraded(ctx context.Context) (int, error) {
	return s.sweepStatus(ctx, index.StatusDegraded, func(rec *index.Record) bool {
		// Without a digest there is nothing to re-poll.
		return rec.Digest != ""
	})
}

// SweepStalePending replays pending records older than the grace period whose
// digest was stored before the owning saga died. Fresh pending records belong
// to live sagas and are left alone.
func (s *Sweeper) SweepStalePending(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-s.cfg.PendingGrace)
	return s.sweepStatus(ctx, index.StatusPending, func(rec *index.Record) bool {
		return rec.Digest != "" && rec.CreatedAt.Before(cutoff)
	})
}

func (s *Sweeper) sweepStatus(ctx context.Context, status index.Status, eligible func(*index.Record) bool) (int, error) {
	records, err := s.idx.ListByStatus(ctx, status, s.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	repaired := 0
	for _, rec := range records {
		if ctx.Err() != nil {
			return repaired, ctx.Err()
		}
		if eligible != nil && !eligible(rec) {
			continue
		}

		out, err := s.replayer.Replay(ctx, rec.ID)
		switch {
		case errors.Is(err, saga.ErrEntityBusy):
			// A live saga holds the entity; skip this round.
			continue
		case errors.Is(err, saga.ErrNotReplayable):
			// Raced with another repairer that already finished the record.
			continue
		case err != nil:
			s.logger.Warn().Err(err).Str("record", rec.ID).Msg("replay failed")
			continue
		}

		if out.State == saga.StateConfirmed || (out.State == saga.StateDegraded && rec.Status == index.StatusFailedWriteback) {
			repaired++
		}
		s.logger.Info().
			Str("record", rec.ID).
			Str("entity", rec.EntityID).
			Str("from", string(rec.Status)).
			Str("to", string(out.State)).
			Msg("record replayed")
	}
	return repaired, nil
}
