// Package confirm waits for a submitted mutation's effects to become visible.
//
// Effects are not queryable immediately after acceptance; the poller retries
// with exponential backoff until the ledger answers or the retry budget runs
// out. Progress is surfaced on every attempt so callers can render status.
package confirm

import (
	"context"
	"fmt"
	"time"

	"github.com/LeJamon/goMarketd/internal/ledger"
	"github.com/rs/zerolog"
)

// Default retry budget: 5 attempts at a 1 second base delay give a ceiling of
// roughly 31 seconds of total wait before giving up.
const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = time.Second
)

// Progress describes one polling attempt. Emitted before the attempt is made.
type Progress struct {
	Handle      ledger.MutationHandle
	Attempt     int // 1-based
	MaxAttempts int
	Remaining   int
}

// ExhaustedError is returned when the retry budget is spent or the ledger
// answered with a non-transient error. LastErr is the last error seen.
type ExhaustedError struct {
	Attempts int
	LastErr  error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("confirmation exhausted after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e *ExhaustedError) Unwrap() error { return e.LastErr }

// Options tune one Await call.
type Options struct {
	MaxAttempts int
	BaseDelay   time.Duration

	// OnProgress, if set, is called once per attempt.
	OnProgress func(Progress)

	// Sleep is the wait primitive, injectable for tests. Defaults to a
	// context-aware timer sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (o *Options) fill() {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = DefaultBaseDelay
	}
	if o.Sleep == nil {
		o.Sleep = sleepContext
	}
}

// Poller awaits mutation effects from a gateway.
type Poller struct {
	fetcher EffectsFetcher
	logger  zerolog.Logger
}

// EffectsFetcher is the slice of the ledger gateway the poller needs.
type EffectsFetcher interface {
	FetchEffects(ctx context.Context, handle ledger.MutationHandle) (*ledger.MutationEffects, error)
}

// NewPoller creates a poller over the given fetcher.
func NewPoller(fetcher EffectsFetcher, logger zerolog.Logger) *Poller {
	return &Poller{
		fetcher: fetcher,
		logger:  logger.With().Str("component", "confirm").Logger(),
	}
}

// Await polls for the effects of handle until they are visible or the budget
// is exhausted. On attempt i (0-indexed) that finds effects not yet visible,
// it sleeps BaseDelay * 2^i before the next try. Any error other than
// ErrNotYetVisible stops polling immediately; ctx cancellation is honoured at
// every suspension point.
func (p *Poller) Await(ctx context.Context, handle ledger.MutationHandle, opts Options) (*ledger.MutationEffects, error) {
	opts.fill()

	var lastErr error
	for attempt := 0; attempt < opts.MaxAttempts; attempt++ {
		if opts.OnProgress != nil {
			opts.OnProgress(Progress{
				Handle:      handle,
				Attempt:     attempt + 1,
				MaxAttempts: opts.MaxAttempts,
				Remaining:   opts.MaxAttempts - attempt - 1,
			})
		}

		effects, err := p.fetcher.FetchEffects(ctx, handle)
		if err == nil {
			p.logger.Debug().
				Str("handle", string(handle)).
				Int("attempt", attempt+1).
				Msg("effects visible")
			return effects, nil
		}
		lastErr = err

		if !isAwaitable(err) {
			return nil, &ExhaustedError{Attempts: attempt + 1, LastErr: err}
		}

		// Not visible yet: an expected condition, not an error.
		p.logger.Debug().
			Str("handle", string(handle)).
			Int("attempt", attempt+1).
			Int("max_attempts", opts.MaxAttempts).
			Msg("effects not yet visible")

		delay := opts.BaseDelay << uint(attempt)
		if err := opts.Sleep(ctx, delay); err != nil {
			return nil, &ExhaustedError{Attempts: attempt + 1, LastErr: err}
		}
	}

	return nil, &ExhaustedError{Attempts: opts.MaxAttempts, LastErr: lastErr}
}

// isAwaitable reports whether polling should continue after err.
func isAwaitable(err error) bool {
	return ledger.IsTransient(err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
