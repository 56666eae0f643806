package confirm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/LeJamon/goMarketd/internal/ledger"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubFetcher returns ErrNotYetVisible for the first notVisible calls, then
// the configured result.
type stubFetcher struct {
	notVisible int
	calls      int
	effects    *ledger.MutationEffects
	err        error
}

func (s *stubFetcher) FetchEffects(ctx context.Context, handle ledger.MutationHandle) (*ledger.MutationEffects, error) {
	s.calls++
	if s.calls <= s.notVisible {
		return nil, ledger.ErrNotYetVisible
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.effects, nil
}

// recordingSleep collects requested delays without actually sleeping.
func recordingSleep(delays *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
}

func testPoller(f EffectsFetcher) *Poller {
	return NewPoller(f, zerolog.Nop())
}

func TestAwaitSucceedsAfterTransientWindow(t *testing.T) {
	const k = 3
	fetcher := &stubFetcher{
		notVisible: k,
		effects:    &ledger.MutationEffects{Handle: "H1"},
	}

	var progress []Progress
	var delays []time.Duration
	effects, err := testPoller(fetcher).Await(context.Background(), "H1", Options{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		OnProgress:  func(p Progress) { progress = append(progress, p) },
		Sleep:       recordingSleep(&delays),
	})

	require.NoError(t, err)
	require.Equal(t, ledger.MutationHandle("H1"), effects.Handle)

	// k failed polls plus the successful one.
	require.Equal(t, k+1, fetcher.calls)
	require.Len(t, progress, k+1)
	for i, p := range progress {
		assert.Equal(t, i+1, p.Attempt)
		assert.Equal(t, 5, p.MaxAttempts)
		assert.Equal(t, 5-i-1, p.Remaining)
	}

	// Backoff doubles per failed attempt.
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, delays)
}

func TestAwaitExhaustsAfterMaxAttempts(t *testing.T) {
	fetcher := &stubFetcher{notVisible: 100}

	var delays []time.Duration
	_, err := testPoller(fetcher).Await(context.Background(), "H2", Options{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		Sleep:       recordingSleep(&delays),
	})

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 5, exhausted.Attempts)
	assert.ErrorIs(t, exhausted.LastErr, ledger.ErrNotYetVisible)

	require.Equal(t, 5, fetcher.calls)

	var total time.Duration
	for _, d := range delays {
		total += d
	}
	// 1 + 2 + 4 + 8 + 16 seconds.
	assert.Equal(t, 31*time.Second, total)
}

func TestAwaitStopsOnNonTransientError(t *testing.T) {
	fetcher := &stubFetcher{err: ledger.ErrNotFound}

	var delays []time.Duration
	_, err := testPoller(fetcher).Await(context.Background(), "H3", Options{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		Sleep:       recordingSleep(&delays),
	})

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 1, exhausted.Attempts)
	assert.ErrorIs(t, exhausted.LastErr, ledger.ErrNotFound)
	assert.Equal(t, 1, fetcher.calls)
	assert.Empty(t, delays)
}

func TestAwaitRetriesNetworkErrors(t *testing.T) {
	calls := 0
	fetcher := fetcherFunc(func(ctx context.Context, h ledger.MutationHandle) (*ledger.MutationEffects, error) {
		calls++
		if calls == 1 {
			return nil, ledger.ErrNetwork
		}
		return &ledger.MutationEffects{Handle: h}, nil
	})

	var delays []time.Duration
	effects, err := testPoller(fetcher).Await(context.Background(), "H4", Options{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Sleep:       recordingSleep(&delays),
	})

	require.NoError(t, err)
	assert.Equal(t, ledger.MutationHandle("H4"), effects.Handle)
	assert.Equal(t, 2, calls)
}

func TestAwaitHonoursContextCancellation(t *testing.T) {
	fetcher := &stubFetcher{notVisible: 100}

	ctx, cancel := context.WithCancel(context.Background())
	_, err := testPoller(fetcher).Await(ctx, "H5", Options{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		Sleep: func(ctx context.Context, d time.Duration) error {
			cancel()
			return ctx.Err()
		},
	})

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.True(t, errors.Is(exhausted.LastErr, context.Canceled))
	assert.Equal(t, 1, fetcher.calls)
}

func TestAwaitDefaultsApplied(t *testing.T) {
	fetcher := &stubFetcher{effects: &ledger.MutationEffects{Handle: "H6"}}

	var progress []Progress
	_, err := testPoller(fetcher).Await(context.Background(), "H6", Options{
		OnProgress: func(p Progress) { progress = append(progress, p) },
	})

	require.NoError(t, err)
	require.Len(t, progress, 1)
	assert.Equal(t, DefaultMaxAttempts, progress[0].MaxAttempts)
}

type fetcherFunc func(context.Context, ledger.MutationHandle) (*ledger.MutationEffects, error)

func (f fetcherFunc) FetchEffects(ctx context.Context, h ledger.MutationHandle) (*ledger.MutationEffects, error) {
	return f(ctx, h)
}
