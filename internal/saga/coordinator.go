package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/LeJamon/goMarketd/internal/confirm"
	"github.com/LeJamon/goMarketd/internal/index"
	"github.com/LeJamon/goMarketd/internal/journal"
	"github.com/LeJamon/goMarketd/internal/ledger"
	"github.com/LeJamon/goMarketd/internal/resolve"
)

// Config tunes the coordinator.
type Config struct {
	// Namespace is the on-chain package namespace used to build resolution
	// hints (e.g. "marketplace").
	Namespace string

	// PollMaxAttempts / PollBaseDelay bound the confirmation wait.
	PollMaxAttempts int
	PollBaseDelay   time.Duration

	// WritebackMaxAttempts / WritebackDelay bound retries of the index
	// write-back. Only the write-back is retried; the ledger mutation is
	// never resubmitted.
	WritebackMaxAttempts int
	WritebackDelay       time.Duration
}

func (c *Config) fill() {
	if c.PollMaxAttempts <= 0 {
		c.PollMaxAttempts = confirm.DefaultMaxAttempts
	}
	if c.PollBaseDelay <= 0 {
		c.PollBaseDelay = confirm.DefaultBaseDelay
	}
	if c.WritebackMaxAttempts <= 0 {
		c.WritebackMaxAttempts = 3
	}
	if c.WritebackDelay <= 0 {
		c.WritebackDelay = 2 * time.Second
	}
}

// Coordinator runs sagas. Each saga is a strictly sequential flow: submit,
// await effects, resolve, write back. Sagas for different entities run fully
// in parallel; a second saga for the same entity is refused while one is in
// flight.
type Coordinator struct {
	gateway  ledger.Gateway
	idx      index.Index
	jnl      journal.Journal
	poller   *confirm.Poller
	locks    *entityLocks
	cfg      Config
	notifier Notifier
	logger   zerolog.Logger

	// injectable for tests
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
	newID func() string
}

// New creates a coordinator. notifier may be nil.
func New(gateway ledger.Gateway, idx index.Index, jnl journal.Journal, cfg Config, notifier Notifier, logger zerolog.Logger) *Coordinator {
	cfg.fill()
	return &Coordinator{
		gateway:  gateway,
		idx:      idx,
		jnl:      jnl,
		poller:   confirm.NewPoller(gateway, logger),
		locks:    newEntityLocks(),
		cfg:      cfg,
		notifier: notifier,
		logger:   logger.With().Str("component", "saga").Logger(),
		sleep:    sleepContext,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    func() string { return uuid.NewString() },
	}
}

// run carries the mutable state of one saga instance.
type run struct {
	id       string
	recordID string
	req      *ledger.MutationRequest
	seq      uint64
	digest   ledger.MutationHandle
}

// Start runs a saga to completion.
//
// An error is returned only when nothing happened on the ledger: validation
// failures, a busy entity, a provisional-record failure, or a submit
// rejection. Those are safe for the caller to retry wholesale. Once submit
// has succeeded the saga always runs to a terminal state and Start returns a
// nil error with the Outcome carrying CONFIRMED, DEGRADED or
// FAILED_WRITEBACK; the ledger mutation is real and must not be reported as
// a plain failure.
func (c *Coordinator) Start(ctx context.Context, req *ledger.MutationRequest) (*Outcome, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	if !c.locks.TryAcquire(req.EntityID) {
		return nil, fmt.Errorf("%w: %s", ErrEntityBusy, req.EntityID)
	}
	defer c.locks.Release(req.EntityID)

	r := &run{
		id:       c.newID(),
		recordID: c.newID(),
		req:      req,
	}

	logger := c.logger.With().
		Str("saga", r.id).
		Str("entity", req.EntityID).
		Str("kind", string(req.Kind)).
		Logger()

	// INIT: create the provisional record so the intent is visible before
	// anything touches the ledger.
	c.transition(ctx, r, StateInit, "")
	err := c.idx.CreateProvisional(ctx, &index.ProvisionalRecord{
		ID:             r.recordID,
		EntityID:       req.EntityID,
		Kind:           req.Kind,
		Actor:          req.Actor,
		PriceUnits:     req.PriceUnits,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      c.now(),
	})
	if err != nil {
		if errors.Is(err, index.ErrSagaInFlight) {
			return nil, fmt.Errorf("%w: %s", ErrEntityBusy, req.EntityID)
		}
		return nil, fmt.Errorf("creating provisional record: %w", err)
	}

	// SUBMITTING: the one step that is never retried automatically.
	c.transition(ctx, r, StateSubmitting, "")
	digest, err := c.gateway.Submit(ctx, req)
	if err != nil {
		logger.Warn().Err(err).Msg("submit failed")
		c.markFailed(ctx, r, err)
		return nil, err
	}
	r.digest = digest
	logger.Info().Str("digest", string(digest)).Msg("mutation submitted")

	// From here on the mutation is irrevocable: the remaining steps must
	// reach a terminal state even if the caller disconnects or its request
	// times out, so detach from the caller's cancellation. The poll and
	// write-back budgets bound the remaining work.
	ctx = context.WithoutCancel(ctx)

	// Persist the digest immediately: if the write-back later fails, or the
	// process dies, the record can still be replayed from the digest alone.
	if err := c.idx.RecordDigest(ctx, r.recordID, digest); err != nil {
		logger.Warn().Err(err).Msg("storing mutation digest failed")
	}

	return c.finish(ctx, r, logger)
}

// finish drives a submitted saga through awaiting, resolving and write-back.
func (c *Coordinator) finish(ctx context.Context, r *run, logger zerolog.Logger) (*Outcome, error) {
	c.transition(ctx, r, StateAwaitingEffects, "")
	effects, err := c.poller.Await(ctx, r.digest, confirm.Options{
		MaxAttempts: c.cfg.PollMaxAttempts,
		BaseDelay:   c.cfg.PollBaseDelay,
		Sleep:       c.sleep,
		OnProgress: func(p confirm.Progress) {
			c.notify(Event{
				SagaID:      r.id,
				EntityID:    r.req.EntityID,
				State:       StateAwaitingEffects,
				Attempt:     p.Attempt,
				MaxAttempts: p.MaxAttempts,
				At:          c.now(),
			})
		},
	})
	if err != nil {
		// The mutation was submitted but never confirmed. Its state is
		// unknown, not failed: record it degraded with the digest standing
		// in for the handle so the sweep can re-poll later.
		logger.Warn().Err(err).Msg("confirmation exhausted")
		resolved := resolve.ResolvedIdentifier{
			EntityID:   r.req.EntityID,
			Handle:     string(r.digest),
			Method:     resolve.MethodMutationDigest,
			Confidence: resolve.ConfidenceFallback,
		}
		return c.writeBack(ctx, r, resolved, 0, StateDegraded, err.Error(), logger)
	}

	c.transition(ctx, r, StateResolving, "")
	hint := resolve.HintFor(r.req.Kind, r.req.EntityID, c.cfg.Namespace)
	resolved := resolve.Resolve(effects, hint)
	logger.Debug().
		Str("handle", resolved.Handle).
		Str("method", string(resolved.Method)).
		Str("confidence", string(resolved.Confidence)).
		Msg("identifier resolved")

	terminal := StateConfirmed
	detail := ""
	if resolved.Confidence == resolve.ConfidenceFallback {
		// A fallback handle is a distinct, inspectable outcome, never
		// silently treated as a clean resolution.
		terminal = StateDegraded
		detail = "identifier resolved by " + string(resolved.Method)
	}
	return c.writeBack(ctx, r, resolved, effects.Gas.Total(), terminal, detail, logger)
}

// writeBack writes the confirmed record, retrying the (idempotent) index call
// only. The ledger mutation already succeeded and is never resubmitted.
func (c *Coordinator) writeBack(ctx context.Context, r *run, resolved resolve.ResolvedIdentifier, gasUsed uint64, terminal State, detail string, logger zerolog.Logger) (*Outcome, error) {
	c.transition(ctx, r, StateWritingBack, "")

	conf := index.Confirmation{
		Status:     terminal.IndexStatus(),
		Handle:     resolved.Handle,
		Digest:     r.digest,
		Confidence: resolved.Confidence,
		Method:     resolved.Method,
		GasUsed:    gasUsed,
		At:         c.now(),
	}

	var lastErr error
	for attempt := 0; attempt < c.cfg.WritebackMaxAttempts; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, c.cfg.WritebackDelay); err != nil {
				lastErr = err
				break
			}
		}
		err := c.idx.Confirm(ctx, r.recordID, conf)
		if err == nil {
			c.transitionResolved(ctx, r, terminal, resolved, detail)
			logger.Info().Str("state", string(terminal)).Msg("saga complete")
			return c.outcome(ctx, r, terminal, resolved), nil
		}
		lastErr = err
		if !index.IsRetryable(err) {
			break
		}
		logger.Warn().Err(err).Int("attempt", attempt+1).Msg("write-back failed, retrying")
	}

	// The mutation exists on the ledger with no off-chain record. This must
	// surface as its own state and be queued for out-of-band repair; the
	// journal entry below is the local trace the sweep can work from.
	logger.Error().Err(lastErr).Msg("write-back exhausted")
	reason := "write-back exhausted"
	if lastErr != nil {
		reason = fmt.Sprintf("write-back exhausted: %v", lastErr)
	}
	if err := c.idx.MarkFailed(ctx, r.recordID, index.StatusFailedWriteback, reason); err != nil {
		logger.Warn().Err(err).Msg("marking record failed-writeback also failed")
	}
	c.transitionResolved(ctx, r, StateFailedWriteback, resolved, reason)
	return c.outcome(ctx, r, StateFailedWriteback, resolved), nil
}

// Replay re-runs resolve and write-back for a degraded or failed-writeback
// record using its recorded digest. It never resubmits to the ledger. Used by
// the reconciliation sweep and the operator CLI.
func (c *Coordinator) Replay(ctx context.Context, recordID string) (*Outcome, error) {
	rec, err := c.idx.GetByID(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if rec.Status != index.StatusDegraded && rec.Status != index.StatusFailedWriteback && rec.Status != index.StatusPending {
		return nil, fmt.Errorf("%w: record %s is %s", ErrNotReplayable, recordID, rec.Status)
	}
	if rec.Digest == "" {
		return nil, fmt.Errorf("%w: record %s has no mutation digest", ErrNotReplayable, recordID)
	}

	if !c.locks.TryAcquire(rec.EntityID) {
		return nil, fmt.Errorf("%w: %s", ErrEntityBusy, rec.EntityID)
	}
	defer c.locks.Release(rec.EntityID)

	r := &run{
		id:       c.newID(),
		recordID: rec.ID,
		req: &ledger.MutationRequest{
			Kind:     rec.Kind,
			Actor:    rec.Actor,
			EntityID: rec.EntityID,
		},
		digest: rec.Digest,
	}

	logger := c.logger.With().
		Str("saga", r.id).
		Str("entity", rec.EntityID).
		Str("record", rec.ID).
		Bool("replay", true).
		Logger()
	logger.Info().Str("digest", string(rec.Digest)).Msg("replaying saga from recorded digest")

	return c.finish(ctx, r, logger)
}

// transition journals and publishes a state change.
func (c *Coordinator) transition(ctx context.Context, r *run, state State, detail string) {
	c.transitionResolved(ctx, r, state, resolve.ResolvedIdentifier{}, detail)
}

func (c *Coordinator) transitionResolved(ctx context.Context, r *run, state State, resolved resolve.ResolvedIdentifier, detail string) {
	r.seq++
	entry := journal.Entry{
		SagaID:   r.id,
		Seq:      r.seq,
		State:    string(state),
		RecordID: r.recordID,
		EntityID: r.req.EntityID,
		Handle:   resolved.Handle,
		Digest:   string(r.digest),
		Detail:   detail,
		At:       c.now(),
	}
	if err := c.jnl.Append(ctx, entry); err != nil {
		// The journal is best-effort local bookkeeping; a failed append
		// must not halt a saga whose ledger mutation may already exist.
		c.logger.Warn().Err(err).Str("saga", r.id).Str("state", string(state)).Msg("journal append failed")
	}
	c.notify(Event{
		SagaID:   r.id,
		EntityID: r.req.EntityID,
		State:    state,
		Err:      detail,
		At:       c.now(),
	})
}

func (c *Coordinator) markFailed(ctx context.Context, r *run, cause error) {
	reason := cause.Error()
	if err := c.idx.MarkFailed(ctx, r.recordID, index.StatusFailed, reason); err != nil {
		c.logger.Warn().Err(err).Str("saga", r.id).Msg("marking record failed also failed")
	}
	c.transition(ctx, r, StateFailed, reason)
}

func (c *Coordinator) outcome(ctx context.Context, r *run, state State, resolved resolve.ResolvedIdentifier) *Outcome {
	out := &Outcome{
		SagaID:   r.id,
		State:    state,
		Digest:   r.digest,
		Resolved: resolved,
	}
	if rec, err := c.idx.GetByID(ctx, r.recordID); err == nil {
		out.Record = rec
	}
	return out
}

func (c *Coordinator) notify(e Event) {
	if c.notifier != nil {
		c.notifier.Notify(e)
	}
}

func validate(req *ledger.MutationRequest) error {
	switch {
	case req == nil:
		return fmt.Errorf("%w: nil request", ErrInvalidRequest)
	case !req.Kind.Valid():
		return fmt.Errorf("%w: unknown operation kind %q", ErrInvalidRequest, req.Kind)
	case req.EntityID == "":
		return fmt.Errorf("%w: missing entity id", ErrInvalidRequest)
	case req.Actor == "":
		return fmt.Errorf("%w: missing actor", ErrInvalidRequest)
	case len(req.SignedPayload) == 0:
		return fmt.Errorf("%w: missing signed payload", ErrInvalidRequest)
	}
	switch req.Kind {
	case ledger.OpCreateListing, ledger.OpUpdateListingPrice, ledger.OpExecutePurchase:
		if req.PriceUnits == 0 {
			return fmt.Errorf("%w: %s requires a price", ErrInvalidRequest, req.Kind)
		}
	}
	return nil
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
