// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Reaper implements a periodic event-retention sweep: on a fixed interval it
deletes person_event/location_event rows older than the configured
retention horizon. It never touches the person/location aggregates —
those are read-path projections that do not age out.

Grounded on the same background-ticker-with-context-cancellation shape
[middleware.RateLimit] uses for its client-map cleanup goroutine, with
retry-on-failure added via [github.com/cenkalti/backoff/v4]: a failed
sweep is logged and retried rather than abandoned until the next tick.
*/
package registry

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Reaper periodically deletes expired events from the [Store].
type Reaper struct {
	store    Store
	logger   *slog.Logger
	interval time.Duration

	// retentionEvents is the count-based retention window: a committed
	// revision r is retained as long as r >= (current revision -
	// retentionEvents + 1). Takes precedence over retentionAge whenever
	// non-zero.
	retentionEvents uint64

	// retentionAge retains events by wall-clock age instead of by count:
	// any event older than retentionAge is eligible for deletion regardless
	// of how many revisions have since occurred. Only consulted when
	// retentionEvents is zero.
	retentionAge time.Duration
}

// NewReaper constructs a [Reaper]. retentionEvents takes precedence over
// retentionAge when both are configured, matching
// [config.Config.RetentionEvents]'s documented precedence.
func NewReaper(store Store, logger *slog.Logger, interval time.Duration, retentionEvents uint64, retentionAge time.Duration) *Reaper {
	return &Reaper{
		store:           store,
		logger:          logger,
		interval:        interval,
		retentionEvents: retentionEvents,
		retentionAge:    retentionAge,
	}
}

// Run blocks, sweeping at the configured interval until ctx is cancelled.
// Each tick's failure is logged and retried with exponential backoff capped
// at the tick interval itself, so a transient Store outage cannot cause
// retries to pile up faster than new ticks arrive.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.sweepWithRetry(ctx)
		}
	}
}

// sweepWithRetry runs one sweep, retrying on failure with exponential
// backoff until it succeeds, ctx is cancelled, or the backoff exceeds this
// reaper's own tick interval (at which point it gives up until the next
// tick — correctness never depends on any single sweep succeeding).
func (r *Reaper) sweepWithRetry(ctx context.Context) {
	exponentialBackoff := backoff.NewExponentialBackOff()
	exponentialBackoff.MaxElapsedTime = r.interval
	policy := backoff.WithContext(exponentialBackoff, ctx)

	err := backoff.Retry(func() error {
		return r.Sweep(ctx)
	}, policy)
	if err != nil {
		r.logger.Error("reaper_sweep_failed", slog.Any("error", err))
	}
}

// Sweep deletes events below the retention horizon exactly once. [Run] calls
// this on every tick (wrapped in retry-with-backoff); it is also exported
// directly for tests and for an operator-triggered manual sweep.
func (r *Reaper) Sweep(ctx context.Context) error {
	cutoffRevision, err := r.cutoffRevision(ctx)
	if err != nil {
		return err
	}

	countBased := r.retentionEvents != 0
	personRows, locationRows, err := r.store.DeleteEventsBefore(ctx, cutoffRevision, countBased, r.retentionAge)
	if err != nil {
		return err
	}

	if personRows > 0 || locationRows > 0 {
		r.logger.Info("reaper_swept",
			slog.Int64("person_events_deleted", personRows),
			slog.Int64("location_events_deleted", locationRows),
			slog.Uint64("cutoff_revision", cutoffRevision),
		)
	}
	return nil
}

// cutoffRevision computes the count-based cutoff: current revision -
// retentionEvents + 1. It evaluates to 0 (a no-op cutoff) whenever
// retentionEvents is zero or there isn't yet enough history to reap.
func (r *Reaper) cutoffRevision(ctx context.Context) (uint64, error) {
	if r.retentionEvents == 0 {
		return 0, nil
	}

	current, err := r.store.CurrentRevision(ctx)
	if err != nil {
		return 0, err
	}
	if current < r.retentionEvents {
		return 0, nil
	}
	return current - r.retentionEvents + 1, nil
}
