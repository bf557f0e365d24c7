// Package engine orchestrates the periodic reconciliation and notification
// ticks: collect tracked product ids, fetch fresh catalog data in batches,
// detect per-item price changes, and deliver one consolidated message per
// subscriber.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"wb-price-watcher/internal/metrics"
	"wb-price-watcher/internal/notify"
	"wb-price-watcher/internal/source"
	"wb-price-watcher/internal/store"
	domain "wb-price-watcher/pkg/types"
)

// NotifyMode selects which items a subscriber's message contains.
type NotifyMode string

// Notify mode constants.
const (
	// NotifyOnChangeOnly messages only items with a pending change.
	NotifyOnChangeOnly NotifyMode = "on-change-only"
	// NotifyAlways includes every tracked item in each tick's message.
	NotifyAlways NotifyMode = "always"
)

// Engine runs ticks against injected store, price source and delivery
// collaborators.
type Engine struct {
	store  store.Store
	source source.Client
	sender notify.Sender
	log    *slog.Logger

	notifyMode      NotifyMode
	variantTracking bool

	batchConcurrency    int
	dispatchConcurrency int
	fetchTimeout        time.Duration
	dispatchTimeout     time.Duration
	tickTimeout         time.Duration

	// tickMu serializes ticks; a tick scheduled while the previous one is
	// still committing is skipped, not queued.
	tickMu sync.Mutex
}

// New creates an Engine with injected dependencies.
func New(s store.Store, src source.Client, snd notify.Sender, opts ...Option) *Engine {
	eng := &Engine{
		store:               s,
		source:              src,
		sender:              snd,
		log:                 slog.Default(),
		notifyMode:          NotifyOnChangeOnly,
		variantTracking:     true,
		batchConcurrency:    4,
		dispatchConcurrency: 8,
		fetchTimeout:        30 * time.Second,
		dispatchTimeout:     15 * time.Second,
		tickTimeout:         5 * time.Minute,
	}
	for _, opt := range opts {
		opt(eng)
	}
	return eng
}

// Option configures the Engine.
type Option func(*Engine)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.log = l
	}
}

// WithNotifyMode sets which items subscriber messages contain.
func WithNotifyMode(m NotifyMode) Option {
	return func(e *Engine) {
		e.notifyMode = m
	}
}

// WithVariantTracking toggles per-size tracking. When disabled, stored
// variant selectors are ignored and the first available variant is priced.
func WithVariantTracking(enabled bool) Option {
	return func(e *Engine) {
		e.variantTracking = enabled
	}
}

// WithBatchConcurrency sets how many source batches are fetched in parallel.
func WithBatchConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.batchConcurrency = n
		}
	}
}

// WithDispatchConcurrency sets how many subscribers are dispatched in parallel.
func WithDispatchConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.dispatchConcurrency = n
		}
	}
}

// WithFetchTimeout bounds one batch fetch against the price source.
func WithFetchTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.fetchTimeout = d
		}
	}
}

// WithDispatchTimeout bounds one subscriber's notification send.
func WithDispatchTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.dispatchTimeout = d
		}
	}
}

// WithTickTimeout bounds one whole tick, store calls included. A store
// call that hangs past the deadline fails the tick instead of holding the
// tick lock forever.
func WithTickTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.tickTimeout = d
		}
	}
}

// Tick executes one full pass: reconciliation followed by dispatch,
// recorded as a tick run. Running the same state twice is a no-op on
// pending flags and notified baselines.
//
// A tick that finds the previous one still running returns immediately.
// Store unavailability at the very start aborts the whole tick; the next
// scheduled invocation retries wholesale.
func (e *Engine) Tick(ctx context.Context) error {
	if !e.tickMu.TryLock() {
		metrics.TicksSkippedTotal.Inc()
		e.log.Warn("previous tick still running, skipping")
		return nil
	}
	defer e.tickMu.Unlock()

	// Deadline over everything the tick does, persistence included. Expiry
	// is the fatal-for-this-tick store condition: the tick aborts and the
	// next scheduled invocation retries wholesale.
	ctx, cancel := context.WithTimeout(ctx, e.tickTimeout)
	defer cancel()

	start := time.Now()
	defer func() {
		metrics.TickDuration.Observe(time.Since(start).Seconds())
	}()

	runID, err := e.store.InsertTickRun(ctx)
	if err != nil {
		return fmt.Errorf("starting tick run: %w", err)
	}

	cycle, cycleErr := e.RunCycle(ctx)
	if cycleErr != nil {
		e.completeRun(runID, "failed", cycleErr.Error(), cycle, nil)
		return fmt.Errorf("reconciliation cycle: %w", cycleErr)
	}

	dispatch, dispatchErr := e.Dispatch(ctx)
	if dispatchErr != nil {
		e.completeRun(runID, "failed", dispatchErr.Error(), cycle, dispatch)
		return fmt.Errorf("notification dispatch: %w", dispatchErr)
	}

	e.completeRun(runID, "ok", "", cycle, dispatch)

	e.log.Info("tick complete",
		"items_refreshed", cycle.ItemsRefreshed,
		"items_changed", cycle.ItemsChanged,
		"fetch_failures", cycle.FetchFailures,
		"messages_sent", dispatch.MessagesSent,
		"send_failures", dispatch.SendFailures,
		"duration", time.Since(start),
	)
	return nil
}

// completeRun records the tick outcome on a fresh context, so a tick that
// failed by deadline expiry can still be marked failed.
func (e *Engine) completeRun(
	id, status, errText string,
	cycle *domain.CycleReport,
	dispatch *domain.DispatchReport,
) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.store.CompleteTickRun(ctx, id, status, errText, cycle, dispatch); err != nil {
		e.log.Error("recording tick run failed", "id", id, "error", err)
	}
}
