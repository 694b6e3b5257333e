package calls

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper defaults. The ring timeout is intentionally shorter than the
// sweep interval: a session becomes reclaimable before the next pass.
const (
	DefaultSweepInterval  = 5 * time.Minute
	DefaultRingTimeout    = 2 * time.Minute
	DefaultConnectTimeout = 5 * time.Minute
	DefaultSweepBatchSize = 100
)

// SweeperConfig tunes the stale-session sweep. Zero values fall back to the
// defaults above.
type SweeperConfig struct {
	Interval       time.Duration
	RingTimeout    time.Duration
	ConnectTimeout time.Duration
	BatchSize      int
	Logger         *slog.Logger
}

// Sweeper reclaims abandoned call attempts: INITIATED/RINGING sessions past
// the ring timeout become MISSED, CONNECTING sessions past the connect
// timeout become FAILED.
//
// Multiple instances may sweep concurrently without coordination. Every
// reclamation is a conditional transition through the manager, so a session
// another instance (or a client) already moved is a harmless no-op here.
// Sweep failures are logged and left for the next interval, never fatal.
type Sweeper struct {
	store   SessionStore
	manager *Manager

	interval       time.Duration
	ringTimeout    time.Duration
	connectTimeout time.Duration
	batchSize      int

	clock func() time.Time
	log   *slog.Logger
}

func NewSweeper(store SessionStore, manager *Manager, cfg SweeperConfig) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSweepInterval
	}
	if cfg.RingTimeout <= 0 {
		cfg.RingTimeout = DefaultRingTimeout
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultSweepBatchSize
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{
		store:          store,
		manager:        manager,
		interval:       cfg.Interval,
		ringTimeout:    cfg.RingTimeout,
		connectTimeout: cfg.ConnectTimeout,
		batchSize:      cfg.BatchSize,
		clock:          time.Now,
		log:            log,
	}
}

// SweepStats summarizes one pass.
type SweepStats struct {
	Scanned int `json:"scanned"`
	Missed  int `json:"missed"`
	Failed  int `json:"failed"`
	Errors  int `json:"errors"`
}

// Run sweeps on the configured interval until ctx is canceled.
func (w *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.log.Info("sweeper started", "interval", w.interval, "ring_timeout", w.ringTimeout)
	for {
		select {
		case <-ctx.Done():
			w.log.Info("sweeper stopped")
			return
		case <-ticker.C:
			stats := w.RunOnce(ctx)
			if stats.Scanned > 0 || stats.Errors > 0 {
				w.log.Info("sweep complete",
					"scanned", stats.Scanned,
					"missed", stats.Missed,
					"failed", stats.Failed,
					"errors", stats.Errors,
				)
			}
		}
	}
}

// RunOnce performs a single sweep pass. Exposed for the admin endpoint and
// for tests.
func (w *Sweeper) RunOnce(ctx context.Context) SweepStats {
	var stats SweepStats
	now := w.clock().UTC()

	w.sweepRule(ctx, &stats,
		[]State{StateInitiated, StateRinging},
		AnchorCreated,
		now.Add(-w.ringTimeout),
		func(ctx context.Context, id string) (bool, error) {
			_, applied, err := w.manager.TimeoutCall(ctx, id)
			return applied, err
		},
		&stats.Missed,
	)

	// CONNECTING ages from the accept: a call accepted just before the
	// ring deadline still gets the full connect timeout.
	w.sweepRule(ctx, &stats,
		[]State{StateConnecting},
		AnchorConnected,
		now.Add(-w.connectTimeout),
		func(ctx context.Context, id string) (bool, error) {
			_, applied, err := w.manager.FailStuckConnecting(ctx, id)
			return applied, err
		},
		&stats.Failed,
	)

	return stats
}

func (w *Sweeper) sweepRule(ctx context.Context, stats *SweepStats, states []State, anchor StaleAnchor, olderThan time.Time, apply func(context.Context, string) (bool, error), counter *int) {
	stale, err := w.store.FindStaleByStateAndAge(ctx, states, anchor, olderThan, w.batchSize)
	if err != nil {
		stats.Errors++
		w.log.Error("stale scan failed", "states", states, "err", err)
		return
	}

	for _, s := range stale {
		if ctx.Err() != nil {
			return
		}
		stats.Scanned++
		applied, err := apply(ctx, s.CallID)
		if err != nil {
			stats.Errors++
			w.log.Error("sweep transition failed", "call_id", s.CallID, "err", err)
			continue
		}
		if applied {
			*counter++
		}
	}
}
