package service

import (
	"context"
	"log/slog"
	"time"
)

// ExpiryWatcher tears the fortress down once the active policy's period has
// elapsed, whether or not anyone is looking at the dashboard.
type ExpiryWatcher struct {
	lifecycle   *Lifecycle
	deactivator *Deactivator
	interval    time.Duration
	logger      *slog.Logger

	lastCleared string
}

func NewExpiryWatcher(lifecycle *Lifecycle, deactivator *Deactivator, interval time.Duration, logger *slog.Logger) *ExpiryWatcher {
	return &ExpiryWatcher{
		lifecycle:   lifecycle,
		deactivator: deactivator,
		interval:    interval,
		logger:      logger,
	}
}

// Run checks on every tick until ctx is canceled.
func (w *ExpiryWatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("expiry watcher started", slog.Duration("interval", w.interval))
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("expiry watcher stopped")
			return
		case <-ticker.C:
			w.Check(ctx)
		}
	}
}

// Check clears at most once per expired policy. It reports whether a Clear
// was started.
func (w *ExpiryWatcher) Check(ctx context.Context) bool {
	p, err := w.lifecycle.stores.Policies.GetActive(ctx, w.lifecycle.device.ID)
	if err != nil {
		w.logger.WarnContext(ctx, "expiry check failed", slog.String("error", err.Error()))
		return false
	}
	if p == nil || p.ID == w.lastCleared || !p.IsUnlockEligible(w.lifecycle.now()) {
		return false
	}

	if _, err := w.lifecycle.MarkUnlockable(ctx); err != nil {
		w.logger.WarnContext(ctx, "mark unlockable before teardown failed",
			slog.String("policy_id", p.ID),
			slog.String("error", err.Error()),
		)
	}

	w.lastCleared = p.ID
	expiryTeardownsTotal.Inc()
	res := w.deactivator.Clear(ctx, "")
	w.logger.InfoContext(ctx, "commitment expired, fortress cleared",
		slog.String("policy_id", p.ID),
		slog.String("outcome", string(res.Outcome)),
	)
	return true
}
