package worker

import (
	"context"
	"log/slog"
	"time"
)

// QuotaResetter resets quota records whose daily window has elapsed.
type QuotaResetter interface {
	ResetElapsed(ctx context.Context) (int64, error)
}

// ResetSweeper periodically resets stale quota records so that balances
// stored on disk do not drift from the lazy per-request reset. Readers of
// the table (dashboards, support tooling) see fresh balances shortly after
// midnight instead of whenever the user next shows up.
type ResetSweeper struct {
	ledger   QuotaResetter
	interval time.Duration
}

// NewResetSweeper creates a ResetSweeper that sweeps every interval.
func NewResetSweeper(ledger QuotaResetter, interval time.Duration) *ResetSweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &ResetSweeper{ledger: ledger, interval: interval}
}

// Name returns the worker identifier.
func (w *ResetSweeper) Name() string { return "reset_sweeper" }

// Run performs an initial sweep, then sweeps periodically until ctx is
// cancelled.
func (w *ResetSweeper) Run(ctx context.Context) error {
	w.sweep(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.sweep(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

func (w *ResetSweeper) sweep(ctx context.Context) {
	n, err := w.ledger.ResetElapsed(ctx)
	if err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "quota sweep failed",
			slog.String("error", err.Error()),
		)
		return
	}
	if n > 0 {
		slog.LogAttrs(ctx, slog.LevelInfo, "quota records reset",
			slog.Int64("count", n),
		)
	}
}
