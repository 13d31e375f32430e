package jobs

import (
	"context"
	"log/slog"
	"time"
)

// RunEvery calls fn immediately and then once per interval until ctx is done.
// It is used for the in-process scheduler in local development.
func RunEvery(ctx context.Context, logger *slog.Logger, name string, interval time.Duration, fn func(ctx context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		start := time.Now()
		if err := fn(ctx); err != nil {
			logger.Error("Scheduled job failed", "job", name, "error", err)
		} else {
			logger.Info("Scheduled job finished", "job", name, "duration_ms", time.Since(start).Milliseconds())
		}

		select {
		case <-ctx.Done():
			logger.Info("Scheduler stopped", "job", name)
			return
		case <-ticker.C:
		}
	}
}
