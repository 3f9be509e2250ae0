package worker

import (
	"context"
	"log/slog"
	"time"
)

// janitorLoop periodically reclaims jobs whose lease expired, typically after
// a worker crash or a forced kill mid-dispatch. Jobs with attempts left go
// back to the queue; jobs that expired on their final attempt are failed.
func (w *Worker) janitorLoop(ctx context.Context) {
	defer w.wg.Done()

	w.logger.Info("Janitor started",
		slog.Duration("reap_interval", w.reapInterval),
	)

	ticker := time.NewTicker(w.reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Janitor stopping")
			return
		case <-w.stopChan:
			w.logger.Info("Janitor stopping")
			return
		case <-ticker.C:
			requeued, failed, err := w.queue.ReapExpired(ctx)
			if err != nil {
				if ctx.Err() != nil {
					continue
				}
				w.logger.Error("Failed to reap expired leases",
					slog.String("error", err.Error()),
				)
				continue
			}
			if requeued > 0 || failed > 0 {
				w.logger.Warn("Reclaimed expired leases",
					slog.Int("requeued", requeued),
					slog.Int("failed", failed),
				)
			}
		}
	}
}
