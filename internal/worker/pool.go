package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ridesharepro/notification-service/internal/notification"
)

const maxInfraBackoff = 30 * time.Second

// spawnWorkerPool launches one lease loop per configured unit of concurrency.
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}

	w.logger.Info("Worker pool spawned",
		slog.Int("worker_count", w.concurrency),
	)
}

// workerLoop is one worker's lease cycle: lease, dispatch, record, repeat.
// Queue errors are infrastructure failures, not job failures: the loop backs
// off with its own doubling delay and retries the lease, never the process.
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	name := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	logger := w.logger.With(slog.String("worker_name", name))
	logger.Info("Worker loop started")

	infraDelay := time.Second

	for {
		if w.stopping(ctx) {
			logger.Info("Worker loop stopping")
			return
		}

		job, err := w.queue.Lease(ctx, name, w.visibilityTimeout)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("Worker loop stopping")
				return
			}
			logger.Error("Failed to lease job, backing off",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", infraDelay),
			)
			w.sleep(ctx, infraDelay)
			if infraDelay *= 2; infraDelay > maxInfraBackoff {
				infraDelay = maxInfraBackoff
			}
			continue
		}
		infraDelay = time.Second

		if job == nil {
			w.idleWait(ctx)
			continue
		}

		w.handleJob(ctx, logger, name, job)
	}
}

// handleJob dispatches one leased job and records the outcome:
//
//	success            -> mark sent, ack
//	permanent failure  -> mark failed, ack
//	transient, budget  -> nack with a backoff delay
//	transient, spent   -> mark failed (retries exhausted), ack
//
// If recording the outcome fails on the infrastructure side the lease is left
// to expire so the job is redelivered rather than lost.
func (w *Worker) handleJob(ctx context.Context, logger *slog.Logger, leaseHolder string, job *notification.Job) {
	logger = logger.With(
		slog.String("job_id", job.ID),
		slog.String("type", string(job.Type)),
		slog.Int("attempt", job.AttemptCount),
		slog.Int("max_attempts", job.MaxAttempts),
	)
	logger.Info("Processing notification job")

	// Shutdown stops new leases but never aborts a dispatch already started:
	// the send runs against a detached context bounded only by its own timeout.
	dispatchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.dispatchTimeout)
	defer cancel()

	err := w.dispatcher.Send(dispatchCtx, job)
	if err == nil {
		if recErr := w.tracker.MarkSent(dispatchCtx, job.ID); recErr != nil {
			if errors.Is(recErr, notification.ErrTerminalConflict) {
				logger.Error("Job already recorded with a different outcome",
					slog.String("error", recErr.Error()),
				)
			} else {
				logger.Error("Failed to record successful send, leaving lease to expire",
					slog.String("error", recErr.Error()),
				)
				return
			}
		}
		w.ack(dispatchCtx, logger, job.ID, leaseHolder)
		logger.Info("Notification sent")
		return
	}

	switch {
	case notification.IsPermanent(err):
		logger.Warn("Permanent dispatch failure, not retrying",
			slog.String("error", err.Error()),
		)
		w.fail(dispatchCtx, logger, job.ID, leaseHolder, err.Error())

	case job.AttemptCount >= job.MaxAttempts:
		reason := fmt.Sprintf("retries exhausted after %d attempts: %v", job.AttemptCount, err)
		logger.Warn("Retry budget exhausted, failing job",
			slog.String("error", err.Error()),
		)
		w.fail(dispatchCtx, logger, job.ID, leaseHolder, reason)

	default:
		delay := w.backoff.NextDelay(job.AttemptCount)
		logger.Warn("Transient dispatch failure, scheduling retry",
			slog.String("error", err.Error()),
			slog.Duration("retry_in", delay),
		)
		if nackErr := w.queue.Nack(dispatchCtx, job.ID, leaseHolder, delay); nackErr != nil {
			logger.Error("Failed to requeue job, leaving lease to expire",
				slog.String("error", nackErr.Error()),
			)
		}
	}
}

// fail records a terminal failure and releases the lease. A terminal conflict
// means another path already settled the job; the lease is still released.
func (w *Worker) fail(ctx context.Context, logger *slog.Logger, jobID, leaseHolder, reason string) {
	if err := w.tracker.MarkFailed(ctx, jobID, reason); err != nil {
		if !errors.Is(err, notification.ErrTerminalConflict) {
			logger.Error("Failed to record job failure, leaving lease to expire",
				slog.String("error", err.Error()),
			)
			return
		}
		logger.Error("Job already recorded with a different outcome",
			slog.String("error", err.Error()),
		)
	}
	w.ack(ctx, logger, jobID, leaseHolder)
}

func (w *Worker) ack(ctx context.Context, logger *slog.Logger, jobID, leaseHolder string) {
	if err := w.queue.Ack(ctx, jobID, leaseHolder); err != nil {
		logger.Error("Failed to ack job, lease will expire on its own",
			slog.String("error", err.Error()),
		)
	}
}

// idleWait blocks until a wake hint arrives, the idle-poll interval elapses,
// or shutdown begins.
func (w *Worker) idleWait(ctx context.Context) {
	timer := time.NewTimer(w.idlePollInterval)
	defer timer.Stop()

	select {
	case <-w.wake:
	case <-timer.C:
	case <-ctx.Done():
	case <-w.stopChan:
	}
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
	case <-w.stopChan:
	}
}

func (w *Worker) stopping(ctx context.Context) bool {
	select {
	case <-w.stopChan:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
