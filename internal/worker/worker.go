package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ridesharepro/notification-service/internal/dispatch"
	"github.com/ridesharepro/notification-service/internal/notification"
)

// JobQueue is the durable queue the pool leases from. All operations are
// atomic on the backend; the pool holds no shared job state of its own.
type JobQueue interface {
	Lease(ctx context.Context, workerID string, visibility time.Duration) (*notification.Job, error)
	Ack(ctx context.Context, jobID, workerID string) error
	Nack(ctx context.Context, jobID, workerID string, delay time.Duration) error
	ReapExpired(ctx context.Context) (requeued, failed int, err error)
}

// StatusTracker is the single write path into durable notification history.
type StatusTracker interface {
	MarkSent(ctx context.Context, jobID string) error
	MarkFailed(ctx context.Context, jobID, reason string) error
}

// WakeSource delivers broker messages that hint at newly enqueued jobs.
type WakeSource interface {
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
}

// Config holds worker pool configuration and injected dependencies.
type Config struct {
	Logger     *slog.Logger
	Queue      JobQueue
	Tracker    StatusTracker
	Dispatcher dispatch.Dispatcher

	// WakeSource is optional; without it workers rely solely on the
	// idle-poll interval to discover new jobs.
	WakeSource WakeSource

	Concurrency       int
	VisibilityTimeout time.Duration
	IdlePollInterval  time.Duration
	ReapInterval      time.Duration
	DispatchTimeout   time.Duration
	Backoff           Backoff
}

// Worker runs the notification worker pool: N independent lease loops, an
// optional broker wake consumer, and a janitor that reclaims expired leases.
type Worker struct {
	logger     *slog.Logger
	queue      JobQueue
	tracker    StatusTracker
	dispatcher dispatch.Dispatcher
	wakeSource WakeSource

	concurrency       int
	visibilityTimeout time.Duration
	idlePollInterval  time.Duration
	reapInterval      time.Duration
	dispatchTimeout   time.Duration
	backoff           Backoff

	workerID string
	wake     chan struct{}
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a worker pool instance. Zero durations fall back to
// conservative defaults so a partially filled config still behaves.
func New(cfg *Config) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	visibility := cfg.VisibilityTimeout
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	idlePoll := cfg.IdlePollInterval
	if idlePoll <= 0 {
		idlePoll = time.Second
	}
	reapInterval := cfg.ReapInterval
	if reapInterval <= 0 {
		reapInterval = 10 * time.Second
	}
	// The default dispatch timeout sits below the default visibility timeout
	// so a slow send still finishes inside its own lease.
	dispatchTimeout := cfg.DispatchTimeout
	if dispatchTimeout <= 0 {
		dispatchTimeout = 20 * time.Second
	}

	return &Worker{
		logger:            cfg.Logger,
		queue:             cfg.Queue,
		tracker:           cfg.Tracker,
		dispatcher:        cfg.Dispatcher,
		wakeSource:        cfg.WakeSource,
		concurrency:       concurrency,
		visibilityTimeout: visibility,
		idlePollInterval:  idlePoll,
		reapInterval:      reapInterval,
		dispatchTimeout:   dispatchTimeout,
		backoff:           cfg.Backoff,
		workerID:          fmt.Sprintf("worker-%s", uuid.New().String()[:8]),
		wake:              make(chan struct{}, 1),
		stopChan:          make(chan struct{}),
	}
}

// Start launches the pool and blocks until ctx is canceled. In-flight
// dispatches are finished by Stop; jobs abandoned by a forced kill are
// reclaimed through lease expiry.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker pool",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("visibility_timeout", w.visibilityTimeout),
		slog.Duration("idle_poll_interval", w.idlePollInterval),
	)

	if w.wakeSource != nil {
		deliveries, err := w.wakeSource.Consume(w.workerID)
		if err != nil {
			return fmt.Errorf("failed to start wake consumer: %w", err)
		}
		w.wg.Add(1)
		go w.consumeWakeSignals(ctx, deliveries)
	}

	w.wg.Add(1)
	go w.janitorLoop(ctx)

	w.spawnWorkerPool(ctx)

	<-ctx.Done()
	w.logger.Info("Worker pool context canceled, stopping")
	return nil
}

// Stop signals all loops to stop leasing and waits for in-flight work.
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker pool",
		slog.String("worker_id", w.workerID),
	)
	w.stopOnce.Do(func() {
		close(w.stopChan)
	})
	w.wg.Wait()
	w.logger.Info("Worker pool stopped")
}
