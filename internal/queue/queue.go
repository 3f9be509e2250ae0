package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ridesharepro/notification-service/internal/notification"
)

// Queue is the durable notification job queue backed by PostgreSQL. All
// cross-worker coordination happens through the atomic claim in Lease;
// workers never share in-process job state.
type Queue struct {
	db          *sqlx.DB
	logger      *slog.Logger
	maxAttempts int
}

// Config holds queue construction parameters.
type Config struct {
	// MaxAttempts is stamped onto each job at enqueue time.
	MaxAttempts int
}

// New creates a Queue on top of an established database connection.
func New(db *sqlx.DB, logger *slog.Logger, cfg Config) (*Queue, error) {
	if cfg.MaxAttempts <= 0 {
		return nil, fmt.Errorf("queue: max attempts must be greater than 0, got %d", cfg.MaxAttempts)
	}

	return &Queue{
		db:          db,
		logger:      logger,
		maxAttempts: cfg.MaxAttempts,
	}, nil
}

// Enqueue durably persists job in QUEUED state and returns its id. Missing
// identity and bookkeeping fields are filled in; the payload is stored as-is.
func (q *Queue) Enqueue(ctx context.Context, job *notification.Job) (string, error) {
	now := time.Now().UTC()

	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	job.Status = notification.StatusQueued
	job.AttemptCount = 0
	job.MaxAttempts = q.maxAttempts
	if job.NotBefore.IsZero() {
		job.NotBefore = now
	}
	job.EnqueuedAt = now

	query := `
		INSERT INTO notifications (
			id, user_id, type, recipient, subject, content,
			status, attempt_count, max_attempts, not_before, enqueued_at, updated_at
		) VALUES (
			:id, :user_id, :type, :recipient, :subject, :content,
			:status, :attempt_count, :max_attempts, :not_before, :enqueued_at, :enqueued_at
		)
	`

	if _, err := q.db.NamedExecContext(ctx, query, job); err != nil {
		return "", fmt.Errorf("failed to enqueue notification: %w", err)
	}

	q.logger.Info("Notification enqueued",
		slog.String("job_id", job.ID),
		slog.String("type", string(job.Type)),
	)

	return job.ID, nil
}

// Lease atomically claims the oldest eligible job for workerID: status goes
// to IN_FLIGHT, attempt_count is incremented, and the lease expires after
// visibility. Eligibility is status=QUEUED, not_before in the past, and
// retry budget left. Returns (nil, nil) when nothing is eligible; the caller
// is responsible for idle backoff.
//
// FOR UPDATE SKIP LOCKED makes the claim a single atomic operation: two
// workers can never select the same row.
func (q *Queue) Lease(ctx context.Context, workerID string, visibility time.Duration) (*notification.Job, error) {
	now := time.Now().UTC()

	query := `
		UPDATE notifications
		SET status = $1,
		    attempt_count = attempt_count + 1,
		    leased_by = $2,
		    lease_expires_at = $3,
		    updated_at = $4
		WHERE id = (
			SELECT id FROM notifications
			WHERE status = $5
			  AND not_before <= $4
			  AND attempt_count < max_attempts
			ORDER BY not_before, seq
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, user_id, type, recipient, subject, content, status,
		          attempt_count, max_attempts, not_before, failure_reason,
		          enqueued_at, completed_at
	`

	var job notification.Job
	err := q.db.QueryRowxContext(ctx, query,
		notification.StatusInFlight,
		workerID,
		now.Add(visibility),
		now,
		notification.StatusQueued,
	).StructScan(&job)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to lease notification: %w", err)
	}

	return &job, nil
}

// Ack removes jobID from active lease tracking. The write is scoped to the
// worker holding the lease, so a stale ack from a worker whose lease already
// expired and was re-granted cannot clear the successor's claim. Acking a
// job with no matching lease is a no-op, not an error, so a redelivered
// terminal job can always be acked safely.
func (q *Queue) Ack(ctx context.Context, jobID, workerID string) error {
	query := `
		UPDATE notifications
		SET leased_by = NULL, lease_expires_at = NULL, updated_at = $3
		WHERE id = $1 AND leased_by = $2
	`

	if _, err := q.db.ExecContext(ctx, query, jobID, workerID, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to ack notification: %w", err)
	}

	return nil
}

// Nack returns a leased job to QUEUED with not_before pushed delay into the
// future. Like Ack, the write is scoped to the lease holder. Only valid for
// retryable outcomes; exhausted jobs must go through the status tracker
// instead.
func (q *Queue) Nack(ctx context.Context, jobID, workerID string, delay time.Duration) error {
	now := time.Now().UTC()

	query := `
		UPDATE notifications
		SET status = $2, not_before = $3, leased_by = NULL, lease_expires_at = NULL, updated_at = $4
		WHERE id = $1 AND status = $5 AND leased_by = $6
	`

	result, err := q.db.ExecContext(ctx, query,
		jobID,
		notification.StatusQueued,
		now.Add(delay),
		now,
		notification.StatusInFlight,
		workerID,
	)
	if err != nil {
		return fmt.Errorf("failed to nack notification: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		q.logger.Warn("Nack matched no in-flight notification for this lease",
			slog.String("job_id", jobID),
			slog.String("worker_id", workerID),
		)
	}

	return nil
}

// ReapExpired reclaims jobs whose lease expired without an ack or nack
// (worker crash, network partition). Jobs with retry budget left go back to
// QUEUED immediately, attempt_count untouched beyond what the dead attempt
// already counted. Jobs whose final attempt died are marked FAILED here so
// they are never leased past max_attempts.
func (q *Queue) ReapExpired(ctx context.Context) (requeued, failed int, err error) {
	now := time.Now().UTC()

	failQuery := `
		UPDATE notifications
		SET status = $1, failure_reason = $2, leased_by = NULL,
		    lease_expires_at = NULL, completed_at = $3, updated_at = $3
		WHERE status = $4 AND lease_expires_at < $3 AND attempt_count >= max_attempts
	`

	failResult, err := q.db.ExecContext(ctx, failQuery,
		notification.StatusFailed,
		"retries exhausted: lease expired after final attempt",
		now,
		notification.StatusInFlight,
	)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to reap exhausted leases: %w", err)
	}
	failedRows, _ := failResult.RowsAffected()

	requeueQuery := `
		UPDATE notifications
		SET status = $1, not_before = $2, leased_by = NULL, lease_expires_at = NULL, updated_at = $2
		WHERE status = $3 AND lease_expires_at < $2
	`

	requeueResult, err := q.db.ExecContext(ctx, requeueQuery,
		notification.StatusQueued,
		now,
		notification.StatusInFlight,
	)
	if err != nil {
		return 0, int(failedRows), fmt.Errorf("failed to reap expired leases: %w", err)
	}
	requeuedRows, _ := requeueResult.RowsAffected()

	return int(requeuedRows), int(failedRows), nil
}
