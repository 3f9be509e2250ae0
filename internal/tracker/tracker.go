package tracker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ridesharepro/notification-service/internal/notification"
)

// Tracker is the single write path for terminal notification status. Both
// operations are idempotent: repeating a terminal write is a no-op, while a
// conflicting terminal write surfaces ErrTerminalConflict to the caller and
// never silently overwrites the recorded outcome.
type Tracker struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// New creates a Tracker on top of an established database connection.
func New(db *sqlx.DB, logger *slog.Logger) *Tracker {
	return &Tracker{db: db, logger: logger}
}

// MarkSent records a successful delivery for jobID.
func (t *Tracker) MarkSent(ctx context.Context, jobID string) error {
	return t.markTerminal(ctx, jobID, notification.StatusSent, "")
}

// MarkFailed records a terminal failure for jobID with a human-readable reason.
func (t *Tracker) MarkFailed(ctx context.Context, jobID, reason string) error {
	return t.markTerminal(ctx, jobID, notification.StatusFailed, reason)
}

func (t *Tracker) markTerminal(ctx context.Context, jobID, status, reason string) error {
	now := time.Now().UTC()

	query := `
		UPDATE notifications
		SET status = $2, failure_reason = $3, completed_at = $4, updated_at = $4
		WHERE id = $1 AND status IN ($5, $6)
	`

	result, err := t.db.ExecContext(ctx, query,
		jobID, status, reason, now,
		notification.StatusQueued, notification.StatusInFlight,
	)
	if err != nil {
		return fmt.Errorf("failed to mark notification %s: %w", status, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		var current string
		err := t.db.GetContext(ctx, &current, `SELECT status FROM notifications WHERE id = $1`, jobID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return notification.ErrJobNotFound
			}
			return fmt.Errorf("failed to read notification status: %w", err)
		}
		return ResolveTerminal(current, status)
	}

	t.logger.Info("Notification status recorded",
		slog.String("job_id", jobID),
		slog.String("status", status),
	)

	return nil
}

// ResolveTerminal decides the outcome of a terminal write that found the job
// already terminal: repeating the same state is a no-op, a different state is
// a logic error.
func ResolveTerminal(current, target string) error {
	if current == target {
		return nil
	}
	return fmt.Errorf("%w: job is %s, cannot mark %s", notification.ErrTerminalConflict, current, target)
}
