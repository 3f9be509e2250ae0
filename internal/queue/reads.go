package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ridesharepro/notification-service/internal/notification"
)

// Cursor marks a position in the history listing for keyset pagination.
type Cursor struct {
	EnqueuedAt time.Time
	JobID      string
}

// Filter narrows the history listing.
type Filter struct {
	UserID    string
	Type      string
	Status    string
	Recipient string
	PageSize  int
	Cursor    *Cursor
}

// GetByID returns the full status record for one notification.
func (q *Queue) GetByID(ctx context.Context, jobID string) (*notification.Job, error) {
	query := `
		SELECT id, user_id, type, recipient, subject, content, status,
		       attempt_count, max_attempts, not_before, failure_reason,
		       enqueued_at, completed_at
		FROM notifications
		WHERE id = $1
	`

	var job notification.Job
	if err := q.db.GetContext(ctx, &job, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notification.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}

	return &job, nil
}

// List returns up to PageSize+1 notifications matching filter, newest first.
// The extra row lets the caller detect whether another page exists.
func (q *Queue) List(ctx context.Context, filter Filter) ([]notification.Job, error) {
	query := `
		SELECT id, user_id, type, recipient, subject, content, status,
		       attempt_count, max_attempts, not_before, failure_reason,
		       enqueued_at, completed_at
		FROM notifications
		WHERE 1=1
	`
	args := []interface{}{}
	argIdx := 1

	if filter.UserID != "" {
		query += fmt.Sprintf(" AND user_id = $%d", argIdx)
		args = append(args, filter.UserID)
		argIdx++
	}

	if filter.Type != "" {
		query += fmt.Sprintf(" AND type = $%d", argIdx)
		args = append(args, filter.Type)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Recipient != "" {
		query += fmt.Sprintf(" AND recipient = $%d", argIdx)
		args = append(args, filter.Recipient)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (enqueued_at, id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.EnqueuedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	query += " ORDER BY enqueued_at DESC, id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var jobs []notification.Job
	if err := q.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}

	return jobs, nil
}

// CountByStatus returns the number of notifications in each status,
// used by the detailed health endpoint.
func (q *Queue) CountByStatus(ctx context.Context) (map[string]int, error) {
	query := `SELECT status, COUNT(*) AS count FROM notifications GROUP BY status`

	rows, err := q.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to count notifications: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan notification count: %w", err)
		}
		counts[status] = count
	}

	return counts, rows.Err()
}
