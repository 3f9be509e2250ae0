package notification

import "time"

// Type identifies the delivery channel for a notification.
type Type string

const (
	TypeEmail Type = "email"
	TypePush  Type = "push"
)

// Valid reports whether t is a known notification type.
func (t Type) Valid() bool {
	return t == TypeEmail || t == TypePush
}

// Status values form a one-way state machine:
// QUEUED -> IN_FLIGHT -> {SENT, FAILED, QUEUED (retry)}.
// SENT and FAILED are terminal.
const (
	StatusQueued   = "QUEUED"
	StatusInFlight = "IN_FLIGHT"
	StatusSent     = "SENT"
	StatusFailed   = "FAILED"
)

// IsTerminal reports whether status is SENT or FAILED.
func IsTerminal(status string) bool {
	return status == StatusSent || status == StatusFailed
}

// Job is the unit of work flowing through the queue. Identity and payload
// are fixed at enqueue time; only the delivery bookkeeping fields
// (Status, AttemptCount, NotBefore, FailureReason, CompletedAt) change
// afterwards.
type Job struct {
	ID            string     `db:"id" json:"id"`
	UserID        string     `db:"user_id" json:"user_id"`
	Type          Type       `db:"type" json:"type"`
	Recipient     string     `db:"recipient" json:"recipient"`
	Subject       string     `db:"subject" json:"subject,omitempty"`
	Content       string     `db:"content" json:"content"`
	Status        string     `db:"status" json:"status"`
	AttemptCount  int        `db:"attempt_count" json:"attempt_count"`
	MaxAttempts   int        `db:"max_attempts" json:"max_attempts"`
	NotBefore     time.Time  `db:"not_before" json:"not_before"`
	FailureReason string     `db:"failure_reason" json:"failure_reason,omitempty"`
	EnqueuedAt    time.Time  `db:"enqueued_at" json:"enqueued_at"`
	CompletedAt   *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}
