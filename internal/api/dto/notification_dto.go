package dto

type SendNotificationRequest struct {
	UserID    string `json:"user_id" binding:"required,uuid"`
	Type      string `json:"type" binding:"required,oneof=email push"`
	Recipient string `json:"recipient" binding:"required"`
	Subject   string `json:"subject"`
	Content   string `json:"content" binding:"required"`
}

type ListNotificationsRequest struct {
	UserID    string `form:"user_id"`
	Type      string `form:"type"`
	Status    string `form:"status"`
	Recipient string `form:"recipient"`
	PageSize  int    `form:"page_size"`
	Cursor    string `form:"cursor"`
}

type ListNotificationsResponse struct {
	Notifications []NotificationDTO `json:"notifications"`
	NextCursor    string            `json:"next_cursor,omitempty"`
}

type NotificationDTO struct {
	ID            string `json:"id"`
	UserID        string `json:"user_id"`
	Type          string `json:"type"`
	Recipient     string `json:"recipient"`
	Subject       string `json:"subject,omitempty"`
	Content       string `json:"content"`
	Status        string `json:"status"`
	AttemptCount  int    `json:"attempt_count"`
	MaxAttempts   int    `json:"max_attempts"`
	FailureReason string `json:"failure_reason,omitempty"`
	EnqueuedAt    string `json:"enqueued_at"`
	CompletedAt   string `json:"completed_at,omitempty"`
}
