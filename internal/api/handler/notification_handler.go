package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/mail"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ridesharepro/notification-service/internal/api/dto"
	"github.com/ridesharepro/notification-service/internal/notification"
	"github.com/ridesharepro/notification-service/internal/queue"
)

type wakeHint struct {
	JobID string `json:"job_id"`
}

// SendNotification handles POST /api/v1/notifications
// Durably enqueues a notification and returns 202 before any delivery happens
func (h *NotificationHandler) SendNotification(c *gin.Context) {
	var req dto.SendNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	if req.Type == string(notification.TypeEmail) {
		if _, err := mail.ParseAddress(req.Recipient); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "recipient must be a valid email address",
			})
			return
		}
	}

	job := notification.Job{
		UserID:    req.UserID,
		Type:      notification.Type(req.Type),
		Recipient: req.Recipient,
		Subject:   req.Subject,
		Content:   req.Content,
	}

	jobID, err := h.store.Enqueue(c.Request.Context(), &job)
	if err != nil {
		h.logger.Error("Failed to enqueue notification", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to enqueue notification",
		})
		return
	}

	// The row is durable at this point; the broker hint only shaves pickup
	// latency. A failed publish is logged and the request still succeeds,
	// because workers also poll.
	if h.wake != nil {
		body, _ := json.Marshal(wakeHint{JobID: jobID})
		if err := h.wake.PublishWithRetry(c.Request.Context(), body, "application/json"); err != nil {
			h.logger.Warn("Failed to publish wake hint, workers will poll",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
		}
	}

	c.JSON(http.StatusAccepted, toDTO(&job))
}

// GetNotification handles GET /api/v1/notifications/:notification_id
// Returns the full status record for one notification
func (h *NotificationHandler) GetNotification(c *gin.Context) {
	notificationID := c.Param("notification_id")

	if _, err := uuid.Parse(notificationID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "notification_id must be a valid UUID",
		})
		return
	}

	job, err := h.store.GetByID(c.Request.Context(), notificationID)
	if err != nil {
		if errors.Is(err, notification.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Notification not found",
			})
			return
		}
		h.logger.Error("Failed to get notification", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get notification",
		})
		return
	}

	c.JSON(http.StatusOK, toDTO(job))
}

// ListNotifications handles GET /api/v1/notifications
// Lists notification history with filtering and keyset pagination
func (h *NotificationHandler) ListNotifications(c *gin.Context) {
	var req dto.ListNotificationsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.Type != "" && !notification.Type(req.Type).Valid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "type must be one of: email, push",
		})
		return
	}

	if req.Status != "" && !validStatusFilter(req.Status) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "status must be one of: QUEUED, IN_FLIGHT, SENT, FAILED",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}
	if req.PageSize > 100 {
		req.PageSize = 100
	}

	cursor, err := DecodeCursor(req.Cursor)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	filter := queue.Filter{
		UserID:    req.UserID,
		Type:      req.Type,
		Status:    req.Status,
		Recipient: req.Recipient,
		PageSize:  req.PageSize,
		Cursor:    cursor,
	}

	jobs, err := h.store.List(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list notifications", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list notifications",
		})
		return
	}

	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	items := make([]dto.NotificationDTO, len(jobs))
	for i := range jobs {
		items[i] = toDTO(&jobs[i])
	}

	var nextCursor string
	if hasMore {
		last := jobs[len(jobs)-1]
		nextCursor = EncodeCursor(&queue.Cursor{
			EnqueuedAt: last.EnqueuedAt,
			JobID:      last.ID,
		})
	}

	c.JSON(http.StatusOK, dto.ListNotificationsResponse{
		Notifications: items,
		NextCursor:    nextCursor,
	})
}

// DetailedHealth handles GET /health/detailed
// Reports dependency status plus queue depth per notification status
func (h *NotificationHandler) DetailedHealth(c *gin.Context) {
	healthy := true

	dbStatus := "ok"
	if h.db != nil {
		if err := h.db.HealthCheck(c.Request.Context()); err != nil {
			dbStatus = err.Error()
			healthy = false
		}
	}

	brokerStatus := "ok"
	if h.broker != nil && !h.broker.IsConnected() {
		brokerStatus = "disconnected"
		healthy = false
	}

	var counts map[string]int
	if healthy {
		var err error
		counts, err = h.store.CountByStatus(c.Request.Context())
		if err != nil {
			h.logger.Error("Failed to count notifications", slog.String("error", err.Error()))
			healthy = false
		}
	}

	status := http.StatusOK
	statusText := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		statusText = "unhealthy"
	}

	c.JSON(status, gin.H{
		"status":        statusText,
		"service":       h.serviceName,
		"database":      dbStatus,
		"broker":        brokerStatus,
		"notifications": counts,
	})
}

func validStatusFilter(status string) bool {
	switch status {
	case notification.StatusQueued, notification.StatusInFlight,
		notification.StatusSent, notification.StatusFailed:
		return true
	}
	return false
}

func toDTO(job *notification.Job) dto.NotificationDTO {
	d := dto.NotificationDTO{
		ID:            job.ID,
		UserID:        job.UserID,
		Type:          string(job.Type),
		Recipient:     job.Recipient,
		Subject:       job.Subject,
		Content:       job.Content,
		Status:        job.Status,
		AttemptCount:  job.AttemptCount,
		MaxAttempts:   job.MaxAttempts,
		FailureReason: job.FailureReason,
		EnqueuedAt:    job.EnqueuedAt.Format(time.RFC3339),
	}
	if job.CompletedAt != nil {
		d.CompletedAt = job.CompletedAt.Format(time.RFC3339)
	}
	return d
}
