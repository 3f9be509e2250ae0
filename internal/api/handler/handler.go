package handler

import (
	"context"
	"log/slog"

	"github.com/ridesharepro/notification-service/internal/notification"
	"github.com/ridesharepro/notification-service/internal/queue"
)

// NotificationStore is the queue surface the API writes to and reads from.
type NotificationStore interface {
	Enqueue(ctx context.Context, job *notification.Job) (string, error)
	GetByID(ctx context.Context, jobID string) (*notification.Job, error)
	List(ctx context.Context, filter queue.Filter) ([]notification.Job, error)
	CountByStatus(ctx context.Context) (map[string]int, error)
}

// WakePublisher pushes a hint to the broker that a new job is waiting.
type WakePublisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// HealthChecker reports whether the database is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// BrokerStatus reports whether the broker connection is alive.
type BrokerStatus interface {
	IsConnected() bool
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger      *slog.Logger
	Store       NotificationStore
	Wake        WakePublisher
	DB          HealthChecker
	Broker      BrokerStatus
	ServiceName string
}

// NotificationHandler handles notification HTTP requests
type NotificationHandler struct {
	logger      *slog.Logger
	store       NotificationStore
	wake        WakePublisher
	db          HealthChecker
	broker      BrokerStatus
	serviceName string
}

// NewNotificationHandler creates a new NotificationHandler instance
func NewNotificationHandler(deps *Dependencies) *NotificationHandler {
	return &NotificationHandler{
		logger:      deps.Logger,
		store:       deps.Store,
		wake:        deps.Wake,
		db:          deps.DB,
		broker:      deps.Broker,
		serviceName: deps.ServiceName,
	}
}
