package dispatch

import (
	"context"
	"fmt"

	"github.com/ridesharepro/notification-service/internal/notification"
)

// Dispatcher delivers a notification to its provider. A nil return means the
// provider accepted the message. Ordinary delivery failures come back wrapped
// as notification.TransientError or notification.PermanentError; a plain
// error indicates a programming or configuration problem.
//
// Dispatchers know nothing about the queue.
type Dispatcher interface {
	Send(ctx context.Context, job *notification.Job) error
}

// Router selects a Dispatcher by notification type. Adding a channel means
// registering another Dispatcher, not editing a branch chain.
type Router struct {
	dispatchers map[notification.Type]Dispatcher
}

// NewRouter builds a Router over the given per-type dispatchers.
func NewRouter(dispatchers map[notification.Type]Dispatcher) *Router {
	return &Router{dispatchers: dispatchers}
}

// Send routes job to the dispatcher registered for its type. An unknown type
// is a permanent failure, never a crash.
func (r *Router) Send(ctx context.Context, job *notification.Job) error {
	d, ok := r.dispatchers[job.Type]
	if !ok {
		return notification.NewPermanent(fmt.Errorf("unknown notification type %q", job.Type))
	}

	return d.Send(ctx, job)
}
