package worker

import (
	"context"
	"encoding/json"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

type wakeMessage struct {
	JobID string `json:"job_id"`
}

// consumeWakeSignals drains broker hints about newly enqueued jobs and nudges
// an idle worker loop. Hints are an optimization only: the durable queue is
// authoritative, so a lost or malformed hint delays pickup by at most one
// idle-poll interval.
func (w *Worker) consumeWakeSignals(ctx context.Context, deliveries <-chan amqp.Delivery) {
	defer w.wg.Done()

	w.logger.Info("Wake consumer started",
		slog.String("worker_id", w.workerID),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Wake consumer stopping")
			return
		case <-w.stopChan:
			w.logger.Info("Wake consumer stopping")
			return
		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("Wake delivery channel closed, falling back to idle polling")
				return
			}

			var msg wakeMessage
			if err := json.Unmarshal(delivery.Body, &msg); err != nil {
				w.logger.Warn("Discarding malformed wake message",
					slog.String("error", err.Error()),
				)
				if nackErr := delivery.Nack(false, false); nackErr != nil {
					w.logger.Error("Failed to nack wake message",
						slog.String("error", nackErr.Error()),
					)
				}
				continue
			}

			w.logger.Debug("Received wake hint",
				slog.String("job_id", msg.JobID),
			)

			// Non-blocking: one pending wake is enough, the loops drain the
			// queue until empty anyway.
			select {
			case w.wake <- struct{}{}:
			default:
			}

			if ackErr := delivery.Ack(false); ackErr != nil {
				w.logger.Error("Failed to ack wake message",
					slog.String("error", ackErr.Error()),
				)
			}
		}
	}
}
