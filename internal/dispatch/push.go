package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ridesharepro/notification-service/internal/notification"
)

// PushConfig holds push provider settings.
type PushConfig struct {
	Endpoint string        `yaml:"endpoint"`
	APIKey   string        `yaml:"api_key"`
	Timeout  time.Duration `yaml:"timeout"`
}

// PushDispatcher delivers push notifications through the provider's HTTP API.
// The job recipient is the device token.
type PushDispatcher struct {
	config PushConfig
	client *http.Client
}

type pushMessage struct {
	Token string `json:"token"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

// NewPushDispatcher validates the provider configuration. Missing
// credentials are fatal to the worker process, not to any job.
func NewPushDispatcher(cfg PushConfig) (*PushDispatcher, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("push dispatcher: endpoint is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("push dispatcher: api key is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &PushDispatcher{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Send posts job to the push provider. Network errors, throttling and
// provider 5xx are transient; any other 4xx is permanent.
func (d *PushDispatcher) Send(ctx context.Context, job *notification.Job) error {
	title := job.Subject
	if title == "" {
		title = "Notification"
	}

	body, err := json.Marshal(pushMessage{
		Token: job.Recipient,
		Title: title,
		Body:  job.Content,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal push message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+d.config.APIKey)

	resp, err := d.client.Do(req)
	if err != nil {
		return notification.NewTransient(fmt.Errorf("push request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	// Keep enough of the response to make the failure reason readable.
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	provErr := fmt.Errorf("push provider returned %d: %s", resp.StatusCode, bytes.TrimSpace(detail))

	switch {
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return notification.NewTransient(provErr)
	default:
		return notification.NewPermanent(provErr)
	}
}
