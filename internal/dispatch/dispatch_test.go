package dispatch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridesharepro/notification-service/internal/notification"
)

type stubDispatcher struct {
	sent []string
	err  error
}

func (s *stubDispatcher) Send(_ context.Context, job *notification.Job) error {
	s.sent = append(s.sent, job.ID)
	return s.err
}

func TestRouter_Send(t *testing.T) {
	email := &stubDispatcher{}
	push := &stubDispatcher{}

	router := NewRouter(map[notification.Type]Dispatcher{
		notification.TypeEmail: email,
		notification.TypePush:  push,
	})

	t.Run("routes email jobs to the email dispatcher", func(t *testing.T) {
		job := &notification.Job{ID: "job-1", Type: notification.TypeEmail}
		require.NoError(t, router.Send(context.Background(), job))
		assert.Equal(t, []string{"job-1"}, email.sent)
		assert.Empty(t, push.sent)
	})

	t.Run("routes push jobs to the push dispatcher", func(t *testing.T) {
		job := &notification.Job{ID: "job-2", Type: notification.TypePush}
		require.NoError(t, router.Send(context.Background(), job))
		assert.Equal(t, []string{"job-2"}, push.sent)
	})

	t.Run("unknown type is a permanent failure", func(t *testing.T) {
		job := &notification.Job{ID: "job-3", Type: notification.Type("carrier-pigeon")}
		err := router.Send(context.Background(), job)
		require.Error(t, err)
		assert.True(t, notification.IsPermanent(err))
		assert.False(t, notification.IsTransient(err))
	})
}

func TestNewEmailDispatcher_Validation(t *testing.T) {
	tests := []struct {
		name      string
		config    EmailConfig
		errString string
	}{
		{
			name:      "missing host",
			config:    EmailConfig{From: "noreply@rideshare.example"},
			errString: "smtp host is required",
		},
		{
			name:      "missing from address",
			config:    EmailConfig{Host: "smtp.example.com"},
			errString: "from address is required",
		},
		{
			name:      "malformed from address",
			config:    EmailConfig{Host: "smtp.example.com", From: "not-an-address"},
			errString: "invalid from address",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewEmailDispatcher(tt.config)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errString)
			assert.Nil(t, d)
		})
	}
}

func TestEmailDispatcher_InvalidRecipientIsPermanent(t *testing.T) {
	d, err := NewEmailDispatcher(EmailConfig{
		Host: "smtp.example.com",
		Port: 587,
		From: "noreply@rideshare.example",
	})
	require.NoError(t, err)

	job := &notification.Job{
		ID:        "job-1",
		Type:      notification.TypeEmail,
		Recipient: "definitely not an email",
		Content:   "hello",
	}

	err = d.Send(context.Background(), job)
	require.Error(t, err)
	assert.True(t, notification.IsPermanent(err))
}

func TestNewPushDispatcher_Validation(t *testing.T) {
	_, err := NewPushDispatcher(PushConfig{APIKey: "key"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "endpoint is required")

	_, err = NewPushDispatcher(PushConfig{Endpoint: "https://push.example.com/send"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api key is required")
}

func TestPushDispatcher_Send(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		wantErr       bool
		wantTransient bool
		wantPermanent bool
	}{
		{name: "accepted", status: http.StatusOK},
		{name: "created", status: http.StatusCreated},
		{name: "server error is transient", status: http.StatusInternalServerError, wantErr: true, wantTransient: true},
		{name: "throttling is transient", status: http.StatusTooManyRequests, wantErr: true, wantTransient: true},
		{name: "bad token is permanent", status: http.StatusBadRequest, wantErr: true, wantPermanent: true},
		{name: "unregistered device is permanent", status: http.StatusNotFound, wantErr: true, wantPermanent: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotAuth string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotAuth = r.Header.Get("Authorization")
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			d, err := NewPushDispatcher(PushConfig{Endpoint: srv.URL, APIKey: "test-key"})
			require.NoError(t, err)

			job := &notification.Job{
				ID:        "job-1",
				Type:      notification.TypePush,
				Recipient: "device-token-123",
				Subject:   "Ride arriving",
				Content:   "Your driver is 2 minutes away",
			}

			err = d.Send(context.Background(), job)

			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, tt.wantTransient, notification.IsTransient(err))
				assert.Equal(t, tt.wantPermanent, notification.IsPermanent(err))
			} else {
				require.NoError(t, err)
			}

			assert.Equal(t, "Bearer test-key", gotAuth)
		})
	}
}

func TestPushDispatcher_NetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	d, err := NewPushDispatcher(PushConfig{Endpoint: srv.URL, APIKey: "test-key"})
	require.NoError(t, err)

	err = d.Send(context.Background(), &notification.Job{
		ID:        "job-1",
		Type:      notification.TypePush,
		Recipient: "device-token-123",
		Content:   "hello",
	})
	require.Error(t, err)
	assert.True(t, notification.IsTransient(err))
}
