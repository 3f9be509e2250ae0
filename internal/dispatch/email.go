package dispatch

import (
	"context"
	"fmt"

	"github.com/wneessen/go-mail"

	"github.com/ridesharepro/notification-service/internal/notification"
)

// EmailConfig holds SMTP provider settings.
type EmailConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	From       string `yaml:"from"`
	Encryption string `yaml:"encryption"` // ssl_tls, starttls, none
}

// EmailDispatcher delivers email notifications over SMTP.
type EmailDispatcher struct {
	config EmailConfig
	client *mail.Client
}

// NewEmailDispatcher validates the SMTP configuration and prepares a client.
// Configuration errors here are fatal to the worker process, not to any job.
func NewEmailDispatcher(cfg EmailConfig) (*EmailDispatcher, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("email dispatcher: smtp host is required")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("email dispatcher: from address is required")
	}

	// Catch a malformed from address at startup rather than on every send.
	if err := mail.NewMsg().From(cfg.From); err != nil {
		return nil, fmt.Errorf("email dispatcher: invalid from address %q: %w", cfg.From, err)
	}

	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPolicy(tlsPolicyFromEncryption(cfg.Encryption)),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("email dispatcher: failed to create mail client: %w", err)
	}

	return &EmailDispatcher{config: cfg, client: client}, nil
}

// Send delivers job as an email. An unparseable recipient is permanent;
// dial and transmission errors are transient.
func (d *EmailDispatcher) Send(ctx context.Context, job *notification.Job) error {
	m := mail.NewMsg()
	if err := m.From(d.config.From); err != nil {
		return fmt.Errorf("invalid from address: %w", err)
	}
	if err := m.To(job.Recipient); err != nil {
		return notification.NewPermanent(fmt.Errorf("invalid recipient %q: %w", job.Recipient, err))
	}

	subject := job.Subject
	if subject == "" {
		subject = "Notification"
	}
	m.Subject(subject)
	m.SetBodyString(mail.TypeTextPlain, job.Content)

	if err := d.client.DialAndSendWithContext(ctx, m); err != nil {
		return notification.NewTransient(fmt.Errorf("smtp send to %s failed: %w", job.Recipient, err))
	}

	return nil
}

func tlsPolicyFromEncryption(enc string) mail.TLSPolicy {
	switch enc {
	case "ssl_tls":
		return mail.TLSMandatory
	case "starttls":
		return mail.TLSOpportunistic
	default:
		return mail.NoTLS
	}
}
