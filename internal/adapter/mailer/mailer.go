// Package mailer sends notification email over SMTP.
package mailer

import (
	"context"
	"fmt"

	"github.com/wneessen/go-mail"

	"github.com/martijn/snapkeep/internal/core/domain"
	"github.com/martijn/snapkeep/internal/core/notify"
	"github.com/martijn/snapkeep/pkg/config"
)

type Mailer struct {
	host     string
	port     int
	username string
	password string
	from     string
	tls      string
}

var _ notify.EmailSender = (*Mailer)(nil)

// New returns nil when no SMTP host is configured, which leaves the email
// channel unavailable.
func New(cfg config.SMTPConfig) *Mailer {
	if cfg.Host == "" {
		return nil
	}
	return &Mailer{
		host:     cfg.Host,
		port:     cfg.Port,
		username: cfg.Username,
		password: cfg.Password,
		from:     cfg.From,
		tls:      cfg.TLS,
	}
}

func (m *Mailer) buildMessage(recipients []string, msg domain.NotificationMessage) (*mail.Msg, error) {
	if len(recipients) == 0 {
		return nil, fmt.Errorf("no recipients")
	}
	message := mail.NewMsg()
	if err := message.From(m.from); err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", m.from, err)
	}
	if err := message.To(recipients...); err != nil {
		return nil, fmt.Errorf("invalid recipients: %w", err)
	}
	message.Subject(msg.Subject)
	message.SetBodyString(mail.TypeTextPlain, msg.Message)
	return message, nil
}

func (m *Mailer) client() (*mail.Client, error) {
	opts := []mail.Option{mail.WithPort(m.port)}
	switch m.tls {
	case "tls":
		opts = append(opts, mail.WithSSL())
	case "none":
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	default:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	}
	if m.username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(m.username),
			mail.WithPassword(m.password),
		)
	}
	return mail.NewClient(m.host, opts...)
}

func (m *Mailer) SendEmail(ctx context.Context, recipients []string, msg domain.NotificationMessage) error {
	message, err := m.buildMessage(recipients, msg)
	if err != nil {
		return err
	}
	client, err := m.client()
	if err != nil {
		return fmt.Errorf("failed to create smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, message); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}
