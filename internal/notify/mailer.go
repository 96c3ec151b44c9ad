package notify

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/wneessen/go-mail"
)

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type SMTPMailer struct {
	client *mail.Client
	from   string
}

func NewSMTPMailer(cfg SMTPConfig) (*SMTPMailer, error) {
	opts := []mail.Option{mail.WithPort(cfg.Port), mail.WithTLSPortPolicy(mail.TLSOpportunistic)}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	c, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "smtp client")
	}
	return &SMTPMailer{client: c, from: cfg.From}, nil
}

func (m *SMTPMailer) Send(ctx context.Context, to, subject, body string) error {
	msg := mail.NewMsg()
	if err := msg.From(m.from); err != nil {
		return errors.Wrapf(err, "from address %q", m.from)
	}
	if err := msg.To(to); err != nil {
		return errors.Wrapf(err, "to address %q", to)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)
	return m.client.DialAndSendWithContext(ctx, msg)
}
