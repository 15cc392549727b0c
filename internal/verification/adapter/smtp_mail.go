package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"gopkg.in/gomail.v2"
)

// MailSender delivers a plain-text/HTML email.
type MailSender interface {
	SendMail(ctx context.Context, to, subject, htmlBody string) error
}

// mailDialer is the subset of *gomail.Dialer the SMTP sender uses.
type mailDialer interface {
	DialAndSend(m ...*gomail.Message) error
}

var _ MailSender = (*SMTPMailSender)(nil)
var _ MailSender = (*LogMailSender)(nil)

// SMTPConfig holds SMTP relay parameters.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPMailSender sends mail through an SMTP relay using gomail.
type SMTPMailSender struct {
	dialer mailDialer
	from   string
}

// NewSMTPMailSender creates a sender that dials cfg.Host on every message.
func NewSMTPMailSender(cfg SMTPConfig) *SMTPMailSender {
	return &SMTPMailSender{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
	}
}

// SendMail sends one message. gomail has no context support, so the send
// runs in its own goroutine and SendMail returns when either it finishes or
// ctx is done; an abandoned send completes or fails on its own.
func (s *SMTPMailSender) SendMail(ctx context.Context, to, subject, htmlBody string) error {
	ctx, span := tracer.Start(ctx, "smtp.send")
	defer span.End()

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", htmlBody)

	done := make(chan error, 1)
	go func() { done <- s.dialer.DialAndSend(m) }()

	select {
	case err := <-done:
		if err != nil {
			fail(span, err)
			return fmt.Errorf("smtp: send to %s: %w", maskEmail(to), err)
		}
		return nil
	case <-ctx.Done():
		fail(span, ctx.Err())
		return fmt.Errorf("smtp: send to %s: %w", maskEmail(to), ctx.Err())
	}
}

// LogMailSender logs mail instead of sending it. Bodies are logged only at
// debug level.
type LogMailSender struct {
	logger *slog.Logger
}

func NewLogMailSender(logger *slog.Logger) *LogMailSender {
	return &LogMailSender{logger: logger}
}

func (s *LogMailSender) SendMail(ctx context.Context, to, subject, htmlBody string) error {
	attrs := []any{
		slog.String("to", maskEmail(to)),
		slog.String("subject", subject),
	}
	if s.logger.Enabled(ctx, slog.LevelDebug) {
		attrs = append(attrs, slog.String("body", htmlBody))
	}
	s.logger.InfoContext(ctx, "mail delivery (log-only)", attrs...)
	return nil
}

// maskEmail keeps the first character of the local part and the domain.
func maskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return "****"
	}
	return email[:1] + "***" + email[at:]
}
