package adapter

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aelexs/verification-gateway/internal/sns"
)

// SMSSender delivers a text message to an E.164 phone number.
type SMSSender interface {
	SendSMS(ctx context.Context, phone, message string) error
}

// snsPublisher is a narrow, consumer-defined interface for the subset of SNS
// operations required by the SMS sender. The real *sns.Client satisfies it.
type snsPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Compile-time interface satisfaction checks.
var _ SMSSender = (*SNSSMSSender)(nil)
var _ SMSSender = (*LogSMSSender)(nil)

// SNSSMSSender delivers SMS via Amazon SNS as transactional messages.
type SNSSMSSender struct {
	client   snsPublisher
	senderID string
}

// NewSNSSMSSender creates an SNSSMSSender backed by the given SNS client.
// senderID is optional and only honoured in regions that support it.
func NewSNSSMSSender(client snsPublisher, senderID string) *SNSSMSSender {
	return &SNSSMSSender{client: client, senderID: senderID}
}

// SendSMS publishes message to phone via SNS.
func (p *SNSSMSSender) SendSMS(ctx context.Context, phone, message string) error {
	ctx, span := tracer.Start(ctx, "sns.publish_sms")
	defer span.End()

	attrs := map[string]sns.MessageAttributeValue{
		sns.AttrSMSType: sns.StringAttribute("Transactional"),
	}
	if p.senderID != "" {
		attrs[sns.AttrSenderID] = sns.StringAttribute(p.senderID)
	}

	_, err := p.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber:       &phone,
		Message:           &message,
		MessageAttributes: attrs,
	})
	if err != nil {
		fail(span, err)
		return fmt.Errorf("sns sms: send to %s: %w", maskPhone(phone), err)
	}

	return nil
}

// LogSMSSender logs SMS delivery instead of sending. The message body, which
// carries the code, is included only when debug logging is enabled.
type LogSMSSender struct {
	logger *slog.Logger
}

// NewLogSMSSender creates a LogSMSSender that writes events to logger.
func NewLogSMSSender(logger *slog.Logger) *LogSMSSender {
	return &LogSMSSender{logger: logger}
}

// SendSMS logs the message with a masked phone number. It never sends a real SMS.
func (p *LogSMSSender) SendSMS(ctx context.Context, phone, message string) error {
	attrs := []any{slog.String("phone", maskPhone(phone))}
	if p.logger.Enabled(ctx, slog.LevelDebug) {
		attrs = append(attrs, slog.String("message", message))
	}
	p.logger.InfoContext(ctx, "sms delivery (log-only)", attrs...)
	return nil
}

// maskPhone returns a masked representation of the phone number showing only
// the last 4 digits. Numbers shorter than 5 characters are fully masked.
func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return "***" + phone[len(phone)-4:]
}
