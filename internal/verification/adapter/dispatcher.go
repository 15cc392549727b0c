package adapter

import (
	"context"
	"errors"
	"fmt"
	"html"

	"github.com/aelexs/verification-gateway/internal/auth"
	"github.com/aelexs/verification-gateway/internal/domain"
	"github.com/aelexs/verification-gateway/internal/verification/app"
)

var _ auth.Dispatcher = (*ChannelDispatcher)(nil)
var _ app.WelcomeSender = (*WelcomeNotifier)(nil)

// ChannelDispatcher routes codes to SMS or email by identifier channel.
type ChannelDispatcher struct {
	sms     SMSSender
	mail    MailSender
	appName string
}

func NewChannelDispatcher(sms SMSSender, mail MailSender, appName string) *ChannelDispatcher {
	return &ChannelDispatcher{sms: sms, mail: mail, appName: appName}
}

func purposeText(p domain.Purpose) string {
	switch p {
	case domain.PurposeSignup:
		return "complete your sign-up"
	case domain.PurposePasswordReset:
		return "reset your password"
	default:
		return "sign in"
	}
}

// SendCode formats msg for its channel and hands it to the transport.
func (d *ChannelDispatcher) SendCode(ctx context.Context, msg auth.CodeMessage) error {
	minutes := int(msg.ExpiresIn.Minutes())
	switch msg.Channel {
	case domain.ChannelPhone:
		body := fmt.Sprintf("%s: %s is your code to %s. It expires in %d minutes.",
			d.appName, msg.Code, purposeText(msg.Purpose), minutes)
		return d.sms.SendSMS(ctx, msg.To, body)
	case domain.ChannelEmail:
		subject := fmt.Sprintf("Your %s verification code", d.appName)
		body := fmt.Sprintf("<p>Use <strong>%s</strong> to %s.</p><p>The code expires in %d minutes. If you did not ask for it, ignore this email.</p>",
			html.EscapeString(msg.Code), purposeText(msg.Purpose), minutes)
		return d.mail.SendMail(ctx, msg.To, subject, body)
	default:
		return fmt.Errorf("dispatch: unknown channel %q: %w", msg.Channel, domain.ErrInvalidIdentifier)
	}
}

// WelcomeNotifier sends the one-time welcome message, by email when the
// account has one and by SMS otherwise.
type WelcomeNotifier struct {
	sms     SMSSender
	mail    MailSender
	appName string
}

func NewWelcomeNotifier(sms SMSSender, mail MailSender, appName string) *WelcomeNotifier {
	return &WelcomeNotifier{sms: sms, mail: mail, appName: appName}
}

func (w *WelcomeNotifier) SendWelcome(ctx context.Context, account app.Account) error {
	switch {
	case account.Email != "":
		subject := fmt.Sprintf("Welcome to %s", w.appName)
		body := fmt.Sprintf("<p>Welcome to %s! Your account is verified and ready to use.</p>", html.EscapeString(w.appName))
		return w.mail.SendMail(ctx, account.Email, subject, body)
	case account.Phone != "":
		return w.sms.SendSMS(ctx, account.Phone, fmt.Sprintf("Welcome to %s! Your account is ready.", w.appName))
	default:
		return errors.New("welcome: account has no contact channel")
	}
}
