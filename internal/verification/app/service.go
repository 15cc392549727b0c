// Package app implements the verification gateway's use cases: code
// issuance, quota enforcement, timing-safe verification and session promotion.
package app

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/aelexs/verification-gateway/internal/domain"
)

var tracer = otel.Tracer("verification/app")

var (
	otpIssuedTotal       metric.Int64Counter
	otpVerifyTotal       metric.Int64Counter
	rateLimitsTotal      metric.Int64Counter
	sessionsIssuedTotal  metric.Int64Counter
	welcomeNotifications metric.Int64Counter
)

func init() {
	m := otel.Meter("verification/app")

	otpIssuedTotal, _ = m.Int64Counter("otp_issued_total",
		metric.WithDescription("Total verification codes issued"))
	otpVerifyTotal, _ = m.Int64Counter("otp_verify_total",
		metric.WithDescription("Total verification attempts by result"))
	rateLimitsTotal, _ = m.Int64Counter("security_rate_limits_total",
		metric.WithDescription("Total resend/attempt quota refusals"))
	sessionsIssuedTotal, _ = m.Int64Counter("sessions_issued_total",
		metric.WithDescription("Total sessions issued after verification"))
	welcomeNotifications, _ = m.Int64Counter("welcome_notifications_total",
		metric.WithDescription("Welcome notification outcomes"))
}

// KVStore is the expiring key-value capability behind codes and counters.
// Implementations must make IncrementWithTTL a single atomic operation that
// sets the TTL only when it creates the key.
type KVStore interface {
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error
	// Get reports found=false with a nil error when key is absent.
	Get(ctx context.Context, key string) (value string, found bool, err error)
	IncrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Decrement lowers a live positive counter by one and keeps its TTL. An
	// absent or zero counter is left alone and reported as 0.
	Decrement(ctx context.Context, key string) (int64, error)
	// Delete reports whether this call removed the key.
	Delete(ctx context.Context, key string) (bool, error)
	// TTL returns the remaining lifetime of key, or zero when absent.
	TTL(ctx context.Context, key string) (time.Duration, error)
}

// Account is the slice of an account record the gateway reads and mutates.
type Account struct {
	ID            string
	Phone         string
	Email         string
	PhoneVerified bool
	EmailVerified bool
}

// Verified reports the flag for ch.
func (a Account) Verified(ch domain.Channel) bool {
	if ch == domain.ChannelPhone {
		return a.PhoneVerified
	}
	return a.EmailVerified
}

// VerifiedChannels lists the channels whose flag is set.
func (a Account) VerifiedChannels() []domain.Channel {
	var out []domain.Channel
	if a.PhoneVerified {
		out = append(out, domain.ChannelPhone)
	}
	if a.EmailVerified {
		out = append(out, domain.ChannelEmail)
	}
	return out
}

// AccountStore is the durable account store. Only the orchestrator writes to it.
type AccountStore interface {
	// FindByIdentifier returns domain.ErrNotFound when no account owns id.
	FindByIdentifier(ctx context.Context, id domain.Identifier) (*Account, error)
	// MarkVerified sets the verified flag for channel and returns the updated account.
	MarkVerified(ctx context.Context, accountID string, channel domain.Channel) (*Account, error)
	WelcomeClaimer
}

// WelcomeClaimer records that the one-time welcome notification was sent.
type WelcomeClaimer interface {
	// ClaimWelcome returns true for exactly one caller per account.
	ClaimWelcome(ctx context.Context, accountID string, at time.Time) (bool, error)
}

// Session is the credential handed out once verification completes.
type Session struct {
	ID          string
	AccountID   string
	AccessToken string
	ExpiresAt   time.Time
}

// SessionRequest describes the session to mint.
type SessionRequest struct {
	Account  Account
	Purpose  domain.Purpose
	Channels []domain.Channel
}

// SessionIssuer mints session credentials.
type SessionIssuer interface {
	IssueSession(ctx context.Context, req SessionRequest) (*Session, error)
}

// WelcomeSender delivers the one-time welcome notification.
type WelcomeSender interface {
	SendWelcome(ctx context.Context, account Account) error
}
