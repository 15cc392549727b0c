package app

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/aelexs/verification-gateway/internal/domain"
)

// RateLimiterConfig bounds code issuance and verification attempts per
// (purpose, identifier).
type RateLimiterConfig struct {
	ResendLimit   int
	ResendWindow  time.Duration
	AttemptLimit  int
	AttemptWindow time.Duration
}

// RateLimiter enforces the resend and attempt quotas. Counters live in the
// ephemeral store and expire with their window.
type RateLimiter struct {
	store *EphemeralStore
	cfg   RateLimiterConfig
}

func NewRateLimiter(store *EphemeralStore, cfg RateLimiterConfig) *RateLimiter {
	if cfg.ResendLimit <= 0 {
		cfg.ResendLimit = domain.DefaultResendLimit
	}
	if cfg.ResendWindow <= 0 {
		cfg.ResendWindow = domain.DefaultResendWindow
	}
	if cfg.AttemptLimit <= 0 {
		cfg.AttemptLimit = domain.DefaultAttemptLimit
	}
	if cfg.AttemptWindow <= 0 {
		cfg.AttemptWindow = domain.DefaultCodeTTL
	}
	return &RateLimiter{store: store, cfg: cfg}
}

// ResendLimit returns the configured issuance quota.
func (r *RateLimiter) ResendLimit() int { return r.cfg.ResendLimit }

// ResendCount returns issuances recorded in the current window.
func (r *RateLimiter) ResendCount(ctx context.Context, purpose domain.Purpose, idHash string) (int64, error) {
	return r.store.count(ctx, resendCounter, purpose, idHash)
}

// CheckResend refuses when the quota is already used up. It does not consume
// quota; ReserveResend does that.
func (r *RateLimiter) CheckResend(ctx context.Context, purpose domain.Purpose, idHash string) error {
	n, err := r.ResendCount(ctx, purpose, idHash)
	if err != nil {
		return err
	}
	if n < int64(r.cfg.ResendLimit) {
		return nil
	}
	return r.refuse(ctx, resendCounter, purpose, idHash, domain.ErrResendLimitExceeded)
}

// IncrementResend records one issuance and returns the new count.
func (r *RateLimiter) IncrementResend(ctx context.Context, purpose domain.Purpose, idHash string) (int64, error) {
	return r.store.increment(ctx, resendCounter, purpose, idHash, r.cfg.ResendWindow)
}

// ReserveResend claims one issuance slot with a single atomic increment and
// returns the new count. Concurrent callers past the limit are refused and
// their slot is handed back, so at most ResendLimit reservations succeed per
// window.
func (r *RateLimiter) ReserveResend(ctx context.Context, purpose domain.Purpose, idHash string) (int64, error) {
	n, err := r.IncrementResend(ctx, purpose, idHash)
	if err != nil {
		return 0, err
	}
	if n <= int64(r.cfg.ResendLimit) {
		return n, nil
	}
	_ = r.ReleaseResend(ctx, purpose, idHash)
	return 0, r.refuse(ctx, resendCounter, purpose, idHash, domain.ErrResendLimitExceeded)
}

// ReleaseResend returns a reserved slot whose code never went out.
func (r *RateLimiter) ReleaseResend(ctx context.Context, purpose domain.Purpose, idHash string) error {
	_, err := r.store.decrement(ctx, resendCounter, purpose, idHash)
	return err
}

// RecordAttempt counts one verification attempt and refuses once the count
// passes the limit. The attempt is counted even when refused.
func (r *RateLimiter) RecordAttempt(ctx context.Context, purpose domain.Purpose, idHash string) error {
	n, err := r.store.increment(ctx, attemptCounter, purpose, idHash, r.cfg.AttemptWindow)
	if err != nil {
		return err
	}
	if n <= int64(r.cfg.AttemptLimit) {
		return nil
	}
	return r.refuse(ctx, attemptCounter, purpose, idHash, domain.ErrAttemptLimitExceeded)
}

// ResetAttempts clears the attempt counter; a fresh code gets a fresh budget.
func (r *RateLimiter) ResetAttempts(ctx context.Context, purpose domain.Purpose, idHash string) error {
	return r.store.reset(ctx, attemptCounter, purpose, idHash)
}

func (r *RateLimiter) refuse(ctx context.Context, c counter, purpose domain.Purpose, idHash string, sentinel error) error {
	rateLimitsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("limit_type", string(c)),
		attribute.String("purpose", string(purpose)),
	))
	retryAfter, err := r.store.resetsIn(ctx, c, purpose, idHash)
	if err != nil {
		// The refusal stands; only the hint is lost.
		retryAfter = 0
	}
	return fmt.Errorf("%s: %w", purpose, domain.NewQuotaError(sentinel, retryAfter))
}
