package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/aelexs/verification-gateway/internal/auth"
	"github.com/aelexs/verification-gateway/internal/domain"
	"github.com/aelexs/verification-gateway/internal/observability"
)

// LifecycleConfig holds the dependencies of a Lifecycle.
type LifecycleConfig struct {
	Store      *EphemeralStore
	Limiter    *RateLimiter
	Dispatcher auth.Dispatcher
	Clock      domain.Clock
	Logger     *slog.Logger

	Pepper          domain.SecretString
	CodeLength      int
	CodeTTL         time.Duration
	DispatchTimeout time.Duration

	// GenerateCode overrides the code source. Defaults to auth.GenerateCode.
	GenerateCode func(length int) (string, error)
}

// Lifecycle issues, counts and consumes one-time codes. A code moves from
// Issued to Consumed or Expired and is never revived.
type Lifecycle struct {
	store      *EphemeralStore
	limiter    *RateLimiter
	dispatcher auth.Dispatcher
	clock      domain.Clock
	logger     *slog.Logger

	pepper          []byte
	codeLength      int
	codeTTL         time.Duration
	dispatchTimeout time.Duration
	generate        func(int) (string, error)
}

func NewLifecycle(cfg LifecycleConfig) *Lifecycle {
	l := &Lifecycle{
		store:           cfg.Store,
		limiter:         cfg.Limiter,
		dispatcher:      cfg.Dispatcher,
		clock:           cfg.Clock,
		logger:          cfg.Logger,
		pepper:          cfg.Pepper.Bytes(),
		codeLength:      cfg.CodeLength,
		codeTTL:         cfg.CodeTTL,
		dispatchTimeout: cfg.DispatchTimeout,
		generate:        cfg.GenerateCode,
	}
	if l.clock == nil {
		l.clock = domain.RealClock{}
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	if l.codeLength == 0 {
		l.codeLength = domain.DefaultCodeLength
	}
	if l.codeTTL <= 0 {
		l.codeTTL = domain.DefaultCodeTTL
	}
	if l.dispatchTimeout <= 0 {
		l.dispatchTimeout = domain.DispatchTimeout
	}
	if l.generate == nil {
		l.generate = auth.GenerateCode
	}
	return l
}

// IssueResult describes a dispatched code.
type IssueResult struct {
	ExpiresAt        time.Time
	ResendsRemaining int
}

// Issue generates a code for (id, purpose), stores its MAC and dispatches it.
// Any live code for the same key is replaced and the attempt budget resets.
// A resend slot is reserved before the code is generated and handed back if
// the code never reaches the transport.
func (l *Lifecycle) Issue(ctx context.Context, id domain.Identifier, purpose domain.Purpose) (*IssueResult, error) {
	ctx, span := tracer.Start(ctx, "otp.issue")
	defer span.End()
	span.SetAttributes(
		attribute.String("otp.purpose", string(purpose)),
		attribute.String("otp.channel", string(id.Channel())),
	)

	logger := observability.WithTraceID(ctx, l.logger)
	idHash := auth.HashIdentifier(id.String())

	n, err := l.reserveResend(ctx, purpose, idHash)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	rec, err := l.send(ctx, id, purpose, idHash)
	if err != nil {
		if rerr := l.limiter.ReleaseResend(ctx, purpose, idHash); rerr != nil {
			logger.WarnContext(ctx, "resend slot release failed", "error", rerr, "purpose", purpose)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	otpIssuedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("purpose", string(purpose)),
		attribute.String("channel", string(id.Channel())),
	))
	logger.InfoContext(ctx, "otp issued", "purpose", purpose, "channel", id.Channel())

	remaining := l.limiter.ResendLimit() - int(n)
	if remaining < 0 {
		remaining = 0
	}
	return &IssueResult{ExpiresAt: rec.ExpiresAt(), ResendsRemaining: remaining}, nil
}

// reserveResend reads the resend count first so an exhausted quota is
// refused without a write, then reserves a slot atomically.
func (l *Lifecycle) reserveResend(ctx context.Context, purpose domain.Purpose, idHash string) (int64, error) {
	if err := l.limiter.CheckResend(ctx, purpose, idHash); err != nil {
		return 0, err
	}
	return l.limiter.ReserveResend(ctx, purpose, idHash)
}

// ChargeResend consumes one resend slot for (id, purpose) without issuing a
// code. Flows that complete a channel without a code use it so they share
// the issuance quota.
func (l *Lifecycle) ChargeResend(ctx context.Context, id domain.Identifier, purpose domain.Purpose) error {
	_, err := l.reserveResend(ctx, purpose, auth.HashIdentifier(id.String()))
	return err
}

func (l *Lifecycle) send(ctx context.Context, id domain.Identifier, purpose domain.Purpose, idHash string) (OTPRecord, error) {
	code, err := l.generate(l.codeLength)
	if err != nil {
		return OTPRecord{}, fmt.Errorf("generate code: %w", err)
	}

	rec := OTPRecord{
		Purpose:        purpose,
		IdentifierHash: idHash,
		CodeMAC:        auth.ComputeCodeMAC(l.pepper, code, string(purpose), idHash),
		IssuedAt:       l.clock.Now(),
		TTL:            l.codeTTL,
	}
	if err := l.store.SaveOTP(ctx, rec); err != nil {
		return OTPRecord{}, err
	}
	if err := l.limiter.ResetAttempts(ctx, purpose, idHash); err != nil {
		return OTPRecord{}, err
	}

	dctx, cancel := context.WithTimeout(ctx, l.dispatchTimeout)
	defer cancel()
	err = l.dispatcher.SendCode(dctx, auth.CodeMessage{
		Channel:   id.Channel(),
		To:        id.String(),
		Code:      code,
		Purpose:   purpose,
		ExpiresIn: l.codeTTL,
	})
	if err != nil {
		return OTPRecord{}, fmt.Errorf("dispatch code: %w", errors.Join(err, domain.ErrDispatchFailed))
	}
	return rec, nil
}

// RecordAttempt counts a verification attempt against (id, purpose).
func (l *Lifecycle) RecordAttempt(ctx context.Context, id domain.Identifier, purpose domain.Purpose) error {
	return l.limiter.RecordAttempt(ctx, purpose, auth.HashIdentifier(id.String()))
}

// Consume checks submitted against the live code and deletes it on a match.
// It returns domain.ErrCodeExpired when no live code exists, or when a
// concurrent consumer deleted it first, and domain.ErrInvalidCode on mismatch.
func (l *Lifecycle) Consume(ctx context.Context, id domain.Identifier, purpose domain.Purpose, submitted string) error {
	idHash := auth.HashIdentifier(id.String())

	rec, found, err := l.store.LoadOTP(ctx, purpose, idHash)
	if err != nil {
		return err
	}
	if !found {
		return domain.ErrCodeExpired
	}
	if !l.clock.Now().Before(rec.ExpiresAt()) {
		if _, err := l.store.DeleteOTP(ctx, purpose, idHash); err != nil {
			observability.WithTraceID(ctx, l.logger).WarnContext(ctx, "expired otp delete failed", "error", err)
		}
		return domain.ErrCodeExpired
	}
	if !auth.VerifyCodeMAC(l.pepper, submitted, string(purpose), idHash, rec.CodeMAC) {
		return domain.ErrInvalidCode
	}

	deleted, err := l.store.DeleteOTP(ctx, purpose, idHash)
	if err != nil {
		return err
	}
	if !deleted {
		return domain.ErrCodeExpired
	}
	if err := l.limiter.ResetAttempts(ctx, purpose, idHash); err != nil {
		observability.WithTraceID(ctx, l.logger).WarnContext(ctx, "attempt counter reset failed", "error", err)
	}
	return nil
}

// Verify counts the attempt and then consumes the code.
func (l *Lifecycle) Verify(ctx context.Context, id domain.Identifier, purpose domain.Purpose, submitted string) error {
	if err := l.RecordAttempt(ctx, id, purpose); err != nil {
		return err
	}
	return l.Consume(ctx, id, purpose, submitted)
}
