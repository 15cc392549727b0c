package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/aelexs/verification-gateway/internal/auth"
	"github.com/aelexs/verification-gateway/internal/domain"
	"github.com/aelexs/verification-gateway/internal/observability"
)

// CodeStatus tells the caller whether a code went out or the channel was
// verified directly.
type CodeStatus string

const (
	CodeStatusSent     CodeStatus = "sent"
	CodeStatusVerified CodeStatus = "verified"
)

// RequestCodeInput is the raw request to issue a code.
type RequestCodeInput struct {
	Identifier  string
	Purpose     string
	CountryCode string
}

// RequestCodeResult is returned by RequestCode. Verification is set only when
// the channel was verified without a code.
type RequestCodeResult struct {
	Status           CodeStatus
	ExpiresAt        time.Time
	ResendsRemaining int
	Verification     *VerifyCodeResult
}

// VerifyCodeInput is the raw request to verify a code.
type VerifyCodeInput struct {
	Identifier  string
	Purpose     string
	CountryCode string
	Code        string
}

// VerifyCodeResult describes a successful verification. PendingChannel names
// the channel still missing when a session requires both.
type VerifyCodeResult struct {
	Channel        domain.Channel
	PhoneVerified  bool
	EmailVerified  bool
	SessionIssued  bool
	Session        *Session
	PendingChannel domain.Channel
}

// welcomeEnqueuer accepts welcome jobs without blocking.
type welcomeEnqueuer interface {
	Enqueue(account Account) bool
}

// OrchestratorConfig holds the dependencies of an Orchestrator.
type OrchestratorConfig struct {
	Lifecycle *Lifecycle
	Accounts  AccountStore
	Sessions  SessionIssuer
	Welcome   welcomeEnqueuer
	Logger    *slog.Logger

	FailureFloor time.Duration
	LookupFloor  time.Duration
	// SMSCountryCodes lists the prefixes for which phone codes are sent by
	// SMS. Signup phones outside these prefixes are verified directly.
	SMSCountryCodes []string
}

// Orchestrator is the entry point for issuing and verifying codes. It is the
// only writer of account verification flags and the only issuer of sessions.
type Orchestrator struct {
	lifecycle *Lifecycle
	accounts  AccountStore
	sessions  SessionIssuer
	welcome   welcomeEnqueuer
	logger    *slog.Logger

	failureFloor    time.Duration
	lookupFloor     time.Duration
	smsCountryCodes []string
}

func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	o := &Orchestrator{
		lifecycle:       cfg.Lifecycle,
		accounts:        cfg.Accounts,
		sessions:        cfg.Sessions,
		welcome:         cfg.Welcome,
		logger:          cfg.Logger,
		failureFloor:    cfg.FailureFloor,
		lookupFloor:     cfg.LookupFloor,
		smsCountryCodes: cfg.SMSCountryCodes,
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.failureFloor <= 0 {
		o.failureFloor = domain.DefaultFailureFloor
	}
	if o.lookupFloor <= 0 {
		o.lookupFloor = domain.DefaultLookupFloor
	}
	if len(o.smsCountryCodes) == 0 {
		o.smsCountryCodes = []string{domain.DefaultSMSCountryCode}
	}
	return o
}

func parseTarget(rawID, rawPurpose, countryCode string) (domain.Identifier, domain.Purpose, error) {
	purpose, err := domain.ParsePurpose(rawPurpose)
	if err != nil {
		return domain.Identifier{}, "", err
	}
	id, err := domain.ParseIdentifier(rawID, countryCode)
	if err != nil {
		return domain.Identifier{}, "", err
	}
	return id, purpose, nil
}

// RequestCode validates the request and issues a code, unless the identifier
// is a signup phone outside the SMS regions, in which case the phone is
// marked verified directly. Marking a channel this way never issues a
// session: the session still requires a channel proven by code.
func (o *Orchestrator) RequestCode(ctx context.Context, in RequestCodeInput) (*RequestCodeResult, error) {
	ctx, span := tracer.Start(ctx, "otp.request_code")
	defer span.End()

	id, purpose, err := parseTarget(in.Identifier, in.Purpose, in.CountryCode)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if o.skipsSMS(id, purpose) {
		return o.verifyWithoutCode(ctx, id, purpose)
	}

	issued, err := o.lifecycle.Issue(ctx, id, purpose)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return &RequestCodeResult{
		Status:           CodeStatusSent,
		ExpiresAt:        issued.ExpiresAt,
		ResendsRemaining: issued.ResendsRemaining,
	}, nil
}

func (o *Orchestrator) skipsSMS(id domain.Identifier, purpose domain.Purpose) bool {
	if id.Channel() != domain.ChannelPhone || purpose != domain.PurposeSignup {
		return false
	}
	for _, cc := range o.smsCountryCodes {
		if id.HasCountryCode(cc) {
			return false
		}
	}
	return true
}

func (o *Orchestrator) verifyWithoutCode(ctx context.Context, id domain.Identifier, purpose domain.Purpose) (*RequestCodeResult, error) {
	logger := observability.WithTraceID(ctx, o.logger)

	if err := o.lifecycle.ChargeResend(ctx, id, purpose); err != nil {
		return nil, err
	}
	floor := auth.StartLatencyFloor(o.failureFloor)

	account, err := o.findAccount(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			logger.InfoContext(ctx, "direct verification refused", "reason", "account_not_found", "purpose", purpose)
			return nil, floor.Fail(ctx, err)
		}
		return nil, err
	}

	res, err := o.promote(ctx, account, id.Channel(), purpose, false)
	if err != nil {
		return nil, err
	}
	logger.InfoContext(ctx, "phone verified without code", "purpose", purpose, "account_id", account.ID)
	return &RequestCodeResult{Status: CodeStatusVerified, Verification: res}, nil
}

// VerifyCode checks a submitted code. Every verification failure is delayed
// to the same latency floor, measured from the start of the call, so an
// unknown account, a wrong code and an expired code are indistinguishable by
// timing. Quota refusals and malformed input are returned without the floor.
func (o *Orchestrator) VerifyCode(ctx context.Context, in VerifyCodeInput) (*VerifyCodeResult, error) {
	ctx, span := tracer.Start(ctx, "otp.verify_code")
	defer span.End()

	logger := observability.WithTraceID(ctx, o.logger)

	id, purpose, err := parseTarget(in.Identifier, in.Purpose, in.CountryCode)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	code := strings.TrimSpace(in.Code)
	if code == "" {
		return nil, fmt.Errorf("code is required: %w", domain.ErrInvalidInput)
	}
	span.SetAttributes(attribute.String("otp.purpose", string(purpose)))

	floor := auth.StartLatencyFloor(o.failureFloor)

	if err := o.lifecycle.RecordAttempt(ctx, id, purpose); err != nil {
		o.recordVerify(ctx, purpose, err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	account, err := o.findAccount(ctx, id)
	if err != nil {
		return nil, o.verifyFailed(ctx, span, floor, purpose, err)
	}

	if err := o.lifecycle.Consume(ctx, id, purpose, code); err != nil {
		return nil, o.verifyFailed(ctx, span, floor, purpose, err)
	}

	res, err := o.promote(ctx, account, id.Channel(), purpose, true)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	o.recordVerify(ctx, purpose, nil)
	logger.InfoContext(ctx, "otp verified",
		"purpose", purpose,
		"channel", id.Channel(),
		"session_issued", res.SessionIssued,
	)
	return res, nil
}

// findAccount looks the account up under the lookup floor. A missing account
// becomes domain.ErrAccountNotFound.
func (o *Orchestrator) findAccount(ctx context.Context, id domain.Identifier) (*Account, error) {
	account, err := auth.LookupWithFloor(ctx, o.lookupFloor, func(ctx context.Context) (*Account, error) {
		return o.accounts.FindByIdentifier(ctx, id)
	})
	if err == nil {
		return account, nil
	}
	if domain.IsNotFound(err) {
		return nil, domain.ErrAccountNotFound
	}
	return nil, fmt.Errorf("find account: %w", errors.Join(err, domain.ErrUnavailable))
}

func (o *Orchestrator) verifyFailed(ctx context.Context, span trace.Span, floor *auth.LatencyFloor, purpose domain.Purpose, err error) error {
	o.recordVerify(ctx, purpose, err)
	if domain.Classify(err) != domain.FailureVerification {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Error, "verification failed")
	observability.WithTraceID(ctx, o.logger).InfoContext(ctx, "otp verification failed",
		"purpose", purpose,
		"reason", verifyReason(err),
	)
	return floor.Fail(ctx, err)
}

// promote marks channel verified and decides whether a session is due.
// proven is false when the channel was marked without a code; such a channel
// counts toward the verified flags but never completes a session, and the
// other channel is reported as pending.
func (o *Orchestrator) promote(ctx context.Context, account *Account, channel domain.Channel, purpose domain.Purpose, proven bool) (*VerifyCodeResult, error) {
	updated, err := o.accounts.MarkVerified(ctx, account.ID, channel)
	if err != nil {
		return nil, fmt.Errorf("mark %s verified: %w", channel, errors.Join(err, domain.ErrUnavailable))
	}

	res := &VerifyCodeResult{
		Channel:       channel,
		PhoneVerified: updated.PhoneVerified,
		EmailVerified: updated.EmailVerified,
	}
	if !purpose.IssuesSession() {
		return res, nil
	}
	if !proven || purpose.RequiresBothChannels() && !(updated.PhoneVerified && updated.EmailVerified) {
		res.PendingChannel = channel.Other()
		return res, nil
	}

	channels := []domain.Channel{channel}
	if purpose.RequiresBothChannels() {
		channels = updated.VerifiedChannels()
	}
	session, err := o.sessions.IssueSession(ctx, SessionRequest{
		Account:  *updated,
		Purpose:  purpose,
		Channels: channels,
	})
	if err != nil {
		return nil, fmt.Errorf("issue session: %w", errors.Join(err, domain.ErrUnavailable))
	}
	sessionsIssuedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("purpose", string(purpose))))
	res.SessionIssued = true
	res.Session = session

	if purpose == domain.PurposeSignup && o.welcome != nil {
		if !o.welcome.Enqueue(*updated) {
			observability.WithTraceID(ctx, o.logger).WarnContext(ctx, "welcome queue full, notification dropped",
				"account_id", updated.ID)
		}
	}
	return res, nil
}

func (o *Orchestrator) recordVerify(ctx context.Context, purpose domain.Purpose, err error) {
	otpVerifyTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("purpose", string(purpose)),
		attribute.String("result", verifyReason(err)),
	))
}

func verifyReason(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, domain.ErrInvalidCode):
		return "invalid_code"
	case errors.Is(err, domain.ErrCodeExpired):
		return "code_expired"
	case errors.Is(err, domain.ErrAccountNotFound):
		return "account_not_found"
	case errors.Is(err, domain.ErrAttemptLimitExceeded):
		return "attempt_limit"
	default:
		return "error"
	}
}
