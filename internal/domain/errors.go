package domain

import (
	"errors"
	"time"
)

// Sentinel errors for domain error conditions.
// Use errors.Is() for matching - never compare error strings.
var (
	// Input errors: rejected before any account or code state is touched.
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidIdentifier  = errors.New("invalid identifier")
	ErrInvalidPhoneNumber = errors.New("invalid phone number format")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrInvalidPurpose     = errors.New("unknown verification purpose")

	// Resource errors
	ErrNotFound      = errors.New("resource not found")
	ErrAlreadyExists = errors.New("resource already exists")

	// Quota errors
	ErrResendLimitExceeded  = errors.New("resend limit exceeded")
	ErrAttemptLimitExceeded = errors.New("attempt limit exceeded")
	ErrRateLimited          = errors.New("too many requests")

	// Verification errors. These are distinguished in server-side logs only;
	// the transport collapses them to a single external error.
	ErrInvalidCode     = errors.New("invalid verification code")
	ErrCodeExpired     = errors.New("verification code expired")
	ErrAccountNotFound = errors.New("account not found")

	// Infrastructure errors
	ErrStoreUnavailable   = errors.New("ephemeral store unavailable")
	ErrDispatchFailed     = errors.New("message dispatch failed")
	ErrEntropyUnavailable = errors.New("secure random source unavailable")
	ErrUnavailable        = errors.New("service temporarily unavailable")

	// Configuration errors
	ErrConfigRequired = errors.New("required configuration key missing")
)

// QuotaError carries a quota sentinel together with the time remaining until
// the counter window resets.
type QuotaError struct {
	Err        error
	RetryAfter time.Duration
}

func (e *QuotaError) Error() string {
	return e.Err.Error()
}

func (e *QuotaError) Unwrap() error {
	return e.Err
}

// NewQuotaError wraps a quota sentinel with its reset hint.
func NewQuotaError(sentinel error, retryAfter time.Duration) error {
	if retryAfter < 0 {
		retryAfter = 0
	}
	return &QuotaError{Err: sentinel, RetryAfter: retryAfter}
}

// RetryAfter extracts the reset hint from a quota error. Returns false when err
// carries no hint.
func RetryAfter(err error) (time.Duration, bool) {
	var qe *QuotaError
	if errors.As(err, &qe) {
		return qe.RetryAfter, true
	}
	return 0, false
}

// FailureClass is the internal tag for a failed request. The transport
// serializes each class exactly once.
type FailureClass int

const (
	FailureNone FailureClass = iota
	FailureInput
	FailureQuota
	FailureVerification
	FailureInfrastructure
)

func (c FailureClass) String() string {
	switch c {
	case FailureNone:
		return "none"
	case FailureInput:
		return "input"
	case FailureQuota:
		return "quota"
	case FailureVerification:
		return "verification"
	default:
		return "infrastructure"
	}
}

var inputErrors = []error{
	ErrInvalidInput,
	ErrInvalidIdentifier,
	ErrInvalidPhoneNumber,
	ErrInvalidEmail,
	ErrInvalidPurpose,
}

var verificationErrors = []error{
	ErrInvalidCode,
	ErrCodeExpired,
	ErrAccountNotFound,
}

// Classify maps err onto the failure taxonomy. Unknown errors are treated as
// infrastructure failures so nothing unexpected leaks as a client error.
func Classify(err error) FailureClass {
	if err == nil {
		return FailureNone
	}
	if errors.Is(err, ErrResendLimitExceeded) || errors.Is(err, ErrAttemptLimitExceeded) ||
		errors.Is(err, ErrRateLimited) {
		return FailureQuota
	}
	for _, target := range verificationErrors {
		if errors.Is(err, target) {
			return FailureVerification
		}
	}
	for _, target := range inputErrors {
		if errors.Is(err, target) {
			return FailureInput
		}
	}
	return FailureInfrastructure
}

// IsRetryable returns true if the error represents a transient condition
// that may succeed on a later attempt by the client.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, ErrDispatchFailed) ||
		errors.Is(err, ErrUnavailable) ||
		Classify(err) == FailureQuota
}

// IsNotFound returns true if the error represents a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
