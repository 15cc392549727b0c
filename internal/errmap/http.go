package errmap

import (
	"errors"
	"net/http"
	"time"

	"github.com/aelexs/verification-gateway/internal/domain"
)

// HTTPError represents an HTTP error response.
type HTTPError struct {
	StatusCode int           `json:"-"`
	Code       string        `json:"code"`
	Message    string        `json:"message"`
	RetryAfter time.Duration `json:"-"`
}

func (e HTTPError) Error() string {
	return e.Message
}

// httpMapping defines a domain error to HTTP status/code mapping.
type httpMapping struct {
	err        error
	statusCode int
	code       string
	message    string
}

// verificationFailed is the single response for every verification failure.
// Wrong, expired and unknown-account cases must not be told apart.
var verificationFailed = HTTPError{
	StatusCode: http.StatusUnauthorized,
	Code:       "VERIFICATION_FAILED",
	Message:    "verification failed",
}

// httpMappings maps domain errors to HTTP status codes and error codes.
// Order matters: first match wins (via errors.Is). An empty message means
// the error text is safe to return to the caller.
var httpMappings = []httpMapping{
	// Quota errors: 429 with Retry-After
	{domain.ErrResendLimitExceeded, http.StatusTooManyRequests, "RESEND_LIMIT_EXCEEDED", "too many codes requested"},
	{domain.ErrAttemptLimitExceeded, http.StatusTooManyRequests, "ATTEMPT_LIMIT_EXCEEDED", "too many verification attempts"},
	{domain.ErrRateLimited, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests"},

	// Validation errors: 400
	{domain.ErrInvalidPurpose, http.StatusBadRequest, "INVALID_PURPOSE", ""},
	{domain.ErrInvalidPhoneNumber, http.StatusBadRequest, "INVALID_PHONE_NUMBER", ""},
	{domain.ErrInvalidEmail, http.StatusBadRequest, "INVALID_EMAIL", ""},
	{domain.ErrInvalidIdentifier, http.StatusBadRequest, "INVALID_IDENTIFIER", ""},
	{domain.ErrInvalidInput, http.StatusBadRequest, "INVALID_ARGUMENT", ""},

	// Infrastructure
	{domain.ErrDispatchFailed, http.StatusBadGateway, "DISPATCH_FAILED", "could not deliver the code, try again"},
	{domain.ErrStoreUnavailable, http.StatusServiceUnavailable, "UNAVAILABLE", "service temporarily unavailable"},
	{domain.ErrUnavailable, http.StatusServiceUnavailable, "UNAVAILABLE", "service temporarily unavailable"},
}

// ToHTTPError converts a domain error to an HTTP error.
func ToHTTPError(err error) HTTPError {
	if err == nil {
		return HTTPError{StatusCode: http.StatusOK}
	}
	if domain.Classify(err) == domain.FailureVerification {
		return verificationFailed
	}
	for _, m := range httpMappings {
		if !errors.Is(err, m.err) {
			continue
		}
		he := HTTPError{StatusCode: m.statusCode, Code: m.code, Message: m.message}
		if he.Message == "" {
			he.Message = err.Error()
		}
		if d, ok := domain.RetryAfter(err); ok {
			he.RetryAfter = d
		}
		return he
	}
	// Never expose internal error details to clients
	return HTTPError{StatusCode: http.StatusInternalServerError, Code: "INTERNAL", Message: "internal error"}
}
