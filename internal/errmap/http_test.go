package errmap_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/aelexs/verification-gateway/internal/domain"
	"github.com/aelexs/verification-gateway/internal/errmap"
)

func TestToHTTPError(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		wantStatusCode int
		wantCode       string
	}{
		// Nil error
		{"nil error", nil, http.StatusOK, ""},

		// Verification errors all collapse
		{"ErrInvalidCode", domain.ErrInvalidCode, http.StatusUnauthorized, "VERIFICATION_FAILED"},
		{"ErrCodeExpired", domain.ErrCodeExpired, http.StatusUnauthorized, "VERIFICATION_FAILED"},
		{"ErrAccountNotFound", domain.ErrAccountNotFound, http.StatusUnauthorized, "VERIFICATION_FAILED"},

		// Quota errors
		{"ErrResendLimitExceeded", domain.ErrResendLimitExceeded, http.StatusTooManyRequests, "RESEND_LIMIT_EXCEEDED"},
		{"ErrAttemptLimitExceeded", domain.ErrAttemptLimitExceeded, http.StatusTooManyRequests, "ATTEMPT_LIMIT_EXCEEDED"},
		{"ErrRateLimited", domain.ErrRateLimited, http.StatusTooManyRequests, "RATE_LIMITED"},

		// Validation errors
		{"ErrInvalidInput", domain.ErrInvalidInput, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"ErrInvalidPurpose", domain.ErrInvalidPurpose, http.StatusBadRequest, "INVALID_PURPOSE"},
		{"ErrInvalidPhoneNumber", domain.ErrInvalidPhoneNumber, http.StatusBadRequest, "INVALID_PHONE_NUMBER"},
		{"ErrInvalidEmail", domain.ErrInvalidEmail, http.StatusBadRequest, "INVALID_EMAIL"},
		{"ErrInvalidIdentifier", domain.ErrInvalidIdentifier, http.StatusBadRequest, "INVALID_IDENTIFIER"},

		// Infrastructure errors
		{"ErrDispatchFailed", domain.ErrDispatchFailed, http.StatusBadGateway, "DISPATCH_FAILED"},
		{"ErrStoreUnavailable", domain.ErrStoreUnavailable, http.StatusServiceUnavailable, "UNAVAILABLE"},
		{"ErrUnavailable", domain.ErrUnavailable, http.StatusServiceUnavailable, "UNAVAILABLE"},

		// Unknown error
		{"unknown error", errors.New("boom"), http.StatusInternalServerError, "INTERNAL"},
		{"entropy failure", domain.ErrEntropyUnavailable, http.StatusInternalServerError, "INTERNAL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			httpErr := errmap.ToHTTPError(tt.err)
			assert.Equal(t, tt.wantStatusCode, httpErr.StatusCode)
			assert.Equal(t, tt.wantCode, httpErr.Code)
		})
	}
}

func TestToHTTPError_VerificationFailuresAreIdentical(t *testing.T) {
	invalid := errmap.ToHTTPError(fmt.Errorf("consume: %w", domain.ErrInvalidCode))
	expired := errmap.ToHTTPError(fmt.Errorf("consume: %w", domain.ErrCodeExpired))
	unknown := errmap.ToHTTPError(fmt.Errorf("lookup: %w", domain.ErrAccountNotFound))

	assert.Equal(t, invalid, expired)
	assert.Equal(t, invalid, unknown)
	assert.NotContains(t, invalid.Message, "expired")
	assert.NotContains(t, invalid.Message, "account")
}

func TestToHTTPError_RetryAfter(t *testing.T) {
	err := fmt.Errorf("signup: %w", domain.NewQuotaError(domain.ErrResendLimitExceeded, 3*time.Hour))

	httpErr := errmap.ToHTTPError(err)

	assert.Equal(t, http.StatusTooManyRequests, httpErr.StatusCode)
	assert.Equal(t, 3*time.Hour, httpErr.RetryAfter)
}

func TestToHTTPError_HidesInfrastructureDetails(t *testing.T) {
	err := fmt.Errorf("ephemeral store: get: %w", errors.Join(errors.New("dial tcp 10.0.0.7:6379: refused"), domain.ErrStoreUnavailable))

	httpErr := errmap.ToHTTPError(err)

	assert.Equal(t, http.StatusServiceUnavailable, httpErr.StatusCode)
	assert.NotContains(t, httpErr.Message, "10.0.0.7")
}
