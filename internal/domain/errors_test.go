package domain_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/aelexs/verification-gateway/internal/domain"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want domain.FailureClass
	}{
		{"nil error", nil, domain.FailureNone},
		{"ErrInvalidInput", domain.ErrInvalidInput, domain.FailureInput},
		{"ErrInvalidPhoneNumber", domain.ErrInvalidPhoneNumber, domain.FailureInput},
		{"ErrInvalidEmail", domain.ErrInvalidEmail, domain.FailureInput},
		{"ErrInvalidPurpose", domain.ErrInvalidPurpose, domain.FailureInput},
		{"ErrResendLimitExceeded", domain.ErrResendLimitExceeded, domain.FailureQuota},
		{"ErrAttemptLimitExceeded", domain.ErrAttemptLimitExceeded, domain.FailureQuota},
		{"ErrRateLimited", domain.ErrRateLimited, domain.FailureQuota},
		{"quota error", domain.NewQuotaError(domain.ErrResendLimitExceeded, time.Hour), domain.FailureQuota},
		{"ErrInvalidCode", domain.ErrInvalidCode, domain.FailureVerification},
		{"ErrCodeExpired", domain.ErrCodeExpired, domain.FailureVerification},
		{"ErrAccountNotFound", domain.ErrAccountNotFound, domain.FailureVerification},
		{"wrapped ErrAccountNotFound", fmt.Errorf("lookup: %w", domain.ErrAccountNotFound), domain.FailureVerification},
		{"ErrStoreUnavailable", domain.ErrStoreUnavailable, domain.FailureInfrastructure},
		{"ErrDispatchFailed", domain.ErrDispatchFailed, domain.FailureInfrastructure},
		{"ErrEntropyUnavailable", domain.ErrEntropyUnavailable, domain.FailureInfrastructure},
		{"joined store error", errors.Join(errors.New("dial tcp"), domain.ErrStoreUnavailable), domain.FailureInfrastructure},
		{"unknown error", errors.New("boom"), domain.FailureInfrastructure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, domain.Classify(tt.err))
		})
	}
}

func TestQuotaError(t *testing.T) {
	t.Run("unwraps to sentinel", func(t *testing.T) {
		err := domain.NewQuotaError(domain.ErrAttemptLimitExceeded, 90*time.Second)

		assert.ErrorIs(t, err, domain.ErrAttemptLimitExceeded)
		assert.Equal(t, domain.ErrAttemptLimitExceeded.Error(), err.Error())
	})

	t.Run("retry after survives wrapping", func(t *testing.T) {
		err := fmt.Errorf("issue: %w", domain.NewQuotaError(domain.ErrResendLimitExceeded, time.Hour))

		d, ok := domain.RetryAfter(err)

		assert.True(t, ok)
		assert.Equal(t, time.Hour, d)
	})

	t.Run("negative retry after clamps to zero", func(t *testing.T) {
		d, ok := domain.RetryAfter(domain.NewQuotaError(domain.ErrResendLimitExceeded, -time.Second))

		assert.True(t, ok)
		assert.Zero(t, d)
	})

	t.Run("plain error has no hint", func(t *testing.T) {
		_, ok := domain.RetryAfter(domain.ErrInvalidCode)
		assert.False(t, ok)
	})
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error", nil, false},
		{"ErrStoreUnavailable", domain.ErrStoreUnavailable, true},
		{"ErrDispatchFailed", domain.ErrDispatchFailed, true},
		{"ErrResendLimitExceeded", domain.ErrResendLimitExceeded, true},
		{"ErrInvalidCode", domain.ErrInvalidCode, false},
		{"ErrInvalidInput", domain.ErrInvalidInput, false},
		{"wrapped ErrUnavailable", fmt.Errorf("context: %w", domain.ErrUnavailable), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, domain.IsRetryable(tt.err))
		})
	}
}

func TestFailureClassString(t *testing.T) {
	assert.Equal(t, "verification", domain.FailureVerification.String())
	assert.Equal(t, "quota", domain.FailureQuota.String())
	assert.Equal(t, "infrastructure", domain.FailureInfrastructure.String())
}
