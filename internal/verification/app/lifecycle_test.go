package app_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aelexs/verification-gateway/internal/domain"
)

func TestLifecycle_Issue(t *testing.T) {
	ctx := context.Background()
	phone := domain.MustIdentifier("+919000000000")

	t.Run("dispatches the generated code with its ttl", func(t *testing.T) {
		h := newHarness(t, harnessOpts{generate: func(int) (string, error) { return "482193", nil }})

		res, err := h.lifecycle.Issue(ctx, phone, domain.PurposeSignup)

		require.NoError(t, err)
		assert.Equal(t, testStart.Add(5*time.Minute), res.ExpiresAt)
		assert.Equal(t, 2, res.ResendsRemaining)
		require.Equal(t, 1, h.dispatcher.count())
		msg := h.dispatcher.sent[0]
		assert.Equal(t, "482193", msg.Code)
		assert.Equal(t, domain.ChannelPhone, msg.Channel)
		assert.Equal(t, 5*time.Minute, msg.ExpiresIn)
	})

	t.Run("refuses the issue after the resend limit", func(t *testing.T) {
		h := newHarness(t, harnessOpts{})

		for i := 0; i < 3; i++ {
			_, err := h.lifecycle.Issue(ctx, phone, domain.PurposeSignup)
			require.NoError(t, err, "issue %d", i+1)
		}
		_, err := h.lifecycle.Issue(ctx, phone, domain.PurposeSignup)

		require.ErrorIs(t, err, domain.ErrResendLimitExceeded)
		retryAfter, ok := domain.RetryAfter(err)
		require.True(t, ok)
		assert.InDelta(t, (24 * time.Hour).Seconds(), retryAfter.Seconds(), 1)
		assert.Equal(t, 3, h.dispatcher.count(), "no fourth code is dispatched")
	})

	t.Run("resend quota is per purpose", func(t *testing.T) {
		h := newHarness(t, harnessOpts{})

		for i := 0; i < 3; i++ {
			_, err := h.lifecycle.Issue(ctx, phone, domain.PurposeSignup)
			require.NoError(t, err)
		}
		_, err := h.lifecycle.Issue(ctx, phone, domain.PurposeLogin)

		assert.NoError(t, err)
	})

	t.Run("resend window resets", func(t *testing.T) {
		h := newHarness(t, harnessOpts{})
		for i := 0; i < 3; i++ {
			_, err := h.lifecycle.Issue(ctx, phone, domain.PurposeSignup)
			require.NoError(t, err)
		}

		h.clock.Advance(24*time.Hour + time.Second)
		_, err := h.lifecycle.Issue(ctx, phone, domain.PurposeSignup)

		assert.NoError(t, err)
	})

	t.Run("dispatch failure does not consume quota", func(t *testing.T) {
		h := newHarness(t, harnessOpts{})
		h.dispatcher.err = errors.New("sns throttled")

		for i := 0; i < 5; i++ {
			_, err := h.lifecycle.Issue(ctx, phone, domain.PurposeSignup)
			require.ErrorIs(t, err, domain.ErrDispatchFailed)
		}

		h.dispatcher.err = nil
		_, err := h.lifecycle.Issue(ctx, phone, domain.PurposeSignup)
		assert.NoError(t, err)
	})

	t.Run("concurrent issues never exceed the resend limit", func(t *testing.T) {
		h := newHarness(t, harnessOpts{})
		const callers = 12

		var ok, limited atomic.Int32
		var wg sync.WaitGroup
		for range callers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := h.lifecycle.Issue(ctx, phone, domain.PurposeSignup)
				switch {
				case err == nil:
					ok.Add(1)
				case errors.Is(err, domain.ErrResendLimitExceeded):
					limited.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(3), ok.Load())
		assert.Equal(t, int32(callers-3), limited.Load())
		assert.Equal(t, 3, h.dispatcher.count())
	})

	t.Run("entropy failure surfaces", func(t *testing.T) {
		h := newHarness(t, harnessOpts{generate: func(int) (string, error) {
			return "", domain.ErrEntropyUnavailable
		}})

		_, err := h.lifecycle.Issue(ctx, phone, domain.PurposeSignup)

		assert.ErrorIs(t, err, domain.ErrEntropyUnavailable)
		assert.Zero(t, h.dispatcher.count())
	})

	t.Run("store failure surfaces as unavailable", func(t *testing.T) {
		h := newHarness(t, harnessOpts{kv: failingKV{}})

		_, err := h.lifecycle.Issue(ctx, phone, domain.PurposeSignup)

		assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
		assert.Equal(t, domain.FailureInfrastructure, domain.Classify(err))
	})
}

func TestLifecycle_Consume(t *testing.T) {
	ctx := context.Background()
	email := domain.MustIdentifier("user@example.com")

	t.Run("correct code succeeds exactly once", func(t *testing.T) {
		h := newHarness(t, harnessOpts{})
		_, err := h.lifecycle.Issue(ctx, email, domain.PurposeLogin)
		require.NoError(t, err)
		code := h.dispatcher.lastCode(t, email.String())

		require.NoError(t, h.lifecycle.Verify(ctx, email, domain.PurposeLogin, code))
		err = h.lifecycle.Verify(ctx, email, domain.PurposeLogin, code)

		assert.ErrorIs(t, err, domain.ErrCodeExpired)
	})

	t.Run("wrong code is rejected and the code stays live", func(t *testing.T) {
		h := newHarness(t, harnessOpts{})
		_, err := h.lifecycle.Issue(ctx, email, domain.PurposeLogin)
		require.NoError(t, err)
		code := h.dispatcher.lastCode(t, email.String())

		err = h.lifecycle.Verify(ctx, email, domain.PurposeLogin, wrongCode(code))
		require.ErrorIs(t, err, domain.ErrInvalidCode)

		assert.NoError(t, h.lifecycle.Verify(ctx, email, domain.PurposeLogin, code))
	})

	t.Run("code expires after its ttl", func(t *testing.T) {
		h := newHarness(t, harnessOpts{})
		_, err := h.lifecycle.Issue(ctx, email, domain.PurposeLogin)
		require.NoError(t, err)
		code := h.dispatcher.lastCode(t, email.String())

		h.clock.Advance(6 * time.Minute)
		err = h.lifecycle.Verify(ctx, email, domain.PurposeLogin, code)

		assert.ErrorIs(t, err, domain.ErrCodeExpired)
	})

	t.Run("reissue replaces the previous code", func(t *testing.T) {
		h := newHarness(t, harnessOpts{})
		_, err := h.lifecycle.Issue(ctx, email, domain.PurposeLogin)
		require.NoError(t, err)
		first := h.dispatcher.lastCode(t, email.String())
		h.clock.Advance(time.Minute)
		_, err = h.lifecycle.Issue(ctx, email, domain.PurposeLogin)
		require.NoError(t, err)
		second := h.dispatcher.lastCode(t, email.String())
		if first == second {
			t.Skip("generator repeated a code")
		}

		assert.ErrorIs(t, h.lifecycle.Verify(ctx, email, domain.PurposeLogin, first), domain.ErrInvalidCode)
		assert.NoError(t, h.lifecycle.Verify(ctx, email, domain.PurposeLogin, second))
	})

	t.Run("code is scoped to its purpose", func(t *testing.T) {
		h := newHarness(t, harnessOpts{})
		_, err := h.lifecycle.Issue(ctx, email, domain.PurposeLogin)
		require.NoError(t, err)
		code := h.dispatcher.lastCode(t, email.String())

		err = h.lifecycle.Verify(ctx, email, domain.PurposePasswordReset, code)

		assert.ErrorIs(t, err, domain.ErrCodeExpired)
	})

	t.Run("attempts are exhausted after the limit", func(t *testing.T) {
		h := newHarness(t, harnessOpts{})
		_, err := h.lifecycle.Issue(ctx, email, domain.PurposeLogin)
		require.NoError(t, err)
		code := h.dispatcher.lastCode(t, email.String())

		for i := 0; i < 5; i++ {
			err := h.lifecycle.Verify(ctx, email, domain.PurposeLogin, wrongCode(code))
			require.ErrorIs(t, err, domain.ErrInvalidCode, "attempt %d", i+1)
		}
		err = h.lifecycle.Verify(ctx, email, domain.PurposeLogin, code)

		require.ErrorIs(t, err, domain.ErrAttemptLimitExceeded)
		assert.Equal(t, domain.FailureQuota, domain.Classify(err))
	})

	t.Run("a fresh code resets the attempt budget", func(t *testing.T) {
		h := newHarness(t, harnessOpts{})
		_, err := h.lifecycle.Issue(ctx, email, domain.PurposeLogin)
		require.NoError(t, err)
		for i := 0; i < 5; i++ {
			_ = h.lifecycle.Verify(ctx, email, domain.PurposeLogin, "999999x")
		}

		_, err = h.lifecycle.Issue(ctx, email, domain.PurposeLogin)
		require.NoError(t, err)
		code := h.dispatcher.lastCode(t, email.String())

		assert.NoError(t, h.lifecycle.Verify(ctx, email, domain.PurposeLogin, code))
	})

	t.Run("concurrent consumers see exactly one success", func(t *testing.T) {
		h := newHarness(t, harnessOpts{})
		_, err := h.lifecycle.Issue(ctx, email, domain.PurposeLogin)
		require.NoError(t, err)
		code := h.dispatcher.lastCode(t, email.String())

		var wins atomic.Int32
		var wg sync.WaitGroup
		for range 5 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := h.lifecycle.Consume(ctx, email, domain.PurposeLogin, code); err == nil {
					wins.Add(1)
				} else {
					assert.ErrorIs(t, err, domain.ErrCodeExpired)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), wins.Load())
	})
}

func TestRateLimiter_CheckResendDoesNotConsume(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, harnessOpts{})
	phone := domain.MustIdentifier("+919000000000")

	// Dispatch fails after CheckResend passes; repeated failures must not lock the user out.
	h.dispatcher.err = errors.New("down")
	for range 10 {
		_, _ = h.lifecycle.Issue(ctx, phone, domain.PurposeLogin)
	}
	h.dispatcher.err = nil

	res, err := h.lifecycle.Issue(ctx, phone, domain.PurposeLogin)
	require.NoError(t, err)
	assert.Equal(t, 2, res.ResendsRemaining)
}
