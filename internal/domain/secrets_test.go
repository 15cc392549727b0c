package domain_test

import (
	"bytes"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aelexs/verification-gateway/internal/domain"
)

func TestSecretString(t *testing.T) {
	secret := domain.SecretString("otp-pepper-value")

	t.Run("fmt never prints the value", func(t *testing.T) {
		assert.Equal(t, "[REDACTED]", fmt.Sprintf("%s", secret))
		assert.Equal(t, "[REDACTED]", secret.String())
	})

	t.Run("Expose and Bytes return the value", func(t *testing.T) {
		assert.Equal(t, "otp-pepper-value", secret.Expose())
		assert.Equal(t, []byte("otp-pepper-value"), secret.Bytes())
	})

	t.Run("IsEmpty", func(t *testing.T) {
		assert.False(t, secret.IsEmpty())
		assert.True(t, domain.SecretString("").IsEmpty())
	})

	t.Run("slog output is redacted", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(slog.NewJSONHandler(&buf, nil))

		logger.Info("config loaded", "pepper", secret)

		assert.Contains(t, buf.String(), "[REDACTED]")
		assert.NotContains(t, buf.String(), "otp-pepper-value")
	})
}
