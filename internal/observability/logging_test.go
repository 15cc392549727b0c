package observability_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/aelexs/verification-gateway/internal/observability"
)

func TestRedactingHandler(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		value        string
		shouldRedact bool
	}{
		{"api_key is redacted", "api_key", "secret123", true},
		{"password is redacted", "password", "mysecret", true},
		{"smtp_password is redacted", "smtp_password", "dbpass", true},
		{"access_token is redacted", "access_token", "token123", true},
		{"otp pepper is redacted", "otp_pepper", "pepper-value", true},
		{"authorization is redacted", "authorization", "Bearer xyz", true},
		{"private_key is redacted", "private_key", "-----BEGIN", true},
		{"code is redacted", "code", "493021", true},
		{"OTP is redacted", "OTP", "493021", true},
		{"otp_code is redacted", "otp_code", "493021", true},
		{"error_code not redacted", "error_code", "VERIFICATION_FAILED", false},
		{"account_id not redacted", "account_id", "acct-123", false},
		{"purpose not redacted", "purpose", "signup", false},
		{"error not redacted", "error", "something failed", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(observability.NewRedactingHandler(&buf, nil))

			logger.Info("test", tt.key, tt.value)
			output := buf.String()

			if tt.shouldRedact {
				assert.Contains(t, output, "[REDACTED]", "expected %s to be redacted", tt.key)
				assert.NotContains(t, output, tt.value, "expected actual value to not appear for %s", tt.key)
			} else {
				assert.Contains(t, output, tt.value, "expected %s value to appear", tt.key)
				assert.NotContains(t, output, "[REDACTED]", "expected %s to not be redacted", tt.key)
			}
		})
	}
}

func TestInitLogger(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	t.Run("adds service context", func(t *testing.T) {
		var buf bytes.Buffer
		logger := observability.InitLogger(observability.LogConfig{
			Level:       "info",
			Format:      "json",
			ServiceName: "test-service",
			Environment: "test",
			Output:      &buf,
		})

		logger.Info("hello", "code", "123456")

		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "test-service", entry["service"])
		assert.Equal(t, "test", entry["environment"])
		assert.Equal(t, "[REDACTED]", entry["code"])
	})

	t.Run("respects log level", func(t *testing.T) {
		var buf bytes.Buffer
		logger := observability.InitLogger(observability.LogConfig{
			Level:  "error",
			Format: "text",
			Output: &buf,
		})

		logger.Info("dropped")
		logger.Error("kept")

		assert.NotContains(t, buf.String(), "dropped")
		assert.Contains(t, buf.String(), "kept")
	})
}

func TestWithTraceID(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	var buf bytes.Buffer
	logger := slog.New(observability.NewRedactingHandler(&buf, nil))

	observability.WithTraceID(ctx, logger).Info("traced")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, observability.TraceIDFromContext(ctx), entry["trace_id"])
}

func TestWithTraceID_NoSpan(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(observability.NewRedactingHandler(&buf, nil))

	observability.WithTraceID(context.Background(), logger).Info("untraced")

	assert.NotContains(t, buf.String(), "trace_id")
}
