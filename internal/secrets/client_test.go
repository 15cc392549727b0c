package secrets_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aelexs/verification-gateway/internal/secrets"
)

func TestNewClients(t *testing.T) {
	tests := []struct {
		name string
		cfg  secrets.Config
	}{
		{"default endpoint", secrets.Config{Region: "us-east-1"}},
		{"localstack endpoint", secrets.Config{Region: "us-east-1", Endpoint: "http://localhost:4566", Timeout: time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := secrets.NewClients(context.Background(), tt.cfg)

			require.NoError(t, err)
			assert.NotNil(t, c.SecretsManager)
			assert.NotNil(t, c.SSM)
		})
	}
}
