package dynamo_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aelexs/verification-gateway/internal/dynamo"
)

func TestNewClientWithEndpoint(t *testing.T) {
	ctx := context.Background()

	client, err := dynamo.NewClient(ctx, dynamo.Config{
		Endpoint: "http://localhost:4566",
		Region:   "us-east-2",
		Timeout:  5 * time.Second,
	})

	require.NoError(t, err)
	require.NotNil(t, client)
	require.NotNil(t, client.DB)
}

func TestNewClientWithDefaultEndpoint(t *testing.T) {
	ctx := context.Background()

	client, err := dynamo.NewClient(ctx, dynamo.Config{
		Region:  "us-east-2",
		Timeout: 5 * time.Second,
	})

	require.NoError(t, err)
	require.NotNil(t, client)
	require.NotNil(t, client.DB)
}

func TestIsConditionalCheckFailed(t *testing.T) {
	require.True(t, dynamo.IsConditionalCheckFailed(dynamo.ErrConditionalCheckFailed()))
	require.True(t, dynamo.IsConditionalCheckFailed(fmt.Errorf("update: %w", dynamo.ErrConditionalCheckFailed())))
	require.False(t, dynamo.IsConditionalCheckFailed(errors.New("throttled")))
}

func TestExpressionBuilder(t *testing.T) {
	update := dynamo.Set(dynamo.Name("phone_verified"), dynamo.Value(true))
	cond := dynamo.AttributeExists(dynamo.Name("account_id"))

	expr, err := dynamo.NewExpressionBuilder().WithUpdate(update).WithCondition(cond).Build()

	require.NoError(t, err)
	require.NotNil(t, expr.Update())
	require.NotNil(t, expr.Condition())
	require.Len(t, expr.Names(), 2)
	require.Len(t, expr.Values(), 1)
}
