package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aelexs/verification-gateway/internal/auth"
)

func TestCodesEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want bool
	}{
		{"identical", "482193", "482193", true},
		{"last digit differs", "482193", "482194", false},
		{"first digit differs", "482193", "582193", false},
		{"leading zero dropped", "012345", "12345", false},
		{"empty vs code", "", "482193", false},
		{"both empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, auth.CodesEqual(tt.a, tt.b))
		})
	}
}

func TestLookupWithFloor(t *testing.T) {
	const floor = 50 * time.Millisecond
	errMissing := errors.New("missing")

	t.Run("fast hit waits for the floor", func(t *testing.T) {
		start := time.Now()
		v, err := auth.LookupWithFloor(context.Background(), floor, func(context.Context) (string, error) {
			return "acct-1", nil
		})
		elapsed := time.Since(start)

		require.NoError(t, err)
		assert.Equal(t, "acct-1", v)
		assert.GreaterOrEqual(t, elapsed, floor)
	})

	t.Run("fast miss waits for the floor", func(t *testing.T) {
		start := time.Now()
		_, err := auth.LookupWithFloor(context.Background(), floor, func(context.Context) (string, error) {
			return "", errMissing
		})
		elapsed := time.Since(start)

		assert.ErrorIs(t, err, errMissing)
		assert.GreaterOrEqual(t, elapsed, floor)
	})

	t.Run("slow lookup is not delayed further", func(t *testing.T) {
		start := time.Now()
		_, err := auth.LookupWithFloor(context.Background(), floor, func(context.Context) (string, error) {
			time.Sleep(80 * time.Millisecond)
			return "acct-1", nil
		})
		elapsed := time.Since(start)

		require.NoError(t, err)
		assert.Less(t, elapsed, 80*time.Millisecond+floor, "floor must overlap the lookup, not follow it")
	})

	t.Run("cancelled context releases the wait", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		start := time.Now()
		_, _ = auth.LookupWithFloor(ctx, time.Second, func(context.Context) (int, error) {
			return 1, nil
		})

		assert.Less(t, time.Since(start), 500*time.Millisecond)
	})
}

func TestLatencyFloor(t *testing.T) {
	const floor = 60 * time.Millisecond
	errBad := errors.New("invalid code")

	t.Run("failure waits until the floor", func(t *testing.T) {
		start := time.Now()
		f := auth.StartLatencyFloor(floor)

		err := f.Fail(context.Background(), errBad)

		assert.ErrorIs(t, err, errBad)
		assert.GreaterOrEqual(t, time.Since(start), floor)
	})

	t.Run("sequential failures do not stack", func(t *testing.T) {
		start := time.Now()
		f := auth.StartLatencyFloor(floor)

		_ = f.Fail(context.Background(), errBad)
		_ = f.Fail(context.Background(), errBad)
		_ = f.Fail(context.Background(), errBad)

		elapsed := time.Since(start)
		assert.GreaterOrEqual(t, elapsed, floor)
		assert.Less(t, elapsed, 2*floor)
	})

	t.Run("work already past the floor returns immediately", func(t *testing.T) {
		f := auth.StartLatencyFloor(10 * time.Millisecond)
		time.Sleep(20 * time.Millisecond)

		assert.Zero(t, f.Remaining())
		start := time.Now()
		_ = f.Fail(context.Background(), errBad)
		assert.Less(t, time.Since(start), 10*time.Millisecond)
	})
}
