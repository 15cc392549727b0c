package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"time"
)

// CodesEqual compares two strings in time independent of where they differ.
// Inputs are first reduced to fixed-size digests so unequal lengths take the
// same path as equal ones.
func CodesEqual(a, b string) bool {
	ha := sha256.Sum256([]byte(a))
	hb := sha256.Sum256([]byte(b))
	eq := subtle.ConstantTimeCompare(ha[:], hb[:])
	// The digest compare alone admits (astronomically unlikely) collisions;
	// the length check keeps the result exact.
	return eq&subtle.ConstantTimeEq(int32(len(a)), int32(len(b))) == 1 //nolint:gosec // codes are short
}

// LookupWithFloor runs lookup and does not return before minDelay has elapsed
// since the call began, whether the lookup found something, found nothing or
// failed. The timer starts before the lookup so the two overlap: total latency
// is max(lookup, minDelay), never their sum.
func LookupWithFloor[T any](ctx context.Context, minDelay time.Duration, lookup func(context.Context) (T, error)) (T, error) {
	timer := time.NewTimer(minDelay)
	defer timer.Stop()

	v, err := lookup(ctx)

	select {
	case <-timer.C:
	case <-ctx.Done():
	}
	return v, err
}

// LatencyFloor enforces a minimum response latency for failure paths. It is
// anchored at request start: several failure checks in sequence all wait for
// the same deadline, so the floor never stacks.
type LatencyFloor struct {
	start time.Time
	floor time.Duration
}

// StartLatencyFloor anchors a floor at the current instant.
func StartLatencyFloor(floor time.Duration) *LatencyFloor {
	return &LatencyFloor{start: time.Now(), floor: floor}
}

// Remaining returns how long until the floor deadline, or zero once passed.
func (f *LatencyFloor) Remaining() time.Duration {
	d := f.floor - time.Since(f.start)
	if d < 0 {
		return 0
	}
	return d
}

// Wait blocks until the floor deadline or until ctx is done.
func (f *LatencyFloor) Wait(ctx context.Context) {
	d := f.Remaining()
	if d == 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// Fail delays until the floor deadline and returns err unchanged. Callers log
// the real error; the transport decides what the client sees.
func (f *LatencyFloor) Fail(ctx context.Context, err error) error {
	f.Wait(ctx)
	return err
}
