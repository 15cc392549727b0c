package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aelexs/verification-gateway/internal/domain"
)

// OTPRecord is the live code for one (purpose, identifier). Only the code's
// MAC is stored.
type OTPRecord struct {
	Purpose        domain.Purpose `json:"purpose"`
	IdentifierHash string         `json:"identifier_hash"`
	CodeMAC        string         `json:"code_mac"`
	IssuedAt       time.Time      `json:"issued_at"`
	TTL            time.Duration  `json:"ttl"`
}

// ExpiresAt returns the instant the record stops being valid.
func (r OTPRecord) ExpiresAt() time.Time {
	return r.IssuedAt.Add(r.TTL)
}

type counter string

const (
	resendCounter  counter = "otp_resend"
	attemptCounter counter = "otp_attempt"
)

// EphemeralStore is the typed view over KVStore. It owns the key namespace
// "<kind>:<purpose>:<identifier hash>"; nothing else reads or writes these keys.
// Every backend failure is reported as domain.ErrStoreUnavailable.
type EphemeralStore struct {
	kv KVStore
}

func NewEphemeralStore(kv KVStore) *EphemeralStore {
	return &EphemeralStore{kv: kv}
}

func otpKey(purpose domain.Purpose, idHash string) string {
	return "otp:" + string(purpose) + ":" + idHash
}

func counterKey(c counter, purpose domain.Purpose, idHash string) string {
	return string(c) + ":" + string(purpose) + ":" + idHash
}

func unavailable(op string, err error) error {
	return fmt.Errorf("ephemeral store: %s: %w", op, errors.Join(err, domain.ErrStoreUnavailable))
}

// SaveOTP writes rec, replacing any live record for the same key.
func (s *EphemeralStore) SaveOTP(ctx context.Context, rec OTPRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("ephemeral store: marshal otp: %w", err)
	}
	if err := s.kv.SetWithTTL(ctx, otpKey(rec.Purpose, rec.IdentifierHash), string(payload), rec.TTL); err != nil {
		return unavailable("save otp", err)
	}
	return nil
}

// LoadOTP returns found=false when no live record exists.
func (s *EphemeralStore) LoadOTP(ctx context.Context, purpose domain.Purpose, idHash string) (*OTPRecord, bool, error) {
	raw, found, err := s.kv.Get(ctx, otpKey(purpose, idHash))
	if err != nil {
		return nil, false, unavailable("load otp", err)
	}
	if !found {
		return nil, false, nil
	}
	var rec OTPRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, false, fmt.Errorf("ephemeral store: unmarshal otp: %w", err)
	}
	return &rec, true, nil
}

// DeleteOTP reports whether this call removed the record.
func (s *EphemeralStore) DeleteOTP(ctx context.Context, purpose domain.Purpose, idHash string) (bool, error) {
	deleted, err := s.kv.Delete(ctx, otpKey(purpose, idHash))
	if err != nil {
		return false, unavailable("delete otp", err)
	}
	return deleted, nil
}

func (s *EphemeralStore) increment(ctx context.Context, c counter, purpose domain.Purpose, idHash string, window time.Duration) (int64, error) {
	n, err := s.kv.IncrementWithTTL(ctx, counterKey(c, purpose, idHash), window)
	if err != nil {
		return 0, unavailable("increment "+string(c), err)
	}
	return n, nil
}

func (s *EphemeralStore) decrement(ctx context.Context, c counter, purpose domain.Purpose, idHash string) (int64, error) {
	n, err := s.kv.Decrement(ctx, counterKey(c, purpose, idHash))
	if err != nil {
		return 0, unavailable("decrement "+string(c), err)
	}
	return n, nil
}

func (s *EphemeralStore) count(ctx context.Context, c counter, purpose domain.Purpose, idHash string) (int64, error) {
	raw, found, err := s.kv.Get(ctx, counterKey(c, purpose, idHash))
	if err != nil {
		return 0, unavailable("read "+string(c), err)
	}
	if !found {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("ephemeral store: parse %s: %w", c, err)
	}
	return n, nil
}

func (s *EphemeralStore) reset(ctx context.Context, c counter, purpose domain.Purpose, idHash string) error {
	if _, err := s.kv.Delete(ctx, counterKey(c, purpose, idHash)); err != nil {
		return unavailable("reset "+string(c), err)
	}
	return nil
}

func (s *EphemeralStore) resetsIn(ctx context.Context, c counter, purpose domain.Purpose, idHash string) (time.Duration, error) {
	d, err := s.kv.TTL(ctx, counterKey(c, purpose, idHash))
	if err != nil {
		return 0, unavailable("ttl "+string(c), err)
	}
	return d, nil
}
