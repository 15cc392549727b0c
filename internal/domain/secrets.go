package domain

import "log/slog"

// SecretString holds a credential read from configuration (code pepper, SMTP
// password, JWT key material). It renders as [REDACTED] through fmt and slog.
type SecretString string

func (s SecretString) String() string {
	return "[REDACTED]"
}

// LogValue implements slog.LogValuer.
func (s SecretString) LogValue() slog.Value {
	return slog.StringValue("[REDACTED]")
}

// Expose returns the actual secret value. Call it only at the point of use.
func (s SecretString) Expose() string {
	return string(s)
}

// Bytes returns the secret as a byte slice for MAC keys.
func (s SecretString) Bytes() []byte {
	return []byte(s)
}

func (s SecretString) IsEmpty() bool {
	return len(s) == 0
}

var _ slog.LogValuer = SecretString("")
