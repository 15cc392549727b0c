package domain

import (
	"fmt"
	"strings"
)

// Purpose scopes a code and its counters to one verification flow, so a code
// issued for one purpose can never satisfy another.
type Purpose string

const (
	PurposeSignup        Purpose = "signup"
	PurposeLogin         Purpose = "login"
	PurposePasswordReset Purpose = "password_reset"
)

var purposes = map[Purpose]struct{}{
	PurposeSignup:        {},
	PurposeLogin:         {},
	PurposePasswordReset: {},
}

// ParsePurpose validates a client-supplied purpose tag.
func ParsePurpose(raw string) (Purpose, error) {
	p := Purpose(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := purposes[p]; !ok {
		return "", fmt.Errorf("purpose %q: %w", raw, ErrInvalidPurpose)
	}
	return p, nil
}

func (p Purpose) String() string { return string(p) }

// IssuesSession reports whether completing this flow may mint a session.
func (p Purpose) IssuesSession() bool {
	return p == PurposeSignup || p == PurposeLogin
}

// RequiresBothChannels reports whether the flow needs phone and email verified
// before a session is issued. Login needs only the channel just verified.
func (p Purpose) RequiresBothChannels() bool {
	return p == PurposeSignup
}
