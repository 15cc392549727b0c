package domain

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// e164Pattern matches E.164 phone numbers: + followed by 7-15 digits.
var e164Pattern = regexp.MustCompile(`^\+[1-9]\d{6,14}$`)

var countryCodePattern = regexp.MustCompile(`^\+[1-9]\d{0,3}$`)

var emailValidator = validator.New()

// Channel is the delivery/verification channel an identifier belongs to.
type Channel string

const (
	ChannelPhone Channel = "phone"
	ChannelEmail Channel = "email"
)

// Other returns the complementary channel.
func (c Channel) Other() Channel {
	if c == ChannelPhone {
		return ChannelEmail
	}
	return ChannelPhone
}

// Identifier is a value object for a phone number (E.164) or an email address
// (lower-cased). It is the canonical key for all code and counter state, so a
// given person always maps to exactly one Identifier per channel.
type Identifier struct {
	channel Channel
	value   string
}

// NewPhoneIdentifier validates an E.164 phone number.
func NewPhoneIdentifier(raw string) (Identifier, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Identifier{}, fmt.Errorf("phone number cannot be empty: %w", ErrInvalidPhoneNumber)
	}
	if !e164Pattern.MatchString(raw) {
		return Identifier{}, fmt.Errorf("phone number %q is not valid E.164: %w", raw, ErrInvalidPhoneNumber)
	}
	return Identifier{channel: ChannelPhone, value: raw}, nil
}

// NewEmailIdentifier validates and lower-cases an email address.
func NewEmailIdentifier(raw string) (Identifier, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return Identifier{}, fmt.Errorf("email cannot be empty: %w", ErrInvalidEmail)
	}
	if err := emailValidator.Var(raw, "required,email"); err != nil {
		return Identifier{}, fmt.Errorf("email %q is not valid: %w", raw, ErrInvalidEmail)
	}
	return Identifier{channel: ChannelEmail, value: raw}, nil
}

// ParseIdentifier builds an Identifier from client input. When countryCode is
// set and raw is a national number, the two are joined into one E.164 value so
// that "+91" + "9000000000" and "+919000000000" key the same state.
func ParseIdentifier(raw, countryCode string) (Identifier, error) {
	raw = strings.TrimSpace(raw)
	countryCode = strings.TrimSpace(countryCode)
	switch {
	case raw == "":
		return Identifier{}, fmt.Errorf("identifier is required: %w", ErrInvalidIdentifier)
	case strings.Contains(raw, "@"):
		return NewEmailIdentifier(raw)
	case strings.HasPrefix(raw, "+"):
		return NewPhoneIdentifier(raw)
	case countryCode != "":
		if !countryCodePattern.MatchString(countryCode) {
			return Identifier{}, fmt.Errorf("country code %q is not valid: %w", countryCode, ErrInvalidPhoneNumber)
		}
		return NewPhoneIdentifier(countryCode + strings.TrimLeft(raw, "0"))
	default:
		return Identifier{}, fmt.Errorf("identifier %q is neither E.164 nor email: %w", raw, ErrInvalidIdentifier)
	}
}

// MustIdentifier parses raw, panicking on invalid input. Use only in tests.
func MustIdentifier(raw string) Identifier {
	id, err := ParseIdentifier(raw, "")
	if err != nil {
		panic(err)
	}
	return id
}

func (id Identifier) String() string   { return id.value }
func (id Identifier) Channel() Channel { return id.channel }
func (id Identifier) IsZero() bool     { return id.value == "" }

// HasCountryCode reports whether a phone identifier starts with cc.
func (id Identifier) HasCountryCode(cc string) bool {
	return id.channel == ChannelPhone && cc != "" && strings.HasPrefix(id.value, cc)
}
