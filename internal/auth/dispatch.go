package auth

import (
	"context"
	"time"

	"github.com/aelexs/verification-gateway/internal/domain"
)

// CodeMessage is a one-time code addressed to a phone number or email.
type CodeMessage struct {
	Channel   domain.Channel
	To        string
	Code      string
	Purpose   domain.Purpose
	ExpiresIn time.Duration
}

// Dispatcher delivers codes over SMS or email.
type Dispatcher interface {
	// SendCode returns nil once the transport has accepted the message
	// (not necessarily delivered it).
	SendCode(ctx context.Context, msg CodeMessage) error
}
