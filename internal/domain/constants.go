package domain

import "time"

// Compiled defaults. Every value here can be overridden via configuration.
const (
	// Code issuance
	DefaultCodeLength   = 6
	MinCodeLength       = 4
	MaxCodeLength       = 10
	DefaultCodeTTL      = 5 * time.Minute
	DefaultResendLimit  = 3              // codes per identifier+purpose per window
	DefaultResendWindow = 24 * time.Hour // fixed from first issuance, not rolling
	DefaultAttemptLimit = 5              // verify calls per live code

	// Timing floors
	DefaultFailureFloor = 200 * time.Millisecond // minimum latency of any verification failure
	DefaultLookupFloor  = 150 * time.Millisecond // minimum latency of an account lookup

	// Default SMS OTP country. Signup phone numbers outside these codes are marked
	// verified without an SMS code.
	DefaultSMSCountryCode = "+91"

	// Timeout contracts
	DynamoDBTimeout = 5 * time.Second
	RedisTimeout    = 2 * time.Second
	DispatchTimeout = 10 * time.Second

	// Welcome notification worker pool
	DefaultWelcomeWorkers   = 2
	DefaultWelcomeQueueSize = 256
	WelcomeSendTimeout      = 15 * time.Second

	// Session credentials
	AccessTokenLifetime = 1 * time.Hour

	// Per-IP request throttle on the HTTP surface
	DefaultIPRatePerSecond = 5
	DefaultIPBurst         = 10

	// Graceful shutdown
	ShutdownDrainDelay  = 2 * time.Second
	ShutdownHTTPTimeout = 10 * time.Second
	ShutdownOTELTimeout = 5 * time.Second

	// GracefulShutdownTimeout bounds the whole shutdown sequence.
	GracefulShutdownTimeout = ShutdownDrainDelay + ShutdownHTTPTimeout + ShutdownOTELTimeout
)
