// Package config provides configuration loading using koanf.
// Precedence: environment (including a loaded .env file) over compiled defaults.
package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"github.com/aelexs/verification-gateway/internal/domain"
)

// EnvPrefix is stripped from environment variables before mapping. A double
// underscore separates nesting levels: VERIFYGW_OTP__CODE_TTL sets otp.code_ttl.
const EnvPrefix = "VERIFYGW_"

// listKeys are comma-separated in the environment.
var listKeys = map[string]struct{}{
	"otp.sms_country_codes": {},
	"http.allowed_origins":  {},
	"local.seed_accounts":   {},
}

// Config holds all service configuration.
type Config struct {
	// Environment identifier: "local", "dev", "prod"
	Environment string `koanf:"environment"`

	// Logging configuration
	LogLevel  string `koanf:"log_level"`
	LogFormat string `koanf:"log_format"`

	AppName string `koanf:"app_name"`

	HTTP    HTTPConfig    `koanf:"http"`
	OTP     OTPConfig     `koanf:"otp"`
	Welcome WelcomeConfig `koanf:"welcome"`
	JWT     JWTConfig     `koanf:"jwt"`

	// Infrastructure configurations
	DynamoDB DynamoDBConfig `koanf:"dynamodb"`
	Redis    RedisConfig    `koanf:"redis"`
	AWS      AWSConfig      `koanf:"aws"`
	SNS      SNSConfig      `koanf:"sns"`
	SMTP     SMTPConfig     `koanf:"smtp"`
	Secrets  SecretsConfig  `koanf:"secrets"`

	// OpenTelemetry configuration
	OTEL OTELConfig `koanf:"otel"`

	Local LocalConfig `koanf:"local"`
}

// LocalConfig applies only when every store runs in process.
type LocalConfig struct {
	// SeedAccounts creates accounts at startup, one "phone|email" pair per
	// entry. Either side may be empty.
	SeedAccounts []string `koanf:"seed_accounts"`
}

// HTTPConfig holds the listener and per-IP throttle settings.
type HTTPConfig struct {
	Port         int           `koanf:"port"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
	IPRate       float64       `koanf:"ip_rate"` // requests per second per client IP
	IPBurst      int           `koanf:"ip_burst"`
	// AllowedOrigins enables CORS for browser clients; empty disables it.
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// OTPConfig holds code issuance and verification policy.
type OTPConfig struct {
	CodeLength      int                 `koanf:"code_length"`
	CodeTTL         time.Duration       `koanf:"code_ttl"`
	ResendLimit     int                 `koanf:"resend_limit"`
	ResendWindow    time.Duration       `koanf:"resend_window"`
	AttemptLimit    int                 `koanf:"attempt_limit"`
	FailureFloor    time.Duration       `koanf:"failure_floor"`
	LookupFloor     time.Duration       `koanf:"lookup_floor"`
	DispatchTimeout time.Duration       `koanf:"dispatch_timeout"`
	SMSCountryCodes []string            `koanf:"sms_country_codes"`
	Pepper          domain.SecretString `koanf:"pepper"` // Required outside local
}

// WelcomeConfig sizes the welcome notification worker pool.
type WelcomeConfig struct {
	Workers     int           `koanf:"workers"`
	QueueSize   int           `koanf:"queue_size"`
	SendTimeout time.Duration `koanf:"send_timeout"`
}

// JWTConfig holds session token signing settings. An empty key in local
// mode makes the service generate a throwaway key at startup.
type JWTConfig struct {
	PrivateKeyPEM domain.SecretString `koanf:"private_key_pem"`
	KeyID         string              `koanf:"key_id"`
	Issuer        string              `koanf:"issuer"`
	Audience      string              `koanf:"audience"`
	AccessTTL     time.Duration       `koanf:"access_ttl"`
}

// DynamoDBConfig holds DynamoDB configuration. Empty table names in local
// mode select the in-memory account store.
type DynamoDBConfig struct {
	Endpoint      string        `koanf:"endpoint"` // Empty for production (uses default AWS endpoint)
	Timeout       time.Duration `koanf:"timeout"`
	AccountsTable string        `koanf:"accounts_table"`
	SessionsTable string        `koanf:"sessions_table"`
}

// RedisConfig holds Redis configuration. An empty address in local mode
// selects the in-memory ephemeral store.
type RedisConfig struct {
	Addr     string              `koanf:"addr"`
	Password domain.SecretString `koanf:"password"`
	DB       int                 `koanf:"db"`
	Timeout  time.Duration       `koanf:"timeout"`
}

// AWSConfig holds AWS SDK configuration.
type AWSConfig struct {
	Region   string `koanf:"region"`
	Endpoint string `koanf:"endpoint"` // LocalStack endpoint for development
}

// SNSConfig holds SMS delivery settings. Disabled means SMS is logged only.
type SNSConfig struct {
	Enabled  bool   `koanf:"enabled"`
	SenderID string `koanf:"sender_id"`
}

// SMTPConfig holds email relay settings. An empty host means mail is logged only.
type SMTPConfig struct {
	Host     string              `koanf:"host"`
	Port     int                 `koanf:"port"`
	Username string              `koanf:"username"`
	Password domain.SecretString `koanf:"password"`
	From     string              `koanf:"from"`
}

// SecretsConfig locates key material held in AWS. When set, these take the
// place of otp.pepper and jwt.private_key_pem.
type SecretsConfig struct {
	PepperSecretID     string `koanf:"pepper_secret_id"`      // Secrets Manager secret holding the code pepper
	JWTKeyIDParam      string `koanf:"jwt_key_id_param"`      // SSM parameter naming the active signing key
	JWTKeySecretPrefix string `koanf:"jwt_key_secret_prefix"` // Secrets Manager name prefix; the key ID is appended
}

// UsesAWS reports whether any secret is loaded from AWS.
func (s SecretsConfig) UsesAWS() bool {
	return s.PepperSecretID != "" || s.JWTKeyIDParam != ""
}

// OTELConfig holds OpenTelemetry configuration.
type OTELConfig struct {
	Endpoint    string `koanf:"endpoint"` // Empty disables OTLP export
	ServiceName string `koanf:"service_name"`
}

// defaults returns a Config with compiled default values.
func defaults() *Config {
	return &Config{
		Environment: "local",
		LogLevel:    "info",
		LogFormat:   "json",
		AppName:     "Verify",

		HTTP: HTTPConfig{
			Port:         8080,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 15 * time.Second,
			IPRate:       domain.DefaultIPRatePerSecond,
			IPBurst:      domain.DefaultIPBurst,
		},
		OTP: OTPConfig{
			CodeLength:      domain.DefaultCodeLength,
			CodeTTL:         domain.DefaultCodeTTL,
			ResendLimit:     domain.DefaultResendLimit,
			ResendWindow:    domain.DefaultResendWindow,
			AttemptLimit:    domain.DefaultAttemptLimit,
			FailureFloor:    domain.DefaultFailureFloor,
			LookupFloor:     domain.DefaultLookupFloor,
			DispatchTimeout: domain.DispatchTimeout,
			SMSCountryCodes: []string{domain.DefaultSMSCountryCode},
		},
		Welcome: WelcomeConfig{
			Workers:     domain.DefaultWelcomeWorkers,
			QueueSize:   domain.DefaultWelcomeQueueSize,
			SendTimeout: domain.WelcomeSendTimeout,
		},
		JWT: JWTConfig{
			KeyID:     "local",
			Issuer:    "verification-gateway",
			Audience:  "accounts",
			AccessTTL: domain.AccessTokenLifetime,
		},

		DynamoDB: DynamoDBConfig{
			Timeout: domain.DynamoDBTimeout,
		},
		Redis: RedisConfig{
			DB:      0,
			Timeout: domain.RedisTimeout,
		},
		AWS: AWSConfig{
			Region: "us-east-1",
		},
		SMTP: SMTPConfig{
			Port: 587,
		},
		Secrets: SecretsConfig{
			JWTKeySecretPrefix: "verifygw/jwt/signing-key/",
		},
		OTEL: OTELConfig{
			ServiceName: "verification-gateway",
		},
	}
}

// Load loads configuration from the environment over compiled defaults.
// Required keys missing outside local mode cause a startup failure.
func Load(ctx context.Context) (*Config, error) {
	k := koanf.New(".")

	cfg := defaults()

	err := k.Load(env.ProviderWithValue(EnvPrefix, ".", func(key, value string) (string, any) {
		key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
		key = strings.ReplaceAll(key, "__", ".")
		if _, ok := listKeys[key]; ok {
			return key, splitList(value)
		}
		return key, value
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load env vars: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	if err := validateRequired(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// validate checks that configured values are usable.
func validate(cfg *Config) error {
	o := cfg.OTP
	switch {
	case o.CodeLength < domain.MinCodeLength || o.CodeLength > domain.MaxCodeLength:
		return fmt.Errorf("otp.code_length %d outside [%d,%d]: %w",
			o.CodeLength, domain.MinCodeLength, domain.MaxCodeLength, domain.ErrInvalidInput)
	case o.CodeTTL <= 0:
		return fmt.Errorf("otp.code_ttl must be positive: %w", domain.ErrInvalidInput)
	case o.ResendLimit <= 0 || o.AttemptLimit <= 0:
		return fmt.Errorf("otp limits must be positive: %w", domain.ErrInvalidInput)
	case o.ResendWindow <= 0:
		return fmt.Errorf("otp.resend_window must be positive: %w", domain.ErrInvalidInput)
	case o.FailureFloor < o.LookupFloor:
		return fmt.Errorf("otp.failure_floor %s below otp.lookup_floor %s: %w",
			o.FailureFloor, o.LookupFloor, domain.ErrInvalidInput)
	}
	return nil
}

// validateRequired checks that required configuration is present.
func validateRequired(cfg *Config) error {
	// In local environment, every dependency has an in-process fallback.
	if cfg.IsLocal() {
		return nil
	}

	if cfg.OTP.Pepper.IsEmpty() && cfg.Secrets.PepperSecretID == "" {
		return fmt.Errorf("%w: otp.pepper or secrets.pepper_secret_id", domain.ErrConfigRequired)
	}

	if cfg.IsProd() {
		required := []struct {
			key   string
			empty bool
		}{
			{"redis.addr", cfg.Redis.Addr == ""},
			{"dynamodb.accounts_table", cfg.DynamoDB.AccountsTable == ""},
			{"jwt.private_key_pem or secrets.jwt_key_id_param", cfg.JWT.PrivateKeyPEM.IsEmpty() && cfg.Secrets.JWTKeyIDParam == ""},
			{"smtp.host", cfg.SMTP.Host == ""},
		}
		for _, r := range required {
			if r.empty {
				return fmt.Errorf("%w: %s", domain.ErrConfigRequired, r.key)
			}
		}
	}

	return nil
}

// IsLocal returns true if running in local development environment.
func (c *Config) IsLocal() bool {
	return c.Environment == "local"
}

// IsProd returns true if running in production environment.
func (c *Config) IsProd() bool {
	return c.Environment == "prod"
}
