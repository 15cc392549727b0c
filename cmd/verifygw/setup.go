package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/time/rate"

	"github.com/aelexs/verification-gateway/internal/auth"
	"github.com/aelexs/verification-gateway/internal/config"
	"github.com/aelexs/verification-gateway/internal/domain"
	"github.com/aelexs/verification-gateway/internal/dynamo"
	"github.com/aelexs/verification-gateway/internal/redis"
	"github.com/aelexs/verification-gateway/internal/secrets"
	"github.com/aelexs/verification-gateway/internal/server"
	"github.com/aelexs/verification-gateway/internal/sns"
	"github.com/aelexs/verification-gateway/internal/verification/adapter"
	"github.com/aelexs/verification-gateway/internal/verification/app"
	"github.com/aelexs/verification-gateway/internal/verification/port"
)

// devPepper keys code MACs in local mode when no pepper is configured.
const devPepper = domain.SecretString("local-dev-pepper-32-bytes-ok!!")

// setup is the composition root. It creates infrastructure clients, adapters,
// the verification core, and the HTTP handler.
func setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*server.Service, error) {
	clock := domain.RealClock{}

	// 1. Ephemeral store (codes and counters).
	kv, redisClient := createEphemeralStore(cfg, logger, clock)

	fail := func(err error) (*server.Service, error) {
		if redisClient != nil {
			_ = redisClient.Close()
		}
		return nil, fmt.Errorf("verifygw setup: %w", err)
	}

	// 2. Accounts and sessions.
	accounts, sessionStore, err := createAccountStores(ctx, cfg, logger, clock)
	if err != nil {
		return fail(err)
	}

	// 3. Delivery channels.
	smsSender, err := createSMSSender(ctx, cfg, logger)
	if err != nil {
		return fail(err)
	}
	mailSender := createMailSender(cfg, logger)

	// 4. Key material and session credentials.
	var loader *adapter.SecretLoader
	if cfg.Secrets.UsesAWS() {
		clients, err := secrets.NewClients(ctx, secrets.Config{
			Endpoint: cfg.AWS.Endpoint,
			Region:   cfg.AWS.Region,
			Timeout:  cfg.DynamoDB.Timeout,
		})
		if err != nil {
			return fail(fmt.Errorf("create secrets clients: %w", err))
		}
		loader = adapter.NewSecretLoader(clients.SecretsManager, clients.SSM)
	}

	pepper, err := resolvePepper(ctx, cfg, loader, logger)
	if err != nil {
		return fail(err)
	}

	keyStore, err := createKeyStore(ctx, cfg, loader, logger)
	if err != nil {
		return fail(fmt.Errorf("create key store: %w", err))
	}
	minter := auth.NewMinter(auth.MinterConfig{
		KeyStore:  keyStore,
		AccessTTL: cfg.JWT.AccessTTL,
		Issuer:    cfg.JWT.Issuer,
		Audience:  cfg.JWT.Audience,
		Clock:     clock,
	})
	var sessions *adapter.JWTSessionIssuer
	if sessionStore != nil {
		sessions = adapter.NewJWTSessionIssuer(minter, sessionStore, clock)
	} else {
		sessions = adapter.NewJWTSessionIssuer(minter, nil, clock)
	}

	// 5. Verification core.
	ephemeral := app.NewEphemeralStore(kv)
	limiter := app.NewRateLimiter(ephemeral, app.RateLimiterConfig{
		ResendLimit:   cfg.OTP.ResendLimit,
		ResendWindow:  cfg.OTP.ResendWindow,
		AttemptLimit:  cfg.OTP.AttemptLimit,
		AttemptWindow: cfg.OTP.CodeTTL,
	})
	lifecycle := app.NewLifecycle(app.LifecycleConfig{
		Store:           ephemeral,
		Limiter:         limiter,
		Dispatcher:      adapter.NewChannelDispatcher(smsSender, mailSender, cfg.AppName),
		Clock:           clock,
		Logger:          logger,
		Pepper:          pepper,
		CodeLength:      cfg.OTP.CodeLength,
		CodeTTL:         cfg.OTP.CodeTTL,
		DispatchTimeout: cfg.OTP.DispatchTimeout,
	})
	welcome := app.NewWelcomeQueue(app.WelcomeQueueConfig{
		Claimer:     accounts,
		Sender:      adapter.NewWelcomeNotifier(smsSender, mailSender, cfg.AppName),
		Clock:       clock,
		Logger:      logger,
		Workers:     cfg.Welcome.Workers,
		QueueSize:   cfg.Welcome.QueueSize,
		SendTimeout: cfg.Welcome.SendTimeout,
	})
	orchestrator := app.NewOrchestrator(app.OrchestratorConfig{
		Lifecycle:       lifecycle,
		Accounts:        accounts,
		Sessions:        sessions,
		Welcome:         welcome,
		Logger:          logger,
		FailureFloor:    cfg.OTP.FailureFloor,
		LookupFloor:     cfg.OTP.LookupFloor,
		SMSCountryCodes: cfg.OTP.SMSCountryCodes,
	})

	// 6. HTTP surface.
	router := port.NewRouter(port.RouterConfig{
		Handler:        port.NewHandler(orchestrator, logger),
		Limiter:        port.NewIPRateLimiter(rate.Limit(cfg.HTTP.IPRate), cfg.HTTP.IPBurst, clock),
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
	})

	// The welcome queue outlives the signal context; Close stops it after
	// the HTTP server has drained so late enqueues are still delivered.
	welcomeCtx, stopWelcome := context.WithCancel(context.WithoutCancel(ctx))
	welcomeDone := make(chan error, 1)
	go func() {
		welcomeDone <- welcome.Run(welcomeCtx)
	}()

	logger.InfoContext(ctx, "verification gateway initialized",
		slog.Bool("redis", redisClient != nil),
		slog.Bool("dynamodb", cfg.DynamoDB.AccountsTable != ""),
		slog.Bool("sns", cfg.SNS.Enabled),
		slog.Bool("smtp", cfg.SMTP.Host != ""),
	)

	svc := &server.Service{
		Handler: router,
		Close: func(ctx context.Context) error {
			stopWelcome()
			var errs []error
			select {
			case err := <-welcomeDone:
				if err != nil {
					errs = append(errs, fmt.Errorf("welcome queue: %w", err))
				}
			case <-ctx.Done():
				errs = append(errs, fmt.Errorf("welcome queue: %w", ctx.Err()))
			}
			if redisClient != nil {
				if err := redisClient.Close(); err != nil {
					errs = append(errs, fmt.Errorf("close redis: %w", err))
				}
			}
			return errors.Join(errs...)
		},
	}
	if redisClient != nil {
		svc.Ready = redisClient.Ping
	}
	return svc, nil
}

// createEphemeralStore returns Redis when an address is configured, otherwise
// the in-process store. Config validation guarantees an address outside local.
func createEphemeralStore(cfg *config.Config, logger *slog.Logger, clock domain.Clock) (app.KVStore, *redis.Client) {
	if cfg.Redis.Addr == "" {
		logger.Info("using in-memory ephemeral store")
		return adapter.NewMemoryStore(clock), nil
	}
	client := redis.NewClient(redis.Config{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password.Expose(),
		DB:           cfg.Redis.DB,
		ReadTimeout:  cfg.Redis.Timeout,
		WriteTimeout: cfg.Redis.Timeout,
	})
	return adapter.NewRedisStore(client.RDB), client
}

// createAccountStores returns DynamoDB-backed stores when an accounts table
// is configured. The session store is nil unless a sessions table is set.
func createAccountStores(ctx context.Context, cfg *config.Config, logger *slog.Logger, clock domain.Clock) (app.AccountStore, *adapter.DynamoSessionStore, error) {
	if cfg.DynamoDB.AccountsTable == "" {
		store := adapter.NewMemoryAccountStore()
		if err := seedAccounts(store, cfg.Local.SeedAccounts); err != nil {
			return nil, nil, err
		}
		logger.Info("using in-memory account store", slog.Int("seeded", len(cfg.Local.SeedAccounts)))
		return store, nil, nil
	}

	endpoint := cfg.DynamoDB.Endpoint
	if endpoint == "" {
		endpoint = cfg.AWS.Endpoint
	}
	client, err := dynamo.NewClient(ctx, dynamo.Config{
		Endpoint: endpoint,
		Region:   cfg.AWS.Region,
		Timeout:  cfg.DynamoDB.Timeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create dynamo client: %w", err)
	}

	accounts := adapter.NewDynamoAccountStore(client.DB, cfg.DynamoDB.AccountsTable, clock)
	if cfg.DynamoDB.SessionsTable == "" {
		return accounts, nil, nil
	}
	return accounts, adapter.NewDynamoSessionStore(client.DB, cfg.DynamoDB.SessionsTable), nil
}

// seedAccounts creates one account per "phone|email" entry.
func seedAccounts(store *adapter.MemoryAccountStore, entries []string) error {
	for _, entry := range entries {
		rawPhone, rawEmail, _ := strings.Cut(entry, "|")
		var phone, email string
		if rawPhone != "" {
			id, err := domain.NewPhoneIdentifier(rawPhone)
			if err != nil {
				return fmt.Errorf("seed account %q: %w", entry, err)
			}
			phone = id.String()
		}
		if rawEmail != "" {
			id, err := domain.NewEmailIdentifier(rawEmail)
			if err != nil {
				return fmt.Errorf("seed account %q: %w", entry, err)
			}
			email = id.String()
		}
		if phone == "" && email == "" {
			return fmt.Errorf("seed account %q: %w", entry, domain.ErrInvalidIdentifier)
		}
		store.Create(phone, email)
	}
	return nil
}

// createSMSSender returns an SNS sender when enabled, otherwise a sender that
// only logs.
func createSMSSender(ctx context.Context, cfg *config.Config, logger *slog.Logger) (adapter.SMSSender, error) {
	if !cfg.SNS.Enabled {
		if !cfg.IsLocal() {
			logger.Warn("sns disabled, SMS codes will be logged instead of sent")
		}
		return adapter.NewLogSMSSender(logger), nil
	}
	client, err := sns.NewClient(ctx, sns.Config{
		Endpoint: cfg.AWS.Endpoint,
		Region:   cfg.AWS.Region,
		Timeout:  cfg.OTP.DispatchTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("create sns client: %w", err)
	}
	return adapter.NewSNSSMSSender(client.API, cfg.SNS.SenderID), nil
}

// createMailSender returns an SMTP sender when a relay host is configured,
// otherwise a sender that only logs.
func createMailSender(cfg *config.Config, logger *slog.Logger) adapter.MailSender {
	if cfg.SMTP.Host == "" {
		return adapter.NewLogMailSender(logger)
	}
	return adapter.NewSMTPMailSender(adapter.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password.Expose(),
		From:     cfg.SMTP.From,
	})
}

// resolvePepper picks the code MAC pepper: Secrets Manager, then config,
// then the development pepper in local mode.
func resolvePepper(ctx context.Context, cfg *config.Config, loader *adapter.SecretLoader, logger *slog.Logger) (domain.SecretString, error) {
	if loader != nil && cfg.Secrets.PepperSecretID != "" {
		return loader.LoadPepper(ctx, cfg.Secrets.PepperSecretID)
	}
	if !cfg.OTP.Pepper.IsEmpty() {
		return cfg.OTP.Pepper, nil
	}
	if !cfg.IsLocal() {
		return "", fmt.Errorf("%w: otp.pepper", domain.ErrConfigRequired)
	}
	logger.Warn("otp.pepper not set, using the local development pepper")
	return devPepper, nil
}

// createKeyStore loads the signing key from AWS or config. Local mode
// without a key generates an ephemeral key pair.
func createKeyStore(ctx context.Context, cfg *config.Config, loader *adapter.SecretLoader, logger *slog.Logger) (auth.KeyStore, error) {
	if loader != nil && cfg.Secrets.JWTKeyIDParam != "" {
		return loader.LoadSigningKey(ctx, cfg.Secrets.JWTKeyIDParam, cfg.Secrets.JWTKeySecretPrefix)
	}
	if !cfg.JWT.PrivateKeyPEM.IsEmpty() {
		return auth.NewPEMKeyStore(cfg.JWT.PrivateKeyPEM.Bytes(), cfg.JWT.KeyID)
	}
	if !cfg.IsLocal() {
		return nil, fmt.Errorf("%w: jwt.private_key_pem", domain.ErrConfigRequired)
	}
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generate dev RSA key: %w", err)
	}
	logger.Info("using ephemeral RSA key for local development", slog.String("key_id", cfg.JWT.KeyID))
	return auth.NewStaticKeyStore(key, cfg.JWT.KeyID), nil
}
