package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/aelexs/verification-gateway/internal/domain"
)

// WelcomeQueueConfig holds the dependencies of a WelcomeQueue.
type WelcomeQueueConfig struct {
	Claimer     WelcomeClaimer
	Sender      WelcomeSender
	Clock       domain.Clock
	Logger      *slog.Logger
	Workers     int
	QueueSize   int
	SendTimeout time.Duration
}

// WelcomeQueue sends welcome notifications off the request path. Enqueue
// never blocks; failures are reported on an internal error channel and
// logged, never returned to the verification caller.
type WelcomeQueue struct {
	claimer     WelcomeClaimer
	sender      WelcomeSender
	clock       domain.Clock
	logger      *slog.Logger
	workers     int
	sendTimeout time.Duration

	jobs chan Account
	errs chan error
}

func NewWelcomeQueue(cfg WelcomeQueueConfig) *WelcomeQueue {
	if cfg.Clock == nil {
		cfg.Clock = domain.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = domain.DefaultWelcomeWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = domain.DefaultWelcomeQueueSize
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = domain.WelcomeSendTimeout
	}
	return &WelcomeQueue{
		claimer:     cfg.Claimer,
		sender:      cfg.Sender,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
		workers:     cfg.Workers,
		sendTimeout: cfg.SendTimeout,
		jobs:        make(chan Account, cfg.QueueSize),
		errs:        make(chan error, cfg.QueueSize),
	}
}

// Enqueue schedules a welcome for account. It returns false when the queue
// is full and the job was dropped.
func (q *WelcomeQueue) Enqueue(account Account) bool {
	select {
	case q.jobs <- account:
		return true
	default:
		welcomeNotifications.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("status", "dropped")))
		return false
	}
}

// Run processes jobs until ctx is done, then drains what is already queued.
// It must be called exactly once.
func (q *WelcomeQueue) Run(ctx context.Context) error {
	reported := make(chan struct{})
	go func() {
		defer close(reported)
		for err := range q.errs {
			q.logger.Error("welcome notification failed", "error", err)
		}
	}()

	var g errgroup.Group
	for range q.workers {
		g.Go(func() error {
			q.work(ctx)
			return nil
		})
	}
	err := g.Wait()
	close(q.errs)
	<-reported
	return err
}

func (q *WelcomeQueue) work(ctx context.Context) {
	for {
		select {
		case account := <-q.jobs:
			q.deliver(ctx, account)
		case <-ctx.Done():
			for {
				select {
				case account := <-q.jobs:
					q.deliver(ctx, account)
				default:
					return
				}
			}
		}
	}
}

func (q *WelcomeQueue) deliver(ctx context.Context, account Account) {
	// Jobs already accepted are finished even during shutdown.
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), q.sendTimeout)
	defer cancel()

	claimed, err := q.claimer.ClaimWelcome(sctx, account.ID, q.clock.Now())
	if err != nil {
		q.report(sctx, "claim_failed", fmt.Errorf("claim welcome for %s: %w", account.ID, err))
		return
	}
	if !claimed {
		welcomeNotifications.Add(sctx, 1, metric.WithAttributes(attribute.String("status", "already_sent")))
		return
	}
	if err := q.sender.SendWelcome(sctx, account); err != nil {
		q.report(sctx, "send_failed", fmt.Errorf("send welcome to %s: %w", account.ID, err))
		return
	}
	welcomeNotifications.Add(sctx, 1, metric.WithAttributes(attribute.String("status", "sent")))
}

func (q *WelcomeQueue) report(ctx context.Context, status string, err error) {
	welcomeNotifications.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	select {
	case q.errs <- err:
	default:
		q.logger.Error("welcome error channel full", "error", err)
	}
}
