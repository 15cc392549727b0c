package app_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aelexs/verification-gateway/internal/auth"
	"github.com/aelexs/verification-gateway/internal/domain"
	"github.com/aelexs/verification-gateway/internal/domain/domaintest"
	"github.com/aelexs/verification-gateway/internal/verification/adapter"
	"github.com/aelexs/verification-gateway/internal/verification/app"
)

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubDispatcher records every message and returns err when set.
type stubDispatcher struct {
	mu   sync.Mutex
	sent []auth.CodeMessage
	err  error
}

func (d *stubDispatcher) SendCode(_ context.Context, msg auth.CodeMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.sent = append(d.sent, msg)
	return nil
}

func (d *stubDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sent)
}

// lastCode returns the most recent code sent to `to`.
func (d *stubDispatcher) lastCode(t *testing.T, to string) string {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := len(d.sent) - 1; i >= 0; i-- {
		if d.sent[i].To == to {
			return d.sent[i].Code
		}
	}
	t.Fatalf("no code sent to %s", to)
	return ""
}

type stubSessions struct {
	mu       sync.Mutex
	issued   []app.SessionRequest
	issueErr error
}

func (s *stubSessions) IssueSession(_ context.Context, req app.SessionRequest) (*app.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.issueErr != nil {
		return nil, s.issueErr
	}
	s.issued = append(s.issued, req)
	return &app.Session{ID: "sess", AccountID: req.Account.ID, AccessToken: "token", ExpiresAt: testStart.Add(time.Hour)}, nil
}

func (s *stubSessions) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.issued)
}

type stubWelcome struct {
	mu       sync.Mutex
	enqueued []app.Account
}

func (w *stubWelcome) Enqueue(account app.Account) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.enqueued = append(w.enqueued, account)
	return true
}

func (w *stubWelcome) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.enqueued)
}

// failingKV fails every call.
type failingKV struct{}

var errKVDown = errors.New("connection refused")

func (failingKV) SetWithTTL(context.Context, string, string, time.Duration) error { return errKVDown }
func (failingKV) Get(context.Context, string) (string, bool, error)               { return "", false, errKVDown }
func (failingKV) IncrementWithTTL(context.Context, string, time.Duration) (int64, error) {
	return 0, errKVDown
}
func (failingKV) Decrement(context.Context, string) (int64, error)   { return 0, errKVDown }
func (failingKV) Delete(context.Context, string) (bool, error)       { return false, errKVDown }
func (failingKV) TTL(context.Context, string) (time.Duration, error) { return 0, errKVDown }

type harnessOpts struct {
	kv           app.KVStore
	failureFloor time.Duration
	lookupFloor  time.Duration
	generate     func(int) (string, error)
}

type harness struct {
	clock      *domaintest.FakeClock
	accounts   *adapter.MemoryAccountStore
	dispatcher *stubDispatcher
	sessions   *stubSessions
	welcome    *stubWelcome
	lifecycle  *app.Lifecycle
	orch       *app.Orchestrator
}

func newHarness(t *testing.T, opts harnessOpts) *harness {
	t.Helper()

	h := &harness{
		clock:      domaintest.NewFakeClock(testStart),
		accounts:   adapter.NewMemoryAccountStore(),
		dispatcher: &stubDispatcher{},
		sessions:   &stubSessions{},
		welcome:    &stubWelcome{},
	}
	kv := opts.kv
	if kv == nil {
		kv = adapter.NewMemoryStore(h.clock)
	}
	if opts.failureFloor == 0 {
		opts.failureFloor = 5 * time.Millisecond
	}
	if opts.lookupFloor == 0 {
		opts.lookupFloor = time.Millisecond
	}

	store := app.NewEphemeralStore(kv)
	limiter := app.NewRateLimiter(store, app.RateLimiterConfig{
		ResendLimit:   3,
		ResendWindow:  24 * time.Hour,
		AttemptLimit:  5,
		AttemptWindow: 5 * time.Minute,
	})
	h.lifecycle = app.NewLifecycle(app.LifecycleConfig{
		Store:        store,
		Limiter:      limiter,
		Dispatcher:   h.dispatcher,
		Clock:        h.clock,
		Logger:       discardLogger(),
		Pepper:       domain.SecretString("test-pepper"),
		CodeLength:   6,
		CodeTTL:      5 * time.Minute,
		GenerateCode: opts.generate,
	})
	h.orch = app.NewOrchestrator(app.OrchestratorConfig{
		Lifecycle:       h.lifecycle,
		Accounts:        h.accounts,
		Sessions:        h.sessions,
		Welcome:         h.welcome,
		Logger:          discardLogger(),
		FailureFloor:    opts.failureFloor,
		LookupFloor:     opts.lookupFloor,
		SMSCountryCodes: []string{"+91"},
	})
	return h
}

func (h *harness) request(t *testing.T, identifier string, purpose domain.Purpose) *app.RequestCodeResult {
	t.Helper()
	res, err := h.orch.RequestCode(context.Background(), app.RequestCodeInput{
		Identifier: identifier,
		Purpose:    string(purpose),
	})
	require.NoError(t, err)
	return res
}

func (h *harness) verify(identifier string, purpose domain.Purpose, code string) (*app.VerifyCodeResult, error) {
	return h.orch.VerifyCode(context.Background(), app.VerifyCodeInput{
		Identifier: identifier,
		Purpose:    string(purpose),
		Code:       code,
	})
}

// wrongCode returns a six-digit code different from code.
func wrongCode(code string) string {
	if code == "000000" {
		return "111111"
	}
	return "000000"
}
