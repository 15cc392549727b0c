package server_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/aelexs/verification-gateway/internal/config"
	"github.com/aelexs/verification-gateway/internal/domain"
	"github.com/aelexs/verification-gateway/internal/server"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeService struct {
	closed atomic.Bool
	ready  atomic.Value // error
}

func (f *fakeService) params() server.Params {
	return server.Params{
		Name: "testservice",
		Setup: func(_ context.Context, _ *config.Config, _ *slog.Logger) (*server.Service, error) {
			mux := http.NewServeMux()
			mux.HandleFunc("/v1/ping", func(w http.ResponseWriter, _ *http.Request) {
				_, _ = io.WriteString(w, "pong")
			})
			return &server.Service{
				Handler: mux,
				Ready: func(context.Context) error {
					if err, _ := f.ready.Load().(error); err != nil {
						return err
					}
					return nil
				},
				Close: func(context.Context) error {
					f.closed.Store(true)
					return nil
				},
			}, nil
		},
	}
}

func start(t *testing.T, p server.Params) (addr string, cancel context.CancelFunc, errCh <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	ln := newTestListener(t)

	ch := make(chan error, 1)
	go func() {
		ch <- server.Run(ctx, p, ln)
	}()

	waitForHealthy(t, ln.Addr().String())
	return ln.Addr().String(), cancel, ch
}

func TestRunGracefulShutdown(t *testing.T) {
	svc := &fakeService{}
	_, cancel, errCh := start(t, svc.params())

	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(domain.GracefulShutdownTimeout + 5*time.Second):
		t.Fatal("shutdown did not complete within budget")
	}
	assert.True(t, svc.closed.Load(), "service Close must run on shutdown")
}

func TestRunMountsServiceHandler(t *testing.T) {
	svc := &fakeService{}
	addr, cancel, errCh := start(t, svc.params())
	defer func() {
		cancel()
		<-errCh
	}()

	resp, err := httpGet(t, fmt.Sprintf("http://%s/v1/ping", addr))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pong", string(body))
}

func TestHealthCheckReflectsReadiness(t *testing.T) {
	svc := &fakeService{}
	addr, cancel, errCh := start(t, svc.params())
	defer func() {
		cancel()
		<-errCh
	}()

	svc.ready.Store(errors.New("redis down"))

	resp, err := httpGet(t, fmt.Sprintf("http://%s/healthz", addr))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHealthCheckReturns503DuringShutdown(t *testing.T) {
	svc := &fakeService{}
	addr, cancel, errCh := start(t, svc.params())

	cancel()

	// Health check should return 503 during drain delay (before server stops).
	eventually(t, 2*time.Second, func() bool {
		resp, err := httpGet(t, fmt.Sprintf("http://%s/healthz", addr))
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusServiceUnavailable
	})

	<-errCh
}

func TestRunSetupFailure(t *testing.T) {
	ln := newTestListener(t)
	defer ln.Close()

	err := server.Run(context.Background(), server.Params{
		Name: "testservice",
		Setup: func(context.Context, *config.Config, *slog.Logger) (*server.Service, error) {
			return nil, errors.New("no redis")
		},
	}, ln)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no redis")
}

func TestRunConfigFailure(t *testing.T) {
	t.Setenv("VERIFYGW_OTP__CODE_LENGTH", "2")

	err := server.Run(context.Background(), (&fakeService{}).params(), nil)

	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func newTestListener(t *testing.T) net.Listener {
	t.Helper()
	ln, err := (&net.ListenConfig{}).Listen(context.Background(), "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create test listener: %v", err)
	}
	return ln
}

// waitForHealthy polls the health endpoint until it returns 200.
func waitForHealthy(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := httpGet(t, fmt.Sprintf("http://%s/healthz", addr))
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("server at %s not healthy within 5s", addr)
}

// httpGet performs an HTTP GET with a background context (satisfies noctx linter).
func httpGet(t *testing.T, url string) (*http.Response, error) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return http.DefaultClient.Do(req)
}

// eventually retries f until it returns true or timeout expires.
func eventually(t *testing.T, timeout time.Duration, f func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if f() {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}
