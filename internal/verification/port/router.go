package port

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig holds what the router mounts.
type RouterConfig struct {
	Handler        *Handler
	Limiter        *IPRateLimiter // nil disables per-IP throttling
	AllowedOrigins []string
}

// NewRouter builds the /v1 API. The code endpoints sit behind the per-IP
// limiter.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			AllowedMethods: []string{"POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			ExposedHeaders: []string{"Retry-After"},
			MaxAge:         300,
		}))
	}

	r.Route("/v1/otp", func(r chi.Router) {
		if cfg.Limiter != nil {
			r.Use(cfg.Limiter.Limit)
		}
		r.Post("/request", cfg.Handler.RequestCode)
		r.Post("/verify", cfg.Handler.VerifyCode)
	})

	return r
}
