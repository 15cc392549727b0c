// Package port exposes the verification flows over HTTP.
package port

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/aelexs/verification-gateway/internal/domain"
	"github.com/aelexs/verification-gateway/internal/errmap"
	"github.com/aelexs/verification-gateway/internal/observability"
	"github.com/aelexs/verification-gateway/internal/verification/app"
)

var tracer = otel.Tracer("verification/port")

// maxBodyBytes bounds request bodies; both payloads are a few short strings.
const maxBodyBytes = 4 << 10

// validate is initialised once; validator caches struct metadata.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Verifier is the application surface the handler drives.
// *app.Orchestrator satisfies it.
type Verifier interface {
	RequestCode(ctx context.Context, in app.RequestCodeInput) (*app.RequestCodeResult, error)
	VerifyCode(ctx context.Context, in app.VerifyCodeInput) (*app.VerifyCodeResult, error)
}

var _ Verifier = (*app.Orchestrator)(nil)

// RequestCodeRequest is the body of POST /v1/otp/request.
type RequestCodeRequest struct {
	Identifier  string `json:"identifier" validate:"required,max=320"`
	Purpose     string `json:"purpose" validate:"required,max=32"`
	CountryCode string `json:"country_code" validate:"omitempty,startswith=+,max=5"`
}

// VerifyCodeRequest is the body of POST /v1/otp/verify.
type VerifyCodeRequest struct {
	Identifier  string `json:"identifier" validate:"required,max=320"`
	Purpose     string `json:"purpose" validate:"required,max=32"`
	CountryCode string `json:"country_code" validate:"omitempty,startswith=+,max=5"`
	Code        string `json:"code" validate:"required,numeric,min=4,max=10"`
}

// RequestCodeResponse reports where the code went. Verification is present
// only when the channel was verified without a code.
type RequestCodeResponse struct {
	Status           string              `json:"status"`
	ExpiresAt        *time.Time          `json:"expires_at,omitempty"`
	ResendsRemaining *int                `json:"resends_remaining,omitempty"`
	Verification     *VerifyCodeResponse `json:"verification,omitempty"`
}

// VerifyCodeResponse reports the account's verification state after a
// successful check.
type VerifyCodeResponse struct {
	Verified       bool             `json:"verified"`
	SessionIssued  bool             `json:"session_issued"`
	Channel        string           `json:"channel"`
	PhoneVerified  bool             `json:"phone_verified"`
	EmailVerified  bool             `json:"email_verified"`
	Session        *SessionResponse `json:"session,omitempty"`
	PendingChannel string           `json:"pending_channel,omitempty"`
}

// SessionResponse carries the issued credential.
type SessionResponse struct {
	SessionID   string    `json:"session_id"`
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type errorEnvelope struct {
	Error errmap.HTTPError `json:"error"`
}

// Handler serves the code request and verification endpoints.
type Handler struct {
	verifier Verifier
	logger   *slog.Logger
}

func NewHandler(verifier Verifier, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{verifier: verifier, logger: logger}
}

// RequestCode handles POST /v1/otp/request.
func (h *Handler) RequestCode(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "http.otp.request")
	defer span.End()

	var req RequestCodeRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(ctx, w, err)
		return
	}
	span.SetAttributes(attribute.String("otp.purpose", req.Purpose))

	res, err := h.verifier.RequestCode(ctx, app.RequestCodeInput{
		Identifier:  req.Identifier,
		Purpose:     req.Purpose,
		CountryCode: req.CountryCode,
	})
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	resp := RequestCodeResponse{Status: string(res.Status)}
	if res.Status == app.CodeStatusSent {
		expiresAt := res.ExpiresAt.UTC()
		remaining := res.ResendsRemaining
		resp.ExpiresAt = &expiresAt
		resp.ResendsRemaining = &remaining
	}
	if res.Verification != nil {
		v := toVerifyResponse(res.Verification)
		resp.Verification = &v
	}

	status := http.StatusAccepted
	if res.Status == app.CodeStatusVerified {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

// VerifyCode handles POST /v1/otp/verify.
func (h *Handler) VerifyCode(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "http.otp.verify")
	defer span.End()

	var req VerifyCodeRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(ctx, w, err)
		return
	}
	span.SetAttributes(attribute.String("otp.purpose", req.Purpose))

	res, err := h.verifier.VerifyCode(ctx, app.VerifyCodeInput{
		Identifier:  req.Identifier,
		Purpose:     req.Purpose,
		CountryCode: req.CountryCode,
		Code:        req.Code,
	})
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	writeJSON(w, http.StatusOK, toVerifyResponse(res))
}

func toVerifyResponse(res *app.VerifyCodeResult) VerifyCodeResponse {
	resp := VerifyCodeResponse{
		Verified:       true,
		Channel:        string(res.Channel),
		PhoneVerified:  res.PhoneVerified,
		EmailVerified:  res.EmailVerified,
		PendingChannel: string(res.PendingChannel),
	}
	if res.SessionIssued && res.Session != nil {
		resp.SessionIssued = true
		resp.Session = &SessionResponse{
			SessionID:   res.Session.ID,
			AccessToken: res.Session.AccessToken,
			ExpiresAt:   res.Session.ExpiresAt.UTC(),
		}
	}
	return resp
}

// decode reads and validates a JSON body. Every failure wraps
// domain.ErrInvalidInput.
func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: malformed request body", domain.ErrInvalidInput)
	}
	if err := validate.Struct(dst); err != nil {
		var ve validator.ValidationErrors
		if !errors.As(err, &ve) {
			return fmt.Errorf("%w: %s", domain.ErrInvalidInput, err.Error())
		}
		msgs := make([]string, 0, len(ve))
		for _, fe := range ve {
			msgs = append(msgs, fmt.Sprintf("field '%s' failed '%s'", jsonName(fe.Field()), fe.Tag()))
		}
		return fmt.Errorf("%w: %s", domain.ErrInvalidInput, strings.Join(msgs, "; "))
	}
	return nil
}

func jsonName(field string) string {
	switch field {
	case "CountryCode":
		return "country_code"
	default:
		return strings.ToLower(field)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	he := errmap.ToHTTPError(err)
	if he.StatusCode >= http.StatusInternalServerError {
		observability.WithTraceID(ctx, h.logger).ErrorContext(ctx, "request failed",
			slog.String("error_code", he.Code),
			slog.Bool("retryable", domain.IsRetryable(err)),
			slog.String("error", err.Error()),
		)
	}
	WriteHTTPError(w, he)
}

// WriteHTTPError writes he as a JSON error body, with Retry-After when set.
func WriteHTTPError(w http.ResponseWriter, he errmap.HTTPError) {
	if he.RetryAfter > 0 {
		w.Header().Set("Retry-After", retryAfterSeconds(he.RetryAfter))
	}
	writeJSON(w, he.StatusCode, errorEnvelope{Error: he})
}

// retryAfterSeconds rounds up so clients never retry early.
func retryAfterSeconds(d time.Duration) string {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
