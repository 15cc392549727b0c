package adapter

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/aelexs/verification-gateway/internal/auth"
	"github.com/aelexs/verification-gateway/internal/domain"
	"github.com/aelexs/verification-gateway/internal/verification/app"
)

var _ app.SessionIssuer = (*JWTSessionIssuer)(nil)

// sessionRecorder persists issued sessions. Optional.
type sessionRecorder interface {
	Record(ctx context.Context, r SessionRecord) error
}

// JWTSessionIssuer mints an RS256 access token per session and, when a
// recorder is configured, writes the session row before returning it.
type JWTSessionIssuer struct {
	minter   *auth.Minter
	recorder sessionRecorder
	clock    domain.Clock
}

// NewJWTSessionIssuer creates an issuer. recorder may be nil.
func NewJWTSessionIssuer(minter *auth.Minter, recorder sessionRecorder, clock domain.Clock) *JWTSessionIssuer {
	if clock == nil {
		clock = domain.RealClock{}
	}
	return &JWTSessionIssuer{minter: minter, recorder: recorder, clock: clock}
}

func (i *JWTSessionIssuer) IssueSession(ctx context.Context, req app.SessionRequest) (*app.Session, error) {
	sessionID := uuid.NewString()

	minted, err := i.minter.MintAccessToken(auth.MintRequest{
		AccountID: req.Account.ID,
		SessionID: sessionID,
		Purpose:   req.Purpose,
		Channels:  req.Channels,
	})
	if err != nil {
		return nil, fmt.Errorf("mint access token: %w", err)
	}

	if i.recorder != nil {
		err := i.recorder.Record(ctx, SessionRecord{
			SessionID: sessionID,
			AccountID: req.Account.ID,
			TokenID:   minted.JTI,
			Purpose:   req.Purpose,
			Channels:  req.Channels,
			CreatedAt: i.clock.Now(),
			ExpiresAt: minted.ExpiresAt,
		})
		if err != nil {
			return nil, fmt.Errorf("record session: %w", err)
		}
	}

	return &app.Session{
		ID:          sessionID,
		AccountID:   req.Account.ID,
		AccessToken: minted.Token,
		ExpiresAt:   minted.ExpiresAt,
	}, nil
}
