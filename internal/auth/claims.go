package auth

import "github.com/golang-jwt/jwt/v5"

// Claims are the access token claims minted once verification completes.
type Claims struct {
	jwt.RegisteredClaims
	SessionID string   `json:"sid"`
	Purpose   string   `json:"purpose"`
	Methods   []string `json:"amr"` // verified channels, e.g. ["phone","email"]
}
