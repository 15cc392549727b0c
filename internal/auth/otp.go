// Package auth holds the security primitives of the verification gateway:
// code generation, code MACs, timing-safe comparison and lookup, dispatch
// contracts and session credential minting.
package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/aelexs/verification-gateway/internal/domain"
)

var ten = big.NewInt(10)

// GenerateCode returns a zero-padded decimal code of the given length drawn
// from crypto/rand. rand.Int samples uniformly over [0, 10^length) by
// rejection, so no digit is favoured.
func GenerateCode(length int) (string, error) {
	return generateCode(rand.Reader, length)
}

func generateCode(r io.Reader, length int) (string, error) {
	if length < domain.MinCodeLength || length > domain.MaxCodeLength {
		return "", fmt.Errorf("code length %d outside [%d, %d]: %w",
			length, domain.MinCodeLength, domain.MaxCodeLength, domain.ErrInvalidInput)
	}
	upper := new(big.Int).Exp(ten, big.NewInt(int64(length)), nil)
	n, err := rand.Int(r, upper)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", errors.Join(err, domain.ErrEntropyUnavailable))
	}
	return fmt.Sprintf("%0*d", length, n.Int64()), nil
}

// HashIdentifier returns the SHA-256 hex digest of a canonical identifier.
// Store keys and logs carry this digest instead of the raw phone or email.
func HashIdentifier(identifier string) string {
	h := sha256.Sum256([]byte(identifier))
	return hex.EncodeToString(h[:])
}

// ComputeCodeMAC computes HMAC-SHA256(pepper, code || purpose || identifierHash).
// Only the MAC is persisted, and binding purpose and identifier means a code
// issued for one flow cannot be replayed against another.
func ComputeCodeMAC(pepper []byte, code, purpose, identifierHash string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(code))
	mac.Write([]byte{0})
	mac.Write([]byte(purpose))
	mac.Write([]byte{0})
	mac.Write([]byte(identifierHash))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyCodeMAC checks a submitted code against a stored MAC. Both sides are
// 64-char hex digests, so the comparison never short-circuits on length.
func VerifyCodeMAC(pepper []byte, candidate, purpose, identifierHash, storedMAC string) bool {
	return CodesEqual(ComputeCodeMAC(pepper, candidate, purpose, identifierHash), storedMAC)
}
