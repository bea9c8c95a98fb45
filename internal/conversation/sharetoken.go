package conversation

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidShareToken is returned when a share id fails signature or claim
// validation.
var ErrInvalidShareToken = errors.New("conversation: invalid share token")

// shareClaims binds a share id to the conversation it was minted for, so a
// share id can never be replayed against a different conversation.
type shareClaims struct {
	jwt.RegisteredClaims
}

// ShareTokenSigner mints and verifies share ids as signed JWTs. The secret
// is shared with whatever surface resolves `is_public` share reads.
type ShareTokenSigner struct {
	secret []byte
}

// NewShareTokenSigner builds a signer over the given secret.
func NewShareTokenSigner(secret string) *ShareTokenSigner {
	return &ShareTokenSigner{secret: []byte(secret)}
}

// Sign mints a share id for conversationID. Share ids don't expire: a
// conversation stays shared until shareConversation's caller revokes it by
// clearing is_public, independent of the token's own validity window.
func (s *ShareTokenSigner) Sign(conversationID string) (string, error) {
	claims := shareClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  conversationID,
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify parses a share id and returns the conversation id it was minted
// for.
func (s *ShareTokenSigner) Verify(shareID string) (conversationID string, err error) {
	parsed, err := jwt.ParseWithClaims(shareID, &shareClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return "", ErrInvalidShareToken
	}
	claims, ok := parsed.Claims.(*shareClaims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return "", ErrInvalidShareToken
	}
	return claims.Subject, nil
}
