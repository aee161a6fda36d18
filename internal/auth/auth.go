// Package auth issues the signed session token the HTTP surface hands a
// client before it opens the WebSocket (SPEC_FULL.md §3's "domain stack"
// table). The coordination core itself never verifies this token — it
// treats the session id as an opaque client-supplied string, per spec.md's
// Non-goal that authentication of users is out of scope. Grounded on the
// teacher's internal/auth package, trimmed to the single concern that
// survives an anonymous core: signing and reading an opaque session id.
// Password hashing and Google ID token verification are dropped — there
// are no user accounts here (DESIGN.md).
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// sessionTokenDuration bounds how long an issued token is honored by
// clients before they must request a new one; the core's own session
// lifecycle (grace windows, idle reset) is independent of this.
const sessionTokenDuration = 24 * time.Hour

// SessionIssuer signs and reads the session-id token minted by
// POST /api/session (SPEC_FULL.md §6).
type SessionIssuer struct {
	secret []byte
}

// NewSessionIssuer requires a non-empty signing secret.
func NewSessionIssuer(secret string) (*SessionIssuer, error) {
	if secret == "" {
		return nil, errors.New("JWT secret cannot be empty")
	}
	return &SessionIssuer{secret: []byte(secret)}, nil
}

// IssueSessionToken signs a token embedding sessionID as the subject
// claim. The client presents sessionID itself (not this token) in the
// user-join event — the token only proves the id was minted by this
// service, for callers that want that guarantee on the HTTP leg.
func (s *SessionIssuer) IssueSessionToken(sessionID string) (string, error) {
	claims := jwt.MapClaims{
		"sub": sessionID,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(sessionTokenDuration).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// ParseSessionToken validates tok and returns the embedded session id.
func (s *SessionIssuer) ParseSessionToken(tok string) (string, error) {
	token, err := jwt.Parse(tok, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", errors.New("invalid token")
	}
	sessionID, ok := claims["sub"].(string)
	if !ok || sessionID == "" {
		return "", errors.New("invalid token: missing subject")
	}
	return sessionID, nil
}
