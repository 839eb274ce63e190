package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/nijaru/yt-transcript/errors"
	"github.com/nijaru/yt-transcript/utils"
)

// TokenHeader carries the shared gateway secret.
const TokenHeader = "X-Proxy-Token"

// AuthGate checks a single static shared secret. It keeps no per-caller state.
type AuthGate struct {
	secret string
}

func NewAuthGate(secret string) *AuthGate {
	return &AuthGate{secret: secret}
}

// Authorize succeeds only when token equals the configured secret exactly.
func (g *AuthGate) Authorize(token string) error {
	const op = "AuthGate.Authorize"

	if subtle.ConstantTimeCompare([]byte(token), []byte(g.secret)) != 1 {
		return errors.Unauthorized(op)
	}
	return nil
}

// Middleware rejects requests before next sees them, so unauthenticated input
// never reaches identifier parsing.
func (g *AuthGate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := g.Authorize(r.Header.Get(TokenHeader)); err != nil {
			utils.HandleError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}
