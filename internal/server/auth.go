package server

import (
	"context"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/joseph-ayodele/trade-ingest/internal/common"
)

// Authenticator verifies HS256 bearer tokens minted by the auth layer. The subject is the user id.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Verify returns the user id carried by a valid token.
func (a *Authenticator) Verify(token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("%w: missing bearer token", common.ErrUnauthorized)
	}
	parsed, err := jwt.Parse(token, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrUnauthorized, err)
	}
	sub, err := parsed.Claims.GetSubject()
	if err != nil || strings.TrimSpace(sub) == "" {
		return "", fmt.Errorf("%w: token has no subject", common.ErrUnauthorized)
	}
	return sub, nil
}

// bearer extracts the token from an Authorization header value.
func bearer(header string) string {
	const prefix = "bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

// userFrom returns the user id stored by the auth middleware or interceptor.
func userFrom(ctx context.Context) (string, error) {
	if id := common.UserIDFromContext(ctx); id != "" {
		return id, nil
	}
	return "", fmt.Errorf("%w: no authenticated user", common.ErrUnauthorized)
}
