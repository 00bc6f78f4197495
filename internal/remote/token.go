package remote

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenSource returns the bearer token for the next request.
type TokenSource func(ctx context.Context) (string, error)

// StaticToken returns a TokenSource that always yields token.
func StaticToken(token string) TokenSource {
	return func(ctx context.Context) (string, error) {
		return token, nil
	}
}

// EnvOrFileToken reads the token from the environment variable envName,
// falling back to the file at path. The file is re-read on every call so a
// refreshed token is picked up without a restart.
func EnvOrFileToken(envName, path string) TokenSource {
	return func(ctx context.Context) (string, error) {
		if envName != "" {
			if v := strings.TrimSpace(os.Getenv(envName)); v != "" {
				return v, nil
			}
		}
		if path == "" {
			return "", fmt.Errorf("no access token: set %s or remote.token_path", envName)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("reading token file: %w", err)
		}
		token := strings.TrimSpace(string(data))
		if token == "" {
			return "", fmt.Errorf("token file %s is empty", path)
		}
		return token, nil
	}
}

// TokenClaims is what the client can learn from an access token without the
// server's signing key.
type TokenClaims struct {
	Subject   string
	ExpiresAt time.Time // zero if the token carries no expiry
}

// InspectToken decodes the claims of a JWT without verifying its signature.
// The server remains the authority; this only derives the user id and lets
// the client skip requests that would certainly be rejected.
func InspectToken(token string) (*TokenClaims, error) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return nil, fmt.Errorf("parsing access token: %w", err)
	}
	tc := &TokenClaims{Subject: claims.Subject}
	if claims.ExpiresAt != nil {
		tc.ExpiresAt = claims.ExpiresAt.Time
	}
	return tc, nil
}

// Expired reports whether the token has expired at now.
func (c *TokenClaims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}
