// Package gateway defines what the network entry points share: the
// lifecycle interface and bearer-key authentication.
package gateway

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
)

// Gateway is a network-facing entry point (HTTP, WebSocket, MCP).
type Gateway interface {
	// Start serves until the gateway exits or ctx is canceled.
	Start(ctx context.Context) error

	// Stop shuts down gracefully. ctx carries the drain deadline.
	Stop(ctx context.Context) error
}

// AnonymousUser is the caller identity when no API keys are configured.
const AnonymousUser = "anonymous"

var (
	// ErrMissingCredentials is returned when the Authorization header is absent or malformed.
	ErrMissingCredentials = errors.New("missing or invalid Authorization header")
	// ErrInvalidKey is returned when the bearer key matches no configured key.
	ErrInvalidKey = errors.New("invalid API key")
)

// Authenticator maps bearer API keys to user ids.
type Authenticator struct {
	keys map[string]string
}

// NewAuthenticator returns an authenticator for the key → user mapping.
// An empty mapping authenticates every caller as AnonymousUser.
func NewAuthenticator(keys map[string]string) *Authenticator {
	return &Authenticator{keys: keys}
}

// Open reports whether requests are accepted without credentials.
func (a *Authenticator) Open() bool {
	return a == nil || len(a.keys) == 0
}

// User resolves the value of an Authorization header.
// Every configured key is compared in constant time.
func (a *Authenticator) User(authHeader string) (string, error) {
	if a.Open() {
		return AnonymousUser, nil
	}
	apiKey, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok || apiKey == "" {
		return "", ErrMissingCredentials
	}

	userID := ""
	for key, user := range a.keys {
		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
			userID = user
		}
	}
	if userID == "" {
		return "", ErrInvalidKey
	}
	return userID, nil
}
