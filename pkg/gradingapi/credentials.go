package gradingapi

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// ErrNotAuthenticated indicates no bearer credential was available for a call.
var ErrNotAuthenticated = errors.New("not authenticated")

// CredentialProvider supplies the bearer token attached to backend calls.
type CredentialProvider interface {
	Token(ctx context.Context) (string, error)
}

// CredentialFunc adapts a function to CredentialProvider.
type CredentialFunc func(ctx context.Context) (string, error)

// Token implements CredentialProvider.
func (f CredentialFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}

// StaticToken always returns the same token.
type StaticToken string

// Token implements CredentialProvider.
func (s StaticToken) Token(context.Context) (string, error) {
	token := strings.TrimSpace(string(s))
	if token == "" {
		return "", ErrNotAuthenticated
	}
	return token, nil
}

// TokenHolder is a replaceable credential owned by one long-lived session.
// Each request that touches the session hands in the caller's current token.
type TokenHolder struct {
	mu    sync.RWMutex
	token string
}

// NewTokenHolder constructs a holder seeded with token.
func NewTokenHolder(token string) *TokenHolder {
	return &TokenHolder{token: strings.TrimSpace(token)}
}

// Set replaces the held token. Blank tokens are ignored.
func (h *TokenHolder) Set(token string) {
	token = strings.TrimSpace(token)
	if token == "" {
		return
	}
	h.mu.Lock()
	h.token = token
	h.mu.Unlock()
}

// Token implements CredentialProvider.
func (h *TokenHolder) Token(context.Context) (string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.token == "" {
		return "", ErrNotAuthenticated
	}
	return h.token, nil
}

type credentialsKey struct{}

// WithCredentials scopes a credential provider to every call made with ctx.
func WithCredentials(ctx context.Context, provider CredentialProvider) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if provider == nil {
		return ctx
	}
	return context.WithValue(ctx, credentialsKey{}, provider)
}

// CredentialsFromContext returns the provider scoped to ctx, if any.
func CredentialsFromContext(ctx context.Context) (CredentialProvider, bool) {
	if ctx == nil {
		return nil, false
	}
	provider, ok := ctx.Value(credentialsKey{}).(CredentialProvider)
	return provider, ok && provider != nil
}
