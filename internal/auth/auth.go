// Package auth verifies bearer tokens and carries the resulting identity
// through request contexts. Tokens are statically configured; issuance is
// someone else's problem.
package auth

import (
	"context"
	"errors"
	"time"
)

// RoleAdmin grants access to the admin API surface.
const RoleAdmin = "ADMIN"

var (
	// ErrInvalidToken means the token is unknown.
	ErrInvalidToken = errors.New("auth: invalid token")

	// ErrTokenExpired means the token was known but is past its expiry.
	ErrTokenExpired = errors.New("auth: token expired")
)

// Identity is an authenticated caller.
type Identity struct {
	Subject string
	Roles   []string
}

// HasRole reports whether the identity carries the given role.
func (i *Identity) HasRole(role string) bool {
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Authenticator verifies a bearer token and returns the identity behind it.
type Authenticator interface {
	Verify(token string) (*Identity, error)
}

// StaticToken is one configured credential.
type StaticToken struct {
	Token   string
	Subject string
	Roles   []string
	Expires time.Time
}

// StaticAuthenticator verifies tokens against a fixed table loaded from
// configuration.
type StaticAuthenticator struct {
	tokens map[string]StaticToken
	now    func() time.Time
}

// NewStaticAuthenticator builds an authenticator over the given tokens.
func NewStaticAuthenticator(tokens []StaticToken) *StaticAuthenticator {
	byToken := make(map[string]StaticToken, len(tokens))
	for _, t := range tokens {
		byToken[t.Token] = t
	}
	return &StaticAuthenticator{tokens: byToken, now: time.Now}
}

// Verify implements Authenticator.
func (a *StaticAuthenticator) Verify(token string) (*Identity, error) {
	t, ok := a.tokens[token]
	if !ok {
		return nil, ErrInvalidToken
	}
	if !t.Expires.IsZero() && a.now().After(t.Expires) {
		return nil, ErrTokenExpired
	}
	return &Identity{Subject: t.Subject, Roles: t.Roles}, nil
}

type contextKey struct{}

// WithIdentity attaches an identity to the context.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// IdentityFrom extracts the identity set by the auth middleware, if any.
func IdentityFrom(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(*Identity)
	return id, ok && id != nil
}
