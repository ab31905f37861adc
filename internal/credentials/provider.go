// Package credentials supplies the bearer token attached to calls against the vision API.
// Tokens are obtained elsewhere; this package only looks them up.
package credentials

import (
	"context"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Provider returns the current bearer token. An empty token with a nil error means no
// credential is available and the request goes out unauthenticated.
type Provider interface {
	Token(ctx context.Context) (string, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context) (string, error)

// Token implements Provider.
func (f ProviderFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}

// Static always yields the same token.
type Static string

// Token implements Provider.
func (s Static) Token(context.Context) (string, error) {
	return strings.TrimSpace(string(s)), nil
}

// None never yields a token.
var None Provider = Static("")

// Chain asks each provider in order and returns the first non-empty token.
type Chain []Provider

// Token implements Provider.
func (c Chain) Token(ctx context.Context) (string, error) {
	for _, p := range c {
		if p == nil {
			continue
		}
		token, err := p.Token(ctx)
		if err != nil {
			return "", err
		}
		if token != "" {
			return token, nil
		}
	}
	return "", nil
}

type contextKey struct{}

// WithToken stores a caller supplied token on the context.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, contextKey{}, strings.TrimSpace(token))
}

// TokenFromContext returns a token previously stored with WithToken.
func TokenFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	token, ok := ctx.Value(contextKey{}).(string)
	return token, ok && token != ""
}

// FromContext yields the token attached to the request context, if any.
var FromContext Provider = ProviderFunc(func(ctx context.Context) (string, error) {
	token, _ := TokenFromContext(ctx)
	return token, nil
})

// Expiry reads the exp claim of a JWT without verifying its signature. ok is false for
// opaque tokens and tokens without an expiry.
func Expiry(token string) (time.Time, bool) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
