// Package auth verifies bearer credentials and binds them to an identity.
//
// The same Authenticator guards HTTP routes and the real-time handshake, so a
// caller is either fully admitted with a verified identity or rejected.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/golang-jwt/jwt/v5"

	"github.com/becomeliminal/memento/core"
)

var (
	ErrMissingToken = errors.New("missing authentication token")
	ErrInvalidToken = errors.New("invalid authentication token")
)

// Authenticator verifies a credential and returns the identity it carries.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (core.Identity, error)
}

// Claims are the token claims issued by the login service.
type Claims struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// JWTAuthenticator verifies HS256 tokens. Verified identities are cached by
// token until the token expires (capped at the configured TTL).
type JWTAuthenticator struct {
	secret   []byte
	cache    *ristretto.Cache
	cacheTTL time.Duration
	now      func() time.Time
}

// Option configures a JWTAuthenticator.
type Option func(*JWTAuthenticator)

// WithCacheTTL caps how long a verified token stays cached.
func WithCacheTTL(ttl time.Duration) Option {
	return func(a *JWTAuthenticator) {
		a.cacheTTL = ttl
	}
}

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(a *JWTAuthenticator) {
		a.now = now
	}
}

// NewJWTAuthenticator creates an authenticator for tokens signed with secret.
func NewJWTAuthenticator(secret []byte, opts ...Option) (*JWTAuthenticator, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("jwt secret is required")
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 100_000,
		MaxCost:     10_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create token cache: %w", err)
	}

	a := &JWTAuthenticator{
		secret:   secret,
		cache:    cache,
		cacheTTL: 5 * time.Minute,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Authenticate verifies token and returns its identity.
func (a *JWTAuthenticator) Authenticate(ctx context.Context, token string) (core.Identity, error) {
	if token == "" {
		return core.Identity{}, ErrMissingToken
	}

	if cached, ok := a.cache.Get(token); ok {
		if identity, ok := cached.(core.Identity); ok {
			return identity, nil
		}
	}

	claims := &Claims{}
	if err := a.ParseClaims(token, claims); err != nil {
		return core.Identity{}, err
	}
	if claims.UserID == "" {
		return core.Identity{}, fmt.Errorf("%w: no userId claim", ErrInvalidToken)
	}

	identity := core.Identity{ID: claims.UserID, DisplayName: claims.Username}

	ttl := a.cacheTTL
	if claims.ExpiresAt != nil {
		if remaining := claims.ExpiresAt.Sub(a.now()); remaining < ttl {
			ttl = remaining
		}
	}
	if ttl > 0 {
		a.cache.SetWithTTL(token, identity, 1, ttl)
	}

	return identity, nil
}

// ParseClaims verifies token's signature and time claims and decodes it into
// claims. Any failure is reported as ErrInvalidToken.
func (a *JWTAuthenticator) ParseClaims(token string, claims jwt.Claims) error {
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (interface{}, error) { return a.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		log.Printf("[AUTH] Token rejected: %v", err)
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return nil
}

// Sign mints an HS256 token for arbitrary claims.
func (a *JWTAuthenticator) Sign(claims jwt.Claims) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Issue mints a login token for identity valid for ttl.
func (a *JWTAuthenticator) Issue(identity core.Identity, ttl time.Duration) (string, error) {
	now := a.now()
	return a.Sign(&Claims{
		UserID:   identity.ID,
		Username: identity.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
}

// Close releases the token cache.
func (a *JWTAuthenticator) Close() {
	a.cache.Close()
}
