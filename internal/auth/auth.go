// Package auth issues and verifies bearer tokens and hashes passwords.
package auth

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"time"

	"vidgrab/internal/config"
	"vidgrab/internal/consts"
	"vidgrab/internal/errs"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const generatedSecretLen = 32

// Tokens signs and verifies HS256 access tokens. Verification needs no storage.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// Principal is the verified identity a token carries.
type Principal struct {
	Username  string
	ExpiresAt time.Time
}

// NewTokens creates a token issuer. An empty secret is replaced by a random one,
// so tokens do not survive a restart.
func NewTokens(log *slog.Logger, cfg config.Auth) (*Tokens, error) {
	secret := []byte(cfg.Secret)

	if len(secret) == 0 {
		secret = make([]byte, generatedSecretLen)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generate token secret: %w", err)
		}

		log.Warn("VIDGRAB_AUTH_SECRET is empty, using a random secret",
			slog.String("package", "auth"))
	}

	return &Tokens{
		secret: secret,
		ttl:    cmpDuration(cfg.TokenTTL, consts.DefaultTokenTTL),
		issuer: cfg.Issuer,
		now:    time.Now,
	}, nil
}

// Issue returns a signed token for subject.
func (t *Tokens) Issue(subject string) (string, error) {
	now := t.now()

	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    t.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return signed, nil
}

// Verify parses raw and returns its principal. Every failure wraps errs.ErrUnauthorized.
func (t *Tokens) Verify(raw string) (Principal, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	}

	if t.issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.issuer))
	}

	var claims jwt.RegisteredClaims

	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	}, opts...)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %w", errs.ErrUnauthorized, err)
	}

	if claims.Subject == "" {
		return Principal{}, fmt.Errorf("%w: token has no subject", errs.ErrUnauthorized)
	}

	return Principal{Username: claims.Subject, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// TTL is the lifetime of issued tokens.
func (t *Tokens) TTL() time.Duration {
	return t.ttl
}

func cmpDuration(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}

	return d
}

// Hasher hashes passwords with bcrypt.
type Hasher struct {
	cost int
}

// NewHasher clamps cost into bcrypt's accepted range.
func NewHasher(cost int) Hasher {
	switch {
	case cost == 0:
		cost = consts.DefaultBcryptCost
	case cost < bcrypt.MinCost:
		cost = bcrypt.MinCost
	case cost > bcrypt.MaxCost:
		cost = bcrypt.MaxCost
	}

	return Hasher{cost: cost}
}

// Hash returns the bcrypt hash of password.
func (h Hasher) Hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}

	return string(hash), nil
}

// Check reports whether password matches hash.
func (h Hasher) Check(hash, password string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))

	return err == nil
}

type principalKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal stored by WithPrincipal.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)

	return p, ok
}
