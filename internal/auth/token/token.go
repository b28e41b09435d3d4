// Package token verifies the bearer tokens that authenticate the
// management plane. Tokens are HS256 JWTs whose subject names the owner
// performing key lifecycle operations.
package token

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/arshealth/keygate/internal/observability"
)

// Common errors for management token verification.
var (
	// ErrTokenMissing indicates no bearer token was presented.
	ErrTokenMissing = errors.New("missing bearer token")

	// ErrTokenInvalid indicates the token failed signature or claim checks.
	ErrTokenInvalid = errors.New("invalid bearer token")

	// ErrTokenExpired indicates the token is past its expiration.
	ErrTokenExpired = errors.New("bearer token expired")

	// ErrKeyTooShort indicates the signing key has too little entropy.
	ErrKeyTooShort = errors.New("signing key too short")
)

// MinKeyLength is the minimum HS256 signing key length in bytes.
const MinKeyLength = 32

// scopeClaim carries space-separated management scopes.
const scopeClaim = "scope"

// Config holds token verification settings.
type Config struct {
	// Key is the HS256 signing key. Must be at least MinKeyLength bytes.
	Key string

	// Issuer is the required iss claim.
	Issuer string

	// Audience is the required aud claim.
	Audience string

	// ClockSkew is the acceptable clock skew for time-based claims.
	ClockSkew time.Duration
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if len(c.Key) < MinKeyLength {
		return fmt.Errorf("%w: need at least %d bytes, got %d",
			ErrKeyTooShort, MinKeyLength, len(c.Key))
	}
	if c.Issuer == "" {
		return fmt.Errorf("issuer is required")
	}
	if c.Audience == "" {
		return fmt.Errorf("audience is required")
	}
	return nil
}

// Principal is the identity carried by a verified management token.
type Principal struct {
	// OwnerID is the token subject.
	OwnerID string

	// Scopes are the management scopes granted to the token.
	Scopes []string
}

// HasScope reports whether the principal carries the scope.
func (p *Principal) HasScope(scope string) bool {
	for _, s := range p.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Verifier verifies management bearer tokens.
type Verifier interface {
	// Verify checks the token signature and claims and returns the
	// principal it identifies.
	Verify(ctx context.Context, raw string) (*Principal, error)
}

// verifier implements the Verifier interface.
type verifier struct {
	key      []byte
	issuer   string
	audience string
	skew     time.Duration
	logger   observability.Logger
}

// VerifierOption is a functional option for the verifier.
type VerifierOption func(*verifier)

// WithVerifierLogger sets the logger for the verifier.
func WithVerifierLogger(logger observability.Logger) VerifierOption {
	return func(v *verifier) {
		v.logger = logger
	}
}

// NewVerifier creates a token verifier.
func NewVerifier(cfg Config, opts ...VerifierOption) (Verifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	v := &verifier{
		key:      []byte(cfg.Key),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		skew:     cfg.ClockSkew,
		logger:   observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(v)
	}

	return v, nil
}

// Verify implements Verifier.
func (v *verifier) Verify(_ context.Context, raw string) (*Principal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrTokenMissing
	}

	tok, err := jwt.Parse([]byte(raw),
		jwt.WithKey(jwa.HS256, v.key),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithAcceptableSkew(v.skew),
		jwt.WithValidate(true),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired()) {
			return nil, ErrTokenExpired
		}
		v.logger.Debug("token verification failed",
			observability.Error(err),
		)
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	sub := tok.Subject()
	if sub == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}

	return &Principal{
		OwnerID: sub,
		Scopes:  extractScopes(tok),
	}, nil
}

// extractScopes reads the space-separated scope claim.
func extractScopes(tok jwt.Token) []string {
	raw, ok := tok.Get(scopeClaim)
	if !ok {
		return nil
	}
	s, ok := raw.(string)
	if !ok {
		return nil
	}
	return strings.Fields(s)
}

// Issuer mints management tokens. Used by tests and operational tooling;
// production deployments normally obtain tokens from the identity
// provider that shares the signing key.
type Issuer struct {
	key      []byte
	issuer   string
	audience string
}

// NewIssuer creates a token issuer.
func NewIssuer(cfg Config) (*Issuer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Issuer{
		key:      []byte(cfg.Key),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
	}, nil
}

// Issue mints a token for the subject with the given scopes and lifetime.
func (i *Issuer) Issue(subject string, scopes []string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", fmt.Errorf("subject is required")
	}
	if ttl <= 0 {
		return "", fmt.Errorf("ttl must be positive")
	}

	now := time.Now().UTC()
	builder := jwt.NewBuilder().
		Subject(subject).
		Issuer(i.issuer).
		Audience([]string{i.audience}).
		IssuedAt(now).
		Expiration(now.Add(ttl))

	if len(scopes) > 0 {
		builder = builder.Claim(scopeClaim, strings.Join(scopes, " "))
	}

	tok, err := builder.Build()
	if err != nil {
		return "", fmt.Errorf("failed to build token: %w", err)
	}

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, i.key))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return string(signed), nil
}

// Ensure verifier implements Verifier.
var _ Verifier = (*verifier)(nil)
