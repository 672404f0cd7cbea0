package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultStateTTL = 10 * time.Minute
	stateIssuer     = "tauth"
)

var (
	// ErrMissingSigningSecret indicates the signer was built without a key.
	ErrMissingSigningSecret = errors.New("auth: state signing secret required")
	// ErrInvalidState indicates the state token failed signature, expiry, or
	// provider-binding checks. Loss of the correlation value is a failed
	// login, never an authenticated one.
	ErrInvalidState = errors.New("auth: invalid state token")
)

// StateSignerConfig configures the anti-forgery state signer.
type StateSignerConfig struct {
	SigningSecret []byte
	TTL           time.Duration
	Clock         func() time.Time
}

// StateSigner issues short-lived HS256 tokens that correlate an authorization
// redirect with its callback and bind the round trip to one provider.
type StateSigner struct {
	signingSecret []byte
	ttl           time.Duration
	clock         func() time.Time
}

// NewStateSigner constructs a signer with sane defaults.
func NewStateSigner(cfg StateSignerConfig) (*StateSigner, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingSigningSecret
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultStateTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &StateSigner{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		ttl:           ttl,
		clock:         clock,
	}, nil
}

// Issue produces a signed state value for the named provider.
func (s *StateSigner) Issue(provider string) (string, error) {
	if provider == "" {
		return "", fmt.Errorf("%w: provider required", ErrInvalidState)
	}
	now := s.clock().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   provider,
		Issuer:    stateIssuer,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.signingSecret)
}

// Validate checks the state signature and expiry and that it was issued for
// the provider handling the callback.
func (s *StateSigner) Validate(state, provider string) error {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(
		state,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("%w: unexpected signing algorithm %s", ErrInvalidState, t.Method.Alg())
			}
			return s.signingSecret, nil
		},
		jwt.WithTimeFunc(s.clock),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(stateIssuer),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if parsed == nil || !parsed.Valid {
		return ErrInvalidState
	}
	if claims.Subject != provider {
		return fmt.Errorf("%w: issued for %q", ErrInvalidState, claims.Subject)
	}
	return nil
}
