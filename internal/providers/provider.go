package providers

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUnknownProvider indicates a login was requested for a provider that
	// was not registered at configuration load.
	ErrUnknownProvider = errors.New("providers: unknown provider")
	// ErrInvalidProviderConfig indicates an adapter was built without its
	// client registration.
	ErrInvalidProviderConfig = errors.New("providers: invalid provider config")

	errMissingClientID     = errors.New("client id required")
	errMissingClientSecret = errors.New("client secret required")
	errMissingRedirectURL  = errors.New("redirect url required")
	errMissingSubject      = errors.New("profile response missing subject")
)

// Identity is the normalized profile returned by a completed code exchange.
// Only Subject is guaranteed to be present; providers differ in which profile
// fields they populate.
type Identity struct {
	Provider    string
	Subject     string
	DisplayName string
	Email       string
	AvatarURL   string
}

// Provider drives the OAuth2 authorization-code flow for one external
// identity provider. Implementations hold only client credentials and
// endpoint configuration and are safe for concurrent use.
type Provider interface {
	Name() string
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (Identity, error)
}

// ExchangeError wraps any failure during the code-exchange round trip:
// provider denial, invalid or expired code, network failure, or a profile
// response missing the mandatory subject.
type ExchangeError struct {
	Provider string
	Err      error
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("providers: %s exchange failed: %v", e.Provider, e.Err)
}

func (e *ExchangeError) Unwrap() error {
	return e.Err
}
