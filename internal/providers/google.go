package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	googleProviderName     = "google"
	googleAuthURL          = "https://accounts.google.com/o/oauth2/v2/auth"
	googleTokenURL         = "https://oauth2.googleapis.com/token"
	googleUserinfoURL      = "https://openidconnect.googleapis.com/v1/userinfo"
	defaultExchangeTimeout = 10 * time.Second
)

// GoogleConfig bundles the credentials and endpoints for the Google adapter.
// Endpoint overrides exist so tests can point the adapter at a local server.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthURL      string
	TokenURL     string
	UserinfoURL  string
	HTTPClient   *http.Client
	Timeout      time.Duration
}

// Google performs the authorization-code flow against Google and normalizes
// the OpenID Connect userinfo response.
type Google struct {
	oauth       oauth2.Config
	userinfoURL string
	httpClient  *http.Client
	timeout     time.Duration
}

// NewGoogle constructs the Google adapter with validated configuration.
func NewGoogle(cfg GoogleConfig) (*Google, error) {
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProviderConfig, errMissingClientID)
	}
	if strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProviderConfig, errMissingClientSecret)
	}
	if strings.TrimSpace(cfg.RedirectURL) == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProviderConfig, errMissingRedirectURL)
	}

	authURL := cfg.AuthURL
	if authURL == "" {
		authURL = googleAuthURL
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = googleTokenURL
	}
	userinfoURL := cfg.UserinfoURL
	if userinfoURL == "" {
		userinfoURL = googleUserinfoURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultExchangeTimeout
	}

	return &Google{
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{"openid", "profile", "email"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  authURL,
				TokenURL: tokenURL,
			},
		},
		userinfoURL: userinfoURL,
		httpClient:  cfg.HTTPClient,
		timeout:     timeout,
	}, nil
}

// Name identifies the adapter within the registry.
func (g *Google) Name() string {
	return googleProviderName
}

// AuthCodeURL builds the Google authorization redirect carrying the supplied
// anti-forgery state.
func (g *Google) AuthCodeURL(state string) string {
	return g.oauth.AuthCodeURL(state)
}

// Exchange redeems the authorization code and fetches the userinfo profile.
// Missing optional profile fields are tolerated; a missing subject is fatal.
func (g *Google) Exchange(ctx context.Context, code string) (Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	if g.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, g.httpClient)
	}

	token, err := g.oauth.Exchange(ctx, code)
	if err != nil {
		return Identity{}, &ExchangeError{Provider: googleProviderName, Err: err}
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, g.userinfoURL, nil)
	if err != nil {
		return Identity{}, &ExchangeError{Provider: googleProviderName, Err: err}
	}
	response, err := g.oauth.Client(ctx, token).Do(request)
	if err != nil {
		return Identity{}, &ExchangeError{Provider: googleProviderName, Err: err}
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return Identity{}, &ExchangeError{
			Provider: googleProviderName,
			Err:      fmt.Errorf("userinfo returned status %d", response.StatusCode),
		}
	}

	var profile struct {
		Subject string `json:"sub"`
		Name    string `json:"name"`
		Email   string `json:"email"`
		Picture string `json:"picture"`
	}
	if err := json.NewDecoder(response.Body).Decode(&profile); err != nil {
		return Identity{}, &ExchangeError{Provider: googleProviderName, Err: err}
	}
	if strings.TrimSpace(profile.Subject) == "" {
		return Identity{}, &ExchangeError{Provider: googleProviderName, Err: errMissingSubject}
	}

	return Identity{
		Provider:    googleProviderName,
		Subject:     profile.Subject,
		DisplayName: profile.Name,
		Email:       profile.Email,
		AvatarURL:   profile.Picture,
	}, nil
}
