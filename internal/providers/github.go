package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	githubProviderName = "github"
	githubAuthURL      = "https://github.com/login/oauth/authorize"
	githubTokenURL     = "https://github.com/login/oauth/access_token"
	githubUserURL      = "https://api.github.com/user"
)

// GitHubConfig bundles the credentials and endpoints for the GitHub adapter.
type GitHubConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthURL      string
	TokenURL     string
	UserURL      string
	HTTPClient   *http.Client
	Timeout      time.Duration
}

// GitHub performs the authorization-code flow against GitHub and normalizes
// the /user profile response.
type GitHub struct {
	oauth      oauth2.Config
	userURL    string
	httpClient *http.Client
	timeout    time.Duration
}

// NewGitHub constructs the GitHub adapter with validated configuration.
func NewGitHub(cfg GitHubConfig) (*GitHub, error) {
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
		authURL = githubAuthURL
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = githubTokenURL
	}
	userURL := cfg.UserURL
	if userURL == "" {
		userURL = githubUserURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultExchangeTimeout
	}

	return &GitHub{
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{"user:email"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  authURL,
				TokenURL: tokenURL,
			},
		},
		userURL:    userURL,
		httpClient: cfg.HTTPClient,
		timeout:    timeout,
	}, nil
}

// Name identifies the adapter within the registry.
func (g *GitHub) Name() string {
	return githubProviderName
}

// AuthCodeURL builds the GitHub authorization redirect carrying the supplied
// anti-forgery state.
func (g *GitHub) AuthCodeURL(state string) string {
	return g.oauth.AuthCodeURL(state)
}

// Exchange redeems the authorization code and fetches the user profile.
// GitHub omits the email from /user when it is private, so a secondary
// lookup against /user/emails recovers the primary address when possible.
// Only a missing account id is fatal.
func (g *GitHub) Exchange(ctx context.Context, code string) (Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	if g.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, g.httpClient)
	}

	token, err := g.oauth.Exchange(ctx, code)
	if err != nil {
		return Identity{}, &ExchangeError{Provider: githubProviderName, Err: err}
	}
	client := g.oauth.Client(ctx, token)

	var profile struct {
		ID        int64  `json:"id"`
		Login     string `json:"login"`
		Name      string `json:"name"`
		Email     string `json:"email"`
		AvatarURL string `json:"avatar_url"`
	}
	if err := g.fetchJSON(ctx, client, g.userURL, &profile); err != nil {
		return Identity{}, &ExchangeError{Provider: githubProviderName, Err: err}
	}
	if profile.ID == 0 {
		return Identity{}, &ExchangeError{Provider: githubProviderName, Err: errMissingSubject}
	}

	displayName := profile.Name
	if displayName == "" {
		displayName = profile.Login
	}

	email := profile.Email
	if email == "" {
		email = g.primaryEmail(ctx, client)
	}

	return Identity{
		Provider:    githubProviderName,
		Subject:     strconv.FormatInt(profile.ID, 10),
		DisplayName: displayName,
		Email:       email,
		AvatarURL:   profile.AvatarURL,
	}, nil
}

// primaryEmail is best effort; accounts without a visible address still log in.
func (g *GitHub) primaryEmail(ctx context.Context, client *http.Client) string {
	var emails []struct {
		Email   string `json:"email"`
		Primary bool   `json:"primary"`
	}
	if err := g.fetchJSON(ctx, client, g.userURL+"/emails", &emails); err != nil {
		return ""
	}
	for _, entry := range emails {
		if entry.Primary {
			return entry.Email
		}
	}
	if len(emails) > 0 {
		return emails[0].Email
	}
	return ""
}

func (g *GitHub) fetchJSON(ctx context.Context, client *http.Client, url string, out interface{}) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	request.Header.Set("Accept", "application/vnd.github+json")
	response, err := client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d", url, response.StatusCode)
	}
	return json.NewDecoder(response.Body).Decode(out)
}
