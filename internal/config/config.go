package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix              = "TAUTH"
	defaultHTTPAddress     = "0.0.0.0:5000"
	defaultDatabasePath    = "tauth.db"
	defaultLogLevel        = "info"
	defaultCookieName      = "tauth_session"
	defaultSessionTTLHours = 24
	defaultLandingURL      = "http://localhost:3000/dashboard"
	defaultAllowedOrigin   = "http://localhost:3000"
	environmentProduction  = "production"
)

// ProviderCredentials is the client registration for one identity provider.
type ProviderCredentials struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// AppConfig captures runtime configuration for the auth service.
type AppConfig struct {
	HTTPAddress       string
	DatabasePath      string
	LogLevel          string
	Environment       string
	AllowedOrigin     string
	LandingURL        string
	SessionSigningKey string
	SessionCookieName string
	SessionTTL        time.Duration
	Google            ProviderCredentials
	GitHub            ProviderCredentials
}

// IsProduction reports whether the service runs behind HTTPS with the strict
// cross-site cookie policy.
func (c AppConfig) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), environmentProduction)
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("server.environment", "development")
	configViper.SetDefault("server.landing_url", defaultLandingURL)
	configViper.SetDefault("cors.allowed_origin", defaultAllowedOrigin)
	configViper.SetDefault("session.cookie_name", defaultCookieName)
	configViper.SetDefault("session.ttl_hours", defaultSessionTTLHours)
}

// Load parses runtime configuration from viper. A validation failure is fatal
// to startup: the process must not accept connections with credentials
// missing.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:       configViper.GetString("http.address"),
		DatabasePath:      configViper.GetString("database.path"),
		LogLevel:          configViper.GetString("log.level"),
		Environment:       configViper.GetString("server.environment"),
		AllowedOrigin:     configViper.GetString("cors.allowed_origin"),
		LandingURL:        configViper.GetString("server.landing_url"),
		SessionSigningKey: configViper.GetString("session.signing_secret"),
		SessionCookieName: configViper.GetString("session.cookie_name"),
		SessionTTL:        time.Duration(configViper.GetInt("session.ttl_hours")) * time.Hour,
		Google: ProviderCredentials{
			ClientID:     configViper.GetString("google.client_id"),
			ClientSecret: configViper.GetString("google.client_secret"),
			RedirectURL:  configViper.GetString("google.redirect_url"),
		},
		GitHub: ProviderCredentials{
			ClientID:     configViper.GetString("github.client_id"),
			ClientSecret: configViper.GetString("github.client_secret"),
			RedirectURL:  configViper.GetString("github.redirect_url"),
		},
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	required := []struct {
		key   string
		value string
	}{
		{"database.path", c.DatabasePath},
		{"session.signing_secret", c.SessionSigningKey},
		{"session.cookie_name", c.SessionCookieName},
		{"google.client_id", c.Google.ClientID},
		{"google.client_secret", c.Google.ClientSecret},
		{"google.redirect_url", c.Google.RedirectURL},
		{"github.client_id", c.GitHub.ClientID},
		{"github.client_secret", c.GitHub.ClientSecret},
		{"github.redirect_url", c.GitHub.RedirectURL},
	}
	for _, entry := range required {
		if strings.TrimSpace(entry.value) == "" {
			return fmt.Errorf("%s is required", entry.key)
		}
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("session.ttl_hours must be positive")
	}
	return nil
}
