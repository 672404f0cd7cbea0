package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/tauth/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/tauth/backend/internal/config"
	"github.com/MarcoPoloResearchLab/tauth/backend/internal/database"
	"github.com/MarcoPoloResearchLab/tauth/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/tauth/backend/internal/providers"
	"github.com/MarcoPoloResearchLab/tauth/backend/internal/server"
	"github.com/MarcoPoloResearchLab/tauth/backend/internal/sessions"
	"github.com/MarcoPoloResearchLab/tauth/backend/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const sessionSweepInterval = time.Hour

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tauth-api",
		Short: "TAuth social-login and session service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("environment", defaults.GetString("server.environment"), "Deployment environment (development, production)")
	cmd.PersistentFlags().String("landing-url", defaults.GetString("server.landing_url"), "Redirect destination after successful login")
	cmd.PersistentFlags().String("allowed-origin", defaults.GetString("cors.allowed_origin"), "Frontend origin allowed to send credentials")
	cmd.PersistentFlags().String("session-cookie-name", defaults.GetString("session.cookie_name"), "Session cookie name")
	cmd.PersistentFlags().Int("session-ttl-hours", defaults.GetInt("session.ttl_hours"), "Session TTL in hours")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().String("google-client-id", defaults.GetString("google.client_id"), "Google OAuth client ID")
	cmd.PersistentFlags().String("google-client-secret", "", "Google OAuth client secret (overrides env)")
	cmd.PersistentFlags().String("google-redirect-url", defaults.GetString("google.redirect_url"), "Google OAuth callback URL")
	cmd.PersistentFlags().String("github-client-id", defaults.GetString("github.client_id"), "GitHub OAuth client ID")
	cmd.PersistentFlags().String("github-client-secret", "", "GitHub OAuth client secret (overrides env)")
	cmd.PersistentFlags().String("github-redirect-url", defaults.GetString("github.redirect_url"), "GitHub OAuth callback URL")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "server.environment", "environment")
	bindFlag(cmd, "server.landing_url", "landing-url")
	bindFlag(cmd, "cors.allowed_origin", "allowed-origin")
	bindFlag(cmd, "session.cookie_name", "session-cookie-name")
	bindFlag(cmd, "session.ttl_hours", "session-ttl-hours")
	bindFlag(cmd, "session.signing_secret", "signing-secret")
	bindFlag(cmd, "google.client_id", "google-client-id")
	bindFlag(cmd, "google.client_secret", "google-client-secret")
	bindFlag(cmd, "google.redirect_url", "google-redirect-url")
	bindFlag(cmd, "github.client_id", "github-client-id")
	bindFlag(cmd, "github.client_secret", "github-client-secret")
	bindFlag(cmd, "github.redirect_url", "github-redirect-url")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	identityStore, err := users.NewStore(users.StoreConfig{Database: db})
	if err != nil {
		return err
	}

	sessionManager, err := sessions.NewManager(sessions.ManagerConfig{
		Database: db,
		Users:    identityStore,
		TTL:      appConfig.SessionTTL,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	stateSigner, err := auth.NewStateSigner(auth.StateSignerConfig{
		SigningSecret: []byte(appConfig.SessionSigningKey),
	})
	if err != nil {
		return err
	}

	google, err := providers.NewGoogle(providers.GoogleConfig{
		ClientID:     appConfig.Google.ClientID,
		ClientSecret: appConfig.Google.ClientSecret,
		RedirectURL:  appConfig.Google.RedirectURL,
	})
	if err != nil {
		return err
	}
	github, err := providers.NewGitHub(providers.GitHubConfig{
		ClientID:     appConfig.GitHub.ClientID,
		ClientSecret: appConfig.GitHub.ClientSecret,
		RedirectURL:  appConfig.GitHub.RedirectURL,
	})
	if err != nil {
		return err
	}
	registry, err := providers.NewRegistry(google, github)
	if err != nil {
		return err
	}

	cookiePolicy := server.CookiePolicy{
		Name:     appConfig.SessionCookieName,
		TTL:      appConfig.SessionTTL,
		Secure:   appConfig.IsProduction(),
		SameSite: http.SameSiteLaxMode,
	}
	if appConfig.IsProduction() {
		cookiePolicy.SameSite = http.SameSiteNoneMode
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Providers:     registry,
		Sessions:      sessionManager,
		Users:         identityStore,
		States:        stateSigner,
		Logger:        logger,
		Cookies:       cookiePolicy,
		LandingURL:    appConfig.LandingURL,
		AllowedOrigin: appConfig.AllowedOrigin,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go sweepSessions(signalCtx, sessionManager, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// sweepSessions periodically purges expired sessions. Expiry is enforced at
// resolution time regardless; the sweeper only reclaims storage.
func sweepSessions(ctx context.Context, manager *sessions.Manager, logger *zap.Logger) {
	ticker := time.NewTicker(sessionSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := manager.PurgeExpired(ctx)
			if err != nil {
				logger.Warn("session sweep failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Info("expired sessions purged", zap.Int64("count", removed))
			}
		}
	}
}
