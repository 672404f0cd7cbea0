package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/tauth/backend/internal/providers"
	"github.com/MarcoPoloResearchLab/tauth/backend/internal/sessions"
	"github.com/MarcoPoloResearchLab/tauth/backend/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	loginPath       = "/auth/login"
	stateCookieName = "tauth_state"
	stateCookieTTL  = 5 * time.Minute
)

var (
	errMissingProviderRegistry = errors.New("provider registry dependency required")
	errMissingSessionManager   = errors.New("session manager dependency required")
	errMissingIdentityStore    = errors.New("identity store dependency required")
	errMissingStateSigner      = errors.New("state signer dependency required")
)

// ProviderRegistry exposes the closed provider set resolved at startup.
type ProviderRegistry interface {
	Lookup(name string) (providers.Provider, error)
	Names() []string
}

// SessionManager covers the session lifecycle the handlers drive.
type SessionManager interface {
	Create(ctx context.Context, userID string) (string, error)
	Resolve(ctx context.Context, token string) (users.User, error)
	Invalidate(ctx context.Context, token string) error
}

// IdentityStore reconciles an exchanged provider identity to a local user.
type IdentityStore interface {
	FindOrCreate(ctx context.Context, identity providers.Identity) (users.User, error)
}

// StateSigner issues and checks the anti-forgery correlation value carried
// through the provider round trip.
type StateSigner interface {
	Issue(provider string) (string, error)
	Validate(state, provider string) error
}

// CookiePolicy captures the transport attributes applied to the session
// cookie at issuance.
type CookiePolicy struct {
	Name     string
	TTL      time.Duration
	Secure   bool
	SameSite http.SameSite
}

// Dependencies wires the auth service into the HTTP surface.
type Dependencies struct {
	Providers     ProviderRegistry
	Sessions      SessionManager
	Users         IdentityStore
	States        StateSigner
	Logger        *zap.Logger
	Cookies       CookiePolicy
	LandingURL    string
	AllowedOrigin string
}

// NewHTTPHandler builds the router. Provider routes are registered once per
// configured provider, so a login attempt against an unknown name falls
// through to a plain 404.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Providers == nil {
		return nil, errMissingProviderRegistry
	}
	if deps.Sessions == nil {
		return nil, errMissingSessionManager
	}
	if deps.Users == nil {
		return nil, errMissingIdentityStore
	}
	if deps.States == nil {
		return nil, errMissingStateSigner
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cookies := deps.Cookies
	if cookies.Name == "" {
		cookies.Name = "tauth_session"
	}
	if cookies.TTL <= 0 {
		cookies.TTL = sessions.DefaultTTL
	}
	if cookies.SameSite == 0 {
		cookies.SameSite = http.SameSiteLaxMode
	}
	landingURL := deps.LandingURL
	if landingURL == "" {
		landingURL = "/"
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if deps.AllowedOrigin != "" {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     []string{deps.AllowedOrigin},
			AllowMethods:     []string{http.MethodGet, http.MethodOptions},
			AllowHeaders:     []string{"Content-Type"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	handler := &httpHandler{
		sessions:   deps.Sessions,
		identities: deps.Users,
		states:     deps.States,
		logger:     logger,
		cookies:    cookies,
		landingURL: landingURL,
		names:      deps.Providers.Names(),
	}

	router.GET(loginPath, handler.handleLoginPage)
	router.GET("/auth/logout", handler.handleLogout)
	router.GET("/auth/user", handler.handleUser)
	for _, name := range handler.names {
		provider, err := deps.Providers.Lookup(name)
		if err != nil {
			return nil, err
		}
		router.GET("/auth/"+name, handler.initiateFor(provider))
		router.GET("/auth/callback/"+name, handler.callbackFor(provider))
	}

	return router, nil
}

type httpHandler struct {
	sessions   SessionManager
	identities IdentityStore
	states     StateSigner
	logger     *zap.Logger
	cookies    CookiePolicy
	landingURL string
	names      []string
}

// handleLoginPage lists one login link per configured provider.
func (h *httpHandler) handleLoginPage(c *gin.Context) {
	var page strings.Builder
	for _, name := range h.names {
		fmt.Fprintf(&page, "<a href=\"/auth/%s\">Login with %s</a><br>", name, titleCase(name))
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(page.String()))
}

func titleCase(name string) string {
	if name == "" {
		return name
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

// initiateFor starts the redirect leg: sign a state value, park it in a
// short-lived cookie, and send the browser to the provider.
func (h *httpHandler) initiateFor(provider providers.Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		state, err := h.states.Issue(provider.Name())
		if err != nil {
			h.logger.Error("failed to issue state token", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
			return
		}
		h.setCookie(c, &http.Cookie{
			Name:     stateCookieName,
			Value:    state,
			Path:     "/",
			MaxAge:   int(stateCookieTTL.Seconds()),
			HttpOnly: true,
			Secure:   h.cookies.Secure,
			SameSite: http.SameSiteLaxMode,
		})
		c.Redirect(http.StatusFound, provider.AuthCodeURL(state))
	}
}

// callbackFor completes the login: verify the correlation state, exchange the
// code, reconcile the identity, and issue the session cookie. Every provider
// or correlation failure lands back on the login page with no session.
func (h *httpHandler) callbackFor(provider providers.Provider) gin.HandlerFunc {
	name := provider.Name()
	return func(c *gin.Context) {
		h.clearStateCookie(c)

		if denial := c.Query("error"); denial != "" {
			h.logger.Info("provider reported denial",
				zap.String("provider", name),
				zap.String("reason", denial))
			c.Redirect(http.StatusFound, loginPath)
			return
		}

		state := c.Query("state")
		parked, err := c.Cookie(stateCookieName)
		if err != nil || parked == "" || parked != state {
			h.logger.Warn("state correlation lost", zap.String("provider", name))
			c.Redirect(http.StatusFound, loginPath)
			return
		}
		if err := h.states.Validate(state, name); err != nil {
			h.logger.Warn("state validation failed",
				zap.String("provider", name),
				zap.Error(err))
			c.Redirect(http.StatusFound, loginPath)
			return
		}

		code := c.Query("code")
		if code == "" {
			h.logger.Warn("callback missing authorization code", zap.String("provider", name))
			c.Redirect(http.StatusFound, loginPath)
			return
		}

		identity, err := provider.Exchange(c.Request.Context(), code)
		if err != nil {
			h.logger.Warn("code exchange failed",
				zap.String("provider", name),
				zap.Error(err))
			c.Redirect(http.StatusFound, loginPath)
			return
		}

		user, err := h.identities.FindOrCreate(c.Request.Context(), identity)
		if err != nil {
			h.logger.Error("identity reconciliation failed",
				zap.String("provider", name),
				zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
			return
		}

		token, err := h.sessions.Create(c.Request.Context(), user.ID)
		if err != nil {
			h.logger.Error("session creation failed",
				zap.String("user_id", user.ID),
				zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
			return
		}

		h.setCookie(c, &http.Cookie{
			Name:     h.cookies.Name,
			Value:    token,
			Path:     "/",
			MaxAge:   int(h.cookies.TTL.Seconds()),
			HttpOnly: true,
			Secure:   h.cookies.Secure,
			SameSite: h.cookies.SameSite,
		})
		c.Redirect(http.StatusFound, h.landingURL)
	}
}

// handleLogout invalidates the session if one is presented and always clears
// the cookie. Logging out twice is harmless.
func (h *httpHandler) handleLogout(c *gin.Context) {
	if token, err := c.Cookie(h.cookies.Name); err == nil && token != "" {
		if err := h.sessions.Invalidate(c.Request.Context(), token); err != nil {
			h.logger.Error("session invalidation failed", zap.Error(err))
		}
	}
	h.setCookie(c, &http.Cookie{
		Name:     h.cookies.Name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookies.Secure,
		SameSite: h.cookies.SameSite,
	})
	c.Redirect(http.StatusFound, loginPath)
}

type userResponsePayload struct {
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	ProfilePic  string `json:"profilePic"`
}

// handleUser resolves the session cookie to the stored profile.
func (h *httpHandler) handleUser(c *gin.Context) {
	token, err := c.Cookie(h.cookies.Name)
	if err != nil || token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	user, err := h.sessions.Resolve(c.Request.Context(), token)
	if errors.Is(err, sessions.ErrUnauthenticated) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if err != nil {
		h.logger.Error("session resolution failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.JSON(http.StatusOK, userResponsePayload{
		DisplayName: user.DisplayName,
		Email:       user.Email,
		ProfilePic:  user.AvatarURL,
	})
}

func (h *httpHandler) setCookie(c *gin.Context, cookie *http.Cookie) {
	http.SetCookie(c.Writer, cookie)
}

func (h *httpHandler) clearStateCookie(c *gin.Context) {
	h.setCookie(c, &http.Cookie{
		Name:   stateCookieName,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
}
