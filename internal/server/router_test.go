package server

import (
	contextpkg "context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MarcoPoloResearchLab/tauth/backend/internal/providers"
	"github.com/MarcoPoloResearchLab/tauth/backend/internal/sessions"
	"github.com/MarcoPoloResearchLab/tauth/backend/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type stubProvider struct {
	name        string
	identity    providers.Identity
	exchangeErr error
}

func (s stubProvider) Name() string { return s.name }

func (s stubProvider) AuthCodeURL(state string) string {
	return "https://provider.example/authorize?state=" + state
}

func (s stubProvider) Exchange(contextpkg.Context, string) (providers.Identity, error) {
	if s.exchangeErr != nil {
		return providers.Identity{}, s.exchangeErr
	}
	return s.identity, nil
}

type stubRegistry map[string]providers.Provider

func (s stubRegistry) Lookup(name string) (providers.Provider, error) {
	provider, ok := s[name]
	if !ok {
		return nil, providers.ErrUnknownProvider
	}
	return provider, nil
}

func (s stubRegistry) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	return names
}

type stubSessionManager struct {
	created     []string
	invalidated []string
	token       string
	createErr   error
	resolved    users.User
	resolveErr  error
}

func (s *stubSessionManager) Create(_ contextpkg.Context, userID string) (string, error) {
	if s.createErr != nil {
		return "", s.createErr
	}
	s.created = append(s.created, userID)
	return s.token, nil
}

func (s *stubSessionManager) Resolve(contextpkg.Context, string) (users.User, error) {
	if s.resolveErr != nil {
		return users.User{}, s.resolveErr
	}
	return s.resolved, nil
}

func (s *stubSessionManager) Invalidate(_ contextpkg.Context, token string) error {
	s.invalidated = append(s.invalidated, token)
	return nil
}

type stubIdentityStore struct {
	user users.User
	err  error
}

func (s stubIdentityStore) FindOrCreate(contextpkg.Context, providers.Identity) (users.User, error) {
	return s.user, s.err
}

type stubStateSigner struct {
	state       string
	validateErr error
}

func (s stubStateSigner) Issue(string) (string, error) { return s.state, nil }

func (s stubStateSigner) Validate(string, string) error { return s.validateErr }

type routerFixture struct {
	handler  http.Handler
	sessions *stubSessionManager
}

func newRouterFixture(t *testing.T, mutate func(*Dependencies)) routerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	sessionManager := &stubSessionManager{token: "session-token"}
	deps := Dependencies{
		Providers: stubRegistry{
			"google": stubProvider{
				name:     "google",
				identity: providers.Identity{Provider: "google", Subject: "42", DisplayName: "Example"},
			},
		},
		Sessions: sessionManager,
		Users:    stubIdentityStore{user: users.User{ID: "user-1", DisplayName: "Example", Email: "user@example.com", AvatarURL: "https://example.com/a.png"}},
		States:   stubStateSigner{state: "signed-state"},
		Logger:   zap.NewNop(),
	}
	if mutate != nil {
		mutate(&deps)
	}

	handler, err := NewHTTPHandler(deps)
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	return routerFixture{handler: handler, sessions: sessionManager}
}

func TestLoginPageListsProviders(t *testing.T) {
	fixture := newRouterFixture(t, nil)

	recorder := httptest.NewRecorder()
	fixture.handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/auth/login", http.NoBody))

	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), `href="/auth/google"`) {
		t.Fatalf("expected login link for google, got %q", recorder.Body.String())
	}
}

func TestInitiateRedirectsToProvider(t *testing.T) {
	fixture := newRouterFixture(t, nil)

	recorder := httptest.NewRecorder()
	fixture.handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/auth/google", http.NoBody))

	if recorder.Code != http.StatusFound {
		t.Fatalf("expected redirect, got %d", recorder.Code)
	}
	location := recorder.Header().Get("Location")
	if !strings.HasPrefix(location, "https://provider.example/authorize") {
		t.Fatalf("unexpected redirect target: %q", location)
	}
	if !strings.Contains(location, "state=signed-state") {
		t.Fatalf("expected state in redirect, got %q", location)
	}

	var stateCookie *http.Cookie
	for _, cookie := range recorder.Result().Cookies() {
		if cookie.Name == stateCookieName {
			stateCookie = cookie
		}
	}
	if stateCookie == nil || stateCookie.Value != "signed-state" {
		t.Fatalf("expected state cookie to be parked, got %v", stateCookie)
	}
	if !stateCookie.HttpOnly {
		t.Fatalf("expected state cookie to be http-only")
	}
}

func TestInitiateUnknownProviderIsNotFound(t *testing.T) {
	fixture := newRouterFixture(t, nil)

	recorder := httptest.NewRecorder()
	fixture.handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/auth/myspace", http.NoBody))

	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown provider, got %d", recorder.Code)
	}
}

func callbackRequest(query string, withStateCookie bool) *http.Request {
	request := httptest.NewRequest(http.MethodGet, "/auth/callback/google?"+query, http.NoBody)
	if withStateCookie {
		request.AddCookie(&http.Cookie{Name: stateCookieName, Value: "signed-state"})
	}
	return request
}

func sessionCookie(recorder *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, cookie := range recorder.Result().Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}
	return nil
}

func TestCallbackSuccessSetsSessionCookieAndRedirects(t *testing.T) {
	fixture := newRouterFixture(t, func(deps *Dependencies) {
		deps.LandingURL = "http://localhost:3000/dashboard"
	})

	recorder := httptest.NewRecorder()
	fixture.handler.ServeHTTP(recorder, callbackRequest("code=good&state=signed-state", true))

	if recorder.Code != http.StatusFound {
		t.Fatalf("expected redirect, got %d", recorder.Code)
	}
	if location := recorder.Header().Get("Location"); location != "http://localhost:3000/dashboard" {
		t.Fatalf("unexpected landing redirect: %q", location)
	}
	cookie := sessionCookie(recorder, "tauth_session")
	if cookie == nil || cookie.Value != "session-token" {
		t.Fatalf("expected session cookie, got %v", cookie)
	}
	if !cookie.HttpOnly {
		t.Fatalf("expected session cookie to be http-only")
	}
	if len(fixture.sessions.created) != 1 || fixture.sessions.created[0] != "user-1" {
		t.Fatalf("expected one session for user-1, got %v", fixture.sessions.created)
	}
}

func TestCallbackDenialRedirectsToLoginWithoutSession(t *testing.T) {
	fixture := newRouterFixture(t, nil)

	recorder := httptest.NewRecorder()
	fixture.handler.ServeHTTP(recorder, callbackRequest("error=access_denied", true))

	if recorder.Code != http.StatusFound {
		t.Fatalf("expected redirect, got %d", recorder.Code)
	}
	if location := recorder.Header().Get("Location"); location != loginPath {
		t.Fatalf("expected login redirect, got %q", location)
	}
	if cookie := sessionCookie(recorder, "tauth_session"); cookie != nil {
		t.Fatalf("expected no session cookie on denial, got %v", cookie)
	}
	if len(fixture.sessions.created) != 0 {
		t.Fatalf("expected no session to be created, got %v", fixture.sessions.created)
	}
}

func TestCallbackWithoutStateCookieRedirectsToLogin(t *testing.T) {
	fixture := newRouterFixture(t, nil)

	recorder := httptest.NewRecorder()
	fixture.handler.ServeHTTP(recorder, callbackRequest("code=good&state=signed-state", false))

	if recorder.Code != http.StatusFound || recorder.Header().Get("Location") != loginPath {
		t.Fatalf("expected login redirect on lost correlation, got %d %q", recorder.Code, recorder.Header().Get("Location"))
	}
	if len(fixture.sessions.created) != 0 {
		t.Fatalf("expected no session on lost correlation")
	}
}

func TestCallbackWithInvalidStateRedirectsToLogin(t *testing.T) {
	fixture := newRouterFixture(t, func(deps *Dependencies) {
		deps.States = stubStateSigner{state: "signed-state", validateErr: errors.New("expired")}
	})

	recorder := httptest.NewRecorder()
	fixture.handler.ServeHTTP(recorder, callbackRequest("code=good&state=signed-state", true))

	if recorder.Code != http.StatusFound || recorder.Header().Get("Location") != loginPath {
		t.Fatalf("expected login redirect on invalid state, got %d", recorder.Code)
	}
}

func TestCallbackExchangeFailureRedirectsToLogin(t *testing.T) {
	fixture := newRouterFixture(t, func(deps *Dependencies) {
		deps.Providers = stubRegistry{
			"google": stubProvider{
				name:        "google",
				exchangeErr: &providers.ExchangeError{Provider: "google", Err: errors.New("code expired")},
			},
		}
	})

	recorder := httptest.NewRecorder()
	fixture.handler.ServeHTTP(recorder, callbackRequest("code=stale&state=signed-state", true))

	if recorder.Code != http.StatusFound || recorder.Header().Get("Location") != loginPath {
		t.Fatalf("expected login redirect on exchange failure, got %d", recorder.Code)
	}
	if len(fixture.sessions.created) != 0 {
		t.Fatalf("expected no session on exchange failure")
	}
}

func TestCallbackStoreFailureIsServerError(t *testing.T) {
	fixture := newRouterFixture(t, func(deps *Dependencies) {
		deps.Users = stubIdentityStore{err: errors.New("database unavailable")}
	})

	recorder := httptest.NewRecorder()
	fixture.handler.ServeHTTP(recorder, callbackRequest("code=good&state=signed-state", true))

	if recorder.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 on store failure, got %d", recorder.Code)
	}
	if strings.Contains(recorder.Body.String(), "database unavailable") {
		t.Fatalf("store fault leaked to client: %q", recorder.Body.String())
	}
}

func TestUserWithoutSessionIsUnauthorized(t *testing.T) {
	fixture := newRouterFixture(t, nil)

	recorder := httptest.NewRecorder()
	fixture.handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/auth/user", http.NoBody))

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
}

func TestUserWithExpiredSessionIsUnauthorized(t *testing.T) {
	fixture := newRouterFixture(t, func(deps *Dependencies) {
		deps.Sessions = &stubSessionManager{resolveErr: sessions.ErrUnauthenticated}
	})

	request := httptest.NewRequest(http.MethodGet, "/auth/user", http.NoBody)
	request.AddCookie(&http.Cookie{Name: "tauth_session", Value: "stale"})
	recorder := httptest.NewRecorder()
	fixture.handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for expired session, got %d", recorder.Code)
	}
}

func TestUserReturnsProfilePayload(t *testing.T) {
	fixture := newRouterFixture(t, func(deps *Dependencies) {
		deps.Sessions = &stubSessionManager{
			resolved: users.User{ID: "user-1", DisplayName: "Example", Email: "user@example.com", AvatarURL: "https://example.com/a.png"},
		}
	})

	request := httptest.NewRequest(http.MethodGet, "/auth/user", http.NoBody)
	request.AddCookie(&http.Cookie{Name: "tauth_session", Value: "session-token"})
	recorder := httptest.NewRecorder()
	fixture.handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	body := recorder.Body.String()
	for _, fragment := range []string{`"displayName":"Example"`, `"email":"user@example.com"`, `"profilePic":"https://example.com/a.png"`} {
		if !strings.Contains(body, fragment) {
			t.Fatalf("expected %s in response, got %q", fragment, body)
		}
	}
}

func TestLogoutInvalidatesSessionAndClearsCookie(t *testing.T) {
	fixture := newRouterFixture(t, nil)

	request := httptest.NewRequest(http.MethodGet, "/auth/logout", http.NoBody)
	request.AddCookie(&http.Cookie{Name: "tauth_session", Value: "session-token"})
	recorder := httptest.NewRecorder()
	fixture.handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusFound || recorder.Header().Get("Location") != loginPath {
		t.Fatalf("expected login redirect, got %d %q", recorder.Code, recorder.Header().Get("Location"))
	}
	if len(fixture.sessions.invalidated) != 1 || fixture.sessions.invalidated[0] != "session-token" {
		t.Fatalf("expected session invalidation, got %v", fixture.sessions.invalidated)
	}
	cookie := sessionCookie(recorder, "tauth_session")
	if cookie == nil || cookie.MaxAge != -1 {
		t.Fatalf("expected session cookie to be cleared, got %v", cookie)
	}
}

func TestLogoutWithoutCookieStillRedirects(t *testing.T) {
	fixture := newRouterFixture(t, nil)

	recorder := httptest.NewRecorder()
	fixture.handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/auth/logout", http.NoBody))

	if recorder.Code != http.StatusFound || recorder.Header().Get("Location") != loginPath {
		t.Fatalf("expected login redirect, got %d", recorder.Code)
	}
	if len(fixture.sessions.invalidated) != 0 {
		t.Fatalf("expected no invalidation without a cookie")
	}
}

func TestNewHTTPHandlerRequiresDependencies(t *testing.T) {
	gin.SetMode(gin.TestMode)
	if _, err := NewHTTPHandler(Dependencies{}); err == nil {
		t.Fatalf("expected missing-dependency error")
	}
}
