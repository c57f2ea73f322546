package httpserver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitea.jw6.us/james/gamereview/internal/backend"
	"gitea.jw6.us/james/gamereview/internal/config"
	"gitea.jw6.us/james/gamereview/internal/identity"
	"gitea.jw6.us/james/gamereview/internal/identity/identitytest"
	"gitea.jw6.us/james/gamereview/internal/session"
	"gitea.jw6.us/james/gamereview/internal/ui"
)

const testClientID = "client-1"

type fixedClient struct{}

func (fixedClient) ClientID(http.ResponseWriter, *http.Request) (string, error) {
	return testClientID, nil
}

type fakeHealth struct{ err error }

func (f fakeHealth) HealthCheck(context.Context) error { return f.err }

type stubReviews struct {
	removed []string
}

func (s *stubReviews) ListReviews(context.Context) ([]backend.Review, error) { return nil, nil }
func (s *stubReviews) GetReview(context.Context, string) (*backend.Review, error) {
	return nil, backend.ErrNotFound
}
func (s *stubReviews) CreateReview(context.Context, identity.Attribution, backend.ReviewInput) (string, error) {
	return "id", nil
}
func (s *stubReviews) UpdateReview(context.Context, identity.Attribution, string, backend.ReviewUpdate) error {
	return nil
}
func (s *stubReviews) DeleteReview(context.Context, identity.Attribution, string) error { return nil }
func (s *stubReviews) ListWatchlist(context.Context, identity.Attribution) ([]backend.WatchlistEntry, error) {
	return nil, nil
}
func (s *stubReviews) AddToWatchlist(context.Context, identity.Attribution, backend.Review) (string, error) {
	return "w", nil
}
func (s *stubReviews) RemoveFromWatchlist(_ context.Context, _ identity.Attribution, id string) error {
	s.removed = append(s.removed, id)
	return nil
}

type routerFixture struct {
	handler  http.Handler
	store    *session.Store
	client   *identitytest.Client
	reviews  *stubReviews
	csrf     *http.Cookie
	csrfSeen string
}

func newRouterFixture(t *testing.T, health error, mutate func(*config.Config)) *routerFixture {
	t.Helper()
	cfg := &config.Config{BaseURL: "http://localhost:8080"}
	cfg.OAuth.RedirectPath = "/auth/callback"
	if mutate != nil {
		mutate(cfg)
	}

	provider := &identitytest.Provider{}
	reg := session.NewRegistry(16, time.Minute, func(clientID string, meta identity.ClientMeta) *session.Store {
		return session.New(provider.Client(clientID, meta), session.WithClientID(clientID))
	})
	t.Cleanup(reg.Close)

	s := reg.Get(testClientID, identity.ClientMeta{})
	fc := provider.ClientFor(testClientID)
	fc.Emit(identity.SignedOut())

	reviews := &stubReviews{}
	h := NewRouter(Deps{
		Config:   cfg,
		Logger:   zerolog.Nop(),
		Health:   fakeHealth{err: health},
		Sessions: reg,
		Clients:  fixedClient{},
		Pages:    ui.NewHandler(reviews, ui.WithSignInWait(time.Second)),
	})
	return &routerFixture{handler: h, store: s, client: fc, reviews: reviews}
}

func (f *routerFixture) do(req *http.Request) *httptest.ResponseRecorder {
	if f.csrf != nil {
		req.AddCookie(f.csrf)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	for _, c := range rec.Result().Cookies() {
		if c.Name == "gamereview_csrf" {
			f.csrf = c
		}
	}
	return rec
}

// get loads target the way a browser navigates to a page.
func (f *routerFixture) get(target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,*/*;q=0.8")
	return f.do(req)
}

// fetch loads target the way a browser requests an image on its own.
func (f *routerFixture) fetch(target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.Header.Set("Sec-Fetch-Mode", "no-cors")
	req.Header.Set("Accept", "image/avif,image/webp,image/*,*/*;q=0.8")
	return f.do(req)
}

func (f *routerFixture) postForm(target string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return f.do(req)
}

func (f *routerFixture) token() string {
	if f.csrf == nil {
		return ""
	}
	return f.csrf.Value
}

func TestHealthEndpoints(t *testing.T) {
	f := newRouterFixture(t, nil, nil)
	assert.Equal(t, http.StatusOK, f.get("/healthz").Code)
	assert.Equal(t, http.StatusOK, f.get("/readyz").Code)

	down := newRouterFixture(t, errors.New("db down"), nil)
	assert.Equal(t, http.StatusServiceUnavailable, down.get("/readyz").Code)
}

func TestMetricsEndpointToggle(t *testing.T) {
	off := newRouterFixture(t, nil, nil)
	assert.Equal(t, http.StatusNotFound, off.get("/metrics").Code)

	on := newRouterFixture(t, nil, func(c *config.Config) { c.PrometheusEnabled = true })
	rec := on.get("/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "gamereview_")
}

func TestStaticAssetsServed(t *testing.T) {
	f := newRouterFixture(t, nil, nil)
	rec := f.get("/static/style.css")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/css")
}

func TestGuardedRouteThenSignIn(t *testing.T) {
	f := newRouterFixture(t, nil, nil)

	rec := f.get("/addreview")
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))

	rec = f.get("/login")
	require.Equal(t, http.StatusOK, rec.Code)
	p, ok := f.store.PeekPendingRedirect()
	require.True(t, ok, "the sign-in page keeps the pending redirect")
	assert.Equal(t, "/addreview", p.TargetPath)

	f.client.SignInFunc = func(ctx context.Context, email, password string) error {
		f.client.EmitAsync(identity.SignedIn(&identity.Identity{ID: "7", Email: email}))
		return nil
	}
	rec = f.postForm("/login", url.Values{"email": {"ada@example.com"}, "password": {"Passw0rd"}, "_csrf": {f.token()}})
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/addreview", rec.Header().Get("Location"))

	rec = f.get("/addreview")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Add New Review")
}

func TestFaviconKeepsPendingRedirect(t *testing.T) {
	f := newRouterFixture(t, nil, nil)

	require.Equal(t, http.StatusSeeOther, f.get("/addreview").Code)
	rec := f.get("/login")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `rel="icon" href="/static/favicon.svg"`)

	rec = f.fetch("/favicon.ico")
	assert.Equal(t, http.StatusMovedPermanently, rec.Code)
	assert.Equal(t, "/static/favicon.svg", rec.Header().Get("Location"))
	assert.Equal(t, http.StatusOK, f.fetch("/static/favicon.svg").Code)
	assert.Equal(t, http.StatusNotFound, f.fetch("/apple-touch-icon.png").Code)
	assert.Equal(t, http.StatusNotFound, f.get("/nope").Code)

	_, ok := f.store.PeekPendingRedirect()
	require.True(t, ok, "browser-initiated fetches keep the pending redirect")

	f.client.SignInFunc = func(ctx context.Context, email, password string) error {
		f.client.EmitAsync(identity.SignedIn(&identity.Identity{ID: "7", Email: email}))
		return nil
	}
	rec = f.postForm("/login", url.Values{"email": {"ada@example.com"}, "password": {"Passw0rd"}, "_csrf": {f.token()}})
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/addreview", rec.Header().Get("Location"))
}

func TestPublicPageDiscardsPendingRedirect(t *testing.T) {
	f := newRouterFixture(t, nil, nil)
	f.get("/watchlist")
	_, ok := f.store.PeekPendingRedirect()
	require.True(t, ok)

	f.get("/reviews")
	_, ok = f.store.PeekPendingRedirect()
	assert.False(t, ok)
}

func TestStateChangeNeedsCSRFToken(t *testing.T) {
	f := newRouterFixture(t, nil, nil)
	f.get("/login")

	rec := f.postForm("/login", url.Values{"email": {"ada@example.com"}, "password": {"x"}})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Zero(t, f.client.Calls("SignInWithPassword"))
}

func TestMethodOverride(t *testing.T) {
	f := newRouterFixture(t, nil, nil)
	f.client.Emit(identity.SignedIn(&identity.Identity{ID: "7", Email: "ada@example.com"}))
	f.get("/")

	rec := f.postForm("/watchlist/w1", url.Values{"_method": {"DELETE"}, "_csrf": {f.token()}})
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/watchlist?status=unwatched", rec.Header().Get("Location"))
	assert.Equal(t, []string{"w1"}, f.reviews.removed)
}

func TestSessionAPI(t *testing.T) {
	f := newRouterFixture(t, nil, func(c *config.Config) {
		c.CORSAllowedOrigins = []string{"https://app.example.com"}
	})

	rec := f.get("/api/session")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"resolving":false,"signedIn":false}`, rec.Body.String())

	req := httptest.NewRequest(http.MethodOptions, "/api/session", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec = f.do(req)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestUnknownRoute(t *testing.T) {
	f := newRouterFixture(t, nil, nil)
	rec := f.get("/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
