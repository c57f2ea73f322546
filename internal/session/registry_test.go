package session

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitea.jw6.us/james/gamereview/internal/identity"
	"gitea.jw6.us/james/gamereview/internal/identity/identitytest"
)

func newRegistry(t *testing.T, size int, ttl time.Duration) (*Registry, *identitytest.Provider) {
	t.Helper()
	provider := &identitytest.Provider{}
	reg := NewRegistry(size, ttl, func(clientID string, meta identity.ClientMeta) *Store {
		return New(provider.Client(clientID, meta), WithClientID(clientID))
	})
	t.Cleanup(reg.Close)
	return reg, provider
}

func TestRegistryReusesStore(t *testing.T) {
	reg, _ := newRegistry(t, 10, time.Hour)

	a := reg.Get("c1", identity.ClientMeta{})
	b := reg.Get("c1", identity.ClientMeta{})
	assert.Same(t, a, b)
	assert.NotSame(t, a, reg.Get("c2", identity.ClientMeta{}))
	assert.Equal(t, 2, reg.Len())

	found, ok := reg.Lookup("c1")
	require.True(t, ok)
	assert.Same(t, a, found)
}

func TestRegistryConcurrentFirstRequestsShareStore(t *testing.T) {
	reg, provider := newRegistry(t, 10, time.Hour)

	var wg sync.WaitGroup
	stores := make([]*Store, 16)
	for i := range stores {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			stores[i] = reg.Get("same", identity.ClientMeta{})
		}(i)
	}
	wg.Wait()

	for _, s := range stores {
		assert.Same(t, stores[0], s)
	}
	opened, _ := provider.ClientFor("same").Subscriptions()
	assert.Equal(t, 1, opened)
}

func TestRegistryEvictionClosesStoreOnce(t *testing.T) {
	reg, provider := newRegistry(t, 1, time.Hour)

	first := reg.Get("c1", identity.ClientMeta{})
	reg.Get("c2", identity.ClientMeta{})

	_, released := provider.ClientFor("c1").Subscriptions()
	assert.Equal(t, 1, released)
	_, ok := reg.Lookup("c1")
	assert.False(t, ok)

	first.Close()
	_, released = provider.ClientFor("c1").Subscriptions()
	assert.Equal(t, 1, released)

	reg.Remove("c2")
	_, released = provider.ClientFor("c2").Subscriptions()
	assert.Equal(t, 1, released)
}

func TestRegistryExpiredEntryIsReplaced(t *testing.T) {
	reg, provider := newRegistry(t, 10, 20*time.Millisecond)

	first := reg.Get("c1", identity.ClientMeta{})
	time.Sleep(40 * time.Millisecond)
	second := reg.Get("c1", identity.ClientMeta{})

	assert.NotSame(t, first, second)
	_, released := provider.ClientFor("c1").Subscriptions()
	assert.Equal(t, 1, released, "expired store closed exactly once")
}

func TestRegistryCloseClosesAll(t *testing.T) {
	reg, provider := newRegistry(t, 10, time.Hour)
	reg.Get("c1", identity.ClientMeta{})
	reg.Get("c2", identity.ClientMeta{})

	reg.Close()
	assert.Equal(t, 0, reg.Len())
	for _, id := range []string{"c1", "c2"} {
		_, released := provider.ClientFor(id).Subscriptions()
		assert.Equal(t, 1, released, id)
	}
}

type fixedIDs struct {
	id  string
	err error
}

func (f fixedIDs) ClientID(http.ResponseWriter, *http.Request) (string, error) {
	return f.id, f.err
}

func TestAttachPutsStoreOnContext(t *testing.T) {
	reg, _ := newRegistry(t, 10, time.Hour)
	meta := func(r *http.Request) identity.ClientMeta {
		return identity.ClientMeta{UserAgent: r.UserAgent()}
	}

	var got *Store
	h := Attach(reg, fixedIDs{id: "c1"}, meta)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	require.NotNil(t, got)
	assert.Equal(t, "c1", got.ClientID())

	rec := httptest.NewRecorder()
	Attach(reg, fixedIDs{err: errors.New("bad cookie codec")}, meta)(http.NotFoundHandler()).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestDiscardPendingOnNonAuthPages(t *testing.T) {
	fc := identitytest.NewClient()
	s := New(fc)
	defer s.Close()

	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(DiscardPendingOn("/login", "/register", "/auth/"))
		noop := func(http.ResponseWriter, *http.Request) {}
		for _, path := range []string{"/login", "/auth/google", "/loginx", "/reviews", "/favicon.svg"} {
			r.Get(path, noop)
		}
		r.Post("/reviews", noop)
		r.NotFound(noop)
	})

	serve := func(method, path string, header http.Header) {
		req := httptest.NewRequest(method, path, nil)
		for k, v := range header {
			req.Header[k] = v
		}
		r.ServeHTTP(httptest.NewRecorder(), req.WithContext(WithStore(req.Context(), s)))
	}
	navigate := http.Header{"Sec-Fetch-Mode": {"navigate"}, "Accept": {"text/html"}}

	s.SetPendingRedirect("/addreview")
	serve(http.MethodGet, "/login", navigate)
	serve(http.MethodGet, "/auth/google", navigate)
	serve(http.MethodPost, "/reviews", navigate)
	_, ok := s.PeekPendingRedirect()
	assert.True(t, ok, "sign-in pages keep the pending redirect")

	serve(http.MethodGet, "/favicon.ico", http.Header{"Sec-Fetch-Mode": {"no-cors"}, "Accept": {"image/avif,image/webp,*/*"}})
	serve(http.MethodGet, "/favicon.ico", navigate)
	serve(http.MethodGet, "/favicon.svg", http.Header{"Accept": {"image/*"}})
	serve(http.MethodGet, "/reviews", http.Header{"Sec-Fetch-Mode": {"cors"}, "Accept": {"text/html"}})
	serve(http.MethodGet, "/reviews", nil)
	_, ok = s.PeekPendingRedirect()
	assert.True(t, ok, "subresource fetches and unmatched paths keep the pending redirect")

	serve(http.MethodGet, "/loginx", navigate)
	_, ok = s.PeekPendingRedirect()
	assert.False(t, ok, "navigating to another page discards it")

	s.SetPendingRedirect("/addreview")
	serve(http.MethodGet, "/reviews", http.Header{"Accept": {"text/html,application/xhtml+xml"}})
	_, ok = s.PeekPendingRedirect()
	assert.False(t, ok, "Accept: text/html counts as navigation without fetch metadata")

	assert.Nil(t, FromContext(httptest.NewRequest(http.MethodGet, "/", nil).Context()))
}
