package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitea.jw6.us/james/gamereview/internal/identity"
	"gitea.jw6.us/james/gamereview/internal/metrics"
)

var ada = identity.Attribution{Email: "ada@example.com", DisplayName: "Ada"}

type fakeService struct {
	mu        sync.Mutex
	reviews   map[string]Review
	watchlist map[string]WatchlistEntry
	requests  int
	lastBody  map[string]any
	lastReqID string
}

func newFakeService(t *testing.T) (*fakeService, *Client) {
	t.Helper()
	f := &fakeService{
		reviews: map[string]Review{
			"r1": {ID: "r1", Title: "Hades", Rating: 9, PublishingYear: 2020, Genre: "Action", ReviewerEmail: "ada@example.com"},
			"r2": {ID: "r2", Title: "Myst", Rating: 7, PublishingYear: 1993, Genre: "Adventure", ReviewerEmail: "bob@example.com"},
		},
		watchlist: map[string]WatchlistEntry{
			"w1": {ID: "w1", ReviewID: "r2", AddedByEmail: "ada@example.com"},
			"w2": {ID: "w2", ReviewID: "r1", AddedByEmail: "bob@example.com"},
		},
	}

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			f.mu.Lock()
			f.requests++
			f.lastReqID = req.Header.Get("X-Request-ID")
			f.lastBody = nil
			if req.Body != nil {
				data, _ := io.ReadAll(req.Body)
				if len(data) > 0 {
					_ = json.Unmarshal(data, &f.lastBody)
				}
			}
			f.mu.Unlock()
			next.ServeHTTP(w, req)
		})
	})
	writeJSON := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}
	r.Get("/reviews", func(w http.ResponseWriter, _ *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		out := []Review{f.reviews["r1"], f.reviews["r2"]}
		writeJSON(w, out)
	})
	r.Get("/reviews/{id}", func(w http.ResponseWriter, req *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		rv, ok := f.reviews[chi.URLParam(req, "id")]
		if !ok {
			writeJSON(w, nil)
			return
		}
		writeJSON(w, rv)
	})
	r.Post("/addReview", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"acknowledged": true, "insertedId": "r3"})
	})
	r.Patch("/reviews/{id}", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"matchedCount": 1, "modifiedCount": 1})
	})
	r.Delete("/deleteReview/{id}", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"deletedCount": 1})
	})
	r.Get("/watchList", func(w http.ResponseWriter, _ *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		writeJSON(w, []WatchlistEntry{f.watchlist["w1"], f.watchlist["w2"]})
	})
	r.Post("/watchlist", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"insertedId": "w3"})
	})
	r.Delete("/watchlist/{id}", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"deletedCount": 0})
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	c, err := New(srv.URL+"/", 5*time.Second, WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return f, c
}

func (f *fakeService) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests
}

func TestNewRejectsRelativeURL(t *testing.T) {
	_, err := New("/reviews", time.Second)
	assert.Error(t, err)
}

func TestListAndGetReviews(t *testing.T) {
	_, c := newFakeService(t)
	ctx := context.Background()

	reviews, err := c.ListReviews(ctx)
	require.NoError(t, err)
	require.Len(t, reviews, 2)
	assert.Equal(t, "Hades", reviews[0].Title)

	r, err := c.GetReview(ctx, "r2")
	require.NoError(t, err)
	assert.Equal(t, Number(1993), r.PublishingYear)

	_, err = c.GetReview(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWritesWithoutAttributionMakeNoRequest(t *testing.T) {
	f, c := newFakeService(t)
	ctx := context.Background()
	none := identity.Attribution{}

	_, err := c.CreateReview(ctx, none, ReviewInput{Title: "x"})
	assert.ErrorIs(t, err, identity.ErrNotSignedIn)
	assert.ErrorIs(t, c.UpdateReview(ctx, none, "r1", ReviewUpdate{}), identity.ErrNotSignedIn)
	assert.ErrorIs(t, c.DeleteReview(ctx, none, "r1"), identity.ErrNotSignedIn)
	_, err = c.AddToWatchlist(ctx, none, Review{ID: "r1"})
	assert.ErrorIs(t, err, identity.ErrNotSignedIn)
	assert.ErrorIs(t, c.RemoveFromWatchlist(ctx, none, "w1"), identity.ErrNotSignedIn)
	_, err = c.ListWatchlist(ctx, none)
	assert.ErrorIs(t, err, identity.ErrNotSignedIn)

	assert.Equal(t, 0, f.count())
}

func TestCreateReviewStampsAttribution(t *testing.T) {
	f, c := newFakeService(t)

	id, err := c.CreateReview(context.Background(), ada, ReviewInput{
		Title: "Celeste", ImageURL: "https://img/c.png", Review: "Tight.", Rating: 10, PublishingYear: 2018, Genre: "Adventure",
	})
	require.NoError(t, err)
	assert.Equal(t, "r3", id)

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, "ada@example.com", f.lastBody["reviewerEmail"])
	assert.Equal(t, "Ada", f.lastBody["reviewerName"])
	assert.EqualValues(t, 10, f.lastBody["rating"])
	assert.NotContains(t, f.lastBody, "_id")
}

func TestUpdateAndDeleteRequireOwnership(t *testing.T) {
	_, c := newFakeService(t)
	ctx := context.Background()

	upd := ReviewUpdate{ImageURL: "https://img/h.png", Rating: 8, Review: "Still great"}
	require.NoError(t, c.UpdateReview(ctx, ada, "r1", upd))
	assert.ErrorIs(t, c.UpdateReview(ctx, ada, "r2", upd), ErrNotOwner)
	assert.ErrorIs(t, c.UpdateReview(ctx, ada, "missing", upd), ErrNotFound)

	require.NoError(t, c.DeleteReview(ctx, ada, "r1"))
	assert.ErrorIs(t, c.DeleteReview(ctx, ada, "r2"), ErrNotOwner)
}

func TestWatchlist(t *testing.T) {
	f, c := newFakeService(t)
	ctx := context.Background()

	entries, err := c.ListWatchlist(ctx, ada)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "w1", entries[0].ID)

	id, err := c.AddToWatchlist(ctx, ada, Review{ID: "r2", Title: "Myst", ReviewerName: "Bob"})
	require.NoError(t, err)
	assert.Equal(t, "w3", id)
	f.mu.Lock()
	assert.Equal(t, "r2", f.lastBody["reviewId"])
	assert.Equal(t, "Bob", f.lastBody["reviewerName"])
	assert.Equal(t, "ada@example.com", f.lastBody["addWatchListReviewerEmail"])
	f.mu.Unlock()

	assert.ErrorIs(t, c.RemoveFromWatchlist(ctx, ada, "w2"), ErrNotFound, "other users' entries are not removable")
	assert.ErrorIs(t, c.RemoveFromWatchlist(ctx, ada, "w1"), ErrNotFound, "zero deletions report not found")
}

func TestAPIErrorCarriesMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"title missing"}`))
	}))
	defer srv.Close()

	c, err := New(srv.URL, time.Second)
	require.NoError(t, err)
	_, err = c.ListReviews(context.Background())

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "title missing", apiErr.Message)
	assert.Contains(t, apiErr.Error(), "title missing")
}

func TestRequestCancelledWithContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	c, err := New(srv.URL, 10*time.Second)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = c.ListReviews(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNumberAcceptsStringsAndNumbers(t *testing.T) {
	cases := map[string]Number{
		`{"rating": 8}`:     8,
		`{"rating": "7"}`:   7,
		`{"rating": 7.6}`:   8,
		`{"rating": "abc"}`: 0,
		`{"rating": null}`:  0,
	}
	for in, want := range cases {
		var r Review
		require.NoError(t, json.Unmarshal([]byte(in), &r), in)
		assert.Equal(t, want, r.Rating, in)
	}
}

func TestRequestIDIsForwarded(t *testing.T) {
	f, c := newFakeService(t)

	h := middleware.RequestID(metrics.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, err := c.ListReviews(r.Context())
		assert.NoError(t, err)
	})))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(middleware.RequestIDHeader, "req-42")
	h.ServeHTTP(httptest.NewRecorder(), req)

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, "req-42", f.lastReqID)
}
