package ui

import (
	"context"
	"html/template"
	"net/http"
	"time"

	"gitea.jw6.us/james/gamereview/internal/auth"
	"gitea.jw6.us/james/gamereview/internal/backend"
	"gitea.jw6.us/james/gamereview/internal/identity"
	"gitea.jw6.us/james/gamereview/internal/session"
	"gitea.jw6.us/james/gamereview/internal/store"
)

// Reviews is the review service as used by the pages.
type Reviews interface {
	ListReviews(ctx context.Context) ([]backend.Review, error)
	GetReview(ctx context.Context, id string) (*backend.Review, error)
	CreateReview(ctx context.Context, attr identity.Attribution, in backend.ReviewInput) (string, error)
	UpdateReview(ctx context.Context, attr identity.Attribution, id string, upd backend.ReviewUpdate) error
	DeleteReview(ctx context.Context, attr identity.Attribution, id string) error
	ListWatchlist(ctx context.Context, attr identity.Attribution) ([]backend.WatchlistEntry, error)
	AddToWatchlist(ctx context.Context, attr identity.Attribution, r backend.Review) (string, error)
	RemoveFromWatchlist(ctx context.Context, attr identity.Attribution, id string) error
}

// Accounts manages the signed-in browsers of a user. It is optional.
type Accounts interface {
	ListSessions(ctx context.Context, userID string) ([]store.ProviderSession, error)
	RevokeOtherSessions(ctx context.Context, userID, keepClientID string) (int, error)
}

// Handler serves server-rendered HTML pages.
type Handler struct {
	reviews    Reviews
	accounts   Accounts
	templates  map[string]*template.Template
	signInWait time.Duration
	pageSize   int
	now        func() time.Time
}

type Option func(*Handler)

// WithAccounts enables the signed-in browsers section of the profile page.
func WithAccounts(a Accounts) Option {
	return func(h *Handler) { h.accounts = a }
}

// WithSignInWait bounds how long a sign-in waits for the provider to report
// the new user before giving up on the pending redirect.
func WithSignInWait(d time.Duration) Option {
	return func(h *Handler) { h.signInWait = d }
}

func NewHandler(reviews Reviews, opts ...Option) *Handler {
	h := &Handler{
		reviews:    reviews,
		templates:  templates,
		signInWait: 5 * time.Second,
		pageSize:   defaultPageSize,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// NotFound renders the error page for unknown routes.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	h.renderStatus(w, r, http.StatusNotFound, "error.html", h.page(r, "Page not found", map[string]any{
		"Message": "The page you are looking for does not exist.",
	}))
}

// Loading is the placeholder shown by guarded pages while the session is
// still resolving.
func (h *Handler) Loading(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "loading.html", h.page(r, "Loading", nil))
}

// page builds the template data shared by every page: the navigation bar
// needs the current user, which is only known once the session resolves.
func (h *Handler) page(r *http.Request, title string, data map[string]any) map[string]any {
	if data == nil {
		data = map[string]any{}
	}
	data["Title"] = title
	data["Path"] = r.URL.Path

	if s := session.FromContext(r.Context()); s != nil {
		st := s.Snapshot()
		data["Resolving"] = st.Resolving
		if st.SignedIn() {
			data["User"] = st.User
			data["DisplayName"] = identity.DisplayNameOf(st.User)
			data["Avatar"] = identity.AvatarOf(st.User)
		}
		data["FederationName"] = s.FederationName()
	}
	if _, ok := auth.UserFromContext(r.Context()); ok {
		data["Guarded"] = true
	}
	return h.withFlash(r, data)
}
