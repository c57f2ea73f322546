package session

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	httperrors "gitea.jw6.us/james/gamereview/internal/http/errors"
	"gitea.jw6.us/james/gamereview/internal/identity"
)

type contextKey struct{}

// WithStore returns a context carrying s.
func WithStore(ctx context.Context, s *Store) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// FromContext returns the Store attached by Attach, or nil.
func FromContext(ctx context.Context) *Store {
	s, _ := ctx.Value(contextKey{}).(*Store)
	return s
}

// ClientIdentifier returns the browser client id of a request, issuing one
// when the request carries none.
type ClientIdentifier interface {
	ClientID(w http.ResponseWriter, r *http.Request) (string, error)
}

// Attach puts the requesting browser's Store on the request context.
func Attach(reg *Registry, ids ClientIdentifier, meta func(*http.Request) identity.ClientMeta) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID, err := ids.ClientID(w, r)
			if err != nil {
				httperrors.InternalError(w, r, err, "issue client id")
				return
			}
			s := reg.Get(clientID, meta(r))
			next.ServeHTTP(w, r.WithContext(WithStore(r.Context(), s)))
		})
	}
}

// DiscardPendingOn drops the pending redirect when the browser navigates to
// a routed page outside the sign-in flow. authPrefixes lists the paths that
// belong to the flow. Requests the browser makes on its own, such as favicon
// and asset fetches, and paths no route matched keep the pending redirect.
// It must run inside a chi router, after routing.
func DiscardPendingOn(authPrefixes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s := FromContext(r.Context()); s != nil && r.Method == http.MethodGet &&
				isNavigation(r) && routed(r) && !hasAnyPrefix(r.URL.Path, authPrefixes) {
				s.DiscardPendingRedirect()
			}
			next.ServeHTTP(w, r)
		})
	}
}

// isNavigation reports whether r is a top-level page load. Sec-Fetch-Mode is
// authoritative when present; older browsers are judged by Accept.
func isNavigation(r *http.Request) bool {
	if mode := r.Header.Get("Sec-Fetch-Mode"); mode != "" {
		return mode == "navigate"
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

func routed(r *http.Request) bool {
	rctx := chi.RouteContext(r.Context())
	return rctx != nil && rctx.RoutePattern() != ""
}

func hasAnyPrefix(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if path == p || strings.HasPrefix(path, strings.TrimSuffix(p, "/")+"/") {
			return true
		}
	}
	return false
}
