// Package guard gates protected pages on the session's resolved state.
package guard

import (
	"context"
	"errors"
	"net/http"
	"time"

	"gitea.jw6.us/james/gamereview/internal/auth"
	httperrors "gitea.jw6.us/james/gamereview/internal/http/errors"
	"gitea.jw6.us/james/gamereview/internal/metrics"
	"gitea.jw6.us/james/gamereview/internal/session"
)

// SignInPath is where signed-out visitors are sent.
const SignInPath = "/login"

// Outcome is what the guard does with a request.
type Outcome int

const (
	// Loading renders a neutral placeholder; neither content nor redirect.
	Loading Outcome = iota
	Allow
	Redirect
)

func (o Outcome) String() string {
	switch o {
	case Allow:
		return "allow"
	case Redirect:
		return "redirect"
	default:
		return "loading"
	}
}

// Decision is the result of evaluating a session state for a path. Location
// and Target are set for Redirect only.
type Decision struct {
	Outcome  Outcome
	Location string
	Target   string
}

// Evaluate decides what a guard on path shows for state. While the state is
// resolving the answer is Loading whatever user the state carries.
func Evaluate(state session.State, path string) Decision {
	switch state.Phase() {
	case session.PhaseSignedIn:
		return Decision{Outcome: Allow}
	case session.PhaseSignedOut:
		return Decision{Outcome: Redirect, Location: SignInPath, Target: path}
	default:
		return Decision{Outcome: Loading}
	}
}

// Guard is HTTP middleware for protected routes.
type Guard struct {
	// ResolveWait is how long a request may wait for an unresolved session
	// before the loading placeholder is served.
	ResolveWait time.Duration
	// Loading renders the placeholder. DefaultLoading is used when nil.
	Loading http.Handler
}

// New returns a Guard that waits up to resolveWait for resolution.
func New(resolveWait time.Duration, loading http.Handler) *Guard {
	return &Guard{ResolveWait: resolveWait, Loading: loading}
}

// Middleware applies the guard to next. Allowed requests carry the signed-in
// identity on their context (auth.UserFromContext). Redirects answer 303 so
// the guarded URL does not stay in the history as a POST target, and record
// the pending redirect only for GET and HEAD requests. Other methods that
// arrive while the session is still resolving are answered 503 so the
// client can retry with its body instead of following the loading page.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := session.FromContext(r.Context())
		if s == nil {
			httperrors.InternalError(w, r, errors.New("no session store on request"), "access guard")
			return
		}

		state := s.Snapshot()
		if state.Resolving && g.ResolveWait > 0 {
			ctx, cancel := context.WithTimeout(r.Context(), g.ResolveWait)
			state, _ = s.WaitResolved(ctx)
			cancel()
		}

		d := Evaluate(state, r.URL.RequestURI())
		metrics.ObserveGuardDecision(d.Outcome.String())

		switch d.Outcome {
		case Allow:
			next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), state.User)))
		case Redirect:
			if r.Method == http.MethodGet || r.Method == http.MethodHead {
				s.SetPendingRedirect(d.Target)
			}
			w.Header().Set("Cache-Control", "no-store")
			http.Redirect(w, r, d.Location, http.StatusSeeOther)
		default:
			w.Header().Set("Cache-Control", "no-store")
			w.Header().Set("Retry-After", "1")
			if r.Method != http.MethodGet && r.Method != http.MethodHead {
				http.Error(w, "Session is still loading, retry shortly", http.StatusServiceUnavailable)
				return
			}
			loading := g.Loading
			if loading == nil {
				loading = DefaultLoading
			}
			loading.ServeHTTP(w, r)
		}
	})
}

// DefaultLoading is a bare placeholder page that reloads itself.
var DefaultLoading http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`<!doctype html><html><head><meta charset="utf-8"><meta http-equiv="refresh" content="1"><title>Loading</title></head><body><p class="loading">Loading…</p></body></html>`))
})
