package httpserver

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"golang.org/x/time/rate"

	"gitea.jw6.us/james/gamereview/internal/config"
	"gitea.jw6.us/james/gamereview/internal/guard"
	"gitea.jw6.us/james/gamereview/internal/http/csrf"
	"gitea.jw6.us/james/gamereview/internal/http/ratelimit"
	"gitea.jw6.us/james/gamereview/internal/identity"
	"gitea.jw6.us/james/gamereview/internal/metrics"
	"gitea.jw6.us/james/gamereview/internal/session"
	"gitea.jw6.us/james/gamereview/internal/ui"
)

// guardResolveWait is how long a guarded request waits for a fresh session
// to resolve before the loading page is served.
const guardResolveWait = 2 * time.Second

// authPaths belong to the sign-in flow and keep the pending redirect.
var authPaths = []string{"/login", "/register", "/auth/", "/session/"}

// HealthChecker reports whether the database is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps are the collaborators the router wires together.
type Deps struct {
	Config   *config.Config
	Logger   zerolog.Logger
	Health   HealthChecker
	Sessions *session.Registry
	Clients  session.ClientIdentifier
	Pages    *ui.Handler
}

// NewRouter wires all HTTP routes.
func NewRouter(d Deps) http.Handler {
	cfg := d.Config
	r := chi.NewRouter()
	ips := ratelimit.NewClientIP(cfg.TrustedProxies)

	// Auth endpoints: 5 requests per second, burst of 10
	authRateLimiter := ratelimit.New(rate.Limit(5), 10, 5*time.Minute)

	r.Use(middleware.RequestID)
	r.Use(hlog.NewHandler(d.Logger))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	}))
	r.Use(middleware.Recoverer)
	r.Use(overrideMethod)
	r.Use(metrics.Middleware())

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := d.Health.HealthCheck(ctx); err != nil {
			http.Error(w, "unready", http.StatusServiceUnavailable)
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if cfg.PrometheusEnabled {
		r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
			metrics.Handler().ServeHTTP(w, r)
		})
	}

	r.Handle("/static/*", ui.Static())
	r.Get("/favicon.ico", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/static/favicon.svg", http.StatusMovedPermanently)
	})

	meta := func(r *http.Request) identity.ClientMeta {
		return identity.ClientMeta{UserAgent: r.UserAgent(), IPAddress: ips.Of(r)}
	}
	attach := session.Attach(d.Sessions, d.Clients, meta)
	pages := d.Pages

	r.Route("/api", func(r chi.Router) {
		if len(cfg.CORSAllowedOrigins) > 0 {
			r.Use(cors.Handler(cors.Options{
				AllowedOrigins:   cfg.CORSAllowedOrigins,
				AllowedMethods:   []string{http.MethodGet, http.MethodOptions},
				AllowedHeaders:   []string{"Accept", "Content-Type"},
				AllowCredentials: true,
				MaxAge:           300,
			}))
		}
		r.Use(httprate.Limit(60, time.Minute, httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return ips.Of(r), nil
		})))
		r.Use(attach)
		r.Get("/session", pages.SessionJSON)
	})

	r.Group(func(r chi.Router) {
		r.Use(attach)
		r.Use(csrf.Middleware(cfg.SecureCookies()))
		r.Use(session.DiscardPendingOn(authPaths...))

		r.Get("/", pages.Home)
		r.Get("/reviews", pages.Reviews)
		r.Get("/reviews/{id}", pages.ReviewDetail)
		r.Get("/session/events", pages.GuardEvents)

		r.Get("/login", pages.LoginPage)
		r.Get("/register", pages.RegisterPage)
		r.Group(func(r chi.Router) {
			r.Use(authRateLimiter.Middleware(ips))
			r.Post("/login", pages.Login)
			r.Post("/register", pages.Register)
			r.Get("/auth/google", pages.BeginFederated)
			r.Get(cfg.OAuth.RedirectPath, pages.FederatedCallback)
		})
		r.Post("/logout", pages.Logout)

		r.Group(func(r chi.Router) {
			r.Use(guard.New(guardResolveWait, http.HandlerFunc(pages.Loading)).Middleware)

			r.Get("/addreview", pages.AddReviewPage)
			r.Post("/addreview", pages.CreateReview)
			r.Get("/myreviews", pages.MyReviews)
			r.Get("/reviews/{id}/edit", pages.EditReviewPage)
			r.Put("/reviews/{id}", pages.UpdateReview)
			r.Delete("/reviews/{id}", pages.DeleteReview)
			r.Post("/reviews/{id}/delete", pages.DeleteReview) // HTML form fallback

			r.Get("/watchlist", pages.Watchlist)
			r.Post("/reviews/{id}/watchlist", pages.AddToWatchlist)
			r.Delete("/watchlist/{id}", pages.RemoveFromWatchlist)
			r.Post("/watchlist/{id}/delete", pages.RemoveFromWatchlist) // HTML form fallback

			r.Get("/profile", pages.Profile)
			r.Post("/profile", pages.UpdateProfile)
			r.Post("/profile/sessions/revoke", pages.RevokeOtherSessions)
		})

		// Unknown paths render with the session attached.
		r.NotFound(pages.NotFound)
	})

	return r
}

func overrideMethod(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := r.Method
		if r.Method == http.MethodPost {
			if m := strings.TrimSpace(r.PostFormValue("_method")); m != "" {
				method = m
			} else if m := strings.TrimSpace(r.URL.Query().Get("_method")); m != "" {
				method = m
			}
		}
		switch strings.ToUpper(method) {
		case http.MethodPut, http.MethodDelete:
			r.Method = strings.ToUpper(method)
		}
		next.ServeHTTP(w, r)
	})
}
