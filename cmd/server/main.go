package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	appauth "gitea.jw6.us/james/gamereview/internal/auth"
	"gitea.jw6.us/james/gamereview/internal/backend"
	"gitea.jw6.us/james/gamereview/internal/config"
	httpserver "gitea.jw6.us/james/gamereview/internal/http"
	"gitea.jw6.us/james/gamereview/internal/identity"
	"gitea.jw6.us/james/gamereview/internal/identity/local"
	"gitea.jw6.us/james/gamereview/internal/identity/oidc"
	"gitea.jw6.us/james/gamereview/internal/session"
	"gitea.jw6.us/james/gamereview/internal/store"
	"gitea.jw6.us/james/gamereview/internal/telemetry"
	"gitea.jw6.us/james/gamereview/internal/ui"
)

const serviceName = "gamereview"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if cfg.Log.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	zerolog.SetGlobalLevel(cfg.LogLevel())
	log.Info().Msg("starting GameReview server")

	shutdownTracing, err := telemetry.Init(ctx, serviceName, cfg.OTLPEndpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("init otel")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown otel")
		}
	}()

	pool, err := pgxpool.New(ctx, cfg.DB.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("create db pool")
	}
	defer pool.Close()

	if err := store.ApplyMigrations(log.Logger.WithContext(ctx), pool); err != nil {
		log.Fatal().Err(err).Msg("apply migrations")
	}

	stor := store.New(pool)
	provider := local.New(stor.Users, stor.Sessions, local.WithLogger(log.Logger))
	defer provider.Close()

	var federation identity.Federation
	if cfg.FederationEnabled() {
		f, err := oidc.New(ctx, oidc.Config{
			Name:         cfg.OAuth.ProviderName,
			IssuerURL:    cfg.OAuth.IssuerURL,
			ClientID:     cfg.OAuth.ClientID,
			ClientSecret: cfg.OAuth.ClientSecret,
			RedirectURL:  cfg.OAuthRedirectURL(),
		})
		if err != nil {
			log.Fatal().Err(err).Msg("init federated sign-in")
		}
		federation = f
		log.Info().Str("provider", f.Name()).Msg("federated sign-in enabled")
	}

	sessions := session.NewRegistry(cfg.Session.CacheSize, cfg.Session.IdleTTL, func(clientID string, meta identity.ClientMeta) *session.Store {
		opts := []session.Option{session.WithClientID(clientID), session.WithLogger(log.Logger)}
		if federation != nil {
			opts = append(opts, session.WithFederation(federation))
		}
		return session.New(provider.Client(clientID, meta), opts...)
	})
	defer sessions.Close()

	reviews, err := backend.New(cfg.Backend.URL, cfg.Backend.Timeout, backend.WithLogger(log.Logger))
	if err != nil {
		log.Fatal().Err(err).Msg("init review service client")
	}

	r := httpserver.NewRouter(httpserver.Deps{
		Config:   cfg,
		Logger:   log.Logger,
		Health:   stor,
		Sessions: sessions,
		Clients:  appauth.NewSessionManager(cfg),
		Pages:    ui.NewHandler(reviews, ui.WithAccounts(provider)),
	})

	// Cancelled on shutdown so open event streams end.
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// No write timeout: guard event streams stay open while a page is shown.
		IdleTimeout: 60 * time.Second,
	}

	srv.RegisterOnShutdown(cancelBase)

	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
