package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-envconfig"
)

// Prefix is prepended to every environment variable name.
const Prefix = "APP_"

type Config struct {
	ListenAddr string `env:"LISTEN_ADDR, default=:8080"`
	BaseURL    string `env:"BASE_URL, default=http://localhost:8080"`

	DB struct {
		DSN      string `env:"DSN"`
		Host     string `env:"HOST"`
		Name     string `env:"NAME"`
		User     string `env:"USER"`
		Password string `env:"PASSWORD"`
		Port     string `env:"PORT, default=5432"`
		SSLMode  string `env:"SSLMODE, default=disable"`
	} `env:", prefix=DB_"`

	OAuth struct {
		ProviderName string `env:"PROVIDER_NAME, default=Google"`
		IssuerURL    string `env:"ISSUER_URL"`
		ClientID     string `env:"CLIENT_ID"`
		ClientSecret string `env:"CLIENT_SECRET"`
		RedirectPath string `env:"REDIRECT_PATH, default=/auth/callback"`
	} `env:", prefix=OAUTH_"`

	Session struct {
		Secret    string        `env:"SECRET"`
		CacheSize int           `env:"CACHE_SIZE, default=10000"`
		IdleTTL   time.Duration `env:"IDLE_TTL, default=30m"`
	} `env:", prefix=SESSION_"`

	Backend struct {
		URL     string        `env:"URL, default=https://a10-backend-eight.vercel.app"`
		Timeout time.Duration `env:"TIMEOUT, default=10s"`
	} `env:", prefix=BACKEND_"`

	Log struct {
		Level  string `env:"LEVEL, default=info"`
		Format string `env:"FORMAT, default=console"`
	} `env:", prefix=LOG_"`

	PrometheusEnabled  bool     `env:"PROMETHEUS_ENDPOINT_ENABLED, default=false"`
	TrustedProxies     []string `env:"TRUSTED_PROXIES"`
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS"`
	OTLPEndpoint       string   `env:"OTLP_ENDPOINT"`
}

// Load reads the configuration from the process environment.
func Load(ctx context.Context) (*Config, error) {
	return LoadWith(ctx, envconfig.OsLookuper())
}

// LoadWith reads the configuration through lookuper, adding Prefix to every
// key, and validates the result.
func LoadWith(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   cfg,
		Lookuper: envconfig.PrefixLookuper(Prefix, lookuper),
	}); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}

	if cfg.DB.DSN == "" {
		var missing []string
		if cfg.DB.Host == "" {
			missing = append(missing, "APP_DB_HOST")
		}
		if cfg.DB.Name == "" {
			missing = append(missing, "APP_DB_NAME")
		}
		if cfg.DB.User == "" {
			missing = append(missing, "APP_DB_USER")
		}
		if cfg.DB.Password == "" {
			missing = append(missing, "APP_DB_PASSWORD")
		}

		if len(missing) == 0 {
			dsn := url.URL{
				Scheme:   "postgres",
				User:     url.UserPassword(cfg.DB.User, cfg.DB.Password),
				Host:     cfg.DB.Host + ":" + cfg.DB.Port,
				Path:     "/" + cfg.DB.Name,
				RawQuery: "sslmode=" + url.QueryEscape(cfg.DB.SSLMode),
			}
			cfg.DB.DSN = dsn.String()
		}
	}
	if cfg.DB.DSN == "" {
		return nil, errors.New("APP_DB_DSN is required (or set APP_DB_HOST, APP_DB_NAME, APP_DB_USER, and APP_DB_PASSWORD)")
	}

	if cfg.Session.Secret == "" {
		return nil, errors.New("APP_SESSION_SECRET is required")
	}
	if len(cfg.Session.Secret) < 32 {
		return nil, fmt.Errorf("APP_SESSION_SECRET must be at least 32 characters long (got %d)", len(cfg.Session.Secret))
	}
	if cfg.Session.CacheSize <= 0 {
		return nil, fmt.Errorf("APP_SESSION_CACHE_SIZE must be positive (got %d)", cfg.Session.CacheSize)
	}
	if cfg.Session.IdleTTL <= 0 {
		return nil, errors.New("APP_SESSION_IDLE_TTL must be positive")
	}

	oauthSet := 0
	for _, v := range []string{cfg.OAuth.IssuerURL, cfg.OAuth.ClientID, cfg.OAuth.ClientSecret} {
		if v != "" {
			oauthSet++
		}
	}
	if oauthSet != 0 && oauthSet != 3 {
		return nil, errors.New("federated sign-in needs APP_OAUTH_ISSUER_URL, APP_OAUTH_CLIENT_ID and APP_OAUTH_CLIENT_SECRET together")
	}
	if !strings.HasPrefix(cfg.OAuth.RedirectPath, "/") {
		return nil, fmt.Errorf("APP_OAUTH_REDIRECT_PATH must start with / (got %q)", cfg.OAuth.RedirectPath)
	}

	if base, err := url.Parse(cfg.Backend.URL); err != nil || base.Host == "" {
		return nil, fmt.Errorf("APP_BACKEND_URL is not an absolute URL: %q", cfg.Backend.URL)
	}
	cfg.Backend.URL = strings.TrimRight(cfg.Backend.URL, "/")
	if cfg.Backend.Timeout <= 0 {
		return nil, errors.New("APP_BACKEND_TIMEOUT must be positive")
	}

	if _, err := zerolog.ParseLevel(strings.ToLower(cfg.Log.Level)); err != nil {
		return nil, fmt.Errorf("APP_LOG_LEVEL: %w", err)
	}
	switch cfg.Log.Format {
	case "console", "json":
	default:
		return nil, fmt.Errorf("APP_LOG_FORMAT must be console or json (got %q)", cfg.Log.Format)
	}

	if len(cfg.TrustedProxies) == 0 {
		log.Warn().Msg("no APP_TRUSTED_PROXIES configured; forwarding headers from any client are trusted")
	}

	return cfg, nil
}

// FederationEnabled reports whether OAuth sign-in is configured.
func (c *Config) FederationEnabled() bool {
	return c.OAuth.IssuerURL != "" && c.OAuth.ClientID != "" && c.OAuth.ClientSecret != ""
}

// SecureCookies reports whether cookies should carry the Secure flag.
func (c *Config) SecureCookies() bool {
	base, err := url.Parse(c.BaseURL)
	return err != nil || base.Scheme == "https"
}

// OAuthRedirectURL is the absolute callback URL registered with the provider.
func (c *Config) OAuthRedirectURL() string {
	return strings.TrimRight(c.BaseURL, "/") + c.OAuth.RedirectPath
}

// LogLevel returns the configured zerolog level.
func (c *Config) LogLevel() zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(c.Log.Level))
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}
