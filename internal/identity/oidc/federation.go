// Package oidc implements federated sign-in through an OpenID Connect issuer.
package oidc

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"

	"gitea.jw6.us/james/gamereview/internal/identity"
)

// Config describes an OIDC client registration.
type Config struct {
	Name         string
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

type profileClaims struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

type verifiedToken struct {
	Nonce  string
	Claims profileClaims
}

type verifyFunc func(ctx context.Context, rawIDToken string) (*verifiedToken, error)

// Federation implements identity.Federation.
type Federation struct {
	name   string
	oauth  oauth2.Config
	verify verifyFunc
	client *http.Client
}

var _ identity.Federation = (*Federation)(nil)

// New discovers the issuer configuration and returns a ready Federation.
func New(ctx context.Context, cfg Config) (*Federation, error) {
	client := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	provider, err := gooidc.NewProvider(gooidc.ClientContext(ctx, client), cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("discover oidc issuer %s: %w", cfg.IssuerURL, err)
	}
	verifier := provider.Verifier(&gooidc.Config{ClientID: cfg.ClientID})

	verify := func(ctx context.Context, raw string) (*verifiedToken, error) {
		tok, err := verifier.Verify(gooidc.ClientContext(ctx, client), raw)
		if err != nil {
			return nil, err
		}
		var claims profileClaims
		if err := tok.Claims(&claims); err != nil {
			return nil, fmt.Errorf("decode claims: %w", err)
		}
		return &verifiedToken{Nonce: tok.Nonce, Claims: claims}, nil
	}
	return newFederation(cfg, provider.Endpoint(), verify, client), nil
}

func newFederation(cfg Config, endpoint oauth2.Endpoint, verify verifyFunc, client *http.Client) *Federation {
	name := cfg.Name
	if name == "" {
		name = "OpenID"
	}
	return &Federation{
		name: name,
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{gooidc.ScopeOpenID, "profile", "email"},
		},
		verify: verify,
		client: client,
	}
}

// Name is the provider label shown on the sign-in button.
func (f *Federation) Name() string { return f.name }

// AuthCodeURL returns the consent screen URL for one sign-in attempt.
func (f *Federation) AuthCodeURL(state, nonce string) string {
	return f.oauth.AuthCodeURL(state, gooidc.Nonce(nonce))
}

// Exchange trades an authorization code for the verified user profile. The
// ID token must carry nonce.
func (f *Federation) Exchange(ctx context.Context, code, nonce string) (*identity.FederatedProfile, error) {
	if f.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, f.client)
	}
	token, err := f.oauth.Exchange(ctx, code)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.ErrorCode == "access_denied" {
			return nil, identity.ErrUserCancelled
		}
		return nil, identity.ProviderError("Could not complete sign-in", err)
	}

	raw, ok := token.Extra("id_token").(string)
	if !ok || raw == "" {
		return nil, identity.ProviderError("Sign-in response had no ID token", nil)
	}
	verified, err := f.verify(ctx, raw)
	if err != nil {
		return nil, identity.ProviderError("Could not verify sign-in", err)
	}
	if verified.Nonce != nonce {
		return nil, identity.ProviderError("Sign-in response did not match the request", nil)
	}

	c := verified.Claims
	return &identity.FederatedProfile{
		Subject:       c.Subject,
		Email:         c.Email,
		EmailVerified: c.EmailVerified,
		Name:          c.Name,
		Picture:       c.Picture,
	}, nil
}
