package session

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"time"

	"gitea.jw6.us/james/gamereview/internal/identity"
)

// federatedAttemptTTL bounds how long a consent screen may stay open.
const federatedAttemptTTL = 10 * time.Minute

type federatedAttempt struct {
	state   string
	nonce   string
	started time.Time
}

// FederatedCallback carries the query parameters the federated provider
// sends back to the callback URL.
type FederatedCallback struct {
	State            string
	Code             string
	Error            string
	ErrorDescription string
}

var errFederationDisabled = identity.ProviderError("Federated sign-in is not configured", nil)

// BeginFederatedSignIn starts an interactive federated sign-in and returns
// the consent screen URL to send the browser to. Starting again replaces any
// unfinished attempt.
func (s *Store) BeginFederatedSignIn() (string, error) {
	if s.federation == nil {
		return "", errFederationDisabled
	}
	state, err := randomToken()
	if err != nil {
		return "", identity.ProviderError("Could not start federated sign-in", err)
	}
	nonce, err := randomToken()
	if err != nil {
		return "", identity.ProviderError("Could not start federated sign-in", err)
	}

	s.mu.Lock()
	s.attempt = &federatedAttempt{state: state, nonce: nonce, started: s.now()}
	s.mu.Unlock()

	return s.federation.AuthCodeURL(state, nonce), nil
}

// SignInWithFederatedProvider completes the attempt started by
// BeginFederatedSignIn. A dismissed consent screen yields
// identity.ErrUserCancelled. Like password sign-in, the current user changes
// only when the provider's notification arrives.
func (s *Store) SignInWithFederatedProvider(ctx context.Context, cb FederatedCallback) error {
	if s.federation == nil {
		return errFederationDisabled
	}

	s.mu.Lock()
	attempt := s.attempt
	s.attempt = nil
	s.mu.Unlock()

	switch cb.Error {
	case "":
	case "access_denied":
		return identity.ErrUserCancelled
	default:
		msg := cb.ErrorDescription
		if msg == "" {
			msg = "Federated sign-in failed: " + cb.Error
		}
		return identity.ProviderError(msg, nil)
	}

	if attempt == nil || s.now().Sub(attempt.started) > federatedAttemptTTL ||
		subtle.ConstantTimeCompare([]byte(attempt.state), []byte(cb.State)) != 1 {
		return identity.ProviderError("Sign-in response did not match the request", nil)
	}
	if cb.Code == "" {
		return identity.ProviderError("Sign-in response had no authorization code", nil)
	}

	profile, err := s.federation.Exchange(ctx, cb.Code, attempt.nonce)
	if err != nil {
		return authError(err)
	}
	return authError(s.client.SignInWithFederated(ctx, *profile))
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
