// Package identity defines the contract between the application and the
// identity provider that owns user credentials and sign-in state.
package identity

import (
	"context"
	"time"
)

// Identity is the signed-in user as reported by the identity provider.
type Identity struct {
	ID            string
	DisplayName   string
	Email         string
	PhotoURL      string
	EmailVerified bool
	CreatedAt     time.Time
	LastLoginAt   time.Time
}

// Clone returns a copy that callers may hold without sharing the original.
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	c := *i
	return &c
}

// Notification is a single sign-in state change emitted by a provider.
type Notification struct {
	Present bool
	User    *Identity
}

// SignedIn builds a notification reporting u as the current user.
func SignedIn(u *Identity) Notification {
	if u == nil {
		return SignedOut()
	}
	return Notification{Present: true, User: u.Clone()}
}

// SignedOut builds a notification reporting no current user.
func SignedOut() Notification {
	return Notification{}
}

// FederatedProfile is the verified profile returned by a federated sign-in.
type FederatedProfile struct {
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	Picture       string
}

// ClientMeta describes the browser a Client acts for.
type ClientMeta struct {
	UserAgent string
	IPAddress string
}

// Client is the identity provider as seen by one browser session.
//
// OnAuthStateChanged delivers the current state once shortly after the
// subscription is registered and then every subsequent change, in the order
// the changes happened. Returned errors are *AuthError values.
type Client interface {
	CreateUser(ctx context.Context, email, password string) (*Identity, error)
	SignInWithPassword(ctx context.Context, email, password string) error
	SignInWithFederated(ctx context.Context, profile FederatedProfile) error
	SignOut(ctx context.Context) error
	UpdateProfile(ctx context.Context, displayName, photoURL string) error
	OnAuthStateChanged(fn func(Notification)) (unsubscribe func())
}

// Provider hands out per-browser clients.
type Provider interface {
	Client(clientID string, meta ClientMeta) Client
}

// Federation is an interactive third-party sign-in flow.
type Federation interface {
	Name() string
	AuthCodeURL(state, nonce string) string
	Exchange(ctx context.Context, code, nonce string) (*FederatedProfile, error)
}

// Attribution stamps a write request with the acting user.
type Attribution struct {
	Email       string
	DisplayName string
}

// IsZero reports whether no user is attached.
func (a Attribution) IsZero() bool {
	return a.Email == ""
}

// AttributionOf returns the attribution for u, or ErrNotSignedIn.
func AttributionOf(u *Identity) (Attribution, error) {
	if u == nil || u.Email == "" {
		return Attribution{}, ErrNotSignedIn
	}
	return Attribution{Email: u.Email, DisplayName: DisplayNameOf(u)}, nil
}
