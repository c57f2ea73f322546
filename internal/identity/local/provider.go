// Package local is an identity provider backed by the application database.
// Accounts live in the users table; the signed-in state of every browser
// client lives in provider_sessions so it survives restarts.
package local

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"gitea.jw6.us/james/gamereview/internal/http/ratelimit"
	"gitea.jw6.us/james/gamereview/internal/identity"
	"gitea.jw6.us/james/gamereview/internal/store"
)

const resolveTimeout = 5 * time.Second

// Provider implements identity.Provider on top of the store repositories.
type Provider struct {
	users    store.UserRepository
	sessions store.SessionRepository
	limiter  *ratelimit.Limiter
	hub      *hub
	hashCost int
	logger   zerolog.Logger
}

// Option configures a Provider.
type Option func(*Provider)

// WithLimiter replaces the per-email sign-in limiter.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(p *Provider) { p.limiter = l }
}

// WithHashCost sets the bcrypt cost for new passwords.
func WithHashCost(cost int) Option {
	return func(p *Provider) { p.hashCost = cost }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(p *Provider) { p.logger = logger }
}

// New creates a Provider. By default each email may attempt five sign-ins
// per minute.
func New(users store.UserRepository, sessions store.SessionRepository, opts ...Option) *Provider {
	p := &Provider{
		users:    users,
		sessions: sessions,
		hub:      newHub(),
		hashCost: bcrypt.DefaultCost,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.limiter == nil {
		p.limiter = ratelimit.New(rate.Every(12*time.Second), 5, 10*time.Minute)
	}
	return p
}

// Client returns the provider as seen by one browser client.
func (p *Provider) Client(clientID string, meta identity.ClientMeta) identity.Client {
	return &client{p: p, id: clientID, meta: meta}
}

// Close stops notification delivery and background work.
func (p *Provider) Close() {
	p.hub.close()
	p.limiter.Stop()
}

// ListSessions returns the browser clients signed in as userID, most
// recently active first.
func (p *Provider) ListSessions(ctx context.Context, userID string) ([]store.ProviderSession, error) {
	id, err := parseUserID(userID)
	if err != nil {
		return nil, err
	}
	sessions, err := p.sessions.ListByUser(ctx, id)
	if err != nil {
		return nil, identity.ProviderError("Could not list sessions", err)
	}
	return sessions, nil
}

// RevokeOtherSessions signs userID out of every client except keepClientID
// and notifies the affected clients. It returns how many were signed out.
func (p *Provider) RevokeOtherSessions(ctx context.Context, userID, keepClientID string) (int, error) {
	id, err := parseUserID(userID)
	if err != nil {
		return 0, err
	}
	revoked, err := p.sessions.DeleteByUserExcept(ctx, id, keepClientID)
	if err != nil {
		return 0, identity.ProviderError("Could not sign out other sessions", err)
	}
	for _, clientID := range revoked {
		p.hub.publish(clientID, identity.SignedOut())
	}
	p.logger.Info().Str("user_id", userID).Int("revoked", len(revoked)).Msg("signed out other sessions")
	return len(revoked), nil
}

// notifyProfile republishes userID's identity to its signed-in clients other
// than exceptClientID. The profile write has already succeeded, so lookup
// failures are logged rather than returned.
func (p *Provider) notifyProfile(ctx context.Context, userID int64, exceptClientID string) {
	user, err := p.users.GetByID(ctx, userID)
	if err != nil {
		p.logger.Warn().Err(err).Int64("user_id", userID).Msg("reload profile for notification")
		return
	}
	sessions, err := p.sessions.ListByUser(ctx, userID)
	if err != nil {
		p.logger.Warn().Err(err).Int64("user_id", userID).Msg("list sessions for profile notification")
		return
	}
	n := identity.SignedIn(toIdentity(user))
	for _, sess := range sessions {
		if sess.ClientID != exceptClientID {
			p.hub.publish(sess.ClientID, n)
		}
	}
}

func parseUserID(userID string) (int64, error) {
	id, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return 0, identity.ErrNotSignedIn
	}
	return id, nil
}

// resolve loads the persisted state of clientID. Lookup failures resolve to
// signed out so the client never stays unresolved.
func (p *Provider) resolve(clientID string) identity.Notification {
	ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
	defer cancel()

	user, err := p.currentUser(ctx, clientID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			p.logger.Warn().Err(err).Str("client_id", clientID).Msg("resolve session state")
		}
		return identity.SignedOut()
	}
	return identity.SignedIn(toIdentity(user))
}

func (p *Provider) currentUser(ctx context.Context, clientID string) (*store.User, error) {
	sess, err := p.sessions.Get(ctx, clientID)
	if err != nil {
		return nil, err
	}
	return p.users.GetByID(ctx, sess.UserID)
}

// startSession records clientID as signed in as user and notifies its
// subscribers.
func (p *Provider) startSession(ctx context.Context, clientID string, meta identity.ClientMeta, user *store.User) error {
	sess := store.ProviderSession{
		ClientID:  clientID,
		UserID:    user.ID,
		UserAgent: optional(meta.UserAgent),
		IPAddress: optional(meta.IPAddress),
	}
	if err := p.sessions.Upsert(ctx, sess); err != nil {
		return identity.ProviderError("Could not start session", err)
	}
	p.hub.publish(clientID, identity.SignedIn(toIdentity(user)))
	return nil
}

func toIdentity(u *store.User) *identity.Identity {
	return &identity.Identity{
		ID:            strconv.FormatInt(u.ID, 10),
		DisplayName:   u.DisplayName,
		Email:         u.Email,
		PhotoURL:      u.PhotoURL,
		EmailVerified: u.EmailVerified,
		CreatedAt:     u.CreatedAt,
		LastLoginAt:   u.LastLoginAt,
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
