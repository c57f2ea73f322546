// Package session keeps the sign-in state of one browser session and
// republishes the identity provider's change notifications to its consumers.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"gitea.jw6.us/james/gamereview/internal/identity"
	"gitea.jw6.us/james/gamereview/internal/metrics"
)

// ErrClosed is returned by waits on a Store that has been closed.
var ErrClosed = errors.New("session store closed")

// Store is the single authority on who is signed in for one browser
// session. Only provider notifications, and the call-confirmed results of
// Register and UpdateProfile, write its state.
type Store struct {
	client     identity.Client
	federation identity.Federation
	clientID   string
	logger     zerolog.Logger
	now        func() time.Time

	// deliverMu serializes commits end to end, subscriber fan-out included.
	deliverMu sync.Mutex

	mu        sync.Mutex
	resolving bool
	user      *identity.Identity
	changed   chan struct{}
	subs      map[uint64]func(State)
	subOrder  []uint64
	nextSub   uint64
	pending   *PendingRedirect
	attempt   *federatedAttempt
	closed    bool

	unsubscribe func()
	closeOnce   sync.Once
}

// Option configures a Store.
type Option func(*Store)

// WithClientID records the browser client id the store serves.
func WithClientID(id string) Option {
	return func(s *Store) { s.clientID = id }
}

// WithFederation enables federated sign-in through f.
func WithFederation(f identity.Federation) Option {
	return func(s *Store) { s.federation = f }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New creates a Store in the resolving state and subscribes to client's
// notifications. Close releases the subscription.
func New(client identity.Client, opts ...Option) *Store {
	s := &Store{
		client:    client,
		logger:    zerolog.Nop(),
		now:       time.Now,
		resolving: true,
		changed:   make(chan struct{}),
		subs:      make(map[uint64]func(State)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.unsubscribe = client.OnAuthStateChanged(s.apply)
	return s
}

// apply records one provider notification and fans it out to subscribers.
// The provider calls it sequentially, in emission order.
func (s *Store) apply(n identity.Notification) {
	s.commit(func() bool {
		s.resolving = false
		if n.Present && n.User != nil {
			s.user = n.User.Clone()
		} else {
			s.user = nil
		}
		label := "signed_out"
		if s.user != nil {
			label = "signed_in"
		}
		metrics.ObserveSessionNotification(label)
		s.logger.Debug().Str("client_id", s.clientID).Str("state", label).Msg("session notification")
		return true
	})
}

// commit runs write under s.mu and, when write reports a change, wakes
// waiters and calls every subscriber with the resulting state. Commits from
// provider notifications, Register and UpdateProfile never interleave, so
// subscribers observe states in the order they were written.
func (s *Store) commit(write func() bool) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	if s.closed || !write() {
		s.mu.Unlock()
		return
	}
	close(s.changed)
	s.changed = make(chan struct{})
	subs := make([]func(State), 0, len(s.subOrder))
	for _, id := range s.subOrder {
		subs = append(subs, s.subs[id])
	}
	state := s.snapshotLocked()
	s.mu.Unlock()

	for _, fn := range subs {
		fn(state)
	}
}

func (s *Store) snapshotLocked() State {
	return State{Resolving: s.resolving, User: s.user.Clone()}
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// ClientID returns the browser client id the store serves.
func (s *Store) ClientID() string { return s.clientID }

// FederationName returns the federated provider label, or "" when federated
// sign-in is not available.
func (s *Store) FederationName() string {
	if s.federation == nil {
		return ""
	}
	return s.federation.Name()
}

// Subscribe calls fn after every applied change, one call at a time and in
// the order the changes were applied. fn runs on the goroutine that made the
// change, which is the provider's delivery goroutine or a caller of Register
// or UpdateProfile. It must not block for long, and must not call Register
// or UpdateProfile itself.
func (s *Store) Subscribe(fn func(State)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return func() {}
	}
	s.nextSub++
	id := s.nextSub
	s.subs[id] = fn
	s.subOrder = append(s.subOrder, id)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
			for i, sid := range s.subOrder {
				if sid == id {
					s.subOrder = append(s.subOrder[:i], s.subOrder[i+1:]...)
					break
				}
			}
		})
	}
}

// WaitFor blocks until pred holds for the current state, ctx ends, or the
// store is closed. It returns the last observed state.
func (s *Store) WaitFor(ctx context.Context, pred func(State) bool) (State, error) {
	for {
		s.mu.Lock()
		state, changed, closed := s.snapshotLocked(), s.changed, s.closed
		s.mu.Unlock()

		if pred(state) {
			return state, nil
		}
		if closed {
			return state, ErrClosed
		}
		select {
		case <-ctx.Done():
			return state, ctx.Err()
		case <-changed:
		}
	}
}

// WaitResolved blocks until the first provider notification has been applied.
func (s *Store) WaitResolved(ctx context.Context) (State, error) {
	return s.WaitFor(ctx, func(st State) bool { return !st.Resolving })
}

// WaitForUser blocks until the notification stream reports a signed-in user.
func (s *Store) WaitForUser(ctx context.Context) (*identity.Identity, error) {
	state, err := s.WaitFor(ctx, State.SignedIn)
	if err != nil {
		return nil, err
	}
	return state.User, nil
}

// Register creates an account. On success the new identity becomes the
// current user before Register returns, without waiting for a notification.
// Registration waits for the store to resolve so the optimistic update never
// lands during resolution.
func (s *Store) Register(ctx context.Context, email, password string) (*identity.Identity, error) {
	if _, err := s.WaitResolved(ctx); err != nil {
		return nil, authError(err)
	}
	user, err := s.client.CreateUser(ctx, email, password)
	if err != nil {
		return nil, authError(err)
	}

	s.commit(func() bool {
		s.user = user.Clone()
		return true
	})
	return user.Clone(), nil
}

// UpdateProfile changes the signed-in user's display name and photo. It
// fails with identity.ErrNotSignedIn, without contacting the provider, when
// no user is signed in. On success the new fields are merged into the
// current user.
func (s *Store) UpdateProfile(ctx context.Context, displayName, photoURL string) error {
	current := s.Snapshot().User
	if current == nil {
		return identity.ErrNotSignedIn
	}
	if err := s.client.UpdateProfile(ctx, displayName, photoURL); err != nil {
		return authError(err)
	}

	s.commit(func() bool {
		if s.user == nil || s.user.ID != current.ID {
			return false
		}
		s.user.DisplayName = displayName
		s.user.PhotoURL = photoURL
		return true
	})
	return nil
}

// SignInWithPassword asks the provider to sign in. The current user changes
// only when the provider's notification arrives; use WaitForUser to observe it.
func (s *Store) SignInWithPassword(ctx context.Context, email, password string) error {
	return authError(s.client.SignInWithPassword(ctx, email, password))
}

// SignOut asks the provider to sign out. The current user is cleared by the
// confirming notification. Signing out while already signed out succeeds
// without contacting the provider.
func (s *Store) SignOut(ctx context.Context) error {
	if st := s.Snapshot(); !st.Resolving && st.User == nil {
		return nil
	}
	return authError(s.client.SignOut(ctx))
}

// Attribution returns the acting user for a write, checked against the
// latest known state. A sign-out whose notification has not landed yet is
// not seen.
func (s *Store) Attribution() (identity.Attribution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return identity.AttributionOf(s.user)
}

// SetPendingRedirect remembers target for the next sign-in. Non-local
// targets clear any pending redirect instead.
func (s *Store) SetPendingRedirect(target string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !IsLocalPath(target) {
		s.pending = nil
		return
	}
	s.pending = &PendingRedirect{TargetPath: target}
}

// TakePendingRedirect consumes the pending redirect.
func (s *Store) TakePendingRedirect() (PendingRedirect, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return PendingRedirect{}, false
	}
	p := *s.pending
	s.pending = nil
	return p, true
}

// PeekPendingRedirect returns the pending redirect without consuming it.
func (s *Store) PeekPendingRedirect() (PendingRedirect, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return PendingRedirect{}, false
	}
	return *s.pending, true
}

// DiscardPendingRedirect drops the pending redirect, if any.
func (s *Store) DiscardPendingRedirect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
}

// Close releases the provider subscription exactly once and wakes waiters.
// Notifications arriving afterwards are ignored.
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		if s.unsubscribe != nil {
			s.unsubscribe()
		}
		s.mu.Lock()
		s.closed = true
		close(s.changed)
		s.changed = make(chan struct{})
		s.subs = map[uint64]func(State){}
		s.subOrder = nil
		s.mu.Unlock()
	})
}

// authError converts provider failures into *identity.AuthError values while
// keeping a nil error nil.
func authError(err error) error {
	if err == nil {
		return nil
	}
	return identity.AsAuthError(err)
}
