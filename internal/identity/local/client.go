package local

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"gitea.jw6.us/james/gamereview/internal/identity"
	"gitea.jw6.us/james/gamereview/internal/store"
)

// client is a Provider bound to one browser client id.
type client struct {
	p    *Provider
	id   string
	meta identity.ClientMeta
}

// CreateUser creates a password account and signs this client in as it.
func (c *client) CreateUser(ctx context.Context, email, password string) (*identity.Identity, error) {
	if err := identity.CheckEmail(email); err != nil {
		return nil, err
	}
	if err := identity.CheckPassword(password); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), c.p.hashCost)
	if err != nil {
		return nil, identity.ProviderError("Could not create account", err)
	}
	encoded := string(hash)

	user, err := c.p.users.Create(ctx, store.User{
		Email:        strings.TrimSpace(email),
		PasswordHash: &encoded,
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, identity.ErrEmailInUse
		}
		return nil, identity.ProviderError("Could not create account", err)
	}

	if err := c.p.startSession(ctx, c.id, c.meta, user); err != nil {
		return nil, err
	}
	c.p.logger.Info().Int64("user_id", user.ID).Msg("account created")
	return toIdentity(user), nil
}

func (c *client) SignInWithPassword(ctx context.Context, email, password string) error {
	if err := identity.CheckEmail(email); err != nil {
		return err
	}
	if !c.p.limiter.Allow(identity.NormalizeEmail(email)) {
		return identity.ErrRateLimited
	}

	user, err := c.p.users.GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return identity.ErrUserNotFound
		}
		return identity.ProviderError("Could not sign in", err)
	}
	if user.PasswordHash == nil {
		return identity.NewError(identity.KindInvalidCredentials, "This account signs in with a federated provider", nil)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(*user.PasswordHash), []byte(password)); err != nil {
		return identity.ErrInvalidCredentials
	}

	return c.signedIn(ctx, user)
}

// SignInWithFederated signs in the account linked to profile.Subject,
// linking or creating one by verified email when none is linked yet.
func (c *client) SignInWithFederated(ctx context.Context, profile identity.FederatedProfile) error {
	if profile.Subject == "" {
		return identity.ProviderError("Federated profile has no subject", nil)
	}

	user, err := c.p.users.GetBySubject(ctx, profile.Subject)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		user, err = c.linkOrCreate(ctx, profile)
		if err != nil {
			return err
		}
	default:
		return identity.ProviderError("Could not sign in", err)
	}

	return c.signedIn(ctx, user)
}

func (c *client) linkOrCreate(ctx context.Context, profile identity.FederatedProfile) (*store.User, error) {
	if err := identity.CheckEmail(profile.Email); err != nil {
		return nil, err
	}

	existing, err := c.p.users.GetByEmail(ctx, profile.Email)
	switch {
	case err == nil:
		if !profile.EmailVerified {
			return nil, identity.ErrEmailInUse
		}
		if err := c.p.users.LinkSubject(ctx, existing.ID, profile.Subject); err != nil {
			return nil, identity.ProviderError("Could not link account", err)
		}
		return existing, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, identity.ProviderError("Could not sign in", err)
	}

	photo := ""
	if identity.ValidPhotoURL(profile.Picture) {
		photo = profile.Picture
	}
	subject := profile.Subject
	created, err := c.p.users.Create(ctx, store.User{
		Email:         strings.TrimSpace(profile.Email),
		DisplayName:   strings.TrimSpace(profile.Name),
		PhotoURL:      photo,
		EmailVerified: profile.EmailVerified,
		OIDCSubject:   &subject,
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, identity.ErrEmailInUse
		}
		return nil, identity.ProviderError("Could not create account", err)
	}
	return created, nil
}

func (c *client) signedIn(ctx context.Context, user *store.User) error {
	touched, err := c.p.users.TouchLastLogin(ctx, user.ID)
	if err != nil {
		return identity.ProviderError("Could not sign in", err)
	}
	return c.p.startSession(ctx, c.id, c.meta, touched)
}

func (c *client) SignOut(ctx context.Context) error {
	if err := c.p.sessions.Delete(ctx, c.id); err != nil {
		return identity.ProviderError("Could not sign out", err)
	}
	c.p.hub.publish(c.id, identity.SignedOut())
	return nil
}

// UpdateProfile changes the profile of the signed-in account. The caller
// merges the change itself; every other client signed in as the same user
// is notified with the refreshed identity.
func (c *client) UpdateProfile(ctx context.Context, displayName, photoURL string) error {
	sess, err := c.p.sessions.Get(ctx, c.id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return identity.ErrNotSignedIn
		}
		return identity.ProviderError("Could not update profile", err)
	}
	if photoURL != "" && !identity.ValidPhotoURL(photoURL) {
		return identity.NewError(identity.KindNetworkOrProvider, "Photo URL must be an http or https address", nil)
	}
	if err := c.p.users.UpdateProfile(ctx, sess.UserID, strings.TrimSpace(displayName), strings.TrimSpace(photoURL)); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return identity.ErrNotSignedIn
		}
		return identity.ProviderError("Could not update profile", err)
	}
	c.p.notifyProfile(ctx, sess.UserID, c.id)
	return nil
}

func (c *client) OnAuthStateChanged(fn func(identity.Notification)) func() {
	return c.p.hub.subscribe(c.id, fn, func() identity.Notification {
		return c.p.resolve(c.id)
	})
}
