package auth

import (
	"context"

	"gitea.jw6.us/james/gamereview/internal/identity"
)

type contextKey string

const contextKeyUser contextKey = "user"

// WithUser stores the signed-in identity admitted by the access guard.
func WithUser(ctx context.Context, user *identity.Identity) context.Context {
	return context.WithValue(ctx, contextKeyUser, user)
}

func UserFromContext(ctx context.Context) (*identity.Identity, bool) {
	u, ok := ctx.Value(contextKeyUser).(*identity.Identity)
	return u, ok && u != nil
}
