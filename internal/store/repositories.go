package store

import "context"

// UserRepository defines persistence operations for accounts.
type UserRepository interface {
	Create(ctx context.Context, user User) (*User, error)
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetBySubject(ctx context.Context, subject string) (*User, error)
	LinkSubject(ctx context.Context, id int64, subject string) error
	UpdateProfile(ctx context.Context, id int64, displayName, photoURL string) error
	TouchLastLogin(ctx context.Context, id int64) (*User, error)
}

// SessionRepository tracks signed-in browser clients.
type SessionRepository interface {
	Get(ctx context.Context, clientID string) (*ProviderSession, error)
	Upsert(ctx context.Context, session ProviderSession) error
	Delete(ctx context.Context, clientID string) error
	ListByUser(ctx context.Context, userID int64) ([]ProviderSession, error)
	DeleteByUserExcept(ctx context.Context, userID int64, keepClientID string) ([]string, error)
}
