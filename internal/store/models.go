package store

import "time"

// User is a local account known to the identity provider.
type User struct {
	ID            int64
	Email         string
	PasswordHash  *string
	DisplayName   string
	PhotoURL      string
	EmailVerified bool
	OIDCSubject   *string
	CreatedAt     time.Time
	LastLoginAt   time.Time
}

// ProviderSession records which user a browser client is signed in as.
type ProviderSession struct {
	ClientID   string
	UserID     int64
	UserAgent  *string
	IPAddress  *string
	CreatedAt  time.Time
	LastSeenAt time.Time
}
