package identity

import (
	"context"
	"errors"
)

// Kind classifies authentication failures.
type Kind int

const (
	KindNetworkOrProvider Kind = iota
	KindInvalidCredentials
	KindUserNotFound
	KindEmailInUse
	KindWeakPassword
	KindUserCancelled
	KindRateLimited
	KindNotSignedIn
	KindMalformedEmail
)

func (k Kind) String() string {
	switch k {
	case KindInvalidCredentials:
		return "invalid_credentials"
	case KindUserNotFound:
		return "user_not_found"
	case KindEmailInUse:
		return "email_in_use"
	case KindWeakPassword:
		return "weak_password"
	case KindUserCancelled:
		return "user_cancelled"
	case KindRateLimited:
		return "rate_limited"
	case KindNotSignedIn:
		return "not_signed_in"
	case KindMalformedEmail:
		return "malformed_email"
	default:
		return "network_or_provider"
	}
}

// AuthError is the error type returned by every identity and session operation.
// Message is safe to show to the user.
type AuthError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *AuthError) Unwrap() error { return e.Err }

// Is matches any AuthError of the same kind, so sentinels work with errors.Is.
func (e *AuthError) Is(target error) bool {
	t, ok := target.(*AuthError)
	return ok && t.Kind == e.Kind
}

var (
	ErrInvalidCredentials = &AuthError{Kind: KindInvalidCredentials, Message: "Invalid email or password"}
	ErrUserNotFound       = &AuthError{Kind: KindUserNotFound, Message: "No account exists for this email"}
	ErrEmailInUse         = &AuthError{Kind: KindEmailInUse, Message: "An account already exists for this email"}
	ErrWeakPassword       = &AuthError{Kind: KindWeakPassword, Message: "Password must be at least 6 characters and contain uppercase, lowercase and number"}
	ErrUserCancelled      = &AuthError{Kind: KindUserCancelled, Message: "Sign-in was cancelled"}
	ErrRateLimited        = &AuthError{Kind: KindRateLimited, Message: "Too many attempts, try again later"}
	ErrNotSignedIn        = &AuthError{Kind: KindNotSignedIn, Message: "You must be signed in"}
	ErrMalformedEmail     = &AuthError{Kind: KindMalformedEmail, Message: "Email address is not valid"}
)

// NewError builds an AuthError of the given kind.
func NewError(kind Kind, message string, err error) *AuthError {
	return &AuthError{Kind: kind, Message: message, Err: err}
}

// ProviderError wraps an unexpected failure as KindNetworkOrProvider.
func ProviderError(message string, err error) *AuthError {
	return NewError(KindNetworkOrProvider, message, err)
}

// AsAuthError returns err as an *AuthError, wrapping foreign errors as
// provider failures. It returns nil for a nil error.
func AsAuthError(err error) *AuthError {
	if err == nil {
		return nil
	}
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ProviderError("The identity service did not respond in time", err)
	}
	return ProviderError("The identity service is unavailable", err)
}

// KindOf reports the kind of err; foreign errors are KindNetworkOrProvider.
func KindOf(err error) Kind {
	if ae := AsAuthError(err); ae != nil {
		return ae.Kind
	}
	return KindNetworkOrProvider
}
