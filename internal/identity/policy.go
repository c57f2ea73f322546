package identity

import (
	"net/mail"
	"strings"
	"unicode"
)

// MinPasswordLength is the shortest password accepted for new accounts.
const MinPasswordLength = 6

// NormalizeEmail trims and lower-cases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CheckEmail returns ErrMalformedEmail unless email is a bare address such
// as "a@b.com".
func CheckEmail(email string) error {
	email = strings.TrimSpace(email)
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return NewError(KindMalformedEmail, ErrMalformedEmail.Message, err)
	}
	_, domain, _ := strings.Cut(email, "@")
	if domain == "" || strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return ErrMalformedEmail
	}
	return nil
}

// CheckPassword applies the password policy for new accounts.
func CheckPassword(password string) error {
	if len(password) < MinPasswordLength {
		return NewError(KindWeakPassword, "Password should be at least 6 characters", nil)
	}
	var upper, lower, digit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !upper || !lower || !digit {
		return NewError(KindWeakPassword, "Password must contain uppercase, lowercase and number.", nil)
	}
	return nil
}
