package identity

import (
	"net/url"
	"strings"
)

// DefaultAvatarURL is shown for users without a usable photo.
const DefaultAvatarURL = "/static/avatar.svg"

const fallbackDisplayName = "User"

// DisplayNameOf returns the name to show for u: the display name, else the
// local part of the email, else a generic label.
func DisplayNameOf(u *Identity) string {
	if u == nil {
		return fallbackDisplayName
	}
	if name := strings.TrimSpace(u.DisplayName); name != "" {
		return name
	}
	if local, _, ok := strings.Cut(u.Email, "@"); ok && local != "" {
		return local
	}
	return fallbackDisplayName
}

// AvatarOf returns the photo URL for u when it is an absolute http(s) URL,
// otherwise DefaultAvatarURL.
func AvatarOf(u *Identity) string {
	if u == nil {
		return DefaultAvatarURL
	}
	if ValidPhotoURL(u.PhotoURL) {
		return u.PhotoURL
	}
	return DefaultAvatarURL
}

// ValidPhotoURL reports whether raw is an absolute http or https URL.
func ValidPhotoURL(raw string) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return false
	}
	return parsed.Scheme == "http" || parsed.Scheme == "https"
}
