package session

import (
	"net/url"
	"strings"

	"gitea.jw6.us/james/gamereview/internal/identity"
)

// Phase is the coarse state of a Store.
type Phase int

const (
	PhaseResolving Phase = iota
	PhaseSignedOut
	PhaseSignedIn
)

func (p Phase) String() string {
	switch p {
	case PhaseSignedOut:
		return "signed_out"
	case PhaseSignedIn:
		return "signed_in"
	default:
		return "resolving"
	}
}

// State is a point-in-time copy of a Store. User is only meaningful once
// Resolving is false.
type State struct {
	Resolving bool
	User      *identity.Identity
}

// Phase classifies s.
func (s State) Phase() Phase {
	switch {
	case s.Resolving:
		return PhaseResolving
	case s.User == nil:
		return PhaseSignedOut
	default:
		return PhaseSignedIn
	}
}

// SignedIn reports whether s is resolved with a user present.
func (s State) SignedIn() bool {
	return s.Phase() == PhaseSignedIn
}

// PendingRedirect remembers where a signed-out visitor was headed when the
// access guard sent them to sign in.
type PendingRedirect struct {
	TargetPath string
}

// IsLocalPath reports whether p is a path on this site, such as
// "/reviews/1?tab=x". Scheme-relative and absolute URLs are rejected.
func IsLocalPath(p string) bool {
	if !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") || strings.HasPrefix(p, "/\\") {
		return false
	}
	u, err := url.Parse(p)
	if err != nil {
		return false
	}
	return u.Scheme == "" && u.Host == "" && u.User == nil
}
