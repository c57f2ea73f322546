package ui

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog/hlog"

	"gitea.jw6.us/james/gamereview/internal/auth"
	httperrors "gitea.jw6.us/james/gamereview/internal/http/errors"
	"gitea.jw6.us/james/gamereview/internal/identity"
	"gitea.jw6.us/james/gamereview/internal/session"
)

// LoginPage renders the sign-in form.
func (h *Handler) LoginPage(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "login.html", h.page(r, "Sign in", nil))
}

// Login signs in with email and password, then continues to the page the
// guard sent the visitor away from.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	s, ok := storeOf(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		httperrors.BadRequestError(w, r, err, "invalid form")
		return
	}
	email := identity.NormalizeEmail(r.PostFormValue("email"))
	password := r.PostFormValue("password")

	if err := s.SignInWithPassword(r.Context(), email, password); err != nil {
		httperrors.LogInfo(r, "password sign-in failed: "+identity.KindOf(err).String())
		h.renderStatus(w, r, authStatus(err), "login.html", h.page(r, "Sign in", map[string]any{
			"Email":     email,
			"AuthError": authMessage(err),
		}))
		return
	}
	h.continueAfterSignIn(w, r, s, func(st session.State) bool {
		return st.SignedIn() && strings.EqualFold(st.User.Email, email)
	})
}

// continueAfterSignIn waits for the provider to report the new user before
// consuming the pending redirect. If the report does not arrive in time the
// browser goes to the landing page and the pending redirect is kept.
func (h *Handler) continueAfterSignIn(w http.ResponseWriter, r *http.Request, s *session.Store, signedIn func(session.State) bool) {
	ctx, cancel := context.WithTimeout(r.Context(), h.signInWait)
	defer cancel()

	if _, err := s.WaitFor(ctx, signedIn); err != nil {
		httperrors.LogWarn(r, "sign-in not confirmed by provider", err)
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	target := "/"
	if p, ok := s.TakePendingRedirect(); ok {
		target = p.TargetPath
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// RegisterPage renders the sign-up form.
func (h *Handler) RegisterPage(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "register.html", h.page(r, "Register", nil))
}

// Register creates an account, stores the chosen name and photo, then signs
// out so the visitor signs in explicitly.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	s, ok := storeOf(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		httperrors.BadRequestError(w, r, err, "invalid form")
		return
	}
	name := strings.TrimSpace(r.PostFormValue("name"))
	email := identity.NormalizeEmail(r.PostFormValue("email"))
	password := r.PostFormValue("password")
	retype := r.PostFormValue("retypePassword")
	photoURL := strings.TrimSpace(r.PostFormValue("photoURL"))

	fail := func(status int, message string) {
		h.renderStatus(w, r, status, "register.html", h.page(r, "Register", map[string]any{
			"Name":      name,
			"Email":     email,
			"PhotoURL":  photoURL,
			"AuthError": message,
		}))
	}

	if err := identity.CheckEmail(email); err != nil {
		fail(http.StatusBadRequest, authMessage(err))
		return
	}
	policyErr := identity.CheckPassword(password)
	switch {
	case len(password) < identity.MinPasswordLength:
		fail(http.StatusBadRequest, authMessage(policyErr))
		return
	case password != retype:
		fail(http.StatusBadRequest, "Password did not match")
		return
	case policyErr != nil:
		fail(http.StatusBadRequest, authMessage(policyErr))
		return
	}
	if photoURL != "" && !identity.ValidPhotoURL(photoURL) {
		fail(http.StatusBadRequest, "Photo URL must be an http(s) link")
		return
	}

	if _, err := s.Register(r.Context(), email, password); err != nil {
		fail(authStatus(err), authMessage(err))
		return
	}
	if err := s.UpdateProfile(r.Context(), name, photoURL); err != nil {
		fail(authStatus(err), authMessage(err))
		return
	}
	if err := s.SignOut(r.Context()); err != nil {
		httperrors.LogWarn(r, "sign out after registration", err)
	}
	h.redirect(w, r, "/login", map[string]string{"status": "registered"})
}

// BeginFederated sends the browser to the federated provider's consent screen.
func (h *Handler) BeginFederated(w http.ResponseWriter, r *http.Request) {
	s, ok := storeOf(w, r)
	if !ok {
		return
	}
	location, err := s.BeginFederatedSignIn()
	if err != nil {
		h.redirect(w, r, "/login", map[string]string{"error": authMessage(err)})
		return
	}
	http.Redirect(w, r, location, http.StatusFound)
}

// FederatedCallback completes a federated sign-in.
func (h *Handler) FederatedCallback(w http.ResponseWriter, r *http.Request) {
	s, ok := storeOf(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	err := s.SignInWithFederatedProvider(r.Context(), session.FederatedCallback{
		State:            q.Get("state"),
		Code:             q.Get("code"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	})
	if err != nil {
		httperrors.LogInfo(r, "federated sign-in failed: "+identity.KindOf(err).String())
		h.redirect(w, r, "/login", map[string]string{"error": authMessage(err)})
		return
	}
	h.continueAfterSignIn(w, r, s, session.State.SignedIn)
}

// Logout asks the provider to sign this browser out.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	s, ok := storeOf(w, r)
	if !ok {
		return
	}
	if err := s.SignOut(r.Context()); err != nil {
		httperrors.LogWarn(r, "sign out failed", err)
		h.redirect(w, r, "/", map[string]string{"error": authMessage(err)})
		return
	}
	h.redirect(w, r, "/", map[string]string{"status": "signedout"})
}

// Profile shows the signed-in user and the browsers signed in as them.
func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())
	data := map[string]any{
		"Profile": user,
	}

	if h.accounts != nil && user != nil {
		sessions, err := h.accounts.ListSessions(r.Context(), user.ID)
		if err != nil {
			httperrors.LogError(r, "list provider sessions", err)
		}
		current := ""
		if s := session.FromContext(r.Context()); s != nil {
			current = s.ClientID()
		}
		var rows []map[string]any
		for _, ps := range sessions {
			rows = append(rows, map[string]any{
				"UserAgent":  ps.UserAgent,
				"IPAddress":  ps.IPAddress,
				"CreatedAt":  ps.CreatedAt,
				"LastSeenAt": ps.LastSeenAt,
				"IsCurrent":  ps.ClientID == current,
			})
		}
		data["Sessions"] = rows
		data["SessionsEnabled"] = true
	}
	h.render(w, r, "profile.html", h.page(r, "Profile", data))
}

// UpdateProfile changes the display name and photo.
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	s, ok := storeOf(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		httperrors.BadRequestError(w, r, err, "invalid form")
		return
	}
	name := strings.TrimSpace(r.PostFormValue("name"))
	photoURL := strings.TrimSpace(r.PostFormValue("photoURL"))
	if photoURL != "" && !identity.ValidPhotoURL(photoURL) {
		h.redirect(w, r, "/profile", map[string]string{"error": "Photo URL must be an http(s) link"})
		return
	}

	if err := s.UpdateProfile(r.Context(), name, photoURL); err != nil {
		h.redirect(w, r, "/profile", map[string]string{"error": authMessage(err)})
		return
	}
	h.redirect(w, r, "/profile", map[string]string{"status": "profile"})
}

// RevokeOtherSessions signs the user out of every other browser.
func (h *Handler) RevokeOtherSessions(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())
	s, ok := storeOf(w, r)
	if !ok {
		return
	}
	if h.accounts == nil || user == nil {
		h.NotFound(w, r)
		return
	}

	n, err := h.accounts.RevokeOtherSessions(r.Context(), user.ID, s.ClientID())
	if err != nil {
		httperrors.InternalError(w, r, err, "revoke other sessions")
		return
	}
	hlog.FromRequest(r).Info().Int("revoked", n).Str("user_id", user.ID).Msg("revoked other sessions")
	h.redirect(w, r, "/profile", map[string]string{"status": "revoked"})
}
