package ui

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"gitea.jw6.us/james/gamereview/internal/backend"
	"gitea.jw6.us/james/gamereview/internal/http/csrf"
	httperrors "gitea.jw6.us/james/gamereview/internal/http/errors"
	"gitea.jw6.us/james/gamereview/internal/identity"
	"gitea.jw6.us/james/gamereview/internal/session"
)

const defaultPageSize = 12

// parsePage extracts the 1-based page number from the query.
func parsePage(r *http.Request) int {
	if p := r.URL.Query().Get("page"); p != "" {
		if parsed, err := strconv.Atoi(p); err == nil && parsed > 0 {
			return parsed
		}
	}
	return 1
}

// withFlash adds flash messages and CSRF token to template data.
func (h *Handler) withFlash(r *http.Request, data map[string]any) map[string]any {
	q := r.URL.Query()
	if status := q.Get("status"); status != "" {
		if msg, ok := flashMessages[status]; ok {
			data["FlashMessage"] = msg
		}
	}
	if msg := q.Get("error"); msg != "" {
		data["FlashError"] = msg
	}
	if csrfToken := csrf.TokenFromContext(r.Context()); csrfToken != "" {
		data["CSRFToken"] = csrfToken
	}
	return data
}

var flashMessages = map[string]string{
	"registered":      "Account created! Please sign in.",
	"created":         "Review submitted successfully!",
	"updated":         "Review updated successfully!",
	"deleted":         "Your review has been deleted.",
	"watchlisted":     "Added to your watch list.",
	"unwatched":       "Removed from your watch list.",
	"profile":         "Profile updated.",
	"revoked":         "Signed out of your other browsers.",
	"signedout":       "You have been signed out.",
	"already_watched": "This game is already on your watch list.",
}

// redirect redirects to a path with query parameters.
func (h *Handler) redirect(w http.ResponseWriter, r *http.Request, path string, params map[string]string) {
	q := url.Values{}
	for k, v := range params {
		if v != "" {
			q.Set(k, v)
		}
	}
	location := path
	if encoded := q.Encode(); encoded != "" {
		location += "?" + encoded
	}
	http.Redirect(w, r, location, http.StatusSeeOther)
}

// render executes a template and writes the response.
func (h *Handler) render(w http.ResponseWriter, r *http.Request, name string, data any) {
	h.renderStatus(w, r, http.StatusOK, name, data)
}

func (h *Handler) renderStatus(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	tmpl, ok := h.templates[name]
	if !ok {
		httperrors.InternalError(w, r, fmt.Errorf("template not found"), fmt.Sprintf("template %q not found", name))
		return
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		httperrors.InternalError(w, r, err, fmt.Sprintf("template render error for %q", name))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// storeOf returns the request's session store. The router attaches one to
// every page request.
func storeOf(w http.ResponseWriter, r *http.Request) (*session.Store, bool) {
	s := session.FromContext(r.Context())
	if s == nil {
		httperrors.InternalError(w, r, errors.New("no session store on request"), "session lookup")
		return nil, false
	}
	return s, true
}

// authStatus maps an auth failure to the status of the re-rendered form.
func authStatus(err error) int {
	switch identity.KindOf(err) {
	case identity.KindInvalidCredentials, identity.KindUserNotFound:
		return http.StatusUnauthorized
	case identity.KindEmailInUse:
		return http.StatusConflict
	case identity.KindWeakPassword, identity.KindMalformedEmail, identity.KindUserCancelled:
		return http.StatusBadRequest
	case identity.KindRateLimited:
		return http.StatusTooManyRequests
	case identity.KindNotSignedIn:
		return http.StatusForbidden
	default:
		return http.StatusBadGateway
	}
}

// authMessage returns the user-facing text of an auth failure.
func authMessage(err error) string {
	if ae := identity.AsAuthError(err); ae != nil {
		return ae.Message
	}
	return ""
}

// backendFailure answers a failed review service call.
func (h *Handler) backendFailure(w http.ResponseWriter, r *http.Request, err error, op string) {
	switch {
	case errors.Is(err, backend.ErrNotFound):
		h.NotFound(w, r)
	case errors.Is(err, backend.ErrNotOwner):
		httperrors.LogWarn(r, op, err)
		h.renderStatus(w, r, http.StatusForbidden, "error.html", h.page(r, "Not allowed", map[string]any{
			"Message": "Only the reviewer can change this review.",
		}))
	case errors.Is(err, identity.ErrNotSignedIn):
		http.Redirect(w, r, "/login", http.StatusSeeOther)
	default:
		httperrors.BadGatewayError(w, r, err, op)
	}
}
