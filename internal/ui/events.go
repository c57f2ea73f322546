package ui

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"gitea.jw6.us/james/gamereview/internal/guard"
	httperrors "gitea.jw6.us/james/gamereview/internal/http/errors"
	"gitea.jw6.us/james/gamereview/internal/identity"
	"gitea.jw6.us/james/gamereview/internal/session"
)

const eventHeartbeat = 25 * time.Second

type sessionUserJSON struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	DisplayName   string `json:"displayName"`
	PhotoURL      string `json:"photoURL"`
	EmailVerified bool   `json:"emailVerified"`
}

type sessionJSON struct {
	Resolving bool             `json:"resolving"`
	SignedIn  bool             `json:"signedIn"`
	User      *sessionUserJSON `json:"user,omitempty"`
}

type decisionJSON struct {
	Outcome  string `json:"outcome"`
	Location string `json:"location,omitempty"`
}

func sessionPayload(st session.State) sessionJSON {
	out := sessionJSON{Resolving: st.Resolving, SignedIn: st.SignedIn()}
	if out.SignedIn {
		out.User = &sessionUserJSON{
			ID:            st.User.ID,
			Email:         st.User.Email,
			DisplayName:   identity.DisplayNameOf(st.User),
			PhotoURL:      identity.AvatarOf(st.User),
			EmailVerified: st.User.EmailVerified,
		}
	}
	return out
}

// SessionJSON reports the browser's current session state.
func (h *Handler) SessionJSON(w http.ResponseWriter, r *http.Request) {
	s, ok := storeOf(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(sessionPayload(s.Snapshot())); err != nil {
		httperrors.LogWarn(r, "encode session state", err)
	}
}

// GuardEvents streams the guard decisions for an open page as server-sent
// events, so the page can leave once the session signs out.
func (h *Handler) GuardEvents(w http.ResponseWriter, r *http.Request) {
	s, ok := storeOf(w, r)
	if !ok {
		return
	}
	path := r.URL.Query().Get("path")
	if !session.IsLocalPath(path) {
		http.Error(w, "path must be a local path", http.StatusBadRequest)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		httperrors.InternalError(w, r, fmt.Errorf("response writer %T cannot flush", w), "guard events")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	m := guard.Mount(s, path)
	defer m.Close()

	heartbeat := time.NewTicker(eventHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case d := <-m.Decisions():
			payload, err := json.Marshal(decisionJSON{Outcome: d.Outcome.String(), Location: d.Location})
			if err != nil {
				httperrors.LogError(r, "encode guard decision", err)
				return
			}
			if _, err := fmt.Fprintf(w, "event: decision\ndata: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
