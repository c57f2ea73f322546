package auth

import (
	"crypto/sha256"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/securecookie"

	"gitea.jw6.us/james/gamereview/internal/config"
)

const (
	cookieName   = "gamereview_session"
	cookieMaxAge = 30 * 24 * time.Hour
)

type cookieValue struct {
	ClientID string `json:"cid"`
	Issued   int64  `json:"iat"`
}

// SessionManager identifies browsers with a signed and encrypted cookie
// holding a random client id. Sign-in state is keyed by that id on the
// server; the cookie itself carries no identity.
type SessionManager struct {
	codec  *securecookie.SecureCookie
	secure bool
	now    func() time.Time
}

func NewSessionManager(cfg *config.Config) *SessionManager {
	hash := sha256.Sum256([]byte(cfg.Session.Secret))
	hashKey := hash[:]
	blockKey := sha256.Sum256(append([]byte("gamereview-block:"), hash[:]...))

	sc := securecookie.New(hashKey, blockKey[:])
	sc.MaxAge(int(cookieMaxAge.Seconds()))
	sc.SetSerializer(securecookie.JSONEncoder{})

	return &SessionManager{
		codec:  sc,
		secure: cfg.SecureCookies(),
		now:    time.Now,
	}
}

// ClientID returns the browser's client id, issuing a new cookie when the
// request has none or an invalid one.
func (m *SessionManager) ClientID(w http.ResponseWriter, r *http.Request) (string, error) {
	if id, ok := m.CurrentClientID(r); ok {
		return id, nil
	}

	value := cookieValue{ClientID: uuid.NewString(), Issued: m.now().Unix()}
	encoded, err := m.codec.Encode(cookieName, value)
	if err != nil {
		return "", fmt.Errorf("encode session cookie: %w", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    encoded,
		Path:     "/",
		Expires:  m.now().Add(cookieMaxAge),
		MaxAge:   int(cookieMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return value.ClientID, nil
}

// CurrentClientID extracts the client id from the request cookie if present
// and valid.
func (m *SessionManager) CurrentClientID(r *http.Request) (string, bool) {
	c, err := r.Cookie(cookieName)
	if err != nil {
		return "", false
	}

	var value cookieValue
	if err := m.codec.Decode(cookieName, c.Value, &value); err != nil {
		return "", false
	}
	if _, err := uuid.Parse(value.ClientID); err != nil {
		return "", false
	}
	return value.ClientID, true
}

// Clear removes the session cookie.
func (m *SessionManager) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
	})
}
