// Package session wraps cookie-backed sessions keyed by the authenticated
// username. Handlers never touch gorilla directly.
package session

import (
	"net/http"
	"time"

	"github.com/gorilla/sessions"
)

const (
	cookieName  = "session"
	usernameKey = "username"
)

type Manager struct {
	store *sessions.CookieStore
}

// NewManager builds a manager with the given signing secret and session
// lifetime. The cookie is HTTP-only; Secure is left to the deployment's
// TLS terminator.
func NewManager(secret []byte, ttl time.Duration) *Manager {
	cs := sessions.NewCookieStore(secret)
	cs.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	return &Manager{store: cs}
}

// CurrentUser returns the authenticated username for the request, or ""
// when the session is absent or invalid.
func (m *Manager) CurrentUser(r *http.Request) string {
	sess, err := m.store.Get(r, cookieName)
	if err != nil {
		return ""
	}
	name, _ := sess.Values[usernameKey].(string)
	return name
}

// SignIn binds username to a fresh session cookie.
func (m *Manager) SignIn(w http.ResponseWriter, r *http.Request, username string) error {
	sess, _ := m.store.Get(r, cookieName)
	sess.Values[usernameKey] = username
	return sess.Save(r, w)
}

// SignOut expires the session cookie.
func (m *Manager) SignOut(w http.ResponseWriter, r *http.Request) error {
	sess, _ := m.store.Get(r, cookieName)
	delete(sess.Values, usernameKey)
	sess.Options.MaxAge = -1
	return sess.Save(r, w)
}
