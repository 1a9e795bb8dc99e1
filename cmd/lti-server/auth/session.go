package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/sessions"
	"github.com/rs/zerolog/log"

	"github.com/providentiaww/trilix-lti/internal/crypto"
	"github.com/providentiaww/trilix-lti/internal/lti"
	"github.com/providentiaww/trilix-lti/internal/onetime"
)

// SessionName is the launch session cookie.
const SessionName = "_lti_tool_session"

const (
	sessionPrefix = "lti:session:"
	sessionIDLen  = 32

	sessionIDKey = "sid"
	subKey       = "sub"
	contextIDKey = "context_id"
	roleKey      = "role"
	expiresAtKey = "expires_at"
)

// ErrNoSession is returned when the request carries no live launch session.
var ErrNoSession = errors.New("no launch session")

// LaunchSessions keeps verified launch claims server-side under a random
// session id. The signed cookie carries the id and a small summary. It is
// SameSite=None and Secure to survive the platform's cross-site form post.
type LaunchSessions struct {
	store sessions.Store
	data  onetime.KeyValueStore
	ttl   time.Duration
	now   func() time.Time
}

// NewLaunchSessions creates a session store whose cookie is signed with
// secret and whose claims live in data.
func NewLaunchSessions(secret []byte, ttl time.Duration, data onetime.KeyValueStore) *LaunchSessions {
	store := sessions.NewCookieStore(secret)
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	}
	return &LaunchSessions{store: store, data: data, ttl: ttl, now: time.Now}
}

// Save stores claims under a fresh session id and writes the cookie.
func (s *LaunchSessions) Save(w http.ResponseWriter, r *http.Request, claims *lti.VerifiedClaims) error {
	session, err := s.store.Get(r, SessionName)
	if err != nil && session == nil {
		return fmt.Errorf("loading session: %w", err)
	}

	payload, err := json.Marshal(claims)
	if err != nil {
		return fmt.Errorf("encoding claims: %w", err)
	}
	sid, err := crypto.RandomString(sessionIDLen)
	if err != nil {
		return fmt.Errorf("generating session id: %w", err)
	}
	if err := s.data.Put(r.Context(), sessionPrefix+sid, payload, s.ttl); err != nil {
		return fmt.Errorf("storing session claims: %w", err)
	}

	session.Values[sessionIDKey] = sid
	session.Values[subKey] = claims.UserSub
	session.Values[contextIDKey] = claims.ContextID
	session.Values[roleKey] = claims.Role
	session.Values[expiresAtKey] = s.now().Add(s.ttl).Unix()
	if err := session.Save(r, w); err != nil {
		return err
	}

	log.Ctx(r.Context()).Debug().
		Str("session", crypto.Fingerprint(sid)).
		Str("context_id", claims.ContextID).
		Msg("launch session created")
	return nil
}

// Load returns the claims of a live session.
func (s *LaunchSessions) Load(r *http.Request) (*lti.VerifiedClaims, time.Time, error) {
	session, err := s.store.Get(r, SessionName)
	if err != nil || session.IsNew {
		return nil, time.Time{}, ErrNoSession
	}

	exp, ok := session.Values[expiresAtKey].(int64)
	if !ok {
		return nil, time.Time{}, ErrNoSession
	}
	expiresAt := time.Unix(exp, 0)
	if !s.now().Before(expiresAt) {
		return nil, time.Time{}, ErrNoSession
	}

	sid, ok := session.Values[sessionIDKey].(string)
	if !ok || sid == "" {
		return nil, time.Time{}, ErrNoSession
	}
	raw, found, err := s.data.Get(r.Context(), sessionPrefix+sid)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("reading session %s: %w", crypto.Fingerprint(sid), err)
	}
	if !found {
		return nil, time.Time{}, ErrNoSession
	}

	var claims lti.VerifiedClaims
	if err := json.Unmarshal(raw, &claims); err != nil {
		return nil, time.Time{}, fmt.Errorf("decoding session claims: %w", err)
	}
	return &claims, expiresAt, nil
}
