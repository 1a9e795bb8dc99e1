package handlers

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/providentiaww/trilix-lti/cmd/lti-server/auth"
	"github.com/providentiaww/trilix-lti/internal/events"
	"github.com/providentiaww/trilix-lti/internal/lti"
	"github.com/providentiaww/trilix-lti/internal/models"
	"github.com/providentiaww/trilix-lti/internal/onetime"
)

const (
	testIssuer     = "https://lms.example"
	testAdminToken = "admin-token"
)

var testSessionKey = []byte("0123456789abcdef0123456789abcdef")

type fakeLogin struct {
	got lti.LoginRequest
	url string
	err error
}

func (f *fakeLogin) Initiate(_ context.Context, req lti.LoginRequest) (string, error) {
	f.got = req
	return f.url, f.err
}

type fakeLauncher struct {
	idToken string
	state   string
	claims  *lti.VerifiedClaims
	err     error
}

func (f *fakeLauncher) Handle(_ context.Context, idToken, state string) (*lti.VerifiedClaims, error) {
	f.idToken, f.state = idToken, state
	return f.claims, f.err
}

type fakeContexts struct {
	mu       sync.Mutex
	upserted []models.LaunchContext
}

func (f *fakeContexts) UpsertContext(_ context.Context, c *models.LaunchContext) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserted = append(f.upserted, *c)
	return nil
}

type staticBaseURL string

func (s staticBaseURL) BaseURLFor(context.Context, string) (string, error) { return string(s), nil }

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.LaunchEvent
}

func (p *recordingPublisher) PublishLaunch(_ context.Context, e events.LaunchEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

type recordingInvalidator struct {
	issuers []string
}

func (r *recordingInvalidator) Invalidate(issuer string) {
	r.issuers = append(r.issuers, issuer)
}

func newAdminMiddleware(t *testing.T) *auth.AdminMiddleware {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testAdminToken), bcrypt.MinCost)
	require.NoError(t, err)
	return auth.NewAdminMiddleware(string(hash))
}

func newSessions() *auth.LaunchSessions {
	return auth.NewLaunchSessions(testSessionKey, time.Hour, onetime.NewMemoryStore(nil))
}

func sessionCookie(t *testing.T, resp *http.Response) *http.Cookie {
	t.Helper()
	for _, c := range resp.Cookies() {
		if c.Name == auth.SessionName {
			return c
		}
	}
	t.Fatalf("no %s cookie in response", auth.SessionName)
	return nil
}
