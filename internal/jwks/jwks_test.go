package jwks

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/providentiaww/trilix-lti/internal/cache"
)

type staticResolver string

func (s staticResolver) BaseURLFor(context.Context, string) (string, error) {
	return string(s), nil
}

type failingResolver struct{}

func (failingResolver) BaseURLFor(context.Context, string) (string, error) {
	return "", errors.New("unknown platform")
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

func keySetJSON(t *testing.T, kid string, pub any) []byte {
	t.Helper()
	key, err := jwk.FromRaw(pub)
	require.NoError(t, err)
	require.NoError(t, key.Set(jwk.KeyIDKey, kid))

	set := jwk.NewSet()
	require.NoError(t, set.AddKey(key))
	data, err := json.Marshal(set)
	require.NoError(t, err)
	return data
}

func newRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func TestCache_FetchAndReuse(t *testing.T) {
	priv := newRSAKey(t)
	body := keySetJSON(t, "kid-1", &priv.PublicKey)

	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		assert.Equal(t, DefaultPath, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
	}))
	defer srv.Close()

	clock := &fakeClock{t: time.Date(2026, 1, 6, 12, 0, 0, 0, time.UTC)}
	c := New(staticResolver(srv.URL), cache.New[jwk.Set](DefaultTTL, cache.WithClock[jwk.Set](clock.Now)))
	ctx := context.Background()

	set, err := c.Fetch(ctx, "https://canvas.instructure.com")
	require.NoError(t, err)
	assert.Equal(t, 1, set.Len())

	_, err = c.Fetch(ctx, "https://canvas.instructure.com")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))

	clock.Advance(DefaultTTL)
	_, err = c.Fetch(ctx, "https://canvas.instructure.com")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits), "stale entry must be refetched")

	pub, err := PublicKey(set, "kid-1")
	require.NoError(t, err)
	assert.Equal(t, priv.PublicKey.N, pub.N)
	assert.Equal(t, priv.PublicKey.E, pub.E)
}

func TestCache_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(staticResolver(srv.URL), cache.New[jwk.Set](DefaultTTL))
	_, err := c.Fetch(context.Background(), "https://lms.example")

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, http.StatusBadGateway, fetchErr.Status)
	assert.Contains(t, err.Error(), "502")
}

func TestCache_MalformedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not json</html>"))
	}))
	defer srv.Close()

	c := New(staticResolver(srv.URL), cache.New[jwk.Set](DefaultTTL))
	_, err := c.Fetch(context.Background(), "https://lms.example")

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Zero(t, fetchErr.Status)
}

func TestCache_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c := New(staticResolver(srv.URL), cache.New[jwk.Set](DefaultTTL),
		WithHTTPClient(&http.Client{Timeout: 50 * time.Millisecond}))
	_, err := c.Fetch(context.Background(), "https://lms.example")

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
}

func TestCache_ResolverFailure(t *testing.T) {
	c := New(failingResolver{}, cache.New[jwk.Set](DefaultTTL))
	_, err := c.Fetch(context.Background(), "https://lms.example")

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
}

func TestCache_CustomPath(t *testing.T) {
	priv := newRSAKey(t)
	body := keySetJSON(t, "k", &priv.PublicKey)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/jwks.json" {
			http.NotFound(w, r)
			return
		}
		w.Write(body)
	}))
	defer srv.Close()

	c := New(staticResolver(srv.URL), cache.New[jwk.Set](DefaultTTL), WithPath("/.well-known/jwks.json"))
	_, err := c.Fetch(context.Background(), "https://lms.example")
	require.NoError(t, err)
}

func TestPublicKey_Errors(t *testing.T) {
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	set, err := jwk.Parse(keySetJSON(t, "ec-1", &ecKey.PublicKey))
	require.NoError(t, err)

	_, err = PublicKey(set, "missing")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	_, err = PublicKey(set, "ec-1")
	assert.ErrorIs(t, err, ErrNotRSA)
}

func TestCache_RefreshPicksUpRotatedKey(t *testing.T) {
	oldKey, newKey := newRSAKey(t), newRSAKey(t)

	var hits int32
	var mu sync.Mutex
	body := keySetJSON(t, "kid-old", &oldKey.PublicKey)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		mu.Lock()
		defer mu.Unlock()
		w.Write(body)
	}))
	defer srv.Close()

	c := New(staticResolver(srv.URL), cache.New[jwk.Set](DefaultTTL))
	ctx := context.Background()

	set, err := c.Fetch(ctx, "https://canvas.instructure.com")
	require.NoError(t, err)
	_, err = PublicKey(set, "kid-new")
	require.ErrorIs(t, err, ErrKeyNotFound)

	mu.Lock()
	body = keySetJSON(t, "kid-new", &newKey.PublicKey)
	mu.Unlock()

	set, err = c.Refresh(ctx, "https://canvas.instructure.com")
	require.NoError(t, err)
	_, err = PublicKey(set, "kid-new")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))

	// a second unknown kid inside the interval is served from cache
	_, err = c.Refresh(ctx, "https://canvas.instructure.com")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestCache_Sweep(t *testing.T) {
	priv := newRSAKey(t)
	body := keySetJSON(t, "kid-1", &priv.PublicKey)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	clock := &fakeClock{t: time.Date(2026, 1, 6, 12, 0, 0, 0, time.UTC)}
	entries := cache.New[jwk.Set](DefaultTTL, cache.WithClock[jwk.Set](clock.Now))
	c := New(staticResolver(srv.URL), entries)

	_, err := c.Fetch(context.Background(), "https://a.example")
	require.NoError(t, err)
	_, err = c.Fetch(context.Background(), "https://b.example")
	require.NoError(t, err)

	clock.Advance(DefaultTTL)
	assert.Equal(t, 2, c.Sweep())
	assert.Equal(t, 0, entries.Len())
}
