package platform

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/providentiaww/trilix-lti/internal/cache"
	"github.com/providentiaww/trilix-lti/internal/models"
	"github.com/providentiaww/trilix-lti/internal/storage"
)

type fakeStore struct {
	platforms map[string]models.Platform
	lookups   int
	err       error
	// afterRead runs between reading the record and returning it
	afterRead func()
}

func (f *fakeStore) FindActiveByIssuer(_ context.Context, issuer string) (*models.Platform, error) {
	f.lookups++
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.platforms[issuer]
	if f.afterRead != nil {
		f.afterRead()
	}
	if !ok || !p.Active {
		return nil, storage.ErrNotFound
	}
	return &p, nil
}

func (f *fakeStore) ListActiveIssuers(context.Context) ([]string, error) {
	var out []string
	for iss, p := range f.platforms {
		if p.Active {
			out = append(out, iss)
		}
	}
	return out, nil
}

func newRegistry(store storage.PlatformReader, legacy LegacyConfig) *Registry {
	return NewRegistry(store, cache.New[models.Platform](5*time.Minute), legacy)
}

func TestRegistry_ClientIDFor_Store(t *testing.T) {
	store := &fakeStore{platforms: map[string]models.Platform{
		"https://canvas.instructure.com": {Issuer: "https://canvas.instructure.com", ClientID: "10000000000001", Active: true},
	}}
	r := newRegistry(store, LegacyConfig{ClientID: "global"})

	id, err := r.ClientIDFor(context.Background(), "https://canvas.instructure.com")
	require.NoError(t, err)
	assert.Equal(t, "10000000000001", id)

	_, err = r.ClientIDFor(context.Background(), "https://canvas.instructure.com")
	require.NoError(t, err)
	assert.Equal(t, 1, store.lookups, "second lookup must be served from cache")
}

func TestRegistry_InactiveFallsBackToLegacy(t *testing.T) {
	store := &fakeStore{platforms: map[string]models.Platform{
		"https://lms.example": {Issuer: "https://lms.example", ClientID: "disabled", Active: false},
	}}
	r := newRegistry(store, LegacyConfig{ClientID: "global"})

	id, err := r.ClientIDFor(context.Background(), "https://lms.example")
	require.NoError(t, err)
	assert.Equal(t, "global", id)
}

func TestRegistry_LegacyResolutionOrder(t *testing.T) {
	legacy := LegacyConfig{
		Platforms: map[string]string{
			"https://canvas.local":     "exact",
			"http://self.hosted:443/": "normalized",
			"https://tunnel.dev:8443": "ported",
		},
		ClientID: "global",
	}
	r := newRegistry(nil, legacy)
	ctx := context.Background()

	tests := []struct {
		issuer string
		want   string
	}{
		{"https://canvas.local", "exact"},
		{"https://self.hosted", "normalized"},
		{"https://tunnel.dev:8443", "ported"},
		{"https://tunnel.dev", "global"},
		{"https://elsewhere.example", "global"},
	}
	for _, tt := range tests {
		t.Run(tt.issuer, func(t *testing.T) {
			id, err := r.ClientIDFor(ctx, tt.issuer)
			require.NoError(t, err)
			assert.Equal(t, tt.want, id)
		})
	}
}

func TestRegistry_UnknownPlatform(t *testing.T) {
	r := newRegistry(&fakeStore{}, LegacyConfig{})

	_, err := r.ClientIDFor(context.Background(), "https://nobody.example")
	require.Error(t, err)

	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "https://nobody.example", cfgErr.Issuer)
	assert.ErrorIs(t, err, ErrUnknownPlatform)
}

func TestRegistry_StoreFailureIsNotConfigurationError(t *testing.T) {
	r := newRegistry(&fakeStore{err: errors.New("connection refused")}, LegacyConfig{ClientID: "global"})

	_, err := r.ClientIDFor(context.Background(), "https://lms.example")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnknownPlatform)
}

func TestRegistry_InvalidateReflectsLatestValue(t *testing.T) {
	store := &fakeStore{platforms: map[string]models.Platform{
		"https://lms.example": {Issuer: "https://lms.example", ClientID: "v1", Active: true},
	}}
	r := newRegistry(store, LegacyConfig{})
	ctx := context.Background()

	id, err := r.ClientIDFor(ctx, "https://lms.example")
	require.NoError(t, err)
	assert.Equal(t, "v1", id)

	store.platforms["https://lms.example"] = models.Platform{Issuer: "https://lms.example", ClientID: "v2", Active: true}

	id, _ = r.ClientIDFor(ctx, "https://lms.example")
	assert.Equal(t, "v1", id, "stale value until invalidated")

	r.Invalidate("https://lms.example")
	id, err = r.ClientIDFor(ctx, "https://lms.example")
	require.NoError(t, err)
	assert.Equal(t, "v2", id)

	store.platforms["https://lms.example"] = models.Platform{Issuer: "https://lms.example", ClientID: "v3", Active: true}
	r.InvalidateAll()
	id, err = r.ClientIDFor(ctx, "https://lms.example")
	require.NoError(t, err)
	assert.Equal(t, "v3", id)
}

func TestRegistry_InvalidateDuringLookupIsNotCached(t *testing.T) {
	store := &fakeStore{platforms: map[string]models.Platform{
		"https://lms.example": {Issuer: "https://lms.example", ClientID: "v1", Active: true},
	}}
	r := newRegistry(store, LegacyConfig{})
	ctx := context.Background()

	store.afterRead = func() {
		store.afterRead = nil
		store.platforms["https://lms.example"] = models.Platform{Issuer: "https://lms.example", ClientID: "v2", Active: true}
		r.Invalidate("https://lms.example")
	}

	id, err := r.ClientIDFor(ctx, "https://lms.example")
	require.NoError(t, err)
	assert.Equal(t, "v1", id)

	id, err = r.ClientIDFor(ctx, "https://lms.example")
	require.NoError(t, err)
	assert.Equal(t, "v2", id)
	assert.Equal(t, 2, store.lookups)
}

func TestRegistry_SweepBoundsLegacyFallbackEntries(t *testing.T) {
	now := time.Date(2026, 1, 6, 12, 0, 0, 0, time.UTC)
	c := cache.New[models.Platform](5*time.Minute, cache.WithClock[models.Platform](func() time.Time { return now }))
	r := NewRegistry(&fakeStore{}, c, LegacyConfig{ClientID: "global"})
	ctx := context.Background()

	for i := 0; i < 1000; i++ {
		_, err := r.ClientIDFor(ctx, fmt.Sprintf("https://lms-%d.example", i))
		require.NoError(t, err)
	}
	assert.Equal(t, 1000, c.Len())

	now = now.Add(time.Hour)
	_, err := r.ClientIDFor(ctx, "https://lms-0.example")
	require.NoError(t, err)

	assert.Equal(t, 999, r.Sweep())
	assert.Equal(t, 1, c.Len())
}

func TestRegistry_BaseURLFor(t *testing.T) {
	store := &fakeStore{platforms: map[string]models.Platform{
		"https://canvas.instructure.com": {Issuer: "https://canvas.instructure.com", ClientID: "1", BaseURL: "https://canvas.tunnel.dev/", Active: true},
	}}
	r := newRegistry(store, LegacyConfig{ClientID: "global"})
	ctx := context.Background()

	base, err := r.BaseURLFor(ctx, "https://canvas.instructure.com")
	require.NoError(t, err)
	assert.Equal(t, "https://canvas.tunnel.dev", base)

	base, err = r.BaseURLFor(ctx, "https://lms.example/")
	require.NoError(t, err)
	assert.Equal(t, "https://lms.example", base)
}

func TestRegistry_APITokenFor(t *testing.T) {
	store := &fakeStore{platforms: map[string]models.Platform{
		"https://stored.example": {Issuer: "https://stored.example", ClientID: "a", APIToken: "stored-token", Active: true},
		"https://env.example":    {Issuer: "https://env.example", ClientID: "b", Active: true},
		"https://none.example":   {Issuer: "https://none.example", ClientID: "c", Active: true},
	}}
	r := newRegistry(store, LegacyConfig{})
	r.getenv = func(key string) string {
		if key == "CANVAS_API_TOKEN_b" {
			return "env-token"
		}
		return ""
	}
	ctx := context.Background()

	token, err := r.APITokenFor(ctx, "https://stored.example")
	require.NoError(t, err)
	assert.Equal(t, "stored-token", token)

	token, err = r.APITokenFor(ctx, "https://env.example")
	require.NoError(t, err)
	assert.Equal(t, "env-token", token)

	_, err = r.APITokenFor(ctx, "https://none.example")
	assert.ErrorIs(t, err, ErrNoAPIToken)
}

func TestRegistry_RegisteredIssuers(t *testing.T) {
	store := &fakeStore{platforms: map[string]models.Platform{
		"https://a.example": {Issuer: "https://a.example", ClientID: "1", Active: true},
	}}
	r := newRegistry(store, LegacyConfig{Platforms: map[string]string{
		"https://a.example": "1",
		"https://b.example": "2",
	}})

	issuers, err := r.RegisteredIssuers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, issuers)
}
