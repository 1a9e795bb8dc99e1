package lti

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/providentiaww/trilix-lti/internal/cache"
	"github.com/providentiaww/trilix-lti/internal/models"
	"github.com/providentiaww/trilix-lti/internal/onetime"
	"github.com/providentiaww/trilix-lti/internal/platform"
)

func newTestRegistry(legacy platform.LegacyConfig) *platform.Registry {
	return platform.NewRegistry(nil, cache.New[models.Platform](5*time.Minute), legacy)
}

func TestInitiate_BuildsAuthorizationURL(t *testing.T) {
	store := onetime.NewMemoryStore(nil)
	states := onetime.NewStateStore(store, 0)
	nonces := onetime.NewNonceStore(store, 0)
	registry := newTestRegistry(platform.LegacyConfig{Platforms: map[string]string{testIssuer: testClientID}})
	initiator := NewInitiator(states, nonces, registry, "")
	ctx := context.Background()

	redirect, err := initiator.Initiate(ctx, LoginRequest{
		Issuer:         testIssuer,
		LoginHint:      "user-42",
		TargetLinkURI:  "https://tool.example/launch",
		LTIMessageHint: "hint-abc",
	})
	require.NoError(t, err)

	u, err := url.Parse(redirect)
	require.NoError(t, err)
	assert.Equal(t, "lms.example", u.Host)
	assert.Equal(t, DefaultAuthorizePath, u.Path)

	q := u.Query()
	assert.Equal(t, "id_token", q.Get("response_type"))
	assert.Equal(t, testClientID, q.Get("client_id"))
	assert.Equal(t, "https://tool.example/launch", q.Get("redirect_uri"))
	assert.Equal(t, "user-42", q.Get("login_hint"))
	assert.Equal(t, "form_post", q.Get("response_mode"))
	assert.Equal(t, "none", q.Get("prompt"))
	assert.Equal(t, "hint-abc", q.Get("lti_message_hint"))
	assert.Len(t, q.Get("state"), 32)
	assert.Len(t, q.Get("nonce"), 64)

	saved, ok, err := states.Take(ctx, q.Get("state"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, testIssuer, saved.Issuer)
	assert.Equal(t, "https://tool.example/launch", saved.TargetLinkURI)
	assert.Equal(t, q.Get("nonce"), saved.Nonce)

	consumed, err := nonces.Consume(ctx, q.Get("nonce"))
	require.NoError(t, err)
	assert.True(t, consumed)
}

func TestInitiate_MissingParameters(t *testing.T) {
	store := onetime.NewMemoryStore(nil)
	initiator := NewInitiator(onetime.NewStateStore(store, 0), onetime.NewNonceStore(store, 0),
		newTestRegistry(platform.LegacyConfig{ClientID: "x"}), "")

	_, err := initiator.Initiate(context.Background(), LoginRequest{Issuer: testIssuer, LoginHint: "  "})
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "missing required parameters", verr.Error())
	assert.ElementsMatch(t, []string{"login_hint", "target_link_uri"}, verr.Fields)
}

func TestInitiate_UnknownPlatform(t *testing.T) {
	store := onetime.NewMemoryStore(nil)
	initiator := NewInitiator(onetime.NewStateStore(store, 0), onetime.NewNonceStore(store, 0),
		newTestRegistry(platform.LegacyConfig{}), "")

	_, err := initiator.Initiate(context.Background(), LoginRequest{
		Issuer:        "https://unregistered.example",
		LoginHint:     "u",
		TargetLinkURI: "https://tool.example/launch",
	})
	assert.ErrorIs(t, err, platform.ErrUnknownPlatform)
}

func TestInitiate_CustomAuthorizePath(t *testing.T) {
	store := onetime.NewMemoryStore(nil)
	initiator := NewInitiator(onetime.NewStateStore(store, 0), onetime.NewNonceStore(store, 0),
		newTestRegistry(platform.LegacyConfig{ClientID: "x"}), "/oidc/auth")

	redirect, err := initiator.Initiate(context.Background(), LoginRequest{
		Issuer:        "https://moodle.example/",
		LoginHint:     "u",
		TargetLinkURI: "https://tool.example/launch",
	})
	require.NoError(t, err)
	u, err := url.Parse(redirect)
	require.NoError(t, err)
	assert.Equal(t, "/oidc/auth", u.Path)
}
