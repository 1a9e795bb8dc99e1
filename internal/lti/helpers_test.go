package lti

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/stretchr/testify/require"

	"github.com/providentiaww/trilix-lti/internal/models"
	"github.com/providentiaww/trilix-lti/internal/storage"
)

const (
	testIssuer   = "https://lms.example"
	testClientID = "10000000000001"
	testKID      = "kid-2026-01"
)

type staticKeys struct {
	set   jwk.Set
	err   error
	calls int
}

func (s *staticKeys) Fetch(context.Context, string) (jwk.Set, error) {
	s.calls++
	return s.set, s.err
}

func newSigningKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func keySet(t *testing.T, kid string, pub *rsa.PublicKey) jwk.Set {
	t.Helper()
	key, err := jwk.FromRaw(pub)
	require.NoError(t, err)
	require.NoError(t, key.Set(jwk.KeyIDKey, kid))
	set := jwk.NewSet()
	require.NoError(t, set.AddKey(key))
	return set
}

func mintToken(t *testing.T, priv *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	signed, err := tok.SignedString(priv)
	require.NoError(t, err)
	return signed
}

func launchClaims(nonce string) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":   testIssuer,
		"aud":   []string{testClientID},
		"sub":   "user-42",
		"iat":   now.Unix(),
		"exp":   now.Add(5 * time.Minute).Unix(),
		"nonce": nonce,
		"name":  "Ada Lovelace",
		claimDeploymentID: "1:deployment",
		claimMessageType:  "LtiResourceLinkRequest",
		claimVersion:      "1.3.0",
		claimRoles:        []string{"http://purl.imsglobal.org/vocab/lis/v2/membership#Instructor"},
		claimContext: map[string]any{
			"id":    "ctx-1",
			"title": "Biology 101",
			"label": "BIO101",
			"type":  []string{"http://purl.imsglobal.org/vocab/lis/v2/course#CourseOffering"},
		},
	}
}

type memoryPlatforms struct {
	platform models.Platform
}

func (m *memoryPlatforms) FindActiveByIssuer(_ context.Context, issuer string) (*models.Platform, error) {
	if m.platform.Issuer != issuer || !m.platform.Active {
		return nil, storage.ErrNotFound
	}
	p := m.platform
	return &p, nil
}

func (m *memoryPlatforms) ListActiveIssuers(context.Context) ([]string, error) {
	return []string{m.platform.Issuer}, nil
}

func jsonEncode(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}
