// Package jwks fetches and caches platform public key sets.
package jwks

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/providentiaww/trilix-lti/internal/cache"
	"github.com/providentiaww/trilix-lti/internal/metrics"
)

const (
	// DefaultPath is the Canvas JWKS endpoint relative to the platform base URL.
	DefaultPath = "/api/lti/security/jwks"
	// DefaultTTL bounds how stale a cached key set may be.
	DefaultTTL = 5 * time.Minute
	// MinRefreshInterval limits forced refetches triggered by unknown kids.
	MinRefreshInterval = 30 * time.Second

	defaultTimeout  = 10 * time.Second
	maxResponseSize = 1 << 20
)

var (
	// ErrKeyNotFound is returned when no key in the set carries the kid.
	ErrKeyNotFound = errors.New("key not found")
	// ErrNotRSA is returned for keys that cannot verify RS256.
	ErrNotRSA = errors.New("key is not an RSA key")
)

// FetchError describes a failed key set download. Status is zero for
// transport and parse failures.
type FetchError struct {
	Issuer string
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetching JWKS for %s from %s: unexpected status %d", e.Issuer, e.URL, e.Status)
	}
	return fmt.Sprintf("fetching JWKS for %s from %s: %v", e.Issuer, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// BaseURLResolver maps an issuer to the network location of its platform.
type BaseURLResolver interface {
	BaseURLFor(ctx context.Context, issuer string) (string, error)
}

// Cache fetches key sets on demand and keeps them for a fixed TTL. Concurrent
// misses for the same issuer share one request.
type Cache struct {
	resolver BaseURLResolver
	entries  *cache.Cache[jwk.Set]
	client   *http.Client
	path     string
	group    singleflight.Group

	// issuers refreshed within MinRefreshInterval
	refreshed *cache.Cache[struct{}]
}

// Option configures a Cache.
type Option func(*Cache)

// WithHTTPClient replaces the default client (10s timeout).
func WithHTTPClient(client *http.Client) Option {
	return func(c *Cache) {
		c.client = client
	}
}

// WithPath overrides the JWKS path appended to the base URL.
func WithPath(path string) Option {
	return func(c *Cache) {
		if path != "" {
			c.path = path
		}
	}
}

// New creates a key set cache backed by entries.
func New(resolver BaseURLResolver, entries *cache.Cache[jwk.Set], opts ...Option) *Cache {
	c := &Cache{
		resolver: resolver,
		entries:  entries,
		client:   &http.Client{Timeout: defaultTimeout},
		path:     DefaultPath,

		refreshed: cache.New[struct{}](MinRefreshInterval),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch returns the key set for issuer, downloading it when the cached copy
// is missing or older than the TTL.
func (c *Cache) Fetch(ctx context.Context, issuer string) (jwk.Set, error) {
	if set, ok := c.entries.Get(issuer); ok {
		metrics.JWKSFetch("hit")
		return set, nil
	}

	v, err, _ := c.group.Do(issuer, func() (any, error) {
		set, err := c.download(ctx, issuer)
		if err != nil {
			return nil, err
		}
		c.entries.Set(issuer, set)
		return set, nil
	})
	if err != nil {
		metrics.JWKSFetch("failure")
		return nil, err
	}
	metrics.JWKSFetch("success")
	return v.(jwk.Set), nil
}

// Refresh drops the cached set for issuer and downloads it again. Used when
// a token names a kid the cached set lacks, which is what a key rotation
// looks like. At most one refresh per issuer runs per MinRefreshInterval;
// otherwise the cached set is returned.
func (c *Cache) Refresh(ctx context.Context, issuer string) (jwk.Set, error) {
	if _, recent := c.refreshed.Get(issuer); !recent {
		c.refreshed.Set(issuer, struct{}{})
		c.entries.Delete(issuer)
		log.Ctx(ctx).Info().Str("issuer", issuer).Msg("refreshing JWKS for unknown key id")
	}
	return c.Fetch(ctx, issuer)
}

// Sweep drops expired key sets.
func (c *Cache) Sweep() int {
	c.refreshed.Sweep()
	return c.entries.Sweep()
}

func (c *Cache) download(ctx context.Context, issuer string) (jwk.Set, error) {
	baseURL, err := c.resolver.BaseURLFor(ctx, issuer)
	if err != nil {
		return nil, &FetchError{Issuer: issuer, Err: err}
	}
	jwksURL := baseURL + c.path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jwksURL, nil)
	if err != nil {
		return nil, &FetchError{Issuer: issuer, URL: jwksURL, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("issuer", issuer).Str("url", jwksURL).Msg("JWKS request failed")
		return nil, &FetchError{Issuer: issuer, URL: jwksURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Ctx(ctx).Warn().Str("issuer", issuer).Str("url", jwksURL).Int("status", resp.StatusCode).Msg("JWKS endpoint returned an error")
		return nil, &FetchError{Issuer: issuer, URL: jwksURL, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &FetchError{Issuer: issuer, URL: jwksURL, Err: err}
	}

	set, err := jwk.Parse(body)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("issuer", issuer).Str("url", jwksURL).Msg("malformed JWKS response")
		return nil, &FetchError{Issuer: issuer, URL: jwksURL, Err: fmt.Errorf("parsing key set: %w", err)}
	}

	log.Ctx(ctx).Debug().Str("issuer", issuer).Int("keys", set.Len()).Msg("JWKS refreshed")
	return set, nil
}

// PublicKey returns the RSA key identified by kid.
func PublicKey(set jwk.Set, kid string) (*rsa.PublicKey, error) {
	key, ok := set.LookupKeyID(kid)
	if !ok {
		return nil, fmt.Errorf("%w: kid %q", ErrKeyNotFound, kid)
	}
	if key.KeyType() != jwa.RSA {
		return nil, fmt.Errorf("%w: kid %q has type %s", ErrNotRSA, kid, key.KeyType())
	}

	var raw rsa.PublicKey
	if err := key.Raw(&raw); err != nil {
		return nil, fmt.Errorf("converting kid %q: %w", kid, err)
	}
	return &raw, nil
}
