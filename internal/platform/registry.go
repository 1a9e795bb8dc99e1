// Package platform resolves LTI issuers to their trusted registrations.
package platform

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/providentiaww/trilix-lti/internal/cache"
	"github.com/providentiaww/trilix-lti/internal/metrics"
	"github.com/providentiaww/trilix-lti/internal/models"
	"github.com/providentiaww/trilix-lti/internal/storage"
)

var (
	// ErrUnknownPlatform means no registration or fallback covers an issuer.
	ErrUnknownPlatform = errors.New("unknown platform")
	// ErrNoAPIToken means a platform has no API token stored or configured.
	ErrNoAPIToken = errors.New("no API token configured")
)

// ConfigurationError reports an issuer with no trusted client id.
type ConfigurationError struct {
	Issuer string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("no client_id configured for issuer %s", e.Issuer)
}

func (e *ConfigurationError) Unwrap() error {
	return ErrUnknownPlatform
}

// Registry maps an issuer to its registration. Lookups go through the cache,
// then the store (active records only), then the legacy configuration.
type Registry struct {
	// gen is bumped by every invalidation so a lookup that read the store
	// before the invalidation does not cache what it read.
	mu  sync.Mutex
	gen uint64

	store  storage.PlatformReader
	cache  *cache.Cache[models.Platform]
	legacy LegacyConfig
	getenv func(string) string
}

// NewRegistry creates a registry. store may be nil when only the legacy
// configuration is used.
func NewRegistry(store storage.PlatformReader, c *cache.Cache[models.Platform], legacy LegacyConfig) *Registry {
	return &Registry{
		store:  store,
		cache:  c,
		legacy: legacy,
		getenv: os.Getenv,
	}
}

// ClientIDFor returns the client id registered for issuer.
func (r *Registry) ClientIDFor(ctx context.Context, issuer string) (string, error) {
	p, err := r.resolve(ctx, issuer)
	if err != nil {
		return "", err
	}
	return p.ClientID, nil
}

// BaseURLFor returns the network location of the platform, which differs
// from the issuer for self-hosted instances behind a tunnel or proxy.
func (r *Registry) BaseURLFor(ctx context.Context, issuer string) (string, error) {
	p, err := r.resolve(ctx, issuer)
	if err != nil {
		return "", err
	}
	return p.ReachableURL(), nil
}

// APITokenFor returns the REST API token for the platform, falling back to
// CANVAS_API_TOKEN_<clientId>.
func (r *Registry) APITokenFor(ctx context.Context, issuer string) (string, error) {
	p, err := r.resolve(ctx, issuer)
	if err != nil {
		return "", err
	}
	if p.APIToken != "" {
		return p.APIToken, nil
	}
	if token := r.getenv("CANVAS_API_TOKEN_" + p.ClientID); token != "" {
		return token, nil
	}
	return "", fmt.Errorf("%w for issuer %s (set it on the platform or CANVAS_API_TOKEN_%s)", ErrNoAPIToken, issuer, p.ClientID)
}

// RegisteredIssuers lists the active stored issuers followed by the legacy
// configured ones, without duplicates.
func (r *Registry) RegisteredIssuers(ctx context.Context) ([]string, error) {
	var issuers []string
	if r.store != nil {
		stored, err := r.store.ListActiveIssuers(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing stored issuers: %w", err)
		}
		issuers = append(issuers, stored...)
	}

	legacy := make([]string, 0, len(r.legacy.Platforms))
	for iss := range r.legacy.Platforms {
		legacy = append(legacy, iss)
	}
	sort.Strings(legacy)
	issuers = append(issuers, legacy...)

	seen := make(map[string]bool, len(issuers))
	out := issuers[:0]
	for _, iss := range issuers {
		if seen[iss] {
			continue
		}
		seen[iss] = true
		out = append(out, iss)
	}
	return out, nil
}

// Invalidate drops the cached entry for issuer. Must be called after any
// create, update or delete of the issuer's record.
func (r *Registry) Invalidate(issuer string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gen++
	r.cache.Delete(issuer)
}

// InvalidateAll drops every cached entry.
func (r *Registry) InvalidateAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gen++
	r.cache.Clear()
}

// Sweep drops expired cache entries.
func (r *Registry) Sweep() int {
	return r.cache.Sweep()
}

func (r *Registry) generation() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gen
}

func (r *Registry) cacheIfCurrent(issuer string, p models.Platform, gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen == gen {
		r.cache.Set(issuer, p)
	}
}

func (r *Registry) resolve(ctx context.Context, issuer string) (models.Platform, error) {
	if p, ok := r.cache.Get(issuer); ok {
		metrics.PlatformLookup("hit")
		return p, nil
	}

	gen := r.generation()

	if r.store != nil {
		p, err := r.store.FindActiveByIssuer(ctx, issuer)
		switch {
		case err == nil:
			metrics.PlatformLookup("store")
			r.cacheIfCurrent(issuer, *p, gen)
			return *p, nil
		case !errors.Is(err, storage.ErrNotFound):
			return models.Platform{}, fmt.Errorf("looking up platform %s: %w", issuer, err)
		}
	}

	clientID := r.legacy.ClientIDFor(issuer)
	if clientID == "" {
		metrics.PlatformLookup("miss")
		log.Ctx(ctx).Warn().Str("issuer", issuer).Msg("no platform registered for issuer")
		return models.Platform{}, &ConfigurationError{Issuer: issuer}
	}

	metrics.PlatformLookup("legacy")
	p := models.Platform{Issuer: issuer, ClientID: clientID, Active: true}
	r.cacheIfCurrent(issuer, p, gen)
	return p, nil
}
