package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/rs/zerolog/log"

	"github.com/providentiaww/trilix-lti/cmd/lti-server/auth"
	"github.com/providentiaww/trilix-lti/cmd/lti-server/handlers"
	"github.com/providentiaww/trilix-lti/internal/cache"
	"github.com/providentiaww/trilix-lti/internal/events"
	"github.com/providentiaww/trilix-lti/internal/jwks"
	"github.com/providentiaww/trilix-lti/internal/lti"
	"github.com/providentiaww/trilix-lti/internal/metrics"
	"github.com/providentiaww/trilix-lti/internal/models"
	"github.com/providentiaww/trilix-lti/internal/onetime"
	"github.com/providentiaww/trilix-lti/internal/platform"
	"github.com/providentiaww/trilix-lti/internal/storage"
	"github.com/providentiaww/trilix-lti/internal/toolkeys"
)

const sweepInterval = time.Minute

// app holds the assembled server components.
type app struct {
	cfg       lti.Config
	store     storage.Store
	tokens    onetime.KeyValueStore
	registry  *platform.Registry
	publisher events.Publisher
	handler   http.Handler
	closers   []func() error
}

// newApp wires storage, the launch core and the HTTP layer. Background
// sweepers stop when ctx is cancelled.
func newApp(ctx context.Context, cfg lti.Config) (*app, error) {
	a := &app{cfg: cfg}

	store, err := storage.NewStoreFromEnv()
	if err != nil {
		return nil, fmt.Errorf("initializing platform store: %w", err)
	}
	a.store = store
	a.closers = append(a.closers, store.Close)

	if err := a.initTokenStore(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.registry = platform.NewRegistry(store, cache.New[models.Platform](cfg.PlatformCacheTTL), cfg.Legacy)

	keys := jwks.New(a.registry, cache.New[jwk.Set](cfg.JWKSCacheTTL),
		jwks.WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}),
		jwks.WithPath(cfg.JWKSPath),
	)
	go sweep(ctx, "platform_cache", func() (int64, error) { return int64(a.registry.Sweep()), nil })
	go sweep(ctx, "jwks_cache", func() (int64, error) { return int64(keys.Sweep()), nil })

	states := onetime.NewStateStore(a.tokens, cfg.StateTTL)
	nonces := onetime.NewNonceStore(a.tokens, cfg.NonceTTL)
	initiator := lti.NewInitiator(states, nonces, a.registry, cfg.AuthorizePath)
	launcher := lti.NewLauncher(states, a.registry, lti.NewVerifier(keys, nonces))

	a.publisher = newPublisher()
	a.closers = append(a.closers, a.publisher.Close)

	secret := os.Getenv("SESSION_SECRET")
	if len(secret) < 32 {
		a.Close()
		return nil, fmt.Errorf("SESSION_SECRET must be at least 32 bytes")
	}
	sessions := auth.NewLaunchSessions([]byte(secret), cfg.SessionTTL, a.tokens)

	toolKeys, err := toolkeys.LoadFromEnv()
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("loading tool key: %w", err)
	}

	admin := auth.NewAdminMiddleware(os.Getenv("ADMIN_TOKEN_HASH"))
	if !admin.Enabled() {
		log.Warn().Msg("ADMIN_TOKEN_HASH not set, admin API will reject all requests")
	}

	checks := map[string]handlers.Check{"platforms": store.Ping}
	if p, ok := a.tokens.(onetime.Pinger); ok {
		checks["one_time_tokens"] = p.Ping
	}

	a.handler = handlers.NewRouter(handlers.Routes{
		LTI:       handlers.NewLTIHandler(initiator, launcher, sessions, store, a.registry, a.publisher, cfg.LaunchRedirect),
		Platforms: handlers.NewPlatformHandler(store, a.registry),
		Admin:     admin,
		ToolKeys:  handlers.NewToolJWKSHandler(toolKeys),
		Health:    handlers.NewHealthHandler(checks),
		Metrics:   metrics.Handler(),
	})
	return a, nil
}

// initTokenStore picks Redis, then the platform database, then memory.
func (a *app) initTokenStore(ctx context.Context) error {
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		rs, err := onetime.NewRedisStoreFromURL(ctx, redisURL)
		if err != nil {
			return err
		}
		log.Info().Msg("one-time tokens stored in Redis")
		a.tokens = rs
		a.closers = append(a.closers, rs.Close)
		return nil
	}

	if pg, ok := a.store.(*storage.PostgresStore); ok {
		ps := onetime.NewPostgresStore(pg.DB())
		if err := ps.InitSchema(ctx); err != nil {
			return fmt.Errorf("initializing one-time token table: %w", err)
		}
		log.Info().Msg("one-time tokens stored in PostgreSQL")
		a.tokens = ps
		go sweep(ctx, "postgres", func() (int64, error) { return ps.PurgeExpired(ctx) })
		return nil
	}

	log.Warn().Msg("one-time tokens kept in memory, only safe for a single instance")
	ms := onetime.NewMemoryStore(nil)
	a.tokens = ms
	go sweep(ctx, "memory", func() (int64, error) { return int64(ms.Sweep()), nil })
	return nil
}

func newPublisher() events.Publisher {
	amqpURL := os.Getenv("AMQP_URL")
	if amqpURL == "" {
		return events.NopPublisher{}
	}
	exchange := os.Getenv("AMQP_EXCHANGE")
	if exchange == "" {
		exchange = events.DefaultExchange
	}
	p, err := events.DialAMQP(amqpURL, exchange)
	if err != nil {
		log.Error().Err(err).Msg("launch events disabled, AMQP connection failed")
		return events.NopPublisher{}
	}
	log.Info().Str("exchange", exchange).Msg("publishing launch events")
	return p
}

func sweep(ctx context.Context, name string, purge func() (int64, error)) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := purge()
			if err != nil {
				log.Warn().Err(err).Str("store", name).Msg("expired entry purge failed")
				continue
			}
			if n > 0 {
				log.Debug().Int64("removed", n).Str("store", name).Msg("expired entries purged")
			}
		}
	}
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Warn().Err(err).Msg("error during shutdown")
		}
	}
	a.closers = nil
}
