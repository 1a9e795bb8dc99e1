package lti

import (
	"os"
	"strings"
	"time"

	"github.com/providentiaww/trilix-lti/internal/jwks"
	"github.com/providentiaww/trilix-lti/internal/onetime"
	"github.com/providentiaww/trilix-lti/internal/platform"
)

// DefaultAuthorizePath is the Canvas OIDC authorization endpoint relative to the issuer.
const DefaultAuthorizePath = "/api/lti/authorize_redirect"

// Config holds launch flow settings.
type Config struct {
	StateTTL         time.Duration
	NonceTTL         time.Duration
	PlatformCacheTTL time.Duration
	JWKSCacheTTL     time.Duration
	HTTPTimeout      time.Duration
	SessionTTL       time.Duration
	AuthorizePath    string
	JWKSPath         string
	LaunchRedirect   string
	Legacy           platform.LegacyConfig
}

// LoadConfigFromEnv loads launch config from environment variables.
func LoadConfigFromEnv() Config {
	authorizePath := strings.TrimSpace(os.Getenv("LTI_AUTHORIZE_PATH"))
	if authorizePath == "" {
		authorizePath = DefaultAuthorizePath
	}

	jwksPath := strings.TrimSpace(os.Getenv("LTI_JWKS_PATH"))
	if jwksPath == "" {
		jwksPath = jwks.DefaultPath
	}

	launchRedirect := strings.TrimSpace(os.Getenv("LTI_LAUNCH_REDIRECT"))
	if launchRedirect == "" {
		launchRedirect = "/lti/session"
	}

	return Config{
		StateTTL:         parseDurationEnv("LTI_STATE_TTL", onetime.DefaultTTL),
		NonceTTL:         parseDurationEnv("LTI_NONCE_TTL", onetime.DefaultTTL),
		PlatformCacheTTL: parseDurationEnv("LTI_PLATFORM_CACHE_TTL", 5*time.Minute),
		JWKSCacheTTL:     parseDurationEnv("LTI_JWKS_CACHE_TTL", jwks.DefaultTTL),
		HTTPTimeout:      parseDurationEnv("LTI_HTTP_TIMEOUT", 10*time.Second),
		SessionTTL:       parseDurationEnv("LTI_SESSION_TTL", time.Hour),
		AuthorizePath:    authorizePath,
		JWKSPath:         jwksPath,
		LaunchRedirect:   launchRedirect,
		Legacy: platform.LegacyConfig{
			Platforms: platform.ParseLegacyPlatforms(os.Getenv("LTI_PLATFORMS")),
			ClientID:  strings.TrimSpace(os.Getenv("LTI_CLIENT_ID")),
		},
	}
}

func parseDurationEnv(key string, fallback time.Duration) time.Duration {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		if dur, err := time.ParseDuration(val); err == nil && dur > 0 {
			return dur
		}
	}
	return fallback
}
