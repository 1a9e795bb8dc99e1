package platform

import (
	"encoding/json"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
)

// LegacyConfig is the environment-based registration kept for deployments
// that predate the platform store.
type LegacyConfig struct {
	// Platforms maps issuer to client id (LTI_PLATFORMS).
	Platforms map[string]string
	// ClientID applies to every issuer not otherwise matched (LTI_CLIENT_ID).
	ClientID string
}

// ParseLegacyPlatforms decodes the LTI_PLATFORMS JSON object. Malformed
// input yields an empty map.
func ParseLegacyPlatforms(raw string) map[string]string {
	platforms := map[string]string{}
	if strings.TrimSpace(raw) == "" {
		return platforms
	}
	if err := json.Unmarshal([]byte(raw), &platforms); err != nil {
		log.Warn().Err(err).Msg("ignoring malformed LTI_PLATFORMS")
		return map[string]string{}
	}
	return platforms
}

// ClientIDFor tries an exact match, then a normalized match, then the
// global client id.
func (c LegacyConfig) ClientIDFor(issuer string) string {
	if id, ok := c.Platforms[issuer]; ok && id != "" {
		return id
	}

	normalized := NormalizeIssuer(issuer)
	for configured, id := range c.Platforms {
		if id != "" && NormalizeIssuer(configured) == normalized {
			return id
		}
	}

	return c.ClientID
}

// NormalizeIssuer reduces an issuer to host[:port]path, dropping the scheme
// the default ports 80 and 443, and a trailing slash. Unparseable input is
// returned unchanged.
func NormalizeIssuer(issuer string) string {
	u, err := url.Parse(issuer)
	if err != nil {
		return issuer
	}
	port := u.Port()
	if port == "80" || port == "443" {
		port = ""
	}
	host := u.Hostname()
	if port != "" {
		host += ":" + port
	}
	return host + strings.TrimSuffix(u.Path, "/")
}
