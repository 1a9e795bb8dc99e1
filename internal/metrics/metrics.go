// Package metrics holds the Prometheus counters for the launch flow.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	loginInitiations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lti_login_initiations_total",
			Help: "Total number of OIDC login initiations, by result.",
		},
		[]string{"result"}, // success, invalid, unknown_platform, error
	)

	launches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lti_launches_total",
			Help: "Total number of LTI launches, by result.",
		},
		[]string{"result"}, // success, missing_token, invalid_state, unknown_platform, verification_failed, error
	)

	nonceValidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lti_nonce_validation_total",
			Help: "Total number of nonce consumptions, by result.",
		},
		[]string{"result"}, // success, replay
	)

	jwksFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lti_jwks_fetches_total",
			Help: "Total number of JWKS lookups, by result.",
		},
		[]string{"result"}, // hit, success, failure
	)

	platformCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lti_platform_cache_total",
			Help: "Total number of platform registry lookups, by result.",
		},
		[]string{"result"}, // hit, store, legacy, miss
	)

	requestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lti_http_requests_total",
			Help: "Total number of HTTP requests made.",
		},
		[]string{"method", "path", "code"},
	)
)

// Handler exposes the default registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

func LoginInitiation(result string) {
	loginInitiations.WithLabelValues(result).Inc()
}

func Launch(result string) {
	launches.WithLabelValues(result).Inc()
}

func NonceValidation(result string) {
	nonceValidations.WithLabelValues(result).Inc()
}

func JWKSFetch(result string) {
	jwksFetches.WithLabelValues(result).Inc()
}

func PlatformLookup(result string) {
	platformCache.WithLabelValues(result).Inc()
}

// Request records one served HTTP request.
func Request(method, path string, code int) {
	if path == "" {
		path = "/"
	}
	requestCount.WithLabelValues(method, path, strconv.Itoa(code)).Inc()
}
