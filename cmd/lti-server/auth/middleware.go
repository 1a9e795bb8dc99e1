package auth

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

// AdminMiddleware guards the platform administration API with a bearer token
// compared against a bcrypt hash.
type AdminMiddleware struct {
	tokenHash []byte
}

// NewAdminMiddleware creates the middleware. An empty hash rejects every
// request, so the admin API is closed unless ADMIN_TOKEN_HASH is configured.
func NewAdminMiddleware(tokenHash string) *AdminMiddleware {
	return &AdminMiddleware{tokenHash: []byte(strings.TrimSpace(tokenHash))}
}

// Enabled reports whether an admin token hash is configured.
func (m *AdminMiddleware) Enabled() bool {
	return len(m.tokenHash) > 0
}

// Handler wraps an HTTP handler with admin authentication.
func (m *AdminMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := ExtractTokenFromHeader(r)
		if token == "" {
			writeUnauthorized(w, "missing authentication token")
			return
		}

		if !m.Enabled() {
			log.Ctx(r.Context()).Warn().Msg("admin request rejected, ADMIN_TOKEN_HASH not configured")
			writeUnauthorized(w, "admin API disabled")
			return
		}

		if err := bcrypt.CompareHashAndPassword(m.tokenHash, []byte(token)); err != nil {
			log.Ctx(r.Context()).Warn().Str("remote", r.RemoteAddr).Msg("admin token rejected")
			writeUnauthorized(w, "invalid token")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// HandlerFunc wraps an HTTP handler function with admin authentication.
func (m *AdminMiddleware) HandlerFunc(next http.HandlerFunc) http.Handler {
	return m.Handler(next)
}

// ExtractTokenFromHeader extracts the bearer token from the Authorization header.
func ExtractTokenFromHeader(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	// Expected format: "Bearer <token>"
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="admin"`)
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized: ` + msg + `"}`))
}
