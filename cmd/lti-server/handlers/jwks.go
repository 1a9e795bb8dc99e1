package handlers

import (
	"net/http"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/rs/zerolog/log"
)

// PublicKeySource provides the tool's public key set.
type PublicKeySource interface {
	PublicSet() (jwk.Set, error)
}

// ToolJWKSHandler serves GET /lti/jwks, the key set platforms use to verify
// messages signed by this tool.
type ToolJWKSHandler struct {
	keys PublicKeySource
}

// NewToolJWKSHandler creates the handler.
func NewToolJWKSHandler(keys PublicKeySource) *ToolJWKSHandler {
	return &ToolJWKSHandler{keys: keys}
}

func (h *ToolJWKSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	set, err := h.keys.PublicSet()
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("failed to build tool key set")
		writeError(w, r, "key set unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=3600")
	writeJSON(w, r, set, http.StatusOK)
}
