package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// ErrorResponse is the JSON body of every error reply.
type ErrorResponse struct {
	Error         string   `json:"error"`
	Fields        []string `json:"fields,omitempty"`
	Reason        string   `json:"reason,omitempty"`
	CorrelationID string   `json:"correlation_id"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("failed to write json response")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, msg string, status int, fields ...string) {
	writeJSON(w, r, ErrorResponse{
		Error:         msg,
		Fields:        fields,
		CorrelationID: CorrelationID(r.Context()),
	}, status)
}
