package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/providentiaww/trilix-lti/internal/models"
	"github.com/providentiaww/trilix-lti/internal/storage"
)

// CacheInvalidator drops cached registry entries.
type CacheInvalidator interface {
	Invalidate(issuer string)
}

// PlatformHandler serves the platform administration API.
type PlatformHandler struct {
	store    storage.PlatformStore
	registry CacheInvalidator
	validate *validator.Validate
}

// NewPlatformHandler creates a new platform handler.
func NewPlatformHandler(store storage.PlatformStore, registry CacheInvalidator) *PlatformHandler {
	return &PlatformHandler{
		store:    store,
		registry: registry,
		validate: validator.New(),
	}
}

// PlatformRequest is the body of create and update calls. On update, empty
// secrets keep the stored values.
type PlatformRequest struct {
	Issuer       string `json:"issuer" validate:"required,url"`
	ClientID     string `json:"clientId" validate:"required"`
	ClientSecret string `json:"clientSecret"`
	APIToken     string `json:"apiToken"`
	BaseURL      string `json:"baseUrl" validate:"omitempty,url"`
	DisplayName  string `json:"displayName" validate:"max=255"`
	Active       *bool  `json:"active"`
}

// PlatformResponse represents a platform without secrets.
type PlatformResponse struct {
	ID              string    `json:"id"`
	Issuer          string    `json:"issuer"`
	ClientID        string    `json:"clientId"`
	BaseURL         string    `json:"baseUrl,omitempty"`
	DisplayName     string    `json:"displayName,omitempty"`
	Active          bool      `json:"active"`
	HasClientSecret bool      `json:"hasClientSecret"`
	HasAPIToken     bool      `json:"hasApiToken"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

func toPlatformResponse(p models.Platform) PlatformResponse {
	return PlatformResponse{
		ID:              p.ID,
		Issuer:          p.Issuer,
		ClientID:        p.ClientID,
		BaseURL:         p.BaseURL,
		DisplayName:     p.DisplayName,
		Active:          p.Active,
		HasClientSecret: p.ClientSecret != "",
		HasAPIToken:     p.APIToken != "",
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}

// HandleList handles GET /admin/platforms.
func (h *PlatformHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	platforms, err := h.store.ListPlatforms(r.Context())
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("failed to list platforms")
		writeError(w, r, "failed to list platforms", http.StatusInternalServerError)
		return
	}

	resp := make([]PlatformResponse, 0, len(platforms))
	for _, p := range platforms {
		resp = append(resp, toPlatformResponse(p))
	}
	writeJSON(w, r, map[string]any{"platforms": resp}, http.StatusOK)
}

// HandleGet handles GET /admin/platforms/{id}.
func (h *PlatformHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	p, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, r, toPlatformResponse(*p), http.StatusOK)
}

// HandleCreate handles POST /admin/platforms.
func (h *PlatformHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	p := &models.Platform{
		Issuer:       req.Issuer,
		ClientID:     req.ClientID,
		ClientSecret: req.ClientSecret,
		APIToken:     req.APIToken,
		BaseURL:      req.BaseURL,
		DisplayName:  req.DisplayName,
		Active:       req.Active == nil || *req.Active,
	}
	if !h.save(w, r, p) {
		return
	}
	h.registry.Invalidate(p.Issuer)

	log.Ctx(r.Context()).Info().Str("platform_id", p.ID).Str("issuer", p.Issuer).Msg("platform registered")
	writeJSON(w, r, toPlatformResponse(*p), http.StatusCreated)
}

// HandleUpdate handles PUT /admin/platforms/{id}.
func (h *PlatformHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	existing, ok := h.lookup(w, r)
	if !ok {
		return
	}
	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	oldIssuer := existing.Issuer
	updated := *existing
	updated.Issuer = req.Issuer
	updated.ClientID = req.ClientID
	updated.BaseURL = req.BaseURL
	updated.DisplayName = req.DisplayName
	if req.ClientSecret != "" {
		updated.ClientSecret = req.ClientSecret
	}
	if req.APIToken != "" {
		updated.APIToken = req.APIToken
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}

	if !h.save(w, r, &updated) {
		return
	}
	h.registry.Invalidate(oldIssuer)
	if updated.Issuer != oldIssuer {
		h.registry.Invalidate(updated.Issuer)
	}

	log.Ctx(r.Context()).Info().Str("platform_id", updated.ID).Str("issuer", updated.Issuer).Msg("platform updated")
	writeJSON(w, r, toPlatformResponse(updated), http.StatusOK)
}

// HandleDelete handles DELETE /admin/platforms/{id}.
func (h *PlatformHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	existing, ok := h.lookup(w, r)
	if !ok {
		return
	}

	if err := h.store.DeletePlatform(r.Context(), existing.ID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, "platform not found", http.StatusNotFound)
			return
		}
		log.Ctx(r.Context()).Error().Err(err).Str("platform_id", existing.ID).Msg("failed to delete platform")
		writeError(w, r, "failed to delete platform", http.StatusInternalServerError)
		return
	}
	h.registry.Invalidate(existing.Issuer)

	log.Ctx(r.Context()).Info().Str("platform_id", existing.ID).Str("issuer", existing.Issuer).Msg("platform deleted")
	w.WriteHeader(http.StatusNoContent)
}

func (h *PlatformHandler) lookup(w http.ResponseWriter, r *http.Request) (*models.Platform, bool) {
	id := r.PathValue("id")
	p, err := h.store.GetPlatform(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, "platform not found", http.StatusNotFound)
			return nil, false
		}
		log.Ctx(r.Context()).Error().Err(err).Str("platform_id", id).Msg("failed to load platform")
		writeError(w, r, "failed to load platform", http.StatusInternalServerError)
		return nil, false
	}
	return p, true
}

func (h *PlatformHandler) decode(w http.ResponseWriter, r *http.Request) (*PlatformRequest, bool) {
	var req PlatformRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, "invalid request body", http.StatusBadRequest)
		return nil, false
	}
	req.Issuer = strings.TrimSpace(req.Issuer)
	req.ClientID = strings.TrimSpace(req.ClientID)
	req.BaseURL = strings.TrimSpace(req.BaseURL)

	if err := h.validate.Struct(req); err != nil {
		var fields []string
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				fields = append(fields, fe.Field())
			}
		}
		writeError(w, r, "invalid platform", http.StatusBadRequest, fields...)
		return nil, false
	}
	return &req, true
}

func (h *PlatformHandler) save(w http.ResponseWriter, r *http.Request, p *models.Platform) bool {
	if err := h.store.SavePlatform(r.Context(), p); err != nil {
		if errors.Is(err, storage.ErrDuplicateIssuer) {
			writeError(w, r, "issuer already registered", http.StatusConflict)
			return false
		}
		log.Ctx(r.Context()).Error().Err(err).Str("issuer", p.Issuer).Msg("failed to save platform")
		writeError(w, r, "failed to save platform", http.StatusInternalServerError)
		return false
	}
	return true
}
