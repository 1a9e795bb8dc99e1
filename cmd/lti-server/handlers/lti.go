package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/providentiaww/trilix-lti/cmd/lti-server/auth"
	"github.com/providentiaww/trilix-lti/internal/events"
	"github.com/providentiaww/trilix-lti/internal/lti"
	"github.com/providentiaww/trilix-lti/internal/models"
	"github.com/providentiaww/trilix-lti/internal/platform"
	"github.com/providentiaww/trilix-lti/internal/storage"
)

// LoginStarter starts the OIDC login flow.
type LoginStarter interface {
	Initiate(ctx context.Context, req lti.LoginRequest) (string, error)
}

// LaunchValidator validates an id_token post.
type LaunchValidator interface {
	Handle(ctx context.Context, idToken, state string) (*lti.VerifiedClaims, error)
}

// BaseURLResolver resolves the network base URL of an issuer.
type BaseURLResolver interface {
	BaseURLFor(ctx context.Context, issuer string) (string, error)
}

// LTIHandler serves the login, launch and session endpoints.
type LTIHandler struct {
	login          LoginStarter
	launch         LaunchValidator
	sessions       *auth.LaunchSessions
	contexts       storage.ContextStore
	baseURLs       BaseURLResolver
	events         events.Publisher
	launchRedirect string
}

// NewLTIHandler creates the LTI endpoint handler. contexts and publisher may be nil.
func NewLTIHandler(
	login LoginStarter,
	launch LaunchValidator,
	sessions *auth.LaunchSessions,
	contexts storage.ContextStore,
	baseURLs BaseURLResolver,
	publisher events.Publisher,
	launchRedirect string,
) *LTIHandler {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if launchRedirect == "" {
		launchRedirect = "/lti/session"
	}
	return &LTIHandler{
		login:          login,
		launch:         launch,
		sessions:       sessions,
		contexts:       contexts,
		baseURLs:       baseURLs,
		events:         publisher,
		launchRedirect: launchRedirect,
	}
}

// HandleLogin handles GET/POST /lti/login.
func (h *LTIHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, r, "invalid form body", http.StatusBadRequest)
		return
	}

	req := lti.LoginRequest{
		Issuer:         r.Form.Get("iss"),
		LoginHint:      r.Form.Get("login_hint"),
		TargetLinkURI:  r.Form.Get("target_link_uri"),
		LTIMessageHint: r.Form.Get("lti_message_hint"),
		ClientID:       r.Form.Get("client_id"),
	}

	authURL, err := h.login.Initiate(r.Context(), req)
	if err != nil {
		var verr *lti.ValidationError
		var cfgErr *platform.ConfigurationError
		switch {
		case errors.As(err, &verr):
			writeError(w, r, verr.Message, http.StatusBadRequest, verr.Fields...)
		case errors.As(err, &cfgErr):
			writeError(w, r, cfgErr.Error(), http.StatusBadRequest)
		default:
			log.Ctx(r.Context()).Error().Err(err).Str("issuer", req.Issuer).Msg("login initiation failed")
			writeError(w, r, "login initiation failed", http.StatusInternalServerError)
		}
		return
	}

	http.Redirect(w, r, authURL, http.StatusFound)
}

// HandleLaunch handles POST /lti/launch.
func (h *LTIHandler) HandleLaunch(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, r, "invalid form body", http.StatusBadRequest)
		return
	}

	// the platform reports authorization failures on the redirect itself
	if platformErr := r.PostForm.Get("error"); platformErr != "" {
		log.Ctx(r.Context()).Warn().
			Str("error", platformErr).
			Str("error_description", r.PostForm.Get("error_description")).
			Msg("platform returned an authorization error")
		writeJSON(w, r, map[string]string{
			"error":             platformErr,
			"error_description": r.PostForm.Get("error_description"),
			"state":             r.PostForm.Get("state"),
		}, http.StatusBadRequest)
		return
	}

	claims, err := h.launch.Handle(r.Context(), r.PostForm.Get("id_token"), r.PostForm.Get("state"))
	if err != nil {
		var lerr *lti.LaunchError
		if !errors.As(err, &lerr) {
			log.Ctx(r.Context()).Error().Err(err).Msg("launch failed")
			writeError(w, r, "launch failed", http.StatusInternalServerError)
			return
		}
		if lerr.Kind != lti.VerificationFailed {
			writeError(w, r, lerr.Error(), http.StatusBadRequest)
			return
		}
		resp := ErrorResponse{Error: lerr.Error(), CorrelationID: CorrelationID(r.Context())}
		if reason, ok := lerr.VerificationReason(); ok {
			resp.Reason = string(reason)
		}
		writeJSON(w, r, resp, http.StatusUnauthorized)
		return
	}

	h.recordContext(r.Context(), claims)
	h.publish(r.Context(), claims)

	if err := h.sessions.Save(w, r, claims); err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("failed to save launch session")
		writeError(w, r, "failed to save session", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, h.launchRedirect, http.StatusFound)
}

// SessionResponse is the body of GET /lti/session.
type SessionResponse struct {
	Claims    *lti.VerifiedClaims `json:"claims"`
	ExpiresAt time.Time           `json:"expires_at"`
}

// HandleSession handles GET /lti/session.
func (h *LTIHandler) HandleSession(w http.ResponseWriter, r *http.Request) {
	claims, expiresAt, err := h.sessions.Load(r)
	if err != nil {
		if !errors.Is(err, auth.ErrNoSession) {
			log.Ctx(r.Context()).Warn().Err(err).Msg("unreadable launch session")
		}
		writeError(w, r, "no active launch session", http.StatusUnauthorized)
		return
	}
	writeJSON(w, r, SessionResponse{Claims: claims, ExpiresAt: expiresAt}, http.StatusOK)
}

// recordContext upserts the launch context. Failures are logged; the user
// already holds a verified launch.
func (h *LTIHandler) recordContext(ctx context.Context, claims *lti.VerifiedClaims) {
	if h.contexts == nil || claims.ContextID == "" {
		return
	}

	baseURL := claims.Issuer
	if h.baseURLs != nil {
		if resolved, err := h.baseURLs.BaseURLFor(ctx, claims.Issuer); err == nil {
			baseURL = resolved
		} else {
			log.Ctx(ctx).Warn().Err(err).Str("issuer", claims.Issuer).Msg("base URL lookup failed, using issuer")
		}
	}

	lc := &models.LaunchContext{
		ContextID:        claims.ContextID,
		PlatformIssuer:   claims.Issuer,
		ContextType:      claims.ContextType,
		ContextTitle:     claims.ContextTitle,
		DeploymentID:     claims.DeploymentID,
		BaseURL:          baseURL,
		PlatformCourseID: claims.PlatformCourseID,
	}
	if err := h.contexts.UpsertContext(ctx, lc); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("context_id", claims.ContextID).Msg("failed to record launch context")
	}
}

func (h *LTIHandler) publish(ctx context.Context, claims *lti.VerifiedClaims) {
	event := events.LaunchEvent{
		Issuer:        claims.Issuer,
		DeploymentID:  claims.DeploymentID,
		ContextID:     claims.ContextID,
		ContextTitle:  claims.ContextTitle,
		UserSub:       claims.UserSub,
		Role:          claims.Role,
		MessageType:   claims.MessageType,
		CorrelationID: CorrelationID(ctx),
	}
	if err := h.events.PublishLaunch(ctx, event); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to publish launch event")
	}
}
