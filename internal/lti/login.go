package lti

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/providentiaww/trilix-lti/internal/metrics"
	"github.com/providentiaww/trilix-lti/internal/models"
	"github.com/providentiaww/trilix-lti/internal/onetime"
	"github.com/providentiaww/trilix-lti/internal/platform"
)

// LoginRequest carries the OIDC third-party login initiation parameters.
type LoginRequest struct {
	Issuer         string `param:"iss" validate:"required"`
	LoginHint      string `param:"login_hint" validate:"required"`
	TargetLinkURI  string `param:"target_link_uri" validate:"required"`
	LTIMessageHint string `param:"lti_message_hint"`
	ClientID       string `param:"client_id"`
}

// ClientIDResolver maps an issuer to the tool's registered client id.
type ClientIDResolver interface {
	ClientIDFor(ctx context.Context, issuer string) (string, error)
}

// StateSaver persists login state until the launch.
type StateSaver interface {
	Save(ctx context.Context, state string, value models.LoginState) error
}

// NonceIssuer creates and records a new nonce.
type NonceIssuer interface {
	Issue(ctx context.Context) (string, error)
}

// Initiator builds the redirect to the platform's authorization endpoint.
type Initiator struct {
	states        StateSaver
	nonces        NonceIssuer
	registry      ClientIDResolver
	authorizePath string
	validate      *validator.Validate
}

// NewInitiator creates a login initiator. An empty authorizePath uses the
// Canvas default.
func NewInitiator(states StateSaver, nonces NonceIssuer, registry ClientIDResolver, authorizePath string) *Initiator {
	if authorizePath == "" {
		authorizePath = DefaultAuthorizePath
	}
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return f.Tag.Get("param")
	})
	return &Initiator{
		states:        states,
		nonces:        nonces,
		registry:      registry,
		authorizePath: authorizePath,
		validate:      v,
	}
}

// Initiate stores a fresh state and nonce and returns the authorization URL
// the user agent must be redirected to.
func (i *Initiator) Initiate(ctx context.Context, req LoginRequest) (string, error) {
	req.Issuer = strings.TrimSpace(req.Issuer)
	req.LoginHint = strings.TrimSpace(req.LoginHint)
	req.TargetLinkURI = strings.TrimSpace(req.TargetLinkURI)

	if err := i.validate.Struct(req); err != nil {
		metrics.LoginInitiation("invalid")
		verr := &ValidationError{Message: "missing required parameters"}
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				verr.Fields = append(verr.Fields, fe.Field())
			}
		}
		return "", verr
	}

	state, err := onetime.NewState()
	if err != nil {
		metrics.LoginInitiation("error")
		return "", fmt.Errorf("generating state: %w", err)
	}
	nonce, err := i.nonces.Issue(ctx)
	if err != nil {
		metrics.LoginInitiation("error")
		return "", err
	}

	loginState := models.LoginState{
		Issuer:        req.Issuer,
		TargetLinkURI: req.TargetLinkURI,
		Nonce:         nonce,
	}
	if err := i.states.Save(ctx, state, loginState); err != nil {
		metrics.LoginInitiation("error")
		return "", fmt.Errorf("storing login state: %w", err)
	}

	clientID, err := i.registry.ClientIDFor(ctx, req.Issuer)
	if err != nil {
		var cfgErr *platform.ConfigurationError
		if errors.As(err, &cfgErr) {
			metrics.LoginInitiation("unknown_platform")
		} else {
			metrics.LoginInitiation("error")
		}
		return "", err
	}
	if req.ClientID != "" && req.ClientID != clientID {
		log.Ctx(ctx).Warn().
			Str("issuer", req.Issuer).
			Str("requested_client_id", req.ClientID).
			Str("registered_client_id", clientID).
			Msg("login client_id differs from registration, using registered value")
	}

	authURL, err := i.authorizationURL(req, clientID, state, nonce)
	if err != nil {
		metrics.LoginInitiation("invalid")
		return "", &ValidationError{Message: "invalid issuer", Fields: []string{"iss"}}
	}

	metrics.LoginInitiation("success")
	log.Ctx(ctx).Info().Str("issuer", req.Issuer).Str("client_id", clientID).Msg("OIDC login initiated")
	return authURL, nil
}

func (i *Initiator) authorizationURL(req LoginRequest, clientID, state, nonce string) (string, error) {
	endpoint, err := url.Parse(strings.TrimRight(req.Issuer, "/") + i.authorizePath)
	if err != nil {
		return "", err
	}

	q := url.Values{}
	q.Set("response_type", "id_token")
	q.Set("client_id", clientID)
	q.Set("redirect_uri", req.TargetLinkURI)
	q.Set("login_hint", req.LoginHint)
	q.Set("state", state)
	q.Set("response_mode", "form_post")
	q.Set("nonce", nonce)
	q.Set("prompt", "none")
	if req.LTIMessageHint != "" {
		q.Set("lti_message_hint", req.LTIMessageHint)
	}
	endpoint.RawQuery = q.Encode()
	return endpoint.String(), nil
}
