package lti

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/providentiaww/trilix-lti/internal/metrics"
	"github.com/providentiaww/trilix-lti/internal/models"
	"github.com/providentiaww/trilix-lti/internal/platform"
)

// StateTaker consumes login state exactly once.
type StateTaker interface {
	Take(ctx context.Context, state string) (*models.LoginState, bool, error)
}

// TokenVerifier verifies an id_token against its expected origin.
type TokenVerifier interface {
	Verify(ctx context.Context, token, expectedIssuer, expectedAudience, nonce string) (jwt.MapClaims, error)
}

// Launcher turns an inbound id_token into verified claims.
type Launcher struct {
	states   StateTaker
	registry ClientIDResolver
	verifier TokenVerifier
}

// NewLauncher creates a launch handler.
func NewLauncher(states StateTaker, registry ClientIDResolver, verifier TokenVerifier) *Launcher {
	return &Launcher{
		states:   states,
		registry: registry,
		verifier: verifier,
	}
}

// Handle validates a launch. Rejections are *LaunchError; any other error is
// an infrastructure failure (store unreachable and the like).
func (l *Launcher) Handle(ctx context.Context, idToken, state string) (*VerifiedClaims, error) {
	if strings.TrimSpace(idToken) == "" {
		metrics.Launch("missing_token")
		return nil, &LaunchError{Kind: MissingToken}
	}

	loginState, ok, err := l.states.Take(ctx, state)
	if err != nil {
		metrics.Launch("error")
		return nil, fmt.Errorf("consuming login state: %w", err)
	}
	if !ok {
		metrics.Launch("invalid_state")
		log.Ctx(ctx).Warn().Msg("launch with invalid or expired state")
		return nil, &LaunchError{Kind: InvalidState}
	}

	clientID, err := l.registry.ClientIDFor(ctx, loginState.Issuer)
	if err != nil {
		var cfgErr *platform.ConfigurationError
		if errors.As(err, &cfgErr) {
			metrics.Launch("unknown_platform")
			return nil, &LaunchError{Kind: UnknownPlatform, Err: err}
		}
		metrics.Launch("error")
		return nil, err
	}

	payload, err := l.verifier.Verify(ctx, idToken, loginState.Issuer, clientID, loginState.Nonce)
	if err != nil {
		var verr *VerificationError
		if errors.As(err, &verr) {
			metrics.Launch("verification_failed")
			log.Ctx(ctx).Warn().
				Str("issuer", loginState.Issuer).
				Str("reason", string(verr.Reason)).
				Err(err).
				Msg("id_token verification failed")
			return nil, &LaunchError{Kind: VerificationFailed, Err: err}
		}
		metrics.Launch("error")
		return nil, err
	}

	claims := Extract(payload)
	metrics.Launch("success")
	log.Ctx(ctx).Info().
		Str("issuer", claims.Issuer).
		Str("sub", claims.UserSub).
		Str("context_id", claims.ContextID).
		Str("role", claims.Role).
		Msg("LTI launch verified")
	return &claims, nil
}
