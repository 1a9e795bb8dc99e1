package lti

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/rs/zerolog/log"

	"github.com/providentiaww/trilix-lti/internal/jwks"
)

// KeySource returns the public key set published by an issuer.
type KeySource interface {
	Fetch(ctx context.Context, issuer string) (jwk.Set, error)
}

// KeyRefresher is implemented by key sources that can bypass their cache.
// The verifier refreshes once when a token names a kid the cached set lacks.
type KeyRefresher interface {
	Refresh(ctx context.Context, issuer string) (jwk.Set, error)
}

// NonceConsumer atomically consumes an outstanding nonce.
type NonceConsumer interface {
	Consume(ctx context.Context, nonce string) (bool, error)
}

// Verifier checks id_token signatures and claims.
type Verifier struct {
	keys   KeySource
	nonces NonceConsumer
	now    func() time.Time
}

// NewVerifier creates a verifier.
func NewVerifier(keys KeySource, nonces NonceConsumer) *Verifier {
	return &Verifier{
		keys:   keys,
		nonces: nonces,
		now:    time.Now,
	}
}

// Verify validates token against the expected issuer, audience and nonce and
// returns its payload. The nonce is consumed only after every other check
// passed, so a rejected token never burns an outstanding nonce.
func (v *Verifier) Verify(ctx context.Context, token, expectedIssuer, expectedAudience, nonce string) (jwt.MapClaims, error) {
	logger := log.Ctx(ctx).With().Str("issuer", expectedIssuer).Logger()

	unverified, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return nil, verificationError(ReasonFormat, "invalid token format", err)
	}
	kid, _ := unverified.Header["kid"].(string)

	set, err := v.keys.Fetch(ctx, expectedIssuer)
	if err != nil {
		logger.Warn().Err(err).Msg("could not load platform keys")
		return nil, verificationError(ReasonFetch, "failed to fetch JWKS", err)
	}

	publicKey, err := jwks.PublicKey(set, kid)
	if errors.Is(err, jwks.ErrKeyNotFound) {
		if refresher, ok := v.keys.(KeyRefresher); ok {
			if set, rerr := refresher.Refresh(ctx, expectedIssuer); rerr == nil {
				publicKey, err = jwks.PublicKey(set, kid)
			} else {
				logger.Warn().Err(rerr).Msg("could not refresh platform keys")
			}
		}
	}
	if err != nil {
		return nil, verificationError(ReasonKey, "key not found", err)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithoutClaimsValidation(),
	)
	parsed, err := parser.ParseWithClaims(token, jwt.MapClaims{}, func(*jwt.Token) (any, error) {
		return publicKey, nil
	})
	if err != nil {
		return nil, verificationError(ReasonSignature, "signature verification failed", err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, verificationError(ReasonFormat, "invalid token format", errors.New("unexpected claims type"))
	}

	if err := v.validateClaims(claims, expectedIssuer, expectedAudience, nonce); err != nil {
		logger.Info().Str("reason", string(err.Reason)).Msg(err.Error())
		return nil, err
	}

	consumed, err := v.nonces.Consume(ctx, nonce)
	if err != nil {
		return nil, fmt.Errorf("consuming nonce: %w", err)
	}
	if !consumed {
		logger.Warn().Msg("rejected replayed or expired nonce")
		return nil, verificationError(ReasonReplay, "nonce reused or expired", nil)
	}

	return claims, nil
}

func (v *Verifier) validateClaims(claims jwt.MapClaims, expectedIssuer, expectedAudience, nonce string) *VerificationError {
	iss, _ := claims.GetIssuer()
	if iss != expectedIssuer {
		return verificationError(ReasonIssuer, fmt.Sprintf("invalid iss: expected %s, got %s", expectedIssuer, iss), nil)
	}

	aud, err := claims.GetAudience()
	if err != nil {
		return verificationError(ReasonAudience, "invalid aud", err)
	}
	if !audienceContains(aud, expectedAudience) {
		return verificationError(ReasonAudience, fmt.Sprintf("invalid aud: expected %s", expectedAudience), nil)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return verificationError(ReasonExpired, "invalid exp", err)
	}
	if exp == nil || !v.now().Before(exp.Time) {
		return verificationError(ReasonExpired, "token has expired", nil)
	}

	if tokenNonce, _ := claims["nonce"].(string); tokenNonce != nonce {
		return verificationError(ReasonNonce, "nonce mismatch", nil)
	}
	return nil
}

func audienceContains(aud jwt.ClaimStrings, expected string) bool {
	for _, a := range aud {
		if a == expected {
			return true
		}
	}
	return false
}
