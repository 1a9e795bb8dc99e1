package lti

import (
	"errors"
	"fmt"
)

// Reason classifies a verification failure.
type Reason string

const (
	ReasonFormat    Reason = "format"
	ReasonKey       Reason = "key"
	ReasonSignature Reason = "signature"
	ReasonIssuer    Reason = "issuer"
	ReasonAudience  Reason = "audience"
	ReasonExpired   Reason = "expired"
	ReasonNonce     Reason = "nonce"
	ReasonReplay    Reason = "replay"
	ReasonFetch     Reason = "fetch"
)

// VerificationError is returned when an id_token is rejected. The request
// must restart the login flow; the same token is never retried.
type VerificationError struct {
	Reason  Reason
	Message string
	Err     error
}

func (e *VerificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *VerificationError) Unwrap() error {
	return e.Err
}

func verificationError(reason Reason, message string, err error) *VerificationError {
	return &VerificationError{Reason: reason, Message: message, Err: err}
}

// ValidationError reports missing or malformed login input.
type ValidationError struct {
	Message string
	Fields  []string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// LaunchErrorKind is the category of a rejected launch.
type LaunchErrorKind string

const (
	MissingToken       LaunchErrorKind = "missing_token"
	InvalidState       LaunchErrorKind = "invalid_state"
	UnknownPlatform    LaunchErrorKind = "unknown_platform"
	VerificationFailed LaunchErrorKind = "verification_failed"
)

// LaunchError is returned by Launcher.Handle.
type LaunchError struct {
	Kind LaunchErrorKind
	Err  error
}

func (e *LaunchError) Error() string {
	switch e.Kind {
	case MissingToken:
		return "missing id_token"
	case InvalidState:
		return "invalid or expired state"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// VerificationReason returns the underlying verification reason, if any.
func (e *LaunchError) VerificationReason() (Reason, bool) {
	var verr *VerificationError
	if errors.As(e.Err, &verr) {
		return verr.Reason, true
	}
	return "", false
}
