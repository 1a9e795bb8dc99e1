package lti

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	claimContext       = "https://purl.imsglobal.org/spec/lti/claim/context"
	claimResourceLink  = "https://purl.imsglobal.org/spec/lti/claim/resource_link"
	claimRoles         = "https://purl.imsglobal.org/spec/lti/claim/roles"
	claimDeploymentID  = "https://purl.imsglobal.org/spec/lti/claim/deployment_id"
	claimMessageType   = "https://purl.imsglobal.org/spec/lti/claim/message_type"
	claimVersion       = "https://purl.imsglobal.org/spec/lti/claim/version"
	claimTargetLinkURI = "https://purl.imsglobal.org/spec/lti/claim/target_link_uri"
	claimCustom        = "https://purl.imsglobal.org/spec/lti/claim/custom"

	claimCanvasUserID        = "https://canvas.instructure.com/lti/user_id"
	claimCanvasCourseID      = "https://canvas.instructure.com/lti/course_id"
	claimCanvasAccountID     = "https://canvas.instructure.com/lti/account_id"
	claimCanvasWorkflowState = "https://canvas.instructure.com/lti/workflow_state"
)

const (
	RoleInstructor = "instructor"
	RoleStudent    = "student"
)

var instructorSuffixes = []string{"Instructor", "Teacher", "Administrator"}

// VerifiedClaims is the launch information handed to the application. It is
// only ever built from a verified payload.
type VerifiedClaims struct {
	ContextID    string `json:"context_id,omitempty"`
	ContextTitle string `json:"context_title,omitempty"`
	ContextType  string `json:"context_type,omitempty"`
	ContextLabel string `json:"context_label,omitempty"`

	ResourceLinkID          string `json:"resource_link_id,omitempty"`
	ResourceLinkTitle       string `json:"resource_link_title,omitempty"`
	ResourceLinkDescription string `json:"resource_link_description,omitempty"`

	UserSub        string `json:"user_sub"`
	UserName       string `json:"user_name"`
	UserGivenName  string `json:"user_given_name,omitempty"`
	UserFamilyName string `json:"user_family_name,omitempty"`
	UserEmail      string `json:"user_email,omitempty"`
	UserPicture    string `json:"user_picture,omitempty"`

	Role  string   `json:"user_role"`
	Roles []string `json:"user_roles"`

	DeploymentID  string `json:"deployment_id,omitempty"`
	MessageType   string `json:"message_type,omitempty"`
	Version       string `json:"version,omitempty"`
	TargetLinkURI string `json:"target_link_uri,omitempty"`

	Issuer    string    `json:"issuer"`
	Audience  []string  `json:"audience"`
	IssuedAt  time.Time `json:"issued_at,omitempty"`
	ExpiresAt time.Time `json:"expiration,omitempty"`

	// Platform internal ids. Custom parameters take priority over the
	// platform's own claims.
	PlatformUserID        string `json:"platform_user_id,omitempty"`
	PlatformCourseID      string `json:"platform_course_id,omitempty"`
	PlatformAccountID     string `json:"platform_account_id,omitempty"`
	PlatformWorkflowState string `json:"platform_workflow_state,omitempty"`

	Custom map[string]any `json:"custom_params"`
}

// Extract maps a verified payload into VerifiedClaims.
func Extract(payload jwt.MapClaims) VerifiedClaims {
	lmsContext := objectClaim(payload, claimContext)
	resourceLink := objectClaim(payload, claimResourceLink)
	custom := objectClaim(payload, claimCustom)
	roles := stringList(payload[claimRoles])

	name := stringClaim(payload, "name")
	if name == "" {
		name = stringClaim(payload, "given_name")
	}
	if name == "" {
		name = "Unknown"
	}

	claims := VerifiedClaims{
		ContextID:    stringClaim(lmsContext, "id"),
		ContextTitle: stringClaim(lmsContext, "title"),
		ContextType:  firstString(lmsContext["type"]),
		ContextLabel: stringClaim(lmsContext, "label"),

		ResourceLinkID:          stringClaim(resourceLink, "id"),
		ResourceLinkTitle:       stringClaim(resourceLink, "title"),
		ResourceLinkDescription: stringClaim(resourceLink, "description"),

		UserSub:        stringClaim(payload, "sub"),
		UserName:       name,
		UserGivenName:  stringClaim(payload, "given_name"),
		UserFamilyName: stringClaim(payload, "family_name"),
		UserEmail:      stringClaim(payload, "email"),
		UserPicture:    stringClaim(payload, "picture"),

		Role:  ClassifyRole(roles),
		Roles: roles,

		DeploymentID:  stringClaim(payload, claimDeploymentID),
		MessageType:   stringClaim(payload, claimMessageType),
		Version:       stringClaim(payload, claimVersion),
		TargetLinkURI: stringClaim(payload, claimTargetLinkURI),

		Issuer:   stringClaim(payload, "iss"),
		Audience: stringList(payload["aud"]),

		PlatformUserID:        firstNonEmpty(stringClaim(custom, "user_id"), stringClaim(payload, claimCanvasUserID)),
		PlatformCourseID:      firstNonEmpty(stringClaim(custom, "course_id"), stringClaim(payload, claimCanvasCourseID)),
		PlatformAccountID:     stringClaim(payload, claimCanvasAccountID),
		PlatformWorkflowState: stringClaim(payload, claimCanvasWorkflowState),

		Custom: custom,
	}

	if iat, err := payload.GetIssuedAt(); err == nil && iat != nil {
		claims.IssuedAt = iat.Time
	}
	if exp, err := payload.GetExpirationTime(); err == nil && exp != nil {
		claims.ExpiresAt = exp.Time
	}
	return claims
}

// ClassifyRole returns instructor when any role URI ends with Instructor,
// Teacher or Administrator, student otherwise.
func ClassifyRole(roles []string) string {
	for _, role := range roles {
		for _, suffix := range instructorSuffixes {
			if strings.HasSuffix(role, suffix) {
				return RoleInstructor
			}
		}
	}
	return RoleStudent
}

func objectClaim(m map[string]any, key string) map[string]any {
	if obj, ok := m[key].(map[string]any); ok {
		return obj
	}
	return map[string]any{}
}

// stringClaim renders scalar claims as strings. Platforms send numeric ids
// as either JSON numbers or strings.
func stringClaim(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

// stringList accepts a single string or an array of strings.
func stringList(v any) []string {
	switch t := v.(type) {
	case string:
		if t == "" {
			return []string{}
		}
		return []string{t}
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if item == nil {
				continue
			}
			out = append(out, fmt.Sprint(item))
		}
		return out
	default:
		return []string{}
	}
}

func firstString(v any) string {
	if list := stringList(v); len(list) > 0 {
		return list[0]
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
