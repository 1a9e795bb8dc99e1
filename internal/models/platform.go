package models

import (
	"strings"
	"time"
)

// Platform is a trusted LTI issuer registration.
type Platform struct {
	ID           string    `json:"id" yaml:"id"`
	Issuer       string    `json:"issuer" yaml:"issuer"`
	ClientID     string    `json:"clientId" yaml:"client_id"`
	ClientSecret string    `json:"-" yaml:"client_secret,omitempty"`
	APIToken     string    `json:"-" yaml:"api_token,omitempty"`
	BaseURL      string    `json:"baseUrl,omitempty" yaml:"base_url,omitempty"` // network location when the issuer is not reachable
	Active       bool      `json:"active" yaml:"active"`
	DisplayName  string    `json:"displayName,omitempty" yaml:"name,omitempty"`
	CreatedAt    time.Time `json:"createdAt" yaml:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt" yaml:"updated_at,omitempty"`
}

// ReachableURL returns the base URL used for network calls, falling back to
// the issuer string when no separate base URL is registered.
func (p *Platform) ReachableURL() string {
	if p.BaseURL != "" {
		return strings.TrimRight(p.BaseURL, "/")
	}
	return strings.TrimRight(p.Issuer, "/")
}
