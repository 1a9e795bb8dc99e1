package models

import "time"

// LoginState correlates one login redirect with its launch callback.
type LoginState struct {
	Issuer        string `json:"iss"`
	TargetLinkURI string `json:"target_link_uri"`
	Nonce         string `json:"nonce"`
}

// LaunchContext records the course (or group) a tool was launched from.
type LaunchContext struct {
	ID               int64     `json:"id"`
	ContextID        string    `json:"contextId"`
	PlatformIssuer   string    `json:"platformIssuer"`
	ContextType      string    `json:"contextType"`
	ContextTitle     string    `json:"contextTitle,omitempty"`
	DeploymentID     string    `json:"deploymentId,omitempty"`
	BaseURL          string    `json:"baseUrl"`
	PlatformCourseID string    `json:"platformCourseId,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}
