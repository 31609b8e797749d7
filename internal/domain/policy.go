package domain

import "time"

// AlertPolicy is an organization-defined alert condition over analysis output.
type AlertPolicy struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description"`

	// CEL expression returning bool
	Expression string `json:"expression"`

	// Severity attached to alerts raised by this policy
	Severity RiskLevel `json:"severity"`

	// Whether policy is active
	Enabled bool `json:"enabled"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// PolicyResult is the output of evaluating one policy against an analysis.
type PolicyResult struct {
	PolicyID  string    `json:"policyId"`
	Name      string    `json:"name"`
	Severity  RiskLevel `json:"severity"`
	Triggered bool      `json:"triggered"`
	Reason    string    `json:"reason,omitempty"`
	ProcessMs int64     `json:"processMs"`
}
