package domain

import (
	"time"
)

// RiskSummary aggregates one contract analysis into a single verdict.
type RiskSummary struct {
	ContractID   string    `json:"contractId"`
	TenantID     string    `json:"tenantId"`
	Status       string    `json:"status"` // "ALERT" or "CLEAR"
	OverallLevel RiskLevel `json:"overallLevel"`
	MaxScore     float64   `json:"maxScore"`
	Timestamp    time.Time `json:"timestamp"`

	// Findings per level
	HighCount   int `json:"highCount"`
	MediumCount int `json:"mediumCount"`
	LowCount    int `json:"lowCount"`

	KeyDateCount int `json:"keyDateCount"`

	// Policy results (if any policies are loaded)
	PolicyResults []PolicyResult `json:"policyResults,omitempty"`

	Metadata SummaryMetadata `json:"metadata"`
}

// SummaryMetadata contains processing information.
type SummaryMetadata struct {
	TraceID           string `json:"traceId,omitempty"`
	ExtractMs         int64  `json:"extractMs"`
	AnalyzeMs         int64  `json:"analyzeMs"`
	TotalMs           int64  `json:"totalMs"`
	PoliciesEvaluated int    `json:"policiesEvaluated"`
	EngineVersion     string `json:"engineVersion"`
}

// Summary status constants
const (
	StatusAlert = "ALERT"
	StatusClear = "CLEAR"
)

// DashboardStats backs the dashboard counters.
type DashboardStats struct {
	ActiveContracts  int `json:"activeContracts"`
	RiskAlerts       int `json:"riskAlerts"`
	PendingContracts int `json:"pendingContracts"`
	NewThisMonth     int `json:"newThisMonth"`
}

// ContractAnalyzedEvent is published after a contract has been analyzed.
type ContractAnalyzedEvent struct {
	ContractID string       `json:"contractId"`
	TenantID   string       `json:"tenantId"`
	Summary    *RiskSummary `json:"summary"`
	Reasons    []string     `json:"reasons,omitempty"`
}

// ContractUploadedEvent asks a worker to analyze a stored contract file.
type ContractUploadedEvent struct {
	ContractID string `json:"contractId"`
	TenantID   string `json:"tenantId"`
	FilePath   string `json:"filePath"`
	Filename   string `json:"filename"`
	TraceID    string `json:"traceId,omitempty"`
}

// KeyDateReminderEvent announces a key date falling inside the reminder window.
type KeyDateReminderEvent struct {
	UpcomingKeyDate
	DaysLeft int `json:"daysLeft"`
}

// ContractsExpiredEvent reports one run of the expiry job.
type ContractsExpiredEvent struct {
	Count int64  `json:"count"`
	Date  string `json:"date"`
}
