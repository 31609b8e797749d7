package domain

import (
	"context"
	"time"
)

// Contract is an uploaded agreement owned by an organization.
type Contract struct {
	ID               string    `json:"id"`
	OrganizationID   string    `json:"organizationId"`
	Title            string    `json:"title"`
	Number           string    `json:"number"`
	Status           string    `json:"status"`
	AnalysisStatus   string    `json:"analysisStatus"`
	StartDate        string    `json:"startDate"` // YYYY-MM-DD
	EndDate          string    `json:"endDate"`   // YYYY-MM-DD
	Value            float64   `json:"value"`
	FilePath         string    `json:"filePath,omitempty"`
	OriginalFilename string    `json:"originalFilename,omitempty"`
	Parties          []Party   `json:"parties"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Party is one side of a contract.
type Party struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Contract lifecycle status.
const (
	ContractPending    = "pending"
	ContractActive     = "active"
	ContractExpired    = "expired"
	ContractTerminated = "terminated"
)

// Analysis status of a contract.
const (
	AnalysisPending   = "pending"
	AnalysisCompleted = "completed"
	AnalysisFailed    = "failed"
)

// ValidContractStatus reports whether s is a known lifecycle status.
func ValidContractStatus(s string) bool {
	switch s {
	case ContractPending, ContractActive, ContractExpired, ContractTerminated:
		return true
	}
	return false
}

// RiskCategory groups trigger phrases of one kind of contractual risk.
type RiskCategory string

const (
	CategoryPayment   RiskCategory = "payment"
	CategoryDelivery  RiskCategory = "delivery"
	CategoryLegal     RiskCategory = "legal"
	CategoryFinancial RiskCategory = "financial"
)

// Categories returns the risk categories in evaluation order.
func Categories() []RiskCategory {
	return []RiskCategory{CategoryPayment, CategoryDelivery, CategoryLegal, CategoryFinancial}
}

// RiskLevel is the discrete severity derived from a normalized score.
type RiskLevel string

const (
	RiskHigh   RiskLevel = "high"
	RiskMedium RiskLevel = "medium"
	RiskLow    RiskLevel = "low"
)

// Rank orders levels so they can be compared: low < medium < high.
func (l RiskLevel) Rank() int {
	switch l {
	case RiskHigh:
		return 3
	case RiskMedium:
		return 2
	case RiskLow:
		return 1
	}
	return 0
}

// RiskFinding is the outcome of scoring one category against a contract.
// Only the description is persisted, so findings read back from the store
// carry no Factors or Score.
type RiskFinding struct {
	ID          string       `json:"id"`
	ContractID  string       `json:"contractId"`
	Category    RiskCategory `json:"category"`
	Level       RiskLevel    `json:"level"`
	Factors     []string     `json:"factors,omitempty"`
	Score       float64      `json:"score,omitempty"`
	Description string       `json:"description"`
	CreatedAt   time.Time    `json:"createdAt,omitempty"`
}

// KeyDateEvent is a dated milestone found in the contract text.
type KeyDateEvent struct {
	ID          string    `json:"id,omitempty"`
	ContractID  string    `json:"contractId"`
	Date        string    `json:"date"` // YYYY-MM-DD
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt,omitempty"`
}

// AnalysisResult is returned by one analysis run.
type AnalysisResult struct {
	Risks    []RiskFinding  `json:"risks"`
	KeyDates []KeyDateEvent `json:"keyDates"`
}

// AnalysisSink persists analysis output as it is produced.
// Each insert returns the id of the stored record.
type AnalysisSink interface {
	InsertRiskFinding(ctx context.Context, contractID string, level RiskLevel, category RiskCategory, description string) (string, error)
	InsertKeyDate(ctx context.Context, contractID string, description string, date string) (string, error)
}

// ContractFilter narrows contract listings.
type ContractFilter struct {
	Status string
	Limit  int
	Offset int
}

// UpcomingKeyDate is a key date joined with its contract, used by reminders.
type UpcomingKeyDate struct {
	KeyDateEvent
	OrganizationID string `json:"organizationId"`
	ContractTitle  string `json:"contractTitle"`
	ContractNumber string `json:"contractNumber"`
}
