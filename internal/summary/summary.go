// Package summary aggregates analysis output and policy results into a
// single per-contract verdict.
package summary

import (
	"fmt"
	"time"

	"github.com/opensource-finance/conrisk/internal/domain"
)

// EngineVersion is stamped on every summary.
const EngineVersion = "conrisk-1.0"

// Processor turns an analysis into a RiskSummary.
type Processor struct {
	// Overall level at which a contract is flagged ALERT
	AlertLevel domain.RiskLevel
}

// NewProcessor creates a processor alerting at the given level (high when empty).
func NewProcessor(alertLevel domain.RiskLevel) *Processor {
	if alertLevel.Rank() == 0 {
		alertLevel = domain.RiskHigh
	}
	return &Processor{AlertLevel: alertLevel}
}

// Input contains everything needed for a summary.
type Input struct {
	TenantID      string
	ContractID    string
	TraceID       string
	Result        *domain.AnalysisResult
	PolicyResults []domain.PolicyResult
	ExtractMs     int64
	AnalyzeMs     int64
	StartTime     time.Time
}

// Summarize produces the verdict for one analysis.
func (p *Processor) Summarize(in *Input) *domain.RiskSummary {
	s := &domain.RiskSummary{
		ContractID:    in.ContractID,
		TenantID:      in.TenantID,
		OverallLevel:  domain.RiskLow,
		Timestamp:     time.Now().UTC(),
		PolicyResults: in.PolicyResults,
	}

	if in.Result != nil {
		for _, r := range in.Result.Risks {
			switch r.Level {
			case domain.RiskHigh:
				s.HighCount++
			case domain.RiskMedium:
				s.MediumCount++
			default:
				s.LowCount++
			}
			if r.Level.Rank() > s.OverallLevel.Rank() {
				s.OverallLevel = r.Level
			}
			if r.Score > s.MaxScore {
				s.MaxScore = r.Score
			}
		}
		s.KeyDateCount = len(in.Result.KeyDates)
	}

	s.Status = domain.StatusClear
	if s.OverallLevel.Rank() >= p.AlertLevel.Rank() || anyTriggered(in.PolicyResults) {
		s.Status = domain.StatusAlert
	}

	var totalMs int64
	if !in.StartTime.IsZero() {
		totalMs = time.Since(in.StartTime).Milliseconds()
	}

	s.Metadata = domain.SummaryMetadata{
		TraceID:           in.TraceID,
		ExtractMs:         in.ExtractMs,
		AnalyzeMs:         in.AnalyzeMs,
		TotalMs:           totalMs,
		PoliciesEvaluated: len(in.PolicyResults),
		EngineVersion:     EngineVersion,
	}

	return s
}

func anyTriggered(results []domain.PolicyResult) bool {
	for _, r := range results {
		if r.Triggered {
			return true
		}
	}
	return false
}

// ShouldAlert returns true if the summary should raise an alert.
func ShouldAlert(s *domain.RiskSummary) bool {
	return s != nil && s.Status == domain.StatusAlert
}

// Reasons extracts human-readable reasons from a summary.
func Reasons(s *domain.RiskSummary, alertLevel domain.RiskLevel) []string {
	var reasons []string
	if s.OverallLevel.Rank() >= alertLevel.Rank() && alertLevel.Rank() > 0 {
		reasons = append(reasons, fmt.Sprintf("overall risk level %s (%d high findings)", s.OverallLevel, s.HighCount))
	}
	for _, r := range s.PolicyResults {
		if r.Triggered && r.Reason != "" {
			reasons = append(reasons, r.Reason)
		}
	}
	return reasons
}
