package repository

import (
	"context"

	"github.com/opensource-finance/conrisk/internal/domain"
)

// analysisSink writes analyzer output into the risk_assessments and
// key_dates tables of one tenant.
type analysisSink struct {
	repo     domain.Repository
	tenantID string
}

// NewAnalysisSink adapts a repository to domain.AnalysisSink for one tenant.
func NewAnalysisSink(repo domain.Repository, tenantID string) domain.AnalysisSink {
	return &analysisSink{repo: repo, tenantID: tenantID}
}

func (s *analysisSink) InsertRiskFinding(ctx context.Context, contractID string, level domain.RiskLevel, category domain.RiskCategory, description string) (string, error) {
	f := &domain.RiskFinding{
		ContractID:  contractID,
		Category:    category,
		Level:       level,
		Description: description,
	}
	if err := s.repo.SaveRiskFinding(ctx, s.tenantID, f); err != nil {
		return "", err
	}
	return f.ID, nil
}

func (s *analysisSink) InsertKeyDate(ctx context.Context, contractID string, description string, date string) (string, error) {
	e := &domain.KeyDateEvent{
		ContractID:  contractID,
		Date:        date,
		Description: description,
	}
	if err := s.repo.SaveKeyDate(ctx, s.tenantID, e); err != nil {
		return "", err
	}
	return e.ID, nil
}
