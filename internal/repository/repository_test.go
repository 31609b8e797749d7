package repository

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/conrisk/internal/domain"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "conrisk-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return repo
}

func TestSQLiteRepository(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	org := &domain.Organization{Name: "Acme"}
	if err := repo.CreateOrganization(ctx, org); err != nil {
		t.Fatalf("CreateOrganization failed: %v", err)
	}
	tenantID := org.ID

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("Organization", func(t *testing.T) {
		if err := repo.RenameOrganization(ctx, tenantID, "Acme Ltd"); err != nil {
			t.Fatalf("RenameOrganization failed: %v", err)
		}

		got, err := repo.GetOrganization(ctx, tenantID)
		if err != nil {
			t.Fatalf("GetOrganization failed: %v", err)
		}
		if got.Name != "Acme Ltd" {
			t.Errorf("expected name Acme Ltd, got %s", got.Name)
		}

		if err := repo.RenameOrganization(ctx, "missing", "x"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})

	t.Run("Users", func(t *testing.T) {
		admin := &domain.User{
			Name:           "Alice",
			Email:          " Alice@Example.com ",
			PasswordHash:   "hash",
			OrganizationID: tenantID,
			Role:           domain.RoleAdmin,
		}
		if err := repo.CreateUser(ctx, admin); err != nil {
			t.Fatalf("CreateUser failed: %v", err)
		}

		dup := &domain.User{
			Name:           "Other",
			Email:          "alice@example.com",
			PasswordHash:   "hash",
			OrganizationID: tenantID,
			Role:           domain.RoleMember,
		}
		if err := repo.CreateUser(ctx, dup); !errors.Is(err, ErrConflict) {
			t.Errorf("expected ErrConflict for duplicate email, got: %v", err)
		}

		byEmail, err := repo.GetUserByEmail(ctx, "ALICE@example.com")
		if err != nil {
			t.Fatalf("GetUserByEmail failed: %v", err)
		}
		if byEmail.ID != admin.ID || byEmail.PasswordHash != "hash" {
			t.Errorf("unexpected user: %+v", byEmail)
		}

		member := &domain.User{
			Name:           "Bob",
			Email:          "bob@example.com",
			PasswordHash:   "hash",
			OrganizationID: tenantID,
			Role:           domain.RoleMember,
		}
		if err := repo.CreateUser(ctx, member); err != nil {
			t.Fatalf("CreateUser failed: %v", err)
		}

		members, err := repo.ListMembers(ctx, tenantID)
		if err != nil {
			t.Fatalf("ListMembers failed: %v", err)
		}
		if len(members) != 2 {
			t.Fatalf("expected 2 members, got %d", len(members))
		}

		if err := repo.DeleteUser(ctx, "other-org", member.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound deleting across tenants, got: %v", err)
		}
		if err := repo.DeleteUser(ctx, tenantID, member.ID); err != nil {
			t.Fatalf("DeleteUser failed: %v", err)
		}
		if _, err := repo.GetUser(ctx, member.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got: %v", err)
		}
	})

	contract := &domain.Contract{
		Title:     "采购合同",
		Number:    "HT-2024-001",
		Status:    domain.ContractActive,
		StartDate: "2024-01-01",
		EndDate:   "2020-12-31",
		Value:     120000,
		FilePath:  "1700000000000-6YeH6LSt.pdf",
		Parties: []domain.Party{
			{Name: "甲方公司", Type: "甲方"},
			{Name: "乙方公司", Type: "乙方"},
		},
	}

	t.Run("SaveAndGetContract", func(t *testing.T) {
		if err := repo.SaveContract(ctx, tenantID, contract); err != nil {
			t.Fatalf("SaveContract failed: %v", err)
		}

		got, err := repo.GetContract(ctx, tenantID, contract.ID)
		if err != nil {
			t.Fatalf("GetContract failed: %v", err)
		}
		if got.Title != contract.Title || got.Value != contract.Value {
			t.Errorf("unexpected contract: %+v", got)
		}
		if got.AnalysisStatus != domain.AnalysisPending {
			t.Errorf("expected analysis status pending, got %s", got.AnalysisStatus)
		}
		if len(got.Parties) != 2 || got.Parties[0].Name != "甲方公司" {
			t.Errorf("unexpected parties: %+v", got.Parties)
		}
	})

	t.Run("DuplicateNumber", func(t *testing.T) {
		dup := &domain.Contract{Title: "x", Number: contract.Number}
		if err := repo.SaveContract(ctx, tenantID, dup); !errors.Is(err, ErrConflict) {
			t.Errorf("expected ErrConflict, got: %v", err)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		_, err := repo.GetContract(ctx, "tenant-other", contract.ID)
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for different tenant, got: %v", err)
		}

		list, err := repo.ListContracts(ctx, "tenant-other", domain.ContractFilter{})
		if err != nil {
			t.Fatalf("ListContracts failed: %v", err)
		}
		if len(list) != 0 {
			t.Errorf("expected no contracts for other tenant, got %d", len(list))
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		if err := repo.SaveContract(ctx, "", &domain.Contract{Title: "t", Number: "n"}); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got: %v", err)
		}
		if _, err := repo.ListRiskFindings(ctx, "", contract.ID); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got: %v", err)
		}
	})

	t.Run("AnalysisSink", func(t *testing.T) {
		sink := NewAnalysisSink(repo, tenantID)

		riskID, err := sink.InsertRiskFinding(ctx, contract.ID, domain.RiskHigh, domain.CategoryPayment, "发现1个风险因素：违约金")
		if err != nil {
			t.Fatalf("InsertRiskFinding failed: %v", err)
		}
		if riskID == "" {
			t.Error("expected generated finding id")
		}
		if _, err := sink.InsertRiskFinding(ctx, contract.ID, domain.RiskLow, domain.CategoryLegal, "发现1个风险因素：违约责任"); err != nil {
			t.Fatalf("InsertRiskFinding failed: %v", err)
		}
		if _, err := sink.InsertKeyDate(ctx, contract.ID, "关键时间节点: 付款", "2099-03-01"); err != nil {
			t.Fatalf("InsertKeyDate failed: %v", err)
		}

		findings, err := repo.ListRiskFindings(ctx, tenantID, contract.ID)
		if err != nil {
			t.Fatalf("ListRiskFindings failed: %v", err)
		}
		if len(findings) != 2 {
			t.Fatalf("expected 2 findings, got %d", len(findings))
		}

		dates, err := repo.ListKeyDates(ctx, tenantID, contract.ID)
		if err != nil {
			t.Fatalf("ListKeyDates failed: %v", err)
		}
		if len(dates) != 1 || dates[0].Date != "2099-03-01" || dates[0].Description != "关键时间节点: 付款" {
			t.Errorf("unexpected key dates: %+v", dates)
		}
	})

	t.Run("ContractStats", func(t *testing.T) {
		pending := &domain.Contract{Title: "服务合同", Number: "HT-2024-002", EndDate: "2099-01-01"}
		if err := repo.SaveContract(ctx, tenantID, pending); err != nil {
			t.Fatalf("SaveContract failed: %v", err)
		}

		stats, err := repo.ContractStats(ctx, tenantID, time.Now())
		if err != nil {
			t.Fatalf("ContractStats failed: %v", err)
		}
		if stats.ActiveContracts != 1 || stats.PendingContracts != 1 {
			t.Errorf("unexpected status counts: %+v", stats)
		}
		if stats.RiskAlerts != 1 {
			t.Errorf("expected 1 risk alert, got %d", stats.RiskAlerts)
		}
		if stats.NewThisMonth != 2 {
			t.Errorf("expected 2 new contracts, got %d", stats.NewThisMonth)
		}
	})

	t.Run("UpcomingKeyDates", func(t *testing.T) {
		from := time.Date(2099, 2, 20, 0, 0, 0, 0, time.UTC)
		to := from.AddDate(0, 0, 30)

		upcoming, err := repo.ListUpcomingKeyDates(ctx, domain.AllTenants, from, to)
		if err != nil {
			t.Fatalf("ListUpcomingKeyDates failed: %v", err)
		}
		if len(upcoming) != 1 {
			t.Fatalf("expected 1 upcoming key date, got %d", len(upcoming))
		}
		if upcoming[0].OrganizationID != tenantID || upcoming[0].ContractNumber != contract.Number {
			t.Errorf("unexpected upcoming key date: %+v", upcoming[0])
		}

		none, err := repo.ListUpcomingKeyDates(ctx, tenantID, to.AddDate(0, 0, 1), to.AddDate(0, 1, 0))
		if err != nil {
			t.Fatalf("ListUpcomingKeyDates failed: %v", err)
		}
		if len(none) != 0 {
			t.Errorf("expected no key dates outside window, got %d", len(none))
		}
	})

	t.Run("ExpireContracts", func(t *testing.T) {
		n, err := repo.ExpireContracts(ctx, time.Now())
		if err != nil {
			t.Fatalf("ExpireContracts failed: %v", err)
		}
		if n != 1 {
			t.Errorf("expected 1 expired contract, got %d", n)
		}

		expired, err := repo.ListContracts(ctx, tenantID, domain.ContractFilter{Status: domain.ContractExpired})
		if err != nil {
			t.Fatalf("ListContracts failed: %v", err)
		}
		if len(expired) != 1 || expired[0].ID != contract.ID {
			t.Errorf("unexpected expired contracts: %+v", expired)
		}
	})

	t.Run("UpdateAnalysisStatus", func(t *testing.T) {
		if err := repo.UpdateAnalysisStatus(ctx, tenantID, contract.ID, domain.AnalysisCompleted); err != nil {
			t.Fatalf("UpdateAnalysisStatus failed: %v", err)
		}
		got, err := repo.GetContract(ctx, tenantID, contract.ID)
		if err != nil {
			t.Fatalf("GetContract failed: %v", err)
		}
		if got.AnalysisStatus != domain.AnalysisCompleted {
			t.Errorf("expected completed, got %s", got.AnalysisStatus)
		}

		if err := repo.UpdateAnalysisStatus(ctx, tenantID, "missing", domain.AnalysisFailed); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})

	t.Run("ClearAnalysis", func(t *testing.T) {
		if err := repo.ClearAnalysis(ctx, tenantID, contract.ID); err != nil {
			t.Fatalf("ClearAnalysis failed: %v", err)
		}
		findings, _ := repo.ListRiskFindings(ctx, tenantID, contract.ID)
		dates, _ := repo.ListKeyDates(ctx, tenantID, contract.ID)
		if len(findings) != 0 || len(dates) != 0 {
			t.Errorf("expected cleared analysis, got %d findings and %d dates", len(findings), len(dates))
		}
	})

	t.Run("DeleteContract", func(t *testing.T) {
		if err := repo.DeleteContract(ctx, tenantID, contract.ID); err != nil {
			t.Fatalf("DeleteContract failed: %v", err)
		}
		if _, err := repo.GetContract(ctx, tenantID, contract.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got: %v", err)
		}
		if err := repo.DeleteContract(ctx, tenantID, contract.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound on second delete, got: %v", err)
		}
	})

	t.Run("Policies", func(t *testing.T) {
		p := &domain.AlertPolicy{
			ID:         "high-payment",
			Name:       "High payment risk",
			Expression: `levels["payment"] == "high"`,
			Severity:   domain.RiskHigh,
			Enabled:    true,
		}
		if err := repo.SavePolicy(ctx, tenantID, p); err != nil {
			t.Fatalf("SavePolicy failed: %v", err)
		}

		p.Expression = `max_level == "high"`
		if err := repo.SavePolicy(ctx, tenantID, p); err != nil {
			t.Fatalf("SavePolicy upsert failed: %v", err)
		}

		policies, err := repo.ListPolicies(ctx, tenantID)
		if err != nil {
			t.Fatalf("ListPolicies failed: %v", err)
		}
		if len(policies) != 1 || policies[0].Expression != `max_level == "high"` {
			t.Fatalf("unexpected policies: %+v", policies)
		}

		if err := repo.DeletePolicy(ctx, tenantID, p.ID); err != nil {
			t.Fatalf("DeletePolicy failed: %v", err)
		}
		if err := repo.DeletePolicy(ctx, tenantID, p.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound on second delete, got: %v", err)
		}

		policies, _ = repo.ListPolicies(ctx, tenantID)
		if len(policies) != 0 {
			t.Errorf("expected no enabled policies, got %d", len(policies))
		}
	})
}

func TestUnsupportedDriver(t *testing.T) {
	cfg := domain.RepositoryConfig{
		Driver: "mysql",
	}

	_, err := New(cfg)
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	repo := &SQLRepository{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		result := repo.rebind(tt.input)
		if result != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}

	sqliteRepo := &SQLRepository{driver: "sqlite"}
	if got := sqliteRepo.rebind("a = ?"); got != "a = ?" {
		t.Errorf("sqlite rebind changed query: %q", got)
	}
}
