// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/conrisk/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("record already exists")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// CreateOrganization stores a new organization.
func (r *SQLRepository) CreateOrganization(ctx context.Context, org *domain.Organization) error {
	if strings.TrimSpace(org.Name) == "" {
		return fmt.Errorf("%w: organization name is required", ErrInvalidInput)
	}
	if org.ID == "" {
		org.ID = uuid.New().String()
	}
	if org.CreatedAt.IsZero() {
		org.CreatedAt = time.Now().UTC()
	}

	query := `INSERT INTO organizations (id, name, created_at) VALUES (?, ?, ?)`
	_, err := r.db.ExecContext(ctx, r.rebind(query), org.ID, org.Name, org.CreatedAt)
	return r.wrapWriteErr(err)
}

// GetOrganization retrieves an organization by its id.
func (r *SQLRepository) GetOrganization(ctx context.Context, tenantID string) (*domain.Organization, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT id, name, created_at FROM organizations WHERE id = ?`

	var org domain.Organization
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID).Scan(&org.ID, &org.Name, &org.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &org, nil
}

// RenameOrganization changes the display name of an organization.
func (r *SQLRepository) RenameOrganization(ctx context.Context, tenantID string, name string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: organization name is required", ErrInvalidInput)
	}

	query := `UPDATE organizations SET name = ? WHERE id = ?`
	result, err := r.db.ExecContext(ctx, r.rebind(query), name, tenantID)
	if err != nil {
		return err
	}
	return expectAffected(result)
}

// CreateUser stores a new user. Emails are unique across all organizations.
func (r *SQLRepository) CreateUser(ctx context.Context, user *domain.User) error {
	if user.OrganizationID == "" {
		return fmt.Errorf("%w: organizationID is required", ErrInvalidInput)
	}
	if user.Email == "" || user.PasswordHash == "" {
		return fmt.Errorf("%w: email and password are required", ErrInvalidInput)
	}
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Email = normalizeEmail(user.Email)

	query := `
		INSERT INTO users (id, name, email, password_hash, organization_id, role, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		user.ID, user.Name, user.Email, user.PasswordHash,
		user.OrganizationID, user.Role, user.CreatedAt,
	)
	return r.wrapWriteErr(err)
}

const userColumns = `id, name, email, password_hash, organization_id, role, created_at`

func scanUser(row interface{ Scan(...any) error }) (*domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.OrganizationID, &u.Role, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUser retrieves a user by id. Used by authentication, not tenant scoped.
func (r *SQLRepository) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ?`
	return scanUser(r.db.QueryRowContext(ctx, r.rebind(query), userID))
}

// GetUserByEmail retrieves a user by email. Used by login, not tenant scoped.
func (r *SQLRepository) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = ?`
	return scanUser(r.db.QueryRowContext(ctx, r.rebind(query), normalizeEmail(email)))
}

// ListMembers returns the users of an organization, oldest first.
func (r *SQLRepository) ListMembers(ctx context.Context, tenantID string) ([]*domain.User, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE organization_id = ? ORDER BY created_at, email`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// DeleteUser removes a member from an organization.
func (r *SQLRepository) DeleteUser(ctx context.Context, tenantID string, userID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `DELETE FROM users WHERE organization_id = ? AND id = ?`
	result, err := r.db.ExecContext(ctx, r.rebind(query), tenantID, userID)
	if err != nil {
		return err
	}
	return expectAffected(result)
}

// SaveContract stores a new contract and its parties in one transaction.
func (r *SQLRepository) SaveContract(ctx context.Context, tenantID string, c *domain.Contract) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if strings.TrimSpace(c.Title) == "" || strings.TrimSpace(c.Number) == "" {
		return fmt.Errorf("%w: title and number are required", ErrInvalidInput)
	}

	now := time.Now().UTC()
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = domain.ContractPending
	}
	if c.AnalysisStatus == "" {
		c.AnalysisStatus = domain.AnalysisPending
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	c.OrganizationID = tenantID

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO contracts (
			id, tenant_id, title, number, status, analysis_status,
			start_date, end_date, value, file_path, original_filename,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	if _, err := tx.ExecContext(ctx, r.rebind(query),
		c.ID, tenantID, c.Title, c.Number, c.Status, c.AnalysisStatus,
		c.StartDate, c.EndDate, c.Value, c.FilePath, c.OriginalFilename,
		c.CreatedAt, c.UpdatedAt,
	); err != nil {
		return r.wrapWriteErr(err)
	}

	partyQuery := r.rebind(`
		INSERT INTO contract_parties (id, contract_id, party_name, party_type, position, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	for i, p := range c.Parties {
		if _, err := tx.ExecContext(ctx, partyQuery,
			uuid.New().String(), c.ID, p.Name, p.Type, i, now,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

const contractColumns = `
	id, tenant_id, title, number, status, analysis_status,
	start_date, end_date, value, file_path, original_filename,
	created_at, updated_at
`

func scanContract(row interface{ Scan(...any) error }) (*domain.Contract, error) {
	var c domain.Contract
	var filePath, originalFilename sql.NullString

	err := row.Scan(
		&c.ID, &c.OrganizationID, &c.Title, &c.Number, &c.Status, &c.AnalysisStatus,
		&c.StartDate, &c.EndDate, &c.Value, &filePath, &originalFilename,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	c.FilePath = filePath.String
	c.OriginalFilename = originalFilename.String
	c.Parties = []domain.Party{}
	return &c, nil
}

// GetContract retrieves a contract and its parties with tenant isolation.
func (r *SQLRepository) GetContract(ctx context.Context, tenantID string, contractID string) (*domain.Contract, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT ` + contractColumns + ` FROM contracts WHERE tenant_id = ? AND id = ?`

	c, err := scanContract(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, contractID))
	if err != nil {
		return nil, err
	}

	if c.Parties, err = r.loadParties(ctx, c.ID); err != nil {
		return nil, err
	}
	return c, nil
}

func (r *SQLRepository) loadParties(ctx context.Context, contractID string) ([]domain.Party, error) {
	query := `
		SELECT party_name, party_type FROM contract_parties
		WHERE contract_id = ?
		ORDER BY position
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), contractID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	parties := []domain.Party{}
	for rows.Next() {
		var p domain.Party
		if err := rows.Scan(&p.Name, &p.Type); err != nil {
			return nil, err
		}
		parties = append(parties, p)
	}
	return parties, rows.Err()
}

// ListContracts retrieves the contracts of a tenant, newest first.
func (r *SQLRepository) ListContracts(ctx context.Context, tenantID string, filter domain.ContractFilter) ([]*domain.Contract, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT ` + contractColumns + ` FROM contracts WHERE tenant_id = ?`
	args := []any{tenantID}

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	query += ` ORDER BY created_at DESC, id`
	if filter.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}

	var contracts []*domain.Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		contracts = append(contracts, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for _, c := range contracts {
		if c.Parties, err = r.loadParties(ctx, c.ID); err != nil {
			return nil, err
		}
	}

	return contracts, nil
}

// UpdateAnalysisStatus records the outcome of the latest analysis run.
func (r *SQLRepository) UpdateAnalysisStatus(ctx context.Context, tenantID string, contractID string, status string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `UPDATE contracts SET analysis_status = ?, updated_at = ? WHERE tenant_id = ? AND id = ?`
	result, err := r.db.ExecContext(ctx, r.rebind(query), status, time.Now().UTC(), tenantID, contractID)
	if err != nil {
		return err
	}
	return expectAffected(result)
}

// DeleteContract removes a contract together with its parties, findings and key dates.
func (r *SQLRepository) DeleteContract(ctx context.Context, tenantID string, contractID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, r.rebind(`DELETE FROM contracts WHERE tenant_id = ? AND id = ?`), tenantID, contractID)
	if err != nil {
		return err
	}
	if err := expectAffected(result); err != nil {
		return err
	}

	for _, q := range []string{
		`DELETE FROM contract_parties WHERE contract_id = ?`,
		`DELETE FROM risk_assessments WHERE contract_id = ?`,
		`DELETE FROM key_dates WHERE contract_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, r.rebind(q), contractID); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ExpireContracts marks every active contract whose end date is before now
// as expired, across all tenants. It returns the number of contracts changed.
func (r *SQLRepository) ExpireContracts(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE contracts
		SET status = ?, updated_at = ?
		WHERE status = ? AND end_date <> '' AND end_date < ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		domain.ContractExpired, now.UTC(), domain.ContractActive, now.Format("2006-01-02"),
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// ContractStats computes the dashboard counters of a tenant.
// Risk alerts count the contracts holding at least one high level finding.
func (r *SQLRepository) ContractStats(ctx context.Context, tenantID string, now time.Time) (*domain.DashboardStats, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	now = now.UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	var stats domain.DashboardStats

	query := `
		SELECT
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN created_at >= ? THEN 1 ELSE 0 END), 0)
		FROM contracts
		WHERE tenant_id = ?
	`
	if err := r.db.QueryRowContext(ctx, r.rebind(query),
		domain.ContractActive, domain.ContractPending, monthStart, tenantID,
	).Scan(&stats.ActiveContracts, &stats.PendingContracts, &stats.NewThisMonth); err != nil {
		return nil, err
	}

	alertQuery := `
		SELECT COUNT(DISTINCT contract_id)
		FROM risk_assessments
		WHERE tenant_id = ? AND risk_level = ?
	`
	if err := r.db.QueryRowContext(ctx, r.rebind(alertQuery), tenantID, domain.RiskHigh).Scan(&stats.RiskAlerts); err != nil {
		return nil, err
	}

	return &stats, nil
}

// SaveRiskFinding stores one finding with tenant isolation.
func (r *SQLRepository) SaveRiskFinding(ctx context.Context, tenantID string, f *domain.RiskFinding) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if f.ContractID == "" {
		return fmt.Errorf("%w: contractID is required", ErrInvalidInput)
	}
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO risk_assessments (id, tenant_id, contract_id, risk_level, risk_factor, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		f.ID, tenantID, f.ContractID, f.Level, f.Category, f.Description, f.CreatedAt,
	)
	return err
}

// SaveKeyDate stores one key date with tenant isolation.
func (r *SQLRepository) SaveKeyDate(ctx context.Context, tenantID string, e *domain.KeyDateEvent) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if e.ContractID == "" || e.Date == "" {
		return fmt.Errorf("%w: contractID and date are required", ErrInvalidInput)
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO key_dates (id, tenant_id, contract_id, event_name, event_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		e.ID, tenantID, e.ContractID, e.Description, e.Date, e.CreatedAt,
	)
	return err
}

// ListRiskFindings returns the findings of a contract in insertion order.
func (r *SQLRepository) ListRiskFindings(ctx context.Context, tenantID string, contractID string) ([]*domain.RiskFinding, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, contract_id, risk_level, risk_factor, description, created_at
		FROM risk_assessments
		WHERE tenant_id = ? AND contract_id = ?
		ORDER BY created_at, id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, contractID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	findings := []*domain.RiskFinding{}
	for rows.Next() {
		var f domain.RiskFinding
		if err := rows.Scan(&f.ID, &f.ContractID, &f.Level, &f.Category, &f.Description, &f.CreatedAt); err != nil {
			return nil, err
		}
		findings = append(findings, &f)
	}
	return findings, rows.Err()
}

// ListKeyDates returns the key dates of a contract ordered by date.
func (r *SQLRepository) ListKeyDates(ctx context.Context, tenantID string, contractID string) ([]*domain.KeyDateEvent, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, contract_id, event_name, event_date, created_at
		FROM key_dates
		WHERE tenant_id = ? AND contract_id = ?
		ORDER BY event_date, created_at
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, contractID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []*domain.KeyDateEvent{}
	for rows.Next() {
		var e domain.KeyDateEvent
		if err := rows.Scan(&e.ID, &e.ContractID, &e.Description, &e.Date, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

// ClearAnalysis removes the findings and key dates of a contract before it is re-analyzed.
func (r *SQLRepository) ClearAnalysis(ctx context.Context, tenantID string, contractID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM risk_assessments WHERE tenant_id = ? AND contract_id = ?`,
		`DELETE FROM key_dates WHERE tenant_id = ? AND contract_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, r.rebind(q), tenantID, contractID); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ListUpcomingKeyDates returns key dates between from and to inclusive,
// joined with their contract. domain.AllTenants scans every organization.
func (r *SQLRepository) ListUpcomingKeyDates(ctx context.Context, tenantID string, from, to time.Time) ([]*domain.UpcomingKeyDate, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT k.id, k.contract_id, k.event_name, k.event_date, k.created_at,
			   c.tenant_id, c.title, c.number
		FROM key_dates k
		JOIN contracts c ON c.id = k.contract_id
		WHERE k.event_date >= ? AND k.event_date <= ?
		  AND c.status <> ?
	`
	args := []any{from.Format("2006-01-02"), to.Format("2006-01-02"), domain.ContractExpired}

	if tenantID != domain.AllTenants {
		query += ` AND k.tenant_id = ?`
		args = append(args, tenantID)
	}
	query += ` ORDER BY k.event_date, c.title`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	dates := []*domain.UpcomingKeyDate{}
	for rows.Next() {
		var u domain.UpcomingKeyDate
		if err := rows.Scan(
			&u.ID, &u.ContractID, &u.Description, &u.Date, &u.CreatedAt,
			&u.OrganizationID, &u.ContractTitle, &u.ContractNumber,
		); err != nil {
			return nil, err
		}
		dates = append(dates, &u)
	}
	return dates, rows.Err()
}

// SavePolicy stores an alert policy with tenant isolation.
func (r *SQLRepository) SavePolicy(ctx context.Context, tenantID string, p *domain.AlertPolicy) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if p.ID == "" || p.Expression == "" {
		return fmt.Errorf("%w: id and expression are required", ErrInvalidInput)
	}

	enabled := 0
	if p.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	p.TenantID = tenantID

	query := `
		INSERT INTO alert_policies (
			id, tenant_id, name, description, expression, severity, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			severity = excluded.severity,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		p.ID, tenantID, p.Name, p.Description, p.Expression, p.Severity, enabled,
		p.CreatedAt, p.UpdatedAt,
	)
	return err
}

// ListPolicies retrieves the enabled alert policies of a tenant.
func (r *SQLRepository) ListPolicies(ctx context.Context, tenantID string) ([]*domain.AlertPolicy, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, expression, severity, enabled, created_at, updated_at
		FROM alert_policies
		WHERE tenant_id = ? AND enabled = 1
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var policies []*domain.AlertPolicy
	for rows.Next() {
		var p domain.AlertPolicy
		var description sql.NullString
		var enabled int

		if err := rows.Scan(
			&p.ID, &p.TenantID, &p.Name, &description, &p.Expression, &p.Severity,
			&enabled, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, err
		}

		p.Description = description.String
		p.Enabled = enabled == 1
		policies = append(policies, &p)
	}

	return policies, rows.Err()
}

// DeletePolicy soft-deletes a policy by setting enabled = 0.
func (r *SQLRepository) DeletePolicy(ctx context.Context, tenantID string, policyID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		UPDATE alert_policies
		SET enabled = 0, updated_at = ?
		WHERE tenant_id = ? AND id = ? AND enabled = 1
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), tenantID, policyID)
	if err != nil {
		return err
	}
	return expectAffected(result)
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// wrapWriteErr maps unique constraint violations to ErrConflict.
func (r *SQLRepository) wrapWriteErr(err error) error {
	if err == nil {
		return nil
	}
	var unique bool
	if r.driver == "postgres" {
		unique = isPostgresUniqueViolation(err)
	} else {
		unique = isSQLiteUniqueViolation(err)
	}
	if unique {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

func expectAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
