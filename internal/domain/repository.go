// Package domain defines the core interfaces and types for conrisk.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// Tenant-scoped methods take the organization id as tenantID for strict isolation.
type Repository interface {
	// Organization and membership operations
	CreateOrganization(ctx context.Context, org *Organization) error
	GetOrganization(ctx context.Context, tenantID string) (*Organization, error)
	RenameOrganization(ctx context.Context, tenantID string, name string) error
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, userID string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	ListMembers(ctx context.Context, tenantID string) ([]*User, error)
	DeleteUser(ctx context.Context, tenantID string, userID string) error

	// Contract operations
	SaveContract(ctx context.Context, tenantID string, contract *Contract) error
	GetContract(ctx context.Context, tenantID string, contractID string) (*Contract, error)
	ListContracts(ctx context.Context, tenantID string, filter ContractFilter) ([]*Contract, error)
	UpdateAnalysisStatus(ctx context.Context, tenantID string, contractID string, status string) error
	DeleteContract(ctx context.Context, tenantID string, contractID string) error
	ExpireContracts(ctx context.Context, now time.Time) (int64, error)
	ContractStats(ctx context.Context, tenantID string, now time.Time) (*DashboardStats, error)

	// Analysis output
	SaveRiskFinding(ctx context.Context, tenantID string, finding *RiskFinding) error
	SaveKeyDate(ctx context.Context, tenantID string, event *KeyDateEvent) error
	ListRiskFindings(ctx context.Context, tenantID string, contractID string) ([]*RiskFinding, error)
	ListKeyDates(ctx context.Context, tenantID string, contractID string) ([]*KeyDateEvent, error)
	ClearAnalysis(ctx context.Context, tenantID string, contractID string) error
	ListUpcomingKeyDates(ctx context.Context, tenantID string, from, to time.Time) ([]*UpcomingKeyDate, error)

	// Alert policy operations
	SavePolicy(ctx context.Context, tenantID string, policy *AlertPolicy) error
	ListPolicies(ctx context.Context, tenantID string) ([]*AlertPolicy, error)
	DeletePolicy(ctx context.Context, tenantID string, policyID string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// AllTenants can be passed to ListUpcomingKeyDates to scan every organization.
const AllTenants = "*"

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `mapstructure:"driver"`

	// SQLite specific
	SQLitePath string `mapstructure:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"`
	PostgresDB       string `mapstructure:"postgres_db"`
	PostgresSSLMode  string `mapstructure:"postgres_sslmode"`

	// Connection pool settings
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}
