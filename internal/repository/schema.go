package repository

// Schema definitions for the conrisk database.
// Compatible with both SQLite and PostgreSQL.

const schemaOrganizations = `
CREATE TABLE IF NOT EXISTS organizations (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);
`

const schemaUsers = `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    email TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    organization_id TEXT NOT NULL,
    role TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_users_org ON users(organization_id);
`

const schemaContracts = `
CREATE TABLE IF NOT EXISTS contracts (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    title TEXT NOT NULL,
    number TEXT NOT NULL UNIQUE,
    status TEXT NOT NULL,
    analysis_status TEXT NOT NULL,
    start_date TEXT NOT NULL,
    end_date TEXT NOT NULL,
    value REAL NOT NULL DEFAULT 0,
    file_path TEXT,
    original_filename TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_contracts_tenant ON contracts(tenant_id);
CREATE INDEX IF NOT EXISTS idx_contracts_status ON contracts(tenant_id, status);
CREATE INDEX IF NOT EXISTS idx_contracts_end_date ON contracts(status, end_date);
`

const schemaContractParties = `
CREATE TABLE IF NOT EXISTS contract_parties (
    id TEXT PRIMARY KEY,
    contract_id TEXT NOT NULL,
    party_name TEXT NOT NULL,
    party_type TEXT NOT NULL,
    position INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_contract_parties_contract ON contract_parties(contract_id);
`

// risk_level, risk_factor (the category) and description mirror what the
// analyzer hands to its sink.
const schemaRiskAssessments = `
CREATE TABLE IF NOT EXISTS risk_assessments (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    contract_id TEXT NOT NULL,
    risk_level TEXT NOT NULL,
    risk_factor TEXT NOT NULL,
    description TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_risk_assessments_contract ON risk_assessments(tenant_id, contract_id);
CREATE INDEX IF NOT EXISTS idx_risk_assessments_level ON risk_assessments(tenant_id, risk_level);
`

const schemaKeyDates = `
CREATE TABLE IF NOT EXISTS key_dates (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    contract_id TEXT NOT NULL,
    event_name TEXT NOT NULL,
    event_date TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_key_dates_contract ON key_dates(tenant_id, contract_id);
CREATE INDEX IF NOT EXISTS idx_key_dates_date ON key_dates(event_date);
`

const schemaAlertPolicies = `
CREATE TABLE IF NOT EXISTS alert_policies (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    expression TEXT NOT NULL,
    severity TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_alert_policies_enabled ON alert_policies(tenant_id, enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaOrganizations,
		schemaUsers,
		schemaContracts,
		schemaContractParties,
		schemaRiskAssessments,
		schemaKeyDates,
		schemaAlertPolicies,
	}
}
