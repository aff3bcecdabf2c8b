package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaLicenseRules = `
CREATE TABLE IF NOT EXISTS license_rules (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    contract_id TEXT NOT NULL,
    rule_type TEXT NOT NULL,
    rule_name TEXT NOT NULL,
    description TEXT,
    priority INTEGER NOT NULL DEFAULT 0,
    is_active INTEGER NOT NULL DEFAULT 1,
    product_categories TEXT,
    territories TEXT,
    guard TEXT,
    formula_definition TEXT,
    base_rate REAL NOT NULL DEFAULT 0,
    volume_tiers TEXT,
    seasonal_adjustments TEXT,
    territory_premiums TEXT,
    minimum_guarantee REAL NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_license_rules_tenant ON license_rules(tenant_id);
CREATE INDEX IF NOT EXISTS idx_license_rules_contract ON license_rules(tenant_id, contract_id);
CREATE INDEX IF NOT EXISTS idx_license_rules_active ON license_rules(tenant_id, is_active);
`

const schemaSales = `
CREATE TABLE IF NOT EXISTS sales (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    contract_id TEXT NOT NULL,
    product TEXT NOT NULL,
    category TEXT,
    territory TEXT,
    container_size TEXT,
    quantity REAL NOT NULL,
    gross_amount REAL NOT NULL DEFAULT 0,
    sale_date TIMESTAMP,
    extra TEXT,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_sales_tenant ON sales(tenant_id);
CREATE INDEX IF NOT EXISTS idx_sales_contract ON sales(tenant_id, contract_id);
CREATE INDEX IF NOT EXISTS idx_sales_date ON sales(tenant_id, contract_id, sale_date);
`

const schemaCalculations = `
CREATE TABLE IF NOT EXISTS calculations (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    contract_id TEXT NOT NULL,
    total_royalty REAL NOT NULL,
    final_royalty REAL NOT NULL,
    minimum_guarantee REAL,
    breakdown TEXT NOT NULL,
    rules_applied TEXT NOT NULL,
    unmatched_sales INTEGER NOT NULL DEFAULT 0,
    sale_count INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    metadata TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_calculations_tenant ON calculations(tenant_id);
CREATE INDEX IF NOT EXISTS idx_calculations_contract ON calculations(tenant_id, contract_id);
CREATE INDEX IF NOT EXISTS idx_calculations_created ON calculations(tenant_id, created_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaLicenseRules,
		schemaSales,
		schemaCalculations,
	}
}
