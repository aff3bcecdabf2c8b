// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
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

	// Configure connection pool
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

	// Run migrations
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

// SaveRule stores a license rule with tenant isolation, replacing any
// existing rule with the same ID.
func (r *SQLRepository) SaveRule(ctx context.Context, tenantID string, rule *domain.Rule) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if rule.ID == "" {
		return fmt.Errorf("%w: rule ID is required", ErrInvalidInput)
	}

	categories, _ := json.Marshal(rule.ProductCategories)
	territories, _ := json.Marshal(rule.Territories)
	tiers, _ := json.Marshal(rule.VolumeTiers)
	seasonal, _ := json.Marshal(rule.SeasonalAdjustments)
	premiums, _ := json.Marshal(rule.TerritoryPremiums)

	var formulaJSON string
	if rule.Formula != nil {
		b, err := json.Marshal(rule.Formula)
		if err != nil {
			return fmt.Errorf("%w: formula definition: %v", ErrInvalidInput, err)
		}
		formulaJSON = string(b)
	}

	active := 0
	if rule.Active {
		active = 1
	}

	now := time.Now().UTC()
	createdAt := rule.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	query := `
		INSERT INTO license_rules (
			id, tenant_id, contract_id, rule_type, rule_name, description,
			priority, is_active, product_categories, territories, guard,
			formula_definition, base_rate, volume_tiers, seasonal_adjustments,
			territory_premiums, minimum_guarantee, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			contract_id = excluded.contract_id,
			rule_type = excluded.rule_type,
			rule_name = excluded.rule_name,
			description = excluded.description,
			priority = excluded.priority,
			is_active = excluded.is_active,
			product_categories = excluded.product_categories,
			territories = excluded.territories,
			guard = excluded.guard,
			formula_definition = excluded.formula_definition,
			base_rate = excluded.base_rate,
			volume_tiers = excluded.volume_tiers,
			seasonal_adjustments = excluded.seasonal_adjustments,
			territory_premiums = excluded.territory_premiums,
			minimum_guarantee = excluded.minimum_guarantee,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.ContractID, rule.RuleType, rule.Name, rule.Description,
		rule.Priority, active, string(categories), string(territories), rule.Guard,
		formulaJSON, rule.BaseRate, string(tiers), string(seasonal),
		string(premiums), rule.MinimumGuarantee, createdAt, now,
	)
	return err
}

const ruleColumns = `
	id, tenant_id, contract_id, rule_type, rule_name, description,
	priority, is_active, product_categories, territories, guard,
	formula_definition, base_rate, volume_tiers, seasonal_adjustments,
	territory_premiums, minimum_guarantee, created_at, updated_at
`

// GetRule retrieves a rule by ID with tenant isolation.
func (r *SQLRepository) GetRule(ctx context.Context, tenantID string, ruleID string) (*domain.Rule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT ` + ruleColumns + ` FROM license_rules WHERE tenant_id = ? AND id = ?`

	rule, err := scanRule(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rule, err
}

// ListRules retrieves a contract's rules ordered by priority. An empty
// contractID lists every rule for the tenant.
func (r *SQLRepository) ListRules(ctx context.Context, tenantID string, contractID string) ([]*domain.Rule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT ` + ruleColumns + ` FROM license_rules WHERE tenant_id = ?`
	args := []any{tenantID}
	if contractID != "" {
		query += ` AND contract_id = ?`
		args = append(args, contractID)
	}
	query += ` ORDER BY priority, created_at`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// DeleteRule removes a rule with tenant isolation.
func (r *SQLRepository) DeleteRule(ctx context.Context, tenantID string, ruleID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `DELETE FROM license_rules WHERE tenant_id = ? AND id = ?`
	result, err := r.db.ExecContext(ctx, r.rebind(query), tenantID, ruleID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*domain.Rule, error) {
	var rule domain.Rule
	var description, categories, territories, guard sql.NullString
	var formulaJSON, tiers, seasonal, premiums sql.NullString
	var active int

	err := row.Scan(
		&rule.ID, &rule.TenantID, &rule.ContractID, &rule.RuleType, &rule.Name, &description,
		&rule.Priority, &active, &categories, &territories, &guard,
		&formulaJSON, &rule.BaseRate, &tiers, &seasonal,
		&premiums, &rule.MinimumGuarantee, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rule.Description = description.String
	rule.Guard = guard.String
	rule.Active = active == 1

	if categories.String != "" {
		json.Unmarshal([]byte(categories.String), &rule.ProductCategories)
	}
	if territories.String != "" {
		json.Unmarshal([]byte(territories.String), &rule.Territories)
	}
	if tiers.String != "" {
		json.Unmarshal([]byte(tiers.String), &rule.VolumeTiers)
	}
	if seasonal.String != "" {
		json.Unmarshal([]byte(seasonal.String), &rule.SeasonalAdjustments)
	}
	if premiums.String != "" {
		json.Unmarshal([]byte(premiums.String), &rule.TerritoryPremiums)
	}
	if formulaJSON.String != "" {
		if err := json.Unmarshal([]byte(formulaJSON.String), &rule.Formula); err != nil {
			return nil, fmt.Errorf("failed to parse formula definition for %s: %w", rule.ID, err)
		}
	}
	return &rule, nil
}

// SaveSales stores a batch of sales with tenant isolation in one
// transaction; either the whole batch lands or none of it does.
func (r *SQLRepository) SaveSales(ctx context.Context, tenantID string, sales []*domain.Sale) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if len(sales) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := r.rebind(`
		INSERT INTO sales (
			id, tenant_id, contract_id, product, category, territory,
			container_size, quantity, gross_amount, sale_date, extra
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			contract_id = excluded.contract_id,
			product = excluded.product,
			category = excluded.category,
			territory = excluded.territory,
			container_size = excluded.container_size,
			quantity = excluded.quantity,
			gross_amount = excluded.gross_amount,
			sale_date = excluded.sale_date,
			extra = excluded.extra
	`)

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, sale := range sales {
		if sale.ID == "" {
			return fmt.Errorf("%w: sale ID is required", ErrInvalidInput)
		}
		var extra string
		if len(sale.Extra) > 0 {
			b, _ := json.Marshal(sale.Extra)
			extra = string(b)
		}
		var saleDate any
		if !sale.Date.IsZero() {
			saleDate = sale.Date
		}
		if _, err := stmt.ExecContext(ctx,
			sale.ID, tenantID, sale.ContractID, sale.Product, sale.Category,
			sale.Territory, sale.ContainerSize, sale.Quantity, sale.GrossAmount,
			saleDate, extra,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListSales retrieves a contract's sales with tenant isolation, optionally
// bounded by an inclusive date range. Zero bounds are open.
func (r *SQLRepository) ListSales(ctx context.Context, tenantID string, contractID string, from, to time.Time) ([]*domain.Sale, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, contract_id, product, category, territory,
			   container_size, quantity, gross_amount, sale_date, extra
		FROM sales
		WHERE tenant_id = ? AND contract_id = ?
	`
	args := []any{tenantID, contractID}
	if !from.IsZero() {
		query += ` AND sale_date >= ?`
		args = append(args, from)
	}
	if !to.IsZero() {
		query += ` AND sale_date <= ?`
		args = append(args, to)
	}
	query += ` ORDER BY sale_date, id`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sales []*domain.Sale
	for rows.Next() {
		var sale domain.Sale
		var category, territory, containerSize, extra sql.NullString
		var saleDate sql.NullTime

		if err := rows.Scan(
			&sale.ID, &sale.ContractID, &sale.Product, &category, &territory,
			&containerSize, &sale.Quantity, &sale.GrossAmount, &saleDate, &extra,
		); err != nil {
			return nil, err
		}

		sale.Category = category.String
		sale.Territory = territory.String
		sale.ContainerSize = containerSize.String
		if saleDate.Valid {
			sale.Date = saleDate.Time
		}
		if extra.String != "" {
			json.Unmarshal([]byte(extra.String), &sale.Extra)
		}
		sales = append(sales, &sale)
	}
	return sales, rows.Err()
}

// YearToDateUnits sums a contract's unit volume from January 1 of asOf's
// year through asOf.
func (r *SQLRepository) YearToDateUnits(ctx context.Context, tenantID string, contractID string, asOf time.Time) (float64, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	yearStart := time.Date(asOf.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)

	query := `
		SELECT COALESCE(SUM(quantity), 0) FROM sales
		WHERE tenant_id = ? AND contract_id = ?
		  AND sale_date >= ? AND sale_date <= ?
	`

	var units float64
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, contractID, yearStart, asOf).Scan(&units)
	if err != nil {
		return 0, fmt.Errorf("failed to sum unit volume: %w", err)
	}
	return units, nil
}

// SaveCalculation stores a calculation record with tenant isolation.
func (r *SQLRepository) SaveCalculation(ctx context.Context, tenantID string, calc *domain.Calculation) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	breakdown, _ := json.Marshal(calc.Breakdown)
	rulesApplied, _ := json.Marshal(calc.RulesApplied)
	metadata, _ := json.Marshal(calc.Metadata)

	query := `
		INSERT INTO calculations (
			id, tenant_id, contract_id, total_royalty, final_royalty,
			minimum_guarantee, breakdown, rules_applied, unmatched_sales,
			sale_count, created_at, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		calc.ID, tenantID, calc.ContractID, calc.TotalRoyalty, calc.FinalRoyalty,
		calc.MinimumGuarantee, string(breakdown), string(rulesApplied), calc.UnmatchedSales,
		calc.SaleCount, calc.CreatedAt, string(metadata),
	)
	return err
}

// GetCalculation retrieves a calculation by ID with tenant isolation.
func (r *SQLRepository) GetCalculation(ctx context.Context, tenantID string, calcID string) (*domain.Calculation, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, contract_id, total_royalty, final_royalty,
			   minimum_guarantee, breakdown, rules_applied, unmatched_sales,
			   sale_count, created_at, metadata
		FROM calculations
		WHERE tenant_id = ? AND id = ?
	`

	var calc domain.Calculation
	var mg sql.NullFloat64
	var breakdown, rulesApplied, metadata string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, calcID).Scan(
		&calc.ID, &calc.TenantID, &calc.ContractID, &calc.TotalRoyalty, &calc.FinalRoyalty,
		&mg, &breakdown, &rulesApplied, &calc.UnmatchedSales,
		&calc.SaleCount, &calc.CreatedAt, &metadata,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if mg.Valid {
		calc.MinimumGuarantee = &mg.Float64
	}
	json.Unmarshal([]byte(breakdown), &calc.Breakdown)
	json.Unmarshal([]byte(rulesApplied), &calc.RulesApplied)
	json.Unmarshal([]byte(metadata), &calc.Metadata)

	return &calc, nil
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

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
