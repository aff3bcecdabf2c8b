package repository

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "kestrel-test-*.db")
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

func fptr(v float64) *float64 { return &v }

func TestSQLiteRepository(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGetRule", func(t *testing.T) {
		rule := &domain.Rule{
			ID:                "rule-001",
			ContractID:        "contract-001",
			RuleType:          domain.RuleTypeTiered,
			Name:              "standard-rate",
			Description:       "flat per-unit rate",
			Priority:          5,
			Active:            true,
			ProductCategories: []string{"Wine"},
			Territories:       []string{"EU", "Japan"},
			BaseRate:          1.25,
			VolumeTiers: []domain.VolumeTier{
				{Min: 0, Max: fptr(500), Rate: 1.00},
				{Min: 501, Max: nil, Rate: 1.10},
			},
			SeasonalAdjustments: map[string]float64{domain.SeasonFall: 0.95},
			TerritoryPremiums:   map[string]float64{"Japan": 1.5},
		}

		if err := repo.SaveRule(ctx, tenantID, rule); err != nil {
			t.Fatalf("SaveRule failed: %v", err)
		}

		got, err := repo.GetRule(ctx, tenantID, "rule-001")
		if err != nil {
			t.Fatalf("GetRule failed: %v", err)
		}
		if got.Name != "standard-rate" || got.BaseRate != 1.25 || !got.Active {
			t.Errorf("unexpected rule: %+v", got)
		}
		if len(got.VolumeTiers) != 2 || got.VolumeTiers[1].Max != nil {
			t.Errorf("volume tiers not round-tripped: %+v", got.VolumeTiers)
		}
		if got.SeasonalAdjustments[domain.SeasonFall] != 0.95 {
			t.Errorf("seasonal adjustments not round-tripped: %+v", got.SeasonalAdjustments)
		}
	})

	t.Run("SaveRuleWithFormula", func(t *testing.T) {
		val := domain.NumberValue(2)
		rule := &domain.Rule{
			ID:         "rule-002",
			ContractID: "contract-001",
			RuleType:   domain.RuleTypeFormula,
			Name:       "formula-rule",
			Priority:   1,
			Active:     true,
			Guard:      "units > 100.0",
			Formula: &domain.FormulaDefinition{
				Name: "double-units",
				Root: &domain.FormulaNode{
					Type: domain.NodeMultiply,
					Operands: []*domain.FormulaNode{
						{Type: domain.NodeLiteral, Value: &val},
						{Type: domain.NodeReference, Field: "units"},
					},
				},
			},
		}

		if err := repo.SaveRule(ctx, tenantID, rule); err != nil {
			t.Fatalf("SaveRule failed: %v", err)
		}

		got, err := repo.GetRule(ctx, tenantID, "rule-002")
		if err != nil {
			t.Fatalf("GetRule failed: %v", err)
		}
		if got.Formula == nil || got.Formula.Root == nil {
			t.Fatal("formula definition not round-tripped")
		}
		if got.Formula.Root.Type != domain.NodeMultiply || len(got.Formula.Root.Operands) != 2 {
			t.Errorf("formula root mismatch: %+v", got.Formula.Root)
		}
		if got.Guard != "units > 100.0" {
			t.Errorf("guard = %q", got.Guard)
		}
	})

	t.Run("SaveRuleUpsert", func(t *testing.T) {
		rule := &domain.Rule{
			ID: "rule-001", ContractID: "contract-001",
			RuleType: domain.RuleTypeTiered, Name: "standard-rate-v2",
			Priority: 5, Active: true, BaseRate: 1.30,
		}
		if err := repo.SaveRule(ctx, tenantID, rule); err != nil {
			t.Fatalf("SaveRule upsert failed: %v", err)
		}
		got, err := repo.GetRule(ctx, tenantID, "rule-001")
		if err != nil {
			t.Fatalf("GetRule failed: %v", err)
		}
		if got.Name != "standard-rate-v2" || got.BaseRate != 1.30 {
			t.Errorf("upsert did not replace: %+v", got)
		}
	})

	t.Run("ListRulesOrderedByPriority", func(t *testing.T) {
		rules, err := repo.ListRules(ctx, tenantID, "contract-001")
		if err != nil {
			t.Fatalf("ListRules failed: %v", err)
		}
		if len(rules) != 2 {
			t.Fatalf("expected 2 rules, got %d", len(rules))
		}
		if rules[0].ID != "rule-002" {
			t.Errorf("expected priority 1 rule first, got %s", rules[0].ID)
		}
	})

	t.Run("GetRuleNotFound", func(t *testing.T) {
		_, err := repo.GetRule(ctx, tenantID, "missing")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		_, err := repo.GetRule(ctx, "tenant-002", "rule-001")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("rule visible across tenants: %v", err)
		}
		if _, err := repo.GetRule(ctx, "", "rule-001"); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput for empty tenant, got %v", err)
		}
	})

	t.Run("DeleteRule", func(t *testing.T) {
		if err := repo.DeleteRule(ctx, tenantID, "rule-002"); err != nil {
			t.Fatalf("DeleteRule failed: %v", err)
		}
		if err := repo.DeleteRule(ctx, tenantID, "rule-002"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound on repeat delete, got %v", err)
		}
	})
}

func TestSalesAndVolume(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"
	contractID := "contract-001"

	sales := []*domain.Sale{
		{
			ID: "sale-001", ContractID: contractID, Product: "Cabernet",
			Category: "Wine", Territory: "EU", ContainerSize: "40ft",
			Quantity: 1000, GrossAmount: 12000,
			Date:  time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC),
			Extra: map[string]domain.Value{"vintage": domain.StringValue("2019")},
		},
		{
			ID: "sale-002", ContractID: contractID, Product: "Merlot",
			Quantity: 500,
			Date:     time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			ID: "sale-003", ContractID: contractID, Product: "Syrah",
			Quantity: 200,
			Date:     time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC),
		},
	}

	if err := repo.SaveSales(ctx, tenantID, sales); err != nil {
		t.Fatalf("SaveSales failed: %v", err)
	}

	t.Run("ListAll", func(t *testing.T) {
		got, err := repo.ListSales(ctx, tenantID, contractID, time.Time{}, time.Time{})
		if err != nil {
			t.Fatalf("ListSales failed: %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("expected 3 sales, got %d", len(got))
		}
		// Ordered by date: sale-003 is from the previous year.
		if got[0].ID != "sale-003" {
			t.Errorf("expected date ordering, got %s first", got[0].ID)
		}
	})

	t.Run("ExtraFieldsRoundTrip", func(t *testing.T) {
		got, err := repo.ListSales(ctx, tenantID, contractID, time.Time{}, time.Time{})
		if err != nil {
			t.Fatalf("ListSales failed: %v", err)
		}
		var cab *domain.Sale
		for _, s := range got {
			if s.ID == "sale-001" {
				cab = s
			}
		}
		if cab == nil {
			t.Fatal("sale-001 missing")
		}
		if v := cab.Extra["vintage"]; v.AsString() != "2019" {
			t.Errorf("extra vintage = %q, want 2019", v.AsString())
		}
	})

	t.Run("DateRangeInclusive", func(t *testing.T) {
		from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		to := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
		got, err := repo.ListSales(ctx, tenantID, contractID, from, to)
		if err != nil {
			t.Fatalf("ListSales failed: %v", err)
		}
		if len(got) != 2 {
			t.Errorf("expected 2 sales in range, got %d", len(got))
		}
	})

	t.Run("YearToDateUnits", func(t *testing.T) {
		asOf := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
		units, err := repo.YearToDateUnits(ctx, tenantID, contractID, asOf)
		if err != nil {
			t.Fatalf("YearToDateUnits failed: %v", err)
		}
		if units != 1500 {
			t.Errorf("units = %v, want 1500 (previous year excluded)", units)
		}
	})

	t.Run("SaveSalesUpsert", func(t *testing.T) {
		update := []*domain.Sale{{
			ID: "sale-002", ContractID: contractID, Product: "Merlot",
			Quantity: 600,
			Date:     time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		}}
		if err := repo.SaveSales(ctx, tenantID, update); err != nil {
			t.Fatalf("SaveSales upsert failed: %v", err)
		}
		got, err := repo.ListSales(ctx, tenantID, contractID, time.Time{}, time.Time{})
		if err != nil {
			t.Fatalf("ListSales failed: %v", err)
		}
		if len(got) != 3 {
			t.Errorf("upsert duplicated a sale: %d rows", len(got))
		}
	})
}

func TestCalculations(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	mg := 50000.0
	calc := &domain.Calculation{
		ID:         "calc-001",
		ContractID: "contract-001",
		CalculationResult: domain.CalculationResult{
			TotalRoyalty: 1187.50,
			Breakdown: []domain.SaleBreakdown{{
				SaleID: "sale-001", Product: "Pinot Noir", RuleName: "standard-rate",
				Quantity: 1000, Rate: 1.25, SeasonalMultiplier: 0.95,
				TerritoryMultiplier: 1.0, Amount: 1187.50,
			}},
			MinimumGuarantee: &mg,
			FinalRoyalty:     50000,
			RulesApplied:     []string{"standard-rate", "annual-minimum"},
			UnmatchedSales:   1,
		},
		SaleCount: 2,
		CreatedAt: time.Now().UTC(),
		Metadata: domain.CalculationMetadata{
			TraceID:       "trace-001",
			CalcMs:        12,
			RulesLoaded:   2,
			EngineVersion: "kestrel-1.0",
		},
	}

	if err := repo.SaveCalculation(ctx, tenantID, calc); err != nil {
		t.Fatalf("SaveCalculation failed: %v", err)
	}

	got, err := repo.GetCalculation(ctx, tenantID, "calc-001")
	if err != nil {
		t.Fatalf("GetCalculation failed: %v", err)
	}
	if got.FinalRoyalty != 50000 || got.TotalRoyalty != 1187.50 {
		t.Errorf("totals mismatch: %+v", got)
	}
	if got.MinimumGuarantee == nil || *got.MinimumGuarantee != 50000 {
		t.Errorf("minimum guarantee not round-tripped: %v", got.MinimumGuarantee)
	}
	if len(got.Breakdown) != 1 || got.Breakdown[0].RuleName != "standard-rate" {
		t.Errorf("breakdown not round-tripped: %+v", got.Breakdown)
	}
	if got.Metadata.EngineVersion != "kestrel-1.0" {
		t.Errorf("metadata not round-tripped: %+v", got.Metadata)
	}

	if _, err := repo.GetCalculation(ctx, tenantID, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
