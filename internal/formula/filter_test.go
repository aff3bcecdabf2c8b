package formula

import (
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func saleInput(product, territory, containerSize string, date time.Time) Input {
	return Input{
		Context: domain.Context{
			"product":       domain.StringValue(product),
			"territory":     domain.StringValue(territory),
			"containerSize": domain.StringValue(containerSize),
		},
		Date: date,
	}
}

func TestMatchesFilters(t *testing.T) {
	jan1 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	dec31 := time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)
	mid := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		filters *domain.FormulaFilters
		in      Input
		want    bool
	}{
		{
			"nil filters admit everything",
			nil,
			saleInput("", "", "", time.Time{}),
			true,
		},
		{
			"product substring either direction",
			&domain.FormulaFilters{Products: []string{"Reserve Cabernet"}},
			saleInput("Cabernet", "EU", "40ft", mid),
			true,
		},
		{
			"product substring reversed",
			&domain.FormulaFilters{Products: []string{"Cab"}},
			saleInput("Reserve Cabernet 2019", "EU", "40ft", mid),
			true,
		},
		{
			"product case-insensitive",
			&domain.FormulaFilters{Products: []string{"CABERNET"}},
			saleInput("cabernet", "EU", "40ft", mid),
			true,
		},
		{
			"product miss",
			&domain.FormulaFilters{Products: []string{"Merlot"}},
			saleInput("Cabernet", "EU", "40ft", mid),
			false,
		},
		{
			"territory exact match only",
			&domain.FormulaFilters{Territories: []string{"EU"}},
			saleInput("Cabernet", "EU West", "40ft", mid),
			false,
		},
		{
			"territory exact case-insensitive",
			&domain.FormulaFilters{Territories: []string{"eu"}},
			saleInput("Cabernet", "EU", "40ft", mid),
			true,
		},
		{
			"container size exact",
			&domain.FormulaFilters{ContainerSizes: []string{"40ft", "20ft"}},
			saleInput("Cabernet", "EU", "20ft", mid),
			true,
		},
		{
			"date inside inclusive range",
			&domain.FormulaFilters{DateRange: &domain.DateRange{Start: &jan1, End: &dec31}},
			saleInput("Cabernet", "EU", "40ft", mid),
			true,
		},
		{
			"date on boundary",
			&domain.FormulaFilters{DateRange: &domain.DateRange{Start: &jan1, End: &dec31}},
			saleInput("Cabernet", "EU", "40ft", dec31),
			true,
		},
		{
			"date outside range",
			&domain.FormulaFilters{DateRange: &domain.DateRange{End: &jan1}},
			saleInput("Cabernet", "EU", "40ft", mid),
			false,
		},
		{
			"missing sale date fails bounded range",
			&domain.FormulaFilters{DateRange: &domain.DateRange{Start: &jan1}},
			saleInput("Cabernet", "EU", "40ft", time.Time{}),
			false,
		},
		{
			"empty date range passes",
			&domain.FormulaFilters{DateRange: &domain.DateRange{}},
			saleInput("Cabernet", "EU", "40ft", time.Time{}),
			true,
		},
		{
			"dimensions combine with AND",
			&domain.FormulaFilters{
				Products:    []string{"Cabernet"},
				Territories: []string{"US"},
			},
			saleInput("Cabernet", "EU", "40ft", mid),
			false,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := MatchesFilters(tc.filters, tc.in); got != tc.want {
				t.Errorf("MatchesFilters() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestValidateRejectsFractionTierRates(t *testing.T) {
	def := &domain.FormulaDefinition{
		Name: "bad-rates",
		Root: &domain.FormulaNode{
			Type:  domain.NodeTier,
			Field: "units",
			Tiers: []domain.TierBand{{Min: 0, Rate: 0.11}},
		},
	}
	if err := Validate(def); err == nil {
		t.Error("expected fraction-looking tier rate to be rejected")
	}

	def.Root.Tiers[0].Rate = 11.0
	if err := Validate(def); err != nil {
		t.Errorf("percentage rate rejected: %v", err)
	}
}

func TestValidateStructure(t *testing.T) {
	tests := []struct {
		name string
		root *domain.FormulaNode
		ok   bool
	}{
		{"nil root", nil, false},
		{"unknown type", &domain.FormulaNode{Type: "exponent"}, false},
		{
			"subtract arity",
			&domain.FormulaNode{Type: domain.NodeSubtract, Operands: []*domain.FormulaNode{numLit(1)}},
			false,
		},
		{"empty multiply", &domain.FormulaNode{Type: domain.NodeMultiply}, false},
		{"premium without base", &domain.FormulaNode{Type: domain.NodePremium, Pct: 0.1}, false},
		{
			"valid nested",
			&domain.FormulaNode{Type: domain.NodeRound, Precision: 2, Base: &domain.FormulaNode{
				Type:     domain.NodeMultiply,
				Operands: []*domain.FormulaNode{numLit(2), {Type: domain.NodeReference, Field: "units"}},
			}},
			true,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(&domain.FormulaDefinition{Name: tc.name, Root: tc.root})
			if (err == nil) != tc.ok {
				t.Errorf("Validate() error = %v, want ok=%v", err, tc.ok)
			}
		})
	}
}
