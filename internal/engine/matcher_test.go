package engine

import (
	"context"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestSelectRulePriorityOrder(t *testing.T) {
	low := legacyRule("specific", 1)
	low.ProductCategories = []string{"Cabernet"}
	high := legacyRule("catch-all", 10)

	e := newTestEngine(t)
	sale := &domain.Sale{ID: "s1", Product: "Cabernet Reserve", Quantity: 1}

	// Order in the slice must not matter, only priority.
	res := e.Calculate(context.Background(), &CalculateInput{
		Rules: []*domain.Rule{high, low},
		Sales: []*domain.Sale{sale},
	})
	if res.Breakdown[0].RuleName != "specific" {
		t.Errorf("applied %q, want the lower-priority-number rule", res.Breakdown[0].RuleName)
	}
}

func TestSelectRuleStableOnPriorityTies(t *testing.T) {
	first := legacyRule("declared-first", 5)
	second := legacyRule("declared-second", 5)

	res := newTestEngine(t).Calculate(context.Background(), &CalculateInput{
		Rules: []*domain.Rule{first, second},
		Sales: []*domain.Sale{{ID: "s1", Product: "Merlot", Quantity: 1}},
	})
	if res.Breakdown[0].RuleName != "declared-first" {
		t.Errorf("applied %q, want declaration order preserved on ties", res.Breakdown[0].RuleName)
	}
}

func TestCategoryMatches(t *testing.T) {
	tests := []struct {
		name       string
		categories []string
		sale       domain.Sale
		want       bool
	}{
		{"no categories match everything", nil, domain.Sale{Product: "Gin"}, true},
		{
			"matches sale category",
			[]string{"Wine"},
			domain.Sale{Product: "Merlot", Category: "Red Wine"},
			true,
		},
		{
			"matches product name when category misses",
			[]string{"Cabernet"},
			domain.Sale{Product: "Reserve Cabernet 2019", Category: "Red"},
			true,
		},
		{
			"bidirectional substring",
			[]string{"Reserve Cabernet 2019 Magnum"},
			domain.Sale{Product: "Cabernet 2019"},
			true,
		},
		{
			"case-insensitive",
			[]string{"WINE"},
			domain.Sale{Product: "Merlot", Category: "wine"},
			true,
		},
		{
			"no overlap",
			[]string{"Spirits"},
			domain.Sale{Product: "Merlot", Category: "Wine"},
			false,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rule := &domain.Rule{ProductCategories: tc.categories}
			if got := categoryMatches(rule, &tc.sale); got != tc.want {
				t.Errorf("categoryMatches() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestTerritoryMatches(t *testing.T) {
	tests := []struct {
		name        string
		territories []string
		territory   string
		want        bool
	}{
		{"empty list matches everything", nil, "Antarctica", true},
		{"wildcard disables matching", []string{"EU", "All"}, "Antarctica", true},
		{"substring of sale territory", []string{"Japan"}, "Japan - Kansai", true},
		{"case-insensitive", []string{"japan"}, "JAPAN", true},
		{"listed territory absent", []string{"Japan", "EU"}, "US West", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rule := &domain.Rule{Territories: tc.territories}
			sale := &domain.Sale{Territory: tc.territory}
			if got := territoryMatches(rule, sale); got != tc.want {
				t.Errorf("territoryMatches() = %v, want %v", got, tc.want)
			}
		})
	}
}
