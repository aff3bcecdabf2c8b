package engine

import (
	"context"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// selectRule returns the first pricing rule admitting the sale, in priority
// order. rules must already be sorted ascending by priority and must not
// contain minimum-guarantee rules.
func (e *Engine) selectRule(ctx context.Context, in *CalculateInput, sale *domain.Sale, rules []*domain.Rule) *domain.Rule {
	for _, rule := range rules {
		if !categoryMatches(rule, sale) {
			continue
		}
		if !territoryMatches(rule, sale) {
			continue
		}
		if !e.guardPasses(ctx, in, rule, sale) {
			continue
		}
		return rule
	}
	return nil
}

// categoryMatches tests the rule's categories against both the sale's
// category and its product name, so a rule scoped to "Cabernet" applies to
// a sale whose product is "Reserve Cabernet 2019" even when the sale's
// category field is generic.
func categoryMatches(rule *domain.Rule, sale *domain.Sale) bool {
	if len(rule.ProductCategories) == 0 {
		return true
	}
	for _, c := range rule.ProductCategories {
		if containsEither(c, sale.Category) || containsEither(c, sale.Product) {
			return true
		}
	}
	return false
}

// territoryMatches is skipped entirely when the rule lists no territories or
// lists the "All" wildcard. Otherwise a listed territory must appear as a
// case-insensitive substring of the sale's territory.
func territoryMatches(rule *domain.Rule, sale *domain.Sale) bool {
	if len(rule.Territories) == 0 {
		return true
	}
	for _, t := range rule.Territories {
		if t == domain.TerritoryWildcard {
			return true
		}
	}
	saleTerritory := strings.ToLower(sale.Territory)
	for _, t := range rule.Territories {
		if strings.Contains(saleTerritory, strings.ToLower(t)) {
			return true
		}
	}
	return false
}

func containsEither(a, b string) bool {
	la, lb := strings.ToLower(a), strings.ToLower(b)
	return strings.Contains(la, lb) || strings.Contains(lb, la)
}
