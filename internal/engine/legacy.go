package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// priceLegacy prices a sale with a flat-rate rule: base rate possibly
// overridden by a volume tier, then seasonal and territory multipliers.
// Legacy rates are already multipliers, not percentages.
func priceLegacy(rule *domain.Rule, sale *domain.Sale) domain.SaleBreakdown {
	rate := rule.BaseRate
	tierLabel := "base"
	for _, t := range rule.VolumeTiers {
		if t.Contains(sale.Quantity) {
			rate = t.Rate
			tierLabel = "volume tier"
			break
		}
	}

	seasonal := 1.0
	season := sale.Season()
	if m, ok := rule.SeasonalAdjustments[season]; ok {
		seasonal = m
	}

	territory := territoryPremium(rule.TerritoryPremiums, sale.Territory)

	amount := sale.Quantity * rate * seasonal * territory
	return domain.SaleBreakdown{
		SaleID:              sale.ID,
		Product:             sale.Product,
		RuleName:            rule.Name,
		Quantity:            sale.Quantity,
		Rate:                rate,
		SeasonalMultiplier:  seasonal,
		TerritoryMultiplier: territory,
		Amount:              amount,
		Explanation: fmt.Sprintf("%s: %.0f units x %.4f (%s) x %.2f (%s) x %.2f (territory) = $%.2f",
			rule.Name, sale.Quantity, rate, tierLabel, seasonal, season, territory, amount),
	}
}

// territoryPremium finds the first premium whose key appears as a
// case-insensitive substring of the sale's territory. Keys are scanned in
// sorted order so repeated calculations over the same inputs always pick
// the same premium.
func territoryPremium(premiums map[string]float64, saleTerritory string) float64 {
	if len(premiums) == 0 {
		return 1.0
	}
	keys := make([]string, 0, len(premiums))
	for k := range premiums {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lt := strings.ToLower(saleTerritory)
	for _, k := range keys {
		if strings.Contains(lt, strings.ToLower(k)) {
			return premiums[k]
		}
	}
	return 1.0
}
