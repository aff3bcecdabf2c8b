package domain

import "time"

// Rule types.
const (
	RuleTypeFormula          = "formula"
	RuleTypeTiered           = "tiered"
	RuleTypeMinimumGuarantee = "minimum_guarantee"
)

// TerritoryWildcard in a rule's territory list disables territory matching
// for that rule.
const TerritoryWildcard = "All"

// Rule is a contract-scoped pricing rule. A rule either carries a formula
// definition (the preferred path) or the legacy rate/tier fields; the engine
// picks the path per rule at calculation time.
type Rule struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId,omitempty"`
	ContractID  string `json:"contractId"`
	RuleType    string `json:"ruleType"`
	Name        string `json:"ruleName"`
	Description string `json:"description,omitempty"`

	// Priority orders rule selection: lower evaluates first and wins ties.
	Priority int  `json:"priority"`
	Active   bool `json:"isActive"`

	// Match filters. Empty means no constraint.
	ProductCategories []string `json:"productCategories,omitempty"`
	Territories       []string `json:"territories,omitempty"`

	// Guard is an optional CEL expression evaluated against the sale context
	// during rule selection. An empty guard always passes.
	Guard string `json:"guard,omitempty"`

	// Formula path.
	Formula *FormulaDefinition `json:"formulaDefinition,omitempty"`

	// Legacy path.
	BaseRate            float64            `json:"baseRate,omitempty"`
	VolumeTiers         []VolumeTier       `json:"volumeTiers,omitempty"`
	SeasonalAdjustments map[string]float64 `json:"seasonalAdjustments,omitempty"`
	TerritoryPremiums   map[string]float64 `json:"territoryPremiums,omitempty"`

	MinimumGuarantee float64 `json:"minimumGuarantee,omitempty"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// IsMinimumGuarantee reports whether this rule sets the contract's royalty
// floor rather than pricing individual sales.
func (r *Rule) IsMinimumGuarantee() bool {
	return r.RuleType == RuleTypeMinimumGuarantee
}

// VolumeTier is a legacy volume band: an inclusive quantity range mapped to
// a per-unit rate. Unlike TierBand rates, legacy rates are already
// multipliers, not percentages.
type VolumeTier struct {
	Min  float64  `json:"min"`
	Max  *float64 `json:"max"`
	Rate float64  `json:"rate"`
}

// Contains reports whether q falls inside the tier (inclusive bounds).
func (t VolumeTier) Contains(q float64) bool {
	if q < t.Min {
		return false
	}
	return t.Max == nil || q <= *t.Max
}
