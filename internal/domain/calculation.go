package domain

import "time"

// CalculationResult is the pure output of one royalty calculation. It
// contains no identifiers or timestamps so that identical inputs always
// produce identical results; persistence wraps it in a Calculation record.
type CalculationResult struct {
	TotalRoyalty float64 `json:"totalRoyalty"`

	// Breakdown holds one entry per successfully priced sale, in input
	// order. Unmatched sales are absent.
	Breakdown []SaleBreakdown `json:"breakdown"`

	// MinimumGuarantee is the applied floor, nil when the contract carries
	// no minimum-guarantee rule.
	MinimumGuarantee *float64 `json:"minimumGuarantee,omitempty"`

	FinalRoyalty float64 `json:"finalRoyalty"`

	// RulesApplied lists the distinct rule names that fired, in first-fired
	// order.
	RulesApplied []string `json:"rulesApplied"`

	// UnmatchedSales counts sales no rule matched. They contribute nothing
	// to the totals.
	UnmatchedSales int `json:"unmatchedSales"`
}

// SaleBreakdown explains how one sale was priced.
type SaleBreakdown struct {
	SaleID   string `json:"saleId"`
	Product  string `json:"product"`
	RuleName string `json:"ruleName"`

	Quantity float64 `json:"quantity"`

	// Rate is the effective per-unit rate. For the legacy path it is the
	// resolved tier or base rate; for the formula path it is the computed
	// amount divided by quantity.
	Rate float64 `json:"rate"`

	SeasonalMultiplier  float64 `json:"seasonalMultiplier"`
	TerritoryMultiplier float64 `json:"territoryMultiplier"`

	Amount      float64 `json:"amount"`
	Explanation string  `json:"explanation"`

	// Trace is the ordered evaluation trace for formula-priced sales, only
	// populated when tracing is requested.
	Trace []string `json:"trace,omitempty"`
}

// Calculation is a persisted calculation result.
type Calculation struct {
	ID         string `json:"id"`
	TenantID   string `json:"tenantId,omitempty"`
	ContractID string `json:"contractId"`

	CalculationResult

	SaleCount int                 `json:"saleCount"`
	CreatedAt time.Time           `json:"createdAt"`
	Metadata  CalculationMetadata `json:"metadata"`
}

// CalculationMetadata carries processing information.
type CalculationMetadata struct {
	TraceID       string `json:"traceId,omitempty"`
	CalcMs        int64  `json:"calcMs"`
	RulesLoaded   int    `json:"rulesLoaded"`
	EngineVersion string `json:"engineVersion"`
}
