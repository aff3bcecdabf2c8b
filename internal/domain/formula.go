package domain

import "time"

// NodeType discriminates the variants of FormulaNode. The set is closed;
// the evaluator dispatches exhaustively and treats any other value as a
// programmer error.
type NodeType string

const (
	NodeLiteral   NodeType = "literal"
	NodeReference NodeType = "reference"
	NodeTier      NodeType = "tier"
	NodeMultiply  NodeType = "multiply"
	NodeAdd       NodeType = "add"
	NodeSubtract  NodeType = "subtract"
	NodeMax       NodeType = "max"
	NodeMin       NodeType = "min"
	NodeIf        NodeType = "if"
	NodeLookup    NodeType = "lookup"
	NodePremium   NodeType = "premium"
	NodeRound     NodeType = "round"
)

// PercentRate is a rate stored as a percentage figure: 11.25 means 11.25%.
// Rules are authored by an extraction process that always emits percentages,
// so the division by 100 happens structurally via Fraction, never at the
// call sites.
type PercentRate float64

// Fraction returns the multiplier form of the rate (11.25 -> 0.1125).
func (p PercentRate) Fraction() float64 {
	return float64(p) / 100
}

// PremiumMode selects how a premium node combines the adjustment with its
// base. The two modes are not interchangeable: additive yields the
// premium-inclusive total, multiplicative yields only the premium portion.
type PremiumMode string

const (
	PremiumAdditive       PremiumMode = "additive"
	PremiumMultiplicative PremiumMode = "multiplicative"
)

// RoundMode selects the rounding function for a round node.
type RoundMode string

const (
	RoundNearest RoundMode = "round"
	RoundFloor   RoundMode = "floor"
	RoundCeil    RoundMode = "ceil"
)

// CondOp is a condition operator for if nodes.
type CondOp string

const (
	OpEquals      CondOp = "equals"
	OpContains    CondOp = "contains"
	OpGreaterThan CondOp = "greaterThan"
	OpLessThan    CondOp = "lessThan"
	OpIn          CondOp = "in"
)

// FormulaNode is one node of a royalty formula expression tree. It is a
// tagged union: Type selects the variant and the variant's fields; all other
// fields are ignored. The tree is plain data with no behavior, serialized
// as JSON with the type discriminator.
type FormulaNode struct {
	Type NodeType `json:"type"`

	// literal
	Value *Value `json:"value,omitempty"`
	Unit  string `json:"unit,omitempty"` // dollars | percent | multiplier; documentation only

	// reference, tier, lookup
	Field string `json:"field,omitempty"`

	// tier
	Tiers []TierBand `json:"tiers,omitempty"`

	// multiply, add, subtract, max, min
	Operands []*FormulaNode `json:"operands,omitempty"`

	// if
	Condition *Condition   `json:"condition,omitempty"`
	Then      *FormulaNode `json:"then,omitempty"`
	Else      *FormulaNode `json:"else,omitempty"` // absent means 0

	// lookup
	Table   map[string]float64 `json:"table,omitempty"`
	Default float64            `json:"default,omitempty"`

	// premium, round
	Base *FormulaNode `json:"base,omitempty"`

	// premium
	Pct  float64     `json:"percentage,omitempty"`
	Mode PremiumMode `json:"mode,omitempty"`

	// round
	Precision int       `json:"precision,omitempty"`
	RoundMode RoundMode `json:"roundMode,omitempty"` // defaults to "round"
}

// TierBand maps a quantity range to a rate. Max nil means open-ended.
type TierBand struct {
	Min   float64     `json:"min"`
	Max   *float64    `json:"max"`
	Rate  PercentRate `json:"rate"`
	Label string      `json:"label,omitempty"`
}

// Contains reports whether v falls inside the band (inclusive bounds).
func (b TierBand) Contains(v float64) bool {
	if v < b.Min {
		return false
	}
	return b.Max == nil || v <= *b.Max
}

// Condition gates an if node.
type Condition struct {
	Field    string `json:"field"`
	Operator CondOp `json:"operator"`
	Value    Value  `json:"value"`
}

// FormulaDefinition wraps one root node with a name, optional applicability
// filters, and a display template. The template is cosmetic and never
// evaluated.
type FormulaDefinition struct {
	Name            string          `json:"name"`
	Description     string          `json:"description,omitempty"`
	Root            *FormulaNode    `json:"root"`
	Filters         *FormulaFilters `json:"filters,omitempty"`
	DisplayTemplate string          `json:"displayTemplate,omitempty"`
}

// FormulaFilters gate whether a formula applies to a sale at all. All
// provided dimensions are AND-ed; an absent or empty dimension passes.
type FormulaFilters struct {
	Products       []string   `json:"products,omitempty"`
	Territories    []string   `json:"territories,omitempty"`
	ContainerSizes []string   `json:"containerSizes,omitempty"`
	DateRange      *DateRange `json:"dateRange,omitempty"`
}

// DateRange is an inclusive date window. Either bound may be open.
type DateRange struct {
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}
