package formula

import (
	"math"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func fptr(v float64) *float64 { return &v }

func numLit(v float64) *domain.FormulaNode {
	val := domain.NumberValue(v)
	return &domain.FormulaNode{Type: domain.NodeLiteral, Value: &val}
}

func strLit(s string) *domain.FormulaNode {
	val := domain.StringValue(s)
	return &domain.FormulaNode{Type: domain.NodeLiteral, Value: &val}
}

func evalNumber(t *testing.T, node *domain.FormulaNode, ctx domain.Context) float64 {
	t.Helper()
	return NewEvaluator(false).Evaluate(node, ctx).AsNumber()
}

func TestEvaluateLiteralAndReference(t *testing.T) {
	ctx := domain.Context{
		"units":  domain.NumberValue(500),
		"season": domain.StringValue("Summer"),
		"weird":  domain.StringValue("not-a-number"),
	}

	if got := evalNumber(t, numLit(42.5), ctx); got != 42.5 {
		t.Errorf("literal = %v, want 42.5", got)
	}
	if got := evalNumber(t, &domain.FormulaNode{Type: domain.NodeReference, Field: "units"}, ctx); got != 500 {
		t.Errorf("reference units = %v, want 500", got)
	}
	if got := evalNumber(t, &domain.FormulaNode{Type: domain.NodeReference, Field: "missing"}, ctx); got != 0 {
		t.Errorf("missing reference = %v, want 0", got)
	}
	if got := evalNumber(t, &domain.FormulaNode{Type: domain.NodeReference, Field: "weird"}, ctx); got != 0 {
		t.Errorf("non-numeric reference = %v, want 0", got)
	}
}

func TestEvaluateTierDividesRateBy100(t *testing.T) {
	node := &domain.FormulaNode{
		Type:  domain.NodeTier,
		Field: "units",
		Tiers: []domain.TierBand{
			{Min: 0, Max: fptr(5000), Rate: 100, Label: "base"},
			{Min: 5001, Max: nil, Rate: 110, Label: "volume"},
		},
	}

	tests := []struct {
		name  string
		units float64
		want  float64
	}{
		{"first band", 3000, 1.00},
		{"band upper bound inclusive", 5000, 1.00},
		{"open-ended band", 6200, 1.10},
		{"no band", -1, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctx := domain.Context{"units": domain.NumberValue(tc.units)}
			if got := evalNumber(t, node, ctx); got != tc.want {
				t.Errorf("tier(%v) = %v, want %v", tc.units, got, tc.want)
			}
		})
	}
}

func TestEvaluateArithmetic(t *testing.T) {
	ctx := domain.Context{"units": domain.NumberValue(10)}

	tests := []struct {
		name string
		node *domain.FormulaNode
		want float64
	}{
		{
			"multiply",
			&domain.FormulaNode{Type: domain.NodeMultiply, Operands: []*domain.FormulaNode{
				numLit(6), numLit(7),
			}},
			42,
		},
		{
			"add",
			&domain.FormulaNode{Type: domain.NodeAdd, Operands: []*domain.FormulaNode{
				numLit(1), numLit(2), numLit(3.5),
			}},
			6.5,
		},
		{
			"subtract",
			&domain.FormulaNode{Type: domain.NodeSubtract, Operands: []*domain.FormulaNode{
				numLit(10), numLit(4),
			}},
			6,
		},
		{
			"max",
			&domain.FormulaNode{Type: domain.NodeMax, Operands: []*domain.FormulaNode{
				numLit(3), numLit(9), numLit(7),
			}},
			9,
		},
		{
			"min",
			&domain.FormulaNode{Type: domain.NodeMin, Operands: []*domain.FormulaNode{
				numLit(3), numLit(9), numLit(7),
			}},
			3,
		},
		{
			"non-numeric operand coerces to zero",
			&domain.FormulaNode{Type: domain.NodeAdd, Operands: []*domain.FormulaNode{
				numLit(5), strLit("oops"),
			}},
			5,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := evalNumber(t, tc.node, ctx); got != tc.want {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestEvaluateIf(t *testing.T) {
	ctx := domain.Context{
		"season":    domain.StringValue("Summer"),
		"territory": domain.StringValue("North America"),
		"units":     domain.NumberValue(6200),
	}

	tests := []struct {
		name string
		cond domain.Condition
		want float64
	}{
		{"equals true", domain.Condition{Field: "season", Operator: domain.OpEquals, Value: domain.StringValue("Summer")}, 1},
		{"equals false", domain.Condition{Field: "season", Operator: domain.OpEquals, Value: domain.StringValue("Winter")}, 2},
		{"contains case-insensitive", domain.Condition{Field: "territory", Operator: domain.OpContains, Value: domain.StringValue("america")}, 1},
		{"greaterThan", domain.Condition{Field: "units", Operator: domain.OpGreaterThan, Value: domain.NumberValue(5000)}, 1},
		{"lessThan false", domain.Condition{Field: "units", Operator: domain.OpLessThan, Value: domain.NumberValue(5000)}, 2},
		{"in list", domain.Condition{Field: "season", Operator: domain.OpIn, Value: domain.ListValue("Spring", "Summer")}, 1},
		{"in list miss", domain.Condition{Field: "season", Operator: domain.OpIn, Value: domain.ListValue("Fall", "Holiday")}, 2},
		{"unknown operator never matches", domain.Condition{Field: "season", Operator: "matches", Value: domain.StringValue("Summer")}, 2},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cond := tc.cond
			node := &domain.FormulaNode{
				Type:      domain.NodeIf,
				Condition: &cond,
				Then:      numLit(1),
				Else:      numLit(2),
			}
			if got := evalNumber(t, node, ctx); got != tc.want {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}

	t.Run("missing else defaults to zero", func(t *testing.T) {
		node := &domain.FormulaNode{
			Type:      domain.NodeIf,
			Condition: &domain.Condition{Field: "season", Operator: domain.OpEquals, Value: domain.StringValue("Winter")},
			Then:      numLit(1),
		}
		if got := evalNumber(t, node, ctx); got != 0 {
			t.Errorf("got %v, want 0", got)
		}
	})
}

func TestEvaluateLookup(t *testing.T) {
	node := &domain.FormulaNode{
		Type:    domain.NodeLookup,
		Field:   "containerSize",
		Table:   map[string]float64{"40ft": 1.2, "20ft": 1.0},
		Default: 0.9,
	}

	ctx := domain.Context{"containerSize": domain.StringValue("40ft")}
	if got := evalNumber(t, node, ctx); got != 1.2 {
		t.Errorf("lookup hit = %v, want 1.2", got)
	}
	ctx = domain.Context{"containerSize": domain.StringValue("53ft")}
	if got := evalNumber(t, node, ctx); got != 0.9 {
		t.Errorf("lookup miss = %v, want default 0.9", got)
	}
}

func TestEvaluatePremium(t *testing.T) {
	tests := []struct {
		name string
		mode domain.PremiumMode
		want float64
	}{
		{"additive includes base", domain.PremiumAdditive, 125},
		{"multiplicative is premium only", domain.PremiumMultiplicative, 25},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			node := &domain.FormulaNode{
				Type: domain.NodePremium,
				Base: numLit(100),
				Pct:  0.25,
				Mode: tc.mode,
			}
			if got := evalNumber(t, node, nil); got != tc.want {
				t.Errorf("premium = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestEvaluateRound(t *testing.T) {
	tests := []struct {
		name string
		mode domain.RoundMode
		want float64
	}{
		{"floor", domain.RoundFloor, 1.23},
		{"ceil", domain.RoundCeil, 1.24},
		{"nearest", domain.RoundNearest, 1.24},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			node := &domain.FormulaNode{
				Type:      domain.NodeRound,
				Base:      numLit(1.239),
				Precision: 2,
				RoundMode: tc.mode,
			}
			if got := evalNumber(t, node, nil); got != tc.want {
				t.Errorf("round(1.239) = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestEvaluateUnknownNodePanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic for unknown node type")
		}
	}()
	NewEvaluator(false).Evaluate(&domain.FormulaNode{Type: "exponent"}, nil)
}

// Volume-tiered wine pricing: 6,200 units lands in the 5,001+ band at 110%,
// so the royalty is 6200 * 1.10 = 6820.00.
func TestEvaluateFormulaVolumeTierScenario(t *testing.T) {
	def := &domain.FormulaDefinition{
		Name: "volume-tiered",
		Root: &domain.FormulaNode{
			Type: domain.NodeMultiply,
			Operands: []*domain.FormulaNode{
				{Type: domain.NodeReference, Field: "units"},
				{
					Type:  domain.NodeTier,
					Field: "units",
					Tiers: []domain.TierBand{
						{Min: 0, Max: fptr(5000), Rate: 100},
						{Min: 5001, Max: nil, Rate: 110},
					},
				},
			},
		},
	}

	in := Input{Context: domain.Context{"units": domain.NumberValue(6200)}}
	got := NewEvaluator(false).EvaluateFormula(def, in)
	if math.Abs(got-6820.00) > 1e-9 {
		t.Errorf("royalty = %v, want 6820.00", got)
	}
}

func TestEvaluateFormulaStringRootCoercesToZero(t *testing.T) {
	def := &domain.FormulaDefinition{Name: "string-root", Root: strLit("Summer")}
	if got := NewEvaluator(false).EvaluateFormula(def, Input{Context: domain.Context{}}); got != 0 {
		t.Errorf("string root = %v, want 0", got)
	}
}

func TestEvaluatorTrace(t *testing.T) {
	def := &domain.FormulaDefinition{
		Name: "traced",
		Root: &domain.FormulaNode{Type: domain.NodeMultiply, Operands: []*domain.FormulaNode{
			numLit(2), numLit(3),
		}},
	}

	ev := NewEvaluator(true)
	if got := ev.EvaluateFormula(def, Input{Context: domain.Context{}}); got != 6 {
		t.Fatalf("result = %v, want 6", got)
	}
	if len(ev.Steps()) == 0 {
		t.Error("expected trace steps")
	}

	// Tracing must not change the result.
	silent := NewEvaluator(false).EvaluateFormula(def, Input{Context: domain.Context{}})
	if silent != 6 {
		t.Errorf("untraced result = %v, want 6", silent)
	}
	if len(NewEvaluator(false).Steps()) != 0 {
		t.Error("untraced evaluator should collect no steps")
	}
}
