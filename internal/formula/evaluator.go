// Package formula implements the royalty formula expression evaluator.
//
// A formula is a tree of FormulaNode values; evaluation reduces the tree
// against a sale-derived context to a single number. The node set is closed:
// the dispatch below is exhaustive and an unknown node type panics, because
// it means the model and the evaluator have drifted out of sync.
package formula

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Input carries the sale-derived data one evaluation runs against.
type Input struct {
	Context domain.Context

	// Date is the sale's transaction date, used by date-range filters.
	// The zero value means unknown.
	Date time.Time
}

// Evaluator reduces formula nodes to values. When tracing is enabled it
// collects one human-readable step per node visited; the trace never
// affects the computed result.
type Evaluator struct {
	traced bool
	steps  []string
}

// NewEvaluator creates an evaluator. Pass true to collect a debug trace.
func NewEvaluator(trace bool) *Evaluator {
	return &Evaluator{traced: trace}
}

// Steps returns the accumulated trace, in evaluation order.
func (e *Evaluator) Steps() []string {
	return e.steps
}

func (e *Evaluator) trace(format string, args ...any) {
	if e.traced {
		e.steps = append(e.steps, fmt.Sprintf(format, args...))
	}
}

// EvaluateFormula applies a full definition to an input. Filters are checked
// first: a sale the filters do not admit contributes 0, silently. Otherwise
// the root node is evaluated and the result coerced to a number, so a
// formula whose root yields a non-numeric string comes out as 0.
func (e *Evaluator) EvaluateFormula(def *domain.FormulaDefinition, in Input) float64 {
	if !MatchesFilters(def.Filters, in) {
		e.trace("filters: sale not admitted by %q, contributes 0", def.Name)
		return 0
	}
	if def.Root == nil {
		return 0
	}
	result := e.Evaluate(def.Root, in.Context).AsNumber()
	e.trace("result: %g", result)
	return result
}

// Evaluate reduces one node to a number or string value.
func (e *Evaluator) Evaluate(node *domain.FormulaNode, ctx domain.Context) domain.Value {
	switch node.Type {
	case domain.NodeLiteral:
		return e.evalLiteral(node)
	case domain.NodeReference:
		return e.evalReference(node, ctx)
	case domain.NodeTier:
		return e.evalTier(node, ctx)
	case domain.NodeMultiply:
		return e.evalMultiply(node, ctx)
	case domain.NodeAdd:
		return e.evalAdd(node, ctx)
	case domain.NodeSubtract:
		return e.evalSubtract(node, ctx)
	case domain.NodeMax:
		return e.evalMinMax(node, ctx, true)
	case domain.NodeMin:
		return e.evalMinMax(node, ctx, false)
	case domain.NodeIf:
		return e.evalIf(node, ctx)
	case domain.NodeLookup:
		return e.evalLookup(node, ctx)
	case domain.NodePremium:
		return e.evalPremium(node, ctx)
	case domain.NodeRound:
		return e.evalRound(node, ctx)
	default:
		panic(fmt.Sprintf("formula: unknown node type %q", node.Type))
	}
}

func (e *Evaluator) evalLiteral(node *domain.FormulaNode) domain.Value {
	if node.Value == nil {
		return domain.Value{}
	}
	e.trace("literal: %s", node.Value.AsString())
	return *node.Value
}

func (e *Evaluator) evalReference(node *domain.FormulaNode, ctx domain.Context) domain.Value {
	v := ctx.Get(node.Field)
	if v.IsNull() {
		e.trace("reference %q: missing, defaults to 0", node.Field)
	} else {
		e.trace("reference %q = %s", node.Field, v.AsString())
	}
	return v
}

func (e *Evaluator) evalTier(node *domain.FormulaNode, ctx domain.Context) domain.Value {
	ref := ctx.Get(node.Field).AsNumber()
	for _, band := range node.Tiers {
		if band.Contains(ref) {
			// Rates are authored as percentages; Fraction is the only path
			// from a stored rate to a multiplier.
			e.trace("tier %q: %g in band %q, rate %g%% -> %g",
				node.Field, ref, band.Label, float64(band.Rate), band.Rate.Fraction())
			return domain.NumberValue(band.Rate.Fraction())
		}
	}
	e.trace("tier %q: %g matched no band, defaults to 0", node.Field, ref)
	return domain.NumberValue(0)
}

func (e *Evaluator) evalMultiply(node *domain.FormulaNode, ctx domain.Context) domain.Value {
	product := 1.0
	for _, op := range node.Operands {
		product *= e.Evaluate(op, ctx).AsNumber()
	}
	e.trace("multiply: %g", product)
	return domain.NumberValue(product)
}

func (e *Evaluator) evalAdd(node *domain.FormulaNode, ctx domain.Context) domain.Value {
	sum := 0.0
	for _, op := range node.Operands {
		sum += e.Evaluate(op, ctx).AsNumber()
	}
	e.trace("add: %g", sum)
	return domain.NumberValue(sum)
}

func (e *Evaluator) evalSubtract(node *domain.FormulaNode, ctx domain.Context) domain.Value {
	var left, right float64
	if len(node.Operands) > 0 {
		left = e.Evaluate(node.Operands[0], ctx).AsNumber()
	}
	if len(node.Operands) > 1 {
		right = e.Evaluate(node.Operands[1], ctx).AsNumber()
	}
	e.trace("subtract: %g - %g = %g", left, right, left-right)
	return domain.NumberValue(left - right)
}

func (e *Evaluator) evalMinMax(node *domain.FormulaNode, ctx domain.Context, max bool) domain.Value {
	if len(node.Operands) == 0 {
		return domain.NumberValue(0)
	}
	best := e.Evaluate(node.Operands[0], ctx).AsNumber()
	for _, op := range node.Operands[1:] {
		v := e.Evaluate(op, ctx).AsNumber()
		if (max && v > best) || (!max && v < best) {
			best = v
		}
	}
	if max {
		e.trace("max: %g", best)
	} else {
		e.trace("min: %g", best)
	}
	return domain.NumberValue(best)
}

func (e *Evaluator) evalIf(node *domain.FormulaNode, ctx domain.Context) domain.Value {
	if e.matchCondition(node.Condition, ctx) {
		e.trace("if: condition true")
		if node.Then == nil {
			return domain.NumberValue(0)
		}
		return e.Evaluate(node.Then, ctx)
	}
	e.trace("if: condition false")
	if node.Else == nil {
		return domain.NumberValue(0)
	}
	return e.Evaluate(node.Else, ctx)
}

func (e *Evaluator) matchCondition(c *domain.Condition, ctx domain.Context) bool {
	if c == nil {
		return false
	}
	actual := ctx.Get(c.Field)

	switch c.Operator {
	case domain.OpEquals:
		if actual.Kind == domain.ValueNumber && c.Value.Kind == domain.ValueNumber {
			return actual.Num == c.Value.Num
		}
		return actual.AsString() == c.Value.AsString()
	case domain.OpContains:
		return strings.Contains(
			strings.ToLower(actual.AsString()),
			strings.ToLower(c.Value.AsString()),
		)
	case domain.OpGreaterThan:
		return actual.AsNumber() > c.Value.AsNumber()
	case domain.OpLessThan:
		return actual.AsNumber() < c.Value.AsNumber()
	case domain.OpIn:
		if c.Value.Kind == domain.ValueString {
			return strings.EqualFold(actual.AsString(), c.Value.Str)
		}
		for _, item := range c.Value.List {
			if strings.EqualFold(item, actual.AsString()) {
				return true
			}
		}
		return false
	default:
		// Unknown operator is a data condition, not a structural one: the
		// condition simply does not hold.
		return false
	}
}

func (e *Evaluator) evalLookup(node *domain.FormulaNode, ctx domain.Context) domain.Value {
	key := ctx.Get(node.Field).AsString()
	if v, ok := node.Table[key]; ok {
		e.trace("lookup %q[%q] = %g", node.Field, key, v)
		return domain.NumberValue(v)
	}
	e.trace("lookup %q[%q]: no entry, default %g", node.Field, key, node.Default)
	return domain.NumberValue(node.Default)
}

func (e *Evaluator) evalPremium(node *domain.FormulaNode, ctx domain.Context) domain.Value {
	var base float64
	if node.Base != nil {
		base = e.Evaluate(node.Base, ctx).AsNumber()
	}

	var result float64
	if node.Mode == domain.PremiumMultiplicative {
		// Premium portion only.
		result = base * node.Pct
	} else {
		// Premium-inclusive total.
		result = base * (1 + node.Pct)
	}
	e.trace("premium %s: base %g, pct %g -> %g", node.Mode, base, node.Pct, result)
	return domain.NumberValue(result)
}

func (e *Evaluator) evalRound(node *domain.FormulaNode, ctx domain.Context) domain.Value {
	var v float64
	if node.Base != nil {
		v = e.Evaluate(node.Base, ctx).AsNumber()
	}
	factor := math.Pow(10, float64(node.Precision))

	var result float64
	switch node.RoundMode {
	case domain.RoundFloor:
		result = math.Floor(v*factor) / factor
	case domain.RoundCeil:
		result = math.Ceil(v*factor) / factor
	default:
		result = math.Round(v*factor) / factor
	}
	e.trace("round %g to %d places (%s): %g", v, node.Precision, node.RoundMode, result)
	return domain.NumberValue(result)
}
