// Package engine selects license rules for sales and aggregates royalties
// for a contract period.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/formula"
)

// Version identifies the calculation semantics and is recorded with every
// persisted calculation.
const Version = "kestrel-1.0"

// VolumeGetter returns a contract's year-to-date unit volume as of a point
// in time. It backs the "ytdUnits" field available to formulas and guards.
type VolumeGetter func(ctx context.Context, tenantID, contractID string, asOf time.Time) (float64, error)

// Engine runs royalty calculations. Guard expressions are compiled once per
// expression text and cached under a read-write lock, following the same
// pattern as loading compiled rules.
type Engine struct {
	mu     sync.RWMutex
	env    *cel.Env
	guards map[string]cel.Program

	volume VolumeGetter
}

// New creates a calculation engine. volume may be nil; formulas then see no
// "ytdUnits" field and references to it default to 0.
func New(volume VolumeGetter) (*Engine, error) {
	// Guard expressions see the same fields formulas do.
	env, err := cel.NewEnv(
		cel.Variable("sale", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("units", cel.DoubleType),
		cel.Variable("grossAmount", cel.DoubleType),
		cel.Variable("season", cel.StringType),
		cel.Variable("territory", cel.StringType),
		cel.Variable("product", cel.StringType),
		cel.Variable("category", cel.StringType),
		cel.Variable("containerSize", cel.StringType),
		cel.Variable("ytdUnits", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:    env,
		guards: make(map[string]cel.Program),
		volume: volume,
	}, nil
}

// ValidateRule checks a rule before it is stored: formula structure and
// tier-rate sanity for formula rules, guard compilation for guarded rules.
func (e *Engine) ValidateRule(rule *domain.Rule) error {
	if rule == nil {
		return fmt.Errorf("rule is required")
	}
	if rule.IsMinimumGuarantee() {
		if rule.MinimumGuarantee <= 0 {
			return fmt.Errorf("minimum guarantee rule %q requires a positive amount", rule.Name)
		}
		return nil
	}
	if rule.Formula != nil {
		if err := formula.Validate(rule.Formula); err != nil {
			return fmt.Errorf("rule %q: %w", rule.Name, err)
		}
	}
	if rule.Guard != "" {
		if _, err := e.compileGuard(rule.Guard); err != nil {
			return fmt.Errorf("rule %q guard: %w", rule.Name, err)
		}
	}
	return nil
}

// CalculateInput is one calculation request.
type CalculateInput struct {
	TenantID   string
	ContractID string
	Rules      []*domain.Rule
	Sales      []*domain.Sale

	// Trace records per-sale evaluation steps in the breakdown.
	Trace bool
}

// Calculate prices every sale against the contract's rules and aggregates
// the result. The breakdown preserves the input order of sales. The result
// depends only on the input: no clock, counter, or random source leaks in.
func (e *Engine) Calculate(ctx context.Context, in *CalculateInput) *domain.CalculationResult {
	res := &domain.CalculationResult{
		Breakdown:    []domain.SaleBreakdown{},
		RulesApplied: []string{},
	}

	pricing, mgRule := splitRules(in.Rules)
	seen := make(map[string]bool)

	for _, sale := range in.Sales {
		rule := e.selectRule(ctx, in, sale, pricing)
		if rule == nil {
			res.UnmatchedSales++
			slog.Warn("no rule matched sale",
				"tenant_id", in.TenantID,
				"contract_id", in.ContractID,
				"sale_id", sale.ID,
				"product", sale.Product,
				"territory", sale.Territory)
			continue
		}

		var entry domain.SaleBreakdown
		if rule.Formula != nil {
			entry = e.priceWithFormula(ctx, in, rule, sale)
		} else {
			entry = priceLegacy(rule, sale)
		}
		res.Breakdown = append(res.Breakdown, entry)
		res.TotalRoyalty += entry.Amount

		if !seen[rule.Name] {
			seen[rule.Name] = true
			res.RulesApplied = append(res.RulesApplied, rule.Name)
		}
	}

	res.FinalRoyalty = res.TotalRoyalty
	if mgRule != nil {
		mg := mgRule.MinimumGuarantee
		res.MinimumGuarantee = &mg
		if mg > res.FinalRoyalty {
			res.FinalRoyalty = mg
		}
		if !seen[mgRule.Name] {
			res.RulesApplied = append(res.RulesApplied, mgRule.Name)
		}
	}
	return res
}

// splitRules keeps active pricing rules sorted by ascending priority (stable
// on ties) and separates out the first minimum-guarantee rule found.
func splitRules(rules []*domain.Rule) ([]*domain.Rule, *domain.Rule) {
	var mgRule *domain.Rule
	pricing := make([]*domain.Rule, 0, len(rules))
	for _, r := range rules {
		if r == nil || !r.Active {
			continue
		}
		if r.IsMinimumGuarantee() {
			if mgRule == nil {
				mgRule = r
			}
			continue
		}
		pricing = append(pricing, r)
	}
	sort.SliceStable(pricing, func(i, j int) bool {
		return pricing[i].Priority < pricing[j].Priority
	})
	return pricing, mgRule
}

func (e *Engine) priceWithFormula(ctx context.Context, in *CalculateInput, rule *domain.Rule, sale *domain.Sale) domain.SaleBreakdown {
	evalCtx := sale.EvalContext()
	if e.volume != nil {
		ytd, err := e.volume(ctx, in.TenantID, in.ContractID, sale.Date)
		if err != nil {
			slog.Warn("year-to-date volume unavailable",
				"tenant_id", in.TenantID, "contract_id", in.ContractID, "error", err)
		} else {
			evalCtx["ytdUnits"] = domain.NumberValue(ytd)
		}
	}

	ev := formula.NewEvaluator(in.Trace)
	amount := ev.EvaluateFormula(rule.Formula, formula.Input{Context: evalCtx, Date: sale.Date})

	rate := 0.0
	if sale.Quantity > 0 {
		rate = amount / sale.Quantity
	}
	return domain.SaleBreakdown{
		SaleID:              sale.ID,
		Product:             sale.Product,
		RuleName:            rule.Name,
		Quantity:            sale.Quantity,
		Rate:                rate,
		SeasonalMultiplier:  1.0,
		TerritoryMultiplier: 1.0,
		Amount:              amount,
		Explanation: fmt.Sprintf("%s: formula %q on %.0f units = $%.2f",
			rule.Name, rule.Formula.Name, sale.Quantity, amount),
		Trace: ev.Steps(),
	}
}
