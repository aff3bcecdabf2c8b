package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// guardPasses evaluates a rule's optional CEL guard against the sale. Rules
// without a guard always pass. A guard that fails to compile or evaluate
// does not match: a broken guard must never widen a rule's scope.
func (e *Engine) guardPasses(ctx context.Context, in *CalculateInput, rule *domain.Rule, sale *domain.Sale) bool {
	if rule.Guard == "" {
		return true
	}

	prog, err := e.compileGuard(rule.Guard)
	if err != nil {
		slog.Warn("guard compilation failed, skipping rule",
			"rule_id", rule.ID, "rule_name", rule.Name, "error", err)
		return false
	}

	out, _, err := prog.Eval(guardActivation(sale, e.ytdUnits(ctx, in, sale)))
	if err != nil {
		slog.Warn("guard evaluation failed, skipping rule",
			"rule_id", rule.ID, "rule_name", rule.Name, "sale_id", sale.ID, "error", err)
		return false
	}
	b, ok := out.(types.Bool)
	return ok && bool(b)
}

// compileGuard returns a cached program for the expression, compiling it on
// first use.
func (e *Engine) compileGuard(expr string) (cel.Program, error) {
	e.mu.RLock()
	prog, ok := e.guards[expr]
	e.mu.RUnlock()
	if ok {
		return prog, nil
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compilation failed: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("guard must evaluate to bool, got %s", ast.OutputType())
	}
	prog, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program construction failed: %w", err)
	}

	e.mu.Lock()
	e.guards[expr] = prog
	e.mu.Unlock()
	return prog, nil
}

// ytdUnits resolves the contract's year-to-date volume for guard evaluation.
// Without a getter, or when the lookup fails, guards see zero.
func (e *Engine) ytdUnits(ctx context.Context, in *CalculateInput, sale *domain.Sale) float64 {
	if e.volume == nil {
		return 0
	}
	ytd, err := e.volume(ctx, in.TenantID, in.ContractID, sale.Date)
	if err != nil {
		slog.Warn("year-to-date volume unavailable for guard",
			"tenant_id", in.TenantID, "contract_id", in.ContractID, "error", err)
		return 0
	}
	return ytd
}

func guardActivation(sale *domain.Sale, ytdUnits float64) map[string]any {
	season := sale.Season()
	saleMap := map[string]any{
		"id":            sale.ID,
		"product":       sale.Product,
		"category":      sale.Category,
		"territory":     sale.Territory,
		"containerSize": sale.ContainerSize,
		"units":         sale.Quantity,
		"grossAmount":   sale.GrossAmount,
		"season":        season,
	}
	return map[string]any{
		"sale":          saleMap,
		"units":         sale.Quantity,
		"grossAmount":   sale.GrossAmount,
		"season":        season,
		"territory":     sale.Territory,
		"product":       sale.Product,
		"category":      sale.Category,
		"containerSize": sale.ContainerSize,
		"ytdUnits":      ytdUnits,
	}
}
