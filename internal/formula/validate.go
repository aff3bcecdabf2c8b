package formula

import (
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Validate walks a formula definition and rejects structural problems before
// the definition is stored: unknown node types, malformed arity, and tier
// rates that look like pre-divided fractions. Rates are authored as
// percentages (11.25 means 11.25%); a rate strictly between 0 and 1 is
// almost always an authoring mistake that would silently underpay by 100x.
func Validate(def *domain.FormulaDefinition) error {
	if def == nil {
		return fmt.Errorf("formula definition is required")
	}
	if def.Root == nil {
		return fmt.Errorf("formula %q has no root node", def.Name)
	}
	return validateNode(def.Root, "root")
}

func validateNode(n *domain.FormulaNode, path string) error {
	if n == nil {
		return fmt.Errorf("%s: node is nil", path)
	}

	switch n.Type {
	case domain.NodeLiteral, domain.NodeReference:
		return nil

	case domain.NodeTier:
		if n.Field == "" {
			return fmt.Errorf("%s: tier node has no field", path)
		}
		for i, band := range n.Tiers {
			if band.Rate > 0 && band.Rate < 1 {
				return fmt.Errorf("%s: tier band %d rate %.4f looks like a fraction; rates are percentages (11.25 means 11.25%%)",
					path, i, float64(band.Rate))
			}
			if band.Max != nil && band.Min > *band.Max {
				return fmt.Errorf("%s: tier band %d has min %g above max %g", path, i, band.Min, *band.Max)
			}
		}
		return nil

	case domain.NodeSubtract:
		if len(n.Operands) != 2 {
			return fmt.Errorf("%s: subtract requires exactly 2 operands, got %d", path, len(n.Operands))
		}
		return validateOperands(n, path)

	case domain.NodeMultiply, domain.NodeAdd, domain.NodeMax, domain.NodeMin:
		if len(n.Operands) == 0 {
			return fmt.Errorf("%s: %s requires at least one operand", path, n.Type)
		}
		return validateOperands(n, path)

	case domain.NodeIf:
		if n.Condition == nil {
			return fmt.Errorf("%s: if node has no condition", path)
		}
		if n.Then == nil {
			return fmt.Errorf("%s: if node has no then branch", path)
		}
		if err := validateNode(n.Then, path+".then"); err != nil {
			return err
		}
		if n.Else != nil {
			return validateNode(n.Else, path+".else")
		}
		return nil

	case domain.NodeLookup:
		if n.Field == "" {
			return fmt.Errorf("%s: lookup node has no field", path)
		}
		return nil

	case domain.NodePremium, domain.NodeRound:
		if n.Base == nil {
			return fmt.Errorf("%s: %s node has no base", path, n.Type)
		}
		return validateNode(n.Base, path+".base")

	default:
		return fmt.Errorf("%s: unknown node type %q", path, n.Type)
	}
}

func validateOperands(n *domain.FormulaNode, path string) error {
	for i, op := range n.Operands {
		if err := validateNode(op, fmt.Sprintf("%s.%s[%d]", path, n.Type, i)); err != nil {
			return err
		}
	}
	return nil
}
