package formula

import (
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// MatchesFilters reports whether the filters admit the input. Dimensions are
// combined with AND; an absent dimension passes. A nil filters object admits
// every sale.
func MatchesFilters(f *domain.FormulaFilters, in Input) bool {
	if f == nil {
		return true
	}
	if len(f.Products) > 0 {
		product := in.Context.Get("product").AsString()
		if !anyBidirectional(f.Products, product) {
			return false
		}
	}
	if len(f.Territories) > 0 {
		if !anyExactFold(f.Territories, in.Context.Get("territory").AsString()) {
			return false
		}
	}
	if len(f.ContainerSizes) > 0 {
		if !anyExactFold(f.ContainerSizes, in.Context.Get("containerSize").AsString()) {
			return false
		}
	}
	if r := f.DateRange; r != nil && (r.Start != nil || r.End != nil) {
		if in.Date.IsZero() {
			return false
		}
		// Bounds are inclusive.
		if r.Start != nil && in.Date.Before(*r.Start) {
			return false
		}
		if r.End != nil && in.Date.After(*r.End) {
			return false
		}
	}
	return true
}

// anyBidirectional reports whether any candidate matches the value as a
// case-insensitive substring in either direction.
func anyBidirectional(candidates []string, value string) bool {
	lv := strings.ToLower(value)
	for _, c := range candidates {
		lc := strings.ToLower(c)
		if strings.Contains(lc, lv) || strings.Contains(lv, lc) {
			return true
		}
	}
	return false
}

func anyExactFold(candidates []string, value string) bool {
	if value == "" {
		return false
	}
	for _, c := range candidates {
		if strings.EqualFold(c, value) {
			return true
		}
	}
	return false
}
