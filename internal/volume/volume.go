// Package volume provides contract unit-volume lookups for the engine.
package volume

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
)

// Service answers year-to-date volume questions for contracts. Cumulative
// volume drives tiered formulas that rate a sale by how much the contract
// has already shipped this year, not just the size of the sale at hand.
type Service struct {
	repo  domain.Repository
	cache domain.Cache
}

// NewService creates a volume service. cache may be nil.
func NewService(repo domain.Repository, cache domain.Cache) *Service {
	return &Service{repo: repo, cache: cache}
}

// YearToDateUnits returns the contract's total units sold from January 1 of
// asOf's year through asOf. A zero asOf means now.
func (s *Service) YearToDateUnits(ctx context.Context, tenantID, contractID string, asOf time.Time) (float64, error) {
	if tenantID == "" || contractID == "" {
		return 0, fmt.Errorf("tenantID and contractID are required")
	}
	if s.repo == nil {
		return 0, fmt.Errorf("no data source available")
	}
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}
	return s.repo.YearToDateUnits(ctx, tenantID, contractID, asOf)
}

// Getter returns the VolumeGetter function the engine expects.
func (s *Service) Getter() engine.VolumeGetter {
	return s.YearToDateUnits
}
