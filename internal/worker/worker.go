// Package worker provides async calculation processing for the Pro tier.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
)

const ruleSetTTL = 5 * time.Minute

// Worker runs royalty calculations requested over the EventBus.
type Worker struct {
	bus    domain.EventBus
	repo   domain.Repository
	cache  domain.Cache
	engine *engine.Engine

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = all via wildcard if supported)
	TenantIDs []string
}

// NewWorker creates a new async worker. cache may be nil; rule sets are then
// loaded from the repository on every request.
func NewWorker(bus domain.EventBus, repo domain.Repository, cache domain.Cache, eng *engine.Engine) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		repo:   repo,
		cache:  cache,
		engine: eng,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins processing calculation requests for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		return w.startGlobalWorker()
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)

	return nil
}

// startGlobalWorker starts a worker that processes all tenants (for testing/dev).
func (w *Worker) startGlobalWorker() error {
	sub, err := w.bus.Subscribe(w.ctx, "_global", domain.TopicCalculationRequested, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("global worker started")
	return nil
}

// startTenantWorker starts a worker for a specific tenant.
func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicCalculationRequested, func(ctx context.Context, msg *domain.Message) error {
		return w.processRequest(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicCalculationRequested,
	)

	return nil
}

// handleMessage handles messages from the global subscription.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	return w.processRequest(ctx, msg.TenantID, msg)
}

// CalculationRequest is the message payload asking for a contract calculation.
type CalculationRequest struct {
	ContractID string    `json:"contractId"`
	TenantID   string    `json:"tenantId"`
	TraceID    string    `json:"traceId,omitempty"`
	PeriodFrom time.Time `json:"periodFrom,omitempty"`
	PeriodTo   time.Time `json:"periodTo,omitempty"`
	Trace      bool      `json:"trace,omitempty"`
}

// processRequest runs one requested calculation end to end.
func (w *Worker) processRequest(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	var req CalculationRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		slog.Error("failed to parse calculation request",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	// Use message tenant if provided
	if req.TenantID != "" {
		tenantID = req.TenantID
	}

	traceID := req.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	slog.Debug("processing calculation request",
		"contract_id", req.ContractID,
		"tenant_id", tenantID,
		"trace_id", traceID,
	)

	rules, err := w.loadRules(ctx, tenantID, req.ContractID)
	if err != nil {
		slog.Error("failed to load rules",
			"contract_id", req.ContractID,
			"error", err,
		)
		return err
	}

	sales, err := w.repo.ListSales(ctx, tenantID, req.ContractID, req.PeriodFrom, req.PeriodTo)
	if err != nil {
		slog.Error("failed to load sales",
			"contract_id", req.ContractID,
			"error", err,
		)
		return err
	}

	result := w.engine.Calculate(ctx, &engine.CalculateInput{
		TenantID:   tenantID,
		ContractID: req.ContractID,
		Rules:      rules,
		Sales:      sales,
		Trace:      req.Trace,
	})

	calc := &domain.Calculation{
		ID:                uuid.New().String(),
		TenantID:          tenantID,
		ContractID:        req.ContractID,
		CalculationResult: *result,
		SaleCount:         len(sales),
		CreatedAt:         time.Now().UTC(),
		Metadata: domain.CalculationMetadata{
			TraceID:       traceID,
			CalcMs:        time.Since(start).Milliseconds(),
			RulesLoaded:   len(rules),
			EngineVersion: engine.Version,
		},
	}

	if err := w.repo.SaveCalculation(ctx, tenantID, calc); err != nil {
		slog.Error("failed to save calculation",
			"contract_id", req.ContractID,
			"error", err,
		)
	}

	resultPayload, _ := json.Marshal(calc)
	if err := w.bus.Publish(ctx, tenantID, domain.TopicCalculationCompleted, resultPayload); err != nil {
		slog.Error("failed to publish calculation result",
			"contract_id", req.ContractID,
			"error", err,
		)
	}

	// The floor kicking in is worth a dedicated event: finance teams
	// reconcile guaranteed minimums separately from earned royalties.
	if result.MinimumGuarantee != nil && result.FinalRoyalty > result.TotalRoyalty {
		if err := w.bus.Publish(ctx, tenantID, domain.TopicMinimumApplied, resultPayload); err != nil {
			slog.Error("failed to publish minimum-applied event",
				"contract_id", req.ContractID,
				"error", err,
			)
		}
	}

	slog.Info("calculation processed",
		"calculation_id", calc.ID,
		"contract_id", req.ContractID,
		"tenant_id", tenantID,
		"final_royalty", result.FinalRoyalty,
		"unmatched_sales", result.UnmatchedSales,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// loadRules fetches a contract's rule set, cache first.
func (w *Worker) loadRules(ctx context.Context, tenantID, contractID string) ([]*domain.Rule, error) {
	if w.cache != nil {
		rules, err := w.cache.GetRuleSet(ctx, tenantID, contractID)
		if err != nil {
			slog.Warn("rule set cache read failed",
				"contract_id", contractID,
				"error", err,
			)
		} else if rules != nil {
			return rules, nil
		}
	}

	rules, err := w.repo.ListRules(ctx, tenantID, contractID)
	if err != nil {
		return nil, err
	}

	if w.cache != nil {
		if err := w.cache.SetRuleSet(ctx, tenantID, contractID, rules, ruleSetTTL); err != nil {
			slog.Warn("rule set cache write failed",
				"contract_id", contractID,
				"error", err,
			)
		}
	}
	return rules, nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
