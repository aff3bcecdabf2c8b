package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/repository"
)

// ruleSetTTL bounds how long a contract's rule set is served from cache.
const ruleSetTTL = 5 * time.Minute

// Handler holds the API handlers and their dependencies.
type Handler struct {
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	engine  *engine.Engine
	version string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, c domain.Cache, b domain.EventBus, eng *engine.Engine, version string) *Handler {
	return &Handler{
		repo:    repo,
		cache:   c,
		bus:     b,
		engine:  eng,
		version: version,
	}
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": h.version,
	})
}

// Ready handles GET /ready. Checks all backing services.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	checks := map[string]string{}
	healthy := true

	if err := h.repo.Ping(ctx); err != nil {
		checks["repository"] = err.Error()
		healthy = false
	} else {
		checks["repository"] = "ok"
	}

	if err := h.cache.Ping(ctx); err != nil {
		checks["cache"] = err.Error()
		healthy = false
	} else {
		checks["cache"] = "ok"
	}

	if err := h.bus.Ping(ctx); err != nil {
		checks["bus"] = err.Error()
		healthy = false
	} else {
		checks["bus"] = "ok"
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{
		"ready":  healthy,
		"checks": checks,
	})
}

// CalculateRequest is the body of POST /contracts/{contractID}/calculate.
// All fields are optional; an empty body calculates over every sale on file.
type CalculateRequest struct {
	PeriodFrom time.Time `json:"periodFrom,omitempty"`
	PeriodTo   time.Time `json:"periodTo,omitempty"`
	Trace      bool      `json:"trace,omitempty"`

	// Sales, when present, are priced directly instead of loading the
	// contract's stored sales. They are not persisted.
	Sales []*domain.Sale `json:"sales,omitempty"`

	// Async hands the request to the background worker instead of
	// calculating inline.
	Async bool `json:"async,omitempty"`
}

// Calculate handles POST /contracts/{contractID}/calculate.
func (h *Handler) Calculate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)
	contractID := chi.URLParam(r, "contractID")
	start := time.Now()

	var req CalculateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	if req.Async {
		if len(req.Sales) > 0 {
			writeError(w, http.StatusBadRequest, "inline sales cannot be calculated asynchronously")
			return
		}
		payload, _ := json.Marshal(map[string]interface{}{
			"contractId": contractID,
			"tenantId":   tenantID,
			"traceId":    traceID,
			"periodFrom": req.PeriodFrom,
			"periodTo":   req.PeriodTo,
			"trace":      req.Trace,
		})
		if err := h.bus.Publish(ctx, tenantID, domain.TopicCalculationRequested, payload); err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to queue calculation: %v", err))
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"status":  "queued",
			"traceId": traceID,
		})
		return
	}

	rules, err := h.loadRules(ctx, tenantID, contractID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to load rules: %v", err))
		return
	}

	sales := req.Sales
	if len(sales) == 0 {
		stored, err := h.repo.ListSales(ctx, tenantID, contractID, req.PeriodFrom, req.PeriodTo)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to load sales: %v", err))
			return
		}
		sales = stored
	}

	result := h.engine.Calculate(ctx, &engine.CalculateInput{
		TenantID:   tenantID,
		ContractID: contractID,
		Rules:      rules,
		Sales:      sales,
		Trace:      req.Trace,
	})

	calc := &domain.Calculation{
		ID:                uuid.New().String(),
		TenantID:          tenantID,
		ContractID:        contractID,
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

	if err := h.repo.SaveCalculation(ctx, tenantID, calc); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to save calculation: %v", err))
		return
	}

	resultPayload, _ := json.Marshal(calc)
	if err := h.bus.Publish(ctx, tenantID, domain.TopicCalculationCompleted, resultPayload); err != nil {
		slog.Warn("failed to publish calculation result",
			"calculation_id", calc.ID,
			"error", err,
		)
	}
	if result.MinimumGuarantee != nil && result.FinalRoyalty > result.TotalRoyalty {
		if err := h.bus.Publish(ctx, tenantID, domain.TopicMinimumApplied, resultPayload); err != nil {
			slog.Warn("failed to publish minimum-applied event",
				"calculation_id", calc.ID,
				"error", err,
			)
		}
	}

	if _, err := h.cache.IncrementCounter(ctx, tenantID, "calc:"+contractID, 24*time.Hour); err != nil {
		slog.Warn("failed to increment calculation counter",
			"contract_id", contractID,
			"error", err,
		)
	}

	writeJSON(w, http.StatusOK, calc)
}

// GetCalculation handles GET /calculations/{id}.
func (h *Handler) GetCalculation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	calcID := chi.URLParam(r, "id")

	calc, err := h.repo.GetCalculation(ctx, tenantID, calcID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "calculation not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, calc)
}

// ListRules handles GET /rules. Filters by contractId query param if set.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	contractID := r.URL.Query().Get("contractId")

	rules, err := h.repo.ListRules(ctx, tenantID, contractID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": rules,
		"count": len(rules),
	})
}

// GetRule handles GET /rules/{id}.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	ruleID := chi.URLParam(r, "id")

	rule, err := h.repo.GetRule(ctx, tenantID, ruleID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "rule not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// CreateRule handles POST /rules.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var rule domain.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid rule: %v", err))
		return
	}

	if rule.ContractID == "" {
		writeError(w, http.StatusBadRequest, "contractId is required")
		return
	}
	if rule.Name == "" {
		writeError(w, http.StatusBadRequest, "ruleName is required")
		return
	}
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	if rule.RuleType == "" {
		rule.RuleType = domain.RuleTypeFormula
	}

	if err := h.engine.ValidateRule(&rule); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.repo.SaveRule(ctx, tenantID, &rule); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.invalidateRules(r, tenantID, rule.ContractID)

	writeJSON(w, http.StatusCreated, &rule)
}

// UpdateRule handles PUT /rules/{id}.
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	ruleID := chi.URLParam(r, "id")

	existing, err := h.repo.GetRule(ctx, tenantID, ruleID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "rule not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var rule domain.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid rule: %v", err))
		return
	}
	rule.ID = ruleID
	if rule.ContractID == "" {
		rule.ContractID = existing.ContractID
	}
	rule.CreatedAt = existing.CreatedAt

	if err := h.engine.ValidateRule(&rule); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.repo.SaveRule(ctx, tenantID, &rule); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.invalidateRules(r, tenantID, rule.ContractID)
	if rule.ContractID != existing.ContractID {
		h.invalidateRules(r, tenantID, existing.ContractID)
	}

	writeJSON(w, http.StatusOK, &rule)
}

// DeleteRule handles DELETE /rules/{id}.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	ruleID := chi.URLParam(r, "id")

	rule, err := h.repo.GetRule(ctx, tenantID, ruleID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "rule not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := h.repo.DeleteRule(ctx, tenantID, ruleID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.invalidateRules(r, tenantID, rule.ContractID)

	w.WriteHeader(http.StatusNoContent)
}

// ReloadRules handles POST /rules/reload. Drops the cached rule set for a
// contract and reports the fresh count.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	contractID := r.URL.Query().Get("contractId")
	if contractID == "" {
		writeError(w, http.StatusBadRequest, "contractId query parameter is required")
		return
	}

	if err := h.cache.InvalidateRuleSet(ctx, tenantID, contractID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	rules, err := h.loadRules(ctx, tenantID, contractID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "reloaded",
		"contractId": contractID,
		"ruleCount":  len(rules),
	})
}

// IngestRequest is the body of POST /sales.
type IngestRequest struct {
	ContractID string         `json:"contractId"`
	Sales      []*domain.Sale `json:"sales"`
}

// IngestSales handles POST /sales. Accepts a batch of sales for a contract.
func (h *Handler) IngestSales(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.ContractID == "" {
		writeError(w, http.StatusBadRequest, "contractId is required")
		return
	}
	if len(req.Sales) == 0 {
		writeError(w, http.StatusBadRequest, "sales must not be empty")
		return
	}

	for _, sale := range req.Sales {
		if sale.ID == "" {
			sale.ID = uuid.New().String()
		}
		if sale.ContractID == "" {
			sale.ContractID = req.ContractID
		}
	}

	if err := h.repo.SaveSales(ctx, tenantID, req.Sales); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to save sales: %v", err))
		return
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"contractId": req.ContractID,
		"count":      len(req.Sales),
	})
	if err := h.bus.Publish(ctx, tenantID, domain.TopicSalesImported, payload); err != nil {
		slog.Warn("failed to publish sales-imported event",
			"contract_id", req.ContractID,
			"error", err,
		)
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"status":     "imported",
		"contractId": req.ContractID,
		"count":      len(req.Sales),
	})
}

// ListSales handles GET /contracts/{contractID}/sales with optional from/to
// query params (RFC 3339).
func (h *Handler) ListSales(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	contractID := chi.URLParam(r, "contractID")

	from, err := parseTimeParam(r, "from")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := parseTimeParam(r, "to")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sales, err := h.repo.ListSales(ctx, tenantID, contractID, from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sales": sales,
		"count": len(sales),
	})
}

// ContractStats handles GET /contracts/{contractID}/stats.
func (h *Handler) ContractStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	contractID := chi.URLParam(r, "contractID")

	rules, err := h.repo.ListRules(ctx, tenantID, contractID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	activeRules := 0
	for _, rule := range rules {
		if rule.Active {
			activeRules++
		}
	}

	ytdUnits, err := h.repo.YearToDateUnits(ctx, tenantID, contractID, time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"contractId":  contractID,
		"ruleCount":   len(rules),
		"activeRules": activeRules,
		"ytdUnits":    ytdUnits,
	})
}

// loadRules fetches a contract's rule set, cache first.
func (h *Handler) loadRules(ctx context.Context, tenantID, contractID string) ([]*domain.Rule, error) {
	rules, err := h.cache.GetRuleSet(ctx, tenantID, contractID)
	if err != nil {
		slog.Warn("rule set cache read failed",
			"contract_id", contractID,
			"error", err,
		)
	} else if rules != nil {
		return rules, nil
	}

	rules, err = h.repo.ListRules(ctx, tenantID, contractID)
	if err != nil {
		return nil, err
	}

	if err := h.cache.SetRuleSet(ctx, tenantID, contractID, rules, ruleSetTTL); err != nil {
		slog.Warn("rule set cache write failed",
			"contract_id", contractID,
			"error", err,
		)
	}
	return rules, nil
}

// invalidateRules drops the cached rule set after a rule edit.
func (h *Handler) invalidateRules(r *http.Request, tenantID, contractID string) {
	if err := h.cache.InvalidateRuleSet(r.Context(), tenantID, contractID); err != nil {
		slog.Warn("rule set invalidation failed",
			"contract_id", contractID,
			"error", err,
		)
	}
}

func parseTimeParam(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		// Allow bare dates as well.
		t, err = time.Parse("2006-01-02", raw)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid %s: %q (want RFC 3339 or YYYY-MM-DD)", name, raw)
		}
	}
	return t, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
