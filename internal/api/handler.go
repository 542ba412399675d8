package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/heron/internal/alerting"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/evaluator"
	"github.com/opensource-finance/heron/internal/metrics"
	"github.com/opensource-finance/heron/internal/rules"
	"github.com/opensource-finance/heron/internal/sanctions"
)

// Deps are the components the HTTP surface drives. Repo, Cache, Bus,
// Screener, Sanctions and Metrics may be nil.
type Deps struct {
	Repo      domain.Repository
	Cache     domain.Cache
	Bus       domain.EventBus
	Evaluator *evaluator.Evaluator
	Rules     *rules.Manager
	Alerts    *alerting.Engine
	Screener  *sanctions.Screener
	Sanctions *sanctions.Store
	Metrics   *metrics.Metrics
	Version   string
}

// Handler holds dependencies for API handlers.
type Handler struct {
	deps   Deps
	stream *AlertStream
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps, stream *AlertStream) *Handler {
	return &Handler{deps: deps, stream: stream}
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.deps.Repo != nil {
		if err := h.deps.Repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.deps.Cache != nil {
		if err := h.deps.Cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.deps.Bus != nil {
		if err := h.deps.Bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.deps.Version,
	})
}

// Ready reports ready once at least one rule is loaded.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.deps.Rules.Engine().RulesCount() == 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"ready": "false",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// Evaluate handles POST /evaluate.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var req domain.TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, domain.IngestionResult{
			Status: domain.StatusInvalidInput,
			Error:  "invalid JSON request body",
		})
		return
	}

	result := h.deps.Evaluator.Evaluate(r.Context(), req.ToTransaction())

	status := http.StatusOK
	switch result.Status {
	case domain.StatusInvalidInput:
		status = http.StatusBadRequest
	case domain.StatusEvaluationFailed:
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, result)
}

// Ingest handles POST /ingest by queueing the transaction on the bus.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	if h.deps.Bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "event bus not available",
		})
		return
	}

	var req domain.TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	payload, err := json.Marshal(req)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}
	if err := h.deps.Bus.Publish(r.Context(), domain.TopicTransactionIngested, payload); err != nil {
		slog.Error("failed to queue transaction", "tx_id", req.ID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "failed to queue transaction",
		})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"txId":   req.ID,
		"status": "QUEUED",
	})
}

// GetAlert retrieves a persisted alert by ID.
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	if h.deps.Repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	alert, err := h.deps.Repo.GetAlert(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, domain.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "alert not found",
		})
		return
	}
	if err != nil {
		slog.Error("failed to load alert", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load alert",
		})
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

// AlertStats returns alert engine counters.
func (h *Handler) AlertStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Alerts.Stats())
}

// StreamAlerts upgrades to a websocket carrying new alerts.
func (h *Handler) StreamAlerts(w http.ResponseWriter, r *http.Request) {
	if h.stream == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "alert stream not available",
		})
		return
	}
	h.stream.ServeHTTP(w, r)
}

// ListCooldowns returns active cooldowns with their remaining time.
func (h *Handler) ListCooldowns(w http.ResponseWriter, r *http.Request) {
	status := h.deps.Alerts.CooldownStatus()
	remaining := make(map[string]string, len(status))
	for key, d := range status {
		remaining[key] = d.String()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"cooldowns": remaining,
		"count":     len(remaining),
	})
}

// ClearCooldowns drops every active cooldown.
func (h *Handler) ClearCooldowns(w http.ResponseWriter, r *http.Request) {
	h.deps.Alerts.ClearAllCooldowns()
	slog.Info("cooldowns cleared", "actor", GetActor(r.Context()))
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "all cooldowns cleared",
	})
}

// ListRules returns the active rule set in evaluation order.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	active := h.deps.Rules.Engine().GetActiveRules()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": active,
		"count": len(active),
	})
}

// CreateRule persists and registers a rule definition.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var def domain.RuleDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	rule, err := h.deps.Rules.Define(r.Context(), def)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrInvalidInput) || errors.Is(err, domain.ErrUnknownRuleType) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, map[string]string{
			"error": err.Error(),
		})
		return
	}

	h.deps.Metrics.SetRulesLoaded(h.deps.Rules.Engine().RulesCount())
	slog.Info("rule defined", "description", rule.Description, "type", rule.Type)
	writeJSON(w, http.StatusCreated, rule)
}

// DeleteRule unregisters a rule by description.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	description, err := url.PathUnescape(chi.URLParam(r, "description"))
	if err != nil || strings.TrimSpace(description) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule description is required",
		})
		return
	}

	if err := h.deps.Rules.Remove(r.Context(), description); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "rule not found",
			})
			return
		}
		if errors.Is(err, domain.ErrRuleReadOnly) {
			writeJSON(w, http.StatusConflict, map[string]string{
				"error": err.Error(),
			})
			return
		}
		slog.Error("failed to delete rule", "description", description, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to delete rule",
		})
		return
	}

	h.deps.Metrics.SetRulesLoaded(h.deps.Rules.Engine().RulesCount())
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "rule deleted",
	})
}

// ReloadRules rebuilds the rule set from every source.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	count, errs := h.deps.Rules.Reload(r.Context())
	h.deps.Metrics.SetRulesLoaded(count)

	problems := make([]string, len(errs))
	for i, err := range errs {
		problems[i] = err.Error()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":  "rules reloaded",
		"count":    count,
		"warnings": problems,
	})
}

// SearchSanctions filters the feed and local list by name and country.
func (h *Handler) SearchSanctions(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	country := r.URL.Query().Get("country")
	if name == "" && country == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "name or country is required",
		})
		return
	}

	results := []domain.SanctionedEntity{}
	if h.deps.Screener != nil {
		results = append(results, h.deps.Screener.Search(name, country)...)
	}
	if h.deps.Sanctions != nil {
		results = append(results, h.deps.Sanctions.Search(name, country)...)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"results": results,
		"count":   len(results),
	})
}

// SanctionsStatus reports feed freshness and local list size.
func (h *Handler) SanctionsStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{}
	if h.deps.Screener != nil {
		resp["feed"] = h.deps.Screener.Status()
	}
	if h.deps.Sanctions != nil {
		resp["localEntities"] = h.deps.Sanctions.Count()
		resp["highRiskCountries"] = h.deps.Sanctions.HighRiskCountries()
	}
	writeJSON(w, http.StatusOK, resp)
}

// RefreshSanctions triggers a feed refresh.
func (h *Handler) RefreshSanctions(w http.ResponseWriter, r *http.Request) {
	if h.deps.Screener == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "sanctions feed not configured",
		})
		return
	}
	if !h.deps.Screener.Refresh(r.Context()) {
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"error":  "refresh failed, previous list kept",
			"status": h.deps.Screener.Status(),
		})
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Screener.Status())
}

// Stats returns evaluation counters.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Evaluator.Stats())
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
