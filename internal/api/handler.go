package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/casestore"
	"github.com/opensource-finance/kestrel/internal/classify"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/pipeline"
)

// IngestMode selects how submitted transactions are triaged.
type IngestMode string

const (
	// ModeSync runs the pipeline inside the request.
	ModeSync IngestMode = "sync"

	// ModeAsync publishes the submission to the bus for a worker.
	ModeAsync IngestMode = "async"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	engine   *classify.Engine
	pipeline *pipeline.Pipeline
	store    *casestore.Store
	version  string
	mode     IngestMode
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, engine *classify.Engine, p *pipeline.Pipeline, store *casestore.Store, version string, mode IngestMode) *Handler {
	if mode == "" {
		mode = ModeSync
	}
	return &Handler{
		repo:     repo,
		cache:    cache,
		bus:      bus,
		engine:   engine,
		pipeline: p,
		store:    store,
		version:  version,
		mode:     mode,
	}
}

// SubmitRequest is the request body for POST /transactions.
type SubmitRequest struct {
	Transaction domain.TransactionRequest `json:"transaction"`
	Profile     *domain.CustomerProfile   `json:"profile"`
}

// SubmitResponse is the response for POST /transactions.
type SubmitResponse struct {
	TxID     string           `json:"txId"`
	Status   string           `json:"status"`
	Alert    *domain.Alert    `json:"alert,omitempty"`
	Decision *domain.Decision `json:"decision,omitempty"`
	Case     *domain.CaseView `json:"case,omitempty"`
	Metadata struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// SubmitTransaction handles POST /transactions.
func (h *Handler) SubmitTransaction(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.Transaction.CustomerID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "transaction.customerId is required",
		})
		return
	}
	if req.Transaction.Amount <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "transaction.amount must be positive",
		})
		return
	}

	tx := req.Transaction.ToTransaction()
	tx.ID = "TXN-" + uuid.New().String()
	tx.TenantID = tenantID

	if h.mode == ModeAsync && h.bus != nil {
		payload, _ := json.Marshal(pipeline.Submission{
			Transaction: tx,
			Profile:     req.Profile,
		})
		if err := h.bus.Publish(ctx, tenantID, domain.TopicTransactionReceived, payload); err != nil {
			slog.Error("failed to publish submission", "tx_id", tx.ID, "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"error": "failed to enqueue transaction",
			})
			return
		}

		resp := SubmitResponse{TxID: tx.ID, Status: "accepted"}
		resp.Metadata.TraceID = traceID
		resp.Metadata.TotalMs = time.Since(start).Milliseconds()
		resp.Metadata.Version = h.version
		writeJSON(w, http.StatusAccepted, resp)
		return
	}

	result, err := h.pipeline.Process(ctx, tx, req.Profile)
	if err != nil {
		status, msg := statusForPipelineError(err)
		writeJSON(w, status, map[string]string{"error": msg})
		return
	}

	resp := SubmitResponse{
		TxID:     tx.ID,
		Status:   "triaged",
		Alert:    result.Alert,
		Decision: result.Decision,
	}
	if result.Case != nil {
		resp.Case = result.Case.View(result.Alert)
	}
	resp.Metadata.TraceID = traceID
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.version

	writeJSON(w, http.StatusOK, resp)
}

func statusForPipelineError(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInsufficientContext):
		return http.StatusUnprocessableEntity, "insufficient customer context"
	case errors.Is(err, domain.ErrClassificationTimeout):
		return http.StatusGatewayTimeout, "classification timed out"
	default:
		slog.Error("triage failed", "error", err)
		return http.StatusInternalServerError, "triage failed"
	}
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// GetTransaction retrieves a transaction by ID.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	txID := chi.URLParam(r, "id")

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	tx, err := h.repo.GetTransaction(ctx, tenantID, txID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "transaction not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// GetAlert retrieves an alert by ID.
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	alertID := chi.URLParam(r, "id")

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	alert, err := h.repo.GetAlert(ctx, tenantID, alertID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "alert not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, alert)
}

// ListCases returns cases, optionally filtered by ?status=.
func (h *Handler) ListCases(w http.ResponseWriter, r *http.Request) {
	status := domain.CaseStatus(r.URL.Query().Get("status"))
	if status != "" && status != domain.CaseOpen && status != domain.CaseClosed && status != domain.CaseEscalated {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "status must be OPEN, CLOSED or ESCALATED",
		})
		return
	}

	cases := h.store.List(status)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"cases": cases,
		"count": len(cases),
	})
}

// GetCase returns the exported view of a case with its founding alert.
func (h *Handler) GetCase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	caseID := chi.URLParam(r, "id")

	c, err := h.store.Get(caseID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "case not found",
		})
		return
	}
	if c.TenantID != tenantID {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "case not found",
		})
		return
	}

	var alert *domain.Alert
	if h.repo != nil {
		if a, err := h.repo.GetAlert(ctx, tenantID, c.AlertID); err == nil {
			alert = a
		}
	}

	writeJSON(w, http.StatusOK, c.View(alert))
}

// SignOffRequest is the request body for POST /cases/{id}/signoff.
type SignOffRequest struct {
	Note string `json:"note"`
}

// SignOffCase closes an escalated case after compliance review.
func (h *Handler) SignOffCase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caseID := chi.URLParam(r, "id")

	var req SignOffRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	c, err := h.store.SignOff(ctx, caseID, req.Note)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrCaseNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "case not found",
			})
		case errors.Is(err, domain.ErrCaseNotOpen):
			writeJSON(w, http.StatusConflict, map[string]string{
				"error": "case is not awaiting sign-off",
			})
		default:
			slog.Error("sign-off failed", "case_id", caseID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "sign-off failed",
			})
		}
		return
	}

	writeJSON(w, http.StatusOK, c)
}

// Stats returns pipeline outcome counters.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.pipeline.Statistics())
}

// ListSignals returns all loaded classification signals.
func (h *Handler) ListSignals(w http.ResponseWriter, r *http.Request) {
	signals := h.engine.LoadedSignals()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"signals": signals,
		"count":   len(signals),
	})
}

// CreateSignalRequest is the request body for creating a signal.
type CreateSignalRequest struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Expression  string  `json:"expression"`
	Weight      float64 `json:"weight"`
	Enabled     bool    `json:"enabled"`
}

// CreateSignal validates and loads a new classification signal.
func (h *Handler) CreateSignal(w http.ResponseWriter, r *http.Request) {
	var req CreateSignalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ID == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id and expression are required",
		})
		return
	}
	if req.Weight <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "weight must be positive",
		})
		return
	}

	cfg := &classify.SignalConfig{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		Expression:  req.Expression,
		Weight:      req.Weight,
		Enabled:     req.Enabled,
	}

	// ?dryRun=true compiles the expression without loading it, so
	// operators can check a signal before it affects live traffic.
	if r.URL.Query().Get("dryRun") == "true" {
		if err := h.engine.ValidateSignal(cfg); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid CEL expression: " + err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"valid":  true,
			"signal": cfg,
		})
		return
	}

	if err := h.engine.LoadSignal(cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid CEL expression: " + err.Error(),
		})
		return
	}

	slog.Info("signal created", "id", cfg.ID, "weight", cfg.Weight)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"signal": cfg,
	})
}

// ResetSignals restores the built-in signal set.
func (h *Handler) ResetSignals(w http.ResponseWriter, r *http.Request) {
	defaults := classify.DefaultSignals()
	if err := h.engine.ReloadSignals(defaults); err != nil {
		slog.Error("failed to reset signals", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reset signals",
		})
		return
	}

	slog.Info("signals reset to defaults", "count", len(defaults))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "signals reset to defaults",
		"count":   len(defaults),
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
