package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/roach88/ynab-sync/internal/engine"
	"github.com/roach88/ynab-sync/internal/metrics"
	"github.com/roach88/ynab-sync/internal/model"
)

type healthResponse struct {
	Status    string       `json:"status"`
	Timestamp time.Time    `json:"timestamp"`
	Checks    healthChecks `json:"checks"`
	Error     string       `json:"error,omitempty"`
}

type healthChecks struct {
	Database string `json:"database"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "healthy",
		Timestamp: s.now().UTC(),
		Checks:    healthChecks{Database: "connected"},
	}
	status := http.StatusOK
	if err := s.pinger.Ping(r.Context()); err != nil {
		s.logger.Warn("health check failed", "error", err)
		resp.Status = "unhealthy"
		resp.Checks.Database = "disconnected"
		resp.Error = err.Error()
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

type metricsResponse struct {
	Timestamp  time.Time            `json:"timestamp"`
	Metrics    metrics.Snapshot     `json:"metrics"`
	SyncStatus map[model.Status]int `json:"sync_status"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.Metrics(r.Context(), s.metricsWindow)
	if err != nil {
		s.fail(w, "Failed to get metrics", err)
		return
	}
	writeJSON(w, http.StatusOK, metricsResponse{
		Timestamp:  s.now().UTC(),
		Metrics:    report.Snapshot,
		SyncStatus: report.Runs,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	run, err := s.engine.Status(r.Context())
	if err != nil {
		s.fail(w, "Failed to get sync status", err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	items, err := s.engine.Pending(r.Context())
	if err != nil {
		s.fail(w, "Failed to get pending items", err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := engine.DefaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > engine.MaxHistoryLimit {
			writeValidation(w, fmt.Sprintf("limit must be an integer between 1 and %d", engine.MaxHistoryLimit))
			return
		}
		limit = n
	}

	runs, err := s.engine.History(r.Context(), limit)
	if err != nil {
		s.fail(w, "Failed to get sync history", err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

type triggerRequest struct {
	BudgetID string `json:"budget_id"`
	Options  struct {
		ForceSync      bool `json:"force_sync"`
		SyncCategories bool `json:"sync_categories"`
	} `json:"options"`
}

type messageResponse struct {
	Message  string `json:"message"`
	BudgetID string `json:"budget_id,omitempty"`
	Count    *int64 `json:"count,omitempty"`
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidation(w, err.Error())
		return
	}
	if req.BudgetID == "" {
		writeValidation(w, "budget_id is required")
		return
	}

	opts := engine.SyncOptions{Full: req.Options.ForceSync, Categories: req.Options.SyncCategories}
	s.startBackground(req.BudgetID, opts)

	writeJSON(w, http.StatusAccepted, messageResponse{Message: "Sync triggered", BudgetID: req.BudgetID})
}

// startBackground runs a sync detached from the request. A panic is logged
// here after the orchestrator has finalized the run.
func (s *Server) startBackground(budgetID string, opts engine.SyncOptions) {
	s.syncs.Add(1)
	go func() {
		defer s.syncs.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("triggered sync panicked", "budget_id", budgetID, "panic", r)
			}
		}()

		run, err := s.engine.StartSync(s.baseCtx, budgetID, opts)
		if err != nil {
			s.logger.Error("triggered sync failed", "budget_id", budgetID, "run_id", run.ID, "error", err)
			return
		}
		s.logger.Info("triggered sync finished",
			"budget_id", budgetID,
			"run_id", run.ID,
			"status", run.Status,
			"items_processed", run.ItemsProcessed,
			"items_failed", run.ItemsFailed,
		)
	}()
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	n, err := s.engine.RetryFailedItems(r.Context())
	if err != nil {
		s.fail(w, "Failed to retry items", err)
		return
	}
	msg := "No failed items to retry"
	if n > 0 {
		msg = fmt.Sprintf("Requeued %d failed items", n)
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: msg, Count: &n})
}

type cleanupRequest struct {
	HistoryDays *int `json:"history_days"`
	PendingDays *int `json:"pending_days"`
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	var req cleanupRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidation(w, err.Error())
		return
	}

	historyDays, pendingDays := s.historyDays, s.pendingDays
	var details []string
	if req.HistoryDays != nil {
		historyDays = *req.HistoryDays
		if historyDays < 1 || historyDays > 365 {
			details = append(details, "history_days must be between 1 and 365")
		}
	}
	if req.PendingDays != nil {
		pendingDays = *req.PendingDays
		if pendingDays < 1 || pendingDays > 30 {
			details = append(details, "pending_days must be between 1 and 30")
		}
	}
	if len(details) > 0 {
		writeValidation(w, details...)
		return
	}

	res, err := s.engine.Cleanup(r.Context(), historyDays, pendingDays)
	if err != nil {
		s.fail(w, "Failed to clean up", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// decodeBody decodes a JSON request body. An empty body leaves v unchanged.
func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return errors.New("request body must be a JSON object")
	}
	return nil
}

type errorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

// fail writes a 400 for validation errors and a 500 with msg otherwise.
func (s *Server) fail(w http.ResponseWriter, msg string, err error) {
	if model.IsValidation(err) {
		writeValidation(w, err.Error())
		return
	}
	s.logger.Error(msg, "error", err)
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: msg})
}

func writeValidation(w http.ResponseWriter, details ...string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Validation error", Details: details})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
