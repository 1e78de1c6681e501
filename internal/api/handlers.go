// Package api exposes the audit service over HTTP (chi) and MCP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/specgap/internal/audit"
	"github.com/kalambet/specgap/internal/queue"
	"github.com/kalambet/specgap/internal/storage"
)

const maxSubmitBodySize = 10 << 20 // 10MB of extracted document text

// Deps holds the handler dependencies.
type Deps struct {
	Service *audit.Service
	Queue   *queue.Manager
	Store   *storage.Store // optional; history routes 404 without it
}

// SubmitRequest is the body of POST /v1/audits.
type SubmitRequest struct {
	SessionID    string `json:"session_id"`
	DocumentText string `json:"document_text"`
	Domain       string `json:"domain"`
}

// SubmitResponse pairs the queue entry with its wait estimate.
type SubmitResponse struct {
	Entry         queue.Entry `json:"entry"`
	ETA           queue.ETA   `json:"eta"`
	AlreadyQueued bool        `json:"already_queued,omitempty"`
}

// NewHandler returns the audit HTTP surface.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Post("/v1/audits", handleSubmit(deps))
	r.Get("/v1/audits/{id}", handleStatus(deps))
	r.Delete("/v1/audits/{id}", handleCancel(deps))
	r.Get("/v1/session/{session_id}", handleSessionStatus(deps))
	r.Get("/v1/queue", handleQueueInfo(deps))
	r.Get("/v1/quota", handleQuota(deps))
	r.Get("/v1/history", handleHistory(deps))
	r.Get("/v1/history/{id}", handleHistoryDetail(deps))
	r.Get("/v1/statistics", handleStatistics(deps))

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleSubmit(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxSubmitBodySize)
		defer r.Body.Close()

		var req SubmitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.SessionID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "session_id is required")
			return
		}
		if req.DocumentText == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "document_text is required")
			return
		}

		entry, eta, err := deps.Service.Submit(req.SessionID, req.DocumentText, req.Domain)
		if err != nil {
			var already *queue.AlreadyQueuedError
			switch {
			case errors.As(err, &already):
				// Treated as a status fetch, not an error.
				writeJSON(w, http.StatusOK, SubmitResponse{Entry: already.Entry, ETA: eta, AlreadyQueued: true})
			case errors.Is(err, queue.ErrQuotaExhausted):
				httpError(w, http.StatusTooManyRequests, "quota_exhausted", "%v", err)
			default:
				httpError(w, http.StatusInternalServerError, "api_error", "enqueue failed: %v", err)
			}
			return
		}

		writeJSON(w, http.StatusAccepted, SubmitResponse{Entry: entry, ETA: eta})
	}
}

func handleStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		st, ok := deps.Service.Status(id)
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "no audit with id %s", id)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

func handleSessionStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "session_id")
		st, ok := deps.Service.SessionStatus(sessionID)
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "no audit for session %s", sessionID)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

func handleCancel(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		sessionID := r.URL.Query().Get("session_id")
		if sessionID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "session_id query parameter is required")
			return
		}

		if !deps.Service.Cancel(id, sessionID) {
			httpError(w, http.StatusConflict, "not_cancellable", "entry %s is not waiting or not owned by this session", id)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"cancelled": true})
	}
}

func handleQueueInfo(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		info := deps.Queue.Info()
		writeJSON(w, http.StatusOK, map[string]any{
			"queue_length":           info.QueueLength,
			"is_processing":          info.Processing,
			"estimated_wait_seconds": int(info.EstimatedWait.Seconds()),
			"daily_quota":            info.Quota,
		})
	}
}

func handleQuota(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Queue.Info().Quota)
	}
}

func handleHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Store == nil {
			httpError(w, http.StatusNotFound, "not_found", "audit history is not enabled")
			return
		}

		limit := 20
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
				limit = n
			}
		}

		audits, err := deps.Store.ListAudits(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing audits: %v", err)
			return
		}
		if audits == nil {
			audits = []storage.Audit{}
		}
		writeJSON(w, http.StatusOK, audits)
	}
}

func handleHistoryDetail(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Store == nil {
			httpError(w, http.StatusNotFound, "not_found", "audit history is not enabled")
			return
		}

		id := chi.URLParam(r, "id")
		a, err := deps.Store.GetAudit(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "no audit with id %s", id)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading audit: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, a)
	}
}

func handleStatistics(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Store == nil {
			httpError(w, http.StatusNotFound, "not_found", "audit history is not enabled")
			return
		}

		stats, err := deps.Store.Statistics()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "computing statistics: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{
			"total_audits": stats.TotalAudits,
			"total_cards":  stats.TotalCards,
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
