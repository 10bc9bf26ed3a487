package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/wardenhq/warden/internal/audit"
	"github.com/wardenhq/warden/internal/controller"
	"github.com/wardenhq/warden/internal/memory"
	"github.com/wardenhq/warden/internal/requestctx"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.startTime).String(),
	})
}

type queryRequest struct {
	Query    string `json:"query"`
	Remember bool   `json:"remember"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON: "+err.Error())
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "query is required")
		return
	}

	tenantID := TenantIDFromContext(r.Context())
	decision, err := s.engine.Query(r.Context(), controller.Request{
		Tenant:   tenantID,
		Query:    req.Query,
		Remember: req.Remember,
	})
	if err != nil {
		log.Error().Err(err).
			Str("tenant_id", tenantID).
			Str("key_fingerprint", requestctx.KeyFingerprint(r.Context())).
			Msg("query_failed")
		if controller.IsTransient(err) {
			writeError(w, http.StatusServiceUnavailable, "generation_failed", "temporary failure, retry the request")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

func (s *Server) handleDecisionsList(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = n
	}

	var since, until time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "since must be RFC3339")
			return
		}
		since = ts
	}
	if v := r.URL.Query().Get("until"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "until must be RFC3339")
			return
		}
		until = ts
	}

	tenantID := TenantIDFromContext(r.Context())
	var records []audit.Record
	var err error
	if since.IsZero() && until.IsZero() {
		records, err = s.decisions.List(r.Context(), tenantID, limit)
	} else {
		records, err = s.decisions.ListRange(r.Context(), tenantID, since, until, limit)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"decisions": records,
		"count":     len(records),
	})
}

func (s *Server) handleDecisionGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.decisions.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, audit.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "decision not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	// Callers see only their own tenant's records.
	if rec.TenantID != TenantIDFromContext(r.Context()) {
		writeError(w, http.StatusNotFound, "not_found", "decision not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDecisionsVerify(w http.ResponseWriter, r *http.Request) {
	report, err := s.decisions.Verify(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleDecisionsExport(w http.ResponseWriter, r *http.Request) {
	tenantID := TenantIDFromContext(r.Context())
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Content-Disposition", `attachment; filename="decisions.jsonl"`)
	if _, err := s.decisions.ExportJSONL(r.Context(), w, tenantID); err != nil {
		log.Error().Err(err).Str("tenant_id", tenantID).Msg("decision_export_failed")
	}
}

func (s *Server) handleMemoryModeGet(w http.ResponseWriter, r *http.Request) {
	tenantID := TenantIDFromContext(r.Context())
	mode, err := s.mem.Mode(r.Context(), tenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"tenant_id": tenantID, "mode": string(mode)})
}

type memoryModeRequest struct {
	Mode string `json:"mode"`
}

func (s *Server) handleMemoryModeSet(w http.ResponseWriter, r *http.Request) {
	var req memoryModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON: "+err.Error())
		return
	}
	mode, err := memory.ParseMode(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	tenantID := TenantIDFromContext(r.Context())
	if err := s.mem.SetMode(r.Context(), tenantID, mode); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"tenant_id": tenantID, "mode": string(mode)})
}

func (s *Server) handleMemoryClear(w http.ResponseWriter, r *http.Request) {
	tenantID := TenantIDFromContext(r.Context())
	if err := s.mem.Clear(r.Context(), tenantID); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"tenant_id": tenantID, "status": "cleared"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.startTime).String(),
	}
	if s.index != nil {
		docs, chunks, err := s.index.Stats(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}
		resp["index"] = map[string]int{"documents": docs, "chunks": chunks}
	}
	writeJSON(w, http.StatusOK, resp)
}
