package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/secops-platform/secops-core/internal/model"
	"github.com/secops-platform/secops-core/internal/zerotrust"
	apperrors "github.com/secops-platform/secops-core/pkg/errors"
)

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			s.log.Error("failed to encode response", "error", err)
		}
	}
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	status := apperrors.GetHTTPStatus(err)
	msg := err.Error()
	if appErr, ok := apperrors.AsAppError(err); ok {
		msg = appErr.Message
	}
	s.respondJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "secops-core"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	for _, hc := range s.health {
		if err := hc.Ping(r.Context()); err != nil {
			s.respondJSON(w, http.StatusServiceUnavailable,
				map[string]string{"status": "not_ready", "error": err.Error()})
			return
		}
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ready", "service": "secops-core"})
}

// handleSubmitEvent accepts a security event for asynchronous
// processing. Critical events skip the queue; everything else waits for
// the next drain tick.
func (s *Server) handleSubmitEvent(w http.ResponseWriter, r *http.Request) {
	var event model.SecurityEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		s.respondError(w, apperrors.BadRequest("invalid request body"))
		return
	}

	if err := s.soar.SubmitEvent(&event); err != nil {
		s.respondError(w, err)
		return
	}

	s.metrics.EventsReceived.WithLabelValues(string(event.Severity)).Inc()
	s.respondJSON(w, http.StatusAccepted, map[string]string{
		"event_id": event.ID,
		"status":   "accepted",
	})
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	execs := s.soar.ListExecutions()
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 && limit < len(execs) {
			execs = execs[:limit]
		}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"executions": execs,
		"count":      len(execs),
	})
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	exec, ok := s.soar.GetExecution(id)
	if !ok {
		s.respondError(w, apperrors.NotFound("execution "+id))
		return
	}
	s.respondJSON(w, http.StatusOK, exec)
}

func (s *Server) handleCancelExecution(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.soar.CancelExecution(id); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusAccepted, map[string]string{
		"execution_id": id,
		"status":       "cancelling",
	})
}

type advanceStepRequest struct {
	Completed bool   `json:"completed"`
	Note      string `json:"note,omitempty"`
}

// handleAdvanceStep records an operator's verdict on a manual step and
// resumes the execution.
func (s *Server) handleAdvanceStep(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var req advanceStepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, apperrors.BadRequest("invalid request body"))
		return
	}

	if err := s.soar.AdvanceManualStep(vars["id"], vars["stepID"], req.Completed, req.Note); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusAccepted, map[string]string{
		"execution_id": vars["id"],
		"step_id":      vars["stepID"],
		"status":       "advanced",
	})
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	report, err := s.reports.GetReport(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleEvaluateAccess(w http.ResponseWriter, r *http.Request) {
	var req zerotrust.AccessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, apperrors.BadRequest("invalid request body"))
		return
	}
	if req.Context.SourceIP == "" {
		req.Context.SourceIP = r.RemoteAddr
	}

	decision, err := s.zerotrust.Evaluate(r.Context(), &req)
	if err != nil {
		s.respondError(w, err)
		return
	}

	s.metrics.AccessDecisions.WithLabelValues(decision.Decision, decision.Reason).Inc()
	if decision.TrustScore != nil {
		s.metrics.TrustScore.Observe(decision.TrustScore.Overall)
	}
	s.respondJSON(w, http.StatusOK, decision)
}

func (s *Server) handleListIOCs(w http.ResponseWriter, r *http.Request) {
	iocs := s.intel.All()
	if typeFilter := r.URL.Query().Get("type"); typeFilter != "" {
		filtered := iocs[:0]
		for _, ioc := range iocs {
			if string(ioc.Type) == typeFilter {
				filtered = append(filtered, ioc)
			}
		}
		iocs = filtered
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"indicators": iocs,
		"count":      len(iocs),
	})
}

func (s *Server) handleLookupIOC(w http.ResponseWriter, r *http.Request) {
	value := mux.Vars(r)["value"]
	ioc, ok := s.intel.Lookup(value)
	if !ok {
		s.respondError(w, apperrors.NotFound("indicator "+value))
		return
	}
	s.respondJSON(w, http.StatusOK, ioc)
}

func (s *Server) handleSOARMetrics(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, s.soar.Stats())
}
