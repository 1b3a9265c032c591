package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/acme/outdial/internal/call"
)

func (s *Server) handleGetCall(w http.ResponseWriter, r *http.Request) {
	sess, err := s.calls.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, "call_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

// handleTerminateCall is the operator hangup. Terminating a call that
// already ended is not an error; the coordinator reports the recorded
// outcome.
func (s *Server) handleTerminateCall(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	out, err := s.terminator.Terminate(r.Context(), id, call.ReasonOperator)
	if err != nil {
		if errors.Is(err, call.ErrNotFound) {
			respondError(w, http.StatusNotFound, "call_not_found", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "terminate_failed", err.Error())
		return
	}
	s.metrics.CallEvents.WithLabelValues("operator_terminate").Inc()
	respondJSON(w, http.StatusOK, map[string]any{
		"call_id":  out.CallID,
		"status":   out.Status,
		"reason":   out.Reason,
		"duration": out.Duration.Seconds(),
	})
}
