package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

type postMessageRequest struct {
	MessageID string `json:"messageId"`
}

func peerParam(r *http.Request) string {
	return chi.URLParam(r, "peer")
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.sessionSvc.Status(r.Context(), participantFromContext(r.Context()), peerParam(r))
	if err != nil {
		s.respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}

func (s *Server) getPoints(w http.ResponseWriter, r *http.Request) {
	me := participantFromContext(r.Context())
	points, err := s.penaltySvc.Points(r.Context(), me, peerParam(r))
	if err != nil {
		s.respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"participant": me,
		"points":      points,
	})
}

func (s *Server) listViolations(w http.ResponseWriter, r *http.Request) {
	limit, offset := parseLimitOffset(r, 50, 200)
	items, err := s.sessionSvc.Violations(r.Context(), participantFromContext(r.Context()), peerParam(r), limit, offset)
	if err != nil {
		s.respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"items":  items,
		"limit":  limit,
		"offset": offset,
	})
}

func (s *Server) postMessage(w http.ResponseWriter, r *http.Request) {
	var req postMessageRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	if strings.TrimSpace(req.MessageID) == "" {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "messageId is required")
		return
	}
	res, err := s.sessionSvc.HandleMessage(r.Context(), participantFromContext(r.Context()), peerParam(r), req.MessageID)
	if err != nil {
		s.respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) endSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessionSvc.End(r.Context(), participantFromContext(r.Context()), peerParam(r))
	if err != nil {
		s.respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) recordDeposit(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessionSvc.RecordDeposit(r.Context(), participantFromContext(r.Context()), peerParam(r))
	if err != nil {
		s.respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) resetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessionSvc.ForceIdleReset(r.Context(), participantFromContext(r.Context()), peerParam(r))
	if err != nil {
		s.respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) expireTimers(w http.ResponseWriter, r *http.Request) {
	n, err := s.sessionSvc.ProcessExpired(r.Context(), s.now(), s.schedulerBatch)
	if err != nil {
		s.respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"processed": n})
}
