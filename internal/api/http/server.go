package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	appPenalty "github.com/OrsiniBr/DoTrust/internal/application/penalty"
	appSession "github.com/OrsiniBr/DoTrust/internal/application/session"
	appSettlement "github.com/OrsiniBr/DoTrust/internal/application/settlement"
	"github.com/OrsiniBr/DoTrust/internal/domain/apperr"
	"github.com/OrsiniBr/DoTrust/internal/domain/notification"
	"github.com/OrsiniBr/DoTrust/internal/infrastructure/metrics"
)

// Server holds dependencies for HTTP handlers.
type Server struct {
	sessionSvc     *appSession.Service
	penaltySvc     *appPenalty.Service
	settlementSvc  *appSettlement.Service
	hub            notification.Hub
	adminToken     string
	schedulerBatch int
	logger         zerolog.Logger
	now            func() time.Time
}

// NewServer wires the handlers. settlementSvc may be nil when settlement is disabled.
func NewServer(
	sessionSvc *appSession.Service,
	penaltySvc *appPenalty.Service,
	settlementSvc *appSettlement.Service,
	hub notification.Hub,
	adminToken string,
	schedulerBatch int,
	logger zerolog.Logger,
) *Server {
	return &Server{
		sessionSvc:     sessionSvc,
		penaltySvc:     penaltySvc,
		settlementSvc:  settlementSvc,
		hub:            hub,
		adminToken:     adminToken,
		schedulerBatch: schedulerBatch,
		logger:         logger.With().Str("component", "http").Logger(),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		// Streams are long lived and stay outside the request timeout.
		r.Route("/stream", func(r chi.Router) {
			r.Use(s.requireParticipant)
			r.Get("/sse", s.sseEndpoint)
			r.Get("/ws", s.wsEndpoint)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))

			r.Route("/games/{peer}", func(r chi.Router) {
				r.Use(s.requireParticipant)
				r.Get("/status", s.getStatus)
				r.Get("/points", s.getPoints)
				r.Get("/violations", s.listViolations)
				r.Post("/messages", s.postMessage)
				r.Post("/end", s.endSession)
				r.With(s.requireAdmin).Post("/deposit", s.recordDeposit)
				r.With(s.requireAdmin).Post("/reset", s.resetSession)

				r.Post("/compensate", s.compensate)
				r.Post("/refund", s.refund)
				r.Post("/sign-compensate", s.signCompensate)
				r.Post("/sign-refund", s.signRefund)
			})

			r.Route("/settlement", func(r chi.Router) {
				r.Get("/nonce/{address}", s.getNonce)
				r.With(s.requireParticipant).Post("/stake", s.stake)
			})

			r.With(s.requireAdmin).Post("/scheduler/expire", s.expireTimers)
		})
	})

	return r
}

// Helpers
func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]interface{}{
		"error":   code,
		"message": message,
	})
}

// respondAppError maps an error kind to its status code.
func (s *Server) respondAppError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	status := statusForKind(kind)
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("kind", string(kind)).Msg("request failed")
	}
	code := string(kind)
	if kind == apperr.KindInternal {
		code = "INTERNAL_ERROR"
	}
	respondError(w, status, code, err.Error())
}

func statusForKind(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation, apperr.KindUserDeclined:
		return http.StatusBadRequest
	case apperr.KindStateConflict, apperr.KindAuthorizationRejected:
		return http.StatusConflict
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindInsufficientFunds:
		return http.StatusPaymentRequired
	case apperr.KindExternalService:
		return http.StatusBadGateway
	case apperr.KindConfiguration:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func parseLimitOffset(r *http.Request, defaultLimit, maxLimit int) (int, int) {
	limit := defaultLimit
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if l, err := strconv.Atoi(v); err == nil {
			limit = l
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if o, err := strconv.Atoi(v); err == nil {
			offset = o
		}
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

var errSettlementDisabled = errors.New("settlement is disabled")

func (s *Server) settlementEnabled(w http.ResponseWriter) bool {
	if s.settlementSvc == nil {
		respondError(w, http.StatusServiceUnavailable, string(apperr.KindConfiguration), errSettlementDisabled.Error())
		return false
	}
	return true
}
