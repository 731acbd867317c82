package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/OrsiniBr/DoTrust/internal/domain/stake"
)

const (
	participantHeader = "X-Participant-Address"
	adminTokenHeader  = "X-Admin-Token"
)

// requireParticipant reads the wallet address the upstream gateway authenticated.
func (s *Server) requireParticipant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(participantHeader))
		if raw == "" {
			respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing "+participantHeader)
			return
		}
		id, err := stake.NormalizeIdentity(raw)
		if err != nil {
			respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(withParticipant(r.Context(), id)))
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.adminToken == "" {
			respondError(w, http.StatusForbidden, "FORBIDDEN", "admin routes are disabled")
			return
		}
		token := r.Header.Get(adminTokenHeader)
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.adminToken)) != 1 {
			respondError(w, http.StatusForbidden, "FORBIDDEN", "invalid admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}
