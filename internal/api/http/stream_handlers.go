package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/OrsiniBr/DoTrust/internal/domain/notification"
	"github.com/OrsiniBr/DoTrust/internal/infrastructure/metrics"
)

const wsWriteTimeout = 10 * time.Second

// registerClient takes the client id from the query, or makes one up. An id that
// is already streaming is refused so one connection cannot displace another.
func (s *Server) registerClient(w http.ResponseWriter, r *http.Request) (*notification.Client, bool) {
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		clientID = uuid.NewString()
	}
	client := notification.NewClient(clientID, participantFromContext(r.Context()))
	if err := s.hub.Register(client); err != nil {
		respondError(w, http.StatusConflict, "STATE_CONFLICT", err.Error())
		return nil, false
	}
	metrics.StreamClients.Inc()
	return client, true
}

func (s *Server) unregisterClient(client *notification.Client) {
	s.hub.Unregister(client.ClientID)
	metrics.StreamClients.Dec()
}

func (s *Server) sseEndpoint(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "streaming not supported")
		return
	}
	client, ok := s.registerClient(w, r)
	if !ok {
		return
	}
	defer s.unregisterClient(client)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case msg, ok := <-client.MessageChan:
			if !ok || msg == nil {
				return
			}
			payload, _ := json.Marshal(msg)
			_, _ = w.Write([]byte("event: " + string(msg.Event) + "\n"))
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

// wsEndpoint pushes the same events over a WebSocket. Client frames are read
// only to notice the close.
func (s *Server) wsEndpoint(w http.ResponseWriter, r *http.Request) {
	client, ok := s.registerClient(w, r)
	if !ok {
		return
	}
	defer s.unregisterClient(client)

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := wsutil.ReadClientData(conn); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case msg, ok := <-client.MessageChan:
			if !ok || msg == nil {
				return
			}
			payload, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := wsutil.WriteServerMessage(conn, ws.OpText, payload); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
