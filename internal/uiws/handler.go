package uiws

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	ws "nhooyr.io/websocket"

	"speakloop/agent/internal/auth"
	"speakloop/agent/internal/store"
)

// Server accepts UI websockets for existing sessions.
type Server struct {
	Store  *store.Store
	Reg    *Registry
	Signer *auth.Signer
	Log    zerolog.Logger

	// OnConnect runs after the connection is registered.
	OnConnect func(sessionID string)
	// OnMessage receives every well-formed inbound message in order.
	OnMessage func(sessionID string, msg Message)
	// AcceptOptions is passed to websocket.Accept.
	AcceptOptions *ws.AcceptOptions
}

func NewServer(st *store.Store, reg *Registry, signer *auth.Signer, log zerolog.Logger) *Server {
	return &Server{Store: st, Reg: reg, Signer: signer, Log: log.With().Str("component", "uiws").Logger()}
}

// Serve runs the read loop for sessionID. Token auth applies when the signer
// has a secret: "Authorization: Bearer <t>" or "?token=<t>".
func (s *Server) Serve(w http.ResponseWriter, r *http.Request, sessionID string) {
	if sessionID == "" {
		http.Error(w, "missing session_id", http.StatusBadRequest)
		return
	}
	if s.Store.GetSession(sessionID) == nil {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	if s.Signer.Enabled() {
		token := r.URL.Query().Get("token")
		if authz := r.Header.Get("Authorization"); strings.HasPrefix(authz, "Bearer ") {
			token = strings.TrimPrefix(authz, "Bearer ")
		}
		if token == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}
		if err := s.Signer.Verify(token, sessionID); err != nil {
			s.Log.Warn().Err(err).Str("session_id", sessionID).Msg("ui token rejected")
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
	}

	c, err := ws.Accept(w, r, s.AcceptOptions)
	if err != nil {
		s.Log.Error().Err(err).Msg("ws accept")
		return
	}
	if s.Reg.Replace(sessionID, c) {
		s.Store.AppendEvent(sessionID, "ui_replaced", nil)
	}
	s.Store.AppendEvent(sessionID, "ui_connected", nil)
	metricConnections.Inc()
	defer metricConnections.Dec()
	s.Log.Info().Str("session_id", sessionID).Msg("ui connected")
	if s.OnConnect != nil {
		s.OnConnect(sessionID)
	}

	ctx := r.Context()
	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			break
		}
		if typ != ws.MessageText && typ != ws.MessageBinary {
			continue
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
			payload := map[string]any{}
			if err != nil {
				payload["error"] = err.Error()
			}
			s.Store.AppendEvent(sessionID, "ui_msg_invalid", payload)
			metricInvalid.Inc()
			continue
		}
		msg.SessionID = sessionID
		metricMessages.WithLabelValues("in", msg.Type).Inc()
		if s.OnMessage != nil {
			s.OnMessage(sessionID, msg)
		}
	}
	_ = c.Close(ws.StatusNormalClosure, "done")
	s.Reg.Remove(sessionID, c)
	s.Store.AppendEvent(sessionID, "ui_disconnected", nil)
	s.Log.Info().Str("session_id", sessionID).Msg("ui disconnected")
}
