package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"speakloop/agent/internal/auth"
	"speakloop/agent/internal/health"
	"speakloop/agent/internal/session"
	"speakloop/agent/internal/turn"
	"speakloop/agent/internal/uiws"
)

type Handlers struct {
	sessions *session.Manager
	signer   *auth.Signer
	ui       *uiws.Server
	ready    func() health.HealthStatus
	log      zerolog.Logger
}

// NewHandlers wires the HTTP surface. ready may be nil, in which case
// /readyz always reports ready.
func NewHandlers(m *session.Manager, signer *auth.Signer, ui *uiws.Server, ready func() health.HealthStatus, log zerolog.Logger) *Handlers {
	return &Handlers{sessions: m, signer: signer, ui: ui, ready: ready, log: log.With().Str("component", "api").Logger()}
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]any{"error": msg})
}

// respondTurnError maps controller errors onto HTTP statuses.
func respondTurnError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, turn.ErrDisposed):
		respondError(w, http.StatusGone, err.Error())
	case errors.Is(err, turn.ErrUnknownCommand), errors.Is(err, turn.ErrEmptyUtterance):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, turn.ErrNothingToRepeat):
		respondError(w, http.StatusConflict, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func (h *Handlers) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	s, ok := h.sessions.Get(chi.URLParam(r, "sessionID"))
	if !ok {
		respondError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return s, true
}

func (h *Handlers) HandleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handlers) HandleReadyz(w http.ResponseWriter, _ *http.Request) {
	if h.ready == nil {
		respondJSON(w, http.StatusOK, health.HealthStatus{OK: true, CheckedAt: time.Now().UTC()})
		return
	}
	st := h.ready()
	code := http.StatusOK
	if !st.OK {
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, st)
}

func (h *Handlers) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Create()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.sessions.Store().AppendEvent(s.ID, "session_created", nil)

	resp := map[string]any{
		"session_id": s.ID,
		"created_at": s.CreatedAt,
		"ws_path":    "/sessions/" + s.ID + "/ws",
		"state":      turn.StateIdle,
	}
	if h.signer.Enabled() {
		tok, exp, err := h.signer.Issue(s.ID)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp["token"] = tok
		resp["token_exp"] = exp.Unix()
	}
	respondJSON(w, http.StatusCreated, resp)
}

func (h *Handlers) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"session":  h.sessions.Store().GetSession(s.ID),
		"snapshot": s.Controller.Snapshot(),
	})
}

func (h *Handlers) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if h.sessions.Store().GetSession(id) == nil {
		respondError(w, http.StatusNotFound, "session not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"events":     h.sessions.Store().ListEvents(id),
	})
}

func (h *Handlers) HandleHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	msgs, err := h.sessions.History(r.Context(), id, 0)
	if errors.Is(err, session.ErrNotFound) {
		respondError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if msgs == nil {
		msgs = []turn.Message{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"session_id": id, "messages": msgs})
}

// control wraps a no-argument controller operation.
func (h *Handlers) control(op func(*turn.Controller) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := h.session(w, r)
		if !ok {
			return
		}
		if err := op(s.Controller); err != nil {
			respondTurnError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, s.Controller.Snapshot())
	}
}

func (h *Handlers) HandlePlay(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var body struct {
		Text string `json:"text"`
		Key  string `json:"key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	started, err := s.Controller.PlayAssistantMessage(body.Text, body.Key)
	if err != nil {
		respondTurnError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"started": started, "snapshot": s.Controller.Snapshot()})
}

func (h *Handlers) HandleCommand(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var body struct {
		Command string `json:"command"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Command == "" {
		respondError(w, http.StatusBadRequest, "command is required")
		return
	}
	if err := s.Controller.HandleVoiceCommand(body.Command); err != nil {
		respondTurnError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.Controller.Snapshot())
}

func (h *Handlers) HandleAddMessage(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var body struct {
		ID   string    `json:"id"`
		Role turn.Role `json:"role"`
		Text string    `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Text == "" {
		respondError(w, http.StatusBadRequest, "text is required")
		return
	}
	if body.Role == "" {
		body.Role = turn.RoleAssistant
	}
	if body.Role != turn.RoleAssistant && body.Role != turn.RoleUser {
		respondError(w, http.StatusBadRequest, "role must be assistant or user")
		return
	}
	if err := s.Controller.AddMessage(turn.Message{ID: body.ID, Role: body.Role, Text: body.Text}); err != nil {
		respondTurnError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.Controller.Snapshot())
}

func (h *Handlers) HandleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if err := h.sessions.End(id); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			respondError(w, http.StatusNotFound, "session not found")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.sessions.Store().AppendEvent(id, "session_ended", nil)
	respondJSON(w, http.StatusOK, map[string]any{"ok": true, "session_id": id})
}

func (h *Handlers) HandleWS(w http.ResponseWriter, r *http.Request) {
	h.ui.Serve(w, r, chi.URLParam(r, "sessionID"))
}
