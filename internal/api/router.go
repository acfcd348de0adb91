package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"speakloop/agent/internal/turn"
)

func NewRouter(h *Handlers) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.logMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.HandleHealthz)
	r.Get("/readyz", h.HandleReadyz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/sessions", func(sr chi.Router) {
		sr.Post("/", h.HandleCreateSession)
		sr.Route("/{sessionID}", func(s chi.Router) {
			s.Get("/", h.HandleGetSession)
			s.Delete("/", h.HandleEndSession)
			s.Get("/events", h.HandleListEvents)
			s.Get("/history", h.HandleHistory)
			s.Get("/ws", h.HandleWS)

			s.Post("/start", h.control((*turn.Controller).Start))
			s.Post("/pause", h.control((*turn.Controller).Pause))
			s.Post("/resume", h.control((*turn.Controller).Resume))
			s.Post("/barge-in", h.control((*turn.Controller).HandleBargeIn))
			s.Post("/play", h.HandlePlay)
			s.Post("/command", h.HandleCommand)
			s.Post("/messages", h.HandleAddMessage)
		})
	})
	return r
}

func (h *Handlers) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http")
	})
}
