// Package relay serves consumption change events to websocket subscribers
package relay

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/septivank/aqueduct-sync/internal/hub"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
	sendBuffer     = 256
)

// Server is the relay HTTP surface
type Server struct {
	hub            *hub.Hub
	allowedOrigins map[string]bool
	logger         *zap.Logger
	upgrader       websocket.Upgrader
	httpServer     *http.Server
}

// NewServer creates the relay server. An empty origin list admits only clients that
// send no Origin header.
func NewServer(addr string, h *hub.Hub, allowedOrigins []string, logger *zap.Logger) *Server {
	s := &Server{
		hub:            h,
		allowedOrigins: make(map[string]bool, len(allowedOrigins)),
		logger:         logger.Named("relay"),
	}
	for _, o := range allowedOrigins {
		s.allowedOrigins[o] = true
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin:      s.checkOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Routes returns the relay router
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/ws", s.handleWebSocket)
	return r
}

// Start listens in the background
func (s *Server) Start() {
	go func() {
		s.logger.Info("relay listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("relay server failed", zap.Error(err))
		}
	}()
}

// Shutdown stops accepting connections and waits for handlers to return
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if s.allowedOrigins["*"] || s.allowedOrigins[origin] {
		return true
	}
	s.logger.Warn("websocket connection rejected from unauthorized origin", zap.String("origin", origin))
	return false
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":      "ok",
		"subscribers": s.hub.SubscriberCount(hub.TopicConsumption),
		"dropped":     s.hub.Dropped(),
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	sub := s.hub.Subscribe(hub.TopicConsumption, sendBuffer)
	c := &client{
		conn:   conn,
		sub:    sub,
		logger: s.logger.With(zap.String("request_id", chimiddleware.GetReqID(r.Context()))),
	}
	c.logger.Info("websocket subscriber connected")

	go c.writePump()
	c.readPump()
}
