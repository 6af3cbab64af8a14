package controlapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Server runs the control-plane HTTP/WebSocket API.
type Server struct {
	provider Provider
	hub      *Hub
	handlers *Handlers
	server   *http.Server
	logger   *slog.Logger
}

// NewServer wires the mux and constructs (but does not start) the server.
func NewServer(port int, allowedOrigins []string, confirmToken string, provider Provider, logger *slog.Logger) *Server {
	hub := NewHub(logger)
	handlers := NewHandlers(provider, allowedOrigins, confirmToken, hub, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", handlers.HandleHealth)
	mux.HandleFunc("/api/status", handlers.HandleStatus)
	mux.HandleFunc("/api/sync", handlers.HandleSync)
	mux.HandleFunc("/api/reset", handlers.HandleReset)
	mux.HandleFunc("/ws", handlers.HandleWebSocket)
	mux.HandleFunc("/api/markets/", func(w http.ResponseWriter, r *http.Request) {
		mmID, action, ok := parseMarketPath(r.URL.Path)
		if !ok {
			http.NotFound(w, r)
			return
		}
		switch action {
		case "pause":
			handlers.HandlePause(w, r, mmID)
		case "resume":
			handlers.HandleResume(w, r, mmID)
		default:
			http.NotFound(w, r)
		}
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		provider: provider,
		hub:      hub,
		handlers: handlers,
		server:   server,
		logger:   logger.With("component", "controlapi-server"),
	}
}

// parseMarketPath extracts {mm_id} and {action} from
// "/api/markets/{mm_id}/{action}".
func parseMarketPath(path string) (mmID, action string, ok bool) {
	trimmed := strings.TrimPrefix(path, "/api/markets/")
	parts := strings.Split(trimmed, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// Start runs the hub, the event consumer, and the HTTP server. Blocks
// until the server stops.
func (s *Server) Start() error {
	go s.hub.Run()
	go s.consumeEvents()

	s.logger.Info("control api starting", "addr", s.server.Addr)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop gracefully stops the server.
func (s *Server) Stop() error {
	s.logger.Info("stopping control api")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) consumeEvents() {
	events := s.provider.Events()
	if events == nil {
		return
	}
	for evt := range events {
		s.hub.BroadcastEvent(evt)
	}
}
