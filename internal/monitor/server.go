// Package monitor runs the broker's HTTP observability surface: a health
// endpoint, JSON state snapshots, a websocket event stream for dashboards,
// and prometheus metrics. It is read-only; nothing here mutates the market.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"market-broker/internal/config"
)

// Server runs the HTTP/WebSocket monitor.
type Server struct {
	cfg      config.Config
	provider SnapshotProvider
	events   <-chan Event
	hub      *Hub
	handlers *Handlers
	server   *http.Server
	cancel   context.CancelFunc
	logger   *slog.Logger
}

// NewServer wires the monitor together. events is the broker's event feed;
// metrics may be nil to skip the scrape endpoint.
func NewServer(
	cfg config.Config,
	provider SnapshotProvider,
	events <-chan Event,
	metrics *Metrics,
	logger *slog.Logger,
) *Server {
	hub := NewHub(logger)
	handlers := NewHandlers(provider, cfg, hub, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", handlers.HandleHealth)
	mux.HandleFunc("/api/snapshot", handlers.HandleSnapshot)
	mux.HandleFunc("/api/items", handlers.HandleItems)
	mux.HandleFunc("/ws", handlers.HandleWebSocket)
	if metrics != nil {
		mux.Handle("/metrics", metrics.Handler())
	}

	server := &http.Server{
		Addr:         cfg.Monitor.Listen,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		cfg:      cfg,
		provider: provider,
		events:   events,
		hub:      hub,
		handlers: handlers,
		server:   server,
		logger:   logger.With("component", "monitor"),
	}
}

// Start runs the hub, the event consumer, and the HTTP listener. It blocks
// until the server stops.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	go s.hub.Run(ctx)
	go s.consumeEvents(ctx)

	s.logger.Info("monitor listening", "addr", s.server.Addr)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("monitor server: %w", err)
	}
	return nil
}

// Stop gracefully stops the server and the hub.
func (s *Server) Stop() error {
	s.logger.Info("stopping monitor")

	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// consumeEvents forwards broker events to the websocket hub.
func (s *Server) consumeEvents(ctx context.Context) {
	if s.events == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-s.events:
			if !ok {
				return
			}
			s.hub.BroadcastEvent(evt)
		}
	}
}
