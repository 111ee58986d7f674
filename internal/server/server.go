// Package server provides the operator HTTP server for stationeye: the live
// overlay view, the event websocket and the control API.
package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/ayusman/stationeye/internal/metrics"
	"github.com/ayusman/stationeye/internal/server/api"
	"github.com/ayusman/stationeye/internal/session"
	"github.com/ayusman/stationeye/internal/settings"
	"github.com/ayusman/stationeye/internal/store"
)

// Config holds the server configuration. Handlers whose dependency is nil
// are not registered.
type Config struct {
	StaticDir      string
	Source         api.Source
	Frames         Snapshotter
	Overlay        Compositor
	Pauser         api.Pauser
	Settings       *settings.Store
	Stats          api.StatsSource
	Session        session.ID
	Store          *store.Store
	Hub            *Hub
	Metrics        *metrics.Metrics
	AllowedOrigins []string
	Logger         *zap.SugaredLogger
}

// Server represents the operator HTTP server.
type Server struct {
	config  Config
	mux     *http.ServeMux
	handler http.Handler
	start   time.Time
	logger  *zap.SugaredLogger
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
		logger: logger,
	}
	s.setupRoutes()

	origins := config.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.handler = cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(s.mux)

	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	if s.config.Source != nil {
		sourceHandler := api.NewSourceHandler(s.config.Source)
		s.mux.HandleFunc("/api/source", sourceHandler.ServeSource)
		s.mux.HandleFunc("/api/upload", sourceHandler.ServeUpload)
	}

	if s.config.Frames != nil && s.config.Overlay != nil {
		s.mux.Handle("/api/stream", NewStreamHandler(s.config.Frames, s.config.Overlay))
	}

	if s.config.Hub != nil {
		s.mux.Handle("/api/events", s.config.Hub)
	}

	if s.config.Pauser != nil {
		s.mux.Handle("/api/pause", api.NewPauseHandler(s.config.Pauser))
	}

	if s.config.Settings != nil {
		s.mux.Handle("/api/settings", api.NewSettingsHandler(s.config.Settings))
	}

	if s.config.Stats != nil {
		statsHandler := api.NewStatsHandler(s.config.Stats, s.config.Session, s.config.Store)
		s.mux.HandleFunc("/api/stats", statsHandler.ServeStats)
		s.mux.HandleFunc("/api/session", statsHandler.ServeSession)
	}

	if s.config.Metrics != nil {
		s.mux.Handle("/metrics", s.config.Metrics.Handler())
	}

	if s.config.StaticDir != "" {
		fs := http.FileServer(http.Dir(s.config.StaticDir))
		s.mux.Handle("/", fs)
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]interface{}{
		"status":    "ok",
		"uptime":    time.Since(s.start).String(),
		"sessionId": s.config.Session.String(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", addr)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener serves on ln until ctx is done.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infow("operator server listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	if s.config.Hub != nil {
		s.config.Hub.Close()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown operator server")
	}
	return nil
}
