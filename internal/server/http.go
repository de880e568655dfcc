package server

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Server is the HTTP server for the web interface.
type Server struct {
	mux       *http.ServeMux
	handler   *Handlers
	addr      string
	staticDir string
	log       logrus.FieldLogger
}

// NewServer creates a new HTTP server.
func NewServer(addr string, handler *Handlers, staticDir string, log logrus.FieldLogger) *Server {
	s := &Server{
		mux:       http.NewServeMux(),
		handler:   handler,
		addr:      addr,
		staticDir: staticDir,
		log:       log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// API routes
	s.mux.HandleFunc("/api/constellation", s.handler.HandleConstellation)
	s.mux.HandleFunc("/api/modulate", s.handler.HandleModulate)
	s.mux.HandleFunc("/api/spectrum", s.handler.HandleSpectrum)
	s.mux.HandleFunc("/api/ber", s.handler.HandleBER)
	s.mux.HandleFunc("/api/status", s.handler.HandleStatus)

	// WebSocket
	s.mux.HandleFunc("/ws", s.handler.HandleWebSocket)

	// Static files
	if s.staticDir != "" {
		s.mux.Handle("/", http.FileServer(http.Dir(s.staticDir)))
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.mux}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", s.addr).Info("starting server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "listen")
	case <-ctx.Done():
	}

	s.handler.Hub().BroadcastStatus("shutdown", "server stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown")
	}
	return nil
}
