package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/foxseedlab/stagewarden/internal/session"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

const shutdownTimeout = 10 * time.Second

// StatusSource is the read-only view of the engine exposed over HTTP.
type StatusSource interface {
	Sessions() []session.SessionInfo
	QueueEntries() []session.QueueEntry
}

type Server struct {
	srv *http.Server
}

func NewServer(addr string, source StatusSource) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           NewHandler(source),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// NewHandler builds the router with access logging and panic recovery.
func NewHandler(source StatusSource) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	r.HandleFunc("/sessions", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, source.Sessions())
	}).Methods(http.MethodGet)
	r.HandleFunc("/moderation-queue", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, source.QueueEntries())
	}).Methods(http.MethodGet)

	return handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(
		handlers.LoggingHandler(os.Stdout, r),
	)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

// Start serves in the background until Shutdown.
func (s *Server) Start() {
	go func() {
		slog.Info("http server listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server failed", "error", err)
		}
	}()
}

func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
