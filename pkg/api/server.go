// Package api is the thin HTTP façade over the manager: the queue, read,
// and snapshot-fetch endpoints enumerated in §6. It holds no business
// logic of its own beyond request parsing and status-code mapping.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/caindex/pkg/log"
	"github.com/cuemby/caindex/pkg/manager"
	"github.com/cuemby/caindex/pkg/metrics"
)

// Server is the HTTP surface wrapping a *manager.Manager.
type Server struct {
	manager *manager.Manager
	log     zerolog.Logger
	http    *http.Server
}

// NewServer builds a Server. Call Start to begin serving.
func NewServer(mgr *manager.Manager) *Server {
	s := &Server{manager: mgr, log: log.WithComponent("api")}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", instrument(s.log, "health", s.handleHealth))
	mux.HandleFunc("/events", instrument(s.log, "events_list", s.handleListEvents))
	mux.HandleFunc("/index-pointer", instrument(s.log, "index_pointer", s.handleIndexPointer))
	mux.HandleFunc("/snapshot/latest", instrument(s.log, "snapshot_latest", s.handleLatestSnapshot))
	mux.HandleFunc("/events/append", instrument(s.log, "events_append", s.handleAppendEvent))
	mux.HandleFunc("/events/queue-stats", instrument(s.log, "queue_stats", s.handleQueueStats))
	mux.HandleFunc("/snapshot/rebuild", instrument(s.log, "snapshot_rebuild", s.handleSnapshotRebuild))
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())

	s.http = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second, // snapshot streaming can run long on a large index
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Start serves on addr until the process exits or Stop is called. It
// blocks, matching the teacher's HealthServer.Start shape.
func (s *Server) Start(addr string) error {
	s.http.Addr = addr
	s.log.Info().Str("addr", addr).Msg("api server listening")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully shuts the server down, waiting up to 10s for
// in-flight requests (chiefly snapshot streaming) to finish.
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.http.Shutdown(ctx); err != nil {
		s.log.Warn().Err(err).Msg("api server did not shut down cleanly")
	}
}
