// Package server implements the front-end serving layer: the
// connection state machine, the scatter/gather reply writer, the
// protocol dispatch table, the connection freelist, and the two
// interchangeable socket-multiplexing engines.
package server

import (
	"sync/atomic"

	"github.com/beansdb-go/beansdb/config"
	"github.com/beansdb-go/beansdb/internal/connpool"
	"github.com/beansdb-go/beansdb/stats"
	"github.com/beansdb-go/beansdb/store"
)

// Server bundles the collaborators every connection handler needs as
// an explicit context, rather than reaching for global singletons
// (store, stats, settings, quit flag, freelist).
type Server struct {
	cfg   *config.ServerProperties
	store store.Store
	stats *stats.Counters

	freelist *connpool.Freelist[Conn]

	quit atomic.Bool
}

// New builds a Server context. cfg, st, and counters are expected to
// already be fully initialized (config.Setup, the chosen store engine
// opened, stats.New).
func New(cfg *config.ServerProperties, st store.Store, counters *stats.Counters) *Server {
	return &Server{
		cfg:      cfg,
		store:    st,
		stats:    counters,
		freelist: connpool.New[Conn](cfg.ConnFreelistCap),
	}
}

// requestShutdown sets the process-wide quit flag; the event loop and
// flush task cooperatively observe it.
func (s *Server) requestShutdown() {
	s.quit.Store(true)
}

// ShuttingDown reports whether a shutdown has been requested.
func (s *Server) ShuttingDown() bool {
	return s.quit.Load()
}
