package server

import (
	"time"

	"github.com/beansdb-go/beansdb/lib/logger"
)

// flushLoop calls the store's flush operation on a period, sleeping
// one second between ticks, and exits cleanly once the quit flag is
// observed. The caller's ListenAndServeWithSignal joins this
// goroutine's exit implicitly by waiting on flushDone before closing
// the store.
func (s *Server) flushLoop(done chan<- struct{}) {
	defer close(done)
	for !s.quit.Load() {
		if err := s.store.Flush(s.cfg.FlushLimitKB, s.cfg.FlushIntervalSecs); err != nil {
			logger.Warnf("background flush failed: %v", err)
		}
		time.Sleep(time.Second)
	}
}
