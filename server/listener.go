package server

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/beansdb-go/beansdb/lib/logger"
)

// ListenAndServeWithSignal binds the configured address and runs the
// `loop` engine until SIGHUP/SIGQUIT/SIGTERM/SIGINT. It blocks until
// the listener and the background flush task have both stopped.
func (s *Server) ListenAndServeWithSignal() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Bind, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", addr, err)
	}
	logger.Infof("listening on %s (engine=loop)", addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Infof("received signal %v, shutting down", sig)
		s.requestShutdown()
		_ = ln.Close()
	}()

	flushDone := make(chan struct{})
	go s.flushLoop(flushDone)

	serveErr := s.serveLoop(ln)
	<-flushDone
	return serveErr
}

// openReserveFD holds a handle to /dev/null so the listener can, on
// EMFILE, close it to free one fd, accept-and-drop the surging
// client, then reopen it.
func openReserveFD() (*os.File, error) {
	return os.Open(os.DevNull)
}

func (s *Server) serveLoop(ln net.Listener) error {
	reserve, err := openReserveFD()
	if err != nil {
		return fmt.Errorf("server: opening reserve fd: %w", err)
	}
	defer reserve.Close()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.quit.Load() {
				return nil
			}
			if errors.Is(err, syscall.EMFILE) {
				reserve.Close()
				if c2, err2 := ln.Accept(); err2 == nil {
					_ = c2.Close()
				}
				reserve, _ = openReserveFD()
				logger.Warn("server: accept surge (EMFILE), dropped one client")
				continue
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				logger.Infof("server: temporary accept error: %v, retrying", err)
				time.Sleep(5 * time.Millisecond)
				continue
			}
			logger.Errorf("server: accept error: %v", err)
			return err
		}
		tuneSocket(conn)
		c := s.connNew(conn, conn.RemoteAddr().String())
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.serve()
		}()
	}
}
