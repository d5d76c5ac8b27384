package server

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/panjf2000/gnet/v2"

	"github.com/beansdb-go/beansdb/lib/logger"
)

// gnetReactor is the literal gnet.EventHandler alternative engine:
// instead of one goroutine per connection blocking on Read, gnet's own
// OS-thread-pinned multi-reactor dispatches traffic events to
// OnTraffic, which drives the identical Conn state machine via feed
// (conn_gnet.go).
type gnetReactor struct {
	gnet.BuiltinEventEngine
	srv       *Server
	eng       gnet.Engine
	connected int32
}

func (r *gnetReactor) OnBoot(eng gnet.Engine) gnet.Action {
	r.eng = eng
	return gnet.None
}

func (r *gnetReactor) OnOpen(c gnet.Conn) ([]byte, gnet.Action) {
	conn := r.srv.connNew(c, c.RemoteAddr().String())
	c.SetContext(conn)
	atomic.AddInt32(&r.connected, 1)
	return nil, gnet.None
}

func (r *gnetReactor) OnClose(c gnet.Conn, err error) gnet.Action {
	atomic.AddInt32(&r.connected, -1)
	if err != nil {
		logger.Infof("connection %s closed with error: %v", c.RemoteAddr(), err)
	}
	if conn, ok := c.Context().(*Conn); ok {
		conn.close()
	}
	return gnet.None
}

func (r *gnetReactor) OnTraffic(c gnet.Conn) gnet.Action {
	conn, ok := c.Context().(*Conn)
	if !ok {
		return gnet.Close
	}
	data, err := c.Next(-1)
	if err != nil {
		return gnet.Close
	}
	if len(data) > 0 {
		conn.srv.stats.BytesRead(int64(len(data)))
		conn.feed(data)
	}
	if conn.state == StateClosing {
		return gnet.Close
	}
	return gnet.None
}

// ListenAndServeGnet runs the gnet engine on addr until SIGHUP/SIGQUIT/
// SIGTERM/SIGINT, mirroring ListenAndServeWithSignal's shutdown
// ordering for the loop engine: request shutdown, stop the reactor,
// then join the background flush goroutine before returning.
func ListenAndServeGnet(srv *Server, addr string) error {
	r := &gnetReactor{srv: srv}
	protoAddr := "tcp://" + addr
	logger.Infof("listening on %s (engine=gnet)", addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Infof("received signal %v, shutting down", sig)
		srv.requestShutdown()
		_ = gnet.Stop(context.Background(), protoAddr)
	}()

	flushDone := make(chan struct{})
	go srv.flushLoop(flushDone)

	runErr := gnet.Run(r, protoAddr, gnet.WithMulticore(true))
	<-flushDone
	return runErr
}
