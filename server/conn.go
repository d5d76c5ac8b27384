package server

import (
	"bytes"

	"github.com/eapache/queue"
)

const (
	dataBufferSize        = 2048
	initialIovCapacity    = 64
	initialMsgCapacity    = 8
	shrinkWatermarkFactor = 8
	readAheadMinSpace     = 256
)

// pendingItem is the in-construction storage item a set/append is
// filling: raw holds the L+2 bytes read off the wire (the value
// followed by the trailing CRLF set/append must validate).
type pendingItem struct {
	key  []byte
	flag uint32
	ver  int64
	raw  []byte
}

// connIO is the minimal surface the connection state machine needs
// from an accepted socket. Both net.Conn (the loop engine) and
// gnet.Conn (the gnet engine) satisfy it, so the same Conn type and
// dispatch table drive either engine.
type connIO interface {
	Read([]byte) (int, error)
	Write([]byte) (int, error)
	Close() error
}

// Conn is the per-connection record driving one client's state
// machine. Go's blocking net.Conn plus a dedicated goroutine
// (server/listener.go) stands in for a reactor-driven record: every
// "suspend on EAGAIN" point becomes a plain blocking Read/Write call
// that parks the goroutine on the runtime's netpoller instead of
// returning control to an explicit event loop. The gnet engine
// (server/reactor_gnet.go) drives the same Conn non-blocking instead.
type Conn struct {
	srv    *Server
	nc     connIO
	remote string

	state State

	rbuf   []byte
	rcurr  int
	rbytes int
	rsize  int

	rlbytes int // bytes remaining to fill into item.raw (nread) or discard (swallow via sbytes)
	sbytes  int

	wbuf         []byte
	wcurr        int
	wbytes       int
	writeAndGo   State
	writeAndFree []byte
	swallowReply string

	wr *writer

	ilist *queue.Queue // held store.Item pointers backing the current mwrite's iovecs

	item     *pendingItem
	itemComm itemCommand

	noreply bool
}

var (
	crlfBytes = []byte("\r\n")
	endBytes  = []byte("END\r\n")
)

// connNew takes a record from the freelist if one is available, else
// allocates fresh with the configured initial capacities.
// connection_structures only increments on the fresh path;
// curr_connections/total_connections increment either way.
func (srv *Server) connNew(nc connIO, remote string) *Conn {
	c := srv.freelist.Get()
	if c == nil {
		c = &Conn{
			rbuf:  make([]byte, srv.cfg.ReadBufferSize),
			wbuf:  make([]byte, dataBufferSize),
			wr:    newWriter(),
			ilist: queue.New(),
		}
		srv.stats.ConnOpened(true)
	} else {
		srv.stats.ConnOpened(false)
	}
	c.srv = srv
	c.nc = nc
	c.remote = remote
	c.state = StateRead
	c.rcurr = 0
	c.rbytes = 0
	c.rsize = len(c.rbuf)
	c.rlbytes = 0
	c.sbytes = 0
	c.wcurr = 0
	c.wbytes = 0
	c.writeAndFree = nil
	c.swallowReply = ""
	c.item = nil
	c.itemComm = commandNone
	c.noreply = false
	c.wr.reset()
	return c
}

// close cancels interest in the socket (closing the fd is Go's
// equivalent), releases held items, and either recycles the record
// onto the freelist or lets it be garbage collected.
func (c *Conn) close() {
	_ = c.nc.Close()
	c.releaseHeldItems()
	c.writeAndFree = nil
	c.item = nil
	c.srv.stats.ConnClosed()

	highWatermark := c.srv.cfg.ReadBufferSize * shrinkWatermarkFactor
	if c.rsize > highWatermark {
		return // oversized record: destroy rather than recycle
	}
	c.srv.freelist.Put(c) // false (freelist full) also just drops the reference
}

func (c *Conn) releaseHeldItems() {
	for c.ilist.Length() > 0 {
		c.ilist.Remove()
	}
}

// enterRead applies the buffer-shrink policy: on every transition
// into read, oversized buffers whose current fill is modest are
// reallocated back to their initial size. Shrink is best-effort and
// never disturbs correctness if skipped.
func (c *Conn) enterRead() {
	c.state = StateRead
	if c.rsize > c.srv.cfg.ReadBufferSize*shrinkWatermarkFactor && c.rbytes < c.srv.cfg.ReadBufferSize {
		fresh := make([]byte, c.srv.cfg.ReadBufferSize)
		n := copy(fresh, c.rbuf[c.rcurr:c.rcurr+c.rbytes])
		c.rbuf = fresh
		c.rsize = len(fresh)
		c.rcurr = 0
		c.rbytes = n
	}
	if len(c.wr.iov) == 0 && cap(c.wr.iov) > initialIovCapacity*shrinkWatermarkFactor {
		c.wr.iov = make([]iovec, 0, initialIovCapacity)
	}
	if len(c.wr.msg) == 0 && cap(c.wr.msg) > initialMsgCapacity*shrinkWatermarkFactor {
		c.wr.msg = make([]msghdr, 0, initialMsgCapacity)
	}
}

// ensureReadCapacity compacts consumed bytes to the front of rbuf and
// doubles it if there still isn't enough room for another read.
func (c *Conn) ensureReadCapacity() {
	if c.rsize-(c.rcurr+c.rbytes) >= readAheadMinSpace {
		return
	}
	if c.rcurr > 0 {
		copy(c.rbuf, c.rbuf[c.rcurr:c.rcurr+c.rbytes])
		c.rcurr = 0
	}
	if c.rsize-c.rbytes < readAheadMinSpace {
		fresh := make([]byte, c.rsize*2)
		copy(fresh, c.rbuf[:c.rbytes])
		c.rbuf = fresh
		c.rsize = len(fresh)
	}
}

// nextLine extracts one \n-terminated (optional \r stripped) line from
// the buffered unconsumed suffix, advancing rcurr/rbytes past it.
func (c *Conn) nextLine() ([]byte, bool) {
	window := c.rbuf[c.rcurr : c.rcurr+c.rbytes]
	idx := bytes.IndexByte(window, '\n')
	if idx < 0 {
		return nil, false
	}
	line := window[:idx]
	if len(line) > 0 && line[len(line)-1] == '\r' {
		line = line[:len(line)-1]
	}
	consumed := idx + 1
	c.rcurr += consumed
	c.rbytes -= consumed
	return line, true
}

// serve runs the connection state machine until the socket closes,
// collapsing what a reactor would dispatch as separate callbacks into
// this single goroutine's loop.
func (c *Conn) serve() {
	defer c.close()
	for {
		switch c.state {
		case StateRead:
			if !c.doRead() {
				return
			}
		case StateNread:
			if !c.doNread() {
				return
			}
		case StateSwallow:
			if !c.doSwallow() {
				return
			}
		case StateWrite:
			if !c.doWrite() {
				return
			}
		case StateMwrite:
			if !c.doMwrite() {
				return
			}
		case StateClosing:
			return
		}
	}
}

func (c *Conn) doRead() bool {
	for c.state == StateRead {
		if line, ok := c.nextLine(); ok {
			c.dispatch(line)
			continue
		}
		c.ensureReadCapacity()
		n, err := c.nc.Read(c.rbuf[c.rcurr+c.rbytes : c.rsize])
		if n > 0 {
			c.srv.stats.BytesRead(int64(n))
			c.rbytes += n
			continue
		}
		_ = err
		c.state = StateClosing
		return false
	}
	return true
}

func (c *Conn) doNread() bool {
	for c.rlbytes > 0 {
		if c.rbytes > 0 {
			n := c.rbytes
			if n > c.rlbytes {
				n = c.rlbytes
			}
			dst := c.item.raw[len(c.item.raw)-c.rlbytes:]
			copy(dst, c.rbuf[c.rcurr:c.rcurr+n])
			c.rcurr += n
			c.rbytes -= n
			c.rlbytes -= n
			continue
		}
		c.ensureReadCapacity()
		n, err := c.nc.Read(c.rbuf[c.rcurr+c.rbytes : c.rsize])
		if n > 0 {
			c.srv.stats.BytesRead(int64(n))
			c.rbytes += n
			continue
		}
		_ = err
		c.state = StateClosing
		return false
	}
	return c.completeNread()
}

func (c *Conn) doSwallow() bool {
	for c.sbytes > 0 {
		if c.rbytes > 0 {
			n := c.rbytes
			if n > c.sbytes {
				n = c.sbytes
			}
			c.rcurr += n
			c.rbytes -= n
			c.sbytes -= n
			continue
		}
		c.ensureReadCapacity()
		n, err := c.nc.Read(c.rbuf[c.rcurr+c.rbytes : c.rsize])
		if n > 0 {
			c.srv.stats.BytesRead(int64(n))
			c.rbytes += n
			continue
		}
		_ = err
		c.state = StateClosing
		return false
	}
	if c.swallowReply != "" {
		reply := c.swallowReply
		c.swallowReply = ""
		c.reply(reply)
	} else {
		c.enterRead()
	}
	return true
}

func (c *Conn) doWrite() bool {
	for c.wbytes > 0 {
		n, err := c.nc.Write(c.wbuf[c.wcurr : c.wcurr+c.wbytes])
		if n > 0 {
			c.srv.stats.BytesWritten(int64(n))
			c.wcurr += n
			c.wbytes -= n
			continue
		}
		_ = err
		c.state = StateClosing
		return false
	}
	c.writeAndFree = nil
	if c.writeAndGo == StateRead {
		c.enterRead()
	} else {
		c.state = c.writeAndGo
	}
	return true
}

func (c *Conn) doMwrite() bool {
	before := c.wr.written
	for {
		res, err := c.wr.transmit(c.nc)
		switch res {
		case writeComplete:
			c.srv.stats.BytesWritten(c.wr.written - before)
			c.releaseHeldItems()
			c.wr.reset()
			c.enterRead()
			return true
		case writeSoftError:
			continue // deadline/EAGAIN-equivalent or a nil-error short write: transmit resumes at the saved offset
		default: // writeHardError
			c.srv.stats.BytesWritten(c.wr.written - before)
			_ = err
			c.state = StateClosing
			return false
		}
	}
}

// reply sends line as a single-line reply unless the current command
// was tagged noreply, in which case it is suppressed and the
// connection goes straight back to read.
func (c *Conn) reply(line string) {
	if c.noreply {
		c.noreply = false
		c.enterRead()
		return
	}
	c.outString(line)
}

func (c *Conn) outString(line string) {
	if len(c.wbuf) < len(line) {
		c.wbuf = make([]byte, len(line))
	}
	n := copy(c.wbuf, line)
	c.wcurr = 0
	c.wbytes = n
	c.writeAndGo = StateRead
	c.writeAndFree = nil
	c.state = StateWrite
}
