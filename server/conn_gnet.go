package server

import "github.com/beansdb-go/beansdb/lib/logger"

// feed drives the connection state machine against data already
// delivered by gnet's edge-triggered OnTraffic, without ever calling a
// blocking Read: whatever state can't make progress with the bytes on
// hand simply returns, to be resumed on the next OnTraffic callback.
// There is no explicit re-arm needed, since gnet itself only calls
// OnTraffic again once more bytes arrive.
func (c *Conn) feed(data []byte) {
	c.appendReadBuffer(data)
	for {
		switch c.state {
		case StateRead:
			line, ok := c.nextLine()
			if !ok {
				return
			}
			c.dispatch(line)
			c.flushPendingGnetReply()
		case StateNread:
			if !c.fillNreadFromBuffer() {
				return
			}
		case StateSwallow:
			if !c.drainSwallowFromBuffer() {
				return
			}
		case StateClosing:
			return
		default:
			// write/mwrite are resolved synchronously inside
			// flushPendingGnetReply, so reaching here means a
			// handler set a terminal state without a reply.
			return
		}
	}
}

func (c *Conn) appendReadBuffer(data []byte) {
	c.ensureReadCapacityFor(len(data))
	n := copy(c.rbuf[c.rcurr+c.rbytes:c.rsize], data)
	c.rbytes += n
	if n < len(data) {
		// Should not happen given ensureReadCapacityFor, but guard
		// against silently dropping bytes if it ever does.
		logger.Warnf("%s: dropped %d bytes, read buffer exhausted", c.remote, len(data)-n)
	}
}

func (c *Conn) ensureReadCapacityFor(n int) {
	if c.rcurr > 0 && c.rsize-(c.rcurr+c.rbytes) < n {
		copy(c.rbuf, c.rbuf[c.rcurr:c.rcurr+c.rbytes])
		c.rcurr = 0
	}
	for c.rsize-c.rbytes < n {
		fresh := make([]byte, c.rsize*2)
		copy(fresh, c.rbuf[:c.rbytes])
		c.rbuf = fresh
		c.rsize = len(fresh)
	}
}

// fillNreadFromBuffer consumes whatever is already buffered toward
// the in-flight item, completing it if that exhausts rlbytes. It
// reports false when the buffer ran dry before rlbytes reached zero.
func (c *Conn) fillNreadFromBuffer() bool {
	for c.rlbytes > 0 && c.rbytes > 0 {
		n := c.rbytes
		if n > c.rlbytes {
			n = c.rlbytes
		}
		dst := c.item.raw[len(c.item.raw)-c.rlbytes:]
		copy(dst, c.rbuf[c.rcurr:c.rcurr+n])
		c.rcurr += n
		c.rbytes -= n
		c.rlbytes -= n
	}
	if c.rlbytes > 0 {
		return false
	}
	c.completeNread()
	c.flushPendingGnetReply()
	return true
}

func (c *Conn) drainSwallowFromBuffer() bool {
	for c.sbytes > 0 && c.rbytes > 0 {
		n := c.rbytes
		if n > c.sbytes {
			n = c.sbytes
		}
		c.rcurr += n
		c.rbytes -= n
		c.sbytes -= n
	}
	if c.sbytes > 0 {
		return false
	}
	if c.swallowReply != "" {
		reply := c.swallowReply
		c.swallowReply = ""
		c.reply(reply)
	} else {
		c.enterRead()
	}
	c.flushPendingGnetReply()
	return true
}

// flushPendingGnetReply writes out a write/mwrite reply synchronously
// against the gnet connection. gnet.Conn.Write queues fully or errors
// rather than short-writing, so unlike the loop engine's writer there
// is no byte-exact resume to track here.
func (c *Conn) flushPendingGnetReply() {
	switch c.state {
	case StateWrite:
		if c.wbytes > 0 {
			if _, err := c.nc.Write(c.wbuf[c.wcurr : c.wcurr+c.wbytes]); err != nil {
				c.state = StateClosing
				return
			}
			c.srv.stats.BytesWritten(int64(c.wbytes))
		}
		c.writeAndFree = nil
		if c.writeAndGo == StateRead {
			c.enterRead()
		} else {
			c.state = c.writeAndGo
		}
	case StateMwrite:
		var total int64
		for _, iv := range c.wr.iov {
			n, err := c.nc.Write(iv.base)
			total += int64(n)
			if err != nil {
				c.state = StateClosing
				c.srv.stats.BytesWritten(total)
				return
			}
		}
		c.srv.stats.BytesWritten(total)
		c.releaseHeldItems()
		c.wr.reset()
		c.enterRead()
	}
}
