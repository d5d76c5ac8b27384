package server

import (
	"errors"
	"io"
	"net"
	"syscall"
)

// perMessageCap bounds the payload of the first msghdr in a reply —
// a legacy MTU guard kept verbatim even though only TCP is accepted
// now.
const perMessageCap = 1400

// iovMax bounds how many iovec entries one msghdr may hold before a
// new msghdr is started, mirroring the kernel's IOV_MAX.
const iovMax = 1024

// iovec is one scatter/gather segment: a view into memory that must
// stay live until fully drained.
type iovec struct {
	base []byte
}

// msghdr groups a run of iovecs sent together, tracking the running
// payload total so the first msghdr's per-message cap can be
// enforced.
type msghdr struct {
	iovStart int
	iovCount int
	bytes    int
}

type writeResult int

const (
	writeComplete writeResult = iota
	writeSoftError
	writeHardError
)

// writer is the per-connection scatter/gather state machine: addIov
// appends borrowed buffers to a growing msghdr/iovec pair, transmit
// drains them, resuming mid-iovec across partial writes byte for
// byte.
type writer struct {
	iov []iovec
	msg []msghdr

	msgcurr int
	iovcurr int
	off     int

	written int64
}

func newWriter() *writer {
	return &writer{}
}

// reset prepares the writer for a fresh reply; it is not safe to call
// while a previous reply is still draining.
func (w *writer) reset() {
	w.iov = w.iov[:0]
	w.msg = w.msg[:0]
	w.msgcurr = 0
	w.iovcurr = 0
	w.off = 0
	w.written = 0
}

func (w *writer) pending() bool {
	return w.msgcurr < len(w.msg)
}

// addIov appends buf to the writer's current msghdr, splitting and
// starting new msghdrs as needed: the first msghdr is capped at
// perMessageCap bytes (splitting a fragment that would overflow it
// rather than refusing it), and every msghdr is capped at iovMax
// entries.
func (w *writer) addIov(buf []byte) {
	if len(buf) == 0 {
		return
	}
	if len(w.msg) == 0 {
		w.msg = append(w.msg, msghdr{iovStart: 0})
	}
	for len(buf) > 0 {
		curIdx := len(w.msg) - 1
		cur := &w.msg[curIdx]

		chunk := buf
		if curIdx == 0 && cur.bytes+len(chunk) > perMessageCap {
			chunk = buf[:perMessageCap-cur.bytes]
		}
		if cur.iovCount >= iovMax || len(chunk) == 0 {
			w.msg = append(w.msg, msghdr{iovStart: len(w.iov)})
			continue
		}

		w.iov = append(w.iov, iovec{base: chunk})
		cur.iovCount++
		cur.bytes += len(chunk)
		buf = buf[len(chunk):]
	}
}

// transmit drains msg[msgcurr] onward into dst, one iovec Write at a
// time, resuming at exactly the byte a prior partial write left off.
// It returns once every remaining segment is drained, or at the first
// error or short write, so a caller running on a connection's own
// goroutine may simply call it in a loop; writeSoftError arises from
// an explicit deadline or EAGAIN-equivalent (rare on a plain blocking
// net.Conn) or from a short write with a nil error.
func (w *writer) transmit(dst io.Writer) (writeResult, error) {
	for w.msgcurr < len(w.msg) {
		m := w.msg[w.msgcurr]
		for w.iovcurr < m.iovStart+m.iovCount {
			seg := w.iov[w.iovcurr].base[w.off:]
			n, err := dst.Write(seg)
			w.written += int64(n)
			if err != nil {
				if isSoftWriteError(err) {
					w.off += n
					return writeSoftError, nil
				}
				return writeHardError, err
			}
			w.off += n
			if w.off < len(w.iov[w.iovcurr].base) {
				// Short write with a nil error: the io.Writer contract
				// says this shouldn't happen, but resume exactly here
				// rather than assume completion.
				return writeSoftError, nil
			}
			w.off = 0
			w.iovcurr++
		}
		w.msgcurr++
	}
	return writeComplete, nil
}

func isSoftWriteError(err error) bool {
	if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return false
}
