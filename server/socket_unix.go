//go:build linux || darwin

package server

import (
	"net"

	"golang.org/x/sys/unix"
)

// tuneSocket applies the per-connection socket options the listener's
// accept path expects: disable Nagle's algorithm so small protocol
// replies aren't held back. Applied via SyscallConn on a
// *net.TCPConn; any other connection type is left untouched. Only the
// loop engine's accept loop calls it.
func tuneSocket(nc net.Conn) {
	tc, ok := nc.(*net.TCPConn)
	if !ok {
		return
	}
	raw, err := tc.SyscallConn()
	if err != nil {
		return
	}
	_ = raw.Control(func(fd uintptr) {
		_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	})
}
