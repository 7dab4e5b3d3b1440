package server

import (
	"net"

	"github.com/charmbracelet/log"
	"golang.org/x/sys/unix"
)

// tuneSocket disables Nagle's algorithm on accepted TCP connections. Every
// JSON-RPC exchange here is a single small request/response round trip
// followed by a close, so batching small writes only adds latency.
func tuneSocket(conn net.Conn, logger *log.Logger) {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	raw, err := tc.SyscallConn()
	if err != nil {
		logger.Debug("socket tuning unavailable", "err", err)
		return
	}
	ctrlErr := raw.Control(func(fd uintptr) {
		if err := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
			logger.Debug("TCP_NODELAY failed", "err", err)
		}
	})
	if ctrlErr != nil {
		logger.Debug("socket control failed", "err", ctrlErr)
	}
}
