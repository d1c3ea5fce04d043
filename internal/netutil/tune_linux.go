//go:build linux

package netutil

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// sendRecvBuf is the fixed 4 MiB send/receive buffer size applied to
// every accepted and every outbound connected fd, per §4.3.
const sendRecvBuf = 4 * 1024 * 1024

// tune configures buffer sizes, keepalive, and Nagle on the raw socket
// fd behind rc. It is wired as both net.ListenConfig.Control (the
// listening socket, whose options accepted fds inherit on Linux) and
// net.Dialer.Control (dialed fds) so the same tuning applies regardless
// of which side of the connection the fd came from.
func tune(rc syscall.RawConn) error {
	var sysErr error
	err := rc.Control(func(fd uintptr) {
		set := func(level, opt, val int) {
			if sysErr != nil {
				return
			}
			if e := unix.SetsockoptInt(int(fd), level, opt, val); e != nil {
				sysErr = e
			}
		}
		set(unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		set(unix.SOL_SOCKET, unix.SO_SNDBUF, sendRecvBuf)
		set(unix.SOL_SOCKET, unix.SO_RCVBUF, sendRecvBuf)
		set(unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)
		set(unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, 60)
		set(unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, 30)
		set(unix.IPPROTO_TCP, unix.TCP_KEEPCNT, 3)
		set(unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	})
	if err != nil {
		return err
	}
	return sysErr
}
