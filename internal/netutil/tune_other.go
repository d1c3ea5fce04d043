//go:build !linux

package netutil

import "syscall"

// tune is a no-op on non-Linux platforms, mirroring the teacher's
// sockopt_other.go split: the Linux build tunes buffer sizes, Nagle,
// and keepalive via golang.org/x/sys/unix.
func tune(rc syscall.RawConn) error {
	return nil
}
