// Package dial implements the target-resolution and outbound-connect
// logic of §4.6: resolve the requested host, optionally constrain the
// outbound family to a configured bind address, connect, and map OS
// errors to SOCKS5 reply codes.
//
// Grounded on the teacher's dialer.Dial call in proxy.go (which already
// maps ECONNREFUSED/ENETUNREACH/EHOSTUNREACH via errors.Is) and
// foxzi-micro-socks's mapDialError, generalized to the full table in
// spec.md §4.6 including timeout, address-family, and DNS-failure cases.
package dial

import (
	"context"
	"errors"
	"net"
	"strconv"
	"syscall"

	"github.com/revsocks/socks5proxy/internal/netutil"
	"github.com/revsocks/socks5proxy/internal/socksaddr"
	"github.com/revsocks/socks5proxy/internal/wire"
)

// Target resolves host:port, optionally binds to bindAddr when its
// family matches the chosen candidate's family, and dials. It returns
// the connected net.Conn and wire.RepSuccess on success, or a nil conn
// and the mapped SOCKS5 reply code on failure.
func Target(ctx context.Context, host string, port uint16, bindAddr *socksaddr.Addr) (net.Conn, byte) {
	candidates, err := socksaddr.Resolve(ctx, host, port)
	if err != nil {
		// Any DNS/resolution failure maps to GENERAL_FAILURE per §4.6 —
		// the table has no more specific code for it.
		return nil, wire.RepGeneralFailure
	}

	prefer := socksaddr.Unspec
	if bindAddr != nil {
		prefer = bindAddr.Family
	}
	chosen, ok := socksaddr.Choose(candidates, prefer)
	if !ok {
		return nil, wire.RepGeneralFailure
	}

	dialer := netutil.Dialer
	if bindAddr != nil && bindAddr.Family == chosen.Addr.Family {
		dialer.LocalAddr = &net.TCPAddr{IP: bindAddr.IP()}
	}

	target := net.JoinHostPort(chosen.Addr.IP().String(), strconv.Itoa(int(port)))
	conn, err := dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		return nil, mapDialError(err)
	}
	return conn, wire.RepSuccess
}

// mapDialError implements the OS-error → SOCKS5-reply table of §4.6.
func mapDialError(err error) byte {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return wire.RepTTLExpired
	}
	switch {
	case errors.Is(err, syscall.ETIMEDOUT):
		return wire.RepTTLExpired
	case errors.Is(err, syscall.EAFNOSUPPORT), errors.Is(err, syscall.EPROTONOSUPPORT):
		return wire.RepAddrTypeNotSupported
	case errors.Is(err, syscall.ECONNREFUSED):
		return wire.RepConnRefused
	case errors.Is(err, syscall.ENETDOWN), errors.Is(err, syscall.ENETUNREACH):
		return wire.RepNetworkUnreachable
	case errors.Is(err, syscall.EHOSTUNREACH):
		return wire.RepHostUnreachable
	default:
		return wire.RepGeneralFailure
	}
}
