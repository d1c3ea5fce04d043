// Package netutil implements the listener/connector and socket-tuning
// concerns of §4.2 and §4.3: opening a bound, listening endpoint with
// SO_REUSEADDR and the standard tuning, dialing out with exponential
// backoff, and applying the same tuning to every accepted or dialed fd.
//
// The split between tune_linux.go and tune_other.go follows the
// teacher's sockopt_linux.go/sockopt_other.go: socket option tuning is
// a build-tagged, best-effort concern whose failures are logged and
// ignored, never surfaced to the caller as a hard error.
package netutil

import (
	"context"
	"log"
	"net"
	"strconv"
	"syscall"
	"time"
)

// Logger is the package-wide sink for tuning failures and backoff
// progress; main replaces it with its own stderr logger, whose output is
// io.Discard when -q is set.
var Logger = log.Default()

func controlTune(network, address string, rc syscall.RawConn) error {
	if err := tune(rc); err != nil {
		Logger.Printf("[netutil] socket tuning failed for %s: %v", address, err)
	}
	// Tuning failures are logged and ignored per §4.3; never fail the
	// accept/dial over a setsockopt error.
	return nil
}

// ListenConfig is the tuned net.ListenConfig used for every listener
// this proxy opens (the main SOCKS5 listener and, in relay-pair mode,
// the second "-C" listener). A negative KeepAlive stops the net package
// from resetting the keepalive options tune sets.
var ListenConfig = net.ListenConfig{Control: controlTune, KeepAlive: -1}

// OpenListener resolves ip:port and opens a tuned, backlog-maxed TCP
// listener on it. The Go runtime's listen(2) call already uses the
// platform's maximum backlog, matching §4.2's "listen with the OS's
// maximum backlog".
func OpenListener(ctx context.Context, ip string, port int) (net.Listener, error) {
	addr := net.JoinHostPort(ip, strconv.Itoa(port))
	ln, err := ListenConfig.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return ln, nil
}

// Dialer is the tuned net.Dialer used for every outbound connection:
// target dials (internal/dial) and connector-mode redials both share it.
// A negative KeepAlive stops the net package from resetting the
// keepalive options tune sets.
var Dialer = net.Dialer{Control: controlTune, KeepAlive: -1}

// DialWithBackoff calls Dialer.DialContext against host:port with
// exponential backoff (1s doubling, capped at 300s) until one attempt
// succeeds or ctx is cancelled, per §4.2's connector_wait_and_redial and
// §9's "Connector-mode backoff" note.
func DialWithBackoff(ctx context.Context, host string, port int) (net.Conn, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	backoff := time.Second
	const maxBackoff = 300 * time.Second
	for {
		conn, err := Dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			return conn, nil
		}
		Logger.Printf("[netutil] connector dial %s failed: %v (retry in %s)", addr, err, backoff)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
