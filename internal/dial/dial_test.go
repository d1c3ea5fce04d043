package dial

import (
	"context"
	"errors"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/revsocks/socks5proxy/internal/wire"
)

func TestMapDialErrorTable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want byte
	}{
		{"refused", syscall.ECONNREFUSED, wire.RepConnRefused},
		{"net-unreachable", syscall.ENETUNREACH, wire.RepNetworkUnreachable},
		{"net-down", syscall.ENETDOWN, wire.RepNetworkUnreachable},
		{"host-unreachable", syscall.EHOSTUNREACH, wire.RepHostUnreachable},
		{"timeout", syscall.ETIMEDOUT, wire.RepTTLExpired},
		{"af-not-supported", syscall.EAFNOSUPPORT, wire.RepAddrTypeNotSupported},
		{"unknown", errors.New("boom"), wire.RepGeneralFailure},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := mapDialError(c.err); got != c.want {
				t.Errorf("mapDialError(%v) = %#x, want %#x", c.err, got, c.want)
			}
		})
	}
}

func TestTargetDialFailureMapsGeneralFailureOnDNS(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, rep := Target(ctx, "nx.invalid.", 80, nil)
	if rep != wire.RepGeneralFailure {
		t.Fatalf("expected GENERAL_FAILURE for unresolvable host, got %#x", rep)
	}
}

func TestTargetDialSuccess(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		c, err := ln.Accept()
		if err == nil {
			c.Close()
		}
	}()

	tcpAddr := ln.Addr().(*net.TCPAddr)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, rep := Target(ctx, "127.0.0.1", uint16(tcpAddr.Port), nil)
	if rep != wire.RepSuccess {
		t.Fatalf("expected success, got reply %#x", rep)
	}
	if conn == nil {
		t.Fatalf("expected non-nil conn on success")
	}
	conn.Close()
}
