package netutil

import (
	"context"
	"net"
	"testing"
	"time"
)

func TestOpenListenerAndAccept(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ln, err := OpenListener(ctx, "127.0.0.1", 0)
	if err != nil {
		t.Fatalf("OpenListener: %v", err)
	}
	defer ln.Close()

	acceptedCh := make(chan error, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			c.Close()
		}
		acceptedCh <- err
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.Close()

	if err := <-acceptedCh; err != nil {
		t.Fatalf("accept: %v", err)
	}
}

func TestDialWithBackoffSucceedsImmediately(t *testing.T) {
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

	conn, err := DialWithBackoff(ctx, "127.0.0.1", tcpAddr.Port)
	if err != nil {
		t.Fatalf("DialWithBackoff: %v", err)
	}
	conn.Close()
}

func TestDialWithBackoffCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := DialWithBackoff(ctx, "127.0.0.1", 1); err == nil {
		t.Fatalf("expected error for already-cancelled context")
	}
}
