package supervisor

import (
	"context"
	"encoding/binary"
	"io"
	"log"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/revsocks/socks5proxy/internal/auth"
	"github.com/revsocks/socks5proxy/internal/config"
	"github.com/revsocks/socks5proxy/internal/stats"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func discardLog() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// TestReverseModeEndToEnd exercises §8 scenario 7: server A runs in
// connector mode and dials out to server B, which runs in relay-pair
// mode. A browser connects to B's relay-pair listener; the bytes it
// sends appear on A's client side, A performs the SOCKS handshake with
// the browser through the tunnel, and target traffic flows end-to-end.
func TestReverseModeEndToEnd(t *testing.T) {
	// Target that the browser will ask A to CONNECT to.
	targetLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen target: %v", err)
	}
	defer targetLn.Close()
	targetAddr := targetLn.Addr().(*net.TCPAddr)

	targetMsgCh := make(chan []byte, 1)
	go func() {
		c, err := targetLn.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		buf := make([]byte, 64)
		n, _ := c.Read(buf)
		targetMsgCh <- buf[:n]
		c.Write([]byte("pong"))
	}()

	bBackPort := freePort(t)
	bBrowserPort := freePort(t)

	ctxB, cancelB := context.WithCancel(context.Background())
	defer cancelB()
	supB := &Supervisor{
		Cfg: &config.Config{
			Mode:      config.ModeRelayPair,
			ListenIP:  "127.0.0.1",
			Port:      bBackPort,
			RelayPort: bBrowserPort,
		},
		Registry: auth.New(),
		Counters: &stats.Counters{},
		Logger:   discardLog(),
	}
	go supB.Run(ctxB)

	ctxA, cancelA := context.WithCancel(context.Background())
	defer cancelA()
	supA := &Supervisor{
		Cfg: &config.Config{
			Mode:      config.ModeConnector,
			Connector: "127.0.0.1",
			Port:      bBackPort,
		},
		Registry: auth.New(),
		Counters: &stats.Counters{},
		Logger:   discardLog(),
	}
	go supA.Run(ctxA)

	// Give A time to dial out and block on waitReadable.
	time.Sleep(100 * time.Millisecond)

	browser, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(bBrowserPort)))
	if err != nil {
		t.Fatalf("browser dial: %v", err)
	}
	defer browser.Close()

	browser.SetDeadline(time.Now().Add(5 * time.Second))
	browser.Write([]byte{0x05, 0x01, 0x00})
	readN(t, browser, 2, []byte{0x05, 0x00})

	req := []byte{0x05, 0x01, 0x00, 0x01}
	req = append(req, targetAddr.IP.To4()...)
	var portBuf [2]byte
	binary.BigEndian.PutUint16(portBuf[:], uint16(targetAddr.Port))
	req = append(req, portBuf[:]...)
	browser.Write(req)
	readN(t, browser, 10, append([]byte{0x05, 0x00, 0x00, 0x01}, []byte{0, 0, 0, 0, 0, 0}...))

	browser.Write([]byte("ping"))

	select {
	case msg := <-targetMsgCh:
		if string(msg) != "ping" {
			t.Fatalf("target got %q, want %q", msg, "ping")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for target to receive tunneled bytes")
	}

	reply := make([]byte, 4)
	if _, err := io.ReadFull(browser, reply); err != nil {
		t.Fatalf("read target reply through tunnel: %v", err)
	}
	if string(reply) != "pong" {
		t.Fatalf("got %q want %q", reply, "pong")
	}
}

func readN(t *testing.T, conn net.Conn, n int, want []byte) {
	t.Helper()
	buf := make([]byte, n)
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	for i := range want {
		if buf[i] != want[i] {
			t.Fatalf("byte %d: got %#x want %#x (full: % x)", i, buf[i], want[i], buf)
		}
	}
}
