// Package relay implements the bidirectional copy loop of §4.7: poll
// both sides for readability with a 15-minute idle timeout, half-close
// promotion on EOF, and byte-counter bookkeeping for internal/stats.
//
// Grounded on the teacher's relay/copyAndClose pair in proxy.go, which
// already expresses the "copy, then CloseWrite/CloseRead" half-close
// idiom via io.CopyBuffer and a pooled buffer; this package adds the
// idle-timeout deadline and counter hooks the teacher's relay lacks.
package relay

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/revsocks/socks5proxy/internal/stats"
)

// IdleTimeout is the 15-minute inactivity bound from §4.7/§8: the copy
// loop must terminate within this long of the last activity in both
// directions.
const IdleTimeout = 15 * time.Minute

// copyBufSize is the 16 KiB per-read cap from §4.7.
const copyBufSize = 16 * 1024

var bufPool = sync.Pool{
	New: func() any {
		buf := make([]byte, copyBufSize)
		return &buf
	},
}

// Pump relays bytes bidirectionally between client and target. Each
// direction runs on its own and stops at EOF, at a read or write error,
// or when its own read has been idle for IdleTimeout; it then half-closes
// and the other direction keeps running. An error in one direction does
// not close the connections, and Pump returns only once both directions
// have stopped. Bytes flowing toward
// target credit the stats "out" counter, bytes flowing back to client
// credit "in" — a convention-only label per §4.7/§9, not a guarantee
// about which physical peer is "outside".
func Pump(client, target net.Conn, counters *stats.Counters) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		copyHalf(target, client, counters, true)
	}()
	go func() {
		defer wg.Done()
		copyHalf(client, target, counters, false)
	}()

	wg.Wait()
}

// copyHalf copies from src to dst, refreshing the idle deadline on
// every successful read or write, and promotes to a half-closed,
// unidirectional drain once src reaches EOF: per §4.7, read==0 shuts
// down dst's write side and the remaining direction continues without
// further polling until it too reaches EOF or errors.
func copyHalf(dst, src net.Conn, counters *stats.Counters, toTarget bool) {
	bufp := bufPool.Get().(*[]byte)
	defer bufPool.Put(bufp)
	buf := *bufp

	for {
		src.SetReadDeadline(time.Now().Add(IdleTimeout))
		n, rerr := src.Read(buf)
		if n > 0 {
			dst.SetWriteDeadline(time.Now().Add(IdleTimeout))
			if _, werr := writeFull(dst, buf[:n]); werr != nil {
				break
			}
			if toTarget {
				counters.AddOut(uint64(n))
			} else {
				counters.AddIn(uint64(n))
			}
		}
		if rerr != nil {
			break
		}
	}

	if tc, ok := dst.(*net.TCPConn); ok {
		tc.CloseWrite()
	}
	if tc, ok := src.(*net.TCPConn); ok {
		tc.CloseRead()
	}
}

// writeFull accumulates partial writes until buf is fully drained, per
// §4.7's "write the full amount ... accumulating partial writes".
func writeFull(dst io.Writer, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := dst.Write(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
