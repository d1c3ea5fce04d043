// Package supervisor implements the worker supervisor and worker of
// §4.8/§4.9: per-connection worker dispatch, reaping of completed
// workers, the OOM/backpressure sleep-and-continue policy, and the
// three operating-mode loops (listen, connector, relay-pair).
//
// Grounded on the teacher's StartProxy accept loop in proxy.go
// (go handleConnection(...) per accepted conn), generalized to add the
// explicit worker list + reaper §4.8 names, the connector and
// relay-pair modes, and the OOM backoff sleep.
package supervisor

import (
	"context"
	"log"
	"net"
	"sync"
	"time"

	"github.com/revsocks/socks5proxy/internal/auth"
	"github.com/revsocks/socks5proxy/internal/config"
	"github.com/revsocks/socks5proxy/internal/handshake"
	"github.com/revsocks/socks5proxy/internal/netutil"
	"github.com/revsocks/socks5proxy/internal/relay"
	"github.com/revsocks/socks5proxy/internal/socksaddr"
	"github.com/revsocks/socks5proxy/internal/stats"
)

// oomBackoff is the fixed 64us sleep applied after an accept failure,
// per §4.8 step 5. No allocation-failure path exists in this package.
const oomBackoff = 64 * time.Microsecond

// workerState tracks one in-flight connection's completion, per §3's
// WorkerState entity. done is closed exactly once, when the worker's
// I/O (including closing both fds) has finished — the reaper only
// removes a worker from the list after observing done closed, giving
// the release/acquire discipline §5 requires.
type workerState struct {
	done chan struct{}
}

func (w *workerState) finished() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

// Supervisor owns the process-wide shared state of §3's SupervisorState:
// the listener(s), credentials, bind address, and the registry/counters
// every worker reads or updates.
type Supervisor struct {
	Cfg      *config.Config
	Registry *auth.Registry
	Counters *stats.Counters
	Logger   *log.Logger

	mu      sync.Mutex
	workers []*workerState
}

// Run dispatches to the mode-specific loop selected by Cfg.Mode, per
// §4.8 step 2.
func (s *Supervisor) Run(ctx context.Context) error {
	switch s.Cfg.Mode {
	case config.ModeConnector:
		return s.runConnector(ctx)
	case config.ModeRelayPair:
		return s.runRelayPair(ctx)
	default:
		return s.runListen(ctx)
	}
}

// reap implements §4.8 step 1: scan the worker list, drop every entry
// whose completion flag is set.
func (s *Supervisor) reap() {
	s.mu.Lock()
	defer s.mu.Unlock()
	live := s.workers[:0]
	for _, w := range s.workers {
		if !w.finished() {
			live = append(live, w)
		}
	}
	s.workers = live
}

// track registers a new worker and returns the handle its goroutine
// must close(done) on when finished.
func (s *Supervisor) track() *workerState {
	w := &workerState{done: make(chan struct{})}
	s.mu.Lock()
	s.workers = append(s.workers, w)
	s.mu.Unlock()
	return w
}

// runListen implements the ordinary listen-mode loop: accept, dispatch
// a handshake worker per §4.9.
func (s *Supervisor) runListen(ctx context.Context) error {
	ln, err := netutil.OpenListener(ctx, s.Cfg.ListenIP, s.Cfg.Port)
	if err != nil {
		return err
	}
	defer ln.Close()
	s.Logger.Printf("[supervisor] listening on %s", ln.Addr())

	for {
		s.reap()

		conn, err := ln.Accept()
		if err != nil {
			s.Logger.Printf("[supervisor] accept error: %v", err)
			time.Sleep(oomBackoff)
			continue
		}

		w := s.track()
		go s.runHandshakeWorker(ctx, conn, w)
	}
}

// runConnector implements connector mode, §4.8 step 2's "connector
// mode: redial the configured target with backoff": repeatedly redial,
// then poll for the first byte before dispatching a handshake worker,
// per §4.8 step 2 and §4.9.
func (s *Supervisor) runConnector(ctx context.Context) error {
	s.Logger.Printf("[supervisor] connector mode: dialing %s:%d", s.Cfg.Connector, s.Cfg.Port)
	for {
		s.reap()

		conn, err := netutil.DialWithBackoff(ctx, s.Cfg.Connector, s.Cfg.Port)
		if err != nil {
			return err
		}

		peeked, err := waitReadable(conn)
		if err != nil {
			conn.Close()
			continue
		}

		w := s.track()
		go s.runHandshakeWorker(ctx, peeked, w)
	}
}

// peekedConn re-delivers a byte already consumed off the wire to prove
// readability before any later Read call sees it.
type peekedConn struct {
	net.Conn
	peek []byte
}

func (p *peekedConn) Read(b []byte) (int, error) {
	if len(p.peek) > 0 {
		n := copy(b, p.peek)
		p.peek = p.peek[n:]
		return n, nil
	}
	return p.Conn.Read(b)
}

// waitReadable blocks until conn has at least one byte available or is
// closed by the peer, per §4.8 step 2's "poll the fd for readability
// with no timeout". net.Conn has no portable poll surface, so this
// peeks one byte and wraps conn so that byte is still seen by the
// handshake's first read.
func waitReadable(conn net.Conn) (net.Conn, error) {
	var probe [1]byte
	n, err := conn.Read(probe[:])
	if err != nil {
		return nil, err
	}
	return &peekedConn{Conn: conn, peek: probe[:n]}, nil
}

// runRelayPair implements relay-pair mode, §4.9's "accept one connection
// on the relay listener and treat it as the remote fd; skip the SOCKS
// handshake". The already-established back-connection (the connector
// peer) arrives on the ordinary -p listener; the browser arrives on the
// -C relay listener, per §8's worked example ("Server B -p 9000 -C
// 1080; Browser connects to B:1080").
func (s *Supervisor) runRelayPair(ctx context.Context) error {
	backLn, err := netutil.OpenListener(ctx, s.Cfg.ListenIP, s.Cfg.Port)
	if err != nil {
		return err
	}
	defer backLn.Close()

	browserLn, err := netutil.OpenListener(ctx, s.Cfg.ListenIP, s.Cfg.RelayPort)
	if err != nil {
		return err
	}
	defer browserLn.Close()

	s.Logger.Printf("[supervisor] relay-pair mode: back-connections on %s, browsers on %s",
		backLn.Addr(), browserLn.Addr())

	for {
		s.reap()

		back, err := backLn.Accept()
		if err != nil {
			s.Logger.Printf("[supervisor] accept error (back side): %v", err)
			time.Sleep(oomBackoff)
			continue
		}

		browser, err := browserLn.Accept()
		if err != nil {
			back.Close()
			s.Logger.Printf("[supervisor] accept error (browser side): %v", err)
			time.Sleep(oomBackoff)
			continue
		}

		w := s.track()
		go s.runRelayWorker(browser, back, w)
	}
}

// runHandshakeWorker implements the ordinary-mode branch of §4.9: run
// the handshake, then the copy loop against the dialed remote.
func (s *Supervisor) runHandshakeWorker(ctx context.Context, client net.Conn, w *workerState) {
	defer close(w.done)
	defer client.Close()

	var clientAddr socksaddr.Addr
	if tcp, ok := client.RemoteAddr().(*net.TCPAddr); ok {
		clientAddr = socksaddr.FromIP(tcp.IP, uint16(tcp.Port))
	}

	n := &handshake.Negotiator{
		Conn:       client,
		ClientAddr: clientAddr,
		Creds:      s.Cfg.Creds,
		Registry:   s.Registry,
		AuthOnce:   s.Cfg.AuthOnce,
		BindAddr:   s.Cfg.BindAddr,
	}

	remote, err := n.Run(ctx)
	if err != nil || remote == nil {
		return
	}
	defer remote.Close()

	relay.Pump(client, remote, s.Counters)
}

// runRelayWorker implements the relay-pair branch of §4.9: no SOCKS
// handshake, just the copy loop between the browser connection and the
// paired back-connection.
func (s *Supervisor) runRelayWorker(browser, back net.Conn, w *workerState) {
	defer close(w.done)
	defer browser.Close()
	defer back.Close()

	// The back-connection is a raw pipe to the connector peer, which runs
	// the SOCKS handshake itself once the browser's bytes reach it; per
	// §4.9, relay-pair workers only pump bytes, they never parse SOCKS.
	relay.Pump(browser, back, s.Counters)
}
