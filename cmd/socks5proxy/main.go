// Command socks5proxy runs the multithreaded SOCKS5 proxy described in
// SPEC_FULL.md: ordinary listen mode, connector mode (dial out to a
// relay-pair peer), and relay-pair mode (expose a local listener that
// pairs browser connections with already-established back-connections).
//
// Grounded on the teacher's main.go: flag parsing and its bracketed-tag
// log convention. There is no signal-triggered shutdown path: the
// process runs until killed.
package main

import (
	"context"
	"io"
	"log"
	"os"

	"github.com/revsocks/socks5proxy/internal/auth"
	"github.com/revsocks/socks5proxy/internal/config"
	"github.com/revsocks/socks5proxy/internal/netutil"
	"github.com/revsocks/socks5proxy/internal/stats"
	"github.com/revsocks/socks5proxy/internal/supervisor"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run starts every long-lived component and then blocks on sup.Run.
// There is no coordinated shutdown path: SIGINT and SIGTERM are left at
// their default disposition, so the runtime kills the process outright
// rather than running any Go-level handler. run only ever returns (and
// only exits non-zero) on a fatal startup error.
func run(args []string) int {
	cfg, err := config.ParseFlags(args)
	if err != nil {
		log.Printf("[main] %v", err)
		return 1
	}

	logger := log.New(os.Stderr, "", log.LstdFlags)
	if cfg.Quiet {
		logger.SetOutput(io.Discard)
	}
	netutil.Logger = logger

	registry := auth.New()
	registry.LoadWhitelist(cfg.Whitelist)

	counters := &stats.Counters{}

	sup := &supervisor.Supervisor{
		Cfg:      cfg,
		Registry: registry,
		Counters: counters,
		Logger:   logger,
	}

	ctx := context.Background()

	reporter := &stats.Reporter{Counters: counters, Logger: logger}
	go reporter.Run(ctx)

	err = sup.Run(ctx)
	logger.Printf("[main] fatal: %v", err)
	return 1
}
