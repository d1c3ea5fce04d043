// Package stats implements the minute-aligned throughput reporter of
// §4.10: a dedicated goroutine swaps both byte counters to zero every
// minute and logs a one-line summary when either was non-zero.
package stats

import (
	"context"
	"log"
	"sync/atomic"
	"time"
)

// Counters holds the two relaxed atomics the copy loop updates. Go's
// atomic package only exposes sequentially-consistent operations, a
// strictly stronger and still-correct substitute for the relaxed
// atomics §5 allows — statistics here are advisory, per §9's open
// question about the in/out labeling being a convention, not a
// semantic guarantee.
type Counters struct {
	in  atomic.Uint64
	out atomic.Uint64
}

// AddIn credits n bytes to the inbound counter.
func (c *Counters) AddIn(n uint64) { c.in.Add(n) }

// AddOut credits n bytes to the outbound counter.
func (c *Counters) AddOut(n uint64) { c.out.Add(n) }

// swap atomically reads and resets both counters.
func (c *Counters) swap() (in, out uint64) {
	return c.in.Swap(0), c.out.Swap(0)
}

// Snapshot reads both counters without resetting them, for callers that
// only need to observe activity rather than drive the periodic report.
func (c *Counters) Snapshot() (in, out uint64) {
	return c.in.Load(), c.out.Load()
}

// Reporter drives the periodic log line.
type Reporter struct {
	Counters *Counters
	Logger   *log.Logger
}

// Run loops until ctx is cancelled, emitting a summary line at each
// minute boundary per the format in §4.10:
// "<24-char ctime> in <bi> (<kB/s>) out <bo> (<kB/s>)".
func (r *Reporter) Run(ctx context.Context) {
	for {
		now := time.Now()
		wait := time.Duration(60-now.Second()) * time.Second
		if wait <= 0 {
			wait = 60 * time.Second
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		in, out := r.Counters.swap()
		if in == 0 && out == 0 {
			continue
		}
		ts := time.Now()
		r.Logger.Printf("[stats] %s in %d (%d) out %d (%d)",
			ts.Format(time.ANSIC), in, kbps(in), out, kbps(out))
	}
}

// kbps matches the teacher-lineage formula "(n + 30000) / 60000" for a
// per-minute byte count, rounding to the nearest kB/s.
func kbps(n uint64) uint64 {
	return (n + 30000) / 60000
}
