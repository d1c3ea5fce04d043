// Package auth implements the passwordless-access allow-list described
// in §4.4: a thread-safe set of addresses populated at startup from a
// static whitelist and, when auth-once is enabled, at runtime after a
// successful password authentication.
package auth

import (
	"sync"

	"github.com/revsocks/socks5proxy/internal/socksaddr"
)

// Registry is a reader-writer-locked set of addresses. It never shrinks:
// an address added to it is never removed for the lifetime of the
// process, per §3's invariants.
type Registry struct {
	mu    sync.RWMutex
	addrs []socksaddr.Addr
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{}
}

// LoadWhitelist seeds the registry at startup with the -w flag's static
// addresses.
func (r *Registry) LoadWhitelist(addrs []socksaddr.Addr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addrs = append(r.addrs, addrs...)
}

// Contains reports whether addr is already present, under the reader
// lock. Concurrent readers are permitted per §4.4.
func (r *Registry) Contains(addr socksaddr.Addr) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.addrs {
		if a.Equal(addr) {
			return true
		}
	}
	return false
}

// InsertIfAbsent adds addr under the writer lock, checking presence
// under that same lock first (check-then-insert, as §4.5's auth-once
// transition requires to avoid duplicate entries).
func (r *Registry) InsertIfAbsent(addr socksaddr.Addr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.addrs {
		if a.Equal(addr) {
			return
		}
	}
	r.addrs = append(r.addrs, addr)
}
