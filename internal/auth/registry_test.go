package auth

import (
	"net"
	"sync"
	"testing"

	"github.com/revsocks/socks5proxy/internal/socksaddr"
)

func addr(ip string) socksaddr.Addr {
	return socksaddr.FromIP(net.ParseIP(ip), 0)
}

func TestRegistryWhitelistAndContains(t *testing.T) {
	r := New()
	r.LoadWhitelist([]socksaddr.Addr{addr("10.0.0.5"), addr("10.0.0.6")})

	if !r.Contains(addr("10.0.0.5")) {
		t.Fatalf("expected whitelisted address to be contained")
	}
	if r.Contains(addr("10.0.0.7")) {
		t.Fatalf("non-whitelisted address must not be contained")
	}
}

func TestRegistryInsertIfAbsentDedups(t *testing.T) {
	r := New()
	a := addr("192.168.1.1")

	r.InsertIfAbsent(a)
	r.InsertIfAbsent(a)

	count := 0
	r.mu.RLock()
	for _, x := range r.addrs {
		if x.Equal(a) {
			count++
		}
	}
	r.mu.RUnlock()

	if count != 1 {
		t.Fatalf("expected exactly one entry after duplicate inserts, got %d", count)
	}
}

func TestRegistryAuthOncePromotion(t *testing.T) {
	r := New()
	client := addr("10.0.0.5")

	if r.Contains(client) {
		t.Fatalf("address must not be present before first auth")
	}
	r.InsertIfAbsent(client)
	if !r.Contains(client) {
		t.Fatalf("address must be present after auth-once insertion")
	}
}

func TestRegistryConcurrentReadersAndWriter(t *testing.T) {
	r := New()
	r.LoadWhitelist([]socksaddr.Addr{addr("1.1.1.1")})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Contains(addr("1.1.1.1"))
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.InsertIfAbsent(addr("2.2.2.2"))
	}()
	wg.Wait()

	if !r.Contains(addr("2.2.2.2")) {
		t.Fatalf("writer insertion must be visible after Wait")
	}
}
