// Package socksaddr provides the tagged address container and resolution
// helpers shared by every other package in this proxy: the handshake state
// machine, the target dialer, and the auth registry all exchange addresses
// as Addr values rather than raw net.IP/string pairs.
package socksaddr

import (
	"bytes"
	"context"
	"fmt"
	"net"
)

// Family identifies the address family of an Addr.
type Family int

const (
	// Unspec marks an Addr with no family preference, e.g. a bind
	// address that was never configured.
	Unspec Family = iota
	V4
	V6
)

// Addr is a tagged, fixed-size address: an IPv4 host fits in the first
// 4 bytes of Bytes, an IPv6 host uses all 16. Comparisons and hashing
// only ever look at the first 4 or 16 bytes depending on Family, per
// the "address-equality by raw bytes" rule in §4.1.
type Addr struct {
	Family Family
	Bytes  [16]byte
	Port   uint16
}

// FromIP builds an Addr from a net.IP, preferring the 4-byte form when
// the address has one.
func FromIP(ip net.IP, port uint16) Addr {
	var a Addr
	a.Port = port
	if v4 := ip.To4(); v4 != nil {
		a.Family = V4
		copy(a.Bytes[:4], v4)
		return a
	}
	if v6 := ip.To16(); v6 != nil {
		a.Family = V6
		copy(a.Bytes[:16], v6)
		return a
	}
	return a
}

// IP returns the net.IP view of a, ignoring Port.
func (a Addr) IP() net.IP {
	switch a.Family {
	case V4:
		return net.IP(a.Bytes[:4])
	case V6:
		return net.IP(a.Bytes[:16])
	default:
		return nil
	}
}

// Equal compares two addresses by raw host bytes only, per spec: the
// port is never part of the equality test, and differing families are
// never equal even if one is the v4-mapped form of the other.
func (a Addr) Equal(b Addr) bool {
	if a.Family != b.Family {
		return false
	}
	switch a.Family {
	case V4:
		return bytes.Equal(a.Bytes[:4], b.Bytes[:4])
	case V6:
		return a.Bytes == b.Bytes
	default:
		return true
	}
}

func (a Addr) String() string {
	ip := a.IP()
	if ip == nil {
		return "<unspec>"
	}
	return net.JoinHostPort(ip.String(), fmt.Sprintf("%d", a.Port))
}

// Candidate is one resolved endpoint a caller may attempt to bind/dial.
type Candidate struct {
	Addr Addr
}

// Resolve performs a DNS/service lookup that may return multiple
// families; callers iterate the returned candidates in order, as
// described in §4.1.
func Resolve(ctx context.Context, host string, port uint16) ([]Candidate, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []Candidate{{Addr: FromIP(ip, port)}}, nil
	}
	ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("socksaddr: no addresses for %q", host)
	}
	out := make([]Candidate, 0, len(ips))
	for _, ip := range ips {
		out = append(out, Candidate{Addr: FromIP(ip.IP, port)})
	}
	return out, nil
}

// Choose returns the first candidate matching preferFamily, or the head
// of the list if prefer is Unspec or no candidate matches.
func Choose(candidates []Candidate, prefer Family) (Candidate, bool) {
	if len(candidates) == 0 {
		return Candidate{}, false
	}
	if prefer != Unspec {
		for _, c := range candidates {
			if c.Addr.Family == prefer {
				return c, true
			}
		}
	}
	return candidates[0], true
}
