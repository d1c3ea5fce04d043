// Package handshake drives the three-state SOCKS5 handshake of §4.5:
// method negotiation, optional RFC 1929 credential sub-negotiation, and
// the CONNECT request itself. It never regresses state, per §3's
// invariant. Each message is read field by field with io.ReadFull, so a
// message split across several TCP segments is still parsed whole.
//
// Grounded on the teacher's handleConnection in proxy.go for the
// read-parse-reply shape, generalized with the credential branch and
// auth-registry interaction modeled on foxzi-micro-socks's
// negotiateAuth and ppiankov-trustwatch's negotiate/handleRequest split.
package handshake

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"

	"github.com/revsocks/socks5proxy/internal/auth"
	"github.com/revsocks/socks5proxy/internal/dial"
	"github.com/revsocks/socks5proxy/internal/socksaddr"
	"github.com/revsocks/socks5proxy/internal/wire"
)

// State is one of the three handshake states in §4.5.
type State int

const (
	StateConnected State = iota
	StateNeedAuth
	StateAuthed
)

// ErrClose signals the caller should close the connection with no
// further reply, e.g. a malformed version byte.
var ErrClose = errors.New("handshake: close without reply")

// Credentials is the configured single-user username/password pair.
// Both fields are either present or both absent, per §3's invariant.
type Credentials struct {
	User string
	Pass string
}

// Negotiator drives one connection's handshake to completion. A fresh
// Negotiator is created per accepted connection; its state never
// regresses (§3).
type Negotiator struct {
	Conn        net.Conn
	ClientAddr  socksaddr.Addr
	Creds       *Credentials // nil if no credentials configured
	Registry    *auth.Registry
	AuthOnce    bool
	BindAddr    *socksaddr.Addr

	state State
}

// Run drives CONNECTED → NEED_AUTH|AUTHED → request, dialing the
// target on success. It returns the connected remote net.Conn and a nil
// error once the success reply has been written to the client, or a nil
// conn and an error if the session must be closed (any reply owed to the
// client has already been written; caller should not write anything
// further).
func (n *Negotiator) Run(ctx context.Context) (net.Conn, error) {
	if err := n.negotiateMethod(); err != nil {
		return nil, err
	}
	if n.state == StateNeedAuth {
		if err := n.negotiateCredentials(); err != nil {
			return nil, err
		}
	}
	return n.handleRequest(ctx)
}

// negotiateMethod implements the CONNECTED → {NEED_AUTH, AUTHED}
// transition of §4.5.
func (n *Negotiator) negotiateMethod() error {
	var hdr [2]byte
	if _, err := io.ReadFull(n.Conn, hdr[:]); err != nil {
		return ErrClose
	}
	if hdr[0] != wire.Version {
		return ErrClose
	}

	nmethods := int(hdr[1])
	if nmethods == 0 {
		return ErrClose
	}
	methods := make([]byte, nmethods)
	if _, err := io.ReadFull(n.Conn, methods); err != nil {
		return ErrClose
	}

	selected := n.selectMethod(methods)
	if _, err := n.Conn.Write([]byte{wire.Version, selected}); err != nil {
		return ErrClose
	}
	switch selected {
	case wire.MethodInvalid:
		return ErrClose
	case wire.MethodNoAuth:
		n.state = StateAuthed
	case wire.MethodUserPass:
		n.state = StateNeedAuth
	}
	return nil
}

// selectMethod implements §4.5's method-selection priority:
// NO_AUTH when no credentials are configured, or when credentials are
// configured but the client is already in the auth registry; otherwise
// USERNAME_PASSWORD if offered and configured; otherwise INVALID.
func (n *Negotiator) selectMethod(offered []byte) byte {
	noAuthEligible := n.Creds == nil || n.Registry.Contains(n.ClientAddr)
	hasNoAuth, hasUserPass := false, false
	for _, m := range offered {
		switch m {
		case wire.MethodNoAuth:
			hasNoAuth = true
		case wire.MethodUserPass:
			hasUserPass = true
		}
	}
	if noAuthEligible && hasNoAuth {
		return wire.MethodNoAuth
	}
	if n.Creds != nil && hasUserPass {
		return wire.MethodUserPass
	}
	return wire.MethodInvalid
}

// negotiateCredentials implements the NEED_AUTH → AUTHED transition of
// §4.5, the RFC 1929 sub-negotiation.
func (n *Negotiator) negotiateCredentials() error {
	var verLen [2]byte
	if _, err := io.ReadFull(n.Conn, verLen[:]); err != nil {
		return ErrClose
	}
	if verLen[0] != wire.UserPassVersion {
		return ErrClose
	}
	user := make([]byte, verLen[1])
	if _, err := io.ReadFull(n.Conn, user); err != nil {
		return ErrClose
	}
	var passLen [1]byte
	if _, err := io.ReadFull(n.Conn, passLen[:]); err != nil {
		return ErrClose
	}
	pass := make([]byte, passLen[0])
	if _, err := io.ReadFull(n.Conn, pass); err != nil {
		return ErrClose
	}

	ok := n.Creds != nil && string(user) == n.Creds.User && string(pass) == n.Creds.Pass
	if !ok {
		n.Conn.Write([]byte{wire.UserPassVersion, 0x01})
		return ErrClose
	}
	if _, err := n.Conn.Write([]byte{wire.UserPassVersion, 0x00}); err != nil {
		return ErrClose
	}
	n.state = StateAuthed

	if n.AuthOnce {
		n.Registry.InsertIfAbsent(n.ClientAddr)
	}
	return nil
}

// handleRequest implements the AUTHED → dial transition of §4.5.
func (n *Negotiator) handleRequest(ctx context.Context) (net.Conn, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(n.Conn, hdr[:]); err != nil {
		return nil, ErrClose
	}
	if hdr[0] != wire.Version {
		return nil, ErrClose
	}
	if hdr[1] != wire.CmdConnect {
		n.Conn.Write(wire.Reply(wire.RepCommandNotSupported))
		return nil, ErrClose
	}

	host, port, err := n.readDestAddr(hdr[3])
	if err != nil {
		n.Conn.Write(wire.Reply(wire.RepAddrTypeNotSupported))
		return nil, ErrClose
	}

	remote, rep := dial.Target(ctx, host, port, n.BindAddr)
	if rep != wire.RepSuccess {
		n.Conn.Write(wire.Reply(rep))
		return nil, ErrClose
	}

	if _, err := n.Conn.Write(wire.Reply(wire.RepSuccess)); err != nil {
		remote.Close()
		return nil, ErrClose
	}
	return remote, nil
}

// readDestAddr parses the ATYP-tagged host/port pair of §4.5.
func (n *Negotiator) readDestAddr(atyp byte) (string, uint16, error) {
	var host string
	switch atyp {
	case wire.AtypIPv4:
		var b [4]byte
		if _, err := io.ReadFull(n.Conn, b[:]); err != nil {
			return "", 0, err
		}
		host = net.IP(b[:]).String()
	case wire.AtypIPv6:
		var b [16]byte
		if _, err := io.ReadFull(n.Conn, b[:]); err != nil {
			return "", 0, err
		}
		host = net.IP(b[:]).String()
	case wire.AtypDomain:
		var l [1]byte
		if _, err := io.ReadFull(n.Conn, l[:]); err != nil {
			return "", 0, err
		}
		if l[0] == 0 {
			return "", 0, errors.New("handshake: zero-length domain")
		}
		buf := make([]byte, l[0])
		if _, err := io.ReadFull(n.Conn, buf); err != nil {
			return "", 0, err
		}
		host = string(buf)
	default:
		return "", 0, errors.New("handshake: unsupported address type")
	}

	var portBuf [2]byte
	if _, err := io.ReadFull(n.Conn, portBuf[:]); err != nil {
		return "", 0, err
	}
	return host, binary.BigEndian.Uint16(portBuf[:]), nil
}
