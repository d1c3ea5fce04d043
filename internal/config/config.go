// Package config parses and validates the CLI surface of §6: the
// ordinary/connector/relay-pair mode selection, credentials, bind
// address, whitelist, and auth-once flags, plus the optional -config
// YAML escape hatch described in SPEC_FULL.md's domain-stack section.
//
// Flag parsing follows the teacher's stdlib flag.* convention in
// main.go; the YAML stanza format is adapted from the teacher's
// config.go (LoadConfig/ProxyEntry), generalized from "one IPv6 per
// proxy entry" to "one mode stanza per proxy entry".
package config

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/revsocks/socks5proxy/internal/handshake"
	"github.com/revsocks/socks5proxy/internal/socksaddr"
)

// Mode selects the supervisor's operating mode, §4.8 step 2.
type Mode int

const (
	ModeListen Mode = iota
	ModeConnector
	ModeRelayPair
)

// Config is the fully validated, immutable configuration for one
// supervisor instance.
type Config struct {
	ListenIP   string
	Port       int
	Creds      *handshake.Credentials
	BindAddr   *socksaddr.Addr
	Whitelist  []socksaddr.Addr
	AuthOnce   bool
	Quiet      bool
	Connector  string // -c: dial this host instead of listening
	RelayPort  int    // -C: second listener for relay-pair mode

	Mode Mode
}

// ParseFlags parses args (normally os.Args[1:]) into a validated
// Config, per the flag table in §6.
func ParseFlags(args []string) (*Config, error) {
	fs := flag.NewFlagSet("socks5proxy", flag.ContinueOnError)

	ip := fs.String("i", "0.0.0.0", "listen address")
	port := fs.Int("p", 1080, "listen port (ordinary mode) or outbound port (connector mode)")
	user := fs.String("u", "", "username (requires -P)")
	pass := fs.String("P", "", "password (requires -u)")
	bind := fs.String("b", "", "bind address for outbound connections")
	whitelist := fs.String("w", "", "comma-separated static whitelist of passwordless client IPs")
	authOnce := fs.Bool("1", false, "auth-once: add client IP to the whitelist after successful password auth")
	quiet := fs.Bool("q", false, "silence logging")
	connector := fs.String("c", "", "connector mode: dial this host instead of listening")
	relayPort := fs.Int("C", 0, "relay-pair mode: also listen on this port")
	configPath := fs.String("config", "", "optional YAML config file (overrides all other flags)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *configPath != "" {
		return loadYAML(*configPath)
	}

	cfg := &Config{
		ListenIP:  *ip,
		Port:      *port,
		Whitelist: nil,
		AuthOnce:  *authOnce,
		Quiet:     *quiet,
		Connector: *connector,
		RelayPort: *relayPort,
	}

	if (*user == "") != (*pass == "") {
		return nil, fmt.Errorf("config: -u and -P must be given together")
	}
	if *user != "" {
		cfg.Creds = &handshake.Credentials{User: *user, Pass: *pass}
		// Clear the flag variable now that the credential is in Config;
		// see zeroString for what this does and does not erase.
		zeroString(pass)
	}
	if cfg.AuthOnce && cfg.Creds == nil {
		return nil, fmt.Errorf("config: -1 (auth-once) requires -u/-P")
	}

	if *whitelist != "" {
		if cfg.Creds == nil {
			return nil, fmt.Errorf("config: -w (whitelist) requires -u/-P")
		}
		addrs, err := parseWhitelist(*whitelist)
		if err != nil {
			return nil, err
		}
		cfg.Whitelist = addrs
	}

	if *bind != "" {
		ip := net.ParseIP(*bind)
		if ip == nil {
			return nil, fmt.Errorf("config: -b: invalid IP address %q", *bind)
		}
		addr := socksaddr.FromIP(ip, 0)
		cfg.BindAddr = &addr
	}

	switch {
	case cfg.Connector != "":
		cfg.Mode = ModeConnector
	case cfg.RelayPort != 0:
		cfg.Mode = ModeRelayPair
	default:
		cfg.Mode = ModeListen
	}

	return cfg, nil
}

func parseWhitelist(s string) ([]socksaddr.Addr, error) {
	parts := strings.Split(s, ",")
	out := make([]socksaddr.Addr, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		ip := net.ParseIP(p)
		if ip == nil {
			return nil, fmt.Errorf("config: -w: invalid IP address %q", p)
		}
		out = append(out, socksaddr.FromIP(ip, 0))
	}
	return out, nil
}

// zeroString sets *s to "". The []byte(*s) conversion makes a fresh
// copy, so only that copy is zeroed: the original string bytes, which
// the process arguments and Config.Creds.Pass still share, are not
// overwritten.
func zeroString(s *string) {
	if *s == "" {
		return
	}
	b := []byte(*s)
	for i := range b {
		b[i] = 0
	}
	*s = ""
}

// yamlConfig is the on-disk shape for the -config escape hatch: one
// stanza per supervisor instance, generalizing the teacher's
// per-IPv6-proxy-entry shape (config.go's ProxyEntry) to per-mode
// stanzas.
type yamlConfig struct {
	ListenIP  string `yaml:"listen_ip"`
	Port      int    `yaml:"port"`
	User      string `yaml:"user"`
	Pass      string `yaml:"pass"`
	Bind      string `yaml:"bind"`
	Whitelist []string `yaml:"whitelist"`
	AuthOnce  bool   `yaml:"auth_once"`
	Quiet     bool   `yaml:"quiet"`
	Connector string `yaml:"connector"`
	RelayPort int    `yaml:"relay_port"`
}

func loadYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var y yamlConfig
	if err := yaml.Unmarshal(data, &y); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg := &Config{
		ListenIP:  y.ListenIP,
		Port:      y.Port,
		AuthOnce:  y.AuthOnce,
		Quiet:     y.Quiet,
		Connector: y.Connector,
		RelayPort: y.RelayPort,
	}
	if cfg.ListenIP == "" {
		cfg.ListenIP = "0.0.0.0"
	}
	if cfg.Port == 0 {
		cfg.Port = 1080
	}

	if (y.User == "") != (y.Pass == "") {
		return nil, fmt.Errorf("config: %s: user and pass must be given together", path)
	}
	if y.User != "" {
		cfg.Creds = &handshake.Credentials{User: y.User, Pass: y.Pass}
	}
	if cfg.AuthOnce && cfg.Creds == nil {
		return nil, fmt.Errorf("config: %s: auth_once requires user/pass", path)
	}

	if len(y.Whitelist) > 0 {
		if cfg.Creds == nil {
			return nil, fmt.Errorf("config: %s: whitelist requires user/pass", path)
		}
		for _, raw := range y.Whitelist {
			ip := net.ParseIP(raw)
			if ip == nil {
				return nil, fmt.Errorf("config: %s: invalid whitelist IP %q", path, raw)
			}
			cfg.Whitelist = append(cfg.Whitelist, socksaddr.FromIP(ip, 0))
		}
	}

	if y.Bind != "" {
		ip := net.ParseIP(y.Bind)
		if ip == nil {
			return nil, fmt.Errorf("config: %s: invalid bind IP %q", path, y.Bind)
		}
		addr := socksaddr.FromIP(ip, 0)
		cfg.BindAddr = &addr
	}

	switch {
	case cfg.Connector != "":
		cfg.Mode = ModeConnector
	case cfg.RelayPort != 0:
		cfg.Mode = ModeRelayPair
	default:
		cfg.Mode = ModeListen
	}

	return cfg, nil
}
