// Package config loads and validates the flat settings struct spec.md §6
// names, from YAML via gopkg.in/yaml.v3, matching the teacher's own
// "defaults applied, then overridden by the file, then validated" load
// order.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so Settings fields parse YAML strings like
// "30s" rather than raw nanosecond integers.
type Duration time.Duration

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Settings is the flat configuration struct named in spec.md §6, plus the
// fields SPEC_FULL.md §10 supplements (seed_window/seed_threshold) and the
// handful a running process needs but spec.md leaves to "an external
// collaborator" (address_pool_path, local, user_agent, accept rate limit).
type Settings struct {
	InboundPort         uint16   `yaml:"inbound_port"`
	InboundEnabled      bool     `yaml:"inbound_enabled"`
	InboundConnections  int      `yaml:"inbound_connections"`
	OutboundConnections int      `yaml:"outbound_connections"`
	ConnectBatchSize    int      `yaml:"connect_batch_size"`
	ConnectTimeout      Duration `yaml:"connect_timeout"`
	ChannelHandshake    Duration `yaml:"channel_handshake"`
	ChannelHeartbeat    Duration `yaml:"channel_heartbeat"`
	ChannelInactivity   Duration `yaml:"channel_inactivity"`
	ChannelExpiration   Duration `yaml:"channel_expiration"`
	HostPoolCapacity    int      `yaml:"host_pool_capacity"`
	ProtocolMaximum     uint32   `yaml:"protocol_maximum"`
	ProtocolMinimum     uint32   `yaml:"protocol_minimum"`
	Services            uint64   `yaml:"services"`
	InvalidServices     uint64   `yaml:"invalid_services"`
	EnableAlert         bool     `yaml:"enable_alert"`
	EnableReject        bool     `yaml:"enable_reject"`
	EnableTransaction   bool     `yaml:"enable_transaction"`
	RelayTransactions   bool     `yaml:"relay_transactions"`
	Peers               []string `yaml:"peers"`
	Seeds               []string `yaml:"seeds"`
	Blacklists          []string `yaml:"blacklists"`
	Whitelists          []string `yaml:"whitelists"`
	Identifier          uint32   `yaml:"identifier"`

	// SeedWindow names spec.md §4.8's "bounded window" (SPEC_FULL.md
	// §10); SeedThreshold is the pool-size floor under which seeding runs.
	SeedWindow    Duration `yaml:"seed_window"`
	SeedThreshold int      `yaml:"seed_threshold"`

	AddressPoolPath string `yaml:"address_pool_path"`
	UserAgent       string `yaml:"user_agent"`
	Local           string `yaml:"local"`

	AcceptRateLimit float64 `yaml:"accept_rate_limit"` // accepts/sec; 0 disables
	AcceptRateBurst int     `yaml:"accept_rate_burst"`
}

// Default returns the baseline settings applied before a config file is
// read, so a file only needs to name what it overrides.
func Default() *Settings {
	return &Settings{
		InboundPort:         8333,
		InboundEnabled:      true,
		InboundConnections:  125,
		OutboundConnections: 8,
		ConnectBatchSize:    3,
		ConnectTimeout:      Duration(5 * time.Second),
		ChannelHandshake:    Duration(3 * time.Second),
		ChannelHeartbeat:    Duration(2 * time.Minute),
		ChannelInactivity:   Duration(20 * time.Minute),
		ChannelExpiration:   Duration(90 * time.Minute),
		HostPoolCapacity:    1000,
		ProtocolMaximum:     70002,
		ProtocolMinimum:     31402,
		Services:            1, // NodeNetwork
		EnableAlert:         false,
		EnableReject:        true,
		EnableTransaction:   false,
		RelayTransactions:   false,
		Identifier:          0xd9b4bef9, // mainnet magic
		SeedWindow:          Duration(3 * time.Second),
		SeedThreshold:       200,
		AddressPoolPath:     "peers.dat",
		UserAgent:           "/btcp2p:0.1.0/",
		AcceptRateLimit:     10,
		AcceptRateBurst:     20,
	}
}

// Load reads path as YAML over Default(), then validates the result.
// Fields the file omits keep their default value, since yaml.Unmarshal
// only overwrites fields present in the document.
func Load(path string) (*Settings, error) {
	s := Default()
	s.SeedWindow = 0 // filled from channel_handshake below unless the file sets it
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if s.ChannelHandshake == 0 {
		s.ChannelHandshake = Default().ChannelHandshake
	}
	if s.SeedWindow == 0 {
		s.SeedWindow = s.ChannelHandshake
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate rejects settings combinations the orchestrator cannot act on.
func (s *Settings) Validate() error {
	if s.HostPoolCapacity < 0 {
		return fmt.Errorf("config: host_pool_capacity must be >= 0")
	}
	if s.OutboundConnections < 0 {
		return fmt.Errorf("config: outbound_connections must be >= 0")
	}
	if s.InboundConnections < 0 {
		return fmt.Errorf("config: inbound_connections must be >= 0")
	}
	if s.ConnectBatchSize < 0 {
		return fmt.Errorf("config: connect_batch_size must be >= 0")
	}
	if s.ProtocolMinimum > s.ProtocolMaximum {
		return fmt.Errorf("config: protocol_minimum (%d) exceeds protocol_maximum (%d)", s.ProtocolMinimum, s.ProtocolMaximum)
	}
	if s.ConnectTimeout.Duration() <= 0 {
		return fmt.Errorf("config: connect_timeout must be > 0")
	}
	return nil
}
