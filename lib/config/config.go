// Copyright 2026 The Waybridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for waybridge hosts.
//
// Configuration is loaded from a single file specified by:
//   - WAYBRIDGE_CONFIG environment variable, or
//   - an explicit path passed to LoadFile
//
// There are no fallbacks or automatic discovery. Hosts that embed the
// bridge directly can skip this package entirely and populate
// bridge.Options in code; the file format exists for the standalone
// tooling.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/waybridge-foundation/waybridge/lib/binhash"
)

// Config is the host-side configuration for a waybridge instance.
type Config struct {
	// Agent configures the compositor agent subprocess.
	Agent AgentConfig `yaml:"agent"`

	// Timing configures protocol deadlines and pacing.
	Timing TimingConfig `yaml:"timing"`

	// Logging configures the slog handler.
	Logging LoggingConfig `yaml:"logging"`
}

// AgentConfig configures the spawned agent subprocess.
type AgentConfig struct {
	// Binary is the path of the agent executable. Required.
	Binary string `yaml:"binary"`

	// Digest optionally pins the agent binary to a hex SHA256. When
	// set, the bridge refuses to spawn a binary whose content hash
	// differs.
	Digest string `yaml:"digest"`

	// Driver selects the agent's display driver ("headless", or
	// whatever else the binary registers). Empty means the agent's
	// default.
	Driver string `yaml:"driver"`

	// SocketDir is where per-instance control sockets are created.
	// Default: the OS temporary directory. Unix socket paths are
	// length-limited, so keep this short.
	SocketDir string `yaml:"socket_dir"`

	// ExitReportPath is where the agent writes its failure record.
	// Empty disables exit reports.
	ExitReportPath string `yaml:"exit_report_path"`
}

// TimingConfig configures protocol deadlines and frame pacing. Zero
// values take the defaults listed on each field.
type TimingConfig struct {
	// AcceptTimeout bounds the wait for the spawned agent to connect
	// back. Default 5s.
	AcceptTimeout Duration `yaml:"accept_timeout"`

	// AckTimeout bounds the wait for CFG_ACK after CONFIGURE, which
	// covers the agent's own compositor handshake. Default 10s.
	AckTimeout Duration `yaml:"ack_timeout"`

	// TickInterval is the render loop period. Default 16ms.
	TickInterval Duration `yaml:"tick_interval"`

	// ExitWait bounds the wait for the agent process to exit after
	// SHUTDOWN before it is killed. Default 2s.
	ExitWait Duration `yaml:"exit_wait"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error. Default info.
	Level string `yaml:"level"`
}

// Duration is a time.Duration that unmarshals from YAML strings like
// "16ms" or "5s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns the configuration used when no file is supplied.
// Agent.Binary stays empty and must be set before use.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			Driver:    "headless",
			SocketDir: os.TempDir(),
		},
		Timing: TimingConfig{
			AcceptTimeout: Duration(5 * time.Second),
			AckTimeout:    Duration(10 * time.Second),
			TickInterval:  Duration(16 * time.Millisecond),
			ExitWait:      Duration(2 * time.Second),
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load loads configuration from the file named by the
// WAYBRIDGE_CONFIG environment variable.
func Load() (*Config, error) {
	path := os.Getenv("WAYBRIDGE_CONFIG")
	if path == "" {
		return nil, fmt.Errorf("WAYBRIDGE_CONFIG environment variable not set")
	}
	return LoadFile(path)
}

// LoadFile loads configuration from an explicit path. Values absent
// from the file keep their defaults; the result is validated.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for values that would fail later
// in confusing ways.
func (c *Config) Validate() error {
	if c.Agent.Binary == "" {
		return fmt.Errorf("agent.binary is required")
	}
	if c.Agent.Digest != "" {
		if _, err := binhash.Parse(c.Agent.Digest); err != nil {
			return fmt.Errorf("agent.digest: %w", err)
		}
	}
	if c.Timing.AcceptTimeout <= 0 {
		return fmt.Errorf("timing.accept_timeout must be positive")
	}
	if c.Timing.AckTimeout <= 0 {
		return fmt.Errorf("timing.ack_timeout must be positive")
	}
	if c.Timing.TickInterval <= 0 {
		return fmt.Errorf("timing.tick_interval must be positive")
	}
	if c.Timing.ExitWait <= 0 {
		return fmt.Errorf("timing.exit_wait must be positive")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	return nil
}

// PinnedDigest returns the parsed binary pin, or a zero digest when
// pinning is disabled. Call Validate first.
func (c *Config) PinnedDigest() binhash.Digest {
	if c.Agent.Digest == "" {
		return binhash.Digest{}
	}
	digest, err := binhash.Parse(c.Agent.Digest)
	if err != nil {
		return binhash.Digest{}
	}
	return digest
}
