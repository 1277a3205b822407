// Package config loads the application configuration from a YAML file and
// fills in defaults for everything left unset.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/chatlink/pool"
	"github.com/hupe1980/chatlink/session"
)

// Duration is a time.Duration that unmarshals from YAML strings such as
// "30s" or "5m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}

	*d = Duration(parsed)

	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the standard library representation.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// BackendConfig selects and parameterizes the generation backend.
type BackendConfig struct {
	// Kind is "remote", "openai" or "anthropic".
	Kind string `yaml:"kind"`
	// ServerAddr is the relay websocket endpoint, remote backend only.
	ServerAddr string `yaml:"server_addr,omitempty"`
	// Model overrides the provider default, direct backends only.
	Model string `yaml:"model,omitempty"`
	// Instructions is the system prompt for direct backends.
	Instructions string `yaml:"instructions,omitempty"`
}

// SessionConfig parameterizes session persistence.
type SessionConfig struct {
	// StorePath is the SQLite file. Empty keeps sessions in memory.
	StorePath string `yaml:"store_path,omitempty"`
	// MaxSessions caps retained sessions, oldest evicted first.
	MaxSessions int `yaml:"max_sessions,omitempty"`
}

// ToolConfig parameterizes tool discovery, filtering and execution.
type ToolConfig struct {
	// Servers lists the MCP tool servers to launch.
	Servers []pool.ServerConfig `yaml:"servers,omitempty"`
	// ForcedTools are always offered regardless of ranking.
	ForcedTools []string `yaml:"forced_tools,omitempty"`
	// RankerServerID names the pool server used for relevance ranking.
	RankerServerID string `yaml:"ranker_server_id,omitempty"`
	// MaxIterations bounds tool rounds within one turn.
	MaxIterations int `yaml:"max_iterations,omitempty"`
	// CallTimeout bounds a single tool invocation.
	CallTimeout Duration `yaml:"call_timeout,omitempty"`
}

// LoggingConfig parameterizes the slog backed logger.
type LoggingConfig struct {
	// Level is "debug", "info", "warn" or "error".
	Level string `yaml:"level,omitempty"`
	// Format is "text" or "json".
	Format string `yaml:"format,omitempty"`
}

// Config is the root configuration document.
type Config struct {
	Backend BackendConfig `yaml:"backend"`
	Session SessionConfig `yaml:"session,omitempty"`
	Tools   ToolConfig    `yaml:"tools,omitempty"`
	Logging LoggingConfig `yaml:"logging,omitempty"`
	// TurnTimeout bounds one complete turn.
	TurnTimeout Duration `yaml:"turn_timeout,omitempty"`
	// ListenAddr is the HTTP API bind address for serve mode.
	ListenAddr string `yaml:"listen_addr,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			Kind: "openai",
		},
		Session: SessionConfig{
			MaxSessions: session.DefaultMaxSessions,
		},
		Tools: ToolConfig{
			MaxIterations: 10,
			CallTimeout:   Duration(60 * time.Second),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		TurnTimeout: Duration(5 * time.Minute),
		ListenAddr:  ":8089",
	}
}

// Load reads and validates the YAML file at path. Unset fields fall back to
// Default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	return Parse(data)
}

// Parse decodes raw YAML into a validated Config.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	switch c.Backend.Kind {
	case "remote":
		if c.Backend.ServerAddr == "" {
			return fmt.Errorf("backend.server_addr is required for the remote backend")
		}
	case "openai", "anthropic":
	default:
		return fmt.Errorf("unknown backend kind %q", c.Backend.Kind)
	}

	if c.Session.MaxSessions < 1 {
		return fmt.Errorf("session.max_sessions must be at least 1")
	}

	if c.Tools.MaxIterations < 1 {
		return fmt.Errorf("tools.max_iterations must be at least 1")
	}

	seen := map[string]struct{}{}
	for _, srv := range c.Tools.Servers {
		if srv.ID == "" {
			return fmt.Errorf("tool server without an id")
		}
		if srv.Command == "" {
			return fmt.Errorf("tool server %q without a command", srv.ID)
		}
		if _, dup := seen[srv.ID]; dup {
			return fmt.Errorf("duplicate tool server id %q", srv.ID)
		}
		seen[srv.ID] = struct{}{}
	}

	return nil
}
