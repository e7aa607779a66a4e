// Package config provides Viper-based configuration loading for the
// aether game server and client.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// NetworkConfig holds the dual-channel transport settings. The datagram
// channel carries quick (best-effort) packets, the stream channel carries
// safe (reliable, ordered) packets.
type NetworkConfig struct {
	// Host is the bind address for the server listeners, or the server
	// host to connect to for the client.
	Host string `mapstructure:"host"`
	// UDPPort is the datagram channel port.
	UDPPort int `mapstructure:"udp_port"`
	// TCPPort is the reliable stream channel port.
	TCPPort int `mapstructure:"tcp_port"`
	// OutboundQueueSize bounds the quick-send queue drained by the
	// dedicated datagram sender. A full queue drops the datagram.
	OutboundQueueSize int `mapstructure:"outbound_queue_size"`
}

// UDPAddr returns the "host:port" datagram address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (n NetworkConfig) UDPAddr() string {
	return fmt.Sprintf("%s:%d", n.Host, n.UDPPort)
}

// TCPAddr returns the "host:port" stream address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (n NetworkConfig) TCPAddr() string {
	return fmt.Sprintf("%s:%d", n.Host, n.TCPPort)
}

// RuntimeConfig holds the game loop settings.
type RuntimeConfig struct {
	// TickInterval is the duration of one game tick.
	TickInterval time.Duration `mapstructure:"tick_interval"`
	// ClientTimeout is the inactivity duration after which a client is
	// kicked. Zero disables the timeout sweep.
	ClientTimeout time.Duration `mapstructure:"client_timeout"`
	// KeepAliveInterval is how often the server broadcasts KeepAlive to
	// registered clients. Zero disables keep-alives.
	KeepAliveInterval time.Duration `mapstructure:"keepalive_interval"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// Config is the top-level application configuration.
type Config struct {
	Network NetworkConfig `mapstructure:"network"`
	Runtime RuntimeConfig `mapstructure:"runtime"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error
// describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateNetwork(c.Network); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateRuntime(c.Runtime); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateNetwork(n NetworkConfig) error {
	var errs []string
	if n.Host == "" {
		errs = append(errs, "network.host must not be empty")
	}
	if n.UDPPort < 1 || n.UDPPort > 65535 {
		errs = append(errs, fmt.Sprintf("network.udp_port must be 1-65535, got %d", n.UDPPort))
	}
	if n.TCPPort < 1 || n.TCPPort > 65535 {
		errs = append(errs, fmt.Sprintf("network.tcp_port must be 1-65535, got %d", n.TCPPort))
	}
	if n.OutboundQueueSize < 1 {
		errs = append(errs, fmt.Sprintf("network.outbound_queue_size must be >= 1, got %d", n.OutboundQueueSize))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateRuntime(r RuntimeConfig) error {
	var errs []string
	if r.TickInterval <= 0 {
		errs = append(errs, fmt.Sprintf("runtime.tick_interval must be > 0, got %s", r.TickInterval))
	}
	if r.ClientTimeout < 0 {
		errs = append(errs, "runtime.client_timeout must not be negative")
	}
	if r.KeepAliveInterval < 0 {
		errs = append(errs, "runtime.keepalive_interval must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

// Load reads configuration from the given file path, applies environment
// variable overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Environment variable overrides with AETHER_ prefix
	v.SetEnvPrefix("AETHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	if v == nil {
		return Config{}, errors.New("nil viper instance")
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns the built-in default configuration. It is valid without
// any configuration file present.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Unmarshal of pure defaults cannot fail.
	_ = v.Unmarshal(&cfg)
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("network.host", "0.0.0.0")
	v.SetDefault("network.udp_port", 6090)
	v.SetDefault("network.tcp_port", 6091)
	v.SetDefault("network.outbound_queue_size", 256)

	v.SetDefault("runtime.tick_interval", "50ms")
	v.SetDefault("runtime.client_timeout", "30s")
	v.SetDefault("runtime.keepalive_interval", "5s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
