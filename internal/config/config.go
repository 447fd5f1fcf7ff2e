// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"firestige.xyz/l2vpn/internal/core"
)

// Defaults shared by the CLI flags and the config file.
const (
	DefaultBase             = "172.20.20"
	DefaultVendor           = "02:4c:32"
	DefaultWriteTimeout     = 5 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultSocket           = "/var/run/l2vpn.sock"
	DefaultPIDFile          = "/var/run/l2vpn.pid"
)

// Config is the top-level configuration, mapped from the `l2vpn:` root key.
type Config struct {
	Switch  SwitchConfig  `mapstructure:"switch"`
	Client  ClientConfig  `mapstructure:"client"`
	Control ControlConfig `mapstructure:"control"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Log     LogConfig     `mapstructure:"log"`
	Events  EventsConfig  `mapstructure:"events"`
}

// ─── Switch ───

// SwitchConfig configures the central switch.
type SwitchConfig struct {
	Listen         string        `mapstructure:"listen"` // host:port
	Base           string        `mapstructure:"base"`   // three-octet IPv4 prefix
	Vendor         string        `mapstructure:"vendor"` // three-octet MAC prefix
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	FloodMulticast bool          `mapstructure:"flood_multicast"`
}

// ─── Client ───

// ClientConfig configures the TAP client.
type ClientConfig struct {
	Interface        string        `mapstructure:"interface"`
	Server           string        `mapstructure:"server"` // host:port
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	Trace            TraceConfig   `mapstructure:"trace"`
}

// TraceConfig configures the per-frame console trace of the client.
type TraceConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Level   string `mapstructure:"level"`
	Pattern string `mapstructure:"pattern"`
	Time    string `mapstructure:"time"` // Go time layout
}

// ─── Control Plane ───

// ControlConfig contains local control plane settings.
type ControlConfig struct {
	Socket  string `mapstructure:"socket"`
	PIDFile string `mapstructure:"pid_file"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level"`  // debug / info / warn / error
	Format  string           `mapstructure:"format"` // json / text
	Outputs LogOutputsConfig `mapstructure:"outputs"`
}

// LogOutputsConfig contains structured log output destinations.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Path     string         `mapstructure:"path"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups"`
	Compress   bool `mapstructure:"compress"`
}

// ─── Events ───

// EventsConfig selects the session event reporter. Options are reporter specific and decoded
// by the reporter itself.
type EventsConfig struct {
	Type      string         `mapstructure:"type"` // none | log | kafka
	QueueSize int            `mapstructure:"queue_size"`
	Options   map[string]any `mapstructure:"options"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `l2vpn: ...`.
type configRoot struct {
	L2VPN Config `mapstructure:"l2vpn"`
}

// Load loads configuration from path. An empty path yields defaults plus environment overrides.
// Env vars map through the root key, e.g. L2VPN_SWITCH_BASE overrides l2vpn.switch.base.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.L2VPN

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadEnvFile exports the variables of a dotenv file into the process environment. Variables
// already set are left untouched.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// setDefaults sets default values for configuration.
// All keys use the "l2vpn." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Switch defaults
	v.SetDefault("l2vpn.switch.listen", "0.0.0.0:1194")
	v.SetDefault("l2vpn.switch.base", DefaultBase)
	v.SetDefault("l2vpn.switch.vendor", DefaultVendor)
	v.SetDefault("l2vpn.switch.write_timeout", DefaultWriteTimeout)
	v.SetDefault("l2vpn.switch.flood_multicast", false)

	// Client defaults
	v.SetDefault("l2vpn.client.interface", "tap0")
	v.SetDefault("l2vpn.client.server", "")
	v.SetDefault("l2vpn.client.handshake_timeout", DefaultHandshakeTimeout)
	v.SetDefault("l2vpn.client.trace.enabled", true)
	v.SetDefault("l2vpn.client.trace.level", "debug")
	v.SetDefault("l2vpn.client.trace.pattern", "%time %level %field %msg%n")
	v.SetDefault("l2vpn.client.trace.time", "15:04:05.000")

	// Control defaults
	v.SetDefault("l2vpn.control.socket", DefaultSocket)
	v.SetDefault("l2vpn.control.pid_file", DefaultPIDFile)

	// Metrics defaults
	v.SetDefault("l2vpn.metrics.enabled", false)
	v.SetDefault("l2vpn.metrics.listen", ":9194")
	v.SetDefault("l2vpn.metrics.path", "/metrics")

	// Log defaults
	v.SetDefault("l2vpn.log.level", "info")
	v.SetDefault("l2vpn.log.format", "text")
	v.SetDefault("l2vpn.log.outputs.file.enabled", false)
	v.SetDefault("l2vpn.log.outputs.file.path", "/var/log/l2vpn/l2vpn.log")
	v.SetDefault("l2vpn.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("l2vpn.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("l2vpn.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("l2vpn.log.outputs.file.rotation.compress", true)

	// Events defaults
	v.SetDefault("l2vpn.events.type", "none")
	v.SetDefault("l2vpn.events.queue_size", 1024)
}

// Validate checks the configuration. Address prefixes are checked again by the pool.
func (cfg *Config) Validate() error {
	if err := ValidateLog(cfg.Log); err != nil {
		return err
	}

	if cfg.Switch.Listen != "" {
		if _, _, err := net.SplitHostPort(cfg.Switch.Listen); err != nil {
			return fmt.Errorf("%w: switch.listen %q: %v", core.ErrConfigInvalid, cfg.Switch.Listen, err)
		}
	}
	if cfg.Switch.WriteTimeout < 0 {
		return fmt.Errorf("%w: switch.write_timeout must not be negative", core.ErrConfigInvalid)
	}
	if cfg.Client.HandshakeTimeout < 0 {
		return fmt.Errorf("%w: client.handshake_timeout must not be negative", core.ErrConfigInvalid)
	}

	switch cfg.Events.Type {
	case "", "none", "log", "kafka":
	default:
		return fmt.Errorf("%w: events.type %q (must be none/log/kafka)", core.ErrConfigInvalid, cfg.Events.Type)
	}
	if cfg.Events.QueueSize < 0 {
		return fmt.Errorf("%w: events.queue_size must not be negative", core.ErrConfigInvalid)
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		return fmt.Errorf("%w: metrics.listen is required when metrics.enabled=true", core.ErrConfigInvalid)
	}
	return nil
}

// ValidateLog checks level and format. Used on reload as well as on load.
func ValidateLog(lc LogConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[lc.Level] {
		return fmt.Errorf("%w: invalid log level: %s (must be debug/info/warn/error)", core.ErrConfigInvalid, lc.Level)
	}
	if lc.Format != "json" && lc.Format != "text" {
		return fmt.Errorf("%w: invalid log format: %s (must be json/text)", core.ErrConfigInvalid, lc.Format)
	}
	return nil
}
