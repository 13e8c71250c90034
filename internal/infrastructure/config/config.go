package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the KNXnet/IP
// gateway. All configuration is loaded from YAML and can be
// overridden by environment variables.
type Config struct {
	Logging   LoggingConfig   `yaml:"logging"`
	Protocols ProtocolsConfig `yaml:"protocols"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains file-based logging settings.
type FileLoggingConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// ProtocolsConfig contains protocol bridge settings.
type ProtocolsConfig struct {
	KNXIP KNXIPConfig `yaml:"knxip"`
}

// KNXIPConfig contains settings for the KNXnet/IP gateway server.
type KNXIPConfig struct {
	// Enabled turns the gateway on. When false none of the fields below
	// are consulted.
	Enabled bool `yaml:"enabled"`

	// Port is the UDP port the gateway listens on.
	// Default: 3671
	Port int `yaml:"port"`

	// Interface is the network interface name used for outgoing/inbound
	// multicast traffic. Empty means default routing.
	Interface string `yaml:"interface"`

	// MulticastAddress is the KNXnet/IP routing multicast group.
	// Default: "ff12::4242"
	MulticastAddress string `yaml:"multicast_address"`

	// Discover enables SEARCH_REQUEST/DESCRIPTION_REQUEST responses.
	Discover bool `yaml:"discover"`

	// Name is the 30-byte friendly name advertised in discovery
	// responses.
	Name string `yaml:"name"`

	// Medium is the KNX medium byte advertised in the device
	// information DIB (0x02 TP1, 0x04 PL110, 0x10 RF, 0x20 IP).
	// Default: 0x02.
	Medium int `yaml:"medium"`

	// Tunnel, if non-nil, enables the Tunnelling service family.
	Tunnel *KNXIPTunnelConfig `yaml:"tunnel,omitempty"`

	// Router, if non-nil, enables the Routing service family.
	Router *KNXIPRouterConfig `yaml:"router,omitempty"`

	// MultiPort selects a second dedicated socket for multicast
	// routing traffic, separate from the control/tunnelling socket.
	// When false (the default), routing shares the main socket, which
	// joins the multicast group directly.
	MultiPort bool `yaml:"multi_port"`
}

// KNXIPTunnelConfig is the tunnelling sub-section. Its presence enables
// tunnelling; its fields are parsed but the gateway does not read them
// (cmd/graylogic passes on only whether the section is present).
type KNXIPTunnelConfig struct {
	// MaxConnections is parsed but not applied; the number of
	// simultaneous clients is bounded only by the 255 channel ids.
	MaxConnections int `yaml:"max_connections,omitempty"`
}

// KNXIPRouterConfig is the routing sub-section. Its presence enables
// routing; its fields are parsed but the gateway does not read them
// (cmd/graylogic passes on only whether the section is present).
type KNXIPRouterConfig struct {
	// LatencyMS is parsed but not applied; no send delay is added.
	LatencyMS int `yaml:"latency_ms,omitempty"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
// For example: GRAYLOGIC_KNXIP_INTERFACE
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Protocols: ProtocolsConfig{
			KNXIP: KNXIPConfig{
				Port:             3671,
				MulticastAddress: "ff12::4242",
				Medium:           0x02,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GRAYLOGIC_KNXIP_INTERFACE"); v != "" {
		cfg.Protocols.KNXIP.Interface = v
	}
	if v := os.Getenv("GRAYLOGIC_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Protocols.KNXIP.Enabled {
		if c.Protocols.KNXIP.Port < 1 || c.Protocols.KNXIP.Port > 65535 {
			errs = append(errs, "protocols.knxip.port must be between 1 and 65535")
		}
		if !c.Protocols.KNXIP.Discover && c.Protocols.KNXIP.Tunnel == nil && c.Protocols.KNXIP.Router == nil {
			errs = append(errs, "protocols.knxip requires at least one of discover, tunnel, or router")
		}
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, "logging.level must be one of debug, info, warn, error")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
