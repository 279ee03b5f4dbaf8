// Package common holds the configuration and setup shared by the wirefly
// command-line entry points.
package common

import (
	"os"
	"path/filepath"
	"time"

	"github.com/imdario/mergo"
	yaml "gopkg.in/yaml.v3"

	"github.com/auriora/wirefly/internal/options"
	"github.com/auriora/wirefly/internal/transfers"
	"github.com/auriora/wirefly/pkg/errors"
	"github.com/auriora/wirefly/pkg/logging"
)

// GroupConfig is one upload group in the configuration file.
type GroupConfig struct {
	Name          string   `yaml:"name"`
	Slots         int      `yaml:"slots"`
	Priority      int      `yaml:"priority"`
	Strategy      string   `yaml:"strategy"`
	SpeedLimitKiB int      `yaml:"speedLimit"`
	Members       []string `yaml:"members"`
}

// ServerConfig is the upstream server connection block.
type ServerConfig struct {
	Address  string `yaml:"address"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// VPNConfig is the VPN integration block.
type VPNConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Required       bool   `yaml:"required"`
	HelperURL      string `yaml:"helperUrl"`
	PollIntervalMs int    `yaml:"pollIntervalMs"`
	PortForwarding bool   `yaml:"portForwarding"`
}

// UploadsConfig is the upload policy block.
type UploadsConfig struct {
	MaxSlots      int           `yaml:"maxSlots"`
	SpeedLimitKiB int           `yaml:"speedLimit"`
	Groups        []GroupConfig `yaml:"groups"`
}

// APIConfig is the HTTP API block.
type APIConfig struct {
	Addr string `yaml:"addr"`
	Key  string `yaml:"key"`
}

// Config is the daemon configuration.
type Config struct {
	DataDir    string        `yaml:"dataDir"`
	LogLevel   string        `yaml:"log"`
	ListenPort int           `yaml:"listenPort"`
	Server     ServerConfig  `yaml:"server"`
	API        APIConfig     `yaml:"api"`
	Uploads    UploadsConfig `yaml:"uploads"`
	VPN        VPNConfig     `yaml:"vpn"`
	Shares     []string      `yaml:"shares"`
}

// DefaultConfigPath returns the default config location for wirefly
func DefaultConfigPath() string {
	confDir, err := os.UserConfigDir()
	if err != nil {
		logging.Error().Err(err).Msg("Could not determine configuration directory.")
	}
	return filepath.Join(confDir, "wirefly/config.yml")
}

// createDefaultConfig returns a Config struct with default values
func createDefaultConfig() Config {
	dataDir, _ := os.UserCacheDir()
	return Config{
		DataDir:    filepath.Join(dataDir, "wirefly"),
		LogLevel:   "info",
		ListenPort: 50300,
		Server: ServerConfig{
			Address: "server.slsknet.org",
			Port:    2271,
		},
		API: APIConfig{
			Addr: "127.0.0.1:5030",
		},
		Uploads: UploadsConfig{
			MaxSlots:      10,
			SpeedLimitKiB: 0,
		},
		VPN: VPNConfig{
			PollIntervalMs: 2500,
		},
	}
}

// parseConfig parses the YAML configuration data into a Config struct
func parseConfig(data []byte) (*Config, error) {
	config := &Config{}
	err := yaml.Unmarshal(data, config)
	return config, err
}

// mergeWithDefaults merges the parsed configuration with the defaults
func mergeWithDefaults(config *Config, defaults Config) error {
	return mergo.Merge(config, defaults)
}

// validateConfig validates the configuration values. Soft fields fall back
// to defaults with a warning; unparseable enum values are invariant
// violations and error out.
func validateConfig(config *Config) error {
	if _, err := logging.ParseLevel(config.LogLevel); err != nil {
		logging.Warn().
			Str("logLevel", config.LogLevel).
			Msg("Invalid log level, using default.")
		config.LogLevel = "info"
	}

	if config.Uploads.MaxSlots <= 0 {
		logging.Warn().
			Int("maxSlots", config.Uploads.MaxSlots).
			Msg("Max upload slots must be positive, using default.")
		config.Uploads.MaxSlots = 10
	}

	seen := map[string]bool{}
	for i, group := range config.Uploads.Groups {
		if group.Name == "" {
			return errors.NewValidationError("upload group without a name", nil)
		}
		if seen[group.Name] {
			return errors.NewValidationError("duplicate upload group "+group.Name, nil)
		}
		seen[group.Name] = true
		if _, err := transfers.ParseStrategy(group.Strategy); err != nil {
			return errors.Wrapf(err, "upload group %s", group.Name)
		}
		if group.Slots <= 0 {
			logging.Warn().
				Str("group", group.Name).
				Msg("Group slot count must be positive, using 1.")
			config.Uploads.Groups[i].Slots = 1
		}
	}

	if config.VPN.Enabled && config.VPN.HelperURL == "" {
		return errors.NewValidationError("vpn.helperUrl is required when VPN integration is enabled", nil)
	}
	if config.Server.Username == "" {
		logging.Warn().Msg("No server username configured; connection will not be attempted.")
	}
	return nil
}

// LoadConfig is the primary way of loading wirefly's config
func LoadConfig(path string) *Config {
	defaults := createDefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		logging.Warn().Err(err).Str("path", path).
			Msg("Could not read config file, using defaults.")
		config := defaults
		return &config
	}

	config, err := parseConfig(data)
	if err != nil {
		logging.Error().Err(err).Str("path", path).
			Msg("Could not parse config file, using defaults.")
		config := defaults
		return &config
	}

	if err := mergeWithDefaults(config, defaults); err != nil {
		logging.Error().Err(err).Msg("Could not merge configuration with defaults.")
	}
	if err := validateConfig(config); err != nil {
		logging.Fatal().Err(err).Msg("Invalid configuration.")
	}
	return config
}

// WriteConfig saves the config to the given path.
func (c Config) WriteConfig(path string) error {
	out, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return os.WriteFile(path, out, 0600)
}

// ToOptions converts the configuration into the immutable runtime snapshot
// published on the options stream.
func (c Config) ToOptions() options.Options {
	groups := make([]options.Group, 0, len(c.Uploads.Groups))
	for _, g := range c.Uploads.Groups {
		groups = append(groups, options.Group{
			Name:          g.Name,
			Slots:         g.Slots,
			Priority:      g.Priority,
			Strategy:      g.Strategy,
			SpeedLimitKiB: g.SpeedLimitKiB,
			Members:       g.Members,
		})
	}
	return options.Options{
		Server: options.Server{
			Address:  c.Server.Address,
			Port:     c.Server.Port,
			Username: c.Server.Username,
			Password: c.Server.Password,
		},
		ListenPort: c.ListenPort,
		VPN: options.VPN{
			Enabled:        c.VPN.Enabled,
			Required:       c.VPN.Required,
			HelperURL:      c.VPN.HelperURL,
			PollInterval:   time.Duration(c.VPN.PollIntervalMs) * time.Millisecond,
			PortForwarding: c.VPN.PortForwarding,
		},
		Uploads: options.Uploads{
			MaxSlots:      c.Uploads.MaxSlots,
			SpeedLimitKiB: c.Uploads.SpeedLimitKiB,
			Groups:        groups,
		},
		Shares: c.Shares,
	}
}
