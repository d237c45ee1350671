// Package config loads the TOML configuration, creating it from the
// embedded default on first run.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"
)

//go:embed fluxrip.toml
var defaultConfigData []byte

// Config is the entire TOML configuration structure.
type Config struct {
	Default  string   `toml:"default"`
	TickHz   uint32   `toml:"tick_hz"`
	PLL      PLL      `toml:"pll"`
	Classify Classify `toml:"classify"`
	Recover  Recover  `toml:"recover"`
	Detect   Detect   `toml:"detect"`
	Media    []Media  `toml:"media"`

	// Selected is the media profile named by Default.
	Selected *Media `toml:"-"`
}

// PLL holds the clock-recovery loop gains, in percent.
type PLL struct {
	PeriodAdjPct int `toml:"period_adj_pct"`
	PhaseAdjPct  int `toml:"phase_adj_pct"`
	MaxAdjPct    int `toml:"max_adj_pct"`
}

// Classify holds encoding classification parameters.
type Classify struct {
	Confirmations   int `toml:"confirmations"`
	ResyncThreshold int `toml:"resync_threshold"`
}

// Recover holds multi-pass recovery parameters.
type Recover struct {
	Passes int `toml:"passes"`
}

// Detect holds auto-detection policy.
type Detect struct {
	AmbiguousFormFactor string `toml:"ambiguous_form_factor"`
}

// Media is one named media profile.
type Media struct {
	Name       string `toml:"name"`
	BitRateKHz int    `toml:"bit_rate_khz"`
	RPM        int    `toml:"rpm"`
	Cyls       int    `toml:"cyls"`
	Heads      int    `toml:"heads"`
	ECCBytes   int    `toml:"ecc_bytes"`
}

// configPath determines the config file path based on the operating system.
func configPath() (string, error) {
	var configDir string
	var err error

	switch runtime.GOOS {
	case "windows":
		configDir, err = os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine user config directory: %w", err)
		}
		configDir = filepath.Join(configDir, "fluxrip")
	default:
		configDir, err = os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine user home directory: %w", err)
		}
	}

	return filepath.Join(configDir, ".fluxrip"), nil
}

// Initialize loads and validates the configuration file. If the config
// file doesn't exist, it is created from the embedded default.
func Initialize() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	return Load(path)
}

// Load reads and validates a config file at an explicit path, creating it
// from the embedded default when missing.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create config directory %s: %w", dir, err)
		}
		if err := os.WriteFile(path, defaultConfigData, 0644); err != nil {
			return nil, fmt.Errorf("failed to create default config file at %s: %w", path, err)
		}
	}

	var conf Config
	if _, err := toml.DecodeFile(path, &conf); err != nil {
		return nil, fmt.Errorf("failed to parse TOML config at %s: %w", path, err)
	}
	if err := conf.validate(); err != nil {
		return nil, err
	}
	return &conf, nil
}

func (c *Config) validate() error {
	if c.Default == "" {
		return errors.New("`default` key is missing or empty in config")
	}
	if c.TickHz == 0 {
		return errors.New("`tick_hz` is missing or zero in config")
	}

	var found *Media
	for i := range c.Media {
		if c.Media[i].Name == c.Default {
			found = &c.Media[i]
			break
		}
	}
	if found == nil {
		return fmt.Errorf("default media %q not found in media array", c.Default)
	}

	if found.BitRateKHz <= 0 {
		return fmt.Errorf("media %q has invalid bit_rate_khz: %d (must be positive)", found.Name, found.BitRateKHz)
	}
	if found.RPM <= 0 {
		return fmt.Errorf("media %q has invalid rpm: %d (must be positive)", found.Name, found.RPM)
	}
	if found.Cyls <= 0 {
		return fmt.Errorf("media %q has invalid cyls: %d (must be positive)", found.Name, found.Cyls)
	}
	if found.Heads <= 0 {
		return fmt.Errorf("media %q has invalid heads: %d (must be positive)", found.Name, found.Heads)
	}
	switch found.ECCBytes {
	case 0, 4, 6, 10:
	default:
		return fmt.Errorf("media %q has invalid ecc_bytes: %d (must be 0, 4, 6 or 10)", found.Name, found.ECCBytes)
	}

	switch c.Detect.AmbiguousFormFactor {
	case "", "3.5", "5.25":
	default:
		return fmt.Errorf("invalid ambiguous_form_factor %q (must be \"3.5\" or \"5.25\")", c.Detect.AmbiguousFormFactor)
	}

	c.Selected = found
	return nil
}

// MediaByName looks up a media profile.
func (c *Config) MediaByName(name string) (*Media, error) {
	for i := range c.Media {
		if c.Media[i].Name == name {
			return &c.Media[i], nil
		}
	}
	return nil, fmt.Errorf("media %q not found in configuration", name)
}
