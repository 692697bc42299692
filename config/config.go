// Package config loads the application configuration from a TOML file.
// A default configuration is embedded and written out on first run. Load
// returns a value owned by the caller; there is no package-level state.
package config

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"

	"github.com/emflab/emfad/emf"
	"github.com/emflab/emfad/transport"
)

//go:embed emfad.toml
var defaultConfigData []byte

// Config is the parsed application configuration.
type Config struct {
	Settings    Settings        `toml:"settings"`
	Frequencies Frequencies     `toml:"frequencies"`
	Transport   TransportPrefs  `toml:"transport"`
	BLE         BLESettings     `toml:"ble"`
	Storage     StorageSettings `toml:"storage"`
}

// Settings holds global application settings.
type Settings struct {
	LogLevel string `toml:"log_level"`
}

// Frequencies selects the active carrier frequencies and the current one.
type Frequencies struct {
	Active   []int `toml:"active"`
	Selected int   `toml:"selected"`
}

// TransportPrefs selects how to reach the instrument.
type TransportPrefs struct {
	Preference string `toml:"preference"` // auto, serial, ble
	SerialPort string `toml:"serial_port"`
}

// BLESettings identify the instrument's GATT surface.
type BLESettings struct {
	DeviceName  string `toml:"device_name"`
	ServiceUUID string `toml:"service_uuid"`
	CommandUUID string `toml:"command_uuid"`
	DataUUID    string `toml:"data_uuid"`
	StatusUUID  string `toml:"status_uuid"`
}

// StorageSettings locate the survey database.
type StorageSettings struct {
	Path string `toml:"path"`
}

// DefaultPath determines the per-user config file location.
func DefaultPath() (string, error) {
	var configDir string
	var err error

	switch runtime.GOOS {
	case "windows":
		configDir, err = os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine user config directory: %w", err)
		}
		configDir = filepath.Join(configDir, "emfad")
	default:
		configDir, err = os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine user home directory: %w", err)
		}
	}

	return filepath.Join(configDir, ".emfad.toml"), nil
}

// Load reads and validates the configuration at path. When the file does
// not exist it is created from the embedded default first.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating config directory %s: %w", dir, err)
		}
		if err := os.WriteFile(path, defaultConfigData, 0644); err != nil {
			return nil, fmt.Errorf("creating default config at %s: %w", path, err)
		}
	}

	var conf Config
	if _, err := toml.DecodeFile(path, &conf); err != nil {
		return nil, fmt.Errorf("parsing config at %s: %w", path, err)
	}

	if err := conf.validate(); err != nil {
		return nil, fmt.Errorf("invalid config at %s: %w", path, err)
	}
	return &conf, nil
}

func (c *Config) validate() error {
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	if _, err := c.FrequencyConfig(); err != nil {
		return err
	}
	switch c.Transport.Preference {
	case "", "auto", "serial", "ble":
	default:
		return fmt.Errorf("transport preference %q: must be auto, serial or ble", c.Transport.Preference)
	}
	return nil
}

// LogLevel parses the configured log level.
func (c *Config) LogLevel() (slog.Level, error) {
	switch c.Settings.LogLevel {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", c.Settings.LogLevel)
}

// FrequencyConfig builds the typed frequency configuration.
func (c *Config) FrequencyConfig() (emf.FrequencyConfig, error) {
	active := c.Frequencies.Active
	if len(active) == 0 {
		return emf.DefaultFrequencyConfig(), nil
	}
	return emf.NewFrequencyConfig(active, c.Frequencies.Selected)
}

// BLEConfig builds the transport-level BLE configuration.
func (c *Config) BLEConfig() transport.BLEConfig {
	return transport.BLEConfig{
		DeviceName:  c.BLE.DeviceName,
		ServiceUUID: c.BLE.ServiceUUID,
		CommandUUID: c.BLE.CommandUUID,
		DataUUID:    c.BLE.DataUUID,
		StatusUUID:  c.BLE.StatusUUID,
	}
}
