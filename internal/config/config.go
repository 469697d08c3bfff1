// Package config loads the nrfdfu application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Logger    LoggerConfig    `yaml:"logger"`
	DFU       DFUConfig       `yaml:"dfu"`
	Bluetooth BluetoothConfig `yaml:"bluetooth"`
	Updater   UpdaterConfig   `yaml:"updater"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
	Output string `yaml:"output"` // stderr, stdout, or a file path
}

// DFUConfig holds the engine tunables.
type DFUConfig struct {
	Timeout                        time.Duration `yaml:"timeout"`
	ConnectDelay                   time.Duration `yaml:"connect_delay"`
	MaxConnectAttempts             int           `yaml:"max_connect_attempts"`
	PacketSize                     int           `yaml:"packet_size"`
	FirmwarePacketsPerNotification int           `yaml:"firmware_packets_per_notification"`
}

// BluetoothConfig holds BlueZ settings.
type BluetoothConfig struct {
	Adapter     string  `yaml:"adapter"`      // e.g. "hci0"
	AddressType string  `yaml:"address_type"` // "random" or "public", used when dialing unknown devices
	WriteRate   float64 `yaml:"write_rate"`   // GATT writes per second, 0 = unlimited
	WriteBurst  int     `yaml:"write_burst"`
}

// UpdaterConfig describes the firmware package accessories are updated to.
type UpdaterConfig struct {
	Package string `yaml:"package"`
	Version string `yaml:"version"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		DFU: DFUConfig{
			Timeout:                        10 * time.Second,
			ConnectDelay:                   2 * time.Second,
			MaxConnectAttempts:             5,
			PacketSize:                     20,
			FirmwarePacketsPerNotification: 10,
		},
		Bluetooth: BluetoothConfig{
			Adapter:     "hci0",
			AddressType: "random",
			WriteBurst:  1,
		},
	}
}

// Load reads a YAML config file and applies env var overrides. A missing
// file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps NRFDFU_* env vars to config fields. Values that do
// not parse are left for Validate to report against the file value.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("NRFDFU_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("NRFDFU_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("NRFDFU_LOGGER_OUTPUT"); v != "" {
		cfg.Logger.Output = v
	}
	if v := os.Getenv("NRFDFU_DFU_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.DFU.Timeout = d
		}
	}
	if v := os.Getenv("NRFDFU_DFU_CONNECT_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.DFU.ConnectDelay = d
		}
	}
	if v := os.Getenv("NRFDFU_DFU_MAX_CONNECT_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DFU.MaxConnectAttempts = n
		}
	}
	if v := os.Getenv("NRFDFU_BLUETOOTH_ADAPTER"); v != "" {
		cfg.Bluetooth.Adapter = v
	}
	if v := os.Getenv("NRFDFU_BLUETOOTH_WRITE_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Bluetooth.WriteRate = f
		}
	}
	if v := os.Getenv("NRFDFU_UPDATER_PACKAGE"); v != "" {
		cfg.Updater.Package = v
	}
	if v := os.Getenv("NRFDFU_UPDATER_VERSION"); v != "" {
		cfg.Updater.Version = v
	}
}
