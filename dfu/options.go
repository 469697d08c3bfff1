package dfu

import (
	"time"

	"github.com/moffa90/go-nrfdfu/firmware"
	"github.com/moffa90/go-nrfdfu/protocol"
)

// PackageLoader reads a DFU package from a path.
type PackageLoader func(path string) (*firmware.Package, error)

// Config holds the engine configuration.
type Config struct {
	// ProgressCallback is called during transfers to report progress (optional)
	ProgressCallback ProgressCallback

	// ResultCallback is called once per session when it ends (optional)
	ResultCallback ResultCallback

	// Logger is used for logging operations (optional)
	Logger Logger

	// PackageLoader reads the firmware package. Default is firmware.Load.
	PackageLoader PackageLoader

	// Timeout is the maximum time without progress before a session fails
	Timeout time.Duration

	// ConnectDelay is the wait before each connection attempt to the bootloader
	ConnectDelay time.Duration

	// MaxConnectAttempts bounds the connection attempts to the bootloader
	MaxConnectAttempts int

	// PacketSize is the number of bytes per data packet write
	PacketSize int

	// InitPacketsPerNotification is the PRN interval used for the init packet
	InitPacketsPerNotification uint16

	// FirmwarePacketsPerNotification is the PRN interval used for the firmware image
	FirmwarePacketsPerNotification uint16
}

// Defaults.
const (
	DefaultTimeout                        = 10 * time.Second
	DefaultConnectDelay                   = 2 * time.Second
	DefaultMaxConnectAttempts             = 5
	DefaultFirmwarePacketsPerNotification = 10
)

// defaultConfig returns the default configuration.
func defaultConfig() Config {
	return Config{
		PackageLoader:                  firmware.Load,
		Timeout:                        DefaultTimeout,
		ConnectDelay:                   DefaultConnectDelay,
		MaxConnectAttempts:             DefaultMaxConnectAttempts,
		PacketSize:                     protocol.DefaultPacketSize,
		InitPacketsPerNotification:     0,
		FirmwarePacketsPerNotification: DefaultFirmwarePacketsPerNotification,
	}
}

// Option is a functional option for configuring the Engine.
type Option func(*Config)

// WithProgressCallback sets a callback function to track transfer progress.
func WithProgressCallback(callback ProgressCallback) Option {
	return func(c *Config) {
		c.ProgressCallback = callback
	}
}

// WithResultCallback sets the callback that receives session results.
//
// Example:
//
//	done := make(chan dfu.Result, 1)
//	eng := dfu.New(cm, dfu.WithResultCallback(func(r dfu.Result) { done <- r }))
func WithResultCallback(callback ResultCallback) Option {
	return func(c *Config) {
		c.ResultCallback = callback
	}
}

// WithLogger sets a logger for engine operations.
func WithLogger(logger Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithPackageLoader replaces the package loader.
func WithPackageLoader(loader PackageLoader) Option {
	return func(c *Config) {
		if loader != nil {
			c.PackageLoader = loader
		}
	}
}

// WithTimeout sets the inactivity timeout.
//
// Example:
//
//	eng := dfu.New(cm, dfu.WithTimeout(30*time.Second))
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout > 0 {
			c.Timeout = timeout
		}
	}
}

// WithConnectDelay sets the delay before each bootloader connection attempt.
func WithConnectDelay(delay time.Duration) Option {
	return func(c *Config) {
		if delay >= 0 {
			c.ConnectDelay = delay
		}
	}
}

// WithMaxConnectAttempts sets how many times the bootloader is dialed.
func WithMaxConnectAttempts(attempts int) Option {
	return func(c *Config) {
		if attempts > 0 {
			c.MaxConnectAttempts = attempts
		}
	}
}

// WithPacketSize sets the data packet size. Values above 244 bytes need a
// negotiated ATT MTU.
func WithPacketSize(size int) Option {
	return func(c *Config) {
		if size > 0 && size <= 244 {
			c.PacketSize = size
		}
	}
}

// WithFirmwarePacketsPerNotification sets the PRN interval for the firmware
// image. Zero disables packet receipt notifications.
func WithFirmwarePacketsPerNotification(packets uint16) Option {
	return func(c *Config) {
		c.FirmwarePacketsPerNotification = packets
	}
}
