package config

import (
	"fmt"
	"strings"
)

// maxPacketSize is the largest GATT write payload at the maximum ATT MTU.
const maxPacketSize = 244

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// listing every problem found.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateLogger(cfg, ve)
	validateDFU(cfg, ve)
	validateBluetooth(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateLogger(cfg *Config, ve *ValidationError) {
	switch strings.ToLower(cfg.Logger.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		ve.Add("logger.level %q must be one of debug, info, warn, error", cfg.Logger.Level)
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "text", "json":
	default:
		ve.Add("logger.format %q must be text or json", cfg.Logger.Format)
	}
}

func validateDFU(cfg *Config, ve *ValidationError) {
	d := cfg.DFU
	if d.Timeout <= 0 {
		ve.Add("dfu.timeout must be > 0")
	}
	if d.ConnectDelay < 0 {
		ve.Add("dfu.connect_delay must be >= 0")
	}
	if d.MaxConnectAttempts <= 0 {
		ve.Add("dfu.max_connect_attempts must be > 0")
	}
	if d.PacketSize <= 0 || d.PacketSize > maxPacketSize {
		ve.Add("dfu.packet_size must be between 1 and %d", maxPacketSize)
	}
	if d.FirmwarePacketsPerNotification < 0 || d.FirmwarePacketsPerNotification > 0xFFFF {
		ve.Add("dfu.firmware_packets_per_notification must be between 0 and 65535")
	}
}

func validateBluetooth(cfg *Config, ve *ValidationError) {
	b := cfg.Bluetooth
	if b.Adapter == "" {
		ve.Add("bluetooth.adapter is required")
	}
	switch b.AddressType {
	case "random", "public":
	default:
		ve.Add("bluetooth.address_type %q must be random or public", b.AddressType)
	}
	if b.WriteRate < 0 {
		ve.Add("bluetooth.write_rate must be >= 0")
	}
	if b.WriteRate > 0 && b.WriteBurst <= 0 {
		ve.Add("bluetooth.write_burst must be > 0 when write_rate is set")
	}
}
