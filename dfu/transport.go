package dfu

import (
	"fmt"

	"github.com/google/uuid"
)

// Nordic Secure DFU characteristics.
var (
	// ButtonlessCharacteristic reboots a running application into its bootloader
	ButtonlessCharacteristic = uuid.MustParse("8ec90003-f315-4f60-9fb8-838830daea50")

	// ControlPointCharacteristic carries commands and their notifications
	ControlPointCharacteristic = uuid.MustParse("8ec90001-f315-4f60-9fb8-838830daea50")

	// PacketCharacteristic carries object data
	PacketCharacteristic = uuid.MustParse("8ec90002-f315-4f60-9fb8-838830daea50")
)

// EventKind identifies a connection manager event.
type EventKind int

const (
	// DeviceConnected is sent once a device is connected and its GATT
	// services are resolved
	DeviceConnected EventKind = iota + 1

	// DeviceDisconnected is sent when a device link drops
	DeviceDisconnected

	// ConnectFailed is sent when a ConnectByAddress attempt fails
	ConnectFailed

	// ValueChanged carries a characteristic notification
	ValueChanged

	// NotifyEnabled confirms a SetNotify(true) request
	NotifyEnabled

	// NotifyFailed reports a failed SetNotify request
	NotifyFailed

	// WriteCompleted confirms a characteristic write
	WriteCompleted

	// WriteFailed reports a failed characteristic write
	WriteFailed
)

func (k EventKind) String() string {
	switch k {
	case DeviceConnected:
		return "device-connected"
	case DeviceDisconnected:
		return "device-disconnected"
	case ConnectFailed:
		return "connect-failed"
	case ValueChanged:
		return "value-changed"
	case NotifyEnabled:
		return "notify-enabled"
	case NotifyFailed:
		return "notify-failed"
	case WriteCompleted:
		return "write-completed"
	case WriteFailed:
		return "write-failed"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is an asynchronous notification from a ConnectionManager.
type Event struct {
	Kind EventKind

	// Address is the device the event concerns
	Address string

	// Characteristic is set for value, notify and write events
	Characteristic uuid.UUID

	// Value holds the notification payload for ValueChanged
	Value []byte

	// Err is set for failure events
	Err error
}

// ConnectionManager is the Bluetooth stack used by the engine.
//
// Every method must return without waiting for the radio: results are
// delivered later as Events on the channels returned by Subscribe, in the
// order they happened. The connection manager is shared with the rest of the
// host, so subscribers see events for every device.
type ConnectionManager interface {
	// Subscribe returns a channel of events and a function that
	// unsubscribes and stops delivery.
	Subscribe() (<-chan Event, func())

	// ConnectByAddress connects to a device, discovering it if needed.
	ConnectByAddress(address string) error

	// Disconnect drops the link to a device. The engine never calls it;
	// the bootloader and the accessory drop their own links.
	Disconnect(address string) error

	// RemoveDevice forgets a device.
	RemoveDevice(address string) error

	// Write writes data to a characteristic.
	Write(address string, characteristic uuid.UUID, data []byte) error

	// SetNotify enables or disables notifications on a characteristic.
	SetNotify(address string, characteristic uuid.UUID, enable bool) error

	// DeviceKnown reports whether the manager already has a record of
	// the device.
	DeviceKnown(address string) bool
}
