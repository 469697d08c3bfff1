package dfu

// State is the lifecycle state of a DFU session.
type State int32

const (
	// StateNone means no session is active
	StateNone State = iota

	// StateRestarting means the accessory was asked to reboot into its bootloader
	StateRestarting

	// StateScanning means the bootloader address is not yet known to the
	// connection manager and is being connected by address
	StateScanning

	// StateSendingInitPacket means the init packet object is being transferred
	StateSendingInitPacket

	// StateSendingFirmware means the firmware image is being transferred
	StateSendingFirmware

	// StateComplete means the firmware object was executed
	StateComplete
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateRestarting:
		return "restarting"
	case StateScanning:
		return "scanning"
	case StateSendingInitPacket:
		return "sending-init-packet"
	case StateSendingFirmware:
		return "sending-firmware"
	case StateComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// connecting reports whether the session is waiting for the bootloader
// to come up.
func (s State) connecting() bool {
	return s == StateRestarting || s == StateScanning
}

// transferring reports whether an object transfer is in progress.
func (s State) transferring() bool {
	return s == StateSendingInitPacket || s == StateSendingFirmware
}
