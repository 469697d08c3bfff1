package dfu

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyInProgress is returned by Initiate while a session is active.
	ErrAlreadyInProgress = errors.New("dfu already in progress")

	// ErrTimeout ends a session that made no progress within the timeout.
	ErrTimeout = errors.New("dfu timed out")

	// ErrEngineStopped is returned by Initiate once Run has returned.
	ErrEngineStopped = errors.New("dfu engine stopped")

	// ErrEventsClosed ends a session whose event subscription was closed.
	ErrEventsClosed = errors.New("connection manager closed the event stream")
)

// AddressError indicates an accessory address that cannot be transformed.
type AddressError struct {
	Address string
	Reason  string
}

func (e *AddressError) Error() string {
	return fmt.Sprintf("invalid address %q: %s", e.Address, e.Reason)
}

// PackageLoadError indicates the firmware package could not be read.
type PackageLoadError struct {
	Path string
	Err  error
}

func (e *PackageLoadError) Error() string {
	return fmt.Sprintf("load package %s: %v", e.Path, e.Err)
}

func (e *PackageLoadError) Unwrap() error {
	return e.Err
}

// ChecksumMismatchError indicates the bootloader reported a CRC that does not
// match the bytes sent.
type ChecksumMismatchError struct {
	ObjectType     byte
	Offset         uint32
	ExpectedOffset uint32
	Expected       uint32
	Actual         uint32
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch for object type 0x%02X at offset %d (sent %d): expected 0x%08X, got 0x%08X",
		e.ObjectType, e.Offset, e.ExpectedOffset, e.Expected, e.Actual)
}

// TransportError wraps a failure reported by the connection manager.
type TransportError struct {
	Op      string
	Address string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Address, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// DisconnectedError indicates the target dropped the link and the session
// could not continue.
type DisconnectedError struct {
	Address  string
	State    State
	Attempts int
}

func (e *DisconnectedError) Error() string {
	if e.State.connecting() {
		return fmt.Sprintf("bootloader %s unreachable after %d connection attempts", e.Address, e.Attempts)
	}
	return fmt.Sprintf("bootloader %s disconnected while %s", e.Address, e.State)
}
