//go:build !linux

package bluez

import (
	"errors"

	"github.com/google/uuid"

	"github.com/moffa90/go-nrfdfu/dfu"
)

// ErrUnsupported is returned by New on platforms without BlueZ.
var ErrUnsupported = errors.New("bluez: only supported on linux")

// Manager is unavailable on this platform.
type Manager struct{}

var _ dfu.ConnectionManager = (*Manager)(nil)

// New always fails with ErrUnsupported.
func New(...Option) (*Manager, error) {
	return nil, ErrUnsupported
}

func (*Manager) Subscribe() (<-chan dfu.Event, func()) {
	ch := make(chan dfu.Event)
	close(ch)
	return ch, func() {}
}

func (*Manager) ConnectByAddress(string) error {
	return ErrUnsupported
}

func (*Manager) Disconnect(string) error {
	return ErrUnsupported
}

func (*Manager) RemoveDevice(string) error {
	return ErrUnsupported
}

func (*Manager) Write(string, uuid.UUID, []byte) error {
	return ErrUnsupported
}

func (*Manager) SetNotify(string, uuid.UUID, bool) error {
	return ErrUnsupported
}

func (*Manager) DeviceKnown(string) bool {
	return false
}

func (*Manager) Close() error {
	return nil
}
