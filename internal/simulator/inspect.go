package simulator

import "github.com/moffa90/go-nrfdfu/protocol"

// Accessory returns the accessory address.
func (s *Simulator) Accessory() string {
	return s.accessory
}

// Target returns the bootloader address.
func (s *Simulator) Target() string {
	return s.target
}

// InBootloader reports whether the accessory was rebooted into its bootloader.
func (s *Simulator) InBootloader() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bootloader
}

// Received returns the executed bytes of an object type.
func (s *Simulator) Received(objectType byte) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj := s.objects[objectType]
	if obj == nil {
		return nil
	}
	return append([]byte(nil), obj.data[:obj.executed]...)
}

// InitPacket returns the executed init packet bytes.
func (s *Simulator) InitPacket() []byte {
	return s.Received(protocol.ObjectInitPacket)
}

// Firmware returns the executed firmware bytes.
func (s *Simulator) Firmware() []byte {
	return s.Received(protocol.ObjectFirmware)
}

// Executes returns how many objects of a type were executed.
func (s *Simulator) Executes(objectType byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if obj := s.objects[objectType]; obj != nil {
		return obj.executes
	}
	return 0
}

// Transcript returns every host write and device notification in order.
func (s *Simulator) Transcript() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Record(nil), s.transcript...)
}

// Removed returns the addresses passed to RemoveDevice.
func (s *Simulator) Removed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.removed...)
}
