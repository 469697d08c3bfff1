// Package simulator emulates an accessory running a Nordic buttonless DFU
// service and the Secure DFU bootloader it reboots into. It implements
// dfu.ConnectionManager so the engine can be exercised without a radio.
package simulator

import (
	"errors"
	"fmt"
	"hash/crc32"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/moffa90/go-nrfdfu/dfu"
	"github.com/moffa90/go-nrfdfu/internal/eventbus"
	"github.com/moffa90/go-nrfdfu/protocol"
)

// Default object size limits, matching the nRF5 SDK bootloader.
const (
	DefaultInitMaxSize     = 512
	DefaultFirmwareMaxSize = 4096
)

var (
	errNotConnected = errors.New("device not connected")
	errUnreachable  = errors.New("device not advertising")
)

// RecordKind tells whether a transcript entry was sent by the host or by
// the device.
type RecordKind int

const (
	// RecordWrite is a characteristic write from the host
	RecordWrite RecordKind = iota + 1

	// RecordNotify is a control point notification from the device
	RecordNotify
)

// Record is one transcript entry.
type Record struct {
	Kind           RecordKind
	Address        string
	Characteristic uuid.UUID
	Data           []byte
}

type fault struct {
	result byte
	ext    byte
}

type object struct {
	data     []byte
	executed int
	pageEnd  int
	maxSize  uint32
	executes int
}

// Simulator is a fake Bluetooth stack with one accessory.
type Simulator struct {
	mu  sync.Mutex
	bus *eventbus.Bus[dfu.Event]

	accessory string
	target    string

	bootloader  bool
	targetKnown bool
	connected   map[string]bool
	known       map[string]bool

	selected       byte
	prn            uint16
	sinceNotify    uint16
	firmwarePkts   int
	objects        map[byte]*object
	transcript     []Record
	removed        []string
	connectFails   int
	disconnectAt   int
	corruptCRC     bool
	silent         bool
	malformed      map[byte]bool
	faults         map[byte]fault
	receiptDelay   time.Duration
	bootloaderGone bool
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithMaxObjectSize sets the maximum object size reported by Select.
func WithMaxObjectSize(objectType byte, size uint32) Option {
	return func(s *Simulator) {
		s.objects[objectType].maxSize = size
	}
}

// WithTargetKnown controls whether the bootloader address is already known
// to the stack when the accessory reboots. Default is true.
func WithTargetKnown(known bool) Option {
	return func(s *Simulator) {
		s.targetKnown = known
	}
}

// WithConnectFailures makes the first n bootloader connection attempts fail.
func WithConnectFailures(n int) Option {
	return func(s *Simulator) {
		s.connectFails = n
	}
}

// WithUnreachableBootloader makes every bootloader connection attempt fail.
func WithUnreachableBootloader() Option {
	return func(s *Simulator) {
		s.bootloaderGone = true
	}
}

// WithDisconnectAfterPackets drops the bootloader link after n firmware
// data packets.
func WithDisconnectAfterPackets(n int) Option {
	return func(s *Simulator) {
		s.disconnectAt = n
	}
}

// WithCorruptChecksum reports a wrong CRC in every checksum response.
func WithCorruptChecksum() Option {
	return func(s *Simulator) {
		s.corruptCRC = true
	}
}

// WithSilentControlPoint never answers control point writes.
func WithSilentControlPoint() Option {
	return func(s *Simulator) {
		s.silent = true
	}
}

// WithMalformedResponse answers opcode with a truncated frame.
func WithMalformedResponse(opcode byte) Option {
	return func(s *Simulator) {
		s.malformed[opcode] = true
	}
}

// WithResult answers opcode with the given result and extended error code.
func WithResult(opcode, result, ext byte) Option {
	return func(s *Simulator) {
		s.faults[opcode] = fault{result: result, ext: ext}
	}
}

// WithReceiptDelay delays packet receipt notifications.
func WithReceiptDelay(d time.Duration) Option {
	return func(s *Simulator) {
		s.receiptDelay = d
	}
}

// New creates a simulator for the accessory at address. The accessory starts
// connected and running its application.
func New(address string, opts ...Option) (*Simulator, error) {
	target, err := dfu.TargetAddress(address)
	if err != nil {
		return nil, err
	}

	s := &Simulator{
		bus:         eventbus.New[dfu.Event](),
		accessory:   address,
		target:      target,
		targetKnown: true,
		connected:   map[string]bool{address: true},
		known:       map[string]bool{address: true},
		objects: map[byte]*object{
			protocol.ObjectInitPacket: {maxSize: DefaultInitMaxSize},
			protocol.ObjectFirmware:   {maxSize: DefaultFirmwareMaxSize},
		},
		malformed: make(map[byte]bool),
		faults:    make(map[byte]fault),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close ends every subscription.
func (s *Simulator) Close() {
	s.bus.Close()
}

// Subscribe implements dfu.ConnectionManager.
func (s *Simulator) Subscribe() (<-chan dfu.Event, func()) {
	return s.bus.Subscribe()
}

// DeviceKnown implements dfu.ConnectionManager.
func (s *Simulator) DeviceKnown(address string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.known[address]
}

// ConnectByAddress implements dfu.ConnectionManager.
func (s *Simulator) ConnectByAddress(address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if address != s.target || !s.bootloader || s.bootloaderGone {
		s.publish(dfu.Event{Kind: dfu.ConnectFailed, Address: address, Err: errUnreachable})
		return nil
	}
	if s.connectFails > 0 {
		s.connectFails--
		s.publish(dfu.Event{Kind: dfu.ConnectFailed, Address: address, Err: errUnreachable})
		return nil
	}

	s.known[address] = true
	s.connected[address] = true
	s.publish(dfu.Event{Kind: dfu.DeviceConnected, Address: address})
	return nil
}

// Disconnect implements dfu.ConnectionManager.
func (s *Simulator) Disconnect(address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected[address] {
		return errNotConnected
	}
	s.connected[address] = false
	s.publish(dfu.Event{Kind: dfu.DeviceDisconnected, Address: address})
	return nil
}

// RemoveDevice implements dfu.ConnectionManager.
func (s *Simulator) RemoveDevice(address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removed = append(s.removed, address)
	delete(s.known, address)
	if s.connected[address] {
		s.connected[address] = false
		s.publish(dfu.Event{Kind: dfu.DeviceDisconnected, Address: address})
	}
	return nil
}

// SetNotify implements dfu.ConnectionManager.
func (s *Simulator) SetNotify(address string, characteristic uuid.UUID, enable bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected[address] {
		return errNotConnected
	}
	if enable {
		s.publish(dfu.Event{Kind: dfu.NotifyEnabled, Address: address, Characteristic: characteristic})
	}
	return nil
}

// Write implements dfu.ConnectionManager.
func (s *Simulator) Write(address string, characteristic uuid.UUID, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected[address] {
		return errNotConnected
	}

	payload := append([]byte(nil), data...)
	s.transcript = append(s.transcript, Record{
		Kind:           RecordWrite,
		Address:        address,
		Characteristic: characteristic,
		Data:           payload,
	})

	switch {
	case address == s.accessory && characteristic == dfu.ButtonlessCharacteristic:
		s.writeButtonless(payload)
	case address == s.target && characteristic == dfu.ControlPointCharacteristic:
		s.writeControlPoint(payload)
	case address == s.target && characteristic == dfu.PacketCharacteristic:
		s.writePacket(payload)
	default:
		s.publish(dfu.Event{
			Kind:           dfu.WriteFailed,
			Address:        address,
			Characteristic: characteristic,
			Err:            fmt.Errorf("characteristic %s not found", characteristic),
		})
	}
	return nil
}

func (s *Simulator) writeButtonless(data []byte) {
	s.publish(dfu.Event{Kind: dfu.WriteCompleted, Address: s.accessory, Characteristic: dfu.ButtonlessCharacteristic})
	if len(data) != 1 || data[0] != protocol.ButtonlessEnterBootloader {
		return
	}

	s.bootloader = true
	s.connected[s.accessory] = false
	s.known[s.target] = s.targetKnown
	s.publish(dfu.Event{Kind: dfu.DeviceDisconnected, Address: s.accessory})
}

func (s *Simulator) writePacket(data []byte) {
	obj := s.objects[s.selectedType()]

	if s.selectedType() == protocol.ObjectFirmware {
		s.firmwarePkts++
		if s.disconnectAt > 0 && s.firmwarePkts == s.disconnectAt {
			// Link lost before the packet was acknowledged.
			s.connected[s.target] = false
			s.publish(dfu.Event{Kind: dfu.DeviceDisconnected, Address: s.target})
			return
		}
	}

	obj.data = append(obj.data, data...)
	s.publish(dfu.Event{Kind: dfu.WriteCompleted, Address: s.target, Characteristic: dfu.PacketCharacteristic})

	s.sinceNotify++
	if s.prn != 0 && s.sinceNotify == s.prn {
		s.sinceNotify = 0
		frame := protocol.BuildResponse(protocol.OpCalculateChecksum, protocol.ResultSuccess, s.checksumPayload(obj)...)
		s.notifyAfter(s.receiptDelay, frame)
	}
}

func (s *Simulator) writeControlPoint(cmd []byte) {
	if s.silent || len(cmd) == 0 {
		return
	}
	s.publish(dfu.Event{Kind: dfu.WriteCompleted, Address: s.target, Characteristic: dfu.ControlPointCharacteristic})

	op := cmd[0]
	if s.malformed[op] {
		s.notify([]byte{protocol.OpResponse, op})
		return
	}
	if f, ok := s.faults[op]; ok {
		if f.result == protocol.ResultExtendedError {
			s.notify(protocol.BuildResponse(op, f.result, f.ext))
		} else {
			s.notify(protocol.BuildResponse(op, f.result))
		}
		return
	}

	switch op {
	case protocol.OpSetPRN:
		if len(cmd) != 3 {
			s.notify(protocol.BuildResponse(op, protocol.ResultInvalidParameter))
			return
		}
		s.prn = uint16(cmd[1]) | uint16(cmd[2])<<8
		s.sinceNotify = 0
		s.notify(protocol.BuildResponse(op, protocol.ResultSuccess))

	case protocol.OpSelectObject:
		if len(cmd) != 2 || s.objects[cmd[1]] == nil {
			s.notify(protocol.BuildResponse(op, protocol.ResultUnsupportedType))
			return
		}
		s.selected = cmd[1]
		obj := s.objects[cmd[1]]
		s.notify(protocol.BuildResponse(op, protocol.ResultSuccess,
			protocol.BuildSelectPayload(obj.maxSize, uint32(len(obj.data)), crc32.ChecksumIEEE(obj.data))...))

	case protocol.OpCreate:
		if len(cmd) != 6 || s.objects[cmd[1]] == nil {
			s.notify(protocol.BuildResponse(op, protocol.ResultUnsupportedType))
			return
		}
		obj := s.objects[cmd[1]]
		size := uint32(cmd[2]) | uint32(cmd[3])<<8 | uint32(cmd[4])<<16 | uint32(cmd[5])<<24
		if size == 0 || size > obj.maxSize {
			s.notify(protocol.BuildResponse(op, protocol.ResultInsufficientResources))
			return
		}
		s.selected = cmd[1]
		obj.data = obj.data[:obj.executed]
		obj.pageEnd = obj.executed + int(size)
		s.sinceNotify = 0
		s.notify(protocol.BuildResponse(op, protocol.ResultSuccess))

	case protocol.OpCalculateChecksum:
		obj := s.objects[s.selectedType()]
		s.notify(protocol.BuildResponse(op, protocol.ResultSuccess, s.checksumPayload(obj)...))

	case protocol.OpExecute:
		obj := s.objects[s.selectedType()]
		if len(obj.data) != obj.pageEnd {
			s.notify(protocol.BuildResponse(op, protocol.ResultOperationNotPermitted))
			return
		}
		obj.executed = len(obj.data)
		obj.executes++
		s.notify(protocol.BuildResponse(op, protocol.ResultSuccess))

	default:
		s.notify(protocol.BuildResponse(op, protocol.ResultOpNotSupported))
	}
}

func (s *Simulator) selectedType() byte {
	if s.selected == 0 {
		return protocol.ObjectInitPacket
	}
	return s.selected
}

func (s *Simulator) checksumPayload(obj *object) []byte {
	crc := crc32.ChecksumIEEE(obj.data)
	if s.corruptCRC {
		crc++
	}
	return protocol.BuildChecksumPayload(uint32(len(obj.data)), crc)
}

// notify publishes a control point notification. Caller holds s.mu.
func (s *Simulator) notify(frame []byte) {
	s.transcript = append(s.transcript, Record{
		Kind:           RecordNotify,
		Address:        s.target,
		Characteristic: dfu.ControlPointCharacteristic,
		Data:           frame,
	})
	s.publish(dfu.Event{
		Kind:           dfu.ValueChanged,
		Address:        s.target,
		Characteristic: dfu.ControlPointCharacteristic,
		Value:          frame,
	})
}

func (s *Simulator) notifyAfter(d time.Duration, frame []byte) {
	if d <= 0 {
		s.notify(frame)
		return
	}
	time.AfterFunc(d, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.connected[s.target] {
			s.notify(frame)
		}
	})
}

func (s *Simulator) publish(ev dfu.Event) {
	s.bus.Publish(ev)
}
