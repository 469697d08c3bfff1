package dfu

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/moffa90/go-nrfdfu/protocol"
)

type effectKind int

const (
	effectWrite effectKind = iota
	effectSetNotify
	effectConnect
	effectStartConnectTimer
	effectRestartTimeout
	effectProgress
	effectFinish
)

// effect is an action the engine performs on behalf of a session.
type effect struct {
	kind           effectKind
	address        string
	characteristic uuid.UUID
	data           []byte
	err            error
}

// objectTransfer holds the state of one object type transfer. It only
// exists while the session is sending that type.
type objectTransfer struct {
	objectType             byte
	payload                []byte
	progress               TransferProgress
	crc                    protocol.CRC
	packetsPerNotification uint16
	packetsSinceNotify     uint16
	inFlight               []byte
}

// session is the DFU state machine. handle and connectTimerFired take an
// event and return the effects to apply; they never touch the radio.
type session struct {
	id        string
	accessory string
	target    string

	initPacket []byte
	firmware   []byte

	packetSize  int
	initPRN     uint16
	firmwarePRN uint16
	maxAttempts int
	deviceKnown func(address string) bool
	logger      Logger

	state           State
	obj             *objectTransfer
	connectAttempts int
	targetConnected bool
	done            bool

	effects []effect
}

// start enables notifications on the buttonless characteristic.
func (s *session) start() []effect {
	s.state = StateRestarting
	s.logInfo("starting dfu", "accessory", s.accessory, "target", s.target,
		"init_bytes", len(s.initPacket), "firmware_bytes", len(s.firmware))
	s.setNotify(s.accessory, ButtonlessCharacteristic)
	s.restartTimeout()
	return s.flush()
}

// connectTimerFired dials the bootloader.
func (s *session) connectTimerFired() []effect {
	if s.done || !s.state.connecting() {
		return nil
	}
	s.connectAttempts++
	s.logDebug("connecting to bootloader", "target", s.target, "attempt", s.connectAttempts)
	s.emit(effect{kind: effectConnect, address: s.target})
	return s.flush()
}

func (s *session) handle(ev Event) []effect {
	if s.done {
		return nil
	}

	isAccessory := SameAddress(ev.Address, s.accessory)
	isTarget := SameAddress(ev.Address, s.target)
	if !isAccessory && !isTarget {
		return nil
	}

	switch ev.Kind {
	case NotifyEnabled:
		s.onNotifyEnabled(ev, isAccessory, isTarget)
	case NotifyFailed:
		s.finish(&TransportError{Op: "enable notifications", Address: ev.Address, Err: ev.Err})
	case WriteFailed:
		s.finish(&TransportError{Op: "write", Address: ev.Address, Err: ev.Err})
	case DeviceConnected:
		if isTarget && s.state.connecting() {
			s.targetConnected = true
			s.restartTimeout()
			s.state = StateSendingInitPacket
			s.logInfo("bootloader connected", "target", s.target, "attempts", s.connectAttempts)
			s.setNotify(s.target, ControlPointCharacteristic)
		}
	case DeviceDisconnected:
		s.onDisconnected(isAccessory, isTarget)
	case ConnectFailed:
		if isTarget {
			s.logDebug("bootloader connection failed", "target", s.target, "error", ev.Err)
			s.retryConnect()
		}
	case WriteCompleted:
		if isTarget && ev.Characteristic == PacketCharacteristic {
			s.onPacketWritten()
			break
		}
		s.restartTimeout()
	case ValueChanged:
		if isTarget && ev.Characteristic == ControlPointCharacteristic {
			s.restartTimeout()
			s.onResponse(ev.Value)
		}
	}

	return s.flush()
}

func (s *session) onNotifyEnabled(ev Event, isAccessory, isTarget bool) {
	switch {
	case isAccessory && ev.Characteristic == ButtonlessCharacteristic && s.state == StateRestarting:
		s.restartTimeout()
		s.logDebug("requesting bootloader restart", "accessory", s.accessory)
		s.write(s.accessory, ButtonlessCharacteristic, protocol.BuildRestartCmd())
	case isTarget && ev.Characteristic == ControlPointCharacteristic && s.state == StateSendingInitPacket:
		s.restartTimeout()
		s.beginObject(protocol.ObjectInitPacket, s.initPacket, s.initPRN)
	}
}

func (s *session) onDisconnected(isAccessory, isTarget bool) {
	switch {
	case isAccessory && s.state == StateRestarting:
		s.restartTimeout()
		if !s.deviceKnown(s.target) {
			s.state = StateScanning
		}
		s.logDebug("accessory rebooting", "accessory", s.accessory, "state", s.state)
		s.emit(effect{kind: effectStartConnectTimer})
	case isTarget && s.state != StateComplete:
		if s.state.connecting() {
			s.retryConnect()
			return
		}
		s.finish(&DisconnectedError{Address: s.target, State: s.state, Attempts: s.connectAttempts})
	}
}

// retryConnect schedules another connection attempt while the bootloader is
// still coming up.
func (s *session) retryConnect() {
	if !s.state.connecting() {
		return
	}
	if s.connectAttempts >= s.maxAttempts {
		s.finish(&DisconnectedError{Address: s.target, State: s.state, Attempts: s.connectAttempts})
		return
	}
	s.restartTimeout()
	s.emit(effect{kind: effectStartConnectTimer})
}

// beginObject starts transferring a payload: set PRN, then select.
func (s *session) beginObject(objectType byte, payload []byte, prn uint16) {
	s.obj = &objectTransfer{
		objectType:             objectType,
		payload:                payload,
		packetsPerNotification: prn,
	}
	s.logDebug("set packet receipt notification", "object_type", objectType, "prn", prn)
	s.write(s.target, ControlPointCharacteristic, protocol.BuildSetPRNCmd(prn))
}

func (s *session) onResponse(frame []byte) {
	resp, err := protocol.ParseResponse(frame)
	if err != nil {
		s.logError("ignoring malformed response", "frame", fmt.Sprintf("% X", frame), "error", err)
		return
	}
	if s.obj == nil || !s.state.transferring() {
		s.logDebug("ignoring response outside transfer", "opcode", resp.Opcode, "state", s.state)
		return
	}
	if err := resp.Err(); err != nil {
		s.finish(err)
		return
	}

	switch resp.Opcode {
	case protocol.OpSetPRN:
		cmd, err := protocol.BuildSelectObjectCmd(s.obj.objectType)
		if err != nil {
			s.finish(err)
			return
		}
		s.write(s.target, ControlPointCharacteristic, cmd)
	case protocol.OpSelectObject:
		s.onSelect(resp.Payload)
	case protocol.OpCreate:
		s.sendPacket()
	case protocol.OpCalculateChecksum:
		s.onChecksum(resp.Payload)
	case protocol.OpExecute:
		s.onExecute()
	default:
		s.logError("ignoring response to unknown opcode", "opcode", resp.Opcode, "state", s.state)
	}
}

func (s *session) onSelect(payload []byte) {
	sel, err := protocol.ParseSelectResponse(payload)
	if err != nil {
		s.finish(err)
		return
	}
	if sel.MaxSize == 0 {
		s.finish(&protocol.ProtocolError{Opcode: protocol.OpSelectObject, Reason: "maximum object size is zero"})
		return
	}

	s.logDebug("object selected", "object_type", s.obj.objectType,
		"max_size", sel.MaxSize, "offset", sel.Offset)

	s.obj.crc.Reset()
	s.obj.progress.Initialize(uint32(len(s.obj.payload)), sel.MaxSize)
	s.createObject()
}

func (s *session) createObject() {
	cmd, err := protocol.BuildCreateCmd(s.obj.objectType, s.obj.progress.CurrentObjectAvailableLength())
	if err != nil {
		s.finish(err)
		return
	}
	s.write(s.target, ControlPointCharacteristic, cmd)
}

// sendPacket writes the next chunk of the current object.
func (s *session) sendPacket() {
	n := min(uint32(s.packetSize), s.obj.progress.CurrentObjectAvailableLength())
	if n == 0 {
		return
	}
	start := s.obj.progress.BytesSent()
	s.obj.inFlight = s.obj.payload[start : start+n]
	s.write(s.target, PacketCharacteristic, s.obj.inFlight)
}

func (s *session) onPacketWritten() {
	if s.obj == nil || s.obj.inFlight == nil {
		return
	}
	s.restartTimeout()

	chunk := s.obj.inFlight
	s.obj.inFlight = nil
	s.obj.progress.BytesSentAdd(uint32(len(chunk)))
	s.obj.crc.Update(chunk)
	s.obj.packetsSinceNotify++
	s.emit(effect{kind: effectProgress})

	if s.obj.packetsPerNotification != 0 && s.obj.packetsSinceNotify == s.obj.packetsPerNotification {
		// Wait for the receipt notification.
		return
	}
	if s.obj.progress.IsObjectComplete() {
		s.write(s.target, ControlPointCharacteristic, protocol.BuildCalculateChecksumCmd())
		return
	}
	s.sendPacket()
}

func (s *session) onChecksum(payload []byte) {
	sum, err := protocol.ParseChecksumResponse(payload)
	if err != nil {
		s.finish(err)
		return
	}

	sent := s.obj.progress.BytesSent()
	if sum.Offset != sent || sum.CRC != s.obj.crc.Sum32() {
		s.finish(&ChecksumMismatchError{
			ObjectType:     s.obj.objectType,
			Offset:         sum.Offset,
			ExpectedOffset: sent,
			Expected:       s.obj.crc.Sum32(),
			Actual:         sum.CRC,
		})
		return
	}

	if s.obj.progress.IsObjectComplete() {
		s.logDebug("object verified", "object_type", s.obj.objectType, "offset", sum.Offset,
			"crc", fmt.Sprintf("0x%08X", sum.CRC))
		s.write(s.target, ControlPointCharacteristic, protocol.BuildExecuteCmd())
		return
	}

	// Packet receipt notification in the middle of an object.
	if s.obj.packetsPerNotification == 0 || s.obj.packetsSinceNotify != s.obj.packetsPerNotification {
		s.finish(&protocol.ProtocolError{
			Opcode: protocol.OpCalculateChecksum,
			Reason: fmt.Sprintf("unexpected receipt notification after %d packets", s.obj.packetsSinceNotify),
		})
		return
	}
	s.obj.packetsSinceNotify = 0
	s.sendPacket()
}

func (s *session) onExecute() {
	s.obj.packetsSinceNotify = 0

	if !s.obj.progress.IsComplete() {
		s.obj.progress.NextObject()
		s.createObject()
		return
	}

	switch s.state {
	case StateSendingInitPacket:
		s.logInfo("init packet executed", "bytes", len(s.initPacket))
		s.state = StateSendingFirmware
		s.beginObject(protocol.ObjectFirmware, s.firmware, s.firmwarePRN)
	case StateSendingFirmware:
		s.logInfo("firmware executed", "bytes", len(s.firmware))
		s.state = StateComplete
		s.finish(nil)
	}
}

func (s *session) write(address string, characteristic uuid.UUID, data []byte) {
	s.emit(effect{kind: effectWrite, address: address, characteristic: characteristic, data: data})
}

func (s *session) setNotify(address string, characteristic uuid.UUID) {
	s.emit(effect{kind: effectSetNotify, address: address, characteristic: characteristic})
}

func (s *session) restartTimeout() {
	s.emit(effect{kind: effectRestartTimeout})
}

func (s *session) finish(err error) {
	if s.done {
		return
	}
	s.done = true
	s.emit(effect{kind: effectFinish, err: err})
}

func (s *session) emit(e effect) {
	s.effects = append(s.effects, e)
}

func (s *session) flush() []effect {
	out := s.effects
	s.effects = nil
	return out
}

func (s *session) logDebug(msg string, keysAndValues ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, append([]any{"session", s.id}, keysAndValues...)...)
	}
}

func (s *session) logInfo(msg string, keysAndValues ...any) {
	if s.logger != nil {
		s.logger.Info(msg, append([]any{"session", s.id}, keysAndValues...)...)
	}
}

func (s *session) logError(msg string, keysAndValues ...any) {
	if s.logger != nil {
		s.logger.Error(msg, append([]any{"session", s.id}, keysAndValues...)...)
	}
}
