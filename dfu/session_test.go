package dfu

import (
	"bytes"
	"hash/crc32"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moffa90/go-nrfdfu/protocol"
)

const (
	testAccessory = "AA:BB:CC:DD:EE:10"
	testTarget    = "AA:BB:CC:DD:EE:11"
)

func newTestSession(initPacket, image []byte) *session {
	return &session{
		id:          "test",
		accessory:   testAccessory,
		target:      testTarget,
		initPacket:  initPacket,
		firmware:    image,
		packetSize:  protocol.DefaultPacketSize,
		firmwarePRN: 10,
		maxAttempts: 3,
		deviceKnown: func(string) bool { return true },
	}
}

func testPayload(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i*31 + 7)
	}
	return p
}

func effectKinds(effects []effect) []effectKind {
	out := make([]effectKind, 0, len(effects))
	for _, e := range effects {
		out = append(out, e.kind)
	}
	return out
}

func writesOf(effects []effect) []effect {
	var out []effect
	for _, e := range effects {
		if e.kind == effectWrite {
			out = append(out, e)
		}
	}
	return out
}

func finishOf(effects []effect) (error, bool) {
	for _, e := range effects {
		if e.kind == effectFinish {
			return e.err, true
		}
	}
	return nil, false
}

func response(s *session, frame []byte) Event {
	return Event{Kind: ValueChanged, Address: s.target, Characteristic: ControlPointCharacteristic, Value: frame}
}

func packetWritten(s *session) Event {
	return Event{Kind: WriteCompleted, Address: s.target, Characteristic: PacketCharacteristic}
}

// selectedFirmware drives a session to the point where the first firmware
// packet has been written.
func selectedFirmware(t *testing.T, s *session, maxSize uint32) {
	t.Helper()
	s.state = StateSendingFirmware
	s.beginObject(protocol.ObjectFirmware, s.firmware, s.firmwarePRN)
	s.flush()

	effects := s.handle(response(s, protocol.BuildResponse(protocol.OpSetPRN, protocol.ResultSuccess)))
	require.Len(t, writesOf(effects), 1)
	assert.Equal(t, []byte{protocol.OpSelectObject, protocol.ObjectFirmware}, writesOf(effects)[0].data)

	effects = s.handle(response(s, protocol.BuildResponse(protocol.OpSelectObject, protocol.ResultSuccess,
		protocol.BuildSelectPayload(maxSize, 0, 0)...)))
	require.Len(t, writesOf(effects), 1)
	assert.Equal(t, byte(protocol.OpCreate), writesOf(effects)[0].data[0])

	effects = s.handle(response(s, protocol.BuildResponse(protocol.OpCreate, protocol.ResultSuccess)))
	w := writesOf(effects)
	require.Len(t, w, 1)
	assert.Equal(t, PacketCharacteristic, w[0].characteristic)
	assert.Equal(t, s.firmware[:min(20, len(s.firmware))], w[0].data)
}

func TestSessionRestartSequence(t *testing.T) {
	s := newTestSession(testPayload(10), testPayload(100))

	effects := s.start()
	assert.Equal(t, StateRestarting, s.state)
	require.Equal(t, []effectKind{effectSetNotify, effectRestartTimeout}, effectKinds(effects))
	assert.Equal(t, testAccessory, effects[0].address)
	assert.Equal(t, ButtonlessCharacteristic, effects[0].characteristic)

	effects = s.handle(Event{Kind: NotifyEnabled, Address: testAccessory, Characteristic: ButtonlessCharacteristic})
	w := writesOf(effects)
	require.Len(t, w, 1)
	assert.Equal(t, []byte{0x01}, w[0].data)

	effects = s.handle(Event{Kind: DeviceDisconnected, Address: testAccessory})
	assert.Contains(t, effectKinds(effects), effectStartConnectTimer)
	assert.Equal(t, StateRestarting, s.state)

	effects = s.connectTimerFired()
	require.Equal(t, []effectKind{effectConnect}, effectKinds(effects))
	assert.Equal(t, testTarget, effects[0].address)
	assert.Equal(t, 1, s.connectAttempts)

	// Addresses compare case-insensitively.
	effects = s.handle(Event{Kind: DeviceConnected, Address: "aa:bb:cc:dd:ee:11"})
	assert.Equal(t, StateSendingInitPacket, s.state)
	assert.Contains(t, effectKinds(effects), effectSetNotify)

	effects = s.handle(Event{Kind: NotifyEnabled, Address: testTarget, Characteristic: ControlPointCharacteristic})
	w = writesOf(effects)
	require.Len(t, w, 1)
	assert.Equal(t, protocol.BuildSetPRNCmd(0), w[0].data)
	require.NotNil(t, s.obj)
	assert.Equal(t, byte(protocol.ObjectInitPacket), s.obj.objectType)
}

func TestSessionScanningWhenTargetUnknown(t *testing.T) {
	s := newTestSession(testPayload(10), testPayload(100))
	s.deviceKnown = func(string) bool { return false }
	s.start()

	s.handle(Event{Kind: DeviceDisconnected, Address: testAccessory})
	assert.Equal(t, StateScanning, s.state)
}

func TestSessionIgnoresOtherDevices(t *testing.T) {
	s := newTestSession(testPayload(10), testPayload(100))
	s.start()

	assert.Empty(t, s.handle(Event{Kind: DeviceDisconnected, Address: "11:22:33:44:55:66"}))
	assert.Empty(t, s.handle(Event{Kind: WriteFailed, Address: "11:22:33:44:55:66"}))
	assert.Equal(t, StateRestarting, s.state)
}

func TestSessionConnectRetries(t *testing.T) {
	s := newTestSession(testPayload(10), testPayload(100))
	s.start()
	s.handle(Event{Kind: DeviceDisconnected, Address: testAccessory})

	for i := 1; i < s.maxAttempts; i++ {
		s.connectTimerFired()
		effects := s.handle(Event{Kind: ConnectFailed, Address: testTarget})
		_, finished := finishOf(effects)
		require.False(t, finished, "attempt %d", i)
		assert.Contains(t, effectKinds(effects), effectStartConnectTimer)
	}

	s.connectTimerFired()
	effects := s.handle(Event{Kind: DeviceDisconnected, Address: testTarget})
	err, finished := finishOf(effects)
	require.True(t, finished)
	var de *DisconnectedError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, s.maxAttempts, de.Attempts)
	assert.Contains(t, err.Error(), "unreachable")
}

func TestSessionPacketReceiptPause(t *testing.T) {
	image := testPayload(1000)
	s := newTestSession(testPayload(10), image)
	selectedFirmware(t, s, 4096)

	for i := 1; i < 10; i++ {
		w := writesOf(s.handle(packetWritten(s)))
		require.Len(t, w, 1, "packet %d", i)
		assert.Equal(t, image[i*20:(i+1)*20], w[0].data)
	}

	// Tenth packet acknowledged: wait for the receipt notification.
	effects := s.handle(packetWritten(s))
	assert.Empty(t, writesOf(effects))
	assert.Contains(t, effectKinds(effects), effectProgress)

	receipt := protocol.BuildResponse(protocol.OpCalculateChecksum, protocol.ResultSuccess,
		protocol.BuildChecksumPayload(200, crc32.ChecksumIEEE(image[:200]))...)
	w := writesOf(s.handle(response(s, receipt)))
	require.Len(t, w, 1)
	assert.Equal(t, image[200:220], w[0].data)
}

func TestSessionReceiptChecksumMismatch(t *testing.T) {
	image := testPayload(1000)
	s := newTestSession(testPayload(10), image)
	selectedFirmware(t, s, 4096)
	for i := 1; i <= 10; i++ {
		s.handle(packetWritten(s))
	}

	receipt := protocol.BuildResponse(protocol.OpCalculateChecksum, protocol.ResultSuccess,
		protocol.BuildChecksumPayload(200, 0xBAD)...)
	effects := s.handle(response(s, receipt))
	err, finished := finishOf(effects)
	require.True(t, finished)
	var ce *ChecksumMismatchError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, uint32(0xBAD), ce.Actual)
	assert.Empty(t, writesOf(effects))
}

func TestSessionUnexpectedReceipt(t *testing.T) {
	image := testPayload(1000)
	s := newTestSession(testPayload(10), image)
	s.firmwarePRN = 0
	selectedFirmware(t, s, 4096)
	s.handle(packetWritten(s))

	// Checksum arrives mid-object with receipts disabled; offsets still agree.
	receipt := protocol.BuildResponse(protocol.OpCalculateChecksum, protocol.ResultSuccess,
		protocol.BuildChecksumPayload(20, crc32.ChecksumIEEE(image[:20]))...)
	effects := s.handle(response(s, receipt))
	err, finished := finishOf(effects)
	require.True(t, finished)
	assert.True(t, protocol.IsProtocolError(err))
}

func TestSessionObjectCompletion(t *testing.T) {
	image := testPayload(50)
	s := newTestSession(testPayload(10), image)
	s.firmwarePRN = 0
	selectedFirmware(t, s, 4096)

	s.handle(packetWritten(s))
	s.handle(packetWritten(s))
	w := writesOf(s.handle(packetWritten(s)))
	require.Len(t, w, 1)
	assert.Equal(t, protocol.BuildCalculateChecksumCmd(), w[0].data)

	sum := protocol.BuildResponse(protocol.OpCalculateChecksum, protocol.ResultSuccess,
		protocol.BuildChecksumPayload(50, crc32.ChecksumIEEE(image))...)
	w = writesOf(s.handle(response(s, sum)))
	require.Len(t, w, 1)
	assert.Equal(t, protocol.BuildExecuteCmd(), w[0].data)

	effects := s.handle(response(s, protocol.BuildResponse(protocol.OpExecute, protocol.ResultSuccess)))
	err, finished := finishOf(effects)
	require.True(t, finished)
	assert.NoError(t, err)
	assert.Equal(t, StateComplete, s.state)

	assert.Nil(t, s.handle(response(s, protocol.BuildResponse(protocol.OpExecute, protocol.ResultSuccess))))
}

func TestSessionMalformedResponseStalls(t *testing.T) {
	s := newTestSession(testPayload(10), testPayload(100))
	selectedFirmware(t, s, 4096)

	effects := s.handle(response(s, []byte{0x60, 0x01}))
	assert.Equal(t, []effectKind{effectRestartTimeout}, effectKinds(effects))
	assert.Equal(t, StateSendingFirmware, s.state)
	assert.False(t, s.done)
}

func TestSessionCommandWriteRestartsTimeout(t *testing.T) {
	s := newTestSession(testPayload(10), testPayload(100))
	s.start()

	effects := s.handle(Event{Kind: WriteCompleted, Address: testAccessory, Characteristic: ButtonlessCharacteristic})
	assert.Equal(t, []effectKind{effectRestartTimeout}, effectKinds(effects))

	selectedFirmware(t, s, 4096)
	effects = s.handle(Event{Kind: WriteCompleted, Address: testTarget, Characteristic: ControlPointCharacteristic})
	assert.Equal(t, []effectKind{effectRestartTimeout}, effectKinds(effects))
	assert.Equal(t, StateSendingFirmware, s.state)

	effects = s.handle(Event{Kind: WriteCompleted, Address: "00:00:00:00:00:01", Characteristic: ControlPointCharacteristic})
	assert.Empty(t, effects)
}

func TestSessionFailureResult(t *testing.T) {
	s := newTestSession(testPayload(10), testPayload(100))
	selectedFirmware(t, s, 4096)

	effects := s.handle(response(s, protocol.BuildResponse(protocol.OpCreate, protocol.ResultExtendedError, protocol.ExtInsufficientSpace)))
	err, finished := finishOf(effects)
	require.True(t, finished)
	var re *protocol.ResultError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, byte(protocol.ExtInsufficientSpace), re.ExtendedError)
}

func TestSessionZeroObjectSize(t *testing.T) {
	s := newTestSession(testPayload(10), testPayload(100))
	s.state = StateSendingFirmware
	s.beginObject(protocol.ObjectFirmware, s.firmware, 0)
	s.flush()

	effects := s.handle(response(s, protocol.BuildResponse(protocol.OpSelectObject, protocol.ResultSuccess,
		protocol.BuildSelectPayload(0, 0, 0)...)))
	err, finished := finishOf(effects)
	require.True(t, finished)
	assert.True(t, protocol.IsProtocolError(err))
}

func TestSessionDisconnectWhileSending(t *testing.T) {
	s := newTestSession(testPayload(10), testPayload(100))
	selectedFirmware(t, s, 4096)

	effects := s.handle(Event{Kind: DeviceDisconnected, Address: testTarget})
	err, finished := finishOf(effects)
	require.True(t, finished)
	var de *DisconnectedError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, StateSendingFirmware, de.State)
	assert.NotContains(t, effectKinds(effects), effectStartConnectTimer)
}

func TestSessionChunksNeverExceedPacketSize(t *testing.T) {
	for _, size := range []int{1, 19, 20, 21, 141, 512, 1000} {
		image := testPayload(size)
		s := newTestSession(testPayload(10), image)
		s.firmwarePRN = 0
		selectedFirmware(t, s, 4096)

		var sent bytes.Buffer
		sent.Write(s.obj.inFlight)
		for {
			w := writesOf(s.handle(packetWritten(s)))
			require.Len(t, w, 1)
			if w[0].characteristic != PacketCharacteristic {
				break
			}
			assert.LessOrEqual(t, len(w[0].data), protocol.DefaultPacketSize)
			sent.Write(w[0].data)
		}
		assert.Equal(t, image, sent.Bytes(), "size %d", size)
	}
}
