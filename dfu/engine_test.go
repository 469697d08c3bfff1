package dfu_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moffa90/go-nrfdfu/dfu"
	"github.com/moffa90/go-nrfdfu/firmware"
	"github.com/moffa90/go-nrfdfu/internal/simulator"
	"github.com/moffa90/go-nrfdfu/protocol"
)

const accessory = "C8:2B:96:A1:B2:10"

func testPackage(initLen, fwLen int) *firmware.Package {
	pkg := &firmware.Package{
		InitPacket: make([]byte, initLen),
		Firmware:   make([]byte, fwLen),
	}
	for i := range pkg.InitPacket {
		pkg.InitPacket[i] = byte(i ^ 0x5A)
	}
	for i := range pkg.Firmware {
		pkg.Firmware[i] = byte(i * 13)
	}
	return pkg
}

type harness struct {
	engine  *dfu.Engine
	sim     *simulator.Simulator
	pkg     *firmware.Package
	results chan dfu.Result
	cancel  context.CancelFunc

	mu       sync.Mutex
	progress []dfu.Progress
}

func newHarness(t *testing.T, pkg *firmware.Package, simOpts []simulator.Option, opts ...dfu.Option) *harness {
	t.Helper()

	sim, err := simulator.New(accessory, simOpts...)
	require.NoError(t, err)
	t.Cleanup(sim.Close)

	h := &harness{sim: sim, pkg: pkg, results: make(chan dfu.Result, 4)}
	base := []dfu.Option{
		dfu.WithConnectDelay(time.Millisecond),
		dfu.WithTimeout(2 * time.Second),
		dfu.WithPackageLoader(func(string) (*firmware.Package, error) { return pkg, nil }),
		dfu.WithResultCallback(func(r dfu.Result) { h.results <- r }),
		dfu.WithProgressCallback(func(p dfu.Progress) {
			h.mu.Lock()
			h.progress = append(h.progress, p)
			h.mu.Unlock()
		}),
	}
	h.engine = dfu.New(sim, append(base, opts...)...)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { _ = h.engine.Run(ctx) }()
	t.Cleanup(cancel)

	return h
}

func (h *harness) result(t *testing.T) dfu.Result {
	t.Helper()
	select {
	case r := <-h.results:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for result")
		return dfu.Result{}
	}
}

func (h *harness) noMoreResults(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case r := <-h.results:
		t.Fatalf("unexpected extra result: %+v", r)
	case <-time.After(wait):
	}
}

func packetWrites(sim *simulator.Simulator) [][]byte {
	var out [][]byte
	for _, rec := range sim.Transcript() {
		if rec.Kind == simulator.RecordWrite && rec.Characteristic == dfu.PacketCharacteristic {
			out = append(out, rec.Data)
		}
	}
	return out
}

func controlWrites(sim *simulator.Simulator, opcode byte) [][]byte {
	var out [][]byte
	for _, rec := range sim.Transcript() {
		if rec.Kind == simulator.RecordWrite && rec.Characteristic == dfu.ControlPointCharacteristic && rec.Data[0] == opcode {
			out = append(out, rec.Data)
		}
	}
	return out
}

func TestEngineUpdatesAccessory(t *testing.T) {
	pkg := testPackage(141, 1000)
	h := newHarness(t, pkg, []simulator.Option{
		simulator.WithMaxObjectSize(protocol.ObjectFirmware, 512),
	})

	require.NoError(t, h.engine.Initiate(context.Background(), accessory, "pkg.zip"))

	r := h.result(t)
	require.NoError(t, r.Err)
	assert.True(t, r.Success())
	assert.Equal(t, accessory, r.Address)
	assert.Equal(t, "C8:2B:96:A1:B2:11", r.TargetAddress)
	assert.NotEmpty(t, r.SessionID)

	assert.Equal(t, pkg.InitPacket, h.sim.InitPacket())
	assert.Equal(t, pkg.Firmware, h.sim.Firmware())
	assert.Equal(t, 1, h.sim.Executes(protocol.ObjectInitPacket))
	assert.Equal(t, 2, h.sim.Executes(protocol.ObjectFirmware))

	creates := controlWrites(h.sim, protocol.OpCreate)
	require.Len(t, creates, 3)
	initCreate, _ := protocol.BuildCreateCmd(protocol.ObjectInitPacket, 141)
	firstPage, _ := protocol.BuildCreateCmd(protocol.ObjectFirmware, 512)
	secondPage, _ := protocol.BuildCreateCmd(protocol.ObjectFirmware, 488)
	assert.Equal(t, [][]byte{initCreate, firstPage, secondPage}, creates)

	assert.Equal(t, []string{"C8:2B:96:A1:B2:11"}, h.sim.Removed())
	assert.Equal(t, dfu.StateNone, h.engine.State())
	h.noMoreResults(t, 50*time.Millisecond)
}

func TestEngineChunking(t *testing.T) {
	pkg := testPackage(141, 1000)
	h := newHarness(t, pkg, nil, dfu.WithFirmwarePacketsPerNotification(0))

	require.NoError(t, h.engine.Initiate(context.Background(), accessory, "pkg.zip"))
	require.NoError(t, h.result(t).Err)

	var sent bytes.Buffer
	for _, p := range packetWrites(h.sim) {
		assert.LessOrEqual(t, len(p), protocol.DefaultPacketSize)
		assert.NotEmpty(t, p)
		sent.Write(p)
	}
	assert.Equal(t, append(append([]byte(nil), pkg.InitPacket...), pkg.Firmware...), sent.Bytes())
	assert.Len(t, packetWrites(h.sim), 8+50)
}

func TestEnginePacketReceiptPause(t *testing.T) {
	pkg := testPackage(30, 1000)
	h := newHarness(t, pkg, []simulator.Option{
		simulator.WithReceiptDelay(5 * time.Millisecond),
	})

	require.NoError(t, h.engine.Initiate(context.Background(), accessory, "pkg.zip"))
	require.NoError(t, h.result(t).Err)

	firmwarePhase := false
	packets := 0
	awaitingReceipt := false
	for _, rec := range h.sim.Transcript() {
		if rec.Kind == simulator.RecordWrite && bytes.Equal(rec.Data, []byte{protocol.OpSelectObject, protocol.ObjectFirmware}) {
			firmwarePhase = true
			continue
		}
		if !firmwarePhase {
			continue
		}

		switch {
		case rec.Kind == simulator.RecordWrite && rec.Characteristic == dfu.PacketCharacteristic:
			require.False(t, awaitingReceipt, "packet %d sent before receipt notification", packets+1)
			packets++
			awaitingReceipt = packets%10 == 0
		case rec.Kind == simulator.RecordNotify && rec.Data[1] == protocol.OpCalculateChecksum:
			awaitingReceipt = false
		}
	}
	assert.Equal(t, 50, packets)
}

func TestEngineChecksumMismatch(t *testing.T) {
	h := newHarness(t, testPackage(141, 1000), []simulator.Option{
		simulator.WithCorruptChecksum(),
	})

	require.NoError(t, h.engine.Initiate(context.Background(), accessory, "pkg.zip"))

	r := h.result(t)
	var ce *dfu.ChecksumMismatchError
	require.ErrorAs(t, r.Err, &ce)
	assert.Equal(t, byte(protocol.ObjectInitPacket), ce.ObjectType)
	assert.Equal(t, accessory, r.Address)
	assert.Empty(t, controlWrites(h.sim, protocol.OpExecute))
	assert.Zero(t, h.sim.Executes(protocol.ObjectInitPacket))
}

func TestEngineSingleSession(t *testing.T) {
	h := newHarness(t, testPackage(141, 1000), []simulator.Option{
		simulator.WithSilentControlPoint(),
	}, dfu.WithTimeout(200*time.Millisecond))

	require.NoError(t, h.engine.Initiate(context.Background(), accessory, "pkg.zip"))
	assert.NotEqual(t, dfu.StateNone, h.engine.State())

	err := h.engine.Initiate(context.Background(), "C8:2B:96:A1:B2:20", "pkg.zip")
	assert.ErrorIs(t, err, dfu.ErrAlreadyInProgress)

	r := h.result(t)
	assert.ErrorIs(t, r.Err, dfu.ErrTimeout)
	assert.Equal(t, accessory, r.Address)
	h.noMoreResults(t, 100*time.Millisecond)
}

func TestEngineTimeoutEmitsOneResult(t *testing.T) {
	h := newHarness(t, testPackage(141, 1000), []simulator.Option{
		simulator.WithSilentControlPoint(),
	}, dfu.WithTimeout(50*time.Millisecond))

	require.NoError(t, h.engine.Initiate(context.Background(), accessory, "pkg.zip"))

	r := h.result(t)
	assert.ErrorIs(t, r.Err, dfu.ErrTimeout)
	assert.False(t, r.Success())
	h.noMoreResults(t, 200*time.Millisecond)
	assert.Eventually(t, func() bool { return h.engine.State() == dfu.StateNone }, time.Second, time.Millisecond)
}

func TestEngineMalformedResponseTimesOut(t *testing.T) {
	h := newHarness(t, testPackage(141, 1000), []simulator.Option{
		simulator.WithMalformedResponse(protocol.OpSelectObject),
	}, dfu.WithTimeout(50*time.Millisecond))

	require.NoError(t, h.engine.Initiate(context.Background(), accessory, "pkg.zip"))
	assert.ErrorIs(t, h.result(t).Err, dfu.ErrTimeout)
}

func TestEngineDisconnectDuringFirmware(t *testing.T) {
	h := newHarness(t, testPackage(141, 1000), []simulator.Option{
		simulator.WithDisconnectAfterPackets(5),
	})

	require.NoError(t, h.engine.Initiate(context.Background(), accessory, "pkg.zip"))

	r := h.result(t)
	var de *dfu.DisconnectedError
	require.ErrorAs(t, r.Err, &de)
	assert.Equal(t, dfu.StateSendingFirmware, de.State)
	assert.Equal(t, 1, de.Attempts)
	h.noMoreResults(t, 50*time.Millisecond)
}

func TestEngineRetriesBootloaderConnection(t *testing.T) {
	h := newHarness(t, testPackage(141, 100), []simulator.Option{
		simulator.WithConnectFailures(3),
		simulator.WithTargetKnown(false),
	})

	require.NoError(t, h.engine.Initiate(context.Background(), accessory, "pkg.zip"))
	require.NoError(t, h.result(t).Err)
	assert.True(t, h.sim.InBootloader())
}

func TestEngineBootloaderUnreachable(t *testing.T) {
	h := newHarness(t, testPackage(141, 100), []simulator.Option{
		simulator.WithUnreachableBootloader(),
	}, dfu.WithMaxConnectAttempts(3))

	require.NoError(t, h.engine.Initiate(context.Background(), accessory, "pkg.zip"))

	r := h.result(t)
	var de *dfu.DisconnectedError
	require.ErrorAs(t, r.Err, &de)
	assert.Equal(t, 3, de.Attempts)
	assert.Empty(t, h.sim.Removed())
}

func TestEngineReportsResultCode(t *testing.T) {
	h := newHarness(t, testPackage(141, 100), []simulator.Option{
		simulator.WithResult(protocol.OpExecute, protocol.ResultExtendedError, protocol.ExtFwVersionFailure),
	})

	require.NoError(t, h.engine.Initiate(context.Background(), accessory, "pkg.zip"))

	var re *protocol.ResultError
	require.ErrorAs(t, h.result(t).Err, &re)
	assert.Equal(t, byte(protocol.OpExecute), re.Opcode)
	assert.Equal(t, byte(protocol.ExtFwVersionFailure), re.ExtendedError)
}

func TestEngineInitiateErrors(t *testing.T) {
	loadErr := errors.New("no such file")
	h := newHarness(t, testPackage(1, 1), nil,
		dfu.WithPackageLoader(func(string) (*firmware.Package, error) { return nil, loadErr }))

	err := h.engine.Initiate(context.Background(), "C8:2B:96:A1:B2", "pkg.zip")
	var ae *dfu.AddressError
	assert.ErrorAs(t, err, &ae)

	err = h.engine.Initiate(context.Background(), accessory, "missing.zip")
	var pe *dfu.PackageLoadError
	require.ErrorAs(t, err, &pe)
	assert.ErrorIs(t, err, loadErr)
	assert.Equal(t, "missing.zip", pe.Path)

	assert.Empty(t, h.sim.Transcript())
	assert.False(t, h.sim.InBootloader())
	h.noMoreResults(t, 20*time.Millisecond)
}

func TestEngineProgress(t *testing.T) {
	h := newHarness(t, testPackage(141, 1000), nil)

	require.NoError(t, h.engine.Initiate(context.Background(), accessory, "pkg.zip"))
	require.NoError(t, h.result(t).Err)

	h.mu.Lock()
	defer h.mu.Unlock()
	require.NotEmpty(t, h.progress)

	last := h.progress[len(h.progress)-1]
	assert.Equal(t, dfu.StateSendingFirmware, last.State)
	assert.Equal(t, 1000, last.BytesSent)
	assert.Equal(t, 1000, last.TotalBytes)
	assert.InDelta(t, 100.0, last.Percentage, 0.001)

	prev := -1
	for _, p := range h.progress {
		if p.State != dfu.StateSendingFirmware {
			continue
		}
		assert.Greater(t, p.BytesSent, prev)
		prev = p.BytesSent
	}
}

func TestEngineStopEndsSession(t *testing.T) {
	h := newHarness(t, testPackage(141, 1000), []simulator.Option{
		simulator.WithSilentControlPoint(),
	})

	require.NoError(t, h.engine.Initiate(context.Background(), accessory, "pkg.zip"))
	h.cancel()

	assert.ErrorIs(t, h.result(t).Err, context.Canceled)

	assert.Eventually(t, func() bool {
		return errors.Is(h.engine.Initiate(context.Background(), accessory, "pkg.zip"), dfu.ErrEngineStopped)
	}, time.Second, time.Millisecond)
}

func TestEngineConsecutiveSessions(t *testing.T) {
	h := newHarness(t, testPackage(20, 40), nil)

	require.NoError(t, h.engine.Initiate(context.Background(), accessory, "pkg.zip"))
	first := h.result(t)
	require.NoError(t, first.Err)

	// The accessory link went away with the reboot, so the next session
	// fails on its first request.
	require.NoError(t, h.engine.Initiate(context.Background(), accessory, "pkg.zip"))
	second := h.result(t)
	var te *dfu.TransportError
	require.ErrorAs(t, second.Err, &te)
	assert.Equal(t, "enable notifications", te.Op)
	assert.NotEqual(t, first.SessionID, second.SessionID)
	h.noMoreResults(t, 20*time.Millisecond)
}

// countingManager counts Disconnect calls made through it.
type countingManager struct {
	dfu.ConnectionManager

	mu          sync.Mutex
	disconnects int
}

func (c *countingManager) Disconnect(address string) error {
	c.mu.Lock()
	c.disconnects++
	c.mu.Unlock()
	return c.ConnectionManager.Disconnect(address)
}

func TestEngineNeverDisconnects(t *testing.T) {
	sim, err := simulator.New(accessory)
	require.NoError(t, err)
	t.Cleanup(sim.Close)

	pkg := testPackage(32, 300)
	cm := &countingManager{ConnectionManager: sim}
	results := make(chan dfu.Result, 1)
	eng := dfu.New(cm,
		dfu.WithConnectDelay(time.Millisecond),
		dfu.WithTimeout(2*time.Second),
		dfu.WithPackageLoader(func(string) (*firmware.Package, error) { return pkg, nil }),
		dfu.WithResultCallback(func(r dfu.Result) { results <- r }),
	)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = eng.Run(ctx) }()

	require.NoError(t, eng.Initiate(context.Background(), accessory, "pkg.zip"))
	select {
	case r := <-results:
		require.NoError(t, r.Err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for result")
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()
	assert.Zero(t, cm.disconnects)
}
