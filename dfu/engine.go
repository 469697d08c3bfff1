package dfu

import (
	"context"
	"crypto/rand"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
)

// Engine runs Nordic Secure DFU sessions over a ConnectionManager.
// At most one session is active at a time.
//
// All session state is owned by the goroutine running Run. Initiate and
// State are safe for concurrent use.
type Engine struct {
	cm     ConnectionManager
	config Config

	requests chan initiateRequest
	stopped  chan struct{}
	state    atomic.Int32

	// Owned by Run.
	sess        *session
	started     time.Time
	events      <-chan Event
	unsubscribe func()
	timeout     eventTimer
	connect     eventTimer
	entropy     *ulid.MonotonicEntropy
}

type initiateRequest struct {
	sess  *session
	reply chan error
}

// New creates a new Engine with the given connection manager and options.
//
// Example:
//
//	eng := dfu.New(cm,
//	    dfu.WithLogger(slog.Default()),
//	    dfu.WithResultCallback(onResult),
//	)
//	go eng.Run(ctx)
func New(cm ConnectionManager, opts ...Option) *Engine {
	if cm == nil {
		panic("connection manager cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Engine{
		cm:       cm,
		config:   cfg,
		requests: make(chan initiateRequest),
		stopped:  make(chan struct{}),
		entropy:  ulid.Monotonic(rand.Reader, 0),
	}
}

// State returns the state of the active session, or StateNone.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Initiate starts updating the accessory at accessoryAddress with the DFU
// package at packagePath.
//
// It returns ErrAlreadyInProgress if a session is active, an *AddressError or
// *PackageLoadError before any Bluetooth activity, and nil once the session
// has started. The outcome of a started session is delivered to the result
// callback.
func (e *Engine) Initiate(ctx context.Context, accessoryAddress, packagePath string) error {
	if e.State() != StateNone {
		return ErrAlreadyInProgress
	}

	target, err := TargetAddress(accessoryAddress)
	if err != nil {
		return err
	}

	pkg, err := e.config.PackageLoader(packagePath)
	if err != nil {
		return &PackageLoadError{Path: packagePath, Err: err}
	}

	req := initiateRequest{
		sess: &session{
			accessory:   accessoryAddress,
			target:      target,
			initPacket:  pkg.InitPacket,
			firmware:    pkg.Firmware,
			packetSize:  e.config.PacketSize,
			initPRN:     e.config.InitPacketsPerNotification,
			firmwarePRN: e.config.FirmwarePacketsPerNotification,
			maxAttempts: e.config.MaxConnectAttempts,
			deviceKnown: e.cm.DeviceKnown,
			logger:      e.config.Logger,
		},
		reply: make(chan error, 1),
	}

	select {
	case e.requests <- req:
	case <-e.stopped:
		return ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-req.reply
}

// Run processes sessions until ctx is cancelled. An active session is ended
// with the context error.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.stopped)

	for {
		select {
		case <-ctx.Done():
			if e.sess != nil {
				e.finish(ctx.Err())
			}
			return ctx.Err()

		case req := <-e.requests:
			req.reply <- e.start(req.sess)

		case ev, ok := <-e.events:
			if !ok {
				e.events = nil
				e.finish(&TransportError{Op: "subscribe", Address: e.sess.accessory, Err: ErrEventsClosed})
				continue
			}
			e.apply(e.sess.handle(ev))

		case <-e.timeout.C:
			e.timeout.stop()
			e.logError("dfu timed out", "session", e.sess.id, "state", e.sess.state)
			e.finish(ErrTimeout)

		case <-e.connect.C:
			e.connect.stop()
			e.apply(e.sess.connectTimerFired())
		}
	}
}

func (e *Engine) start(s *session) error {
	if e.sess != nil {
		return ErrAlreadyInProgress
	}

	s.id = ulid.MustNew(ulid.Timestamp(time.Now()), e.entropy).String()
	e.sess = s
	e.started = time.Now()
	e.events, e.unsubscribe = e.cm.Subscribe()

	e.apply(s.start())
	return nil
}

// apply performs session effects in order. It stops early once the session
// has finished.
func (e *Engine) apply(effects []effect) {
	for _, ef := range effects {
		if e.sess == nil {
			return
		}

		switch ef.kind {
		case effectWrite:
			if err := e.cm.Write(ef.address, ef.characteristic, ef.data); err != nil {
				e.finish(&TransportError{Op: "write", Address: ef.address, Err: err})
				return
			}

		case effectSetNotify:
			if err := e.cm.SetNotify(ef.address, ef.characteristic, true); err != nil {
				e.finish(&TransportError{Op: "enable notifications", Address: ef.address, Err: err})
				return
			}

		case effectConnect:
			if err := e.cm.ConnectByAddress(ef.address); err != nil {
				e.apply(e.sess.handle(Event{Kind: ConnectFailed, Address: ef.address, Err: err}))
				return
			}

		case effectStartConnectTimer:
			e.connect.restart(e.config.ConnectDelay)

		case effectRestartTimeout:
			e.timeout.restart(e.config.Timeout)

		case effectProgress:
			e.reportProgress()

		case effectFinish:
			e.finish(ef.err)
			return
		}
	}

	if e.sess != nil {
		e.state.Store(int32(e.sess.state))
	}
}

// finish tears the session down and emits its result.
func (e *Engine) finish(err error) {
	s := e.sess
	if s == nil {
		return
	}

	e.timeout.stop()
	e.connect.stop()

	if s.targetConnected {
		if rmErr := e.cm.RemoveDevice(s.target); rmErr != nil {
			e.logDebug("remove bootloader device", "session", s.id, "target", s.target, "error", rmErr)
		}
	}

	if e.unsubscribe != nil {
		e.unsubscribe()
	}
	e.unsubscribe = nil
	e.events = nil
	e.sess = nil
	e.state.Store(int32(StateNone))

	result := Result{
		SessionID:     s.id,
		Address:       s.accessory,
		TargetAddress: s.target,
		Err:           err,
		ElapsedTime:   time.Since(e.started),
	}

	if err != nil {
		e.logError("dfu failed", "session", s.id, "address", s.accessory, "error", err,
			"elapsed", result.ElapsedTime)
	} else {
		e.logInfo("dfu complete", "session", s.id, "address", s.accessory,
			"firmware_bytes", len(s.firmware), "elapsed", result.ElapsedTime)
	}

	if e.config.ResultCallback != nil {
		e.config.ResultCallback(result)
	}
}

// reportProgress calls the progress callback if one is configured.
func (e *Engine) reportProgress() {
	if e.config.ProgressCallback == nil || e.sess == nil || e.sess.obj == nil {
		return
	}

	p := &e.sess.obj.progress
	e.config.ProgressCallback(Progress{
		SessionID:   e.sess.id,
		Address:     e.sess.accessory,
		State:       e.sess.state,
		BytesSent:   int(p.BytesSent()),
		TotalBytes:  int(p.Total()),
		Percentage:  p.PercentComplete(),
		ElapsedTime: time.Since(e.started),
	})
}

// logDebug logs a debug message if a logger is configured.
func (e *Engine) logDebug(msg string, keysAndValues ...any) {
	if e.config.Logger != nil {
		e.config.Logger.Debug(msg, keysAndValues...)
	}
}

// logInfo logs an info message if a logger is configured.
func (e *Engine) logInfo(msg string, keysAndValues ...any) {
	if e.config.Logger != nil {
		e.config.Logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error message if a logger is configured.
func (e *Engine) logError(msg string, keysAndValues ...any) {
	if e.config.Logger != nil {
		e.config.Logger.Error(msg, keysAndValues...)
	}
}
