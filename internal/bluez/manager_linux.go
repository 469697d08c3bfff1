//go:build linux

package bluez

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/moffa90/go-nrfdfu/dfu"
	"github.com/moffa90/go-nrfdfu/internal/eventbus"
)

var errClosed = errors.New("bluez: manager closed")

// Manager is a dfu.ConnectionManager backed by BlueZ.
type Manager struct {
	opts    options
	conn    *dbus.Conn
	adapter dbus.ObjectPath
	bus     *eventbus.Bus[dfu.Event]
	limiter *rate.Limiter
	breaker *callBreaker

	ctx    context.Context
	cancel context.CancelFunc
	cmds   chan func(context.Context)
	wg     sync.WaitGroup

	// writing is held while a write is in flight so notifications it causes
	// are published after its completion event.
	writing sync.Mutex

	mu      sync.Mutex
	tree    *objectTree
	closed  bool
	cleanup []func()
}

var _ dfu.ConnectionManager = (*Manager)(nil)

// New connects to the system bus and starts mirroring the adapter's objects.
func New(opts ...Option) (*Manager, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("bluez: connect system bus: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		opts:    o,
		conn:    conn,
		adapter: AdapterPath(o.adapter),
		bus:     eventbus.New[dfu.Event](),
		limiter: rate.NewLimiter(o.writeLimit, o.writeBurst),
		breaker: newCallBreaker(o, o.logger),
		ctx:     ctx,
		cancel:  cancel,
		cmds:    make(chan func(context.Context), commandQueueSize),
		tree:    newObjectTree(AdapterPath(o.adapter)),
	}
	// Closed last.
	m.cleanup = append(m.cleanup, func() { _ = conn.Close() }, m.bus.Close)

	if err := m.init(); err != nil {
		_ = m.Close()
		return nil, err
	}
	return m, nil
}

func (m *Manager) init() error {
	sigCh := make(chan *dbus.Signal, 64)
	m.conn.Signal(sigCh)
	m.cleanup = append(m.cleanup, func() { m.conn.RemoveSignal(sigCh) })

	matches := [][]dbus.MatchOption{
		{
			dbus.WithMatchInterface(propsIface),
			dbus.WithMatchMember("PropertiesChanged"),
			dbus.WithMatchPathNamespace(m.adapter),
		},
		{
			dbus.WithMatchSender(bluezService),
			dbus.WithMatchInterface(objManagerIface),
			dbus.WithMatchMember("InterfacesAdded"),
		},
		{
			dbus.WithMatchSender(bluezService),
			dbus.WithMatchInterface(objManagerIface),
			dbus.WithMatchMember("InterfacesRemoved"),
		},
	}
	for _, match := range matches {
		if err := m.conn.AddMatchSignal(match...); err != nil {
			return fmt.Errorf("bluez: AddMatchSignal: %w", err)
		}
		m.cleanup = append(m.cleanup, func() { _ = m.conn.RemoveMatchSignal(match...) })
	}

	// Snapshot after subscribing so no object is missed.
	objs, err := m.managedObjects()
	if err != nil {
		return err
	}
	if _, ok := objs[m.adapter][adapterIface]; !ok {
		return fmt.Errorf("bluez: adapter %s not found", m.opts.adapter)
	}
	m.mu.Lock()
	m.tree.load(objs)
	m.mu.Unlock()

	m.wg.Add(2)
	go m.watch(sigCh)
	go m.work()
	m.cleanup = append(m.cleanup, func() {
		m.cancel()
		m.wg.Wait()
	})
	return nil
}

func (m *Manager) managedObjects() (managedObjects, error) {
	ctx, cancel := context.WithTimeout(m.ctx, m.opts.callTimeout)
	defer cancel()

	var objs managedObjects
	call := m.conn.Object(bluezService, "/").CallWithContext(ctx, objManagerIface+".GetManagedObjects", 0)
	if call.Err != nil {
		return nil, fmt.Errorf("bluez: GetManagedObjects: %w", call.Err)
	}
	if err := call.Store(&objs); err != nil {
		return nil, fmt.Errorf("bluez: decode GetManagedObjects: %w", err)
	}
	return objs, nil
}

// watch translates BlueZ signals into events.
func (m *Manager) watch(sigCh <-chan *dbus.Signal) {
	defer m.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			return
		case sig, ok := <-sigCh:
			if !ok {
				return
			}
			if sig == nil {
				continue
			}

			m.mu.Lock()
			events := m.tree.apply(sig)
			m.mu.Unlock()

			for _, ev := range events {
				switch ev.Kind {
				case dfu.ValueChanged:
					m.awaitWrite()
				case dfu.DeviceConnected:
					m.mu.Lock()
					accessory, ok := m.tree.accessoryOf(ev.Address)
					m.mu.Unlock()
					if ok {
						m.opts.logger.Info("bootloader connected", "address", ev.Address, "accessory", accessory)
					}
				}
				m.opts.logger.Debug("bluez event", "kind", ev.Kind, "address", ev.Address,
					"characteristic", ev.Characteristic)
				m.bus.Publish(ev)
			}
		}
	}
}

// awaitWrite blocks until no write is in flight.
func (m *Manager) awaitWrite() {
	m.writing.Lock()
	defer m.writing.Unlock()
}

// work runs queued method calls one at a time.
func (m *Manager) work() {
	defer m.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			return
		case cmd := <-m.cmds:
			cmd(m.ctx)
		}
	}
}

func (m *Manager) enqueue(cmd func(context.Context)) error {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return errClosed
	}

	select {
	case m.cmds <- cmd:
		return nil
	case <-m.ctx.Done():
		return errClosed
	}
}

func (m *Manager) call(ctx context.Context, path dbus.ObjectPath, method string, args ...any) error {
	return m.breaker.do(method, func() error {
		ctx, cancel := context.WithTimeout(ctx, m.opts.callTimeout)
		defer cancel()
		return m.conn.Object(bluezService, path).CallWithContext(ctx, method, 0, args...).Err
	})
}

// Subscribe implements dfu.ConnectionManager.
func (m *Manager) Subscribe() (<-chan dfu.Event, func()) {
	return m.bus.Subscribe()
}

// DeviceKnown implements dfu.ConnectionManager.
func (m *Manager) DeviceKnown(address string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, _, ok := m.tree.device(address)
	return ok
}

// ConnectByAddress implements dfu.ConnectionManager. Devices BlueZ has not
// seen are dialed through Adapter1.ConnectDevice.
func (m *Manager) ConnectByAddress(address string) error {
	return m.enqueue(func(ctx context.Context) {
		m.mu.Lock()
		path, _, known := m.tree.device(address)
		m.mu.Unlock()

		var err error
		if known {
			err = m.call(ctx, path, deviceIface+".Connect")
		} else {
			params := map[string]dbus.Variant{
				"Address":     dbus.MakeVariant(address),
				"AddressType": dbus.MakeVariant(m.opts.addressType),
			}
			err = m.call(ctx, m.adapter, adapterIface+".ConnectDevice", params)
		}
		if err != nil {
			m.opts.logger.Debug("bluez connect failed", "address", address, "error", err)
			m.bus.Publish(dfu.Event{Kind: dfu.ConnectFailed, Address: address, Err: err})
			return
		}

		// Connect succeeds without a property change when the link is
		// already up.
		m.mu.Lock()
		_, d, ok := m.tree.device(address)
		resolved := ok && d.servicesResolved
		m.mu.Unlock()
		if known && resolved {
			m.bus.Publish(dfu.Event{Kind: dfu.DeviceConnected, Address: address})
		}
	})
}

// Disconnect implements dfu.ConnectionManager.
func (m *Manager) Disconnect(address string) error {
	m.mu.Lock()
	path, _, ok := m.tree.device(address)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("bluez: device %s not known", address)
	}

	return m.enqueue(func(ctx context.Context) {
		if err := m.call(ctx, path, deviceIface+".Disconnect"); err != nil {
			m.opts.logger.Debug("bluez disconnect failed", "address", address, "error", err)
		}
	})
}

// RemoveDevice implements dfu.ConnectionManager.
func (m *Manager) RemoveDevice(address string) error {
	m.mu.Lock()
	path, _, ok := m.tree.device(address)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("bluez: device %s not known", address)
	}

	return m.enqueue(func(ctx context.Context) {
		if err := m.call(ctx, m.adapter, adapterIface+".RemoveDevice", path); err != nil {
			m.opts.logger.Debug("bluez remove device failed", "address", address, "error", err)
		}
	})
}

// SetNotify implements dfu.ConnectionManager.
func (m *Manager) SetNotify(address string, characteristic uuid.UUID, enable bool) error {
	m.mu.Lock()
	path, _, ok := m.tree.characteristic(address, characteristic)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("bluez: characteristic %s not found on %s", characteristic, address)
	}

	return m.enqueue(func(ctx context.Context) {
		method := charIface + ".StartNotify"
		if !enable {
			method = charIface + ".StopNotify"
		}

		err := m.call(ctx, path, method)
		switch {
		case err != nil:
			m.bus.Publish(dfu.Event{Kind: dfu.NotifyFailed, Address: address, Characteristic: characteristic, Err: err})
		case enable:
			m.bus.Publish(dfu.Event{Kind: dfu.NotifyEnabled, Address: address, Characteristic: characteristic})
		}
	})
}

// Write implements dfu.ConnectionManager. Characteristics that only accept
// write commands are written without response.
func (m *Manager) Write(address string, characteristic uuid.UUID, data []byte) error {
	m.mu.Lock()
	path, c, ok := m.tree.characteristic(address, characteristic)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("bluez: characteristic %s not found on %s", characteristic, address)
	}

	payload := append([]byte(nil), data...)
	writeType := "request"
	if c.withoutResponse {
		writeType = "command"
	}

	return m.enqueue(func(ctx context.Context) {
		if err := m.limiter.Wait(ctx); err != nil {
			return
		}

		m.writing.Lock()
		defer m.writing.Unlock()

		opts := map[string]dbus.Variant{"type": dbus.MakeVariant(writeType)}
		if err := m.call(ctx, path, charIface+".WriteValue", payload, opts); err != nil {
			m.bus.Publish(dfu.Event{Kind: dfu.WriteFailed, Address: address, Characteristic: characteristic, Err: err})
			return
		}
		m.bus.Publish(dfu.Event{Kind: dfu.WriteCompleted, Address: address, Characteristic: characteristic})
	})
}

// Close stops the manager and releases its D-Bus resources. It is safe to
// call more than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	cleanup := m.cleanup
	m.cleanup = nil
	m.mu.Unlock()

	m.cancel()
	for i := len(cleanup) - 1; i >= 0; i-- {
		cleanup[i]()
	}
	return nil
}
