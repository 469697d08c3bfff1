// Package updater keeps a fleet of accessories on the packaged firmware
// version. Accessories that report a different version are queued and
// updated one at a time through a DFU engine.
//
// Every accessory is attempted once per process: a finished DFU marks it
// verified whether it succeeded or not, so an accessory that keeps failing
// is not dropped into an endless restart loop.
package updater

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/moffa90/go-nrfdfu/dfu"
)

// Initiator starts a DFU session. *dfu.Engine satisfies it.
type Initiator interface {
	Initiate(ctx context.Context, accessoryAddress, packagePath string) error
}

// Accessory is a connected accessory and the firmware version it reports.
type Accessory struct {
	Address string
	Version string
}

// Option configures an Updater.
type Option func(*Updater)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(u *Updater) {
		u.logger = l
	}
}

// Updater queues accessories and runs their updates sequentially.
type Updater struct {
	dfu    Initiator
	pkg    Package
	logger *slog.Logger

	wake chan struct{}

	mu       sync.Mutex
	queue    []Accessory
	active   string
	verified map[string]bool
	results  map[string]dfu.Result
	changed  chan struct{}
}

// New creates an Updater that installs pkg through initiator. The caller must
// route the engine's results to HandleResult.
func New(initiator Initiator, pkg Package, opts ...Option) *Updater {
	u := &Updater{
		dfu:      initiator,
		pkg:      pkg,
		logger:   slog.Default(),
		wake:     make(chan struct{}, 1),
		verified: make(map[string]bool),
		results:  make(map[string]dfu.Result),
		changed:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Add queues an accessory for a version check. Accessories already verified
// or already queued are ignored.
func (u *Updater) Add(acc Accessory) {
	key := addressKey(acc.Address)

	u.mu.Lock()
	if u.verified[key] || u.queuedLocked(key) {
		u.mu.Unlock()
		return
	}
	u.queue = append(u.queue, acc)
	u.notifyLocked()
	u.mu.Unlock()

	u.logger.Debug("accessory queued", "address", acc.Address, "version", acc.Version)
	u.signal()
}

// HandleResult records the outcome of a DFU session and moves on to the next
// accessory. It never blocks, so it can be used as the engine's result
// callback directly.
func (u *Updater) HandleResult(r dfu.Result) {
	if r.Success() {
		u.logger.Info("accessory updated", "address", r.Address, "version", u.pkg.Version,
			"session", r.SessionID, "elapsed", r.ElapsedTime)
	} else {
		u.logger.Error("accessory update failed", "address", r.Address,
			"session", r.SessionID, "error", r.Err)
	}

	key := addressKey(r.Address)

	u.mu.Lock()
	u.results[key] = r
	if u.active == key {
		u.active = ""
	}
	u.verifyLocked(key)
	u.mu.Unlock()

	u.signal()
}

// Run processes the queue until ctx is cancelled.
func (u *Updater) Run(ctx context.Context) error {
	// The first pass covers anything queued before Run.
	select {
	case <-u.wake:
	default:
	}

	for {
		u.process(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-u.wake:
		}
	}
}

// Wait blocks until the queue is empty and no update is running.
func (u *Updater) Wait(ctx context.Context) error {
	for {
		u.mu.Lock()
		if len(u.queue) == 0 && u.active == "" {
			u.mu.Unlock()
			return nil
		}
		changed := u.changed
		u.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Verified reports whether the accessory has been checked or updated.
func (u *Updater) Verified(address string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.verified[addressKey(address)]
}

// Result returns the DFU result recorded for the accessory, if any.
func (u *Updater) Result(address string) (dfu.Result, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	r, ok := u.results[addressKey(address)]
	return r, ok
}

// Pending returns the accessories still waiting, including the one being
// updated.
func (u *Updater) Pending() []Accessory {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]Accessory(nil), u.queue...)
}

// process starts the update for the head of the queue, skipping accessories
// that are up to date or cannot be started.
func (u *Updater) process(ctx context.Context) {
	for ctx.Err() == nil {
		u.mu.Lock()
		if u.active != "" || len(u.queue) == 0 {
			u.mu.Unlock()
			return
		}
		acc := u.queue[0]
		key := addressKey(acc.Address)

		if acc.Version == u.pkg.Version {
			u.verifyLocked(key)
			u.mu.Unlock()
			u.logger.Debug("accessory firmware up to date", "address", acc.Address, "version", acc.Version)
			continue
		}
		u.active = key
		u.mu.Unlock()

		u.logger.Info("accessory firmware out of date", "address", acc.Address,
			"installed", acc.Version, "package", u.pkg.Version, "path", u.pkg.Path)

		err := u.dfu.Initiate(ctx, acc.Address, u.pkg.Path)
		if err == nil {
			continue
		}

		u.mu.Lock()
		if u.active == key {
			u.active = ""
		}
		if errors.Is(err, dfu.ErrAlreadyInProgress) || ctx.Err() != nil {
			// Retried when the running session reports its result.
			u.notifyLocked()
			u.mu.Unlock()
			u.logger.Debug("dfu busy, accessory waits", "address", acc.Address, "error", err)
			return
		}
		u.verifyLocked(key)
		u.mu.Unlock()

		u.logger.Error("cannot start dfu", "address", acc.Address, "error", err)
	}
}

func (u *Updater) queuedLocked(key string) bool {
	for _, acc := range u.queue {
		if addressKey(acc.Address) == key {
			return true
		}
	}
	return false
}

// verifyLocked marks the accessory verified and drops it from the queue.
func (u *Updater) verifyLocked(key string) {
	u.verified[key] = true
	kept := u.queue[:0]
	for _, acc := range u.queue {
		if addressKey(acc.Address) != key {
			kept = append(kept, acc)
		}
	}
	u.queue = kept
	u.notifyLocked()
}

func (u *Updater) notifyLocked() {
	close(u.changed)
	u.changed = make(chan struct{})
}

func (u *Updater) signal() {
	select {
	case u.wake <- struct{}{}:
	default:
	}
}

func addressKey(address string) string {
	return strings.ToUpper(address)
}
