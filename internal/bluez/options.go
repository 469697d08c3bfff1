package bluez

import (
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// Defaults.
const (
	DefaultAdapter     = "hci0"
	DefaultAddressType = "random"
	DefaultCallTimeout = 30 * time.Second

	DefaultBreakerFailures = 3
	DefaultBreakerTimeout  = 30 * time.Second
	commandQueueSize       = 64
)

type options struct {
	adapter     string
	addressType string
	writeLimit  rate.Limit
	writeBurst  int
	callTimeout time.Duration
	logger      *slog.Logger

	breakerFailures uint32
	breakerTimeout  time.Duration
}

func defaultOptions() options {
	return options{
		adapter:     DefaultAdapter,
		addressType: DefaultAddressType,
		writeLimit:  rate.Inf,
		writeBurst:  1,
		callTimeout: DefaultCallTimeout,
		logger:      slog.Default(),

		breakerFailures: DefaultBreakerFailures,
		breakerTimeout:  DefaultBreakerTimeout,
	}
}

// Option configures a Manager.
type Option func(*options)

// WithAdapter selects the local adapter, e.g. "hci1".
func WithAdapter(name string) Option {
	return func(o *options) {
		o.adapter = name
	}
}

// WithAddressType sets the LE address type used to dial devices BlueZ has
// not discovered yet: "random" or "public".
func WithAddressType(t string) Option {
	return func(o *options) {
		o.addressType = t
	}
}

// WithWriteRate paces characteristic writes to perSecond with the given
// burst. Zero or negative disables pacing.
func WithWriteRate(perSecond float64, burst int) Option {
	return func(o *options) {
		if perSecond <= 0 {
			o.writeLimit = rate.Inf
			return
		}
		o.writeLimit = rate.Limit(perSecond)
		o.writeBurst = max(burst, 1)
	}
}

// WithCallTimeout bounds every D-Bus method call.
func WithCallTimeout(d time.Duration) Option {
	return func(o *options) {
		o.callTimeout = d
	}
}

// WithBreaker stops calling bluetoothd for openFor after failures
// consecutive calls got no answer from it.
func WithBreaker(failures uint32, openFor time.Duration) Option {
	return func(o *options) {
		o.breakerFailures = max(failures, 1)
		o.breakerTimeout = openFor
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}
