package bluez

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/sony/gobreaker/v2"
)

// callBreaker guards method calls to bluetoothd. Errors that BlueZ itself
// replies with (org.bluez.Error.*) mean the daemon is alive and do not
// count; missing replies, timeouts and bus errors do.
type callBreaker struct {
	cb *gobreaker.CircuitBreaker[struct{}]
}

func newCallBreaker(o options, logger *slog.Logger) *callBreaker {
	maxFailures := o.breakerFailures
	return &callBreaker{
		cb: gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
			Name:        "bluez:" + o.adapter,
			MaxRequests: 1,
			Timeout:     o.breakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= maxFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("circuit breaker state change",
					"breaker", name,
					"from", from.String(),
					"to", to.String(),
				)
			},
			IsSuccessful: daemonAnswered,
		}),
	}
}

// do runs call through the breaker.
func (b *callBreaker) do(method string, call func() error) error {
	_, err := b.cb.Execute(func() (struct{}, error) {
		return struct{}{}, call()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("bluez: %s: bluetoothd not responding: %w", method, err)
	}
	return err
}

func (b *callBreaker) state() gobreaker.State {
	return b.cb.State()
}

// daemonAnswered reports whether err is nil or an error reply from BlueZ.
func daemonAnswered(err error) bool {
	if err == nil {
		return true
	}
	return strings.HasPrefix(errorName(err), bluezService+".Error.")
}

// errorName returns the D-Bus error name carried by err, if any.
func errorName(err error) string {
	var e dbus.Error
	if errors.As(err, &e) {
		return e.Name
	}
	var pe *dbus.Error
	if errors.As(err, &pe) && pe != nil {
		return pe.Name
	}
	return ""
}
