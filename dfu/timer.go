package dfu

import "time"

// eventTimer is a restartable one-shot timer whose channel is nil while
// stopped, so it can sit in a select unconditionally.
type eventTimer struct {
	t *time.Timer
	C <-chan time.Time
}

func (e *eventTimer) restart(d time.Duration) {
	e.stop()
	e.t = time.NewTimer(d)
	e.C = e.t.C
}

func (e *eventTimer) stop() {
	if e.t != nil {
		e.t.Stop()
		e.t = nil
	}
	e.C = nil
}
