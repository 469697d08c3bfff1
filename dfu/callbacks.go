package dfu

import "time"

// Progress contains information about the transfer progress.
// Passed to ProgressCallback after every acknowledged data packet.
type Progress struct {
	// SessionID identifies the session
	SessionID string

	// Address is the accessory being updated
	Address string

	// State is either StateSendingInitPacket or StateSendingFirmware
	State State

	// BytesSent is the number of bytes of the current payload sent so far
	BytesSent int

	// TotalBytes is the size of the current payload
	TotalBytes int

	// Percentage is the completion percentage of the current payload (0.0 to 100.0)
	Percentage float64

	// ElapsedTime is the time elapsed since the session started
	ElapsedTime time.Duration
}

// ProgressCallback is called from the engine goroutine to report progress.
// Implementations should return quickly to avoid stalling the transfer.
//
// Example:
//
//	eng := dfu.New(cm,
//	    dfu.WithProgressCallback(func(p dfu.Progress) {
//	        fmt.Printf("[%s] %.1f%%\n", p.State, p.Percentage)
//	    }),
//	)
type ProgressCallback func(Progress)

// Result is emitted exactly once when a session ends.
type Result struct {
	// SessionID identifies the session
	SessionID string

	// Address is the accessory address the session was started with
	Address string

	// TargetAddress is the bootloader address derived from Address
	TargetAddress string

	// Err is nil when the firmware object was executed
	Err error

	// ElapsedTime is the duration of the session
	ElapsedTime time.Duration
}

// Success reports whether the update completed.
func (r Result) Success() bool {
	return r.Err == nil
}

// ResultCallback is called from the engine goroutine when a session ends.
// It must not call back into the engine synchronously.
type ResultCallback func(Result)

// Logger is an optional logging interface that can be provided to the engine.
// *slog.Logger satisfies it.
//
// Example with log/slog:
//
//	eng := dfu.New(cm, dfu.WithLogger(slog.Default()))
type Logger interface {
	// Debug logs a debug message with optional key-value pairs
	Debug(msg string, keysAndValues ...any)

	// Info logs an info message with optional key-value pairs
	Info(msg string, keysAndValues ...any)

	// Error logs an error message with optional key-value pairs
	Error(msg string, keysAndValues ...any)
}
