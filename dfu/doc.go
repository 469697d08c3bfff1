// Package dfu updates Bluetooth LE accessories over Nordic Secure DFU.
//
// # Overview
//
// An update session runs through these steps:
//   - Asking the running application to reboot into its bootloader through the
//     buttonless DFU characteristic
//   - Connecting to the bootloader, which advertises at the accessory address
//     with the last octet incremented
//   - Transferring the init packet, then the firmware image, as objects no
//     larger than the bootloader allows, in small data packets
//   - Verifying each object by CRC32 before executing it
//
// # Basic Usage
//
// The engine talks to the radio through a ConnectionManager. It runs on its own
// goroutine and reports the outcome of every session to a callback:
//
//	cm, err := bluez.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer cm.Close()
//
//	done := make(chan dfu.Result, 1)
//	eng := dfu.New(cm,
//	    dfu.WithLogger(slog.Default()),
//	    dfu.WithResultCallback(func(r dfu.Result) { done <- r }),
//	)
//	go eng.Run(ctx)
//
//	if err := eng.Initiate(ctx, "C8:2B:96:A1:B2:10", "app_dfu_package.zip"); err != nil {
//	    log.Fatal(err)
//	}
//	r := <-done
//
// # Progress Tracking
//
//	eng := dfu.New(cm,
//	    dfu.WithProgressCallback(func(p dfu.Progress) {
//	        fmt.Printf("[%s] %d/%d bytes (%.1f%%)\n",
//	            p.State, p.BytesSent, p.TotalBytes, p.Percentage)
//	    }),
//	)
//
// # Flow Control
//
// The init packet is sent without packet receipt notifications. The firmware
// image is sent with a notification every 10 packets by default; the engine
// stops after each batch until the notification arrives and checks the offset
// and CRC it carries.
//
// # Error Handling
//
// Initiate fails synchronously with ErrAlreadyInProgress, *AddressError or
// *PackageLoadError. Once a session starts, exactly one Result is delivered.
// Its Err is nil on success or one of:
//   - ErrTimeout if nothing happened for the configured timeout
//   - *ChecksumMismatchError if the bootloader reports a different CRC
//   - *protocol.ResultError if the bootloader rejects a request
//   - *protocol.ProtocolError if a response cannot be decoded
//   - *DisconnectedError if the bootloader drops the link or cannot be reached
//   - *TransportError if the connection manager reports a failure
//
// # Thread Safety
//
// Initiate and State may be called from any goroutine. Callbacks run on the
// engine goroutine and must not call Initiate synchronously.
package dfu
