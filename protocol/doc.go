// Package protocol implements the Nordic Secure DFU control point protocol.
//
// This package provides functions to build control point commands and parse
// the notifications the bootloader sends back.
//
// # Protocol Overview
//
// Commands are written to the DFU control point characteristic. Object data
// (init packet and firmware image) is written in small chunks to the DFU packet
// characteristic. Every control point write is answered by a notification:
//
//	Command:  [OPCODE][PARAMS...]
//	Response: [0x60][OPCODE][RESULT][PAYLOAD...]
//
// Multi-byte integers are little-endian.
//
// # Command Builders
//
//	frame, err := protocol.BuildCreateCmd(protocol.ObjectFirmware, 4096)
//	frame := protocol.BuildSetPRNCmd(10)
//	frame, err := protocol.BuildSelectObjectCmd(protocol.ObjectInitPacket)
//
// # Response Parsers
//
// Use ParseResponse to validate the frame and extract the result code:
//
//	resp, err := protocol.ParseResponse(frame)
//	if err != nil {
//	    // malformed frame
//	}
//	if err := resp.Err(); err != nil {
//	    // *ResultError, possibly carrying an extended error code
//	}
//
// Then use the Parse* functions for opcode-specific payloads:
//
//	sel, err := protocol.ParseSelectResponse(resp.Payload)
//	sum, err := protocol.ParseChecksumResponse(resp.Payload)
//
// # Checksums
//
// CRC accumulates the CRC32 of every byte sent for an object type so it can be
// compared with the offset and CRC reported by the bootloader.
package protocol
