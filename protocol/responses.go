package protocol

import (
	"encoding/binary"
	"fmt"
)

// ParseResponse decodes a control point notification.
//
// Response frame structure:
//
//	[0x60][OPCODE][RESULT][EXT_ERROR or PAYLOAD...]
//
// Frames shorter than MinResponseSize or without the response marker
// return a *ProtocolError.
func ParseResponse(frame []byte) (*Response, error) {
	if len(frame) < MinResponseSize {
		return nil, &ProtocolError{
			Reason: fmt.Sprintf("response too short: got %d bytes, minimum is %d", len(frame), MinResponseSize),
		}
	}
	if frame[0] != OpResponse {
		return nil, &ProtocolError{
			Reason: fmt.Sprintf("invalid response marker: got 0x%02X, expected 0x%02X", frame[0], OpResponse),
		}
	}

	resp := &Response{
		Opcode:  frame[1],
		Result:  frame[2],
		Payload: frame[MinResponseSize:],
	}
	if resp.Result == ResultExtendedError && len(resp.Payload) > 0 {
		resp.ExtendedError = resp.Payload[0]
	}
	return resp, nil
}

// Err returns nil for a successful response and a *ResultError otherwise.
func (r *Response) Err() error {
	if r.Result == ResultSuccess {
		return nil
	}
	return &ResultError{
		Opcode:        r.Opcode,
		Result:        r.Result,
		ExtendedError: r.ExtendedError,
	}
}

// ParseChecksumResponse parses the payload of a Calculate Checksum response.
//
// Data format (ChecksumPayloadSize bytes):
//
//	[OFFSET(4)][CRC32(4)]
func ParseChecksumResponse(payload []byte) (*ChecksumResult, error) {
	if len(payload) < ChecksumPayloadSize {
		return nil, &ProtocolError{
			Opcode: OpCalculateChecksum,
			Reason: fmt.Sprintf("checksum payload too short: got %d bytes, expected %d", len(payload), ChecksumPayloadSize),
		}
	}

	return &ChecksumResult{
		Offset: binary.LittleEndian.Uint32(payload[0:4]),
		CRC:    binary.LittleEndian.Uint32(payload[4:8]),
	}, nil
}

// ParseSelectResponse parses the payload of a Select Object response.
//
// Data format (SelectPayloadSize bytes):
//
//	[MAX_SIZE(4)][OFFSET(4)][CRC32(4)]
func ParseSelectResponse(payload []byte) (*SelectResult, error) {
	if len(payload) < SelectPayloadSize {
		return nil, &ProtocolError{
			Opcode: OpSelectObject,
			Reason: fmt.Sprintf("select payload too short: got %d bytes, expected %d", len(payload), SelectPayloadSize),
		}
	}

	return &SelectResult{
		MaxSize: binary.LittleEndian.Uint32(payload[0:4]),
		Offset:  binary.LittleEndian.Uint32(payload[4:8]),
		CRC:     binary.LittleEndian.Uint32(payload[8:12]),
	}, nil
}

// BuildResponse encodes a response frame. Bootloader emulators use it to
// answer control point writes.
func BuildResponse(opcode, result byte, payload ...byte) []byte {
	frame := make([]byte, 0, MinResponseSize+len(payload))
	frame = append(frame, OpResponse, opcode, result)
	return append(frame, payload...)
}

// BuildChecksumPayload encodes offset and crc for a checksum response.
func BuildChecksumPayload(offset, crc uint32) []byte {
	payload := make([]byte, ChecksumPayloadSize)
	binary.LittleEndian.PutUint32(payload[0:4], offset)
	binary.LittleEndian.PutUint32(payload[4:8], crc)
	return payload
}

// BuildSelectPayload encodes the select response fields.
func BuildSelectPayload(maxSize, offset, crc uint32) []byte {
	payload := make([]byte, SelectPayloadSize)
	binary.LittleEndian.PutUint32(payload[0:4], maxSize)
	binary.LittleEndian.PutUint32(payload[4:8], offset)
	binary.LittleEndian.PutUint32(payload[8:12], crc)
	return payload
}
