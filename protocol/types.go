package protocol

// Response is a decoded control point notification.
type Response struct {
	// Opcode is the request opcode this response answers
	Opcode byte

	// Result is the result code reported by the bootloader
	Result byte

	// ExtendedError is set when Result is ResultExtendedError
	ExtendedError byte

	// Payload holds any bytes after the result code
	Payload []byte
}

// ChecksumResult is returned by Calculate Checksum and by packet receipt
// notifications.
type ChecksumResult struct {
	// Offset is the number of bytes received for the current object type
	Offset uint32

	// CRC is the CRC32 of those bytes
	CRC uint32
}

// SelectResult is returned by Select Object.
type SelectResult struct {
	// MaxSize is the largest object the bootloader accepts for this type
	MaxSize uint32

	// Offset is the number of bytes already received for this type
	Offset uint32

	// CRC is the CRC32 of those bytes
	CRC uint32
}
