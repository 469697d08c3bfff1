package protocol

// Control point opcodes written to the DFU control point characteristic.
const (
	// OpCreate creates a new data object of a given type and size
	OpCreate = 0x01

	// OpSetPRN sets the packet receipt notification interval
	OpSetPRN = 0x02

	// OpCalculateChecksum requests the offset and CRC32 of the current object
	OpCalculateChecksum = 0x03

	// OpExecute commits the current object
	OpExecute = 0x04

	// OpSelectObject selects the last object of a type and reports its limits
	OpSelectObject = 0x06

	// OpResponse is the first byte of every control point notification
	OpResponse = 0x60
)

// Object types used by Create and Select.
const (
	// ObjectInitPacket is the signed init packet (command object)
	ObjectInitPacket = 0x01

	// ObjectFirmware is the firmware image (data object)
	ObjectFirmware = 0x02
)

// Result codes carried in byte 2 of a response.
const (
	ResultInvalid               = 0x00
	ResultSuccess               = 0x01
	ResultOpNotSupported        = 0x02
	ResultInvalidParameter      = 0x03
	ResultInsufficientResources = 0x04
	ResultInvalidObject         = 0x05
	ResultUnsupportedType       = 0x07
	ResultOperationNotPermitted = 0x08
	ResultOperationFailed       = 0x0A
	ResultExtendedError         = 0x0B
)

// Extended error codes, valid when the result code is ResultExtendedError.
const (
	ExtNoError            = 0x00
	ExtInvalidErrorCode   = 0x01
	ExtWrongCommandFormat = 0x02
	ExtUnknownCommand     = 0x03
	ExtInitCommandInvalid = 0x04
	ExtFwVersionFailure   = 0x05
	ExtHwVersionFailure   = 0x06
	ExtSdVersionFailure   = 0x07
	ExtSignatureMissing   = 0x08
	ExtWrongHashType      = 0x09
	ExtHashFailed         = 0x0A
	ExtWrongSignatureType = 0x0B
	ExtVerificationFailed = 0x0C
	ExtInsufficientSpace  = 0x0D
)

// ButtonlessEnterBootloader is the single byte written to the buttonless
// characteristic to reboot the accessory into its bootloader.
const ButtonlessEnterBootloader = 0x01

// Frame sizes.
const (
	// MinResponseSize is marker(1) + opcode(1) + result(1)
	MinResponseSize = 3

	// ChecksumPayloadSize is offset(4) + crc(4)
	ChecksumPayloadSize = 8

	// SelectPayloadSize is maxSize(4) + offset(4) + crc(4)
	SelectPayloadSize = 12

	// DefaultPacketSize is the number of payload bytes per data packet write.
	DefaultPacketSize = 20
)
