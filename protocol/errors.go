package protocol

import (
	"errors"
	"fmt"
)

// ResultError represents a non-success result code returned by the bootloader.
type ResultError struct {
	// Opcode is the request that failed
	Opcode byte

	// Result is the result code from the response
	Result byte

	// ExtendedError is set when Result is ResultExtendedError
	ExtendedError byte
}

func (e *ResultError) Error() string {
	if e.Result == ResultExtendedError {
		return fmt.Sprintf("%s failed: %s: %s (0x%02X)",
			OpcodeName(e.Opcode), ResultName(e.Result), ExtendedErrorName(e.ExtendedError), e.ExtendedError)
	}
	return fmt.Sprintf("%s failed: %s (0x%02X)", OpcodeName(e.Opcode), ResultName(e.Result), e.Result)
}

// IsResultError returns true if err wraps a *ResultError.
func IsResultError(err error) bool {
	var re *ResultError
	return errors.As(err, &re)
}

// ProtocolError represents a frame that could not be decoded.
type ProtocolError struct {
	// Opcode is the request the frame answers, if known
	Opcode byte

	// Reason describes what is wrong with the frame
	Reason string
}

func (e *ProtocolError) Error() string {
	if e.Opcode != 0 {
		return fmt.Sprintf("protocol error in %s response: %s", OpcodeName(e.Opcode), e.Reason)
	}
	return "protocol error: " + e.Reason
}

// IsProtocolError returns true if err wraps a *ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

// OpcodeName returns a human-readable name for a control point opcode.
func OpcodeName(op byte) string {
	switch op {
	case OpCreate:
		return "create object"
	case OpSetPRN:
		return "set PRN"
	case OpCalculateChecksum:
		return "calculate checksum"
	case OpExecute:
		return "execute"
	case OpSelectObject:
		return "select object"
	default:
		return fmt.Sprintf("opcode 0x%02X", op)
	}
}

// ResultName returns a human-readable name for a result code.
func ResultName(code byte) string {
	switch code {
	case ResultInvalid:
		return "invalid code"
	case ResultSuccess:
		return "success"
	case ResultOpNotSupported:
		return "operation not supported"
	case ResultInvalidParameter:
		return "invalid parameter"
	case ResultInsufficientResources:
		return "insufficient resources"
	case ResultInvalidObject:
		return "invalid object"
	case ResultUnsupportedType:
		return "unsupported type"
	case ResultOperationNotPermitted:
		return "operation not permitted"
	case ResultOperationFailed:
		return "operation failed"
	case ResultExtendedError:
		return "extended error"
	default:
		return fmt.Sprintf("unknown result code 0x%02X", code)
	}
}

// ExtendedErrorName returns a human-readable name for an extended error code.
func ExtendedErrorName(code byte) string {
	switch code {
	case ExtNoError:
		return "no error"
	case ExtInvalidErrorCode:
		return "invalid error code"
	case ExtWrongCommandFormat:
		return "wrong command format"
	case ExtUnknownCommand:
		return "unknown command"
	case ExtInitCommandInvalid:
		return "init command invalid"
	case ExtFwVersionFailure:
		return "firmware version failure"
	case ExtHwVersionFailure:
		return "hardware version failure"
	case ExtSdVersionFailure:
		return "softdevice version failure"
	case ExtSignatureMissing:
		return "signature missing"
	case ExtWrongHashType:
		return "wrong hash type"
	case ExtHashFailed:
		return "hash failed"
	case ExtWrongSignatureType:
		return "wrong signature type"
	case ExtVerificationFailed:
		return "verification failed"
	case ExtInsufficientSpace:
		return "insufficient space"
	default:
		return fmt.Sprintf("unknown extended error 0x%02X", code)
	}
}
