package protocol

import (
	"encoding/binary"
	"fmt"
)

func validObjectType(objectType byte) error {
	if objectType != ObjectInitPacket && objectType != ObjectFirmware {
		return fmt.Errorf("invalid object type 0x%02X", objectType)
	}
	return nil
}

// BuildCreateCmd constructs a Create Object command.
//
// Frame structure:
//
//	[0x01][TYPE][SIZE_0][SIZE_1][SIZE_2][SIZE_3]
func BuildCreateCmd(objectType byte, size uint32) ([]byte, error) {
	if err := validObjectType(objectType); err != nil {
		return nil, err
	}

	frame := make([]byte, 6)
	frame[0] = OpCreate
	frame[1] = objectType
	binary.LittleEndian.PutUint32(frame[2:], size)
	return frame, nil
}

// BuildSetPRNCmd constructs a Set Packet Receipt Notification command.
// A count of 0 disables notifications.
//
//	[0x02][COUNT_L][COUNT_H]
func BuildSetPRNCmd(count uint16) []byte {
	frame := make([]byte, 3)
	frame[0] = OpSetPRN
	binary.LittleEndian.PutUint16(frame[1:], count)
	return frame
}

// BuildCalculateChecksumCmd constructs a Calculate Checksum command.
func BuildCalculateChecksumCmd() []byte {
	return []byte{OpCalculateChecksum}
}

// BuildExecuteCmd constructs an Execute command.
func BuildExecuteCmd() []byte {
	return []byte{OpExecute}
}

// BuildSelectObjectCmd constructs a Select Object command.
//
//	[0x06][TYPE]
func BuildSelectObjectCmd(objectType byte) ([]byte, error) {
	if err := validObjectType(objectType); err != nil {
		return nil, err
	}
	return []byte{OpSelectObject, objectType}, nil
}

// BuildRestartCmd constructs the buttonless "enter bootloader" write.
func BuildRestartCmd() []byte {
	return []byte{ButtonlessEnterBootloader}
}
