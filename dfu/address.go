package dfu

import (
	"fmt"
	"net"
	"strings"
)

// AddressLength is the length of a colon separated six octet address.
const AddressLength = 17

// TargetAddress returns the address the accessory advertises from once it is
// running its bootloader: the last octet incremented by one, modulo 256.
// The first five octets are kept as written and the last octet is uppercase.
//
// Example:
//
//	addr, _ := dfu.TargetAddress("C8:2B:96:A1:B2:FF") // "C8:2B:96:A1:B2:00"
func TargetAddress(accessory string) (string, error) {
	return shiftLastOctet(accessory, 1)
}

// AccessoryAddress is the inverse of TargetAddress. The last octet comes
// back uppercase, so a lowercase address round trips only up to SameAddress.
func AccessoryAddress(target string) (string, error) {
	return shiftLastOctet(target, -1)
}

// SameAddress compares two addresses ignoring case.
func SameAddress(a, b string) bool {
	return strings.EqualFold(a, b)
}

func shiftLastOctet(addr string, delta int) (string, error) {
	if len(addr) != AddressLength {
		return "", &AddressError{Address: addr, Reason: fmt.Sprintf("expected %d characters, got %d", AddressLength, len(addr))}
	}
	for i := 2; i < AddressLength; i += 3 {
		if addr[i] != ':' {
			return "", &AddressError{Address: addr, Reason: "octets must be separated by ':'"}
		}
	}

	hw, err := net.ParseMAC(addr)
	if err != nil || len(hw) != 6 {
		return "", &AddressError{Address: addr, Reason: "invalid hex octet"}
	}

	last := byte(int(hw[5]) + delta)
	return addr[:AddressLength-2] + fmt.Sprintf("%02X", last), nil
}
