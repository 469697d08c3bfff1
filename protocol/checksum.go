package protocol

import "hash/crc32"

// CRC accumulates the CRC32 (IEEE) of bytes sent for one object type.
// The zero value is ready to use.
type CRC struct {
	sum uint32
}

// Reset clears the accumulator.
func (c *CRC) Reset() {
	c.sum = 0
}

// Update folds p into the running checksum.
func (c *CRC) Update(p []byte) {
	c.sum = crc32.Update(c.sum, crc32.IEEETable, p)
}

// Sum32 returns the current checksum.
func (c *CRC) Sum32() uint32 {
	return c.sum
}
