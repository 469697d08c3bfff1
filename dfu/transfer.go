package dfu

// TransferProgress tracks how much of one object type (init packet or
// firmware image) has been sent, split into objects no larger than the
// bootloader's maximum object size.
type TransferProgress struct {
	total         uint32
	maxObjectSize uint32
	sent          uint32
	objectStart   uint32
}

// Initialize resets progress for a payload of total bytes.
func (t *TransferProgress) Initialize(total, maxObjectSize uint32) {
	t.total = total
	t.maxObjectSize = maxObjectSize
	t.sent = 0
	t.objectStart = 0
}

// CurrentObjectLength is the size of the object being transferred.
func (t *TransferProgress) CurrentObjectLength() uint32 {
	return min(t.maxObjectSize, t.total-t.objectStart)
}

// CurrentObjectAvailableLength is the number of bytes of the current object
// not yet sent.
func (t *TransferProgress) CurrentObjectAvailableLength() uint32 {
	return t.CurrentObjectLength() - (t.sent - t.objectStart)
}

// BytesSentAdd records n more bytes as sent.
func (t *TransferProgress) BytesSentAdd(n uint32) {
	t.sent += n
}

// BytesSent is the number of bytes sent for this object type.
func (t *TransferProgress) BytesSent() uint32 {
	return t.sent
}

// Total is the payload size.
func (t *TransferProgress) Total() uint32 {
	return t.total
}

// IsObjectComplete reports whether every byte of the current object was sent.
func (t *TransferProgress) IsObjectComplete() bool {
	return t.sent-t.objectStart >= t.CurrentObjectLength()
}

// IsComplete reports whether the whole payload was sent.
func (t *TransferProgress) IsComplete() bool {
	return t.sent >= t.total
}

// NextObject advances to the next object.
func (t *TransferProgress) NextObject() {
	t.objectStart += t.CurrentObjectLength()
}

// PercentComplete returns the sent share of the payload, 0 to 100.
func (t *TransferProgress) PercentComplete() float64 {
	if t.total == 0 {
		return 0
	}
	return float64(t.sent) * 100 / float64(t.total)
}
