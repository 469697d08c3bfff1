package dfu

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransferProgressObjects(t *testing.T) {
	var p TransferProgress
	p.Initialize(1000, 512)

	assert.Equal(t, uint32(512), p.CurrentObjectLength())
	assert.Equal(t, uint32(512), p.CurrentObjectAvailableLength())
	assert.False(t, p.IsObjectComplete())

	for !p.IsObjectComplete() {
		p.BytesSentAdd(min(20, p.CurrentObjectAvailableLength()))
	}
	assert.Equal(t, uint32(512), p.BytesSent())
	assert.Equal(t, uint32(0), p.CurrentObjectAvailableLength())
	assert.False(t, p.IsComplete())

	p.NextObject()
	assert.Equal(t, uint32(488), p.CurrentObjectLength())
	assert.Equal(t, uint32(488), p.CurrentObjectAvailableLength())

	for !p.IsObjectComplete() {
		p.BytesSentAdd(min(20, p.CurrentObjectAvailableLength()))
	}
	assert.True(t, p.IsComplete())
	assert.Equal(t, uint32(1000), p.BytesSent())
	assert.InDelta(t, 100.0, p.PercentComplete(), 0.001)
}

func TestTransferProgressSingleObject(t *testing.T) {
	var p TransferProgress
	p.Initialize(141, 512)

	assert.Equal(t, uint32(141), p.CurrentObjectLength())
	p.BytesSentAdd(100)
	assert.Equal(t, uint32(41), p.CurrentObjectAvailableLength())
	assert.InDelta(t, 70.92, p.PercentComplete(), 0.01)
	p.BytesSentAdd(41)
	assert.True(t, p.IsObjectComplete())
	assert.True(t, p.IsComplete())
}

func TestTransferProgressReinitialize(t *testing.T) {
	var p TransferProgress
	p.Initialize(100, 50)
	p.BytesSentAdd(50)
	p.NextObject()

	p.Initialize(30, 50)
	assert.Equal(t, uint32(0), p.BytesSent())
	assert.Equal(t, uint32(30), p.CurrentObjectLength())
	assert.Equal(t, 0.0, (&TransferProgress{}).PercentComplete())
}
