package wtfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemDevice(totalBlocks uint) *Device {
	backing := make([]byte, uint(BlockSize)*totalBlocks)
	fetch := func(id BlockID, buf []byte) error {
		off := uint(id) * BlockSize
		copy(buf, backing[off:off+BlockSize])
		return nil
	}
	flush := func(id BlockID, buf []byte) error {
		off := uint(id) * BlockSize
		copy(backing[off:off+BlockSize], buf)
		return nil
	}
	return NewDevice(totalBlocks, fetch, flush)
}

func TestDeviceReadWriteRoundTrip(t *testing.T) {
	dev := newMemDevice(4)

	buf, err := dev.Read(1)
	require.NoError(t, err)
	buf.Bytes()[0] = 0xAB
	buf.MarkDirty()
	buf.Release()

	buf2, err := dev.Read(1)
	require.NoError(t, err)
	assert.EqualValues(t, 0xAB, buf2.Bytes()[0])
	buf2.Release()
}

func TestDeviceOutstandingRefs(t *testing.T) {
	dev := newMemDevice(2)

	buf, err := dev.Read(0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, dev.OutstandingRefs(0))
	buf.Release()
	assert.EqualValues(t, 0, dev.OutstandingRefs(0))
}

func TestDeviceReadOutOfRange(t *testing.T) {
	dev := newMemDevice(2)
	_, err := dev.Read(2)
	assert.Error(t, err)
}

func TestDeviceFlushAllClearsDirty(t *testing.T) {
	dev := newMemDevice(2)

	buf, err := dev.Read(0)
	require.NoError(t, err)
	buf.Bytes()[0] = 1
	buf.MarkDirty()
	buf.Release()

	require.NoError(t, dev.FlushAll())
	assert.False(t, dev.dirty.Get(0))
}

func TestBufferWriteThrough(t *testing.T) {
	dev := newMemDevice(1)

	buf, err := dev.Read(0)
	require.NoError(t, err)
	buf.Bytes()[2] = 0x42
	require.NoError(t, buf.WriteThrough())
	assert.False(t, dev.dirty.Get(0))
	buf.Release()
}
