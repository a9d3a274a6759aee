package wtfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBitmapSetTestRoundTrip(t *testing.T) {
	dev := newMemDevice(1)
	buf, err := dev.Read(0)
	require.NoError(t, err)
	initSingletonChain(buf)
	buf.Release()

	require.NoError(t, bitmapSet(dev, 0, 5, true))
	got, err := bitmapTest(dev, 0, 5)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = bitmapTest(dev, 0, 6)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestScanChainForZeroFindsFirstClearBit(t *testing.T) {
	dev := newMemDevice(1)
	buf, err := dev.Read(0)
	require.NoError(t, err)
	initSingletonChain(buf)
	buf.Release()

	require.NoError(t, bitmapSet(dev, 0, 0, true))
	require.NoError(t, bitmapSet(dev, 0, 1, true))

	index, chainBlocks, found, err := scanChainForZero(dev, 0)
	require.NoError(t, err)
	assert.True(t, found)
	assert.EqualValues(t, 2, index)
	assert.EqualValues(t, 1, chainBlocks)
}

func TestCountSetBits(t *testing.T) {
	dev := newMemDevice(1)
	buf, err := dev.Read(0)
	require.NoError(t, err)
	initSingletonChain(buf)
	buf.Release()

	for _, i := range []uint64{0, 3, 7, 100} {
		require.NoError(t, bitmapSet(dev, 0, i, true))
	}

	n, err := countSetBits(dev, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 4, n)
}

func TestFindFirstZeroGlobalExhausted(t *testing.T) {
	dev := newMemDevice(1)
	buf, err := dev.Read(0)
	require.NoError(t, err)
	initSingletonChain(buf)
	for i := range buf.Bytes()[:BitmapPayloadSize] {
		buf.Bytes()[i] = 0xFF
	}
	buf.MarkDirty()
	buf.Release()

	_, err = findFirstZeroGlobal(dev, 0)
	assert.Error(t, err)
}
