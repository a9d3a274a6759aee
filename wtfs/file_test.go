package wtfs

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileWriteThenReadRoundTrip(t *testing.T) {
	vol, _ := newFormattedTestVolume(t, 64, FormatOptions{Quiet: true})
	root, err := vol.IGet(RootIno)
	require.NoError(t, err)

	file, err := vol.Create(root, "a.txt", DefaultFileMode, 0, 0)
	require.NoError(t, err)

	h := vol.Open(file)
	payload := []byte("hello, wtfs")
	n, err := h.Write(payload, 0)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	h.Release()

	assert.EqualValues(t, len(payload), file.Size)

	h2 := vol.Open(file)
	out := make([]byte, len(payload))
	n, err = h2.Read(out, 0)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	assert.Equal(t, payload, out)
	h2.Release()
}

func TestFileWriteSpanningMultipleBlocks(t *testing.T) {
	vol, _ := newFormattedTestVolume(t, 64, FormatOptions{Quiet: true})
	root, err := vol.IGet(RootIno)
	require.NoError(t, err)

	file, err := vol.Create(root, "big.bin", DefaultFileMode, 0, 0)
	require.NoError(t, err)

	payload := bytes.Repeat([]byte{0xAB}, LinkedBlockPayloadSize*2+17)
	h := vol.Open(file)
	n, err := h.Write(payload, 0)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	h.Release()

	blocks, err := chainBlockCount(vol.Dev, file.FirstBlock)
	require.NoError(t, err)
	assert.EqualValues(t, 3, blocks)

	h2 := vol.Open(file)
	out := make([]byte, len(payload))
	got, err := h2.Read(out, 0)
	require.NoError(t, err)
	require.Equal(t, len(payload), got)
	assert.Equal(t, payload, out)
	h2.Release()
}

func TestFileWriteAcrossBlockBoundaryAfterExactFill(t *testing.T) {
	vol, _ := newFormattedTestVolume(t, 64, FormatOptions{Quiet: true})
	root, err := vol.IGet(RootIno)
	require.NoError(t, err)

	file, err := vol.Create(root, "boundary.bin", DefaultFileMode, 0, 0)
	require.NoError(t, err)

	h := vol.Open(file)
	first := bytes.Repeat([]byte{0xCD}, LinkedBlockPayloadSize)
	n, err := h.Write(first, 0)
	require.NoError(t, err)
	require.Equal(t, LinkedBlockPayloadSize, n)

	n, err = h.Write([]byte("X"), int64(LinkedBlockPayloadSize))
	require.NoError(t, err)
	require.Equal(t, 1, n)
	h.Release()

	assert.EqualValues(t, LinkedBlockPayloadSize+1, file.Size)

	count, err := chainBlockCount(vol.Dev, file.FirstBlock)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	h2 := vol.Open(file)
	out := make([]byte, LinkedBlockPayloadSize+1)
	got, err := h2.Read(out, 0)
	require.NoError(t, err)
	require.Equal(t, len(out), got)
	assert.Equal(t, first, out[:LinkedBlockPayloadSize])
	assert.Equal(t, byte('X'), out[LinkedBlockPayloadSize])
	h2.Release()
}

func TestFileReadPastEndOfFileReturnsZero(t *testing.T) {
	vol, _ := newFormattedTestVolume(t, 64, FormatOptions{Quiet: true})
	root, err := vol.IGet(RootIno)
	require.NoError(t, err)

	file, err := vol.Create(root, "empty.txt", DefaultFileMode, 0, 0)
	require.NoError(t, err)

	h := vol.Open(file)
	out := make([]byte, 16)
	n, err := h.Read(out, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	h.Release()
}

func TestFileSeekBoundsChecking(t *testing.T) {
	vol, _ := newFormattedTestVolume(t, 64, FormatOptions{Quiet: true})
	root, err := vol.IGet(RootIno)
	require.NoError(t, err)

	file, err := vol.Create(root, "f.txt", DefaultFileMode, 0, 0)
	require.NoError(t, err)
	h := vol.Open(file)
	_, err = h.Write([]byte("0123456789"), 0)
	require.NoError(t, err)

	pos, err := h.Seek(5, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 5, pos)

	_, err = h.Seek(-1, 0)
	assert.Error(t, err)

	_, err = h.Seek(1000, 0)
	assert.Error(t, err)

	pos, err = h.Seek(0, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 10, pos)
	h.Release()
}
