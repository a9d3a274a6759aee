package testing

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"

	"github.com/chaosdefinition/go-wtfs/wtfs"
)

// NewBlankImage returns a fixed-size, in-memory io.ReadWriteSeeker of
// totalBlocks*wtfs.BlockSize zero bytes, suitable for wtfs.NewDeviceFromStream
// followed by wtfs.Format.
func NewBlankImage(t *testing.T, totalBlocks uint) io.ReadWriteSeeker {
	size := uint(wtfs.BlockSize) * totalBlocks
	require.Greater(t, size, uint(0), "image must have at least one block")
	return bytesextra.NewReadWriteSeeker(make([]byte, size))
}

// NewFormattedVolume creates a blank image of totalBlocks blocks, formats it
// with opts, mounts it, and returns the mounted volume alongside the
// underlying device for direct block inspection.
func NewFormattedVolume(t *testing.T, totalBlocks uint, opts wtfs.FormatOptions) (*wtfs.Volume, *wtfs.Device) {
	stream := NewBlankImage(t, totalBlocks)
	dev := wtfs.NewDeviceFromStream(stream, totalBlocks)

	require.NoError(t, wtfs.Format(dev, opts))

	vol, err := wtfs.Mount(dev)
	require.NoError(t, err)
	return vol, dev
}
