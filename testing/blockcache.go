package testing

import (
	"crypto/rand"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaosdefinition/go-wtfs/wtfs"
)

// CreateRandomBlocks returns totalBlocks*wtfs.BlockSize random bytes. It is
// guaranteed to either return a valid slice or fail the test and abort.
func CreateRandomBlocks(totalBlocks uint, t *testing.T) []byte {
	backingData := make([]byte, uint(wtfs.BlockSize)*totalBlocks)

	_, err := rand.Read(backingData)
	require.NoErrorf(t, err, "failed to initialize %d blocks with random bytes", totalBlocks)
	return backingData
}

// CreateDefaultDevice builds a *wtfs.Device backed by an in-memory byte
// slice, with fetch/flush handlers that fail the test on out-of-bounds
// access and (when !writable) on any write attempt. Pass nil for
// backingData to get totalBlocks of random data.
//
// The fetch and flush handlers check bounds and permissions for you, so you
// won't be able to test negative conditions this way; construct a
// *wtfs.Device directly with NewDevice for that.
func CreateDefaultDevice(totalBlocks uint, writable bool, backingData []byte, t *testing.T) *wtfs.Device {
	if backingData == nil {
		backingData = CreateRandomBlocks(totalBlocks, t)
	}

	fetch := func(id wtfs.BlockID, buf []byte) error {
		if uint(id) >= totalBlocks {
			t.Errorf("attempted to read outside bounds: block %d not in [0, %d)", id, totalBlocks)
			return fmt.Errorf("block %d out of range", id)
		}
		start := uint(id) * wtfs.BlockSize
		copy(buf, backingData[start:start+wtfs.BlockSize])
		return nil
	}

	var flush wtfs.FlushBlockFunc
	if writable {
		flush = func(id wtfs.BlockID, buf []byte) error {
			if uint(id) >= totalBlocks {
				t.Errorf("attempted to write outside bounds: block %d not in [0, %d)", id, totalBlocks)
				return fmt.Errorf("block %d out of range", id)
			}
			start := uint(id) * wtfs.BlockSize
			copy(backingData[start:start+wtfs.BlockSize], buf)
			return nil
		}
	} else {
		flush = func(id wtfs.BlockID, buf []byte) error {
			t.Errorf("attempted to write %d bytes to block %d of read-only device", len(buf), id)
			return fmt.Errorf("device is read-only")
		}
	}

	dev := wtfs.NewDevice(totalBlocks, fetch, flush)
	assert.EqualValues(t, totalBlocks, dev.TotalBlocks(), "wrong total blocks")
	return dev
}
