package wtfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocatorAllocateFreeBlock(t *testing.T) {
	vol, _ := newFormattedTestVolume(t, 64, FormatOptions{Quiet: true})

	free0 := vol.Super.FreeBlockCount
	id, err := vol.AllocateBlock()
	require.NoError(t, err)
	assert.Less(t, free0-1, free0)

	set, err := vol.blockAlloc.testBit(uint64(id))
	require.NoError(t, err)
	assert.True(t, set)

	require.NoError(t, vol.FreeBlock(id))
	set, err = vol.blockAlloc.testBit(uint64(id))
	require.NoError(t, err)
	assert.False(t, set)
}

func TestAllocatorReservedBlockFreeIsNoop(t *testing.T) {
	vol, _ := newFormattedTestVolume(t, 64, FormatOptions{Quiet: true})
	require.NoError(t, vol.FreeBlock(ReservedBlockBoot))

	set, err := vol.blockAlloc.testBit(uint64(ReservedBlockBoot))
	require.NoError(t, err)
	assert.True(t, set, "freeing a reserved block must not clear its bit")
}

func TestAllocatorInodeNumberAllocateFree(t *testing.T) {
	vol, _ := newFormattedTestVolume(t, 64, FormatOptions{Quiet: true})

	ino, err := vol.AllocateIno()
	require.NoError(t, err)
	assert.NotEqualValues(t, RootIno, ino)

	require.NoError(t, vol.FreeIno(ino))

	set, err := vol.inodeAlloc.testBit(uint64(ino))
	require.NoError(t, err)
	assert.False(t, set)
}

func TestAllocatorFreeingAlreadyFreeInoFails(t *testing.T) {
	vol, _ := newFormattedTestVolume(t, 64, FormatOptions{Quiet: true})

	ino, err := vol.AllocateIno()
	require.NoError(t, err)
	require.NoError(t, vol.FreeIno(ino))

	err = vol.FreeIno(ino)
	assert.Error(t, err)
}

func TestAllocatorInodeBitmapExtendsOnExhaustion(t *testing.T) {
	vol, _ := newFormattedTestVolume(t, 256, FormatOptions{Quiet: true})

	// Fill every bit of the lone inode-bitmap block directly, bypassing
	// AllocateIno, so exhausting BitsPerBitmapBlock inode numbers doesn't
	// require actually holding that many live inodes.
	for i := uint64(0); i < BitsPerBitmapBlock; i++ {
		require.NoError(t, bitmapSet(vol.Dev, vol.Super.InodeBitmapFirst, i, true))
	}

	ino, err := vol.AllocateIno()
	require.NoError(t, err)
	assert.EqualValues(t, BitsPerBitmapBlock, ino)

	n, err := chainBlockCount(vol.Dev, vol.Super.InodeBitmapFirst)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}
