package wtfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedAllocator struct {
	dev  *Device
	next []BlockID
}

func (a *fixedAllocator) AllocateBlock() (BlockID, error) {
	id := a.next[0]
	a.next = a.next[1:]
	return id, nil
}

func (a *fixedAllocator) FreeBlock(BlockID) error { return nil }

func TestInitSingletonChainIsItsOwnRing(t *testing.T) {
	dev := newMemDevice(2)
	buf, err := dev.Read(0)
	require.NoError(t, err)
	initSingletonChain(buf)
	assert.EqualValues(t, 0, trailerPrev(buf.Bytes()))
	assert.EqualValues(t, 0, trailerNext(buf.Bytes()))
	buf.Release()
}

func TestAppendToChainGrowsRing(t *testing.T) {
	dev := newMemDevice(3)
	head, err := dev.Read(0)
	require.NoError(t, err)
	initSingletonChain(head)
	head.Release()

	alloc := &fixedAllocator{dev: dev, next: []BlockID{1}}
	newBuf, err := appendToChain(dev, 0, alloc)
	require.NoError(t, err)
	assert.EqualValues(t, 1, newBuf.ID())
	newBuf.Release()

	n, err := chainBlockCount(dev, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	headBuf, err := dev.Read(0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, trailerNext(headBuf.Bytes()))
	assert.EqualValues(t, 1, trailerPrev(headBuf.Bytes()))
	headBuf.Release()

	tailBuf, err := dev.Read(1)
	require.NoError(t, err)
	assert.EqualValues(t, 0, trailerNext(tailBuf.Bytes()))
	assert.EqualValues(t, 0, trailerPrev(tailBuf.Bytes()))
	tailBuf.Release()
}

func TestForEachChainBlockVisitsEveryBlockOnce(t *testing.T) {
	dev := newMemDevice(3)
	head, err := dev.Read(0)
	require.NoError(t, err)
	initSingletonChain(head)
	head.Release()

	alloc := &fixedAllocator{dev: dev, next: []BlockID{1, 2}}
	for i := 0; i < 2; i++ {
		b, err := appendToChain(dev, 0, alloc)
		require.NoError(t, err)
		b.Release()
	}

	var visited []BlockID
	err = forEachChainBlock(dev, 0, func(pos int, buf *Buffer) (bool, error) {
		visited = append(visited, buf.ID())
		return false, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []BlockID{0, 1, 2}, visited)
}

func TestWalkChainForwardAndBackward(t *testing.T) {
	dev := newMemDevice(3)
	head, err := dev.Read(0)
	require.NoError(t, err)
	initSingletonChain(head)
	head.Release()

	alloc := &fixedAllocator{dev: dev, next: []BlockID{1, 2}}
	for i := 0; i < 2; i++ {
		b, err := appendToChain(dev, 0, alloc)
		require.NoError(t, err)
		b.Release()
	}

	buf, err := walkChain(dev, 0, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 2, buf.ID())
	buf.Release()

	buf, err = walkChain(dev, 0, -1)
	require.NoError(t, err)
	assert.EqualValues(t, 2, buf.ID())
	buf.Release()
}
