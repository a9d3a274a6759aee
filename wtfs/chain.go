package wtfs

import (
	wtfserrors "github.com/chaosdefinition/go-wtfs/errors"
)

// A chain is a circular doubly-linked list of blocks of one kind, addressed
// by the block index of its head (specification §4.3). Every chained
// block's last 16 bytes carry prev/next as block indices (layout.go's
// trailerPrev/trailerNext). An empty chain does not exist: the smallest
// chain is a single block whose prev and next both point to itself.

// blockAllocator is the narrow allocator surface the chain engine needs to
// grow a chain. *Volume and blockDomainAdapter (alloc.go) implement it;
// appendToChain never allocates an inode number, only a block, so this is
// enough.
type blockAllocator interface {
	AllocateBlock() (BlockID, error)
	FreeBlock(BlockID) error
}

// walkChain follows a chain starting at head by position steps: forward via
// next for position >= 0, backward via prev for position < 0. It returns an
// owned Buffer for the block it lands on; the caller must Release it.
//
// If the walk revisits head strictly before completing the requested number
// of steps, the chain is shorter than the caller believes (or corrupted) and
// walkChain fails with wtfserrors.NotFound rather than spin based on a
// miscomputed position.
func walkChain(dev *Device, head BlockID, position int) (*Buffer, error) {
	steps := position
	forward := true
	if position < 0 {
		steps = -position
		forward = false
	}

	cur := head
	for step := 0; step < steps; step++ {
		buf, err := dev.Read(cur)
		if err != nil {
			return nil, err
		}
		var next BlockID
		if forward {
			next = trailerNext(buf.Bytes())
		} else {
			next = trailerPrev(buf.Bytes())
		}
		buf.Release()

		if next == head && step+1 < steps {
			return nil, wtfserrors.NotFound.WithMessage(
				"chain walk returned to head before reaching the requested position")
		}
		cur = next
	}
	return dev.Read(cur)
}

// chainBlockCount reports how many blocks are linked into the chain headed
// at head. Used to derive a directory inode's i_size from its actual block
// chain rather than trusting dentry_count to predict it exactly.
func chainBlockCount(dev *Device, head BlockID) (uint64, error) {
	var n uint64
	err := forEachChainBlock(dev, head, func(pos int, buf *Buffer) (bool, error) {
		n = uint64(pos) + 1
		return false, nil
	})
	return n, err
}

// initSingletonChain turns a freshly allocated, otherwise-uninitialized
// block into a one-element ring: its own head. The payload is left
// untouched; callers fill it in before or after calling this.
func initSingletonChain(buf *Buffer) {
	id := buf.ID()
	setTrailerPrev(buf.Bytes(), id)
	setTrailerNext(buf.Bytes(), id)
	buf.MarkDirty()
}

// insertBlockAfter splices newBuf into the ring immediately after prevBuf,
// updating both neighbours' trailers. Both buffers must already be owned by
// the caller; this does not acquire or release any buffer.
func insertBlockAfter(dev *Device, prevBuf *Buffer, newBuf *Buffer) error {
	oldNext := trailerNext(prevBuf.Bytes())

	setTrailerPrev(newBuf.Bytes(), prevBuf.ID())
	setTrailerNext(newBuf.Bytes(), oldNext)
	newBuf.MarkDirty()

	setTrailerNext(prevBuf.Bytes(), newBuf.ID())
	prevBuf.MarkDirty()

	if oldNext == prevBuf.ID() {
		// prevBuf was previously a singleton ring, so it is also newBuf's
		// next neighbour and its prev now points at newBuf.
		setTrailerPrev(prevBuf.Bytes(), newBuf.ID())
	} else {
		nextBuf, err := dev.Read(oldNext)
		if err != nil {
			return err
		}
		setTrailerPrev(nextBuf.Bytes(), newBuf.ID())
		nextBuf.MarkDirty()
		nextBuf.Release()
	}
	return nil
}

// appendToChain grows the chain headed at head by one block, allocated from
// alloc. It returns the new block's Buffer, already linked in (caller must
// Release it) with its payload zeroed.
//
// Atomicity (specification §4.3): if allocation fails, the chain is left
// completely unmodified. If linking the new block in fails partway (a write
// error), the newly allocated block is freed before returning so the
// allocator's bitmap does not leak a block nothing references.
func appendToChain(dev *Device, head BlockID, alloc blockAllocator) (*Buffer, error) {
	tailBuf, err := walkChain(dev, head, -1)
	if err != nil {
		return nil, err
	}
	tailID := tailBuf.ID()

	newID, err := alloc.AllocateBlock()
	if err != nil {
		tailBuf.Release()
		return nil, err
	}

	newBuf, err := dev.Read(newID)
	if err != nil {
		tailBuf.Release()
		_ = alloc.FreeBlock(newID)
		return nil, err
	}

	for i := range newBuf.Bytes() {
		newBuf.Bytes()[i] = 0
	}
	setTrailerPrev(newBuf.Bytes(), tailID)
	setTrailerNext(newBuf.Bytes(), head)
	newBuf.MarkDirty()

	setTrailerNext(tailBuf.Bytes(), newID)
	tailBuf.MarkDirty()
	tailBuf.Release()

	headBuf, err := dev.Read(head)
	if err != nil {
		newBuf.Release()
		_ = alloc.FreeBlock(newID)
		return nil, err
	}
	setTrailerPrev(headBuf.Bytes(), newID)
	headBuf.MarkDirty()
	headBuf.Release()

	return newBuf, nil
}
