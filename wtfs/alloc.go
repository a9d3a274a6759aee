package wtfs

import (
	wtfserrors "github.com/chaosdefinition/go-wtfs/errors"
)

// Allocator is a single bitmap-chain allocation domain (specification §4.5):
// either the block-bitmap chain or the inode-bitmap chain. Both wrap the
// same find-or-extend search; what differs is whether the chain may grow
// when it's exhausted.
//
// Blocks are NOT extendable — the device is finite. Inode numbers ARE
// extendable, up to the limit of the block domain, since a new inode-bitmap
// block is itself allocated from the block domain.
type Allocator struct {
	dev         *Device
	head        BlockID
	extendable  bool
	extendAlloc blockAllocator // only set (and only used) when extendable
}

// allocateBit finds the first clear bit in the chain, sets it, and returns
// its global index. If the chain is exhausted and extendable, it grows the
// chain by exactly one block (specification's supplemented single-block
// extension policy, SPEC_FULL.md) and returns bit 0 of the new block.
func (a *Allocator) allocateBit() (uint64, error) {
	index, chainBlocks, found, err := scanChainForZero(a.dev, a.head)
	if err != nil {
		return 0, err
	}
	if found {
		if err := bitmapSet(a.dev, a.head, index, true); err != nil {
			return 0, err
		}
		return index, nil
	}
	if !a.extendable {
		return 0, wtfserrors.NoSpace.WithMessage("bitmap chain exhausted")
	}

	newBuf, err := appendToChain(a.dev, a.head, a.extendAlloc)
	if err != nil {
		return 0, err
	}
	bitmapView(newBuf).Set(0, true)
	newBuf.MarkDirty()
	newBuf.Release()

	return chainBlocks * BitsPerBitmapBlock, nil
}

// freeBit clears a previously allocated bit. Freeing an already-clear bit
// underflows the caller's counters and must be rejected by the caller
// (Volume.FreeIno/FreeBlock guard this); Allocator itself only flips the bit.
func (a *Allocator) freeBit(index uint64) error {
	return bitmapSet(a.dev, a.head, index, false)
}

func (a *Allocator) testBit(index uint64) (bool, error) {
	return bitmapTest(a.dev, a.head, index)
}

// blockDomainAdapter lets the block allocator satisfy blockAllocator so the
// inode-number allocator can hand it to appendToChain when it needs to grow
// its own bitmap chain by one block.
type blockDomainAdapter struct {
	alloc *Allocator
}

func (w blockDomainAdapter) AllocateBlock() (BlockID, error) {
	idx, err := w.alloc.allocateBit()
	return BlockID(idx), err
}

func (w blockDomainAdapter) FreeBlock(id BlockID) error {
	return w.alloc.freeBit(uint64(id))
}

// -----------------------------------------------------------------------------
// Volume-level domain wrappers: reserved-index guards and super counters.

// AllocateBlock allocates a free block and decrements the free-block
// counter. Ordering (specification §4.5): the bit is set before the caller
// may use the block; if the caller fails to materialize whatever it wanted
// the block for, it must call FreeBlock to restore the invariant.
func (v *Volume) AllocateBlock() (BlockID, error) {
	idx, err := v.blockAlloc.allocateBit()
	if err != nil {
		return 0, err
	}
	v.adjustFreeBlocks(-1)
	return BlockID(idx), nil
}

// FreeBlock releases a block back to the block domain. Freeing a reserved
// block (boot, super, or any block belonging to the initial inode-table or
// bitmap chains) is a no-op, per specification §4.5. Freeing a block that is
// already free returns Invalid rather than overcount the free blocks.
func (v *Volume) FreeBlock(id BlockID) error {
	if uint64(id) < v.reservedBlockCount() {
		return nil
	}
	set, err := v.blockAlloc.testBit(uint64(id))
	if err != nil {
		return err
	}
	if !set {
		return wtfserrors.Invalid.WithMessage("block is already free")
	}
	if err := v.blockAlloc.freeBit(uint64(id)); err != nil {
		return err
	}
	v.adjustFreeBlocks(1)
	return nil
}

// AllocateIno allocates a free inode number and increments the inode
// counter.
func (v *Volume) AllocateIno() (Ino, error) {
	idx, err := v.inodeAlloc.allocateBit()
	if err != nil {
		return 0, err
	}
	v.adjustInodeCount(1)
	return Ino(idx), nil
}

// FreeIno releases an inode number. Freeing ino 0 or the root inode is a
// no-op. Freeing an inode number that is already free is forbidden and
// returns Invalid rather than underflow the inode counter.
func (v *Volume) FreeIno(ino Ino) error {
	if ino == 0 || ino == RootIno {
		return nil
	}
	set, err := v.inodeAlloc.testBit(uint64(ino))
	if err != nil {
		return err
	}
	if !set {
		return wtfserrors.Invalid.WithMessage("inode is already free")
	}
	if err := v.inodeAlloc.freeBit(uint64(ino)); err != nil {
		return err
	}
	v.adjustInodeCount(-1)
	return nil
}
