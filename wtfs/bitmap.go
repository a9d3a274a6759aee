package wtfs

import (
	"github.com/boljen/go-bitmap"

	wtfserrors "github.com/chaosdefinition/go-wtfs/errors"
)

// A bitmap chain is a linked-block chain whose payload is a bit vector
// (specification §4.4). Bit index i maps to:
//
//	chain position = i / BitsPerBitmapBlock
//	byte offset in block = (i % BitsPerBitmapBlock) / 8
//	bit in byte = i % 8, LSB-first
//
// Every block's BitmapPayloadSize-byte payload is viewed directly as a
// bitmap.Bitmap (a zero-copy []byte alias, exactly as the teacher's
// allocatormap.go and blockcache.go do), so Get/Set never copy.

func bitmapView(buf *Buffer) bitmap.Bitmap {
	return bitmap.Bitmap(buf.Bytes()[:BitmapPayloadSize])
}

// bitmapTest walks to the block owning bit i and reports whether it is set.
func bitmapTest(dev *Device, head BlockID, i uint64) (bool, error) {
	pos := int(i / BitsPerBitmapBlock)
	off := int(i % BitsPerBitmapBlock)

	buf, err := walkChain(dev, head, pos)
	if err != nil {
		return false, err
	}
	defer buf.Release()
	return bitmapView(buf).Get(off), nil
}

// bitmapSet walks to the block owning bit i and sets or clears it.
func bitmapSet(dev *Device, head BlockID, i uint64, value bool) error {
	pos := int(i / BitsPerBitmapBlock)
	off := int(i % BitsPerBitmapBlock)

	buf, err := walkChain(dev, head, pos)
	if err != nil {
		return err
	}
	defer buf.Release()
	bitmapView(buf).Set(off, value)
	buf.MarkDirty()
	return nil
}

// forEachChainBlock visits every block in the chain headed at head exactly
// once, in chain order, starting at head. fn returning stop == true ends the
// walk early.
func forEachChainBlock(dev *Device, head BlockID, fn func(pos int, buf *Buffer) (stop bool, err error)) error {
	cur := head
	pos := 0
	for {
		buf, err := dev.Read(cur)
		if err != nil {
			return err
		}
		next := trailerNext(buf.Bytes())
		stop, ferr := fn(pos, buf)
		buf.Release()
		if ferr != nil {
			return ferr
		}
		if stop {
			return nil
		}
		pos++
		cur = next
		if cur == head {
			return nil
		}
	}
}

// scanChainForZero walks the bitmap chain headed at head looking for the
// first clear bit. It always reports the number of blocks in the chain
// (chainBlocks), since the allocator needs that to compute the index of a
// bit in a freshly appended extension block.
func scanChainForZero(dev *Device, head BlockID) (index uint64, chainBlocks uint64, found bool, err error) {
	err = forEachChainBlock(dev, head, func(pos int, buf *Buffer) (bool, error) {
		chainBlocks = uint64(pos) + 1
		bm := bitmapView(buf)
		for i := 0; i < BitsPerBitmapBlock; i++ {
			if !bm.Get(i) {
				index = uint64(pos)*BitsPerBitmapBlock + uint64(i)
				found = true
				return true, nil
			}
		}
		return false, nil
	})
	return
}

// countSetBits reports how many bits are set across the whole bitmap chain,
// the count that free_block_count/inode_count are checked against
// (specification §8's quantified invariants).
func countSetBits(dev *Device, head BlockID) (uint64, error) {
	var total uint64
	err := forEachChainBlock(dev, head, func(pos int, buf *Buffer) (bool, error) {
		bm := bitmapView(buf)
		for i := 0; i < BitsPerBitmapBlock; i++ {
			if bm.Get(i) {
				total++
			}
		}
		return false, nil
	})
	return total, err
}

// findFirstZeroGlobal is the read-only counterpart of scanChainForZero used
// where the caller only wants the index, not the chain length, and treats
// exhaustion as an error (specification's find-first-zero-global).
func findFirstZeroGlobal(dev *Device, head BlockID) (uint64, error) {
	index, _, found, err := scanChainForZero(dev, head)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, wtfserrors.NotFound.WithMessage("bitmap chain has no free bit")
	}
	return index, nil
}
