package wtfs

import (
	"io"

	wtfserrors "github.com/chaosdefinition/go-wtfs/errors"
)

// A regular-file inode owns a chain of data blocks; each block carries
// LinkedBlockPayloadSize (4080) bytes of payload before its prev/next
// trailer. Byte offset translates to (chain position, in-block offset) as
// (offset / LinkedBlockPayloadSize, offset % LinkedBlockPayloadSize)
// (specification §4.8).

// OpenFile is the per-open state a host file handle attaches to an inode: a
// short-lived (last_position, last_block) cache that lets sequential I/O
// skip re-walking the chain from the head every call. It is distinct from
// the Inode itself, which may be shared by several concurrent opens.
type OpenFile struct {
	vol        *Volume
	inode      *Inode
	position   int64
	blockIndex BlockID
	// chainPos is the chain position (count) of blockIndex. It is compared
	// against the requested count in seekToChainPos rather than position
	// alone, since a position landing exactly on a block boundary is
	// ambiguous between the last block of the previous chain position and
	// the first block of the next one.
	chainPos int64
}

// Open allocates an OpenFile for inode, positioned at offset 0.
func (v *Volume) Open(inode *Inode) *OpenFile {
	return &OpenFile{vol: v, inode: inode, position: 0, blockIndex: inode.FirstBlock, chainPos: 0}
}

// Release drops the per-open cache. The inode itself is unaffected.
func (f *OpenFile) Release() {
	f.blockIndex = InvalidBlock
}

// Read copies up to len(buf) bytes starting at position into buf, returning
// the number of bytes actually read. Reading at or past file_size returns 0
// with no error.
func (f *OpenFile) Read(buf []byte, position int64) (int, error) {
	size := int64(f.inode.Size)
	if position >= size {
		return 0, nil
	}

	count := position / LinkedBlockPayloadSize
	offset := int(position % LinkedBlockPayloadSize)

	cur, err := f.seekToChainPos(position, count)
	if err != nil {
		return 0, err
	}

	length := len(buf)
	if remaining := int(size - position); length > remaining {
		length = remaining
	}

	head := f.inode.FirstBlock
	chainPos := count
	read := 0
	for read < length {
		n := LinkedBlockPayloadSize - offset
		if want := length - read; n > want {
			n = want
		}
		copy(buf[read:read+n], cur.Bytes()[offset:offset+n])
		read += n
		offset = 0

		if read == length {
			break
		}
		next := trailerNext(cur.Bytes())
		cur.Release()
		if next == head {
			break
		}
		cur, err = f.vol.Dev.Read(next)
		if err != nil {
			return read, err
		}
		chainPos++
	}

	f.blockIndex = cur.ID()
	f.chainPos = chainPos
	cur.Release()
	f.position = position + int64(read)
	return read, nil
}

// Write copies all of buf into the file starting at position, extending the
// chain as needed, and returns the number of bytes written.
func (f *OpenFile) Write(buf []byte, position int64) (int, error) {
	count := position / LinkedBlockPayloadSize
	offset := int(position % LinkedBlockPayloadSize)
	// A position on a block boundary starts at the end of the previous
	// block's payload, so the loop below steps to (or appends) the next block
	// instead of walking past the chain's tail and wrapping to its head.
	if offset == 0 && count > 0 {
		count--
		offset = LinkedBlockPayloadSize
	}

	cur, err := f.seekToChainPos(position, count)
	if err != nil {
		return 0, err
	}

	head := f.inode.FirstBlock
	chainPos := count
	length := len(buf)
	written := 0
	for written < length {
		n := LinkedBlockPayloadSize - offset
		if want := length - written; n > want {
			n = want
		}
		copy(cur.Bytes()[offset:offset+n], buf[written:written+n])
		cur.MarkDirty()
		written += n
		offset = 0

		if written == length {
			break
		}

		next := trailerNext(cur.Bytes())
		cur.Release()
		if next == head {
			newBuf, err := appendToChain(f.vol.Dev, head, f.vol)
			if err != nil {
				return written, err
			}
			f.inode.markDirty()
			cur = newBuf
		} else {
			cur, err = f.vol.Dev.Read(next)
			if err != nil {
				return written, err
			}
		}
		chainPos++
	}

	f.blockIndex = cur.ID()
	f.chainPos = chainPos
	cur.Release()
	f.position = position + int64(written)

	if newSize := uint64(position + int64(written)); newSize > f.inode.Size {
		f.inode.Size = newSize
		f.inode.SizeOrCount = newSize
	}
	now := nowUnix()
	f.inode.Mtime = now
	f.inode.Ctime = now
	f.inode.markDirty()

	return written, nil
}

// seekToChainPos returns an owned Buffer for the block at chain position
// count, reusing the per-open cache when position picks up exactly where
// the last operation left off.
func (f *OpenFile) seekToChainPos(position, count int64) (*Buffer, error) {
	if f.blockIndex != InvalidBlock && f.position == position && f.chainPos == count {
		return f.vol.Dev.Read(f.blockIndex)
	}
	return walkChain(f.vol.Dev, f.inode.FirstBlock, int(count))
}

// Seek repositions the file, following the specification's caching rule:
// SEEK_CUR/SEEK_END reuse the cached block when the target lands in the
// same chain block as the current position, otherwise it re-seeks from the
// head.
func (f *OpenFile) Seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = f.position + offset
	case io.SeekEnd:
		target = int64(f.inode.Size) + offset
	default:
		return 0, wtfserrors.Invalid.WithMessage("invalid whence")
	}
	if target < 0 || target > int64(f.inode.Size) {
		return 0, wtfserrors.Invalid.WithMessage("seek target out of range")
	}

	count := target / LinkedBlockPayloadSize
	sameBlock := f.blockIndex != InvalidBlock && f.chainPos == count
	if !sameBlock {
		buf, err := walkChain(f.vol.Dev, f.inode.FirstBlock, int(count))
		if err != nil {
			return 0, err
		}
		f.blockIndex = buf.ID()
		f.chainPos = count
		buf.Release()
	}
	f.position = target
	return target, nil
}
