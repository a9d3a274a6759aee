package wtfs

import (
	"io"

	"github.com/boljen/go-bitmap"

	wtfserrors "github.com/chaosdefinition/go-wtfs/errors"
)

// FetchBlockFunc writes the contents of block id into buf, which is
// guaranteed to be exactly BlockSize bytes.
type FetchBlockFunc func(id BlockID, buf []byte) error

// FlushBlockFunc writes buf (exactly BlockSize bytes) to block id in the
// backing storage.
type FlushBlockFunc func(id BlockID, buf []byte) error

// Device is the block I/O facade (specification §4.2). It presents the
// volume as a fixed number of BlockSize-byte blocks, lazily loaded from the
// backing storage and held entirely in memory — the whole point of a
// bitmap/chain-based filesystem this small is that the working set always
// fits, so there is no eviction policy to get wrong.
//
// Coherence: a Read of a block already loaded returns the same buffer any
// prior Read or Write left it in, until a Write changes it. Writes to the
// same block are serialized by the caller (specification §5: per-inode
// operations are assumed externally serialized).
type Device struct {
	totalBlocks uint
	loaded      bitmap.Bitmap
	dirty       bitmap.Bitmap
	data        []byte
	refs        []int32
	fetch       FetchBlockFunc
	flush       FlushBlockFunc
	syncer      func() error
}

// NewDevice creates a Device backed by arbitrary fetch/flush callbacks.
func NewDevice(totalBlocks uint, fetch FetchBlockFunc, flush FlushBlockFunc) *Device {
	return &Device{
		totalBlocks: totalBlocks,
		loaded:      bitmap.NewSlice(int(totalBlocks)),
		dirty:       bitmap.NewSlice(int(totalBlocks)),
		data:        make([]byte, uint(BlockSize)*totalBlocks),
		refs:        make([]int32, totalBlocks),
		fetch:       fetch,
		flush:       flush,
	}
}

// NewDeviceFromStream creates a Device over a host-provided
// io.ReadWriteSeeker, e.g. an opened disk image or raw block device. If the
// stream also implements a Sync() error method (as *os.File does), Sync()
// calls through to it for durability; otherwise Sync degrades to a plain
// flush.
func NewDeviceFromStream(stream io.ReadWriteSeeker, totalBlocks uint) *Device {
	fetch := func(id BlockID, buf []byte) error {
		if _, err := stream.Seek(int64(id)*BlockSize, io.SeekStart); err != nil {
			return err
		}
		_, err := io.ReadFull(stream, buf)
		return err
	}
	flush := func(id BlockID, buf []byte) error {
		if _, err := stream.Seek(int64(id)*BlockSize, io.SeekStart); err != nil {
			return err
		}
		_, err := stream.Write(buf)
		return err
	}
	dev := NewDevice(totalBlocks, fetch, flush)
	if syncer, ok := stream.(interface{ Sync() error }); ok {
		dev.syncer = syncer.Sync
	}
	return dev
}

// TotalBlocks returns the number of addressable blocks on the device.
func (d *Device) TotalBlocks() uint {
	return d.totalBlocks
}

func (d *Device) checkID(id BlockID) error {
	if uint(id) >= d.totalBlocks {
		return wtfserrors.Invalid.WithMessage("block index out of range")
	}
	return nil
}

func (d *Device) slice(id BlockID) []byte {
	off := uint(id) * BlockSize
	return d.data[off : off+BlockSize]
}

func (d *Device) ensureLoaded(id BlockID) error {
	if d.loaded.Get(int(id)) {
		return nil
	}
	if err := d.fetch(id, d.slice(id)); err != nil {
		return wtfserrors.IOError.WrapError(err)
	}
	d.loaded.Set(int(id), true)
	return nil
}

// Buffer is an owned reference to an in-memory image of one block
// (specification's BufferRef). Every Buffer obtained from Read must be
// released on every exit path, success or failure, per specification §5.
type Buffer struct {
	device *Device
	id     BlockID
	bytes  []byte
}

// ID returns the block index this buffer represents.
func (b *Buffer) ID() BlockID {
	return b.id
}

// Bytes returns the live, mutable view of the block's contents.
func (b *Buffer) Bytes() []byte {
	return b.bytes
}

// MarkDirty flags the buffer for later flush (specification's mark-dirty).
func (b *Buffer) MarkDirty() {
	b.device.dirty.Set(int(b.id), true)
}

// WriteThrough marks the buffer dirty and immediately submits it to the
// backing storage (specification's write-through). It does not wait for
// durability; call Sync for that.
func (b *Buffer) WriteThrough() error {
	b.MarkDirty()
	if err := b.device.flush(b.id, b.bytes); err != nil {
		return wtfserrors.IOError.WrapError(err)
	}
	b.device.dirty.Set(int(b.id), false)
	return nil
}

// Sync flushes the buffer (if dirty) and blocks until durable.
func (b *Buffer) Sync() error {
	if b.device.dirty.Get(int(b.id)) {
		if err := b.device.flush(b.id, b.bytes); err != nil {
			return wtfserrors.IOError.WrapError(err)
		}
		b.device.dirty.Set(int(b.id), false)
	}
	if b.device.syncer != nil {
		if err := b.device.syncer(); err != nil {
			return wtfserrors.IOError.WrapError(err)
		}
	}
	return nil
}

// Release drops this reference. Buffers are refcounted purely so tests (and
// debug builds of callers) can catch a leaked acquisition; the underlying
// memory is always part of the device's single resident image.
func (b *Buffer) Release() {
	if b.bytes == nil {
		return // double release; tolerate it rather than panic on a cleanup path.
	}
	b.device.refs[b.id]--
	b.bytes = nil
}

// Read returns an owned reference to block id, loading it from storage if
// it is not already cached.
func (d *Device) Read(id BlockID) (*Buffer, error) {
	if err := d.checkID(id); err != nil {
		return nil, err
	}
	if err := d.ensureLoaded(id); err != nil {
		return nil, err
	}
	d.refs[id]++
	return &Buffer{device: d, id: id, bytes: d.slice(id)}, nil
}

// OutstandingRefs reports the number of Buffer references to id that have
// not been released. Used by tests to assert every acquisition path
// releases on every exit.
func (d *Device) OutstandingRefs(id BlockID) int32 {
	return d.refs[id]
}

// FlushAll writes every dirty block back to storage and marks them clean.
func (d *Device) FlushAll() error {
	for i := uint(0); i < d.totalBlocks; i++ {
		if !d.dirty.Get(int(i)) {
			continue
		}
		if err := d.flush(BlockID(i), d.slice(BlockID(i))); err != nil {
			return wtfserrors.IOError.WrapError(err)
		}
		d.dirty.Set(int(i), false)
	}
	if d.syncer != nil {
		if err := d.syncer(); err != nil {
			return wtfserrors.IOError.WrapError(err)
		}
	}
	return nil
}

// GetSlice returns a contiguous view of count blocks starting at start,
// loading any that are missing, for bulk writes that span several blocks.
func (d *Device) GetSlice(start BlockID, count uint) ([]byte, error) {
	if uint(start)+count > d.totalBlocks {
		return nil, wtfserrors.Invalid.WithMessage("block range out of bounds")
	}
	for i := uint(0); i < count; i++ {
		if err := d.ensureLoaded(start + BlockID(i)); err != nil {
			return nil, err
		}
	}
	off := uint(start) * BlockSize
	return d.data[off : off+count*BlockSize], nil
}

// MarkRangeDirty marks count blocks starting at start as present and dirty,
// the counterpart of a GetSlice-based bulk write.
func (d *Device) MarkRangeDirty(start BlockID, count uint) {
	for i := uint(0); i < count; i++ {
		idx := int(start) + int(i)
		d.loaded.Set(idx, true)
		d.dirty.Set(idx, true)
	}
}

// Resize grows or shrinks the device's block count, keeping the contents
// and state of every block that remains in range.
func (d *Device) Resize(newTotalBlocks uint) {
	newData := make([]byte, uint(BlockSize)*newTotalBlocks)
	copy(newData, d.data)

	newLoaded := bitmap.NewSlice(int(newTotalBlocks))
	newDirty := bitmap.NewSlice(int(newTotalBlocks))
	copy(newLoaded, d.loaded)
	copy(newDirty, d.dirty)

	newRefs := make([]int32, newTotalBlocks)
	copy(newRefs, d.refs)

	d.data = newData
	d.loaded = newLoaded
	d.dirty = newDirty
	d.refs = newRefs
	d.totalBlocks = newTotalBlocks
}
