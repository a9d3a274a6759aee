package wtfs

import (
	"crypto/rand"
	"fmt"

	wtfserrors "github.com/chaosdefinition/go-wtfs/errors"
)

// SuperData is the in-memory mirror of the singleton super record at block
// ReservedBlockSuper (specification §4.10/§3's SuperState).
type SuperData struct {
	Version uint64

	BlockCount uint64

	InodeTableFirst  BlockID
	InodeTableCount  uint64
	BlockBitmapFirst BlockID
	BlockBitmapCount uint64
	InodeBitmapFirst BlockID
	InodeBitmapCount uint64

	InodeCount     uint64
	FreeBlockCount uint64

	Label string
	UUID  [UUIDSize]byte
}

// cachedInode is an inode-cache slot: the in-memory Inode plus its lifecycle
// state (specification's state machine in §4.12).
type cachedInode struct {
	inode *Inode
	dirty bool
}

// Volume is a mounted wtfs instance: the device, the live super record, the
// block/inode allocators built on top of it, and the inode cache. Every
// C5-C9 operation in this package is a method on *Volume.
type Volume struct {
	Dev   *Device
	Super SuperData

	blockAlloc *Allocator
	inodeAlloc *Allocator

	inodes map[Ino]*cachedInode

	superDirty bool
}

// reservedBlockCount returns the number of blocks permanently reserved by
// the format: boot + super + the three chains' initial blocks
// (specification §9's Open Question 1 — this package follows the spec's own
// choice: blocks − 3 − table − bmap − imap).
func (v *Volume) reservedBlockCount() uint64 {
	return 2 + v.Super.InodeTableCount + v.Super.BlockBitmapCount + v.Super.InodeBitmapCount
}

// Mount validates and loads the super record from dev and returns a ready
// Volume, including fetching the root inode (specification §4.10).
func Mount(dev *Device) (*Volume, error) {
	if dev.TotalBlocks() < 3 {
		return nil, wtfserrors.BadFS.WithMessage("device too small to hold a super block")
	}

	buf, err := dev.Read(ReservedBlockSuper)
	if err != nil {
		return nil, err
	}
	defer buf.Release()

	var raw RawSuperBlock
	if err := decode(buf.Bytes(), &raw); err != nil {
		return nil, wtfserrors.IOError.WrapError(err)
	}

	if raw.Magic != Magic {
		return nil, wtfserrors.BadFS.WithMessage(
			fmt.Sprintf("bad magic: want 0x%x, got 0x%x", Magic, raw.Magic))
	}
	major, minor := UnpackVersion(raw.Version)
	if major != VersionMajor || minor != VersionMinor {
		return nil, wtfserrors.BadFS.WithMessage(
			fmt.Sprintf("unsupported version %d.%d", major, minor))
	}
	if raw.BlockSize != BlockSize {
		return nil, wtfserrors.BadFS.WithMessage("block size mismatch")
	}

	v := &Volume{
		Dev: dev,
		Super: SuperData{
			Version:          raw.Version,
			BlockCount:       raw.BlockCount,
			InodeTableFirst:  BlockID(raw.InodeTableFirst),
			InodeTableCount:  raw.InodeTableCount,
			BlockBitmapFirst: BlockID(raw.BlockBitmapFirst),
			BlockBitmapCount: raw.BlockBitmapCount,
			InodeBitmapFirst: BlockID(raw.InodeBitmapFirst),
			InodeBitmapCount: raw.InodeBitmapCount,
			InodeCount:       raw.InodeCount,
			FreeBlockCount:   raw.FreeBlockCount,
			UUID:             raw.UUID,
		},
		inodes: make(map[Ino]*cachedInode),
	}
	v.Super.Label = cstring(raw.Label[:])

	v.blockAlloc = &Allocator{
		dev:        dev,
		head:       v.Super.BlockBitmapFirst,
		extendable: false,
	}
	v.inodeAlloc = &Allocator{
		dev:         dev,
		head:        v.Super.InodeBitmapFirst,
		extendable:  true,
		extendAlloc: blockDomainAdapter{alloc: v.blockAlloc},
	}

	if _, err := v.IGet(RootIno); err != nil {
		return nil, err
	}

	return v, nil
}

// Sync writes every SuperData field back to block ReservedBlockSuper. If
// wait is true it blocks until the write is durable.
func (v *Volume) Sync(wait bool) error {
	if !v.superDirty {
		return nil
	}

	buf, err := v.Dev.Read(ReservedBlockSuper)
	if err != nil {
		return err
	}
	defer buf.Release()

	raw := RawSuperBlock{
		Version:          v.Super.Version,
		Magic:            Magic,
		BlockSize:        BlockSize,
		BlockCount:       v.Super.BlockCount,
		InodeTableFirst:  uint64(v.Super.InodeTableFirst),
		InodeTableCount:  v.Super.InodeTableCount,
		BlockBitmapFirst: uint64(v.Super.BlockBitmapFirst),
		BlockBitmapCount: v.Super.BlockBitmapCount,
		InodeBitmapFirst: uint64(v.Super.InodeBitmapFirst),
		InodeBitmapCount: v.Super.InodeBitmapCount,
		InodeCount:       v.Super.InodeCount,
		FreeBlockCount:   v.Super.FreeBlockCount,
		UUID:             v.Super.UUID,
	}
	copy(raw.Label[:], v.Super.Label)

	copy(buf.Bytes(), encode(&raw))
	buf.MarkDirty()

	v.superDirty = false

	if wait {
		return buf.Sync()
	}
	return nil
}

// adjustFreeBlocks updates the free block counter by delta and marks the
// super record dirty, but only if delta actually changes anything — the
// cheap dirty-check original wtfs's super.c performs before queuing a
// write-back (SPEC_FULL supplement).
func (v *Volume) adjustFreeBlocks(delta int64) {
	if delta == 0 {
		return
	}
	v.Super.FreeBlockCount = uint64(int64(v.Super.FreeBlockCount) + delta)
	v.superDirty = true
}

func (v *Volume) adjustInodeCount(delta int64) {
	if delta == 0 {
		return
	}
	v.Super.InodeCount = uint64(int64(v.Super.InodeCount) + delta)
	v.superDirty = true
}

// Stat is the statistics report of specification §4.10.
type Stat struct {
	TotalBlocks   uint64
	FreeBlocks    uint64
	InodeCount    uint64
	MaxNameLength int
	FSID          uint64
	Label         string
}

// Statfs reports current volume statistics.
func (v *Volume) Statfs() Stat {
	return Stat{
		TotalBlocks:   v.Super.BlockCount,
		FreeBlocks:    v.Super.FreeBlockCount,
		InodeCount:    v.Super.InodeCount,
		MaxNameLength: FilenameMax - 1,
		FSID:          fsidFromUUID(v.Super.UUID),
		Label:         v.Super.Label,
	}
}

func fsidFromUUID(uuid [UUIDSize]byte) uint64 {
	var id uint64
	for i := 0; i < 8; i++ {
		id = (id << 8) | uint64(uuid[i]^uuid[i+8])
	}
	return id
}

// cstring trims a fixed-size byte array at its first NUL, or returns it
// verbatim if it is exactly full (filenames need not be NUL-terminated when
// they occupy the whole slot, per specification §3).
func cstring(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// generateUUID fills a UUID with cryptographically random bytes, used by
// mkfs when the caller does not supply one.
func generateUUID() ([UUIDSize]byte, error) {
	var id [UUIDSize]byte
	if _, err := rand.Read(id[:]); err != nil {
		return id, wtfserrors.OutOfMemory.WrapError(err)
	}
	return id, nil
}
