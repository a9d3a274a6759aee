package wtfs

import (
	"time"

	wtfserrors "github.com/chaosdefinition/go-wtfs/errors"
)

// Inode is the in-memory representation of an inode-table record
// (specification §4.6). It mediates between host-OS operations and the
// on-disk RawInode slot; SizeOrCount mirrors the on-disk union field
// exactly, while Size is the derived i_size the host sees.
type Inode struct {
	vol *Volume

	Ino        Ino
	Mode       uint32
	Uid        uint32
	Gid        uint32
	LinkCount  uint32
	FirstBlock BlockID
	Atime      int64
	Ctime      int64
	Mtime      int64

	// SizeOrCount is file_size for regular files and symlinks, dentry_count
	// for directories — the same union RawInode.SizeOrCount carries on disk.
	SizeOrCount uint64

	// Size is the derived i_size: for directories, the chain's actual block
	// count times BlockSize; for files and symlinks, SizeOrCount.
	Size uint64
}

func nowUnix() int64 {
	return time.Now().Unix()
}

// inodeSlot is a live reference to one inode-table record: the buffer that
// holds it plus the byte offset of the record within that buffer.
// Specification's get_inode returns exactly this pair so the caller can
// mutate in place and mark the buffer dirty.
type inodeSlot struct {
	buf    *Buffer
	offset int
}

func (s *inodeSlot) read() RawInode {
	var raw RawInode
	_ = decode(s.buf.Bytes()[s.offset:s.offset+InodeSize], &raw)
	return raw
}

func (s *inodeSlot) write(raw *RawInode) {
	copy(s.buf.Bytes()[s.offset:s.offset+InodeSize], encode(raw))
	s.buf.MarkDirty()
}

func (s *inodeSlot) release() {
	s.buf.Release()
}

// getInodeSlot validates ino against the inode bitmap and returns a
// reference to its on-disk record (specification §4.6's get_inode). The
// caller must release the slot.
func (v *Volume) getInodeSlot(ino Ino) (*inodeSlot, error) {
	if ino == 0 {
		return nil, wtfserrors.NotFound.WithMessage("inode 0 does not exist")
	}
	set, err := v.inodeAlloc.testBit(uint64(ino))
	if err != nil {
		return nil, err
	}
	if !set {
		return nil, wtfserrors.NotFound.WithMessage("inode number is not allocated")
	}

	pos := int((uint64(ino) - 1) / InodesPerTable)
	offset := int((uint64(ino) - 1) % InodesPerTable)

	buf, err := walkChain(v.Dev, v.Super.InodeTableFirst, pos)
	if err != nil {
		return nil, err
	}
	return &inodeSlot{buf: buf, offset: offset * InodeSize}, nil
}

// loadInode reads and decodes ino's on-disk record into a fresh in-memory
// Inode, computing its derived size. Fails with NotFound, IOError, or
// NotSupported for any mode outside directory/regular/symlink.
func (v *Volume) loadInode(ino Ino) (*Inode, error) {
	slot, err := v.getInodeSlot(ino)
	if err != nil {
		return nil, err
	}
	raw := slot.read()
	slot.release()

	if raw.Mode == 0 {
		return nil, wtfserrors.NotFound.WithMessage("inode slot is empty")
	}
	if !isDir(raw.Mode) && !isReg(raw.Mode) && !isLink(raw.Mode) {
		return nil, wtfserrors.NotSupported.WithMessage("inode has unsupported mode")
	}

	vi := &Inode{
		vol:         v,
		Ino:         ino,
		Mode:        raw.Mode,
		Uid:         uint32(raw.HUid)<<16 | uint32(raw.Uid),
		Gid:         uint32(raw.HGid)<<16 | uint32(raw.Gid),
		LinkCount:   raw.LinkCount,
		FirstBlock:  BlockID(raw.FirstBlock),
		Atime:       int64(raw.Atime),
		Ctime:       int64(raw.Ctime),
		Mtime:       int64(raw.Mtime),
		SizeOrCount: raw.SizeOrCount,
	}

	if isDir(raw.Mode) {
		n, err := chainBlockCount(v.Dev, vi.FirstBlock)
		if err != nil {
			return nil, err
		}
		vi.Size = n * BlockSize
	} else {
		vi.Size = raw.SizeOrCount
	}
	return vi, nil
}

// IGet returns the in-memory Inode for ino, consulting the cache before
// reading from disk (specification §4.6's iget).
func (v *Volume) IGet(ino Ino) (*Inode, error) {
	if c, ok := v.inodes[ino]; ok {
		return c.inode, nil
	}
	vi, err := v.loadInode(ino)
	if err != nil {
		return nil, err
	}
	v.inodes[ino] = &cachedInode{inode: vi}
	return vi, nil
}

// markDirty flags vi's cache entry as holding unwritten changes (lifecycle
// transition Cached -> Dirty, specification §4.6).
func (vi *Inode) markDirty() {
	if c, ok := vi.vol.inodes[vi.Ino]; ok {
		c.dirty = true
	}
}

// WriteInode copies vi's mutable fields back to its on-disk slot and marks
// it dirty, optionally blocking until durable (specification §4.6's
// write_inode).
func (v *Volume) WriteInode(vi *Inode, sync bool) error {
	slot, err := v.getInodeSlot(vi.Ino)
	if err != nil {
		return err
	}
	defer slot.release()

	raw := slot.read()
	raw.Mode = vi.Mode
	raw.Uid = uint16(vi.Uid)
	raw.HUid = uint16(vi.Uid >> 16)
	raw.Gid = uint16(vi.Gid)
	raw.HGid = uint16(vi.Gid >> 16)
	raw.LinkCount = vi.LinkCount
	raw.FirstBlock = uint64(vi.FirstBlock)
	raw.Atime = uint64(vi.Atime)
	raw.Ctime = uint64(vi.Ctime)
	raw.Mtime = uint64(vi.Mtime)
	raw.SizeOrCount = vi.SizeOrCount
	slot.write(&raw)

	if c, ok := v.inodes[vi.Ino]; ok {
		c.dirty = false
	}
	if sync {
		return slot.buf.Sync()
	}
	return nil
}

// newInode allocates an inode number and a single-block chain for it,
// installs it in the cache as Dirty, and returns it uninitialized beyond
// the generic fields. The caller (Create/Mkdir/Symlink in driver.go/
// dirent.go/symlink.go) fills in the type-specific payload of the first
// block; the record reaches its on-disk slot when WriteInode runs, directly
// or through Forget (specification's wtfs_new_inode).
func (v *Volume) newInode(mode uint32, uid, gid uint32) (*Inode, error) {
	ino, err := v.AllocateIno()
	if err != nil {
		return nil, err
	}

	blockID, err := v.AllocateBlock()
	if err != nil {
		_ = v.FreeIno(ino)
		return nil, err
	}

	buf, err := v.Dev.Read(blockID)
	if err != nil {
		_ = v.FreeBlock(blockID)
		_ = v.FreeIno(ino)
		return nil, err
	}
	for i := range buf.Bytes() {
		buf.Bytes()[i] = 0
	}
	// A symlink block has no prev/next trailer at all (specification §4.9 +
	// the original layout's wtfs_symlink_block): its 4096 bytes are entirely
	// (length, path). Only directory and regular-file first blocks are
	// chain nodes that need the generic ring trailer.
	if !isLink(mode) {
		initSingletonChain(buf)
	}
	buf.Release()

	now := nowUnix()
	vi := &Inode{
		vol:        v,
		Ino:        ino,
		Mode:       mode,
		Uid:        uid,
		Gid:        gid,
		FirstBlock: blockID,
		Atime:      now,
		Ctime:      now,
		Mtime:      now,
	}
	v.inodes[ino] = &cachedInode{inode: vi, dirty: true}
	return vi, nil
}

// DeleteInode frees ino's number, zeroes its on-disk slot, and frees every
// block in its chain (specification §4.6's delete_inode). Called once
// link_count drops to 0.
func (v *Volume) DeleteInode(vi *Inode) error {
	slot, err := v.getInodeSlot(vi.Ino)
	if err != nil {
		return err
	}
	slot.write(&RawInode{})
	slot.release()

	if err := v.FreeIno(vi.Ino); err != nil {
		return err
	}

	if isLink(vi.Mode) {
		// A symlink's first block is a lone block with no trailer, so it
		// cannot be walked as a chain; free it directly.
		err = v.FreeBlock(vi.FirstBlock)
	} else {
		err = forEachChainBlock(v.Dev, vi.FirstBlock, func(pos int, buf *Buffer) (bool, error) {
			return false, v.FreeBlock(buf.ID())
		})
	}
	delete(v.inodes, vi.Ino)
	return err
}

// Forget evicts ino from the cache (specification's Evicting state): if
// link_count is 0 the inode is deleted (Freed), otherwise any dirty data is
// flushed and the cache entry is simply dropped (Forgotten).
func (v *Volume) Forget(ino Ino) error {
	c, ok := v.inodes[ino]
	if !ok {
		return nil
	}
	if c.inode.LinkCount == 0 {
		return v.DeleteInode(c.inode)
	}
	if c.dirty {
		if err := v.WriteInode(c.inode, false); err != nil {
			return err
		}
	}
	delete(v.inodes, ino)
	return nil
}
