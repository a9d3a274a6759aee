package wtfs

import (
	"github.com/hashicorp/go-multierror"

	wtfserrors "github.com/chaosdefinition/go-wtfs/errors"
)

// This file is the host VFS callback surface (specification §6.2): the
// thin layer a host kernel, FUSE binding, or test harness calls into. Most
// of the real work already lives on *Volume/*Inode in dirent.go, file.go,
// symlink.go, and inode.go; this file supplies the remaining operations
// (create, lookup, setattr/getattr, directory iteration) and gives the
// super-operation names the host expects.

// Attr is the subset of inode metadata getattr/setattr exchange with the
// host.
type Attr struct {
	Mode      uint32
	Uid       uint32
	Gid       uint32
	LinkCount uint32
	Size      uint64
	// NumBlocks is Size's chain length in traditional 512-byte stat blocks
	// (block_size/512 per block), not the raw block count, matching the
	// original getattr's st_blocks field.
	NumBlocks uint64
	Atime     int64
	Ctime     int64
	Mtime     int64
}

// Getattr reports vi's current metadata.
func (vi *Inode) Getattr() Attr {
	// A symlink, and an empty regular file, own exactly one block.
	blockCount := uint64(1)
	switch {
	case isDir(vi.Mode):
		blockCount = vi.Size / BlockSize
	case isReg(vi.Mode) && vi.Size > 0:
		blockCount = (vi.Size + LinkedBlockPayloadSize - 1) / LinkedBlockPayloadSize
	}
	return Attr{
		Mode:      vi.Mode,
		Uid:       vi.Uid,
		Gid:       vi.Gid,
		LinkCount: vi.LinkCount,
		Size:      vi.Size,
		NumBlocks: blockCount * (BlockSize / 512),
		Atime:     vi.Atime,
		Ctime:     vi.Ctime,
		Mtime:     vi.Mtime,
	}
}

// Setattr applies the host-writable subset of attr to vi. File-size changes
// on regular files are file.go's Write's responsibility; this only touches
// metadata.
func (v *Volume) Setattr(vi *Inode, attr Attr) {
	vi.Mode = attr.Mode
	vi.Uid = attr.Uid
	vi.Gid = attr.Gid
	vi.Atime = attr.Atime
	vi.Mtime = attr.Mtime
	vi.Ctime = nowUnix()
	vi.markDirty()
}

// Lookup resolves name inside dir and returns its Inode.
func (v *Volume) Lookup(dir *Inode, name string) (*Inode, error) {
	ino, err := v.Find(dir, name)
	if err != nil {
		return nil, err
	}
	if ino == 0 {
		return nil, wtfserrors.NotFound.WithMessage("no such file or directory")
	}
	return v.IGet(ino)
}

// Create makes a new regular-file inode named name inside dir.
func (v *Volume) Create(dir *Inode, name string, mode uint32, uid, gid uint32) (*Inode, error) {
	if !isDir(dir.Mode) {
		return nil, wtfserrors.NotSupported.WithMessage("parent is not a directory")
	}
	if existing, err := v.Find(dir, name); err != nil {
		return nil, err
	} else if existing != 0 {
		return nil, wtfserrors.AlreadyExists.WithMessage("name already exists")
	}

	child, err := v.newInode((mode&^S_IFMT)|S_IFREG, uid, gid)
	if err != nil {
		return nil, err
	}
	child.LinkCount = 1
	child.markDirty()

	if err := v.Add(dir, child.Ino, name); err != nil {
		if delErr := v.DeleteInode(child); delErr != nil {
			return nil, multierror.Append(err, delErr)
		}
		return nil, err
	}
	return child, nil
}

// DirEntry is one entry yielded by Iterate. Position is the byte offset, in
// the virtual 64-byte-per-slot stream, at which a subsequent Iterate call
// should resume.
type DirEntry struct {
	Ino      Ino
	Name     string
	Position int64
}

// Iterate walks dir's dentry chain starting at virtual byte position pos,
// invoking fn for every non-empty slot in chain order and stopping when fn
// returns cont == false (specification §6.2's iterate). Position advances
// in dentrySize units including empty slots (specification §9's Open
// Question 2), so a position returned mid-iteration stays valid even after
// Delete clears slots elsewhere in the chain.
func (v *Volume) Iterate(dir *Inode, pos int64, fn func(DirEntry) (bool, error)) error {
	if pos < 0 || pos%dentrySize != 0 {
		return wtfserrors.Invalid.WithMessage("misaligned directory read position")
	}
	startSlot := int(pos / dentrySize)
	startBlockPos := startSlot / DentriesPerBlock
	startOffset := startSlot % DentriesPerBlock

	return forEachChainBlock(v.Dev, dir.FirstBlock, func(blockPos int, buf *Buffer) (bool, error) {
		if blockPos < startBlockPos {
			return false, nil
		}
		first := 0
		if blockPos == startBlockPos {
			first = startOffset
		}
		for slot := first; slot < DentriesPerBlock; slot++ {
			d := readDentry(buf, slot)
			globalSlot := blockPos*DentriesPerBlock + slot
			nextPos := int64(globalSlot+1) * dentrySize
			if d.Ino == 0 {
				continue
			}
			cont, err := fn(DirEntry{Ino: Ino(d.Ino), Name: cstring(d.Filename[:]), Position: nextPos})
			if err != nil {
				return true, err
			}
			if !cont {
				return true, nil
			}
		}
		return false, nil
	})
}

// AllocInode is the super operation underlying newInode, exposed for a host
// that wants to drive allocation and type-specific initialization as
// separate steps.
func (v *Volume) AllocInode(mode uint32, uid, gid uint32) (*Inode, error) {
	return v.newInode(mode, uid, gid)
}

// DestroyInode matches the host super-operation name for DeleteInode.
func (v *Volume) DestroyInode(vi *Inode) error {
	return v.DeleteInode(vi)
}

// EvictInode matches the host super-operation name for Forget.
func (v *Volume) EvictInode(ino Ino) error {
	return v.Forget(ino)
}

// PutSuper flushes the super record and every dirty block before the mount
// is torn down.
func (v *Volume) PutSuper() error {
	if err := v.Sync(true); err != nil {
		return err
	}
	return v.Dev.FlushAll()
}

// SyncFs flushes the super record and every dirty block without tearing
// down the mount.
func (v *Volume) SyncFs() error {
	if err := v.Sync(true); err != nil {
		return err
	}
	return v.Dev.FlushAll()
}
