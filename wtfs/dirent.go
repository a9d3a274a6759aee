package wtfs

import (
	"github.com/hashicorp/go-multierror"

	wtfserrors "github.com/chaosdefinition/go-wtfs/errors"
)

// Directory entries live in a directory inode's own chain, DentriesPerBlock
// per block. Ino == 0 marks a slot free (specification §4.7).

func readDentry(buf *Buffer, slot int) RawDentry {
	var d RawDentry
	off := slot * dentrySize
	_ = decode(buf.Bytes()[off:off+dentrySize], &d)
	return d
}

func writeDentry(buf *Buffer, slot int, d *RawDentry) {
	off := slot * dentrySize
	copy(buf.Bytes()[off:off+dentrySize], encode(d))
	buf.MarkDirty()
}

// Find scans dir's directory-block chain for name and returns its ino, or 0
// if not present.
func (v *Volume) Find(dir *Inode, name string) (Ino, error) {
	if !isDir(dir.Mode) {
		return 0, wtfserrors.NotSupported.WithMessage("not a directory")
	}

	var found Ino
	err := forEachChainBlock(v.Dev, dir.FirstBlock, func(pos int, buf *Buffer) (bool, error) {
		for slot := 0; slot < DentriesPerBlock; slot++ {
			d := readDentry(buf, slot)
			if d.Ino == 0 {
				continue
			}
			if cstring(d.Filename[:]) == name {
				found = Ino(d.Ino)
				return true, nil
			}
		}
		return false, nil
	})
	return found, err
}

// Add inserts (ino, name) into dir, reusing the first physically free slot
// in chain order then index order; if none exists, the chain is extended by
// one block and the entry goes into slot 0 of the new block (specification
// §4.7, with the slot-reuse scan order supplemented from the original
// implementation rather than always appending past the last-used slot).
func (v *Volume) Add(dir *Inode, ino Ino, name string) error {
	if len(name) == 0 {
		return wtfserrors.EmptyName.WithMessage("directory entry name is empty")
	}
	if len(name) >= FilenameMax {
		return wtfserrors.TooLong.WithMessage("directory entry name too long")
	}

	added := false
	err := forEachChainBlock(v.Dev, dir.FirstBlock, func(pos int, buf *Buffer) (bool, error) {
		for slot := 0; slot < DentriesPerBlock; slot++ {
			d := readDentry(buf, slot)
			if d.Ino != 0 {
				continue
			}
			var raw RawDentry
			raw.Ino = uint64(ino)
			copy(raw.Filename[:], name)
			writeDentry(buf, slot, &raw)
			added = true
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return err
	}

	if !added {
		newBuf, err := appendToChain(v.Dev, dir.FirstBlock, v)
		if err != nil {
			return err
		}
		var raw RawDentry
		raw.Ino = uint64(ino)
		copy(raw.Filename[:], name)
		writeDentry(newBuf, 0, &raw)
		newBuf.Release()

		dir.Size += BlockSize
	}

	dir.SizeOrCount++
	now := nowUnix()
	dir.Ctime = now
	dir.Mtime = now
	dir.markDirty()
	return nil
}

// Delete clears the dentry naming ino inside dir. The directory's block
// chain never shrinks here, even if the removal leaves a block empty
// (specification §4.7: it shrinks only at rmdir, and even then only
// implicitly via DeleteInode freeing the whole chain).
func (v *Volume) Delete(dir *Inode, ino Ino) error {
	found := false
	err := forEachChainBlock(v.Dev, dir.FirstBlock, func(pos int, buf *Buffer) (bool, error) {
		for slot := 0; slot < DentriesPerBlock; slot++ {
			d := readDentry(buf, slot)
			if d.Ino != uint64(ino) {
				continue
			}
			writeDentry(buf, slot, &RawDentry{})
			found = true
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return err
	}
	if !found {
		return wtfserrors.NotFound.WithMessage("dentry not found")
	}

	dir.SizeOrCount--
	now := nowUnix()
	dir.Ctime = now
	dir.Mtime = now
	dir.markDirty()
	return nil
}

// Mkdir creates a new directory named name inside parent. The child's
// link count begins at 2 (the parent's dentry plus its own "."); the
// parent's link count gains 1 for the child's "..", per the later-revision
// convention this package follows (specification §9's Open Question).
func (v *Volume) Mkdir(parent *Inode, name string, mode uint32, uid, gid uint32) (*Inode, error) {
	if !isDir(parent.Mode) {
		return nil, wtfserrors.NotSupported.WithMessage("parent is not a directory")
	}
	if existing, err := v.Find(parent, name); err != nil {
		return nil, err
	} else if existing != 0 {
		return nil, wtfserrors.AlreadyExists.WithMessage("name already exists")
	}

	child, err := v.newInode((mode&^S_IFMT)|S_IFDIR, uid, gid)
	if err != nil {
		return nil, err
	}
	// newInode's first block is already a chain node; Add only grows Size
	// when it appends a further block, so the first block's worth of
	// directory payload must be accounted for here.
	child.Size = BlockSize
	child.markDirty()

	if err := v.Add(child, child.Ino, "."); err != nil {
		return nil, rollbackMkdir(v, child, err)
	}
	if err := v.Add(child, parent.Ino, ".."); err != nil {
		return nil, rollbackMkdir(v, child, err)
	}
	child.LinkCount = 2
	child.markDirty()

	if err := v.Add(parent, child.Ino, name); err != nil {
		return nil, rollbackMkdir(v, child, err)
	}
	parent.LinkCount++
	parent.markDirty()

	return child, nil
}

// rollbackMkdir tears down a partially constructed directory after cause,
// folding in any error the teardown itself hits rather than discarding it.
func rollbackMkdir(v *Volume, child *Inode, cause error) error {
	if err := v.DeleteInode(child); err != nil {
		return multierror.Append(cause, err)
	}
	return cause
}

// Rmdir removes an empty child directory from parent. A directory is empty
// when only "." and ".." remain (dentry_count == 2); otherwise this fails
// with NotEmpty.
func (v *Volume) Rmdir(parent *Inode, name string) error {
	childIno, err := v.Find(parent, name)
	if err != nil {
		return err
	}
	if childIno == 0 {
		return wtfserrors.NotFound.WithMessage("name not found in parent")
	}

	child, err := v.IGet(childIno)
	if err != nil {
		return err
	}
	if !isDir(child.Mode) {
		return wtfserrors.NotSupported.WithMessage("not a directory")
	}
	if child.SizeOrCount != 2 {
		return wtfserrors.NotEmpty.WithMessage("directory is not empty")
	}

	if err := v.Delete(parent, childIno); err != nil {
		return err
	}
	parent.LinkCount--
	parent.markDirty()

	return v.DeleteInode(child)
}

// Unlink removes a regular file or symlink named name from parent,
// decrementing the target's link count and deleting it once that count
// reaches 0.
func (v *Volume) Unlink(parent *Inode, name string) error {
	childIno, err := v.Find(parent, name)
	if err != nil {
		return err
	}
	if childIno == 0 {
		return wtfserrors.NotFound.WithMessage("name not found in parent")
	}

	child, err := v.IGet(childIno)
	if err != nil {
		return err
	}

	if err := v.Delete(parent, childIno); err != nil {
		return err
	}

	child.LinkCount--
	child.markDirty()
	if child.LinkCount == 0 {
		return v.DeleteInode(child)
	}
	return v.WriteInode(child, false)
}

// Rename moves oldName in oldParent to newName in newParent, first clearing
// any existing entry at the destination. The delete of the old dentry is
// always attempted, even if the add to the new parent failed, so a failure
// never leaves the object linked from neither or both locations for longer
// than necessary (specification §4.7).
func (v *Volume) Rename(oldParent *Inode, oldName string, newParent *Inode, newName string) error {
	oldIno, err := v.Find(oldParent, oldName)
	if err != nil {
		return err
	}
	if oldIno == 0 {
		return wtfserrors.NotFound.WithMessage("name not found in source parent")
	}

	existingIno, err := v.Find(newParent, newName)
	if err != nil {
		return err
	}
	if existingIno != 0 {
		existing, err := v.IGet(existingIno)
		if err != nil {
			return err
		}
		if isDir(existing.Mode) {
			if err := v.Rmdir(newParent, newName); err != nil {
				return err
			}
		} else {
			if err := v.Unlink(newParent, newName); err != nil {
				return err
			}
		}
	}

	if oldParent.Ino == newParent.Ino {
		if err := v.Delete(oldParent, oldIno); err != nil {
			return err
		}
		if err := v.Add(newParent, oldIno, newName); err != nil {
			if restoreErr := v.Add(oldParent, oldIno, oldName); restoreErr != nil {
				return multierror.Append(err, restoreErr)
			}
			return err
		}
		return nil
	}

	addErr := v.Add(newParent, oldIno, newName)
	delErr := v.Delete(oldParent, oldIno)

	if addErr != nil && delErr != nil {
		return multierror.Append(addErr, delErr)
	}
	if addErr != nil {
		return addErr
	}
	return delErr
}
