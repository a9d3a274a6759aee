package wtfs

import (
	"github.com/hashicorp/go-multierror"

	wtfserrors "github.com/chaosdefinition/go-wtfs/errors"
)

// A symlink inode's first_block is a single physical block holding
// (length, path) with no chain trailer of its own (specification §4.9 and
// the original on-disk wtfs_symlink_block, which fills all 4096 bytes).

// Symlink creates a new symlink inode inside parent pointing at target, and
// adds name to parent referencing it. Fails with TooLong if target is at
// least SymlinkMax bytes.
func (v *Volume) Symlink(parent *Inode, name string, target string, uid, gid uint32) (*Inode, error) {
	if len(target) >= SymlinkMax {
		return nil, wtfserrors.TooLong.WithMessage("symlink target too long")
	}
	if existing, err := v.Find(parent, name); err != nil {
		return nil, err
	} else if existing != 0 {
		return nil, wtfserrors.AlreadyExists.WithMessage("name already exists")
	}

	child, err := v.newInode(DefaultSymlinkMode, uid, gid)
	if err != nil {
		return nil, err
	}

	buf, err := v.Dev.Read(child.FirstBlock)
	if err != nil {
		return nil, rollbackSymlink(v, child, err)
	}
	raw := RawSymlinkBlock{Length: uint16(len(target))}
	copy(raw.Path[:], target)
	copy(buf.Bytes(), encode(&raw))
	buf.MarkDirty()
	buf.Release()

	child.SizeOrCount = uint64(len(target))
	child.Size = uint64(len(target))
	child.LinkCount = 1
	child.markDirty()

	if err := v.Add(parent, child.Ino, name); err != nil {
		return nil, rollbackSymlink(v, child, err)
	}

	return child, nil
}

// rollbackSymlink tears down a partially constructed symlink inode after
// cause, folding in any error the teardown itself hits rather than
// discarding it.
func rollbackSymlink(v *Volume, child *Inode, cause error) error {
	if err := v.DeleteInode(child); err != nil {
		return multierror.Append(cause, err)
	}
	return cause
}

// Readlink copies min(length-of-target, len(buf)) bytes of the symlink's
// target into buf and returns how many bytes were copied.
func (v *Volume) Readlink(vi *Inode, buf []byte) (int, error) {
	if !isLink(vi.Mode) {
		return 0, wtfserrors.NotSupported.WithMessage("not a symlink")
	}

	path, release, err := v.GetLink(vi)
	if err != nil {
		return 0, err
	}
	defer release()

	n := copy(buf, path)
	return n, nil
}

// GetLink returns the symlink's target path and a function the caller must
// call to release the underlying block buffer (specification §4.9's
// get_link/put_link pair).
func (v *Volume) GetLink(vi *Inode) (string, func(), error) {
	if !isLink(vi.Mode) {
		return "", nil, wtfserrors.NotSupported.WithMessage("not a symlink")
	}

	buf, err := v.Dev.Read(vi.FirstBlock)
	if err != nil {
		return "", nil, err
	}

	var raw RawSymlinkBlock
	if err := decode(buf.Bytes(), &raw); err != nil {
		buf.Release()
		return "", nil, wtfserrors.IOError.WrapError(err)
	}
	if int(raw.Length) > SymlinkMax {
		buf.Release()
		return "", nil, wtfserrors.BadFS.WithMessage("corrupt symlink length")
	}

	path := string(raw.Path[:raw.Length])
	return path, buf.Release, nil
}
