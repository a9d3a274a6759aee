package wtfs

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMkdirAddsDotAndDotDot(t *testing.T) {
	vol, _ := newFormattedTestVolume(t, 64, FormatOptions{Quiet: true})
	root, err := vol.IGet(RootIno)
	require.NoError(t, err)

	child, err := vol.Mkdir(root, "sub", DefaultDirMode, 0, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 2, child.LinkCount)
	assert.EqualValues(t, 3, root.LinkCount)
	assert.EqualValues(t, BlockSize, child.Size)

	selfIno, err := vol.Find(child, ".")
	require.NoError(t, err)
	assert.Equal(t, child.Ino, selfIno)

	parentIno, err := vol.Find(child, "..")
	require.NoError(t, err)
	assert.Equal(t, root.Ino, parentIno)

	found, err := vol.Find(root, "sub")
	require.NoError(t, err)
	assert.Equal(t, child.Ino, found)
}

func TestMkdirRejectsDuplicateName(t *testing.T) {
	vol, _ := newFormattedTestVolume(t, 64, FormatOptions{Quiet: true})
	root, err := vol.IGet(RootIno)
	require.NoError(t, err)

	_, err = vol.Mkdir(root, "sub", DefaultDirMode, 0, 0)
	require.NoError(t, err)

	_, err = vol.Mkdir(root, "sub", DefaultDirMode, 0, 0)
	assert.Error(t, err)
}

func TestRmdirRestoresParentLinkCountAndFreesChild(t *testing.T) {
	vol, _ := newFormattedTestVolume(t, 64, FormatOptions{Quiet: true})
	root, err := vol.IGet(RootIno)
	require.NoError(t, err)

	child, err := vol.Mkdir(root, "sub", DefaultDirMode, 0, 0)
	require.NoError(t, err)
	childIno := child.Ino
	linkBefore := root.LinkCount

	require.NoError(t, vol.Rmdir(root, "sub"))
	assert.Equal(t, linkBefore-1, root.LinkCount)

	found, err := vol.Find(root, "sub")
	require.NoError(t, err)
	assert.EqualValues(t, 0, found)

	_, err = vol.IGet(childIno)
	assert.Error(t, err)
}

func TestRmdirRejectsNonEmptyDirectory(t *testing.T) {
	vol, _ := newFormattedTestVolume(t, 64, FormatOptions{Quiet: true})
	root, err := vol.IGet(RootIno)
	require.NoError(t, err)

	child, err := vol.Mkdir(root, "sub", DefaultDirMode, 0, 0)
	require.NoError(t, err)
	_, err = vol.Mkdir(child, "grandchild", DefaultDirMode, 0, 0)
	require.NoError(t, err)

	err = vol.Rmdir(root, "sub")
	assert.Error(t, err)
}

func TestUnlinkDeletesOnZeroLinkCount(t *testing.T) {
	vol, _ := newFormattedTestVolume(t, 64, FormatOptions{Quiet: true})
	root, err := vol.IGet(RootIno)
	require.NoError(t, err)

	file, err := vol.Create(root, "file.txt", DefaultFileMode, 0, 0)
	require.NoError(t, err)
	fileIno := file.Ino

	require.NoError(t, vol.Unlink(root, "file.txt"))

	_, err = vol.IGet(fileIno)
	assert.Error(t, err)
}

func TestRenameMovesEntryBetweenDirectories(t *testing.T) {
	vol, _ := newFormattedTestVolume(t, 64, FormatOptions{Quiet: true})
	root, err := vol.IGet(RootIno)
	require.NoError(t, err)

	src, err := vol.Mkdir(root, "src", DefaultDirMode, 0, 0)
	require.NoError(t, err)
	dst, err := vol.Mkdir(root, "dst", DefaultDirMode, 0, 0)
	require.NoError(t, err)

	file, err := vol.Create(src, "a.txt", DefaultFileMode, 0, 0)
	require.NoError(t, err)

	require.NoError(t, vol.Rename(src, "a.txt", dst, "b.txt"))

	gone, err := vol.Find(src, "a.txt")
	require.NoError(t, err)
	assert.EqualValues(t, 0, gone)

	found, err := vol.Find(dst, "b.txt")
	require.NoError(t, err)
	assert.Equal(t, file.Ino, found)
}

func TestRenameThenReverseRenameRestoresListing(t *testing.T) {
	vol, _ := newFormattedTestVolume(t, 64, FormatOptions{Quiet: true})
	root, err := vol.IGet(RootIno)
	require.NoError(t, err)

	_, err = vol.Create(root, "only.txt", DefaultFileMode, 0, 0)
	require.NoError(t, err)

	require.NoError(t, vol.Rename(root, "only.txt", root, "renamed.txt"))
	require.NoError(t, vol.Rename(root, "renamed.txt", root, "only.txt"))

	ino, err := vol.Find(root, "only.txt")
	require.NoError(t, err)
	assert.NotZero(t, ino)
}

func TestAddFillsFirstPhysicallyFreeSlot(t *testing.T) {
	vol, _ := newFormattedTestVolume(t, 64, FormatOptions{Quiet: true})
	root, err := vol.IGet(RootIno)
	require.NoError(t, err)

	var middle *Inode
	for i := 0; i < 5; i++ {
		child, err := vol.Create(root, fmt.Sprintf("f%d", i), DefaultFileMode, 0, 0)
		require.NoError(t, err)
		if i == 2 {
			middle = child
		}
	}
	require.NoError(t, vol.Delete(root, middle.Ino))

	next, err := vol.Create(root, "reused", DefaultFileMode, 0, 0)
	require.NoError(t, err)

	reusedSlot := false
	err = forEachChainBlock(vol.Dev, root.FirstBlock, func(pos int, buf *Buffer) (bool, error) {
		for slot := 0; slot < DentriesPerBlock; slot++ {
			d := readDentry(buf, slot)
			if d.Ino == uint64(next.Ino) && slot == 4 {
				// "." ".." f0 f1 reused f3 f4 ("reused" takes f2's freed slot 4)
				reusedSlot = true
			}
		}
		return false, nil
	})
	require.NoError(t, err)
	assert.True(t, reusedSlot, "Add should have reused middle's freed slot")
}
