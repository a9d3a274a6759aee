package wtfs

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSymlinkCreateThenReadlink(t *testing.T) {
	vol, _ := newFormattedTestVolume(t, 64, FormatOptions{Quiet: true})
	root, err := vol.IGet(RootIno)
	require.NoError(t, err)

	link, err := vol.Symlink(root, "link", "/some/target", 0, 0)
	require.NoError(t, err)
	assert.True(t, isLink(link.Mode))
	assert.EqualValues(t, 1, link.LinkCount)

	buf := make([]byte, 64)
	n, err := vol.Readlink(link, buf)
	require.NoError(t, err)
	assert.Equal(t, "/some/target", string(buf[:n]))
}

func TestSymlinkRejectsTooLongTarget(t *testing.T) {
	vol, _ := newFormattedTestVolume(t, 64, FormatOptions{Quiet: true})
	root, err := vol.IGet(RootIno)
	require.NoError(t, err)

	target := strings.Repeat("a", SymlinkMax)
	_, err = vol.Symlink(root, "link", target, 0, 0)
	assert.Error(t, err)
}

func TestDeleteInodeOnSymlinkFreesLoneBlockDirectly(t *testing.T) {
	vol, _ := newFormattedTestVolume(t, 64, FormatOptions{Quiet: true})
	root, err := vol.IGet(RootIno)
	require.NoError(t, err)

	link, err := vol.Symlink(root, "link", "target", 0, 0)
	require.NoError(t, err)
	blockID := link.FirstBlock

	require.NoError(t, vol.Unlink(root, "link"))

	set, err := vol.blockAlloc.testBit(uint64(blockID))
	require.NoError(t, err)
	assert.False(t, set)
}

func TestGetLinkReturnsReleaseClosure(t *testing.T) {
	vol, _ := newFormattedTestVolume(t, 64, FormatOptions{Quiet: true})
	root, err := vol.IGet(RootIno)
	require.NoError(t, err)

	link, err := vol.Symlink(root, "link", "target", 0, 0)
	require.NoError(t, err)

	path, release, err := vol.GetLink(link)
	require.NoError(t, err)
	assert.Equal(t, "target", path)
	release()
	assert.EqualValues(t, 0, vol.Dev.OutstandingRefs(link.FirstBlock))
}
