package wtfs

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Fixed parameters of the on-disk format (specification §3, and
// original_source/include/wtfs/wtfs.h).
const (
	// BlockSize is the size, in bytes, of every block on a wtfs volume.
	BlockSize = 4096

	// VersionMajor/VersionMinor identify the on-disk format version this
	// package reads and writes. Patch is always zero.
	VersionMajor = 1
	VersionMinor = 0

	// Magic is the only valid value of the super block's Magic field.
	Magic = uint64(0x0c3e)

	// InodeSize is the size, in bytes, of a single on-disk inode record.
	InodeSize = 64
	// InodesPerTable is the number of inode records in one inode-table block.
	InodesPerTable = 63

	// FilenameMax is the maximum length of a filename, including the slot's
	// terminator when the name is shorter than this.
	FilenameMax = 56
	// DentriesPerBlock is the number of directory entries in one directory
	// block.
	DentriesPerBlock = 63

	// SymlinkMax is the maximum length of a symlink target path.
	SymlinkMax = 4094
	// LabelMax is the maximum length of a volume label.
	LabelMax = 32
	// UUIDSize is the length, in bytes, of a volume UUID.
	UUIDSize = 16

	// LinkedBlockPayloadSize is the number of payload bytes available in any
	// block that carries the generic linked-block trailer (prev + next).
	LinkedBlockPayloadSize = BlockSize - 16
	// BitmapPayloadSize is the number of bytes of bitmap data in one bitmap
	// block (the rest is the linked-block trailer).
	BitmapPayloadSize = LinkedBlockPayloadSize
	// BitsPerBitmapBlock is the number of bits addressable in one bitmap
	// block.
	BitsPerBitmapBlock = BitmapPayloadSize * 8

	// RootIno is the inode number of the root directory. It is never
	// allocated or freed by the normal allocator path.
	RootIno = 1

	// Reserved block indices, fixed by mkfs (specification §6.1).
	ReservedBlockBoot  = 0
	ReservedBlockSuper = 1
	FirstInodeTable    = 2
)

// BlockID identifies a block by its zero-based position on the volume.
type BlockID uint64

// InvalidBlock is used as a sentinel in places where "no block" needs to be
// representable (e.g. an inode that owns no chain yet).
const InvalidBlock = BlockID(^uint64(0))

// Ino identifies an inode by its 1-based inode number. 0 means "no inode"
// (an empty directory entry slot).
type Ino uint64

// RawSuperBlock is the exact byte-for-byte layout of block index
// ReservedBlockSuper. All multi-byte fields are little-endian.
type RawSuperBlock struct {
	Version uint64
	Magic   uint64

	BlockSize  uint64
	BlockCount uint64

	InodeTableFirst  uint64
	InodeTableCount  uint64
	BlockBitmapFirst uint64
	BlockBitmapCount uint64
	InodeBitmapFirst uint64
	InodeBitmapCount uint64

	InodeCount     uint64
	FreeBlockCount uint64

	Label [LabelMax]byte
	UUID  [UUIDSize]byte

	Padding [BlockSize - 12*8 - LabelMax - UUIDSize]byte
}

// PackVersion combines a major/minor pair into the on-disk version field.
// Patch is always zero.
func PackVersion(major, minor uint8) uint64 {
	return (uint64(major) << 8) | uint64(minor)
}

// UnpackVersion splits the on-disk version field into major/minor.
func UnpackVersion(v uint64) (major, minor uint8) {
	return uint8(v >> 8), uint8(v & 0xff)
}

// RawInode is the exact byte-for-byte layout of a single inode-table slot.
// SizeOrCount holds file_size for regular files and symlinks, and
// dentry_count for directories — the on-disk union of the specification.
type RawInode struct {
	Ino         uint64
	SizeOrCount uint64
	LinkCount   uint32
	HUid        uint16
	HGid        uint16
	FirstBlock  uint64
	Atime       uint64
	Ctime       uint64
	Mtime       uint64
	Mode        uint32
	Uid         uint16
	Gid         uint16
}

// rawInodeTableTrailerPad is the filler between the last inode slot and the
// prev/next trailer of an inode-table block.
const rawInodeTableTrailerPad = BlockSize - InodesPerTable*InodeSize - 16

// RawDentry is the exact byte-for-byte layout of one directory entry slot.
// Ino == 0 marks the slot empty.
type RawDentry struct {
	Ino      uint64
	Filename [FilenameMax]byte
}

const dentrySize = 8 + FilenameMax // == InodeSize, both are 64 bytes.

// rawDirBlockTrailerPad is the filler between the last dentry slot and the
// prev/next trailer of a directory block.
const rawDirBlockTrailerPad = BlockSize - DentriesPerBlock*dentrySize - 16

// RawSymlinkBlock is the exact byte-for-byte layout of the single block a
// symlink inode's chain ever contains.
type RawSymlinkBlock struct {
	Length uint16
	Path   [SymlinkMax]byte
}

func init() {
	// Compile-time layout sanity: encoding/binary serializes struct fields in
	// declaration order with no inserted padding, so these sizes must match
	// the specification exactly or every on-disk offset downstream is wrong.
	mustSize(RawSuperBlock{}, BlockSize)
	mustSize(RawInode{}, InodeSize)
	mustSize(RawDentry{}, dentrySize)
	mustSize(RawSymlinkBlock{}, 2+SymlinkMax)
}

func mustSize(v interface{}, want int) {
	got := binary.Size(v)
	if got != want {
		panic(layoutSizeMismatch{want: want, got: got})
	}
}

type layoutSizeMismatch struct {
	want, got int
}

func (e layoutSizeMismatch) Error() string {
	return fmt.Sprintf("wtfs: on-disk struct layout size mismatch: want %d, got %d", e.want, e.got)
}

// encode serializes v into a little-endian byte slice using the same
// field-by-field, no-padding rule as the C packed structs it mirrors.
func encode(v interface{}) []byte {
	buf := new(bytes.Buffer)
	buf.Grow(binary.Size(v))
	if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
		panic(err) // Only fails for non-fixed-size types, a programmer error.
	}
	return buf.Bytes()
}

// decode deserializes a little-endian byte slice into v, the inverse of
// encode.
func decode(data []byte, v interface{}) error {
	return binary.Read(bytes.NewReader(data), binary.LittleEndian, v)
}

// getLE64/putLE64 read and write a little-endian uint64 in a raw byte slice.
// Used for the generic linked-block trailer on block kinds (plain data
// blocks) that have no named Go struct of their own.
func getLE64(buf []byte, offset int) uint64 {
	return binary.LittleEndian.Uint64(buf[offset : offset+8])
}

func putLE64(buf []byte, offset int, v uint64) {
	binary.LittleEndian.PutUint64(buf[offset:offset+8], v)
}

func getLE16(buf []byte, offset int) uint16 {
	return binary.LittleEndian.Uint16(buf[offset : offset+2])
}

func putLE16(buf []byte, offset int, v uint16) {
	binary.LittleEndian.PutUint16(buf[offset:offset+2], v)
}

// trailerPrev/trailerNext read and write the last-16-bytes prev/next pair
// that every linked-block kind carries, regardless of its payload layout.
func trailerPrev(block []byte) BlockID {
	return BlockID(getLE64(block, BlockSize-16))
}

func setTrailerPrev(block []byte, id BlockID) {
	putLE64(block, BlockSize-16, uint64(id))
}

func trailerNext(block []byte) BlockID {
	return BlockID(getLE64(block, BlockSize-8))
}

func setTrailerNext(block []byte, id BlockID) {
	putLE64(block, BlockSize-8, uint64(id))
}
