package wtfs

import (
	"bufio"
	"fmt"
	"os"

	"github.com/noxer/bytewriter"

	wtfserrors "github.com/chaosdefinition/go-wtfs/errors"
)

// FormatOptions parameterizes mkfs (specification §4.11).
type FormatOptions struct {
	Label string
	UUID  [UUIDSize]byte
	// HasUUID, when false, tells Format to generate a random UUID rather
	// than use the zero value of UUID.
	HasUUID bool
	// Deep additionally zeroes every data block beyond the root directory's,
	// reporting progress unless Quiet.
	Deep  bool
	Quiet bool
}

// blockBitmapCount returns the number of bitmap blocks needed to cover
// blockCount bits, per specification §4.11: ⌈block_count / 32640⌉.
func blockBitmapCount(blockCount uint64) uint64 {
	return (blockCount + BitsPerBitmapBlock - 1) / BitsPerBitmapBlock
}

func zeroBlock(dev *Device, id BlockID) (*Buffer, error) {
	buf, err := dev.Read(id)
	if err != nil {
		return nil, err
	}
	for i := range buf.Bytes() {
		buf.Bytes()[i] = 0
	}
	return buf, nil
}

// linkRing sets the prev/next trailer of count contiguous blocks starting
// at first into a circular chain. It does not touch the rest of each
// block's payload.
func linkRing(dev *Device, first BlockID, count uint64) error {
	for i := uint64(0); i < count; i++ {
		buf, err := dev.Read(first + BlockID(i))
		if err != nil {
			return err
		}
		prev := first + BlockID((i+count-1)%count)
		next := first + BlockID((i+1)%count)
		setTrailerPrev(buf.Bytes(), prev)
		setTrailerNext(buf.Bytes(), next)
		buf.MarkDirty()
		buf.Release()
	}
	return nil
}

// Format lays down a fresh wtfs volume on dev (specification §4.11):
// boot block, super block, inode-table chain (with the root directory's
// inode), block-bitmap chain, inode-bitmap chain, and the root directory's
// first data block. When opts.Deep is set, every remaining data block is
// additionally zeroed.
func Format(dev *Device, opts FormatOptions) error {
	blockCount := uint64(dev.TotalBlocks())
	itCount := uint64(1)
	ibCount := uint64(1)
	bbCount := blockBitmapCount(blockCount)

	reserved := 2 + itCount + bbCount + ibCount
	// One block beyond the reserved region holds the root directory.
	if blockCount < reserved+1 {
		return wtfserrors.NoSpace.WithMessage(
			fmt.Sprintf("device has only %d blocks, need at least %d", blockCount, reserved+1))
	}

	uuid := opts.UUID
	if !opts.HasUUID {
		var err error
		uuid, err = generateUUID()
		if err != nil {
			return err
		}
	}

	itFirst := BlockID(FirstInodeTable)
	bbFirst := itFirst + BlockID(itCount)
	ibFirst := bbFirst + BlockID(bbCount)
	firstData := ibFirst + BlockID(ibCount)

	bootBuf, err := zeroBlock(dev, ReservedBlockBoot)
	if err != nil {
		return err
	}
	bootBuf.MarkDirty()
	bootBuf.Release()

	if err := formatInodeTable(dev, itFirst, itCount, firstData); err != nil {
		return err
	}
	if err := formatBlockBitmap(dev, bbFirst, bbCount, reserved); err != nil {
		return err
	}
	// firstData (the root directory's data block) is itself in use and must
	// be marked, same as the boot/super/table/bitmap blocks reserved above.
	if err := bitmapSet(dev, bbFirst, uint64(firstData), true); err != nil {
		return err
	}
	if err := formatInodeBitmap(dev, ibFirst, ibCount); err != nil {
		return err
	}
	if err := formatRootDirBlock(dev, firstData); err != nil {
		return err
	}

	super := RawSuperBlock{
		Version:          PackVersion(VersionMajor, VersionMinor),
		Magic:            Magic,
		BlockSize:        BlockSize,
		BlockCount:       blockCount,
		InodeTableFirst:  uint64(itFirst),
		InodeTableCount:  itCount,
		BlockBitmapFirst: uint64(bbFirst),
		BlockBitmapCount: bbCount,
		InodeBitmapFirst: uint64(ibFirst),
		InodeBitmapCount: ibCount,
		InodeCount:       1,
		FreeBlockCount:   blockCount - reserved - 1, // minus the root's data block too
		UUID:             uuid,
	}
	copy(super.Label[:], opts.Label)

	superBuf, err := dev.Read(ReservedBlockSuper)
	if err != nil {
		return err
	}
	// The super block is written in one sequential pass, the same way
	// file_systems/unixv1/format.go lays down its header region with
	// bytewriter rather than a single bulk copy.
	writer := bytewriter.New(superBuf.Bytes())
	if _, err := writer.Write(encode(&super)); err != nil {
		superBuf.Release()
		return wtfserrors.IOError.WrapError(err)
	}
	superBuf.MarkDirty()
	superBuf.Release()

	if opts.Deep {
		if err := deepZero(dev, uint64(firstData)+1, blockCount, opts.Quiet); err != nil {
			return err
		}
	}

	return dev.FlushAll()
}

func formatInodeTable(dev *Device, first BlockID, count uint64, firstData BlockID) error {
	for i := uint64(0); i < count; i++ {
		buf, err := zeroBlock(dev, first+BlockID(i))
		if err != nil {
			return err
		}
		buf.MarkDirty()
		buf.Release()
	}
	if err := linkRing(dev, first, count); err != nil {
		return err
	}

	now := uint64(nowUnix())
	root := RawInode{
		Ino:         RootIno,
		SizeOrCount: 2, // "." and ".."
		LinkCount:   2,
		FirstBlock:  uint64(firstData),
		Atime:       now,
		Ctime:       now,
		Mtime:       now,
		Mode:        DefaultDirMode,
	}
	buf, err := dev.Read(first)
	if err != nil {
		return err
	}
	copy(buf.Bytes()[:InodeSize], encode(&root))
	buf.MarkDirty()
	buf.Release()
	return nil
}

func formatBlockBitmap(dev *Device, first BlockID, count uint64, reserved uint64) error {
	for i := uint64(0); i < count; i++ {
		buf, err := zeroBlock(dev, first+BlockID(i))
		if err != nil {
			return err
		}
		buf.MarkDirty()
		buf.Release()
	}
	if err := linkRing(dev, first, count); err != nil {
		return err
	}
	for i := uint64(0); i < reserved; i++ {
		if err := bitmapSet(dev, first, i, true); err != nil {
			return err
		}
	}
	return nil
}

func formatInodeBitmap(dev *Device, first BlockID, count uint64) error {
	for i := uint64(0); i < count; i++ {
		buf, err := zeroBlock(dev, first+BlockID(i))
		if err != nil {
			return err
		}
		buf.MarkDirty()
		buf.Release()
	}
	if err := linkRing(dev, first, count); err != nil {
		return err
	}
	// Bit 0 is permanently reserved, bit 1 is the root inode.
	if err := bitmapSet(dev, first, 0, true); err != nil {
		return err
	}
	return bitmapSet(dev, first, 1, true)
}

func formatRootDirBlock(dev *Device, id BlockID) error {
	buf, err := zeroBlock(dev, id)
	if err != nil {
		return err
	}
	setTrailerPrev(buf.Bytes(), id)
	setTrailerNext(buf.Bytes(), id)

	var dot, dotdot RawDentry
	dot.Ino = RootIno
	copy(dot.Filename[:], ".")
	dotdot.Ino = RootIno
	copy(dotdot.Filename[:], "..")

	writer := bytewriter.New(buf.Bytes())
	if _, err := writer.Write(encode(&dot)); err != nil {
		buf.Release()
		return wtfserrors.IOError.WrapError(err)
	}
	if _, err := writer.Write(encode(&dotdot)); err != nil {
		buf.Release()
		return wtfserrors.IOError.WrapError(err)
	}
	buf.MarkDirty()
	buf.Release()
	return nil
}

func deepZero(dev *Device, start, blockCount uint64, quiet bool) error {
	total := blockCount - uint64(start)
	for id := start; id < blockCount; id++ {
		buf, err := zeroBlock(dev, BlockID(id))
		if err != nil {
			return err
		}
		buf.MarkDirty()
		buf.Release()

		if !quiet && total > 0 {
			done := id - start + 1
			if done%1000 == 0 || done == total {
				fmt.Printf("formatting: %d%%\n", done*100/total)
			}
		}
	}
	return nil
}

// CheckNotMounted reports whether path appears as a mounted device in
// /proc/mounts. Absence of /proc/mounts (non-Linux hosts) is not an error:
// mount detection is inherently best-effort and deferred to the host
// (specification §4.11/§6.3).
func CheckNotMounted(path string) error {
	f, err := os.Open("/proc/mounts")
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return wtfserrors.IOError.WrapError(err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var device, mountPoint, fsType string
		_, _ = fmt.Sscan(scanner.Text(), &device, &mountPoint, &fsType)
		if device == path {
			return wtfserrors.Busy.WithMessage(fmt.Sprintf("%s is currently mounted", path))
		}
	}
	return nil
}
