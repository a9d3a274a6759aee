package wtfs

import (
	"fmt"
	"io"

	"github.com/gocarina/gocsv"
)

// DentryReport is one non-empty entry of the root directory, as printed by
// statfs (specification §4.12).
type DentryReport struct {
	Ino  Ino    `csv:"ino"`
	Name string `csv:"name"`
}

// ChainBlockReport is one block's diagnostic record: which chain it belongs
// to, its position, and its prev/next neighbours.
type ChainBlockReport struct {
	Kind     string  `csv:"kind"`
	Position int     `csv:"position"`
	BlockID  BlockID `csv:"block_id"`
	Prev     BlockID `csv:"prev"`
	Next     BlockID `csv:"next"`
}

// Inspection is the full report statfs prints: super statistics, the root
// directory's contents, and prev/next diagnostics for every inode-table,
// block-bitmap, and inode-bitmap block.
type Inspection struct {
	Super       SuperData
	Stat        Stat
	RootEntries []DentryReport
	ChainBlocks []ChainBlockReport
}

// Inspect reads everything statfs reports from an already-mounted volume.
func Inspect(v *Volume) (*Inspection, error) {
	root, err := v.IGet(RootIno)
	if err != nil {
		return nil, err
	}

	var entries []DentryReport
	err = forEachChainBlock(v.Dev, root.FirstBlock, func(pos int, buf *Buffer) (bool, error) {
		for slot := 0; slot < DentriesPerBlock; slot++ {
			d := readDentry(buf, slot)
			if d.Ino == 0 {
				continue
			}
			entries = append(entries, DentryReport{Ino: Ino(d.Ino), Name: cstring(d.Filename[:])})
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}

	var chainBlocks []ChainBlockReport
	collect := func(kind string, head BlockID) error {
		return forEachChainBlock(v.Dev, head, func(pos int, buf *Buffer) (bool, error) {
			chainBlocks = append(chainBlocks, ChainBlockReport{
				Kind:     kind,
				Position: pos,
				BlockID:  buf.ID(),
				Prev:     trailerPrev(buf.Bytes()),
				Next:     trailerNext(buf.Bytes()),
			})
			return false, nil
		})
	}
	if err := collect("inode_table", v.Super.InodeTableFirst); err != nil {
		return nil, err
	}
	if err := collect("block_bitmap", v.Super.BlockBitmapFirst); err != nil {
		return nil, err
	}
	if err := collect("inode_bitmap", v.Super.InodeBitmapFirst); err != nil {
		return nil, err
	}

	return &Inspection{
		Super:       v.Super,
		Stat:        v.Statfs(),
		RootEntries: entries,
		ChainBlocks: chainBlocks,
	}, nil
}

// WriteText prints the report in the plain, human-oriented layout
// specification §4.12 describes.
func (ins *Inspection) WriteText(w io.Writer) error {
	fmt.Fprintf(w, "version        %d.%d\n", VersionMajor, VersionMinor)
	fmt.Fprintf(w, "label          %s\n", ins.Super.Label)
	fmt.Fprintf(w, "block_count    %d\n", ins.Super.BlockCount)
	fmt.Fprintf(w, "free_blocks    %d\n", ins.Super.FreeBlockCount)
	fmt.Fprintf(w, "inode_count    %d\n", ins.Super.InodeCount)
	fmt.Fprintf(w, "max_name_len   %d\n", ins.Stat.MaxNameLength)
	fmt.Fprintf(w, "fsid           %x\n", ins.Stat.FSID)

	fmt.Fprintln(w, "root directory entries:")
	for _, e := range ins.RootEntries {
		fmt.Fprintf(w, "%d  %s\n", e.Ino, e.Name)
	}

	fmt.Fprintln(w, "chain diagnostics:")
	for _, c := range ins.ChainBlocks {
		fmt.Fprintf(w, "%-14s pos=%-6d block=%-8d prev=%-8d next=%-8d\n",
			c.Kind, c.Position, c.BlockID, c.Prev, c.Next)
	}
	return nil
}

// WriteCSV renders the chain diagnostics as CSV via gocsv, the
// machine-readable counterpart of WriteText requested with statfswtfs
// --csv.
func (ins *Inspection) WriteCSV(w io.Writer) error {
	return gocsv.Marshal(ins.ChainBlocks, w)
}
