package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/chaosdefinition/go-wtfs/wtfs"
)

func main() {
	app := &cli.App{
		Name:      "statfs.wtfs",
		Usage:     "print diagnostics for a wtfs volume",
		Version:   fmt.Sprintf("%d.%d", wtfs.VersionMajor, wtfs.VersionMinor),
		ArgsUsage: "<FILE>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "csv", Usage: "print chain diagnostics as CSV instead of text"},
		},
		Action: runStatfs,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runStatfs(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("expected exactly one FILE argument", 1)
	}
	path := resolveDevicePath(c.Args().Get(0))

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed to open %s: %s", path, err), 1)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed to stat %s: %s", path, err), 1)
	}
	totalBlocks := uint(info.Size() / wtfs.BlockSize)

	dev := wtfs.NewDeviceFromStream(f, totalBlocks)
	vol, err := wtfs.Mount(dev)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed to mount %s: %s", path, err), 1)
	}
	defer vol.PutSuper()

	ins, err := wtfs.Inspect(vol)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed to inspect %s: %s", path, err), 1)
	}

	if c.Bool("csv") {
		return ins.WriteCSV(os.Stdout)
	}
	return ins.WriteText(os.Stdout)
}

// resolveDevicePath maps a mounted path to its backing device via
// /proc/mounts, the mirror image of format.go's CheckNotMounted. Any path
// that isn't a recognized mount point (a raw device or image file) passes
// through unchanged.
func resolveDevicePath(path string) string {
	f, err := os.Open("/proc/mounts")
	if err != nil {
		return path
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var device, mountPoint, fsType string
		_, _ = fmt.Sscan(scanner.Text(), &device, &mountPoint, &fsType)
		if mountPoint == path {
			return device
		}
	}
	return path
}
