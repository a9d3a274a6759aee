package main

import (
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/chaosdefinition/go-wtfs/wtfs"
)

func main() {
	app := &cli.App{
		Name:      "mkfs.wtfs",
		Usage:     "format a device or image file as wtfs",
		Version:   fmt.Sprintf("%d.%d", wtfs.VersionMajor, wtfs.VersionMinor),
		ArgsUsage: "<DEVICE>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "fast", Aliases: []string{"f"}, Usage: "suppress the deep zero-fill pass"},
			&cli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: "suppress progress output"},
			&cli.BoolFlag{Name: "force", Aliases: []string{"F"}, Usage: "skip the mounted-device check"},
			&cli.StringFlag{Name: "label", Aliases: []string{"L"}, Usage: "volume label"},
			&cli.StringFlag{Name: "uuid", Aliases: []string{"U"}, Usage: "volume UUID, canonical 8-4-4-4-12 hex form"},
		},
		Action: runMkfs,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runMkfs(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("expected exactly one DEVICE argument", 1)
	}
	device := c.Args().Get(0)

	if len(c.String("label")) >= wtfs.LabelMax {
		return cli.Exit("label must be shorter than 32 characters", 1)
	}

	if !c.Bool("force") {
		if err := wtfs.CheckNotMounted(device); err != nil {
			return cli.Exit(fmt.Sprintf("Failed to verify %s is unmounted: %s", device, err), 1)
		}
	}

	f, err := os.OpenFile(device, os.O_RDWR, 0)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed to open %s: %s", device, err), 1)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed to stat %s: %s", device, err), 1)
	}
	totalBlocks := uint(info.Size() / wtfs.BlockSize)
	if remainder := info.Size() % wtfs.BlockSize; remainder != 0 {
		log.Printf("mkfs.wtfs: %s is not a whole number of %d-byte blocks, truncating %d trailing bytes",
			device, wtfs.BlockSize, remainder)
	}

	dev := wtfs.NewDeviceFromStream(f, totalBlocks)

	opts := wtfs.FormatOptions{
		Label: c.String("label"),
		Deep:  !c.Bool("fast"),
		Quiet: c.Bool("quiet"),
	}
	if uuidStr := c.String("uuid"); uuidStr != "" {
		uuid, err := parseUUID(uuidStr)
		if err != nil {
			return cli.Exit(fmt.Sprintf("Failed to parse UUID: %s", err), 1)
		}
		opts.UUID = uuid
		opts.HasUUID = true
	}

	if err := wtfs.Format(dev, opts); err != nil {
		return cli.Exit(fmt.Sprintf("Failed to write wtfs layout to %s: %s", device, err), 1)
	}
	return nil
}

func parseUUID(s string) ([wtfs.UUIDSize]byte, error) {
	var out [wtfs.UUIDSize]byte
	raw, err := hex.DecodeString(strings.ReplaceAll(s, "-", ""))
	if err != nil || len(raw) != wtfs.UUIDSize {
		return out, fmt.Errorf("invalid UUID %q", s)
	}
	copy(out[:], raw)
	return out, nil
}
