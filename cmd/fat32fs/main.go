package main

import (
	"fmt"
	"log"
	"math/rand"
	"os"
	"sort"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/bramblefs/fat32fs/bridgefuse"
	"github.com/bramblefs/fat32fs/fs"
	"github.com/bramblefs/fat32fs/internal/fatcache"
	"github.com/bramblefs/fat32fs/internal/format"
	"github.com/bramblefs/fat32fs/internal/geometry"
)

func main() {
	app := &cli.App{
		Name:  "fat32fs",
		Usage: "Mount or format a FAT32 volume",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "ro", Usage: "mount read-only"},
			&cli.IntFlag{Name: "fat-cache-sectors", Usage: "FAT sector cache capacity", Value: fatcache.DefaultCapacity},
		},
		Action:    mountAction,
		ArgsUsage: "device mountpoint",
		Commands: []*cli.Command{
			{
				Name:      "format",
				Usage:     "Lay out a fresh FAT32 volume on an image file",
				Action:    formatAction,
				ArgsUsage: "device",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "preset", Usage: fmt.Sprintf("geometry preset (%s)", strings.Join(geometry.Names(), ", ")), Required: true},
					&cli.StringFlag{Name: "label", Usage: "volume label"},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("fat32fs: %s", err)
	}
}

func mountAction(ctx *cli.Context) error {
	if ctx.Args().Len() < 2 {
		return cli.Exit("expected arguments: device mountpoint", 1)
	}
	devicePath := ctx.Args().Get(0)
	mountpoint := ctx.Args().Get(1)

	flags := os.O_RDWR
	if ctx.Bool("ro") {
		flags = os.O_RDONLY
	}

	device, err := os.OpenFile(devicePath, flags, 0)
	if err != nil {
		return cli.Exit(fmt.Sprintf("opening device: %s", err), 1)
	}
	defer device.Close()

	volFS, err := fs.Mount(device, ctx.Int("fat-cache-sectors"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("mounting volume: %s", err), 1)
	}
	defer volFS.Unmount()

	return bridgefuse.Serve(volFS, mountpoint)
}

func formatAction(ctx *cli.Context) error {
	if ctx.Args().Len() < 1 {
		return cli.Exit("expected argument: device", 1)
	}

	presetName := ctx.String("preset")
	preset, ok := geometry.Lookup(presetName)
	if !ok {
		names := geometry.Names()
		sort.Strings(names)
		return cli.Exit(fmt.Sprintf("unknown preset %q, known presets: %s", presetName, strings.Join(names, ", ")), 1)
	}

	devicePath := ctx.Args().Get(0)
	file, err := os.OpenFile(devicePath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return cli.Exit(fmt.Sprintf("opening device: %s", err), 1)
	}
	defer file.Close()

	if err := file.Truncate(int64(preset.TotalBytes())); err != nil {
		return cli.Exit(fmt.Sprintf("sizing image: %s", err), 1)
	}

	err = format.Format(file, preset, format.Options{VolumeLabel: ctx.String("label"), VolumeID: rand.Uint32()})
	if err != nil {
		return cli.Exit(fmt.Sprintf("formatting volume: %s", err), 1)
	}
	return nil
}
