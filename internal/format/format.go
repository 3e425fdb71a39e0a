// Package format implements an mkfs-style formatter that lays out a fresh
// FAT32 volume from a geometry.Preset: boot sector, FSInfo sector, FAT
// copies, and a root directory containing only the volume-label slot.
package format

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/noxer/bytewriter"

	fserrors "github.com/bramblefs/fat32fs/errors"
	"github.com/bramblefs/fat32fs/internal/bootsector"
	"github.com/bramblefs/fat32fs/internal/direntry"
	"github.com/bramblefs/fat32fs/internal/geometry"
	"github.com/bramblefs/fat32fs/internal/volume"
)

// rootCluster is always cluster 2 on a volume this formatter produces.
const rootCluster = 2

// Options customizes a fresh volume beyond what the geometry preset fixes.
type Options struct {
	VolumeLabel string
	VolumeID    uint32
}

// Writer is the minimal interface Format needs from the backing image:
// positioned writes large enough to hold the preset's TotalBytes.
type Writer interface {
	WriteAt(p []byte, off int64) (int, error)
}

// Format lays out a fresh FAT32 volume matching preset onto dev, per the
// boot sector and FSInfo layouts of spec.md §6. It does not validate that
// dev is already the right size; callers are expected to have allocated or
// truncated the backing file to preset.TotalBytes() first.
func Format(dev Writer, preset geometry.Preset, opts Options) error {
	if preset.NumFATs == 0 || preset.SectorsPerFAT == 0 {
		return fserrors.ErrInvalidArgument.WithMessage("preset has zero FATs or zero sectors-per-FAT")
	}

	if err := writeBootSector(dev, preset, opts); err != nil {
		return err
	}
	if err := writeFSInfoSector(dev, preset); err != nil {
		return err
	}
	if err := writeFATs(dev, preset); err != nil {
		return err
	}
	if err := writeRootDirectory(dev, preset, opts); err != nil {
		return err
	}
	return nil
}

func writeBootSector(dev Writer, preset geometry.Preset, opts Options) error {
	raw := bootsector.Raw{
		OEMName:           [8]byte{'F', 'A', 'T', '3', '2', 'F', 'S', ' '},
		BytesPerSector:    uint16(preset.BytesPerSector),
		SectorsPerCluster: uint8(preset.SectorsPerCluster),
		ReservedSectors:   uint16(preset.ReservedSectors),
		NumFATs:           uint8(preset.NumFATs),
		MediaDescriptor:   0xF8,
		SectorCount32:     uint32(preset.TotalSectors),
		SectorsPerFAT32:   uint32(preset.SectorsPerFAT),
		RootCluster:       rootCluster,
		FSInfoSector:      1,
		BackupBootSector:  6,
		BootSignature:     0x29,
		VolumeID:          opts.VolumeID,
		FileSystemType:    [8]byte{'F', 'A', 'T', '3', '2', ' ', ' ', ' '},
	}
	copy(raw.VolumeLabel[:], padName(opts.VolumeLabel, 11))

	buf, err := bootsector.Encode(raw, preset.BytesPerSector)
	if err != nil {
		return err
	}
	buf[510] = 0x55
	buf[511] = 0xAA

	if _, err := dev.WriteAt(buf, 0); err != nil {
		return fserrors.ErrIOFailed.Wrap(err)
	}
	backupOffset := int64(raw.BackupBootSector) * int64(preset.BytesPerSector)
	if _, err := dev.WriteAt(buf, backupOffset); err != nil {
		return fserrors.ErrIOFailed.Wrap(err)
	}
	return nil
}

func writeFSInfoSector(dev Writer, preset geometry.Preset) error {
	totalClusters := totalDataClusters(preset)
	info := bootsector.FSInfo{
		// One cluster (the root) is allocated by this formatter.
		FreeClusterCount: uint32(totalClusters - 1),
		NextFreeCluster:  rootCluster + 1,
	}
	buf := bootsector.EncodeFSInfo(info, preset.BytesPerSector)

	offset := int64(preset.BytesPerSector)
	if _, err := dev.WriteAt(buf, offset); err != nil {
		return fserrors.ErrIOFailed.Wrap(err)
	}
	return nil
}

// writeFATs writes every FAT copy identically: cluster 0 and 1 carry the
// reserved media-descriptor markers, cluster 2 (the root) is end-of-chain,
// and everything past it is free.
func writeFATs(dev Writer, preset geometry.Preset) error {
	fatBytes := make([]byte, preset.SectorsPerFAT*preset.BytesPerSector)
	writer := bytewriter.New(fatBytes)

	binary.Write(writer, binary.LittleEndian, uint32(0x0FFFFFF8))
	binary.Write(writer, binary.LittleEndian, uint32(0x0FFFFFFF))
	binary.Write(writer, binary.LittleEndian, uint32(0x0FFFFFFF)) // root cluster, end-of-chain

	for fatIndex := uint(0); fatIndex < preset.NumFATs; fatIndex++ {
		offset := int64(preset.ReservedSectors+fatIndex*preset.SectorsPerFAT) * int64(preset.BytesPerSector)
		if _, err := dev.WriteAt(fatBytes, offset); err != nil {
			return fserrors.ErrIOFailed.Wrap(err)
		}
	}
	return nil
}

// writeRootDirectory writes a single cluster for the root directory,
// containing only the volume-label slot (if any), with every other slot
// left zeroed (unused).
func writeRootDirectory(dev Writer, preset geometry.Preset, opts Options) error {
	clusterBytes := preset.SectorsPerCluster * preset.BytesPerSector
	buf := make([]byte, clusterBytes)

	if opts.VolumeLabel != "" {
		now := time.Now()
		var slot direntry.Raw
		copy(slot.Name[:], padName(opts.VolumeLabel, 11))
		slot.Attributes = direntry.AttrVolumeID
		slot.CreationDate = direntry.WordFromDate(now)
		slot.CreationTime = direntry.WordFromTime(now)
		slot.WriteDate = slot.CreationDate
		slot.WriteTime = slot.CreationTime

		encoded, err := direntry.Encode(slot)
		if err != nil {
			return err
		}
		copy(buf, encoded)
	}

	vol := &volume.Volume{
		BytesPerSector:    preset.BytesPerSector,
		SectorsPerCluster: preset.SectorsPerCluster,
		ReservedSectors:   preset.ReservedSectors,
		NumFATs:           preset.NumFATs,
		SectorsPerFAT:     preset.SectorsPerFAT,
	}
	offset := int64(vol.ClusterByteOffset(rootCluster))

	if _, err := dev.WriteAt(buf, offset); err != nil {
		return fserrors.ErrIOFailed.Wrap(err)
	}
	return nil
}

func totalDataClusters(preset geometry.Preset) uint {
	dataSectors := preset.TotalSectors - preset.ReservedSectors - preset.NumFATs*preset.SectorsPerFAT
	return dataSectors / preset.SectorsPerCluster
}

func padName(name string, length int) string {
	if len(name) > length {
		name = name[:length]
	}
	return name + fmt.Sprintf("%*s", length-len(name), "")
}
