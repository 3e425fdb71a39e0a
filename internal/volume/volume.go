// Package volume implements boot-time bring-up of a FAT32 volume: decoding
// the super-block and FSInfo sector, validating them, and deriving the
// geometry constants every other subsystem depends on (spec.md §4.1).
package volume

import (
	"bytes"
	"io"
	"strings"

	fserrors "github.com/bramblefs/fat32fs/errors"
	"github.com/bramblefs/fat32fs/internal/bootsector"
)

// Cluster identifies a single allocation unit. Per spec.md §3, every
// cluster index the driver hands to another component is >= 2; 0 and 1 are
// reserved by the FAT32 format itself.
type Cluster uint32

// Sector identifies a single physical sector, 0-based from the start of the
// device.
type Sector uint32

// Device is the minimal interface the volume needs from the backing block
// device: positioned reads and writes plus read-modify-write semantics by
// composing the two. Drivers open this over the mounted image.
type Device interface {
	io.ReaderAt
	io.WriterAt
}

// Volume holds the immutable, parsed state of a mounted FAT32 file system:
// the device handle and the geometry derived from the boot sector. It is
// published once at mount (spec.md §4.1) and never mutated afterward.
type Volume struct {
	Device Device

	BytesPerSector    uint
	SectorsPerCluster uint
	ReservedSectors   uint
	NumFATs           uint
	SectorsPerFAT     uint
	RootCluster       Cluster
	FSInfoSector      Sector
	VolumeID          uint32
	Label             string

	// FreeClusterHint and NextFreeHint are carried over from the FSInfo
	// sector purely for informational purposes; nothing in the driver reads
	// them, and the free-space map in internal/freespace is the source of
	// truth used by the allocator and by statvfs.
	FreeClusterHint uint32
	NextFreeHint    uint32
}

// BytesPerCluster is the size, in bytes, of one allocation unit.
func (v *Volume) BytesPerCluster() uint {
	return v.BytesPerSector * v.SectorsPerCluster
}

// FATStartSector is the first sector occupied by the first FAT copy.
func (v *Volume) FATStartSector() Sector {
	return Sector(v.ReservedSectors)
}

// DataAreaStart is the byte offset of the start of the data area, i.e. the
// position that cluster 2 begins at.
func (v *Volume) DataAreaStart() uint64 {
	fatRegionSectors := uint64(v.NumFATs) * uint64(v.SectorsPerFAT)
	return (uint64(v.ReservedSectors) + fatRegionSectors) * uint64(v.BytesPerSector)
}

// ClusterByteOffset returns the byte offset of the start of cluster c in
// the data area, per the invariant in spec.md §3.
func (v *Volume) ClusterByteOffset(c Cluster) uint64 {
	return v.DataAreaStart() + uint64(c-2)*uint64(v.BytesPerCluster())
}

// TotalFATSectors is the number of sectors occupied by all FAT copies
// combined.
func (v *Volume) TotalFATSectors() uint {
	return v.NumFATs * v.SectorsPerFAT
}

// Mount reads the boot sector and FSInfo sector from dev and validates the
// three FSInfo magic values (spec.md §4.1). It returns fserrors.ErrCorruptVolume
// if validation fails; otherwise it returns a fully populated, immutable
// Volume along with the number of data clusters (needed by the caller to
// build the free-space map, since it isn't otherwise retained on Volume).
// That count is capped at the number of clusters one FAT copy has cells for.
func Mount(dev Device) (*Volume, uint, error) {
	bootSectorBytes := make([]byte, bootsector.Size)
	if _, err := dev.ReadAt(bootSectorBytes, 0); err != nil {
		return nil, 0, fserrors.ErrIOFailed.Wrap(err)
	}

	raw, err := bootsector.Decode(bytes.NewReader(bootSectorBytes))
	if err != nil {
		return nil, 0, err
	}

	fsInfoSectorIndex := uint(raw.FSInfoSector)
	fsInfoOffset := int64(fsInfoSectorIndex) * int64(raw.BytesPerSector)

	fsInfoBytes := make([]byte, bootsector.FSInfoSize)
	if _, err := dev.ReadAt(fsInfoBytes, fsInfoOffset); err != nil {
		return nil, 0, fserrors.ErrIOFailed.Wrap(err)
	}

	fsInfo, err := bootsector.DecodeFSInfo(bytes.NewReader(fsInfoBytes))
	if err != nil {
		return nil, 0, err
	}

	totalSectors := uint(raw.SectorCount32)
	if totalSectors == 0 {
		totalSectors = uint(raw.SectorCount16)
	}

	vol := &Volume{
		Device:            dev,
		BytesPerSector:    uint(raw.BytesPerSector),
		SectorsPerCluster: uint(raw.SectorsPerCluster),
		ReservedSectors:   uint(raw.ReservedSectors),
		NumFATs:           uint(raw.NumFATs),
		SectorsPerFAT:     uint(raw.SectorsPerFAT32),
		RootCluster:       Cluster(raw.RootCluster),
		FSInfoSector:      Sector(fsInfoSectorIndex),
		VolumeID:          raw.VolumeID,
		Label:             strings.TrimRight(string(raw.VolumeLabel[:]), " "),
		FreeClusterHint:   fsInfo.FreeClusterCount,
		NextFreeHint:      fsInfo.NextFreeCluster,
	}

	dataSectors := totalSectors - vol.ReservedSectors - vol.TotalFATSectors()
	totalClusters := dataSectors / vol.SectorsPerCluster

	// A FAT copy holds one cell per cluster index, the first two reserved;
	// clusters past its last cell have no FAT entry and are not counted.
	fatCells := vol.SectorsPerFAT * vol.BytesPerSector / 4
	if fatCells < 2 {
		fatCells = 2
	}
	if totalClusters > fatCells-2 {
		totalClusters = fatCells - 2
	}

	return vol, totalClusters, nil
}
