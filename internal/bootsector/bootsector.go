// Package bootsector decodes and encodes the FAT32 boot sector and FSInfo
// sector described in spec.md §6.
package bootsector

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	fserrors "github.com/bramblefs/fat32fs/errors"
	"github.com/hashicorp/go-multierror"
)

// Size is the length, in bytes, of the leading BIOS Parameter Block of the
// boot sector (sector 0), the fixed-size region Raw decodes; the rest of the
// sector is padding the driver never inspects.
const Size = 90

// FSInfoSize is the length, in bytes, of the portion of the FSInfo sector
// this driver inspects (the trailing bytes up to the sector size are
// padding).
const FSInfoSize = 512

// fsInfoLeadSignature, fsInfoStructSignature, and fsInfoTrailSignature are
// the three magic values spec.md §6 requires validating at mount. The
// trailing signature is canonically 2 bytes (0xAA55) but the reference
// implementation this was distilled from reads all three as 4-byte fields;
// that byte width is preserved here for bit-for-bit compatibility with
// volumes it produced (see spec.md §9, open question on FSInfo magic
// widths).
var (
	fsInfoLeadSignature   = [4]byte{0x52, 0x52, 0x61, 0x41} // "RRaA" LE 0x41615252
	fsInfoStructSignature = [4]byte{0x72, 0x72, 0x41, 0x61} // "rrAa" LE 0x61417272
	fsInfoTrailSignature  = [4]byte{0x55, 0xAA, 0x00, 0x00} // 0xAA55, zero-padded to 4 bytes
)

// Raw is the on-disk layout of the leading BIOS Parameter Block, read and
// written field by field in declaration order via encoding/binary so the
// byte offsets from spec.md §6 are honored regardless of Go's native struct
// alignment.
type Raw struct {
	JumpBoot         [3]byte
	OEMName          [8]byte
	BytesPerSector   uint16
	SectorsPerCluster uint8
	ReservedSectors  uint16
	NumFATs          uint8
	RootDirSlots     uint16
	SectorCount16    uint16
	MediaDescriptor  uint8
	SectorsPerFAT16  uint16
	SectorsPerTrack  uint16
	NumHeads         uint16
	HiddenSectors    uint32
	SectorCount32    uint32
	SectorsPerFAT32  uint32
	ExtFlags         uint16
	Version          uint16
	RootCluster      uint32
	FSInfoSector     uint16
	BackupBootSector uint16
	Reserved1        [12]byte
	DriveNumber      uint8
	Reserved2        uint8
	BootSignature    uint8
	VolumeID         uint32
	VolumeLabel      [11]byte
	FileSystemType   [8]byte
}

// Decode reads the first bytes of a disk image into a Raw boot sector.
func Decode(r io.Reader) (Raw, error) {
	var raw Raw
	if err := binary.Read(r, binary.LittleEndian, &raw); err != nil {
		return Raw{}, fserrors.ErrIOFailed.Wrap(err)
	}
	return raw, nil
}

// Encode serializes a Raw boot sector to its on-disk form, padded with
// zeroes to a full sector.
func Encode(raw Raw, bytesPerSector uint) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.LittleEndian, raw); err != nil {
		return nil, fserrors.ErrIOFailed.Wrap(err)
	}
	out := make([]byte, bytesPerSector)
	copy(out, buf.Bytes())
	return out, nil
}

// FSInfo holds the fields of the FSInfo sector the driver cares about:
// the free-cluster hint counters. The three magics are validated at parse
// time and not retained.
type FSInfo struct {
	FreeClusterCount uint32
	NextFreeCluster  uint32
}

// DecodeFSInfo reads and validates the FSInfo sector. It returns
// fserrors.ErrCorruptVolume if any of the three magic values don't match.
func DecodeFSInfo(r io.Reader) (FSInfo, error) {
	data := make([]byte, FSInfoSize)
	if _, err := io.ReadFull(r, data); err != nil {
		return FSInfo{}, fserrors.ErrIOFailed.Wrap(err)
	}

	var magicErrs *multierror.Error
	if !bytes.Equal(data[0:4], fsInfoLeadSignature[:]) {
		magicErrs = multierror.Append(magicErrs, fmt.Errorf("lead signature mismatch"))
	}
	if !bytes.Equal(data[484:488], fsInfoStructSignature[:]) {
		magicErrs = multierror.Append(magicErrs, fmt.Errorf("struct signature mismatch"))
	}
	if !bytes.Equal(data[508:512], fsInfoTrailSignature[:]) {
		magicErrs = multierror.Append(magicErrs, fmt.Errorf("trail signature mismatch"))
	}
	if magicErrs.ErrorOrNil() != nil {
		return FSInfo{}, fserrors.ErrCorruptVolume.Wrap(magicErrs)
	}

	return FSInfo{
		FreeClusterCount: binary.LittleEndian.Uint32(data[488:492]),
		NextFreeCluster:  binary.LittleEndian.Uint32(data[492:496]),
	}, nil
}

// EncodeFSInfo serializes an FSInfo sector, including the three magic
// values, padded to a full sector.
func EncodeFSInfo(info FSInfo, sectorSize uint) []byte {
	data := make([]byte, sectorSize)
	copy(data[0:4], fsInfoLeadSignature[:])
	copy(data[484:488], fsInfoStructSignature[:])
	binary.LittleEndian.PutUint32(data[488:492], info.FreeClusterCount)
	binary.LittleEndian.PutUint32(data[492:496], info.NextFreeCluster)
	copy(data[508:512], fsInfoTrailSignature[:])
	return data
}
