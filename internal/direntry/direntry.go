// Package direntry implements the 32-byte directory slot codec and the
// slot-level operations (read, write, append, delete) described in
// spec.md §4.6 and §6.
package direntry

import (
	"bytes"
	"encoding/binary"
	"strings"
	"time"

	fserrors "github.com/bramblefs/fat32fs/errors"
	"github.com/bramblefs/fat32fs/internal/chain"
	"github.com/bramblefs/fat32fs/internal/volume"
)

// Size is the fixed on-disk size of one directory slot.
const Size = 32

// Attribute bits, per spec.md §6.
const (
	AttrReadOnly  = 0x01
	AttrHidden    = 0x02
	AttrSystem    = 0x04
	AttrVolumeID  = 0x08
	AttrDirectory = 0x10
	AttrArchive   = 0x20
)

// Raw is the packed on-disk layout of a directory slot, consumed
// sequentially via encoding/binary like the boot sector fields.
type Raw struct {
	Name             [11]byte
	Attributes       uint8
	Reserved         uint8
	CreationTenths   uint8
	CreationTime     uint16
	CreationDate     uint16
	AccessDate       uint16
	ClusterHigh      uint16
	WriteTime        uint16
	WriteDate        uint16
	ClusterLow       uint16
	Size32           uint32
}

// Decode parses a 32-byte buffer into a Raw slot.
func Decode(buf []byte) (Raw, error) {
	var raw Raw
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &raw); err != nil {
		return Raw{}, fserrors.ErrCorruptVolume.Wrap(err)
	}
	return raw, nil
}

// Encode packs a Raw slot into a 32-byte buffer.
func Encode(raw Raw) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.LittleEndian, raw); err != nil {
		return nil, fserrors.ErrIOFailed.Wrap(err)
	}
	return buf.Bytes(), nil
}

// IsUnused reports whether a slot's first name byte marks it free.
func (r Raw) IsUnused() bool {
	return r.Name[0] == 0x00
}

// TrimmedName returns the 8.3 name with trailing padding spaces stripped.
func (r Raw) TrimmedName() string {
	return strings.TrimRight(string(r.Name[:]), " ")
}

// IsReserved reports whether the name is one of the reserved directory
// entries ("." and "..") or empty/unused, excluded from is-empty checks.
func (r Raw) IsReserved() bool {
	name := r.TrimmedName()
	return name == "." || name == ".." || name == "" || r.IsUnused()
}

// FileSize returns the slot's on-disk size field.
func (r Raw) FileSize() uint32 {
	return r.Size32
}

// StartCluster combines the high and low cluster halves.
func (r Raw) StartCluster() volume.Cluster {
	return volume.Cluster(uint32(r.ClusterHigh)<<16 | uint32(r.ClusterLow))
}

// SetStartCluster splits a cluster index into its high and low halves.
func (r *Raw) SetStartCluster(c volume.Cluster) {
	r.ClusterHigh = uint16(uint32(c) >> 16)
	r.ClusterLow = uint16(uint32(c) & 0xFFFF)
}

// DateFromWord converts a FAT16 date word into a time.Time at midnight UTC.
func DateFromWord(value uint16) time.Time {
	day := int(value & 0x1f)
	month := time.Month((value >> 5) & 0x0f)
	year := 1980 + int(value>>9)
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// WordFromDate packs a time.Time into a FAT16 date word. Values outside the
// representable range (1980-2107) are encoded as the zero word.
func WordFromDate(t time.Time) uint16 {
	year := t.Year() - 1980
	if year < 0 || year > 127 {
		return 0
	}
	return uint16(year<<9) | uint16(int(t.Month())<<5) | uint16(t.Day())
}

// TimeFromWord converts a FAT16 time word (2-second resolution) into the
// time-of-day component, combined with a date word for the full timestamp.
func TimeFromWord(dateWord, timeWord uint16) time.Time {
	date := DateFromWord(dateWord)
	seconds := int(timeWord&0x1f) * 2
	minutes := int((timeWord >> 5) & 0x3f)
	hours := int(timeWord >> 11)
	return time.Date(date.Year(), date.Month(), date.Day(), hours, minutes, seconds, 0, time.UTC)
}

// WordFromTime packs the time-of-day component of t into a FAT16 time word.
func WordFromTime(t time.Time) uint16 {
	seconds := t.Second() / 2
	return uint16(t.Hour()<<11) | uint16(t.Minute()<<5) | uint16(seconds)
}

// Directory wraps a directory's cluster-chain with the slot-keyed
// operations of spec.md §4.6. A directory is a regular cluster-chain file
// whose content is an array of 32-byte slots.
type Directory struct {
	Chain *chain.Chain
	// StartCluster is the directory's own starting cluster, i.e. its
	// identity as used by the handle table. Zero when the directory hasn't
	// been associated with one (e.g. ad hoc test fixtures).
	StartCluster volume.Cluster
}

// ReadSlot performs a positioned read at index*32.
func (d *Directory) ReadSlot(index int) (Raw, error) {
	if err := d.Chain.Seek(int64(index)*Size, chain.SeekStart, d.Chain.AllocatedBytes()); err != nil {
		return Raw{}, err
	}
	buf := make([]byte, Size)
	if _, err := d.Chain.Read(buf); err != nil {
		return Raw{}, err
	}
	return Decode(buf)
}

// WriteSlot performs a positioned write at index*32.
func (d *Directory) WriteSlot(index int, raw Raw) error {
	buf, err := Encode(raw)
	if err != nil {
		return err
	}
	if err := d.Chain.Seek(int64(index)*Size, chain.SeekStart, d.Chain.AllocatedBytes()); err != nil {
		return err
	}
	_, err = d.Chain.Write(buf)
	return err
}

// slotCount returns the number of 32-byte slots in the currently allocated
// extent.
func (d *Directory) slotCount() int {
	return int(d.Chain.AllocatedBytes()) / Size
}

// AppendSlot locates the first unused slot (name[0] == 0 or end-of-file)
// and writes record there, extending the chain if necessary. It returns the
// index the record was written at.
func (d *Directory) AppendSlot(record Raw) (int, error) {
	count := d.slotCount()
	for i := 0; i < count; i++ {
		existing, err := d.ReadSlot(i)
		if err != nil {
			return 0, err
		}
		if existing.IsUnused() {
			return i, d.WriteSlot(i, record)
		}
	}

	if err := d.WriteSlot(count, record); err != nil {
		return 0, err
	}
	return count, nil
}

// DeleteSlot implements swap-with-last (spec.md §4.6): the last in-use slot
// is moved over `index`, and the old last slot is marked unused. This keeps
// the used region contiguous at the front so linear scans terminate on the
// first unused slot.
func (d *Directory) DeleteSlot(index int) error {
	lastIdx, err := d.lastInUseIndex()
	if err != nil {
		return err
	}
	if lastIdx < 0 {
		return fserrors.ErrNoSuchEntry
	}

	if lastIdx != index {
		last, err := d.ReadSlot(lastIdx)
		if err != nil {
			return err
		}
		if err := d.WriteSlot(index, last); err != nil {
			return err
		}
	}

	var cleared Raw
	return d.WriteSlot(lastIdx, cleared)
}

// lastInUseIndex scans for the highest index whose slot is in use.
func (d *Directory) lastInUseIndex() (int, error) {
	count := d.slotCount()
	last := -1
	for i := 0; i < count; i++ {
		slot, err := d.ReadSlot(i)
		if err != nil {
			return 0, err
		}
		if slot.IsUnused() {
			break
		}
		last = i
	}
	return last, nil
}

// IsEmpty reports whether every slot's name matches a reserved name or is
// unused, per spec.md §4.6.
func (d *Directory) IsEmpty() (bool, error) {
	count := d.slotCount()
	for i := 0; i < count; i++ {
		slot, err := d.ReadSlot(i)
		if err != nil {
			return false, err
		}
		if slot.IsUnused() {
			break
		}
		if !slot.IsReserved() {
			return false, nil
		}
	}
	return true, nil
}

// Lookup linearly scans for a slot matching name, returning its index.
func (d *Directory) Lookup(name string) (Raw, int, error) {
	count := d.slotCount()
	for i := 0; i < count; i++ {
		slot, err := d.ReadSlot(i)
		if err != nil {
			return Raw{}, 0, err
		}
		if slot.IsUnused() {
			break
		}
		if slot.TrimmedName() == name {
			return slot, i, nil
		}
	}
	return Raw{}, 0, fserrors.ErrNoSuchEntry
}
