// Package fatcache implements the LRU write-through sector cache over the
// File Allocation Table described in spec.md §4.2.
//
// Reads are cached per-sector; writes go straight to the device and also
// patch any resident copy of the touched sector in place, so the cache
// never needs to track dirty state — only which physical sectors of its
// bounded pool currently hold valid data, which is what the presence
// bitmap is for.
package fatcache

import (
	"container/list"
	"encoding/binary"

	"github.com/boljen/go-bitmap"
	fserrors "github.com/bramblefs/fat32fs/errors"
	"github.com/bramblefs/fat32fs/internal/volume"
)

// Cell encodes the linkage value of one FAT32 cell. The low 28 bits carry
// the payload (next cluster, free, bad, or end-of-chain); the high 4 bits
// are reserved and must survive read-modify-write.
type Cell uint32

const (
	cellValueMask    = 0x0FFFFFFF
	cellReservedMask = 0xF0000000
	cellEndOfChainLo = Cell(0x0FFFFFF8)

	// FreeCell is the linkage payload of an unallocated cluster.
	FreeCell = Cell(0x00000000)
	// BadCell marks a cluster as unusable.
	BadCell = Cell(0x0FFFFFF7)
	// EndOfChain is the canonical sentinel written into the last cluster of
	// a chain.
	EndOfChain = Cell(0x0FFFFFFF)
)

// IsFree reports whether the cell's linkage payload marks it unallocated.
func (c Cell) IsFree() bool {
	return (uint32(c) & cellValueMask) == uint32(FreeCell)
}

// IsBad reports whether the cell is marked as a bad cluster.
func (c Cell) IsBad() bool {
	return (uint32(c) & cellValueMask) == uint32(BadCell)
}

// IsEndOfChain reports whether the cell terminates a cluster chain.
func (c Cell) IsEndOfChain() bool {
	return (uint32(c) & cellValueMask) >= uint32(cellEndOfChainLo)
}

// Next returns the next cluster in the chain. Callers must check IsEndOfChain
// and IsBad first; this value is meaningless for those cases.
func (c Cell) Next() volume.Cluster {
	return volume.Cluster(uint32(c) & cellValueMask)
}

// DefaultCapacity is the compile-time bound on resident FAT sectors
// referenced in spec.md §4.2, used when no explicit capacity is given.
const DefaultCapacity = 64

// Cache is an LRU, write-through sector cache for FAT cells.
type Cache struct {
	vol      *volume.Volume
	capacity int

	cellsPerSector int
	buffer         []byte // capacity * bytesPerSector, contiguous physical slots
	occupied       bitmap.Bitmap

	slotOfSector map[uint32]int
	sectorOfSlot map[int]uint32
	elemOfSlot   map[int]*list.Element
	order        *list.List // MRU at Front, LRU at Back
	freeSlots    []int
}

// New creates a Cache bounded to capacity resident sectors.
func New(vol *volume.Volume, capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	cache := &Cache{
		vol:            vol,
		capacity:       capacity,
		cellsPerSector: int(vol.BytesPerSector) / 4,
		buffer:         make([]byte, capacity*int(vol.BytesPerSector)),
		occupied:       bitmap.NewSlice(capacity),
		slotOfSector:   make(map[uint32]int, capacity),
		sectorOfSlot:   make(map[int]uint32, capacity),
		elemOfSlot:     make(map[int]*list.Element, capacity),
		order:          list.New(),
		freeSlots:      make([]int, capacity),
	}
	for i := 0; i < capacity; i++ {
		cache.freeSlots[i] = capacity - 1 - i
	}
	return cache
}

func (c *Cache) sectorByteOffset(sector uint32) int64 {
	return int64(c.vol.ReservedSectors+uint(sector)) * int64(c.vol.BytesPerSector)
}

// touch moves slot to the MRU end of the eviction order.
func (c *Cache) touch(slot int) {
	if elem, ok := c.elemOfSlot[slot]; ok {
		c.order.MoveToFront(elem)
		return
	}
	c.elemOfSlot[slot] = c.order.PushFront(slot)
}

// acquireSlot returns a physical slot to load sector into, evicting the LRU
// slot if the pool is full.
func (c *Cache) acquireSlot() int {
	if n := len(c.freeSlots); n > 0 {
		slot := c.freeSlots[n-1]
		c.freeSlots = c.freeSlots[:n-1]
		return slot
	}

	back := c.order.Back()
	slot := back.Value.(int)
	c.order.Remove(back)
	delete(c.elemOfSlot, slot)

	oldSector := c.sectorOfSlot[slot]
	delete(c.slotOfSector, oldSector)
	delete(c.sectorOfSlot, slot)
	c.occupied.Set(slot, false)
	return slot
}

func (c *Cache) slotBytes(slot int) []byte {
	start := slot * int(c.vol.BytesPerSector)
	return c.buffer[start : start+int(c.vol.BytesPerSector)]
}

// loadSector ensures sector is resident, returning its physical slot.
func (c *Cache) loadSector(sector uint32) (int, error) {
	if slot, ok := c.slotOfSector[sector]; ok {
		c.touch(slot)
		return slot, nil
	}

	slot := c.acquireSlot()
	buf := c.slotBytes(slot)
	if _, err := c.vol.Device.ReadAt(buf, c.sectorByteOffset(sector)); err != nil {
		return 0, fserrors.ErrIOFailed.Wrap(err)
	}

	c.slotOfSector[sector] = slot
	c.sectorOfSlot[slot] = sector
	c.occupied.Set(slot, true)
	c.touch(slot)
	return slot, nil
}

// Get returns the FAT cell for the given cluster index, reading the
// containing sector through the cache.
func (c *Cache) Get(cluster volume.Cluster) (Cell, error) {
	sector, offset := c.cellLocation(cluster)

	slot, err := c.loadSector(sector)
	if err != nil {
		return 0, err
	}

	buf := c.slotBytes(slot)
	return Cell(binary.LittleEndian.Uint32(buf[offset : offset+4])), nil
}

// Put writes a single FAT cell through to the device: read-modify-write,
// preserving the reserved high 4 bits. If the containing sector is
// resident, its cached copy is patched with the same value so a later Get
// never observes a stale cell.
func (c *Cache) Put(cluster volume.Cluster, newValue Cell) error {
	sector, offset := c.cellLocation(cluster)
	sectorOffset := c.sectorByteOffset(sector)

	old := make([]byte, 4)
	if _, err := c.vol.Device.ReadAt(old, sectorOffset+int64(offset)); err != nil {
		return fserrors.ErrIOFailed.Wrap(err)
	}
	oldValue := binary.LittleEndian.Uint32(old)

	combined := (oldValue & cellReservedMask) | (uint32(newValue) & cellValueMask)

	out := make([]byte, 4)
	binary.LittleEndian.PutUint32(out, combined)
	if _, err := c.vol.Device.WriteAt(out, sectorOffset+int64(offset)); err != nil {
		return fserrors.ErrIOFailed.Wrap(err)
	}

	if slot, ok := c.slotOfSector[sector]; ok {
		buf := c.slotBytes(slot)
		copy(buf[offset:offset+4], out)
	}
	return nil
}

// cellLocation returns the FAT-relative sector index and intra-sector byte
// offset for a cluster's FAT cell.
func (c *Cache) cellLocation(cluster volume.Cluster) (sector uint32, offset int) {
	cellIndex := int(cluster)
	sector = uint32(cellIndex / c.cellsPerSector)
	offset = (cellIndex % c.cellsPerSector) * 4
	return sector, offset
}
