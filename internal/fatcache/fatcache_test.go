package fatcache_test

import (
	"encoding/binary"
	"testing"

	"github.com/bramblefs/fat32fs/internal/fatcache"
	"github.com/bramblefs/fat32fs/internal/volume"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"
)

func newTestVolume(t *testing.T, reservedSectors, fatSectors uint) (*volume.Volume, []byte) {
	t.Helper()
	const bytesPerSector = 512

	image := make([]byte, (reservedSectors+2*fatSectors+64)*bytesPerSector)
	dev := bytesextra.NewReadWriteSeeker(image)

	vol := &volume.Volume{
		Device:            dev,
		BytesPerSector:    bytesPerSector,
		SectorsPerCluster: 8,
		ReservedSectors:   reservedSectors,
		NumFATs:           2,
		SectorsPerFAT:     fatSectors,
		RootCluster:       2,
	}
	return vol, image
}

func TestGetReadsThroughCache(t *testing.T) {
	vol, image := newTestVolume(t, 32, 4)
	cache := fatcache.New(vol, 2)

	// Cell 5 lives at sector 0 (512/4 = 128 cells per sector), offset 20.
	sectorOffset := int(vol.ReservedSectors) * 512
	binary.LittleEndian.PutUint32(image[sectorOffset+20:], 0x0000000A)

	cell, err := cache.Get(5)
	require.NoError(t, err)
	require.Equal(t, volume.Cluster(10), cell.Next())
}

func TestPutPreservesReservedBits(t *testing.T) {
	vol, image := newTestVolume(t, 32, 4)
	cache := fatcache.New(vol, 2)

	sectorOffset := int(vol.ReservedSectors) * 512
	binary.LittleEndian.PutUint32(image[sectorOffset:], 0xA0000000)

	err := cache.Put(0, 0x0FFFFFFF)
	require.NoError(t, err)

	got := binary.LittleEndian.Uint32(image[sectorOffset:])
	require.Equal(t, uint32(0xAFFFFFFF), got)
}

func TestGetAfterPutObservesNewValueWhenSectorResident(t *testing.T) {
	vol, _ := newTestVolume(t, 32, 4)
	cache := fatcache.New(vol, 2)

	// Load cell 5's sector into the cache before writing through it.
	_, err := cache.Get(5)
	require.NoError(t, err)

	require.NoError(t, cache.Put(5, fatcache.EndOfChain))

	cell, err := cache.Get(5)
	require.NoError(t, err)
	require.True(t, cell.IsEndOfChain())
}

func TestLRUEvictionBound(t *testing.T) {
	vol, _ := newTestVolume(t, 32, 4)
	cache := fatcache.New(vol, 1)

	// Cell 0 -> sector 0, cell 200 -> sector 1 (128 cells/sector). Loading
	// the second must evict the first from the single-slot cache.
	_, err := cache.Get(0)
	require.NoError(t, err)
	_, err = cache.Get(200)
	require.NoError(t, err)
	_, err = cache.Get(0)
	require.NoError(t, err)
}
