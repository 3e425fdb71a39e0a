package chain_test

import (
	"bytes"
	"testing"

	"github.com/bramblefs/fat32fs/internal/allocator"
	"github.com/bramblefs/fat32fs/internal/chain"
	"github.com/bramblefs/fat32fs/internal/fatcache"
	"github.com/bramblefs/fat32fs/internal/freespace"
	"github.com/bramblefs/fat32fs/internal/volume"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"
)

const (
	testBytesPerSector    = 512
	testSectorsPerCluster = 1
	testReserved          = 32
	testFATSectors        = 1
)

func newFixture(t *testing.T, clusters uint) (*volume.Volume, *fatcache.Cache, *allocator.Allocator) {
	t.Helper()
	image := make([]byte, (testReserved+2*testFATSectors+clusters*testSectorsPerCluster)*testBytesPerSector)
	dev := bytesextra.NewReadWriteSeeker(image)

	vol := &volume.Volume{
		Device:            dev,
		BytesPerSector:    testBytesPerSector,
		SectorsPerCluster: testSectorsPerCluster,
		ReservedSectors:   testReserved,
		NumFATs:           2,
		SectorsPerFAT:     testFATSectors,
		RootCluster:       2,
	}

	cache := fatcache.New(vol, 8)
	free, err := freespace.Build(cache, clusters)
	require.NoError(t, err)

	return vol, cache, allocator.New(cache, free)
}

func TestOpenWalksChainToEndOfChain(t *testing.T) {
	_, cache, alloc := newFixture(t, 10)

	first, err := alloc.AllocNode()
	require.NoError(t, err)
	second, err := alloc.NewClusterNear(first)
	require.NoError(t, err)

	c, err := chain.Open(nil, cache, alloc, first)
	_ = second
	require.NoError(t, err)
	assert.Equal(t, 2, c.ClusterCount())
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	vol, cache, alloc := newFixture(t, 10)

	first, err := alloc.AllocNode()
	require.NoError(t, err)

	c, err := chain.Open(vol, cache, alloc, first)
	require.NoError(t, err)

	payload := []byte("H,I,!")
	n, err := c.Write(payload)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)

	require.NoError(t, c.Seek(0, chain.SeekStart, uint64(len(payload))))

	buf := make([]byte, len(payload))
	n, err = c.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	assert.Equal(t, payload, buf)
}

func TestWriteExtendsChainWhenExceedingAllocatedExtent(t *testing.T) {
	vol, cache, alloc := newFixture(t, 10)

	first, err := alloc.AllocNode()
	require.NoError(t, err)

	c, err := chain.Open(vol, cache, alloc, first)
	require.NoError(t, err)

	clusterSize := int(vol.BytesPerCluster())
	payload := make([]byte, clusterSize+10)
	n, err := c.Write(payload)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	assert.Equal(t, 2, c.ClusterCount())
}

func TestSeekRejectsOutOfRangeTarget(t *testing.T) {
	vol, cache, alloc := newFixture(t, 10)
	first, err := alloc.AllocNode()
	require.NoError(t, err)

	c, err := chain.Open(vol, cache, alloc, first)
	require.NoError(t, err)

	err = c.Seek(-1, chain.SeekStart, 100)
	assert.Error(t, err)

	err = c.Seek(101, chain.SeekStart, 100)
	assert.Error(t, err)
}

func TestSeekEndParksAtLastByte(t *testing.T) {
	vol, cache, alloc := newFixture(t, 10)
	first, err := alloc.AllocNode()
	require.NoError(t, err)

	c, err := chain.Open(vol, cache, alloc, first)
	require.NoError(t, err)

	payload := []byte("hello")
	_, err = c.Write(payload)
	require.NoError(t, err)

	require.NoError(t, c.Seek(0, chain.SeekEnd, uint64(len(payload))))
	assert.Equal(t, uint64(len(payload)-1), c.Offset())
}

func TestWriteAcrossClusterBoundaryTargetsNewlyExtendedCluster(t *testing.T) {
	vol, cache, alloc := newFixture(t, 10)
	first, err := alloc.AllocNode()
	require.NoError(t, err)

	c, err := chain.Open(vol, cache, alloc, first)
	require.NoError(t, err)

	clusterSize := int(vol.BytesPerCluster())
	first4k := bytes.Repeat([]byte{0xAA}, clusterSize)
	n, err := c.Write(first4k)
	require.NoError(t, err)
	assert.Equal(t, clusterSize, n)
	assert.Equal(t, 1, c.ClusterCount())

	require.NoError(t, c.Seek(int64(clusterSize), chain.SeekStart, uint64(clusterSize)))
	second4k := bytes.Repeat([]byte{0xBB}, clusterSize)
	n, err = c.Write(second4k)
	require.NoError(t, err)
	assert.Equal(t, clusterSize, n)
	assert.Equal(t, 2, c.ClusterCount())

	require.NoError(t, c.Seek(0, chain.SeekStart, uint64(2*clusterSize)))
	buf := make([]byte, 2*clusterSize)
	n, err = c.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 2*clusterSize, n)
	assert.Equal(t, first4k, buf[:clusterSize])
	assert.Equal(t, second4k, buf[clusterSize:])
}

func TestTruncateToZeroReleasesEveryCluster(t *testing.T) {
	vol, cache, alloc := newFixture(t, 10)
	first, err := alloc.AllocNode()
	require.NoError(t, err)

	c, err := chain.Open(vol, cache, alloc, first)
	require.NoError(t, err)

	clusterSize := int(vol.BytesPerCluster())
	payload := make([]byte, clusterSize*3)
	_, err = c.Write(payload)
	require.NoError(t, err)
	assert.Equal(t, 3, c.ClusterCount())

	before := alloc.FreeClusters()
	require.NoError(t, c.TruncateTo(0))
	assert.Equal(t, 0, c.ClusterCount())
	assert.Equal(t, before+3, alloc.FreeClusters())
}

func TestTruncateShrinkKeepsOneClusterForPartialSize(t *testing.T) {
	vol, cache, alloc := newFixture(t, 10)
	first, err := alloc.AllocNode()
	require.NoError(t, err)

	c, err := chain.Open(vol, cache, alloc, first)
	require.NoError(t, err)

	clusterSize := uint64(vol.BytesPerCluster())
	payload := make([]byte, clusterSize*3)
	_, err = c.Write(payload)
	require.NoError(t, err)

	require.NoError(t, c.TruncateTo(clusterSize+1))
	assert.Equal(t, 2, c.ClusterCount())
}
