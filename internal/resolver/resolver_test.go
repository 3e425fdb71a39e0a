package resolver_test

import (
	"testing"

	"github.com/bramblefs/fat32fs/internal/allocator"
	"github.com/bramblefs/fat32fs/internal/chain"
	"github.com/bramblefs/fat32fs/internal/direntry"
	"github.com/bramblefs/fat32fs/internal/fatcache"
	"github.com/bramblefs/fat32fs/internal/freespace"
	"github.com/bramblefs/fat32fs/internal/resolver"
	"github.com/bramblefs/fat32fs/internal/volume"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"
)

type fixture struct {
	vol   *volume.Volume
	cache *fatcache.Cache
	alloc *allocator.Allocator
	res   *resolver.Resolver
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	const bytesPerSector = 512
	const reserved = 32
	const fatSectors = 1
	const clusters = 20

	image := make([]byte, (reserved+2*fatSectors+clusters)*bytesPerSector)
	dev := bytesextra.NewReadWriteSeeker(image)

	vol := &volume.Volume{
		Device:            dev,
		BytesPerSector:    bytesPerSector,
		SectorsPerCluster: 1,
		ReservedSectors:   reserved,
		NumFATs:           2,
		SectorsPerFAT:     fatSectors,
		RootCluster:       2,
	}

	cache := fatcache.New(vol, 8)
	free, err := freespace.Build(cache, clusters)
	require.NoError(t, err)
	alloc := allocator.New(cache, free)

	// Mark the root cluster allocated and end-of-chain.
	require.NoError(t, cache.Put(vol.RootCluster, fatcache.EndOfChain))

	return fixture{vol: vol, cache: cache, alloc: alloc, res: resolver.New(vol, cache, alloc)}
}

func nameOf(s string) [11]byte {
	var out [11]byte
	copy(out[:], s)
	for i := len(s); i < 11; i++ {
		out[i] = ' '
	}
	return out
}

func (f fixture) createEntry(t *testing.T, parentCluster volume.Cluster, name string, isDir bool) volume.Cluster {
	t.Helper()
	ch, err := chain.Open(f.vol, f.cache, f.alloc, parentCluster)
	require.NoError(t, err)
	dir := &direntry.Directory{Chain: ch}

	start, err := f.alloc.AllocNode()
	require.NoError(t, err)

	var raw direntry.Raw
	raw.Name = nameOf(name)
	if isDir {
		raw.Attributes = direntry.AttrDirectory
	}
	raw.SetStartCluster(start)

	_, err = dir.AppendSlot(raw)
	require.NoError(t, err)
	return start
}

func TestResolveTopLevelFile(t *testing.T) {
	f := newFixture(t)
	f.createEntry(t, f.vol.RootCluster, "ATXT", false)

	result, err := f.res.Resolve("/ATXT")
	require.NoError(t, err)
	assert.Equal(t, "ATXT", result.Slot.TrimmedName())
	assert.Equal(t, 0, result.SlotIndex)
}

func TestResolveNestedPath(t *testing.T) {
	f := newFixture(t)
	subStart := f.createEntry(t, f.vol.RootCluster, "SUBDIR", true)
	f.createEntry(t, subStart, "NESTED", false)

	result, err := f.res.Resolve("/SUBDIR/NESTED")
	require.NoError(t, err)
	assert.Equal(t, "NESTED", result.Slot.TrimmedName())
}

func TestResolveMissingEntryFails(t *testing.T) {
	f := newFixture(t)
	_, err := f.res.Resolve("/MISSING")
	assert.Error(t, err)
}

func TestResolveThroughFileFailsNotADirectory(t *testing.T) {
	f := newFixture(t)
	f.createEntry(t, f.vol.RootCluster, "AFILE", false)

	_, err := f.res.Resolve("/AFILE/CHILD")
	assert.Error(t, err)
}

func TestResolveParentReturnsBareNameForCreate(t *testing.T) {
	f := newFixture(t)

	parent, name, err := f.res.ResolveParent("/NEWFILE")
	require.NoError(t, err)
	assert.Equal(t, "NEWFILE", name)
	assert.NotNil(t, parent)
}
