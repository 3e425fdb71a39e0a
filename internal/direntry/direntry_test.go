package direntry_test

import (
	"testing"
	"time"

	"github.com/bramblefs/fat32fs/internal/allocator"
	"github.com/bramblefs/fat32fs/internal/chain"
	"github.com/bramblefs/fat32fs/internal/direntry"
	"github.com/bramblefs/fat32fs/internal/fatcache"
	"github.com/bramblefs/fat32fs/internal/freespace"
	"github.com/bramblefs/fat32fs/internal/volume"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"
)

func sampleRaw(name string) direntry.Raw {
	var raw direntry.Raw
	copy(raw.Name[:], name)
	for i := len(name); i < 11; i++ {
		raw.Name[i] = ' '
	}
	raw.Attributes = direntry.AttrArchive
	raw.SetStartCluster(volume.Cluster(5))
	raw.Size32 = 3
	return raw
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	raw := sampleRaw("ATXT       ")
	buf, err := direntry.Encode(raw)
	require.NoError(t, err)
	assert.Len(t, buf, direntry.Size)

	decoded, err := direntry.Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, raw, decoded)
}

func TestDateTimeRoundTrip(t *testing.T) {
	d := time.Date(2020, time.July, 28, 13, 45, 30, 0, time.UTC)

	dateWord := direntry.WordFromDate(d)
	timeWord := direntry.WordFromTime(d)

	roundTripped := direntry.TimeFromWord(dateWord, timeWord)
	assert.Equal(t, d.Year(), roundTripped.Year())
	assert.Equal(t, d.Month(), roundTripped.Month())
	assert.Equal(t, d.Day(), roundTripped.Day())
	assert.Equal(t, d.Hour(), roundTripped.Hour())
	assert.Equal(t, d.Minute(), roundTripped.Minute())
	assert.Equal(t, 30, roundTripped.Second())
}

func newDirFixture(t *testing.T) *direntry.Directory {
	t.Helper()
	const bytesPerSector = 512
	const reserved = 32
	const fatSectors = 1
	const clusters = 10

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

	start, err := alloc.AllocNode()
	require.NoError(t, err)

	c, err := chain.Open(vol, cache, alloc, start)
	require.NoError(t, err)

	return &direntry.Directory{Chain: c}
}

func TestAppendSlotThenLookup(t *testing.T) {
	dir := newDirFixture(t)

	record := sampleRaw("ATXT       ")
	idx, err := dir.AppendSlot(record)
	require.NoError(t, err)
	assert.Equal(t, 0, idx)

	found, foundIdx, err := dir.Lookup("ATXT")
	require.NoError(t, err)
	assert.Equal(t, idx, foundIdx)
	assert.Equal(t, uint32(3), found.FileSize())
}

func TestDeleteSlotSwapsWithLast(t *testing.T) {
	dir := newDirFixture(t)

	first := sampleRaw("FIRST      ")
	second := sampleRaw("SECOND     ")

	_, err := dir.AppendSlot(first)
	require.NoError(t, err)
	_, err = dir.AppendSlot(second)
	require.NoError(t, err)

	require.NoError(t, dir.DeleteSlot(0))

	slot0, err := dir.ReadSlot(0)
	require.NoError(t, err)
	assert.Equal(t, "SECOND", slot0.TrimmedName())

	slot1, err := dir.ReadSlot(1)
	require.NoError(t, err)
	assert.True(t, slot1.IsUnused())
}

func TestIsEmptyIgnoresReservedNames(t *testing.T) {
	dir := newDirFixture(t)

	dot := sampleRaw(".          ")
	dotdot := sampleRaw("..         ")
	_, err := dir.AppendSlot(dot)
	require.NoError(t, err)
	_, err = dir.AppendSlot(dotdot)
	require.NoError(t, err)

	empty, err := dir.IsEmpty()
	require.NoError(t, err)
	assert.True(t, empty)

	_, err = dir.AppendSlot(sampleRaw("REAL       "))
	require.NoError(t, err)

	empty, err = dir.IsEmpty()
	require.NoError(t, err)
	assert.False(t, empty)
}
