package volume_test

import (
	"testing"

	"github.com/bramblefs/fat32fs/internal/bootsector"
	"github.com/bramblefs/fat32fs/internal/volume"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"
)

// buildFixture synthesizes a minimal 64 MiB image (bps=512, spc=8,
// reserved=32, 2 FATs of 126 sectors each, root cluster 2) with a valid
// boot sector and FSInfo sector, matching spec.md §8 scenario 1.
func buildFixture(t *testing.T) volume.Device {
	t.Helper()

	const bytesPerSector = 512
	const totalSectors = 131072 // 64 MiB / 512

	image := make([]byte, totalSectors*bytesPerSector)

	raw := bootsector.Raw{
		BytesPerSector:    bytesPerSector,
		SectorsPerCluster: 8,
		ReservedSectors:   32,
		NumFATs:           2,
		SectorsPerFAT32:   126,
		SectorCount32:     totalSectors,
		RootCluster:       2,
		FSInfoSector:      1,
		BackupBootSector:  6,
	}
	copy(raw.VolumeLabel[:], "NO NAME    ")

	encodedBoot, err := bootsector.Encode(raw, bytesPerSector)
	require.NoError(t, err)
	copy(image[0:bytesPerSector], encodedBoot)

	fsInfo := bootsector.FSInfo{FreeClusterCount: 16383, NextFreeCluster: 3}
	encodedFSInfo := bootsector.EncodeFSInfo(fsInfo, bytesPerSector)
	copy(image[bytesPerSector:2*bytesPerSector], encodedFSInfo)

	return bytesextra.NewReadWriteSeeker(image)
}

func TestMountDerivesGeometry(t *testing.T) {
	dev := buildFixture(t)

	vol, totalClusters, err := volume.Mount(dev)
	require.NoError(t, err)

	require.Equal(t, uint(512), vol.BytesPerSector)
	require.Equal(t, uint(4096), vol.BytesPerCluster())
	require.Equal(t, volume.Cluster(2), vol.RootCluster)
	require.Equal(t, uint32(16383), vol.FreeClusterHint)

	// Data area starts after reserved sectors + 2 * 126 FAT sectors.
	require.Equal(t, uint64((32+252)*512), vol.DataAreaStart())
	require.Equal(t, vol.DataAreaStart(), vol.ClusterByteOffset(2))

	// (131072 - 32 - 252) / 8 = 16348 data clusters, but 126 FAT sectors hold
	// only 126 * 128 = 16128 cells, two of them reserved.
	require.Equal(t, uint(16126), totalClusters)
}

func TestMountRejectsCorruptFSInfo(t *testing.T) {
	dev := buildFixture(t)
	// Corrupt the FSInfo lead signature.
	buf := make([]byte, 1)
	_, err := dev.(interface {
		WriteAt([]byte, int64) (int, error)
	}).WriteAt(buf, 512)
	require.NoError(t, err)

	_, _, err = volume.Mount(dev)
	require.Error(t, err)
}
