package format_test

import (
	"testing"

	"github.com/bramblefs/fat32fs/internal/format"
	"github.com/bramblefs/fat32fs/internal/geometry"
	"github.com/bramblefs/fat32fs/internal/volume"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"
)

func TestFormatProducesMountableVolume(t *testing.T) {
	preset, ok := geometry.Lookup("fat32-64m")
	require.True(t, ok)

	image := make([]byte, preset.TotalBytes())
	dev := bytesextra.NewReadWriteSeeker(image)

	require.NoError(t, format.Format(dev, preset, format.Options{VolumeLabel: "TESTVOL", VolumeID: 0xDEADBEEF}))

	vol, totalClusters, err := volume.Mount(dev)
	require.NoError(t, err)

	assert.Equal(t, preset.BytesPerSector, vol.BytesPerSector)
	assert.Equal(t, preset.SectorsPerCluster, vol.SectorsPerCluster)
	assert.Equal(t, volume.Cluster(2), vol.RootCluster)
	assert.Equal(t, "TESTVOL", vol.Label)
	assert.True(t, totalClusters > 0)
}

func TestFormatRejectsZeroSectorsPerFAT(t *testing.T) {
	preset, ok := geometry.Lookup("fat32-64m")
	require.True(t, ok)
	preset.SectorsPerFAT = 0

	image := make([]byte, preset.TotalBytes())
	dev := bytesextra.NewReadWriteSeeker(image)

	err := format.Format(dev, preset, format.Options{})
	assert.Error(t, err)
}
