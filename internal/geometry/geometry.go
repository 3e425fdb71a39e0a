// Package geometry holds named presets for common FAT32 volume sizes, used
// by the formatter and by the CLI's "format" subcommand so callers don't
// have to spell out sector counts by hand.
package geometry

import (
	"fmt"
	"io"
	"strings"

	"github.com/gocarina/gocsv"
)

// Preset describes the on-disk geometry of a FAT32 volume before it has
// been formatted: everything [internal/format.Format] needs to lay out the
// boot sector, FAT copies, and root directory.
type Preset struct {
	Slug              string `csv:"slug"`
	Description       string `csv:"description"`
	BytesPerSector    uint   `csv:"bytes_per_sector"`
	SectorsPerCluster uint   `csv:"sectors_per_cluster"`
	ReservedSectors   uint   `csv:"reserved_sectors"`
	NumFATs           uint   `csv:"num_fats"`
	SectorsPerFAT     uint   `csv:"sectors_per_fat"`
	TotalSectors      uint   `csv:"total_sectors"`
}

// TotalBytes gives the minimum size of the backing image file.
func (p *Preset) TotalBytes() uint64 {
	return uint64(p.BytesPerSector) * uint64(p.TotalSectors)
}

//go:generate true
const presetCSV = `slug,description,bytes_per_sector,sectors_per_cluster,reserved_sectors,num_fats,sectors_per_fat,total_sectors
fat32-64m,64 MiB flash-media image,512,8,32,2,126,131072
fat32-512m,512 MiB flash-media image,512,8,32,2,502,1048576
fat32-2g,2 GiB flash-media image,512,16,32,2,984,4194304
fat32-8g,8 GiB USB-stick image,512,32,32,2,1986,16777216
`

var presets map[string]Preset

func init() {
	presets = make(map[string]Preset)

	reader := strings.NewReader(presetCSV)
	err := gocsv.UnmarshalToCallback(reader, func(row Preset) error {
		if _, exists := presets[row.Slug]; exists {
			return fmt.Errorf("duplicate geometry preset %q", row.Slug)
		}
		presets[row.Slug] = row
		return nil
	})
	if err != nil && err != io.EOF {
		panic(fmt.Sprintf("geometry: malformed embedded preset table: %s", err))
	}
}

// Lookup returns the named preset, or false if no such preset exists.
func Lookup(slug string) (Preset, bool) {
	preset, ok := presets[slug]
	return preset, ok
}

// Names returns every known preset slug.
func Names() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	return names
}
