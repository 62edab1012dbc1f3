package terrain

import (
	"fmt"
	"io/fs"
	"slices"

	"github.com/paulmach/orb"
)

// EUDEMMaxDataLevel is the finest geodetic level at which a 65 sample tile is
// still coarser than the EU-DEM's 25m resolution.
const EUDEMMaxDataLevel = 13

// EUDEMBound is the extent of the EU-DEM in EPSG:3035.
var EUDEMBound = orb.Bound{
	Min: orb.Point{900000, 900000},
	Max: orb.Point{7400000, 5500000},
}

// NewEUDEM returns a GeoTIFFSet that reads EU-DEM v1.1 files from fsys.
func NewEUDEM(fsys fs.FS, options ...GeoTIFFSetOption) (*GeoTIFFSet, error) {
	return NewGeoTIFFSet(slices.Concat(
		[]GeoTIFFSetOption{
			WithFS(fsys),
			WithSRS(EPSG3035),
			WithScale(25, 25),
			WithFileCoordFunc(func(coord Coord) (TileCoord, bool) {
				if coord.X < 0 || coord.Y < 0 {
					return TileCoord{}, false
				}
				return TileCoord{
					C: 10 * (coord.X / 1000000),
					R: 10 * (coord.Y / 1000000),
				}, true
			}),
			WithFilenameFunc(func(fileCoord TileCoord) string {
				return fmt.Sprintf("eu_dem_v11_E%02dN%02d.TIF", fileCoord.C, fileCoord.R)
			}),
		},
		options,
	)...)
}

// NewEUDEMLayer returns an ElevationLayer called name that reads EU-DEM v1.1
// files from fsys.
func NewEUDEMLayer(name string, fsys fs.FS, options ...RasterLayerOption) (*RasterLayer, error) {
	euDEM, err := NewEUDEM(fsys)
	if err != nil {
		return nil, err
	}
	return NewRasterLayer(name, euDEM, EPSG3035, slices.Concat(
		[]RasterLayerOption{
			WithMaxDataLevel(EUDEMMaxDataLevel),
			WithDataExtents(NewBoundDataExtent(EUDEMBound, EUDEMMaxDataLevel)),
		},
		options,
	)...), nil
}
