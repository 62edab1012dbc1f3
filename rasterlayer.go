package terrain

import (
	"context"
	"math"
)

// DefaultRasterTileSize is the default number of samples along each side of
// a RasterLayer's height grids.
const DefaultRasterTileSize = 65

// A RasterLayer is an ElevationLayer that resamples a Raster.
type RasterLayer struct {
	name         string
	raster       Raster
	srs          SRS
	transformer  Transformer
	tileSize     int
	maxDataLevel uint
	dataExtents  []DataExtent
}

// A RasterLayerOption sets an option on a RasterLayer.
type RasterLayerOption func(*RasterLayer)

// NewRasterLayer returns a new RasterLayer called name that samples raster,
// whose coordinates are in srs.
func NewRasterLayer(name string, raster Raster, srs SRS, options ...RasterLayerOption) *RasterLayer {
	l := &RasterLayer{
		name:         name,
		raster:       raster,
		srs:          srs,
		tileSize:     DefaultRasterTileSize,
		maxDataLevel: MaxLevel,
	}
	for _, option := range options {
		option(l)
	}
	if l.transformer == nil {
		l.transformer = NewProjTransformer()
	}
	return l
}

// WithDataExtents sets the layer's data extents, in the raster's SRS.
func WithDataExtents(dataExtents ...DataExtent) RasterLayerOption {
	return func(l *RasterLayer) {
		l.dataExtents = dataExtents
	}
}

// WithMaxDataLevel sets the layer's maximum data level.
func WithMaxDataLevel(maxDataLevel uint) RasterLayerOption {
	return func(l *RasterLayer) {
		l.maxDataLevel = maxDataLevel
	}
}

// WithRasterTransformer sets the transformer from tile SRSes to the raster's
// SRS.
func WithRasterTransformer(transformer Transformer) RasterLayerOption {
	return func(l *RasterLayer) {
		l.transformer = transformer
	}
}

// WithTileSize sets the number of samples along each side of the layer's
// height grids.
func WithTileSize(tileSize int) RasterLayerOption {
	return func(l *RasterLayer) {
		l.tileSize = max(tileSize, 2)
	}
}

// Name returns l's name.
func (l *RasterLayer) Name() string {
	return l.name
}

// SRS returns the raster's SRS.
func (l *RasterLayer) SRS() SRS {
	return l.srs
}

// TileSize returns l's tile size.
func (l *RasterLayer) TileSize() int {
	return l.tileSize
}

// MaxDataLevel returns l's maximum data level.
func (l *RasterLayer) MaxDataLevel() uint {
	return l.maxDataLevel
}

// DataExtents returns l's data extents.
func (l *RasterLayer) DataExtents() []DataExtent {
	return l.dataExtents
}

// HeightGrid samples the raster at each node of key's grid.
func (l *RasterLayer) HeightGrid(ctx context.Context, key TileKey) (*HeightGrid, error) {
	if key.Level() > l.maxDataLevel {
		return nil, ErrNoData
	}

	n := l.tileSize
	extent := key.Extent()
	xInterval := (extent.Right() - extent.Left()) / float64(n-1)
	yInterval := (extent.Top() - extent.Bottom()) / float64(n-1)

	heights := make([]float32, n*n)
	coords := make([][]float64, 0, n*n)
	indexes := make([]int, 0, n*n)
	for r := range n {
		for c := range n {
			index := c + r*n
			heights[index] = float32(math.NaN())
			x := extent.Left() + float64(c)*xInterval
			y := extent.Bottom() + float64(r)*yInterval
			rasterX, rasterY, err := l.transformer.Transform(key.SRS(), l.srs, x, y)
			if err != nil {
				continue
			}
			coords = append(coords, []float64{rasterX, rasterY})
			indexes = append(indexes, index)
		}
	}
	if len(coords) == 0 {
		return nil, ErrNoData
	}

	samples, err := InterpolateBilinear(ctx, l.raster, coords)
	if err != nil {
		return nil, err
	}
	hasData := false
	for i, sample := range samples {
		if !math.IsNaN(sample) {
			hasData = true
		}
		heights[indexes[i]] = float32(sample)
	}
	if !hasData {
		return nil, ErrNoData
	}

	return NewHeightGrid(key, n, n, heights)
}
