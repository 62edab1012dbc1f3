package terrain

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io/fs"
	"math"
)

// Terrarium defaults.
const (
	DefaultTerrariumTileSize     = 256
	DefaultTerrariumMaxDataLevel = 15
)

// A TerrariumLayer is an ElevationLayer that reads Terrarium-encoded PNG web
// map tiles named {z}/{x}/{y}.png. It only produces height grids for
// EPSG:3857 keys.
type TerrariumLayer struct {
	name         string
	fsys         fs.FS
	tileSize     int
	maxDataLevel uint
	dataExtents  []DataExtent
}

// A TerrariumLayerOption sets an option on a TerrariumLayer.
type TerrariumLayerOption func(*TerrariumLayer)

// NewTerrariumLayer returns a new TerrariumLayer called name that reads
// tiles from fsys.
func NewTerrariumLayer(name string, fsys fs.FS, options ...TerrariumLayerOption) *TerrariumLayer {
	l := &TerrariumLayer{
		name:         name,
		fsys:         fsys,
		tileSize:     DefaultTerrariumTileSize,
		maxDataLevel: DefaultTerrariumMaxDataLevel,
	}
	for _, option := range options {
		option(l)
	}
	return l
}

// WithTerrariumDataExtents sets the layer's data extents, in EPSG:3857.
func WithTerrariumDataExtents(dataExtents ...DataExtent) TerrariumLayerOption {
	return func(l *TerrariumLayer) {
		l.dataExtents = dataExtents
	}
}

// WithTerrariumMaxDataLevel sets the finest zoom level available.
func WithTerrariumMaxDataLevel(maxDataLevel uint) TerrariumLayerOption {
	return func(l *TerrariumLayer) {
		l.maxDataLevel = maxDataLevel
	}
}

// WithTerrariumTileSize sets the width and height of the tiles in pixels.
func WithTerrariumTileSize(tileSize int) TerrariumLayerOption {
	return func(l *TerrariumLayer) {
		l.tileSize = max(tileSize, 2)
	}
}

func (l *TerrariumLayer) Name() string              { return l.name }
func (l *TerrariumLayer) SRS() SRS                  { return EPSG3857 }
func (l *TerrariumLayer) TileSize() int             { return l.tileSize }
func (l *TerrariumLayer) MaxDataLevel() uint        { return l.maxDataLevel }
func (l *TerrariumLayer) DataExtents() []DataExtent { return l.dataExtents }

// HeightGrid decodes the tile for key. Each pixel becomes one sample.
func (l *TerrariumLayer) HeightGrid(ctx context.Context, key TileKey) (*HeightGrid, error) {
	if !key.SRS().Equivalent(EPSG3857) {
		return nil, fmt.Errorf("%s: %s: %w", l.name, key.SRS(), ErrUnsupportedTransform)
	}
	if key.Level() > l.maxDataLevel {
		return nil, ErrNoData
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mapTile := key.MapTile()
	filename := fmt.Sprintf("%d/%d/%d.png", mapTile.Z, mapTile.X, mapTile.Y)
	file, err := l.fsys.Open(filename)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, ErrNoData
	case err != nil:
		return nil, err
	}
	defer file.Close()

	img, err := png.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	bounds := img.Bounds()
	if bounds.Dx() != l.tileSize || bounds.Dy() != l.tileSize {
		return nil, fmt.Errorf("%s: %dx%d: invalid tile size", filename, bounds.Dx(), bounds.Dy())
	}

	return NewHeightGrid(key, l.tileSize, l.tileSize, decodeTerrarium(img))
}

// decodeTerrarium returns the heights encoded in img, with the bottom row of
// img first. Transparent pixels are missing.
func decodeTerrarium(img image.Image) []float32 {
	bounds := img.Bounds()
	columns, rows := bounds.Dx(), bounds.Dy()
	heights := make([]float32, columns*rows)
	for r := range rows {
		y := bounds.Max.Y - 1 - r
		for c := range columns {
			pixel := color.NRGBAModel.Convert(img.At(bounds.Min.X+c, y)).(color.NRGBA)
			if pixel.A == 0 {
				heights[c+r*columns] = float32(math.NaN())
				continue
			}
			heights[c+r*columns] = float32(terrariumHeight(pixel))
		}
	}
	return heights
}

func terrariumHeight(pixel color.NRGBA) float64 {
	return float64(pixel.R)*256 + float64(pixel.G) + float64(pixel.B)/256 - 32768
}

// TerrariumColor returns the color that encodes height.
func TerrariumColor(height float64) color.NRGBA {
	v := height + 32768
	r := math.Floor(v / 256)
	g := math.Floor(v - r*256)
	b := math.Floor((v - r*256 - g) * 256)
	return color.NRGBA{
		R: uint8(r),
		G: uint8(g),
		B: uint8(b),
		A: 0xff,
	}
}
