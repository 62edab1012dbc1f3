package terrain_test

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
	"testing"
	"testing/fstest"

	"github.com/alecthomas/assert/v2"

	"github.com/twpayne/go-terrain"
)

func encodeTerrariumPNG(t *testing.T, size int, heightFunc func(x, y int) float64) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	for y := range size {
		for x := range size {
			height := heightFunc(x, y)
			if math.IsNaN(height) {
				img.SetNRGBA(x, y, color.NRGBA{})
				continue
			}
			img.SetNRGBA(x, y, terrain.TerrariumColor(height))
		}
	}
	var buffer bytes.Buffer
	assert.NoError(t, png.Encode(&buffer, img))
	return buffer.Bytes()
}

func TestTerrariumColor(t *testing.T) {
	for _, height := range []float64{0, 1, 100, 8848, -50.25, -32768, 1234.5} {
		c := terrain.TerrariumColor(height)
		assert.Equal(t, height, float64(c.R)*256+float64(c.G)+float64(c.B)/256-32768)
	}
}

func TestTerrariumLayerHeightGrid(t *testing.T) {
	fsys := fstest.MapFS{
		"2/1/1.png": &fstest.MapFile{
			Data: encodeTerrariumPNG(t, 4, func(x, y int) float64 {
				if x == 3 && y == 0 {
					return math.NaN()
				}
				return float64(100*x + 10*y)
			}),
		},
		"2/0/0.png": &fstest.MapFile{
			Data: encodeTerrariumPNG(t, 8, func(x, y int) float64 { return 0 }),
		},
		"2/2/2.png": &fstest.MapFile{
			Data: []byte("not a png"),
		},
	}
	layer := terrain.NewTerrariumLayer("terrarium", fsys,
		terrain.WithTerrariumTileSize(4),
		terrain.WithTerrariumMaxDataLevel(2),
	)
	assert.Equal(t, "terrarium", layer.Name())
	assert.Equal(t, terrain.EPSG3857, layer.SRS())
	assert.Equal(t, 4, layer.TileSize())
	assert.Equal(t, uint(2), layer.MaxDataLevel())

	profile := terrain.NewMercatorProfile()
	key, ok := profile.TileKeyAt(2, 1, 1)
	assert.True(t, ok)
	grid, err := layer.HeightGrid(t.Context(), key)
	assert.NoError(t, err)
	assert.Equal(t, key, grid.Key)
	assert.Equal(t, 4, grid.Columns)
	assert.Equal(t, 4, grid.Rows)
	assert.Equal(t, float32(30), grid.Height(0, 0))
	assert.Equal(t, float32(0), grid.Height(0, 3))
	assert.Equal(t, float32(230), grid.Height(2, 0))
	assert.True(t, math.IsNaN(float64(grid.Height(3, 3))))
	assert.True(t, grid.HasNoData())

	t.Run("missing", func(t *testing.T) {
		missingKey, ok := profile.TileKeyAt(2, 3, 3)
		assert.True(t, ok)
		_, err := layer.HeightGrid(t.Context(), missingKey)
		assert.IsError(t, err, terrain.ErrNoData)
	})

	t.Run("too_deep", func(t *testing.T) {
		deepKey, ok := profile.TileKeyAt(3, 2, 2)
		assert.True(t, ok)
		_, err := layer.HeightGrid(t.Context(), deepKey)
		assert.IsError(t, err, terrain.ErrNoData)
	})

	t.Run("wrong_size", func(t *testing.T) {
		wrongSizeKey, ok := profile.TileKeyAt(2, 0, 0)
		assert.True(t, ok)
		_, err := layer.HeightGrid(t.Context(), wrongSizeKey)
		assert.Error(t, err)
	})

	t.Run("corrupt", func(t *testing.T) {
		corruptKey, ok := profile.TileKeyAt(2, 2, 2)
		assert.True(t, ok)
		_, err := layer.HeightGrid(t.Context(), corruptKey)
		assert.Error(t, err)
		assert.NotIsError(t, err, terrain.ErrNoData)
	})

	t.Run("geodetic_key", func(t *testing.T) {
		geodeticKey, ok := terrain.NewGeodeticProfile().TileKeyAt(2, 1, 1)
		assert.True(t, ok)
		_, err := layer.HeightGrid(t.Context(), geodeticKey)
		assert.IsError(t, err, terrain.ErrUnsupportedTransform)
	})
}

func TestTerrariumLayerQuery(t *testing.T) {
	fsys := fstest.MapFS{
		"2/1/1.png": &fstest.MapFile{
			Data: encodeTerrariumPNG(t, 4, func(x, y int) float64 { return 512 }),
		},
	}
	layerStack := terrain.NewLayerStack(terrain.NewMercatorProfile(), terrain.WithLayers(
		terrain.NewTerrariumLayer("terrarium", fsys,
			terrain.WithTerrariumTileSize(4),
			terrain.WithTerrariumMaxDataLevel(2),
		),
	))
	query, err := terrain.NewQuery(layerStack, terrain.WithTransformer(terrain.WebMercatorTransformer{}))
	assert.NoError(t, err)

	height, resolution, err := query.Elevation(t.Context(), terrain.NewGeoPoint(terrain.EPSG4326, -45, 30, 0), 0)
	assert.NoError(t, err)
	assert.True(t, math.Abs(height-512) < 1e-9)
	assert.True(t, math.Abs(resolution-10018754.171394622/3) < 1e-6)

	_, _, err = query.Elevation(t.Context(), terrain.NewGeoPoint(terrain.EPSG4326, 45, -30, 0), 0)
	assert.IsError(t, err, terrain.ErrNoHeightGrid)
}
