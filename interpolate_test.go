package terrain_test

import (
	"context"
	"math"
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/paulmach/orb"

	"github.com/twpayne/go-terrain"
)

type testRaster struct {
	scaleX  int
	scaleY  int
	samples [][]float64
}

func (t *testRaster) Samples(ctx context.Context, coords []terrain.Coord) ([]float64, error) {
	samples := make([]float64, len(coords))
	for i, coord := range coords {
		r, c := coord.Y/t.scaleY, coord.X/t.scaleX
		if coord.X < 0 || coord.Y < 0 || r >= len(t.samples) || c >= len(t.samples[r]) {
			samples[i] = math.NaN()
			continue
		}
		samples[i] = t.samples[r][c]
	}
	return samples, nil
}

func (t *testRaster) Scale() (int, int) {
	return t.scaleX, t.scaleY
}

func TestInterpolateBilinear(t *testing.T) {
	simpleRaster := &testRaster{
		scaleX: 10,
		scaleY: 10,
		samples: [][]float64{
			{0, 1, 2},
			{2, 3, 4},
			{4, 5, 6},
		},
	}
	for _, tc := range []struct {
		raster   terrain.Raster
		coords   [][]float64
		expected []float64
	}{
		{
			raster: simpleRaster,
			coords: [][]float64{
				{0, 0},
				{10, 0},
				{0, 10},
				{10, 10},
				{5, 5},
				{5, 0},
				{0, 5},
				{10, 5},
				{5, 10},
			},
			expected: []float64{
				0,
				1,
				2,
				3,
				1.5,
				0.5,
				1,
				2,
				2.5,
			},
		},
	} {
		actual, err := terrain.InterpolateBilinear(t.Context(), tc.raster, tc.coords)
		assert.NoError(t, err)
		assert.Equal(t, tc.expected, actual)
	}
}

func TestInterpolateBilinearOutside(t *testing.T) {
	raster := &testRaster{
		scaleX: 10,
		scaleY: 10,
		samples: [][]float64{
			{0, 1},
			{2, 3},
		},
	}
	actual, err := terrain.InterpolateBilinear(t.Context(), raster, [][]float64{{-5, 0}, {15, 15}})
	assert.NoError(t, err)
	assert.True(t, math.IsNaN(actual[0]))
	assert.True(t, math.IsNaN(actual[1]))
}

func TestHeightAt(t *testing.T) {
	grid, err := terrain.NewHeightGrid(terrain.TileKey{}, 2, 2, []float32{0, 10, 0, 10})
	assert.NoError(t, err)
	for _, tc := range []struct {
		name     string
		x        float64
		y        float64
		expected float64
	}{
		{name: "center", x: 0.5, y: 0.5, expected: 5},
		{name: "south_west", x: 0, y: 0, expected: 0},
		{name: "south_east", x: 1, y: 0, expected: 10},
		{name: "north_west", x: 0, y: 1, expected: 0},
		{name: "north_east", x: 1, y: 1, expected: 10},
		{name: "quarter", x: 0.25, y: 0.75, expected: 2.5},
		{name: "east_of_extent", x: 1.5, y: 0.5, expected: 10},
		{name: "west_of_extent", x: -0.5, y: 0.5, expected: 0},
		{name: "north_of_extent", x: 0.5, y: 2, expected: 5},
	} {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, terrain.HeightAt(grid, tc.x, tc.y, 0, 0, 1, 1))
		})
	}
}

func TestHeightAtNoData(t *testing.T) {
	grid, err := terrain.NewHeightGrid(terrain.TileKey{}, 2, 2, []float32{0, float32(math.NaN()), 0, 10})
	assert.NoError(t, err)
	assert.Equal(t, 0.0, terrain.HeightAt(grid, 0, 0, 0, 0, 1, 1))
	assert.True(t, math.IsNaN(terrain.HeightAt(grid, 0.5, 0.5, 0, 0, 1, 1)))
}

func TestHeightGridHeightAt(t *testing.T) {
	profile := terrain.NewGridProfile(terrain.EPSG3035, orb.Bound{Min: orb.Point{100, 200}, Max: orb.Point{140, 240}}, 1, 1)
	key, ok := profile.TileKeyAt(0, 0, 0)
	assert.True(t, ok)
	heights := make([]float32, 5*5)
	for r := range 5 {
		for c := range 5 {
			heights[c+5*r] = float32(10*c + r)
		}
	}
	grid, err := terrain.NewHeightGrid(key, 5, 5, heights)
	assert.NoError(t, err)
	assert.Equal(t, 10.0, grid.XInterval())
	assert.Equal(t, 10.0, grid.YInterval())
	assert.Equal(t, float32(21), grid.Height(2, 1))
	assert.Equal(t, 21.0, grid.HeightAt(120, 210))
	assert.Equal(t, 26.5, grid.HeightAt(125, 215))
	assert.Equal(t, 44.0, grid.HeightAt(140, 240))
	x, y := grid.NodeCoord(4, 0)
	assert.Equal(t, 140.0, x)
	assert.Equal(t, 200.0, y)
	assert.False(t, grid.HasNoData())
}

func TestNewHeightGridErrors(t *testing.T) {
	_, err := terrain.NewHeightGrid(terrain.TileKey{}, 1, 2, []float32{0, 0})
	assert.Error(t, err)
	_, err = terrain.NewHeightGrid(terrain.TileKey{}, 2, 2, []float32{0, 0, 0})
	assert.Error(t, err)
}
