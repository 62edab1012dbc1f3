package terrain_test

import (
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/paulmach/orb"

	"github.com/twpayne/go-terrain"
)

func TestLoadDataExtents(t *testing.T) {
	dataExtents, err := terrain.LoadDataExtents([]byte(`{
		"type": "FeatureCollection",
		"features": [
			{
				"type": "Feature",
				"properties": {"name": "alps", "maxLevel": 12},
				"geometry": {
					"type": "Polygon",
					"coordinates": [[[5, 44], [16, 44], [16, 48], [5, 48], [5, 44]]]
				}
			},
			{
				"type": "Feature",
				"properties": {"maxLevel": 4},
				"geometry": {
					"type": "MultiPolygon",
					"coordinates": [
						[[[-10, 35], [0, 35], [0, 45], [-10, 35]]],
						[[[20, 35], [30, 35], [30, 45], [20, 45], [20, 35]]]
					]
				}
			}
		]
	}`))
	assert.NoError(t, err)
	assert.Equal(t, 2, len(dataExtents))
	assert.Equal(t, uint(12), dataExtents[0].MaxLevel)
	assert.Equal(t, uint(4), dataExtents[1].MaxLevel)

	for _, tc := range []struct {
		name     string
		index    int
		x        float64
		y        float64
		expected bool
	}{
		{name: "polygon_inside", index: 0, x: 10, y: 46, expected: true},
		{name: "polygon_outside", index: 0, x: 17, y: 46},
		{name: "multipolygon_first", index: 1, x: -1, y: 36, expected: true},
		{name: "multipolygon_second", index: 1, x: 25, y: 40, expected: true},
		{name: "multipolygon_between", index: 1, x: 10, y: 40},
		{name: "multipolygon_outside_triangle", index: 1, x: -9, y: 44},
	} {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, dataExtents[tc.index].Contains(tc.x, tc.y))
		})
	}
}

func TestLoadDataExtentsErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		data string
	}{
		{
			name: "invalid_json",
			data: `{`,
		},
		{
			name: "missing_max_level",
			data: `{"type":"FeatureCollection","features":[{"type":"Feature","properties":{},"geometry":{"type":"Point","coordinates":[0,0]}}]}`,
		},
		{
			name: "negative_max_level",
			data: `{"type":"FeatureCollection","features":[{"type":"Feature","properties":{"maxLevel":-1},"geometry":{"type":"Point","coordinates":[0,0]}}]}`,
		},
		{
			name: "missing_geometry",
			data: `{"type":"FeatureCollection","features":[{"type":"Feature","properties":{"maxLevel":3},"geometry":null}]}`,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := terrain.LoadDataExtents([]byte(tc.data))
			assert.Error(t, err)
		})
	}
}

func TestDataExtentContains(t *testing.T) {
	bound := terrain.NewBoundDataExtent(orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{10, 10}}, 3)
	assert.True(t, bound.Contains(0, 0))
	assert.True(t, bound.Contains(10, 10))
	assert.False(t, bound.Contains(10.1, 5))

	ring := terrain.DataExtent{Region: orb.Ring{{0, 0}, {10, 0}, {0, 10}, {0, 0}}}
	assert.True(t, ring.Contains(1, 1))
	assert.False(t, ring.Contains(9, 9))

	assert.False(t, terrain.DataExtent{}.Contains(0, 0))
}
