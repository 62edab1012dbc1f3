package terrain_test

import (
	"math"
	"testing"

	"github.com/alecthomas/assert/v2"

	"github.com/twpayne/go-terrain"
)

func TestWebMercatorTransformer(t *testing.T) {
	transformer := terrain.WebMercatorTransformer{}
	for _, tc := range []struct {
		name string
		lon  float64
		lat  float64
		x    float64
		y    float64
	}{
		{name: "origin", lon: 0, lat: 0, x: 0, y: 0},
		{name: "antimeridian", lon: 180, lat: 0, x: 20037508.342789244, y: 0},
		{name: "zurich", lon: 8.5, lat: 47.4, x: 946215.6717428254, y: 6007610.414387713},
	} {
		t.Run(tc.name, func(t *testing.T) {
			x, y, err := transformer.Transform(terrain.EPSG4326, terrain.EPSG3857, tc.lon, tc.lat)
			assert.NoError(t, err)
			assert.True(t, math.Abs(x-tc.x) < 1e-3)
			assert.True(t, math.Abs(y-tc.y) < 1e-3)

			lon, lat, err := transformer.Transform(terrain.EPSG3857, terrain.EPSG4326, x, y)
			assert.NoError(t, err)
			assert.True(t, math.Abs(lon-tc.lon) < 1e-9)
			assert.True(t, math.Abs(lat-tc.lat) < 1e-9)
		})
	}
}

func TestWebMercatorTransformerErrors(t *testing.T) {
	transformer := terrain.WebMercatorTransformer{}

	_, _, err := transformer.Transform(terrain.EPSG4326, terrain.EPSG3857, 0, 89)
	assert.Error(t, err)

	_, _, err = transformer.Transform(terrain.EPSG4326, terrain.EPSG3035, 10, 52)
	assert.IsError(t, err, terrain.ErrUnsupportedTransform)

	x, y, err := transformer.Transform(terrain.EPSG3035, terrain.SRS("epsg:3035"), 1, 2)
	assert.NoError(t, err)
	assert.Equal(t, 1.0, x)
	assert.Equal(t, 2.0, y)
}

func TestGeoPoint(t *testing.T) {
	transformer := terrain.WebMercatorTransformer{}

	point := terrain.NewGeoPoint(terrain.EPSG4326, 8.5, 47.4, 100)
	assert.True(t, point.IsValid())
	assert.Equal(t, terrain.EPSG4326, point.SRS())

	same := point.Transform(transformer, terrain.EPSG4326)
	assert.Equal(t, point, same)

	mercator := point.Transform(transformer, terrain.EPSG3857)
	assert.True(t, mercator.IsValid())
	assert.Equal(t, terrain.EPSG3857, mercator.SRS())
	assert.Equal(t, 100.0, mercator.Z)

	failed := point.Transform(transformer, terrain.EPSG3035)
	assert.False(t, failed.IsValid())

	for _, invalid := range []terrain.GeoPoint{
		{},
		terrain.NewGeoPoint("", 0, 0, 0),
		terrain.NewGeoPoint(terrain.EPSG4326, math.NaN(), 0, 0),
		terrain.NewGeoPoint(terrain.EPSG4326, 0, math.Inf(1), 0),
	} {
		assert.False(t, invalid.IsValid())
		assert.False(t, invalid.Transform(transformer, terrain.EPSG4326).IsValid())
	}
}

func TestEPSG(t *testing.T) {
	assert.Equal(t, terrain.EPSG3035, terrain.EPSG(3035))
	assert.True(t, terrain.SRS("epsg:4326").Equivalent(terrain.EPSG4326))
	assert.False(t, terrain.EPSG3857.Equivalent(terrain.EPSG4326))
}
