package terrain

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// MaxLevelProperty is the GeoJSON feature property holding a DataExtent's
// maximum level.
const MaxLevelProperty = "maxLevel"

// A DataExtent is a region, in a layer's SRS, over which the layer has data
// up to MaxLevel.
type DataExtent struct {
	Region   orb.Geometry
	MaxLevel uint
}

// NewBoundDataExtent returns a DataExtent covering bound.
func NewBoundDataExtent(bound orb.Bound, maxLevel uint) DataExtent {
	return DataExtent{
		Region:   bound,
		MaxLevel: maxLevel,
	}
}

// Contains returns true if (x, y) is inside e's region, including its
// boundary for bounds.
func (e DataExtent) Contains(x, y float64) bool {
	point := orb.Point{x, y}
	switch region := e.Region.(type) {
	case nil:
		return false
	case orb.Bound:
		return region.Contains(point)
	case orb.Ring:
		return planar.RingContains(region, point)
	case orb.Polygon:
		return planar.PolygonContains(region, point)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(region, point)
	default:
		return region.Bound().Contains(point)
	}
}

// LoadDataExtents returns the DataExtents in a GeoJSON FeatureCollection.
// Each feature's geometry is a region and its maxLevel property is the
// region's maximum level.
func LoadDataExtents(data []byte) ([]DataExtent, error) {
	featureCollection, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, err
	}
	dataExtents := make([]DataExtent, 0, len(featureCollection.Features))
	for i, feature := range featureCollection.Features {
		if feature.Geometry == nil {
			return nil, fmt.Errorf("feature %d: %w", i, errMissingGeometry)
		}
		maxLevel := feature.Properties.MustFloat64(MaxLevelProperty, -1)
		if maxLevel < 0 {
			return nil, fmt.Errorf("feature %d: missing or invalid %s", i, MaxLevelProperty)
		}
		dataExtents = append(dataExtents, DataExtent{
			Region:   feature.Geometry,
			MaxLevel: uint(maxLevel),
		})
	}
	return dataExtents, nil
}

var errMissingGeometry = errors.New("missing geometry")
