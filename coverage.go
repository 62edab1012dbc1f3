package terrain

import (
	"math"

	"github.com/dhconnelly/rtreego"
	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"
)

// An indexedDataExtent is a DataExtent in a coverage R-tree.
type indexedDataExtent struct {
	DataExtent
	rect rtreego.Rect
}

// Bounds implements rtreego.Spatial.
func (e *indexedDataExtent) Bounds() rtreego.Rect {
	return e.rect
}

// A layerCoverage is the coverage metadata of a single layer.
type layerCoverage struct {
	name         string
	srs          SRS
	maxDataLevel uint
	rtree        *rtreego.Rtree
}

// A coverageResolver determines the finest level of detail at which a stack
// of layers has data at a point.
type coverageResolver struct {
	layers      []layerCoverage
	transformer Transformer
	logger      logrus.FieldLogger
}

func newCoverageResolver(layers []ElevationLayer, transformer Transformer, logger logrus.FieldLogger) *coverageResolver {
	r := &coverageResolver{
		layers:      make([]layerCoverage, 0, len(layers)),
		transformer: transformer,
		logger:      logger,
	}
	for _, layer := range layers {
		coverage := layerCoverage{
			name:         layer.Name(),
			srs:          layer.SRS(),
			maxDataLevel: layer.MaxDataLevel(),
		}
		if dataExtents := layer.DataExtents(); len(dataExtents) > 0 {
			coverage.rtree = rtreego.NewTree(2, 25, 50)
			for _, dataExtent := range dataExtents {
				if dataExtent.Region == nil {
					continue
				}
				coverage.rtree.Insert(&indexedDataExtent{
					DataExtent: dataExtent,
					rect:       boundRect(dataExtent.Region.Bound()),
				})
			}
		}
		r.layers = append(r.layers, coverage)
	}
	return r
}

// BestLevel returns the finest level of detail at which any layer has data
// at (x, y) in srs. It returns 0 if there are no layers or no coverage.
func (r *coverageResolver) BestLevel(x, y float64, srs SRS) uint {
	var maxLevel uint
	for i := range r.layers {
		maxLevel = max(maxLevel, r.layerLevel(&r.layers[i], x, y, srs))
	}
	return maxLevel
}

// layerLevel returns the maximum level of all of coverage's data extents
// that contain (x, y), or the layer's maximum data level if it does not
// declare any data extents.
func (r *coverageResolver) layerLevel(coverage *layerCoverage, x, y float64, srs SRS) uint {
	if coverage.rtree == nil {
		return coverage.maxDataLevel
	}

	layerX, layerY := x, y
	if srs != "" && coverage.srs != "" && !srs.Equivalent(coverage.srs) {
		var err error
		layerX, layerY, err = r.transformer.Transform(srs, coverage.srs, x, y)
		if err != nil {
			r.logger.WithFields(logrus.Fields{
				"layer": coverage.name,
				"x":     x,
				"y":     y,
			}).WithError(err).Debug("cannot locate point in layer SRS")
			return 0
		}
	}

	var layerMax uint
	for _, spatial := range coverage.rtree.SearchIntersect(pointRect(layerX, layerY)) {
		dataExtent := spatial.(*indexedDataExtent)
		if dataExtent.MaxLevel > layerMax && dataExtent.Contains(layerX, layerY) {
			layerMax = dataExtent.MaxLevel
		}
	}
	return layerMax
}

// minRectLength is the smallest side of an R-tree rectangle, relative to the
// magnitude of its coordinates.
const minRectLength = 1e-9

func boundRect(bound orb.Bound) rtreego.Rect {
	tol := minRectLength * max(1, math.Abs(bound.Min[0]), math.Abs(bound.Min[1]), math.Abs(bound.Max[0]), math.Abs(bound.Max[1]))
	point := rtreego.Point{bound.Min[0] - tol, bound.Min[1] - tol}
	lengths := []float64{
		bound.Max[0] - bound.Min[0] + 2*tol,
		bound.Max[1] - bound.Min[1] + 2*tol,
	}
	rect, _ := rtreego.NewRect(point, lengths)
	return rect
}

func pointRect(x, y float64) rtreego.Rect {
	return boundRect(orb.Bound{Min: orb.Point{x, y}, Max: orb.Point{x, y}})
}
