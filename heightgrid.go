package terrain

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// A HeightGrid is a rectangular grid of height samples covering the extent of
// its Key. Heights are stored row by row, with row 0 along the southern edge
// and column 0 along the western edge. Missing samples are NaN. HeightGrids
// are immutable once returned by a provider.
type HeightGrid struct {
	Key     TileKey
	Columns int
	Rows    int
	Heights []float32
}

// NewHeightGrid returns a new HeightGrid.
func NewHeightGrid(key TileKey, columns, rows int, heights []float32) (*HeightGrid, error) {
	if columns < 2 || rows < 2 {
		return nil, fmt.Errorf("%dx%d: height grid must be at least 2x2", columns, rows)
	}
	if len(heights) != columns*rows {
		return nil, fmt.Errorf("got %d heights, expected %d", len(heights), columns*rows)
	}
	return &HeightGrid{
		Key:     key,
		Columns: columns,
		Rows:    rows,
		Heights: heights,
	}, nil
}

// Height returns the sample at column c, row r.
func (g *HeightGrid) Height(c, r int) float32 {
	return g.Heights[c+r*g.Columns]
}

// XInterval returns the spacing between columns in the key's SRS units.
func (g *HeightGrid) XInterval() float64 {
	extent := g.Key.Extent()
	return (extent.Right() - extent.Left()) / float64(g.Columns-1)
}

// YInterval returns the spacing between rows in the key's SRS units.
func (g *HeightGrid) YInterval() float64 {
	extent := g.Key.Extent()
	return (extent.Top() - extent.Bottom()) / float64(g.Rows-1)
}

// HeightAt returns the interpolated height at (x, y), in the key's SRS.
func (g *HeightGrid) HeightAt(x, y float64) float64 {
	extent := g.Key.Extent()
	return HeightAt(g, x, y, extent.Left(), extent.Bottom(), g.XInterval(), g.YInterval())
}

// NodeCoord returns the position of the sample at column c, row r.
func (g *HeightGrid) NodeCoord(c, r int) (float64, float64) {
	extent := g.Key.Extent()
	return extent.Left() + float64(c)*g.XInterval(), extent.Bottom() + float64(r)*g.YInterval()
}

// HasNoData returns true if any sample in g is missing.
func (g *HeightGrid) HasNoData() bool {
	for _, height := range g.Heights {
		if math.IsNaN(float64(height)) {
			return true
		}
	}
	return false
}

// fillNoData replaces the missing samples in g with samples from src
// wherever src's extent covers them. It returns the number of samples that
// are still missing.
func (g *HeightGrid) fillNoData(src *HeightGrid) int {
	srcExtent := src.Key.Extent()
	missing := 0
	for r := range g.Rows {
		for c := range g.Columns {
			i := c + r*g.Columns
			if !math.IsNaN(float64(g.Heights[i])) {
				continue
			}
			x, y := g.NodeCoord(c, r)
			if !srcExtent.Contains(orb.Point{x, y}) {
				missing++
				continue
			}
			height := float32(src.HeightAt(x, y))
			if math.IsNaN(float64(height)) {
				missing++
			}
			g.Heights[i] = height
		}
	}
	return missing
}

func (g *HeightGrid) clone() *HeightGrid {
	clone := *g
	clone.Heights = append([]float32(nil), g.Heights...)
	return &clone
}
