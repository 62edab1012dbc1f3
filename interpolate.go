package terrain

import (
	"context"
	"math"
)

// InterpolateBilinear returns the bilinearly interpolated samples of raster at
// coords, which are in raster units.
func InterpolateBilinear(ctx context.Context, raster Raster, coords [][]float64) ([]float64, error) {
	scaleX, scaleY := raster.Scale()
	rasterCoords := make([]Coord, 4*len(coords))
	for i, coord := range coords {
		x0 := scaleX * floorDiv(coord[0], scaleX)
		y0 := scaleY * floorDiv(coord[1], scaleY)
		x1 := x0 + scaleX
		y1 := y0 + scaleY
		rasterCoords[4*i+0] = Coord{X: x0, Y: y0}
		rasterCoords[4*i+1] = Coord{X: x1, Y: y0}
		rasterCoords[4*i+2] = Coord{X: x0, Y: y1}
		rasterCoords[4*i+3] = Coord{X: x1, Y: y1}
	}
	samples, err := raster.Samples(ctx, rasterCoords)
	if err != nil {
		return nil, err
	}
	result := make([]float64, len(coords))
	for i, coord := range coords {
		dx := (coord[0] - float64(rasterCoords[4*i].X)) / float64(scaleX)
		dy := (coord[1] - float64(rasterCoords[4*i].Y)) / float64(scaleY)
		result[i] = bilinear(samples[4*i+0], samples[4*i+1], samples[4*i+2], samples[4*i+3], dx, dy)
	}
	return result, nil
}

// HeightAt returns the bilinearly interpolated height of grid at (x, y),
// where the grid's first sample is at (minX, minY) and samples are xInterval
// and yInterval apart. Points on or beyond the grid's edges are clamped to
// the nearest edge. Missing samples propagate as NaN.
func HeightAt(grid *HeightGrid, x, y, minX, minY, xInterval, yInterval float64) float64 {
	c, dx := cell((x-minX)/xInterval, grid.Columns)
	r, dy := cell((y-minY)/yInterval, grid.Rows)
	return bilinear(
		float64(grid.Height(c, r)),
		float64(grid.Height(c+1, r)),
		float64(grid.Height(c, r+1)),
		float64(grid.Height(c+1, r+1)),
		dx, dy,
	)
}

// cell returns the index of the lower sample of the cell containing the
// fractional index f in a dimension of n samples, and the offset of f within
// that cell.
func cell(f float64, n int) (int, float64) {
	switch {
	case math.IsNaN(f) || f <= 0:
		return 0, 0
	case f >= float64(n-1):
		return n - 2, 1
	}
	i := int(f)
	return i, f - float64(i)
}

func bilinear(s00, s10, s01, s11, dx, dy float64) float64 {
	switch {
	case dx == 0 && dy == 0:
		return s00
	case dx == 1 && dy == 0:
		return s10
	case dx == 0 && dy == 1:
		return s01
	case dx == 1 && dy == 1:
		return s11
	}
	return 0 +
		s00*(1-dx)*(1-dy) +
		s10*dx*(1-dy) +
		s01*(1-dx)*dy +
		s11*dx*dy
}

func floorDiv(x float64, scale int) int {
	return int(math.Floor(x / float64(scale)))
}
