package terrain

import "context"

// A Coord is a coordinate in a raster's integer coordinate system.
type Coord struct {
	X int
	Y int
}

// A TileCoord is a tile coordinate.
type TileCoord struct {
	C int // Column.
	R int // Row.
}

// A Vec3 is a point used by batch queries.
type Vec3 struct {
	X float64
	Y float64
	Z float64
}

// A Raster returns samples at integer coordinates. Missing samples are NaN.
type Raster interface {
	Samples(ctx context.Context, coords []Coord) ([]float64, error)
	Scale() (int, int)
}
