package terrain

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// MaxLevel is the finest level of detail any profile resolves to.
const MaxLevel = 23

// A TileKey identifies a tile within a profile. TileKeys are comparable and
// can be used as map keys.
type TileKey struct {
	level  uint
	x      uint
	y      uint
	srs    SRS
	extent orb.Bound
}

// Level returns k's level of detail.
func (k TileKey) Level() uint {
	return k.level
}

// X returns k's column.
func (k TileKey) X() uint {
	return k.x
}

// Y returns k's row, counted from the top of the profile extent.
func (k TileKey) Y() uint {
	return k.y
}

// SRS returns the SRS of k's extent.
func (k TileKey) SRS() SRS {
	return k.srs
}

// Extent returns k's geographic extent.
func (k TileKey) Extent() orb.Bound {
	return k.extent
}

// Valid returns true if k was created by a profile.
func (k TileKey) Valid() bool {
	return k.srs != ""
}

// MapTile returns k as a web map tile. It is only meaningful for keys from
// a mercator profile.
func (k TileKey) MapTile() maptile.Tile {
	return maptile.New(uint32(k.x), uint32(k.y), maptile.Zoom(k.level))
}

func (k TileKey) String() string {
	return fmt.Sprintf("%d/%d/%d", k.level, k.x, k.y)
}

// A Profile is a tiling scheme over an SRS.
type Profile interface {
	SRS() SRS
	Extent() orb.Bound
	TileKey(x, y float64, level uint) (TileKey, bool)
	ParentKey(key TileKey) (TileKey, bool)
	LevelOfDetailForResolution(resolution float64, tileSize int) uint
}

// A GridProfile is a quadtree tiling of a rectangular extent with a fixed
// number of tiles at level 0.
type GridProfile struct {
	srs       SRS
	extent    orb.Bound
	tilesWide uint
	tilesHigh uint
}

// NewGridProfile returns a new GridProfile.
func NewGridProfile(srs SRS, extent orb.Bound, tilesWide, tilesHigh uint) *GridProfile {
	return &GridProfile{
		srs:       srs,
		extent:    extent,
		tilesWide: max(tilesWide, 1),
		tilesHigh: max(tilesHigh, 1),
	}
}

// NewGeodeticProfile returns the global geodetic profile: EPSG:4326 with two
// tiles at level 0.
func NewGeodeticProfile() *GridProfile {
	return NewGridProfile(EPSG4326, orb.Bound{Min: orb.Point{-180, -90}, Max: orb.Point{180, 90}}, 2, 1)
}

// NewMercatorProfile returns the spherical mercator profile: EPSG:3857 with
// one tile at level 0, matching XYZ web map tiles.
func NewMercatorProfile() *GridProfile {
	return NewGridProfile(EPSG3857, orb.Bound{Min: orb.Point{-originShift, -originShift}, Max: orb.Point{originShift, originShift}}, 1, 1)
}

// SRS returns p's SRS.
func (p *GridProfile) SRS() SRS {
	return p.srs
}

// Extent returns p's extent.
func (p *GridProfile) Extent() orb.Bound {
	return p.extent
}

// TilesAt returns the number of tiles across and down at level.
func (p *GridProfile) TilesAt(level uint) (uint, uint) {
	return p.tilesWide << level, p.tilesHigh << level
}

// TileKey returns the key of the tile containing (x, y) at level. It returns
// false if (x, y) is outside p's extent.
func (p *GridProfile) TileKey(x, y float64, level uint) (TileKey, bool) {
	if level > MaxLevel || !isFinite(x) || !isFinite(y) || !p.extent.Contains(orb.Point{x, y}) {
		return TileKey{}, false
	}
	tilesAcross, tilesDown := p.TilesAt(level)
	rx := (x - p.extent.Left()) / (p.extent.Right() - p.extent.Left())
	ry := (p.extent.Top() - y) / (p.extent.Top() - p.extent.Bottom())
	tileX := min(uint(rx*float64(tilesAcross)), tilesAcross-1)
	tileY := min(uint(ry*float64(tilesDown)), tilesDown-1)
	return p.key(level, tileX, tileY), true
}

// TileKeyAt returns the key of the tile at column x, row y of level.
func (p *GridProfile) TileKeyAt(level, x, y uint) (TileKey, bool) {
	tilesAcross, tilesDown := p.TilesAt(level)
	if level > MaxLevel || x >= tilesAcross || y >= tilesDown {
		return TileKey{}, false
	}
	return p.key(level, x, y), true
}

// ParentKey returns the key of the tile containing key at the next coarser
// level. It returns false if key is at level 0.
func (p *GridProfile) ParentKey(key TileKey) (TileKey, bool) {
	if key.level == 0 || !key.srs.Equivalent(p.srs) {
		return TileKey{}, false
	}
	return p.key(key.level-1, key.x/2, key.y/2), true
}

// LevelOfDetailForResolution returns the coarsest level whose sample spacing,
// for grids of tileSize samples, is no coarser than resolution. resolution is
// in p's SRS units. Grids of tileSize samples span tileSize-1 intervals, so
// the spacing matches the resolution reported for a grid.
func (p *GridProfile) LevelOfDetailForResolution(resolution float64, tileSize int) uint {
	if tileSize <= 1 || resolution <= 0 || math.IsNaN(resolution) {
		return MaxLevel
	}
	tileResolution := (p.extent.Right() - p.extent.Left()) / float64(p.tilesWide) / float64(tileSize-1)
	var level uint
	for ; level < MaxLevel; level++ {
		if tileResolution <= resolution {
			break
		}
		tileResolution *= 0.5
	}
	return level
}

func (p *GridProfile) key(level, x, y uint) TileKey {
	tilesAcross, tilesDown := p.TilesAt(level)
	tileWidth := (p.extent.Right() - p.extent.Left()) / float64(tilesAcross)
	tileHeight := (p.extent.Top() - p.extent.Bottom()) / float64(tilesDown)
	minX := p.extent.Left() + float64(x)*tileWidth
	maxY := p.extent.Top() - float64(y)*tileHeight
	extent := orb.Bound{
		Min: orb.Point{minX, maxY - tileHeight},
		Max: orb.Point{minX + tileWidth, maxY},
	}
	return TileKey{
		level:  level,
		x:      x,
		y:      y,
		srs:    p.srs,
		extent: extent,
	}
}
