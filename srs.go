package terrain

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/twpayne/go-proj/v10"
)

// ErrUnsupportedTransform is returned by a Transformer that cannot convert
// between two spatial reference systems.
var ErrUnsupportedTransform = errors.New("unsupported transform")

// An SRS identifies a spatial reference system, e.g. "EPSG:4326".
type SRS string

// Common spatial reference systems.
const (
	EPSG4326 SRS = "EPSG:4326"
	EPSG3035 SRS = "EPSG:3035"
	EPSG3857 SRS = "EPSG:3857"
)

// EPSG returns the SRS with the given EPSG code.
func EPSG(code int) SRS {
	return SRS("EPSG:" + strconv.Itoa(code))
}

// Equivalent returns true if s and other identify the same SRS.
func (s SRS) Equivalent(other SRS) bool {
	return strings.EqualFold(string(s), string(other))
}

// geographic returns true if s has latitude/longitude axis order in its
// authority definition.
func (s SRS) geographic() bool {
	switch strings.ToUpper(string(s)) {
	case "EPSG:4326", "EPSG:4258", "EPSG:4269":
		return true
	default:
		return false
	}
}

// A Transformer converts coordinates between spatial reference systems.
// Geographic coordinates are always passed as x=longitude, y=latitude.
type Transformer interface {
	Transform(from, to SRS, x, y float64) (float64, float64, error)
}

type srsPair struct {
	from SRS
	to   SRS
}

// A ProjTransformer is a Transformer backed by PROJ.
type ProjTransformer struct {
	mutex sync.Mutex
	pjs   map[srsPair]*proj.PJ
}

// NewProjTransformer returns a new ProjTransformer.
func NewProjTransformer() *ProjTransformer {
	return &ProjTransformer{
		pjs: make(map[srsPair]*proj.PJ),
	}
}

// Transform implements Transformer.
func (t *ProjTransformer) Transform(from, to SRS, x, y float64) (float64, float64, error) {
	if from.Equivalent(to) {
		return x, y, nil
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()

	key := srsPair{from: from, to: to}
	pj, ok := t.pjs[key]
	if !ok {
		var err error
		pj, err = proj.NewCRSToCRS(strings.ToLower(string(from)), strings.ToLower(string(to)), nil)
		if err != nil {
			return 0, 0, fmt.Errorf("%s to %s: %w", from, to, err)
		}
		t.pjs[key] = pj
	}

	coords := [][]float64{{x, y}}
	if from.geographic() {
		flipCoords(coords)
	}
	if err := pj.ForwardFloat64Slices(coords); err != nil {
		return 0, 0, err
	}
	if to.geographic() {
		flipCoords(coords)
	}
	if math.IsInf(coords[0][0], 0) || math.IsInf(coords[0][1], 0) {
		return 0, 0, fmt.Errorf("%s to %s: non-finite result", from, to)
	}
	return coords[0][0], coords[0][1], nil
}

func flipCoords(coords [][]float64) {
	for i, coord := range coords {
		coords[i][0], coords[i][1] = coord[1], coord[0]
	}
}

const (
	earthRadius    = 6378137.0
	originShift    = math.Pi * earthRadius
	maxMercatorLat = 85.05112877980659
)

// A WebMercatorTransformer converts between EPSG:4326 and EPSG:3857 without
// PROJ. All other pairs return ErrUnsupportedTransform.
type WebMercatorTransformer struct{}

// Transform implements Transformer.
func (WebMercatorTransformer) Transform(from, to SRS, x, y float64) (float64, float64, error) {
	switch {
	case from.Equivalent(to):
		return x, y, nil
	case from.Equivalent(EPSG4326) && to.Equivalent(EPSG3857):
		if y < -maxMercatorLat || maxMercatorLat < y {
			return 0, 0, fmt.Errorf("latitude %f out of range", y)
		}
		mx := x * originShift / 180
		my := math.Log(math.Tan((90+y)*math.Pi/360)) / (math.Pi / 180)
		return mx, my * originShift / 180, nil
	case from.Equivalent(EPSG3857) && to.Equivalent(EPSG4326):
		lon := x / originShift * 180
		lat := y / originShift * 180
		lat = 180 / math.Pi * (2*math.Atan(math.Exp(lat*math.Pi/180)) - math.Pi/2)
		return lon, lat, nil
	default:
		return 0, 0, fmt.Errorf("%s to %s: %w", from, to, ErrUnsupportedTransform)
	}
}

// A GeoPoint is a coordinate tagged with its SRS. Failed transforms yield an
// invalid GeoPoint rather than an error.
type GeoPoint struct {
	X     float64
	Y     float64
	Z     float64
	srs   SRS
	valid bool
}

// NewGeoPoint returns a new GeoPoint. It is valid if srs is not empty and
// x and y are finite.
func NewGeoPoint(srs SRS, x, y, z float64) GeoPoint {
	return GeoPoint{
		X:     x,
		Y:     y,
		Z:     z,
		srs:   srs,
		valid: srs != "" && isFinite(x) && isFinite(y),
	}
}

// SRS returns p's SRS.
func (p GeoPoint) SRS() SRS {
	return p.srs
}

// IsValid returns true if p is valid.
func (p GeoPoint) IsValid() bool {
	return p.valid
}

// Transform returns p converted to srs using t.
func (p GeoPoint) Transform(t Transformer, srs SRS) GeoPoint {
	if !p.valid {
		return GeoPoint{srs: srs}
	}
	if p.srs.Equivalent(srs) {
		return p
	}
	x, y, err := t.Transform(p.srs, srs, p.X, p.Y)
	if err != nil {
		return GeoPoint{srs: srs}
	}
	return NewGeoPoint(srs, x, y, p.Z)
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
