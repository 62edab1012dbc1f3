package terrain

import "errors"

var errParse = errors.New("parse error")

// A GeoKey is a GeoTIFF GeoKey identifier.
type GeoKey uint16

const (
	GeoKeyGTModelType  GeoKey = 1024
	GeoKeyGTRasterType GeoKey = 1025
	GeoKeyGTCitation   GeoKey = 1026

	GeoKeyGeodeticCRS            GeoKey = 2048
	GeoKeyGeogCitation           GeoKey = 2049
	GeoKeyGeodeticDatum          GeoKey = 2050
	GeoKeyPrimeMeridian          GeoKey = 2051
	GeoKeyAngularUnits           GeoKey = 2054
	GeoKeyGeogAngularUnitSize    GeoKey = 2055
	GeoKeyEllipsoid              GeoKey = 2056
	GeoKeyEllipsoidSemiMajorAxis GeoKey = 2057
	GeoKeyEllipsoidInvFlattening GeoKey = 2059
	GeoKeyPrimeMeridianLongitude GeoKey = 2061

	GeoKeyProjectedCRS                         GeoKey = 3072
	GeoKeyPCSCitation                          GeoKey = 3073
	GeoKeyProjection                           GeoKey = 3074
	GeoKeyProjMethod                           GeoKey = 3075
	GeoKeyProjLinearUnits                      GeoKey = 3076
	GeoKeyFalseEastingProjLinearParameters     GeoKey = 3082
	GeoKeyFalseNorthingProjLinearParameters    GeoKey = 3083
	GeoKeyCenterLongitudeProjAngularParameters GeoKey = 3088
	GeoKeyCenterLatitudeProjAngularParameters  GeoKey = 3089

	GeoKeyVertical GeoKey = 4096
)

// Model types.
const (
	ModelTypeProjected  = 1
	ModelTypeGeographic = 2
)

// userDefined is the GeoKey value for a user-defined CRS.
const userDefined = 32767

// ParsedGeoKeys are the GeoKeys of a GeoTIFF file, grouped by where their
// values are stored.
type ParsedGeoKeys struct {
	Params       map[GeoKey]int
	DoubleParams map[GeoKey]float64
	ASCIIParams  map[GeoKey]string
}

// ParseGeoKeys parses a GeoKeyDirectoryTag and its associated double and
// ASCII parameters.
func ParseGeoKeys(directory []uint16, doubleParams []float64, asciiParams []byte) (*ParsedGeoKeys, error) {
	if len(directory) < 4 {
		return nil, errParse
	}

	if keyDirectoryVersion := int(directory[0]); keyDirectoryVersion != 1 {
		return nil, errParse
	}
	if keyRevision := int(directory[1]); keyRevision != 1 {
		return nil, errParse
	}
	if minorRevision := int(directory[2]); minorRevision != 0 && minorRevision != 1 {
		return nil, errParse
	}
	numberOfKeys := int(directory[3])
	if len(directory) != 4+4*numberOfKeys {
		return nil, errParse
	}

	parsedGeoKeys := &ParsedGeoKeys{
		Params:       make(map[GeoKey]int),
		DoubleParams: make(map[GeoKey]float64),
		ASCIIParams:  make(map[GeoKey]string),
	}
	for i := range numberOfKeys {
		keyValues := directory[4+4*i : 4+4*(i+1)]
		key := GeoKey(keyValues[0])
		tiffTagLocation := int(keyValues[1])
		numberOfValues := int(keyValues[2])
		index := int(keyValues[3])
		switch tiffTagLocation {
		case 0:
			if numberOfValues != 1 {
				return nil, errParse
			}
			parsedGeoKeys.Params[key] = index
		case 34736: // GeoDoubleParamsTag
			if numberOfValues != 1 {
				return nil, errors.ErrUnsupported
			}
			if index >= len(doubleParams) {
				return nil, errParse
			}
			parsedGeoKeys.DoubleParams[key] = doubleParams[index]
		case 34737: // GeoASCIIParamsTag
			if index+numberOfValues > len(asciiParams) {
				return nil, errParse
			}
			parsedGeoKeys.ASCIIParams[key] = string(asciiParams[index : index+numberOfValues])
		default:
			return nil, errors.ErrUnsupported
		}
	}
	return parsedGeoKeys, nil
}

// SRS returns the EPSG SRS declared by k. It returns false if k declares a
// user-defined CRS or no CRS at all.
func (k *ParsedGeoKeys) SRS() (SRS, bool) {
	var code int
	switch k.Params[GeoKeyGTModelType] {
	case ModelTypeProjected:
		code = k.Params[GeoKeyProjectedCRS]
	case ModelTypeGeographic:
		code = k.Params[GeoKeyGeodeticCRS]
	default:
		return "", false
	}
	if code <= 0 || code >= userDefined {
		return "", false
	}
	return EPSG(code), true
}
