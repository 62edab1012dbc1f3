package terrain

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

var (
	missingFileCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "terrain_missing_geotiff_cache_hits_total",
		Help: "The total number of hits on the missing GeoTIFF file cache",
	})
	missingFileCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "terrain_missing_geotiff_cache_misses_total",
		Help: "The total number of misses on the missing GeoTIFF file cache",
	})
	openFileCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "terrain_open_geotiff_cache_hits_total",
		Help: "The total number of hits on the open GeoTIFF file cache",
	})
	openFileCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "terrain_open_geotiff_cache_misses_total",
		Help: "The total number of misses on the open GeoTIFF file cache",
	})
	openFileCacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "terrain_open_geotiff_cache_evictions_total",
		Help: "The total number of evictions from the open GeoTIFF file cache",
	})
)

// A FileCoordFunc returns the coordinate of the file containing a coordinate.
type FileCoordFunc func(Coord) (TileCoord, bool)

// A FilenameFunc returns the filename of the file at a file coordinate.
type FilenameFunc func(TileCoord) string

// A GeoTIFFSet is a Raster made of a grid of GeoTIFF files, opened lazily.
type GeoTIFFSet struct {
	fsys               fs.FS
	srs                SRS
	fileCoordFunc      FileCoordFunc
	filenameFunc       FilenameFunc
	missingFiles       sync.Map
	geoTIFFFileOptions []GeoTIFFFileOption
	cacheSize          int
	scaleX             int
	scaleY             int
	logger             logrus.FieldLogger
	openGroup          singleflight.Group
	geoTIFFFileCache   *lru.Cache[TileCoord, *GeoTIFFFile]
}

// A GeoTIFFSetOption sets an option on a GeoTIFFSet.
type GeoTIFFSetOption func(*GeoTIFFSet)

// NewGeoTIFFSet returns a new GeoTIFFSet with the given options.
func NewGeoTIFFSet(options ...GeoTIFFSetOption) (*GeoTIFFSet, error) {
	s := &GeoTIFFSet{
		cacheSize: 32,
		logger:    logrus.StandardLogger(),
	}
	for _, option := range options {
		option(s)
	}
	if s.fileCoordFunc == nil || s.filenameFunc == nil {
		return nil, errors.New("missing file coordinate or filename function")
	}

	var err error
	s.geoTIFFFileCache, err = lru.NewWithEvict(s.cacheSize, func(key TileCoord, value *GeoTIFFFile) {
		if err := value.Close(); err != nil {
			s.logger.WithField("file", key).WithError(err).Warn("close failed")
		}
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// WithCacheSize sets the maximum number of open files.
func WithCacheSize(cacheSize int) GeoTIFFSetOption {
	return func(s *GeoTIFFSet) {
		s.cacheSize = cacheSize
	}
}

// WithFS sets the filesystem containing the files.
func WithFS(fsys fs.FS) GeoTIFFSetOption {
	return func(s *GeoTIFFSet) {
		s.fsys = fsys
	}
}

// WithGeoTIFFFileOptions sets the options used to open each file.
func WithGeoTIFFFileOptions(geoTIFFFileOptions ...GeoTIFFFileOption) GeoTIFFSetOption {
	return func(s *GeoTIFFSet) {
		s.geoTIFFFileOptions = geoTIFFFileOptions
	}
}

func WithFileCoordFunc(fileCoordFunc FileCoordFunc) GeoTIFFSetOption {
	return func(s *GeoTIFFSet) {
		s.fileCoordFunc = fileCoordFunc
	}
}

func WithFilenameFunc(filenameFunc FilenameFunc) GeoTIFFSetOption {
	return func(s *GeoTIFFSet) {
		s.filenameFunc = filenameFunc
	}
}

// WithGeoTIFFSetLogger sets the logger.
func WithGeoTIFFSetLogger(logger logrus.FieldLogger) GeoTIFFSetOption {
	return func(s *GeoTIFFSet) {
		s.logger = logger
	}
}

// WithSRS sets the SRS of the files' coordinates.
func WithSRS(srs SRS) GeoTIFFSetOption {
	return func(s *GeoTIFFSet) {
		s.srs = srs
	}
}

func WithScale(scaleX, scaleY int) GeoTIFFSetOption {
	return func(s *GeoTIFFSet) {
		s.scaleX = scaleX
		s.scaleY = scaleY
	}
}

// Samples returns the samples at coords. Missing samples are represented by
// NaNs.
func (s *GeoTIFFSet) Samples(ctx context.Context, coords []Coord) ([]float64, error) {
	samples := make([]float64, len(coords))

	// Group indexes by file.
	type group struct {
		coords  []Coord
		indexes []int
	}
	groupsByFileCoord := make(map[TileCoord]*group)
	for index, coord := range coords {
		fileCoord, ok := s.fileCoordFunc(coord)
		if !ok {
			samples[index] = math.NaN()
			continue
		}
		g, ok := groupsByFileCoord[fileCoord]
		if !ok {
			g = &group{}
			groupsByFileCoord[fileCoord] = g
		}
		g.coords = append(g.coords, coord)
		g.indexes = append(g.indexes, index)
	}

	// Populate samples one file at a time.
	for fileCoord, g := range groupsByFileCoord {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		file, err := s.getFileCached(fileCoord)
		if err != nil {
			return nil, err
		}
		if file == nil {
			for _, index := range g.indexes {
				samples[index] = math.NaN()
			}
			continue
		}
		fileSamples, err := file.Samples(ctx, g.coords)
		if err != nil {
			return nil, err
		}
		for i, index := range g.indexes {
			samples[index] = fileSamples[i]
		}
	}

	return samples, nil
}

// SRS returns s's SRS.
func (s *GeoTIFFSet) SRS() SRS {
	return s.srs
}

// Scale returns s's scale.
func (s *GeoTIFFSet) Scale() (int, int) {
	return s.scaleX, s.scaleY
}

// openFile opens the file at fileCoord. It returns nil if the file does not
// exist.
func (s *GeoTIFFSet) openFile(fileCoord TileCoord) (*GeoTIFFFile, error) {
	filename := s.filenameFunc(fileCoord)
	switch geoTIFFFile, err := OpenGeoTIFFFile(s.fsys, filename, s.geoTIFFFileOptions...); {
	case errors.Is(err, fs.ErrNotExist):
		s.missingFiles.Store(fileCoord, struct{}{})
		missingFileCacheMisses.Inc()
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("%s: %w", filename, err)
	case s.srs != "" && geoTIFFFile.SRS() != "" && !geoTIFFFile.SRS().Equivalent(s.srs):
		_ = geoTIFFFile.Close()
		return nil, fmt.Errorf("%s: %s: %w", filename, geoTIFFFile.SRS(), ErrUnsupportedTransform)
	default:
		s.logger.WithField("filename", filename).Debug("opened")
		return geoTIFFFile, nil
	}
}

// getFileCached returns the file at fileCoord, using the cache if possible.
// Concurrent misses for the same file open it once.
func (s *GeoTIFFSet) getFileCached(fileCoord TileCoord) (*GeoTIFFFile, error) {
	if _, ok := s.missingFiles.Load(fileCoord); ok {
		missingFileCacheHits.Inc()
		return nil, nil
	}

	if file, ok := s.geoTIFFFileCache.Get(fileCoord); ok {
		openFileCacheHits.Inc()
		return file, nil
	}

	value, err, _ := s.openGroup.Do(fmt.Sprintf("%d,%d", fileCoord.C, fileCoord.R), func() (any, error) {
		if file, ok := s.geoTIFFFileCache.Get(fileCoord); ok {
			openFileCacheHits.Inc()
			return file, nil
		}

		openFileCacheMisses.Inc()

		file, err := s.openFile(fileCoord)
		if err != nil || file == nil {
			return file, err
		}

		if eviction := s.geoTIFFFileCache.Add(fileCoord, file); eviction {
			openFileCacheEvictions.Inc()
		}
		return file, nil
	})
	if err != nil {
		return nil, err
	}
	return value.(*GeoTIFFFile), nil
}
