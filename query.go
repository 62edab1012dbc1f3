package terrain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Per-point query errors.
var (
	ErrTransformFailed = errors.New("transform failed")
	ErrOutOfBounds     = errors.New("out of bounds")
	ErrNoHeightGrid    = errors.New("no height grid")
)

var (
	queryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "terrain_query_duration_seconds",
		Help:    "The duration of successful elevation queries",
		Buckets: prometheus.ExponentialBuckets(1e-6, 4, 12),
	})
	queryFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "terrain_query_failures_total",
		Help: "The total number of failed elevation queries",
	}, []string{"reason"})
)

// QueryStats are aggregate statistics of a Query.
type QueryStats struct {
	Queries     uint64
	TotalTime   time.Duration
	AverageTime time.Duration
	Cache       CacheStats
}

// A Query answers point elevation queries against an ElevationProvider,
// using the finest data available at each point. It is safe for concurrent
// use, but calls are serialized.
type Query struct {
	mutex            sync.Mutex
	provider         ElevationProvider
	transformer      Transformer
	logger           logrus.FieldLogger
	maxTilesToCache  int
	maxLevelOverride int
	tileCache        *TileCache

	// Session state, refreshed by sync.
	synced       bool
	revision     uint64
	tileSize     int
	maxDataLevel uint
	resolver     *coverageResolver

	queries   uint64
	totalTime time.Duration
}

// A QueryOption sets an option on a Query.
type QueryOption func(*Query)

// WithMaxTilesToCache sets the capacity of the query's tile cache.
func WithMaxTilesToCache(maxTilesToCache int) QueryOption {
	return func(q *Query) {
		q.maxTilesToCache = maxTilesToCache
	}
}

// WithTransformer sets the transformer used to convert query points.
func WithTransformer(transformer Transformer) QueryOption {
	return func(q *Query) {
		q.transformer = transformer
	}
}

// WithLogger sets the logger.
func WithLogger(logger logrus.FieldLogger) QueryOption {
	return func(q *Query) {
		q.logger = logger
	}
}

// WithMaxLevelOverride sets the max level override.
func WithMaxLevelOverride(maxLevelOverride int) QueryOption {
	return func(q *Query) {
		q.maxLevelOverride = maxLevelOverride
	}
}

// NewQuery returns a new Query against provider.
func NewQuery(provider ElevationProvider, options ...QueryOption) (*Query, error) {
	q := &Query{
		provider:         provider,
		logger:           logrus.StandardLogger(),
		maxTilesToCache:  DefaultMaxTilesToCache,
		maxLevelOverride: -1,
	}
	for _, option := range options {
		option(q)
	}
	if q.transformer == nil {
		q.transformer = NewProjTransformer()
	}
	var err error
	if q.tileCache, err = NewTileCache(q.maxTilesToCache); err != nil {
		return nil, err
	}
	return q, nil
}

// Elevation returns the height at point and the resolution, in the
// provider's profile units, of the height grid it was sampled from. If
// desiredResolution is positive then data finer than it is not used. If the
// provider has no data at all then Elevation returns zero height and zero
// resolution.
func (q *Query) Elevation(ctx context.Context, point GeoPoint, desiredResolution float64) (float64, float64, error) {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	q.sync()
	return q.elevation(ctx, point, desiredResolution)
}

// SetElevations sets the Z of each of points, which are in srs, to the
// height at that point. If ignoreZ is false then the height is added to the
// existing Z. Points whose height cannot be determined are left unchanged.
// SetElevations returns the number of such points.
func (q *Query) SetElevations(ctx context.Context, points []Vec3, srs SRS, ignoreZ bool, desiredResolution float64) int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	q.sync()
	failed := 0
	for i := range points {
		point := &points[i]
		height, _, err := q.elevation(ctx, NewGeoPoint(srs, point.X, point.Y, point.Z), desiredResolution)
		if err != nil {
			failed++
			continue
		}
		if ignoreZ {
			point.Z = height
		} else {
			point.Z += height
		}
	}
	return failed
}

// Elevations returns the height at each of points, which are in srs. The
// height of points that cannot be determined is zero.
func (q *Query) Elevations(ctx context.Context, points []Vec3, srs SRS, desiredResolution float64) []float64 {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	q.sync()
	heights := make([]float64, 0, len(points))
	for _, point := range points {
		height, _, err := q.elevation(ctx, NewGeoPoint(srs, point.X, point.Y, point.Z), desiredResolution)
		if err != nil {
			height = 0
		}
		heights = append(heights, height)
	}
	return heights
}

// SetMaxTilesToCache sets the capacity of q's tile cache, evicting tiles if
// necessary.
func (q *Query) SetMaxTilesToCache(maxTilesToCache int) {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	q.tileCache.SetMaxSize(maxTilesToCache)
	q.maxTilesToCache = q.tileCache.MaxSize()
}

// MaxTilesToCache returns the capacity of q's tile cache.
func (q *Query) MaxTilesToCache() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return q.maxTilesToCache
}

// SetMaxLevelOverride sets q's max level override. It is stored but does not
// affect level selection.
func (q *Query) SetMaxLevelOverride(maxLevelOverride int) {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	q.maxLevelOverride = maxLevelOverride
}

// MaxLevelOverride returns q's max level override, or -1 if it is not set.
func (q *Query) MaxLevelOverride() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return q.maxLevelOverride
}

// Stats returns q's statistics.
func (q *Query) Stats() QueryStats {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	stats := QueryStats{
		Queries:   q.queries,
		TotalTime: q.totalTime,
		Cache:     q.tileCache.Stats(),
	}
	if q.queries > 0 {
		stats.AverageTime = q.totalTime / time.Duration(q.queries)
	}
	return stats
}

// sync refreshes q's session state if the provider's layers have changed or
// it has not been computed.
func (q *Query) sync() {
	revision := q.provider.Revision()
	if q.synced && revision == q.revision && q.tileSize != 0 && q.maxDataLevel != 0 {
		return
	}
	layers := q.provider.Layers()
	q.tileSize = 0
	q.maxDataLevel = 0
	for _, layer := range layers {
		q.tileSize = max(q.tileSize, layer.TileSize())
		q.maxDataLevel = max(q.maxDataLevel, layer.MaxDataLevel())
	}
	q.resolver = newCoverageResolver(layers, q.transformer, q.logger)
	q.revision = revision
	q.synced = true
	q.logger.WithFields(logrus.Fields{
		"revision":     revision,
		"layers":       len(layers),
		"tileSize":     q.tileSize,
		"maxDataLevel": q.maxDataLevel,
	}).Debug("synced")
}

// elevation runs the query pipeline for a single point.
func (q *Query) elevation(ctx context.Context, point GeoPoint, desiredResolution float64) (float64, float64, error) {
	start := time.Now()

	if q.maxDataLevel == 0 || q.tileSize == 0 {
		return 0, 0, nil
	}

	ctx, span := tracer.Start(ctx, "Query.Elevation", trace.WithAttributes(
		attribute.Float64("x", point.X),
		attribute.Float64("y", point.Y),
		attribute.String("srs", string(point.SRS())),
	))
	defer span.End()

	profile := q.provider.Profile()

	level := q.resolver.BestLevel(point.X, point.Y, point.SRS())
	if desiredResolution > 0 {
		level = min(level, profile.LevelOfDetailForResolution(desiredResolution, q.tileSize))
	}
	span.SetAttributes(attribute.Int("level", int(level)))

	mapPoint := point.Transform(q.transformer, profile.SRS())
	if !mapPoint.IsValid() {
		return q.fail(point, "transform", ErrTransformFailed)
	}

	key, ok := profile.TileKey(mapPoint.X, mapPoint.Y, level)
	if !ok {
		return q.fail(point, "out_of_bounds", ErrOutOfBounds)
	}

	grid, ok := q.tileCache.Get(key)
	if !ok {
		var err error
		grid, err = q.provider.HeightGrid(ctx, key, true)
		if err != nil {
			return q.fail(point, "no_height_grid", fmt.Errorf("%w: %w", ErrNoHeightGrid, err))
		}
		q.tileCache.Insert(key, grid)
	}

	height := grid.HeightAt(mapPoint.X, mapPoint.Y)
	resolution := grid.XInterval()

	elapsed := time.Since(start)
	q.queries++
	q.totalTime += elapsed
	queryDuration.Observe(elapsed.Seconds())

	q.logger.WithFields(logrus.Fields{
		"key":       key.String(),
		"actualKey": grid.Key.String(),
		"hitRatio":  q.tileCache.Stats().HitRatio,
	}).Debug("elevation")

	return height, resolution, nil
}

// fail records a per-point failure.
func (q *Query) fail(point GeoPoint, reason string, err error) (float64, float64, error) {
	queryFailures.WithLabelValues(reason).Inc()
	q.logger.WithFields(logrus.Fields{
		"x":   point.X,
		"y":   point.Y,
		"srs": point.SRS(),
	}).WithError(err).Warn("elevation query failed")
	return 0, 0, err
}
