package terrain

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrNoData is returned when a layer or provider has no data for a tile.
var ErrNoData = errors.New("no data")

var tracer = otel.Tracer("github.com/twpayne/go-terrain")

// An ElevationLayer is a source of height grids. Layers are read-only.
type ElevationLayer interface {
	// Name returns the layer's name, which is unique within a LayerStack.
	Name() string

	// SRS returns the SRS of the layer's data extents.
	SRS() SRS

	// TileSize returns the number of samples along each side of the
	// layer's height grids.
	TileSize() int

	// MaxDataLevel returns the finest level at which the layer has data
	// anywhere.
	MaxDataLevel() uint

	// DataExtents returns the regions where the layer has data. A layer
	// with no data extents covers everywhere up to MaxDataLevel.
	DataExtents() []DataExtent

	// HeightGrid returns the height grid for key, or ErrNoData.
	HeightGrid(ctx context.Context, key TileKey) (*HeightGrid, error)
}

// An ElevationProvider provides height grids for tile keys from a stack of
// elevation layers.
type ElevationProvider interface {
	Profile() Profile
	Layers() []ElevationLayer
	Revision() uint64
	HeightGrid(ctx context.Context, key TileKey, fallback bool) (*HeightGrid, error)
}

// A LayerStack is an ordered stack of elevation layers, bottom first. It is
// safe for concurrent use.
type LayerStack struct {
	mutex    sync.RWMutex
	profile  Profile
	layers   []ElevationLayer
	revision uint64
	logger   logrus.FieldLogger
}

// A LayerStackOption sets an option on a LayerStack.
type LayerStackOption func(*LayerStack)

// WithLayers adds layers, bottom first.
func WithLayers(layers ...ElevationLayer) LayerStackOption {
	return func(s *LayerStack) {
		s.layers = append(s.layers, layers...)
	}
}

// WithLayerStackLogger sets the logger.
func WithLayerStackLogger(logger logrus.FieldLogger) LayerStackOption {
	return func(s *LayerStack) {
		s.logger = logger
	}
}

// NewLayerStack returns a new LayerStack tiled by profile.
func NewLayerStack(profile Profile, options ...LayerStackOption) *LayerStack {
	s := &LayerStack{
		profile: profile,
		logger:  logrus.StandardLogger(),
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// Profile returns s's profile.
func (s *LayerStack) Profile() Profile {
	return s.profile
}

// Layers returns a snapshot of s's layers, bottom first.
func (s *LayerStack) Layers() []ElevationLayer {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return slices.Clone(s.layers)
}

// Revision returns a counter that changes whenever s's layers change.
func (s *LayerStack) Revision() uint64 {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.revision
}

// AddLayer adds layer to the top of s.
func (s *LayerStack) AddLayer(layer ElevationLayer) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.index(layer.Name()) != -1 {
		return fmt.Errorf("%s: duplicate layer", layer.Name())
	}
	s.layers = append(s.layers, layer)
	s.revision++
	return nil
}

// RemoveLayer removes the layer called name. It returns false if there is no
// such layer.
func (s *LayerStack) RemoveLayer(name string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	index := s.index(name)
	if index == -1 {
		return false
	}
	s.layers = slices.Delete(s.layers, index, index+1)
	s.revision++
	return true
}

// MoveLayer moves the layer called name to position index, where 0 is the
// bottom. It returns false if there is no such layer.
func (s *LayerStack) MoveLayer(name string, index int) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	from := s.index(name)
	if from == -1 {
		return false
	}
	layer := s.layers[from]
	s.layers = slices.Delete(s.layers, from, from+1)
	index = min(max(index, 0), len(s.layers))
	s.layers = slices.Insert(s.layers, index, layer)
	s.revision++
	return true
}

// HeightGrid returns the composite height grid for key. If no layer can
// produce key and fallback is true, successively coarser ancestors of key
// are tried. The returned grid's Key is the key actually produced.
func (s *LayerStack) HeightGrid(ctx context.Context, key TileKey, fallback bool) (*HeightGrid, error) {
	ctx, span := tracer.Start(ctx, "LayerStack.HeightGrid", trace.WithAttributes(
		attribute.String("key", key.String()),
		attribute.Bool("fallback", fallback),
	))
	defer span.End()

	layers := s.Layers()
	for {
		grid, err := s.composite(ctx, layers, key)
		switch {
		case err == nil:
			span.SetAttributes(attribute.String("actual_key", grid.Key.String()))
			return grid, nil
		case !errors.Is(err, ErrNoData):
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		case !fallback:
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		parentKey, ok := s.profile.ParentKey(key)
		if !ok {
			span.SetStatus(codes.Error, ErrNoData.Error())
			return nil, fmt.Errorf("%s: %w", key, ErrNoData)
		}
		key = parentKey
	}
}

// composite returns the height grid for key from the topmost layer that can
// produce it, with missing samples filled from the layers below.
func (s *LayerStack) composite(ctx context.Context, layers []ElevationLayer, key TileKey) (*HeightGrid, error) {
	var result *HeightGrid
	for _, layer := range slices.Backward(layers) {
		layerKey := key
		if layer.MaxDataLevel() < key.Level() {
			if result == nil {
				continue
			}
			var ok bool
			if layerKey, ok = s.ancestorKey(key, layer.MaxDataLevel()); !ok {
				continue
			}
		}

		grid, err := layer.HeightGrid(ctx, layerKey)
		switch {
		case errors.Is(err, ErrNoData):
			continue
		case err != nil && ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil:
			s.logger.WithFields(logrus.Fields{
				"layer": layer.Name(),
				"key":   layerKey.String(),
			}).WithError(err).Warn("height grid failed")
			continue
		}

		if result == nil {
			result = grid.clone()
			result.Key = key
			if !result.HasNoData() {
				break
			}
			continue
		}
		if result.fillNoData(grid) == 0 {
			break
		}
	}
	if result == nil {
		return nil, ErrNoData
	}
	return result, nil
}

func (s *LayerStack) ancestorKey(key TileKey, level uint) (TileKey, bool) {
	for key.Level() > level {
		var ok bool
		if key, ok = s.profile.ParentKey(key); !ok {
			return TileKey{}, false
		}
	}
	return key, true
}

func (s *LayerStack) index(name string) int {
	return slices.IndexFunc(s.layers, func(layer ElevationLayer) bool {
		return layer.Name() == name
	})
}
