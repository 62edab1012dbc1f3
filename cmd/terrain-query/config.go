package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/twpayne/go-terrain"
)

type layerConfig struct {
	Name     string `mapstructure:"name"`
	Type     string `mapstructure:"type"`
	Path     string `mapstructure:"path"`
	MaxLevel uint   `mapstructure:"maxlevel"`
	TileSize int    `mapstructure:"tilesize"`
	Extents  string `mapstructure:"extents"`
}

// initConfig reads cfgFile, if it exists, and the environment.
func initConfig(cfgFile string) {
	viper.SetDefault("profile", "geodetic")
	viper.SetDefault("cache.tiles", terrain.DefaultMaxTilesToCache)
	viper.SetDefault("log.level", "info")
	viper.SetDefault("metrics.addr", "")
	viper.SetEnvPrefix("terrain")
	viper.AutomaticEnv()

	if cfgFile == "" {
		return
	}
	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		log.Warnf("config file(%s) not exist", cfgFile)
		return
	}
	viper.SetConfigType("toml")
	viper.SetConfigFile(cfgFile)
	if err := viper.ReadInConfig(); err != nil {
		log.Warnf("read config file(%s) error, details: %s", viper.ConfigFileUsed(), err)
	}
}

func newProfile(name string) (*terrain.GridProfile, error) {
	switch name {
	case "geodetic":
		return terrain.NewGeodeticProfile(), nil
	case "mercator":
		return terrain.NewMercatorProfile(), nil
	default:
		return nil, fmt.Errorf("%s: unknown profile", name)
	}
}

// newLayerStack builds the layer stack described by the configuration.
func newLayerStack(logger log.FieldLogger) (*terrain.LayerStack, error) {
	profile, err := newProfile(viper.GetString("profile"))
	if err != nil {
		return nil, err
	}

	var layerConfigs []layerConfig
	if err := viper.UnmarshalKey("layers", &layerConfigs); err != nil {
		return nil, fmt.Errorf("layers: %w", err)
	}

	layerStack := terrain.NewLayerStack(profile, terrain.WithLayerStackLogger(logger))
	for i, lc := range layerConfigs {
		if lc.Name == "" {
			lc.Name = fmt.Sprintf("%s-%d", lc.Type, i)
		}
		layer, err := newLayer(lc)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", lc.Name, err)
		}
		if err := layerStack.AddLayer(layer); err != nil {
			return nil, err
		}
		log.WithFields(log.Fields{
			"name":         layer.Name(),
			"srs":          layer.SRS(),
			"maxDataLevel": layer.MaxDataLevel(),
			"tileSize":     layer.TileSize(),
		}).Info("added layer")
	}
	return layerStack, nil
}

func newLayer(lc layerConfig) (terrain.ElevationLayer, error) {
	var dataExtents []terrain.DataExtent
	if lc.Extents != "" {
		data, err := os.ReadFile(lc.Extents)
		if err != nil {
			return nil, err
		}
		if dataExtents, err = terrain.LoadDataExtents(data); err != nil {
			return nil, fmt.Errorf("%s: %w", lc.Extents, err)
		}
	}

	switch lc.Type {
	case "eudem":
		var options []terrain.RasterLayerOption
		if lc.MaxLevel != 0 {
			options = append(options, terrain.WithMaxDataLevel(lc.MaxLevel))
		}
		if lc.TileSize != 0 {
			options = append(options, terrain.WithTileSize(lc.TileSize))
		}
		if dataExtents != nil {
			options = append(options, terrain.WithDataExtents(dataExtents...))
		}
		return terrain.NewEUDEMLayer(lc.Name, os.DirFS(lc.Path), options...)
	case "terrarium":
		var options []terrain.TerrariumLayerOption
		if lc.MaxLevel != 0 {
			options = append(options, terrain.WithTerrariumMaxDataLevel(lc.MaxLevel))
		}
		if lc.TileSize != 0 {
			options = append(options, terrain.WithTerrariumTileSize(lc.TileSize))
		}
		if dataExtents != nil {
			options = append(options, terrain.WithTerrariumDataExtents(dataExtents...))
		}
		return terrain.NewTerrariumLayer(lc.Name, os.DirFS(lc.Path), options...), nil
	default:
		return nil, fmt.Errorf("%s: unknown layer type", lc.Type)
	}
}
