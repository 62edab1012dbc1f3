package main

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"time"

	nested "github.com/antonfisher/nested-logrus-formatter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shiena/ansicolor"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	pb "gopkg.in/cheggaaa/pb.v1"

	"github.com/twpayne/go-terrain"
)

var (
	cfgFile    string
	resolution float64
	srs        string
	ignoreZ    bool
)

var rootCmd = &cobra.Command{
	Use:   "terrain-query",
	Short: "Query terrain elevations",
	Long: `Query terrain elevations from a stack of elevation layers, using the
finest data available at each point.

Examples:
  terrain-query point 10.5 47.5
  terrain-query point 10.5 47.5 --resolution 0.001
  terrain-query batch points.csv --ignore-z`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		initConfig(cfgFile)
		level, err := log.ParseLevel(viper.GetString("log.level"))
		if err != nil {
			return err
		}
		log.SetLevel(level)
		serveMetrics(viper.GetString("metrics.addr"))
		return nil
	},
}

var pointCmd = &cobra.Command{
	Use:   "point LON LAT",
	Short: "Get the elevation at a point",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		x, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return err
		}
		y, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return err
		}

		query, err := newQuery()
		if err != nil {
			return err
		}

		height, actualResolution, err := query.Elevation(cmd.Context(), terrain.NewGeoPoint(terrain.SRS(srs), x, y, 0), resolution)
		if err != nil {
			return err
		}
		fmt.Printf("Location: %.6f, %.6f\n", x, y)
		fmt.Printf("Elevation: %.2f\n", height)
		fmt.Printf("Resolution: %g\n", actualResolution)
		return nil
	},
}

var batchCmd = &cobra.Command{
	Use:   "batch FILE",
	Short: "Set the elevations of points read from a CSV file",
	Long: `Read X,Y[,Z] records from FILE, or standard input if FILE is -, and
write X,Y,Z records with Z set to the elevation. Points whose elevation
cannot be determined are written unchanged.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var r io.Reader = os.Stdin
		if args[0] != "-" {
			file, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer file.Close()
			r = file
		}
		points, err := readPoints(r)
		if err != nil {
			return err
		}

		query, err := newQuery()
		if err != nil {
			return err
		}

		start := time.Now()
		failed := 0
		bar := pb.New(len(points)).Prefix("Points : ")
		bar.Output = os.Stderr
		bar.Start()
		const chunkSize = 1024
		for i := 0; i < len(points); i += chunkSize {
			chunk := points[i:min(i+chunkSize, len(points))]
			failed += query.SetElevations(cmd.Context(), chunk, terrain.SRS(srs), ignoreZ, resolution)
			bar.Add(len(chunk))
		}
		bar.FinishPrint(fmt.Sprintf("%d points, %d failed ~", len(points), failed))

		stats := query.Stats()
		log.WithFields(log.Fields{
			"queries":     stats.Queries,
			"averageTime": stats.AverageTime,
			"hitRatio":    stats.Cache.HitRatio,
			"elapsed":     time.Since(start),
		}).Info("batch finished")

		return writePoints(os.Stdout, points)
	},
}

func init() {
	log.SetFormatter(&nested.Formatter{
		HideKeys:        false,
		ShowFullLevel:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})
	log.SetOutput(ansicolor.NewAnsiColorWriter(os.Stderr))

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "terrain.toml", "config file")
	rootCmd.PersistentFlags().Float64VarP(&resolution, "resolution", "r", 0, "desired resolution in profile units, 0 for finest")
	rootCmd.PersistentFlags().StringVar(&srs, "srs", string(terrain.EPSG4326), "SRS of input points")
	batchCmd.Flags().BoolVar(&ignoreZ, "ignore-z", false, "replace rather than add to input Z")
	rootCmd.AddCommand(pointCmd, batchCmd)
}

func newQuery() (*terrain.Query, error) {
	logger := log.StandardLogger()
	layerStack, err := newLayerStack(logger)
	if err != nil {
		return nil, err
	}
	if len(layerStack.Layers()) == 0 {
		log.Warn("no layers configured, all elevations will be zero")
	}
	return terrain.NewQuery(layerStack,
		terrain.WithMaxTilesToCache(viper.GetInt("cache.tiles")),
		terrain.WithLogger(logger),
	)
}

func serveMetrics(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("metrics server failed")
		}
	}()
	log.WithField("addr", addr).Info("serving metrics")
}

func readPoints(r io.Reader) ([]terrain.Vec3, error) {
	csvReader := csv.NewReader(bufio.NewReader(r))
	csvReader.FieldsPerRecord = -1
	csvReader.Comment = '#'
	var points []terrain.Vec3
	for {
		record, err := csvReader.Read()
		switch {
		case errors.Is(err, io.EOF):
			return points, nil
		case err != nil:
			return nil, err
		}
		if len(record) < 2 || len(record) > 3 {
			line, _ := csvReader.FieldPos(0)
			return nil, fmt.Errorf("line %d: expected 2 or 3 fields, got %d", line, len(record))
		}
		var values [3]float64
		for i, field := range record {
			if values[i], err = strconv.ParseFloat(field, 64); err != nil {
				line, _ := csvReader.FieldPos(i)
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
		}
		points = append(points, terrain.Vec3{X: values[0], Y: values[1], Z: values[2]})
	}
}

func writePoints(w io.Writer, points []terrain.Vec3) error {
	csvWriter := csv.NewWriter(w)
	for _, point := range points {
		if err := csvWriter.Write([]string{
			strconv.FormatFloat(point.X, 'f', -1, 64),
			strconv.FormatFloat(point.Y, 'f', -1, 64),
			strconv.FormatFloat(point.Z, 'f', 2, 64),
		}); err != nil {
			return err
		}
	}
	csvWriter.Flush()
	return csvWriter.Error()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
