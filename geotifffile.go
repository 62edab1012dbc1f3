package terrain

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/google/tiff"
	_ "github.com/google/tiff/bigtiff"
	_ "github.com/google/tiff/geotiff"
	"github.com/maypok86/otter/v2"
	"golang.org/x/image/tiff/lzw"
)

// TIFF compression schemes.
const (
	compressionNone = 1
	compressionLZW  = 5
)

const defaultBlockCacheSizeBytes = 128 << 20

var errShortRead = errors.New("short read")

// A geoTIFFReader is an open file that the TIFF parser can read.
type geoTIFFReader interface {
	fs.File
	io.ReaderAt
	io.Seeker
}

// A blockLayout describes how an image is divided into blocks.
type blockLayout struct {
	width        int
	length       int
	blockWidth   int
	blockLength  int
	blocksAcross int
	blocksDown   int
}

func newBlockLayout(width, length, blockWidth, blockLength int) blockLayout {
	return blockLayout{
		width:        width,
		length:       length,
		blockWidth:   blockWidth,
		blockLength:  blockLength,
		blocksAcross: (width + blockWidth - 1) / blockWidth,
		blocksDown:   (length + blockLength - 1) / blockLength,
	}
}

func (l blockLayout) blocks() int {
	return l.blocksAcross * l.blocksDown
}

func (l blockLayout) samplesPerBlock() int {
	return l.blockWidth * l.blockLength
}

func (l blockLayout) blockIndex(blockCoord TileCoord) int {
	return blockCoord.C + blockCoord.R*l.blocksAcross
}

// locate returns the block containing pixel and the index of pixel within
// that block. It returns false if pixel is outside the image.
func (l blockLayout) locate(pixel Coord) (TileCoord, int, bool) {
	if pixel.X < 0 || pixel.X >= l.width || pixel.Y < 0 || pixel.Y >= l.length {
		return TileCoord{}, 0, false
	}
	blockCoord := TileCoord{
		C: pixel.X / l.blockWidth,
		R: pixel.Y / l.blockLength,
	}
	return blockCoord, pixel.X%l.blockWidth + (pixel.Y%l.blockLength)*l.blockWidth, true
}

// A GeoTIFFFile is an open, tiled, single-band float32 GeoTIFF file. Its
// internal tiles are called blocks to distinguish them from profile tiles.
type GeoTIFFFile struct {
	file                geoTIFFReader
	srs                 SRS
	byteOrder           binary.ByteOrder
	compression         uint16
	noData              float32
	layout              blockLayout
	originX             int
	originY             int
	scaleX              int
	scaleY              int
	blockOffsets        []uint64
	blockByteCounts     []uint64
	emptyBlockByteCount uint64
	emptyBlock          atomic.Pointer[[]byte]
	blockCacheSizeBytes int
	blockCache          *otter.Cache[TileCoord, []float32]
}

// A GeoTIFFFileOption sets an option on a GeoTIFFFile.
type GeoTIFFFileOption func(*GeoTIFFFile)

// A geoTIFFIFD is a struct into which github.com/google/tiff can unmarshal an
// IFD.
type geoTIFFIFD struct {
	ImageWidth                uint32    `tiff:"field,tag=256"`
	ImageLength               uint32    `tiff:"field,tag=257"`
	BitsPerSample             uint16    `tiff:"field,tag=258"`
	Compression               uint16    `tiff:"field,tag=259"`
	PhotometricInterpretation uint16    `tiff:"field,tag=262"`
	SamplesPerPixel           uint16    `tiff:"field,tag=277"`
	PlanarConfiguration       uint16    `tiff:"field,tag=284"`
	Predictor                 uint16    `tiff:"field,tag=317"`
	TileWidth                 uint32    `tiff:"field,tag=322"`
	TileLength                uint32    `tiff:"field,tag=323"`
	TileOffsets               []uint64  `tiff:"field,tag=324"`
	TileByteCounts            []uint64  `tiff:"field,tag=325"`
	SampleFormat              uint16    `tiff:"field,tag=339"`
	ModelPixelScaleTag        []float64 `tiff:"field,tag=33550"`
	ModelTiepointTag          []float64 `tiff:"field,tag=33922"`
	GeoKeyDirectoryTag        []uint16  `tiff:"field,tag=34735"`
	GeoDoubleParamsTag        []float64 `tiff:"field,tag=34736"`
	GeoASCIIParamsTag         string    `tiff:"field,tag=34737"`
	GDALNoData                string    `tiff:"field,tag=42113"`
}

// validate returns an error wrapping [errors.ErrUnsupported] if ifd is not a
// single float32 band, uncompressed or LZW-compressed without a predictor,
// tiled, and north-up with integer pixel sizes and origin.
func (ifd *geoTIFFIFD) validate() error {
	for _, field := range []struct {
		name    string
		value   uint16
		allowed []uint16
	}{
		{name: "BitsPerSample", value: ifd.BitsPerSample, allowed: []uint16{32}},
		{name: "Compression", value: ifd.Compression, allowed: []uint16{compressionNone, compressionLZW}},
		{name: "PhotometricInterpretation", value: ifd.PhotometricInterpretation, allowed: []uint16{1}},
		{name: "SamplesPerPixel", value: ifd.SamplesPerPixel, allowed: []uint16{1}},
		{name: "PlanarConfiguration", value: ifd.PlanarConfiguration, allowed: []uint16{1}},
		{name: "Predictor", value: ifd.Predictor, allowed: []uint16{0, 1}},
		{name: "SampleFormat", value: ifd.SampleFormat, allowed: []uint16{3}},
	} {
		if !slices.Contains(field.allowed, field.value) {
			return fmt.Errorf("%s %d: %w", field.name, field.value, errors.ErrUnsupported)
		}
	}
	if ifd.ImageWidth == 0 || ifd.ImageLength == 0 || ifd.TileWidth == 0 || ifd.TileLength == 0 {
		return fmt.Errorf("not tiled: %w", errors.ErrUnsupported)
	}
	if len(ifd.ModelPixelScaleTag) != 3 || !isInteger(ifd.ModelPixelScaleTag[0]) || !isInteger(ifd.ModelPixelScaleTag[1]) ||
		ifd.ModelPixelScaleTag[0] <= 0 || ifd.ModelPixelScaleTag[1] <= 0 || ifd.ModelPixelScaleTag[2] != 0 {
		return fmt.Errorf("ModelPixelScaleTag %v: %w", ifd.ModelPixelScaleTag, errors.ErrUnsupported)
	}
	if len(ifd.ModelTiepointTag) != 6 || ifd.ModelTiepointTag[0] != 0 || ifd.ModelTiepointTag[1] != 0 || ifd.ModelTiepointTag[2] != 0 ||
		!isInteger(ifd.ModelTiepointTag[3]) || !isInteger(ifd.ModelTiepointTag[4]) || ifd.ModelTiepointTag[5] != 0 {
		return fmt.Errorf("ModelTiepointTag %v: %w", ifd.ModelTiepointTag, errors.ErrUnsupported)
	}
	return nil
}

// noData returns the sample value that marks missing data, or NaN if ifd
// does not declare one.
func (ifd *geoTIFFIFD) noData() (float32, error) {
	if ifd.GDALNoData == "" {
		return float32(math.NaN()), nil
	}
	noData, err := strconv.ParseFloat(strings.TrimSpace(ifd.GDALNoData), 32)
	if err != nil {
		return 0, fmt.Errorf("GDALNoData: %w", err)
	}
	return float32(noData), nil
}

// OpenGeoTIFFFile opens the GeoTIFF file called filename in fsys. The file
// opened by fsys must support random access.
func OpenGeoTIFFFile(fsys fs.FS, filename string, options ...GeoTIFFFileOption) (*GeoTIFFFile, error) {
	f := &GeoTIFFFile{
		blockCacheSizeBytes: defaultBlockCacheSizeBytes,
	}
	for _, option := range options {
		option(f)
	}

	file, err := fsys.Open(filename)
	if err != nil {
		return nil, err
	}
	reader, ok := file.(geoTIFFReader)
	if !ok {
		_ = file.Close()
		return nil, fmt.Errorf("%s: not seekable: %w", filename, errors.ErrUnsupported)
	}
	f.file = reader

	if err := f.init(); err != nil {
		_ = reader.Close()
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return f, nil
}

// init reads f's metadata.
func (f *GeoTIFFFile) init() error {
	tiffTIFF, err := tiff.Parse(f.file, tiff.GetTagSpace("GeoTIFF"), nil)
	if err != nil {
		return err
	}
	if n := len(tiffTIFF.IFDs()); n != 1 {
		return fmt.Errorf("found %d IFDs, expected 1", n)
	}
	f.byteOrder = tiffTIFF.R().ByteOrder()

	var ifd geoTIFFIFD
	if err := tiff.UnmarshalIFD(tiffTIFF.IFDs()[0], &ifd); err != nil {
		return err
	}
	if err := ifd.validate(); err != nil {
		return err
	}
	if f.noData, err = ifd.noData(); err != nil {
		return err
	}
	f.compression = ifd.Compression

	if len(ifd.GeoKeyDirectoryTag) > 0 {
		geoKeys, err := ParseGeoKeys(ifd.GeoKeyDirectoryTag, ifd.GeoDoubleParamsTag, []byte(ifd.GeoASCIIParamsTag))
		if err != nil {
			return err
		}
		if srs, ok := geoKeys.SRS(); ok {
			f.srs = srs
		}
	}

	f.layout = newBlockLayout(int(ifd.ImageWidth), int(ifd.ImageLength), int(ifd.TileWidth), int(ifd.TileLength))
	if len(ifd.TileOffsets) != f.layout.blocks() || len(ifd.TileByteCounts) != f.layout.blocks() {
		return fmt.Errorf("found %d tile offsets and %d tile byte counts, expected %d",
			len(ifd.TileOffsets), len(ifd.TileByteCounts), f.layout.blocks())
	}
	f.blockOffsets = ifd.TileOffsets
	f.blockByteCounts = ifd.TileByteCounts
	f.emptyBlockByteCount = slices.Min(ifd.TileByteCounts)

	f.scaleX = int(ifd.ModelPixelScaleTag[0])
	f.scaleY = int(ifd.ModelPixelScaleTag[1])
	f.originX = int(ifd.ModelTiepointTag[3])
	f.originY = int(ifd.ModelTiepointTag[4])

	f.blockCache, err = otter.New(&otter.Options[TileCoord, []float32]{
		MaximumSize: max(f.blockCacheSizeBytes/(4*f.layout.samplesPerBlock()), 1),
	})
	return err
}

// WithBlockCacheSize sets the size of the decoded block cache in bytes.
func WithBlockCacheSize(blockCacheSize int) GeoTIFFFileOption {
	return func(f *GeoTIFFFile) {
		f.blockCacheSizeBytes = blockCacheSize
	}
}

// Close closes f.
func (f *GeoTIFFFile) Close() error {
	return f.file.Close()
}

// SRS returns the SRS declared in f's GeoKeys, or the empty string if it
// does not declare an EPSG code.
func (f *GeoTIFFFile) SRS() SRS {
	return f.srs
}

// Sample returns a single sample from f.
func (f *GeoTIFFFile) Sample(ctx context.Context, coord Coord) (float64, error) {
	samples, err := f.Samples(ctx, []Coord{coord})
	if err != nil {
		return 0, err
	}
	return samples[0], nil
}

// Samples returns the samples at coords, decoding each block that they fall
// in at most once. Samples outside f or with no data are NaN.
func (f *GeoTIFFFile) Samples(ctx context.Context, coords []Coord) ([]float64, error) {
	samples := make([]float64, len(coords))

	type blockSample struct {
		index       int
		sampleIndex int
	}
	blockSamplesByBlockCoord := make(map[TileCoord][]blockSample)
	for index, coord := range coords {
		blockCoord, sampleIndex, ok := f.layout.locate(f.pixel(coord))
		if !ok {
			samples[index] = math.NaN()
			continue
		}
		blockSamplesByBlockCoord[blockCoord] = append(blockSamplesByBlockCoord[blockCoord], blockSample{
			index:       index,
			sampleIndex: sampleIndex,
		})
	}

	for blockCoord, blockSamples := range blockSamplesByBlockCoord {
		block, err := f.block(ctx, blockCoord)
		if err != nil {
			return nil, err
		}
		for _, bs := range blockSamples {
			samples[bs.index] = f.value(block, bs.sampleIndex)
		}
	}

	return samples, nil
}

// pixel returns the pixel containing coord.
func (f *GeoTIFFFile) pixel(coord Coord) Coord {
	return Coord{
		X: divFloor(coord.X-f.originX, f.scaleX),
		Y: divFloor(f.originY-coord.Y, f.scaleY),
	}
}

// value returns the sample at sampleIndex in block, or NaN if block is nil
// or the sample is no data.
func (f *GeoTIFFFile) value(block []float32, sampleIndex int) float64 {
	if block == nil || block[sampleIndex] == f.noData {
		return math.NaN()
	}
	return float64(block[sampleIndex])
}

// block returns the decoded samples of the block at blockCoord, or nil if it
// contains no data.
func (f *GeoTIFFFile) block(ctx context.Context, blockCoord TileCoord) ([]float32, error) {
	block, err := f.blockCache.Get(ctx, blockCoord, otter.LoaderFunc[TileCoord, []float32](f.loadBlock))
	if errors.Is(err, otter.ErrNotFound) {
		return nil, nil
	}
	return block, err
}

// loadBlock reads and decodes the block at blockCoord. It returns
// otter.ErrNotFound if the block contains no data so that empty blocks are
// not cached.
func (f *GeoTIFFFile) loadBlock(ctx context.Context, blockCoord TileCoord) ([]float32, error) {
	blockIndex := f.layout.blockIndex(blockCoord)
	data := make([]byte, f.blockByteCounts[blockIndex])
	switch n, err := f.file.ReadAt(data, int64(f.blockOffsets[blockIndex])); {
	case n == len(data):
	case err != nil && !errors.Is(err, io.EOF):
		return nil, err
	default:
		return nil, errShortRead
	}
	if emptyBlock := f.emptyBlock.Load(); emptyBlock != nil && bytes.Equal(data, *emptyBlock) {
		return nil, otter.ErrNotFound
	}

	block, err := f.decodeBlock(data)
	if err != nil {
		return nil, fmt.Errorf("block %d,%d: %w", blockCoord.C, blockCoord.R, err)
	}

	// Empty blocks usually share the smallest encoding, so remember the first
	// one found to recognize the rest without decoding them.
	if !slices.ContainsFunc(block, f.hasData) {
		if uint64(len(data)) == f.emptyBlockByteCount {
			f.emptyBlock.CompareAndSwap(nil, &data)
		}
		return nil, otter.ErrNotFound
	}
	return block, nil
}

func (f *GeoTIFFFile) hasData(sample float32) bool {
	return sample != f.noData && !math.IsNaN(float64(sample))
}

// decodeBlock decompresses data and converts it to samples.
func (f *GeoTIFFFile) decodeBlock(data []byte) ([]float32, error) {
	raw := make([]byte, 4*f.layout.samplesPerBlock())
	switch f.compression {
	case compressionLZW:
		r := lzw.NewReader(bytes.NewReader(data), lzw.MSB, 8)
		defer r.Close()
		if _, err := io.ReadFull(r, raw); err != nil {
			return nil, err
		}
	default:
		if len(data) < len(raw) {
			return nil, errShortRead
		}
		copy(raw, data)
	}
	block := make([]float32, f.layout.samplesPerBlock())
	for i := range block {
		block[i] = math.Float32frombits(f.byteOrder.Uint32(raw[4*i:]))
	}
	return block, nil
}

func isInteger(x float64) bool {
	return x == math.Trunc(x)
}

// divFloor returns a/b rounded towards negative infinity.
func divFloor(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
