package archive

import (
	"compress/gzip"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CodecType selects the journal compression algorithm.
type CodecType string

const (
	CodecNone CodecType = "none"
	CodecGzip CodecType = "gzip"
	CodecLZ4  CodecType = "lz4"
	CodecZstd CodecType = "zstd"
)

// Codec compresses and decompresses the journal stream.
type Codec interface {
	Type() CodecType
	Extension() string
	NewWriter(w io.Writer, level int) (io.WriteCloser, error)
	NewReader(r io.Reader) (io.ReadCloser, error)
	DefaultLevel() int
}

// CodecRegistry maps codec types to implementations.
type CodecRegistry struct {
	codecs map[CodecType]Codec
}

// NewCodecRegistry creates a registry with all supported codecs.
func NewCodecRegistry() *CodecRegistry {
	cr := &CodecRegistry{codecs: make(map[CodecType]Codec)}
	cr.codecs[CodecNone] = &noneCodec{}
	cr.codecs[CodecGzip] = &gzipCodec{}
	cr.codecs[CodecLZ4] = &lz4Codec{}
	cr.codecs[CodecZstd] = &zstdCodec{}
	return cr
}

// Get returns the codec for the given type.
func (cr *CodecRegistry) Get(t CodecType) (Codec, error) {
	if t == "" {
		t = CodecNone
	}
	codec, ok := cr.codecs[t]
	if !ok {
		return nil, fmt.Errorf("unsupported journal codec: %s", t)
	}
	return codec, nil
}

// Supported returns the registered codec types.
func (cr *CodecRegistry) Supported() []CodecType {
	types := make([]CodecType, 0, len(cr.codecs))
	for t := range cr.codecs {
		types = append(types, t)
	}
	return types
}

type noneCodec struct{}

func (*noneCodec) Type() CodecType   { return CodecNone }
func (*noneCodec) Extension() string { return "" }
func (*noneCodec) DefaultLevel() int { return 0 }

func (*noneCodec) NewWriter(w io.Writer, level int) (io.WriteCloser, error) {
	return nopWriteCloser{w}, nil
}

func (*noneCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(r), nil
}

type gzipCodec struct{}

func (*gzipCodec) Type() CodecType   { return CodecGzip }
func (*gzipCodec) Extension() string { return ".gz" }
func (*gzipCodec) DefaultLevel() int { return gzip.DefaultCompression }

func (*gzipCodec) NewWriter(w io.Writer, level int) (io.WriteCloser, error) {
	if level < gzip.BestSpeed || level > gzip.BestCompression {
		level = gzip.DefaultCompression
	}
	zw, err := gzip.NewWriterLevel(w, level)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip writer: %w", err)
	}
	return zw, nil
}

func (*gzipCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	return zr, nil
}

type lz4Codec struct{}

func (*lz4Codec) Type() CodecType   { return CodecLZ4 }
func (*lz4Codec) Extension() string { return ".lz4" }
func (*lz4Codec) DefaultLevel() int { return 1 }

func (*lz4Codec) NewWriter(w io.Writer, level int) (io.WriteCloser, error) {
	zw := lz4.NewWriter(w)
	if level > 6 {
		if err := zw.Apply(lz4.CompressionLevelOption(lz4.Level9)); err != nil {
			return nil, fmt.Errorf("failed to set LZ4 compression level: %w", err)
		}
	}
	return zw, nil
}

func (*lz4Codec) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(lz4.NewReader(r)), nil
}

type zstdCodec struct{}

func (*zstdCodec) Type() CodecType   { return CodecZstd }
func (*zstdCodec) Extension() string { return ".zst" }
func (*zstdCodec) DefaultLevel() int { return 3 }

func (*zstdCodec) NewWriter(w io.Writer, level int) (io.WriteCloser, error) {
	encoderLevel := zstd.SpeedDefault
	switch {
	case level <= 1:
		encoderLevel = zstd.SpeedFastest
	case level <= 3:
		encoderLevel = zstd.SpeedDefault
	case level <= 6:
		encoderLevel = zstd.SpeedBetterCompression
	default:
		encoderLevel = zstd.SpeedBestCompression
	}

	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(encoderLevel))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd writer: %w", err)
	}
	return zw, nil
}

func (*zstdCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd reader: %w", err)
	}
	return zr.IOReadCloser(), nil
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
