// Package codec provides the compression formats a protected module may use
// for its embedded constants table.
package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz/lzma"
)

// ErrUnknownCodec is returned by Lookup for unregistered names.
var ErrUnknownCodec = errors.New("unknown codec")

// Default is the codec used when none is configured.
const Default = "lzma"

// Codec compresses and decompresses whole buffers.
type Codec interface {
	Name() string
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

var registry = map[string]Codec{
	"lzma":    LZMA{},
	"deflate": Deflate{},
	"zstd":    Zstd{},
	"lz4":     LZ4{},
}

// Lookup returns the codec registered under name. An empty name selects
// Default.
func Lookup(name string) (Codec, error) {
	if name == "" {
		name = Default
	}
	c, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
	return c, nil
}

// Names returns the registered codec names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ---------------------------------------------------------------------------
// LZMA
// ---------------------------------------------------------------------------

// LZMA reads and writes the classic LZMA-alone layout: five property bytes
// followed by the 64-bit little-endian uncompressed size.
type LZMA struct{}

const lzmaHeaderLen = 13

func (LZMA) Name() string { return "lzma" }

func (LZMA) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	cfg := lzma.WriterConfig{SizeInHeader: true, Size: int64(len(data))}
	w, err := cfg.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (LZMA) Decompress(data []byte) ([]byte, error) {
	// A header recording zero bytes is followed by no decodable stream.
	if len(data) >= lzmaHeaderLen && binary.LittleEndian.Uint64(data[5:lzmaHeaderLen]) == 0 {
		return []byte{}, nil
	}
	r, err := lzma.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("lzma header: %w", err)
	}
	return io.ReadAll(r)
}

// ---------------------------------------------------------------------------
// Deflate
// ---------------------------------------------------------------------------

// Deflate is raw DEFLATE without a zlib or gzip wrapper.
type Deflate struct{}

func (Deflate) Name() string { return "deflate" }

func (Deflate) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (Deflate) Decompress(data []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	return io.ReadAll(r)
}

// ---------------------------------------------------------------------------
// Zstandard
// ---------------------------------------------------------------------------

// Zstd is a single Zstandard frame.
type Zstd struct{}

func (Zstd) Name() string { return "zstd" }

func (Zstd) Compress(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil), nil
}

func (Zstd) Decompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(data, nil)
}

// ---------------------------------------------------------------------------
// LZ4
// ---------------------------------------------------------------------------

// LZ4 is the LZ4 frame format.
type LZ4 struct{}

func (LZ4) Name() string { return "lz4" }

func (LZ4) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (LZ4) Decompress(data []byte) ([]byte, error) {
	return io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
}
