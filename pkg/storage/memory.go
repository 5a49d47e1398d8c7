package storage

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
)

// MemorySource serves reads from a byte slice
type MemorySource struct {
	reader *bytes.Reader
	closed atomic.Bool
}

// NewMemorySource wraps data. The slice must not be modified afterwards.
func NewMemorySource(data []byte) *MemorySource {
	return &MemorySource{reader: bytes.NewReader(data)}
}

// ReadAt reads data at the given offset
func (s *MemorySource) ReadAt(data []byte, offset int64) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	return s.reader.ReadAt(data, offset)
}

// Size returns the number of bytes held
func (s *MemorySource) Size() int64 {
	return s.reader.Size()
}

// Close marks the source closed
func (s *MemorySource) Close() error {
	s.closed.Store(true)
	return nil
}

// LoadFile reads path into memory, transparently decompressing zstd and gzip files
func LoadFile(path string) (*MemorySource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	data, err := Decompress(file)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	return NewMemorySource(data), nil
}

// Decompress reads r to the end, decoding it when it starts with a zstd or gzip frame
func Decompress(r io.Reader) ([]byte, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	switch detectCodec(raw) {
	case codecZstd:
		decoder, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create ZSTD decoder: %w", err)
		}
		defer decoder.Close()

		data, err := decoder.DecodeAll(raw, nil)
		if err != nil {
			return nil, fmt.Errorf("invalid zstd data: %w", err)
		}
		return data, nil

	case codecGzip:
		gz, err := pgzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid gzip data: %w", err)
		}
		defer gz.Close()

		data, err := io.ReadAll(gz)
		if err != nil {
			return nil, fmt.Errorf("invalid gzip data: %w", err)
		}
		return data, nil

	default:
		return raw, nil
	}
}
