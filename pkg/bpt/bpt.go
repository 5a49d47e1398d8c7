// Package bpt reads B+ tree index files: fixed-width keys mapped to
// fixed-width values, stored as a tree of fixed-size blocks.
//
// An Index only keeps the file header and its storage source. Every lookup
// reads the blocks it needs with positioned reads, so one Index can serve
// concurrent lookups.
package bpt

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync/atomic"

	"github.com/KevoDB/bpt/pkg/bpt/block"
	"github.com/KevoDB/bpt/pkg/bpt/header"
	"github.com/KevoDB/bpt/pkg/common/log"
	"github.com/KevoDB/bpt/pkg/stats"
	"github.com/KevoDB/bpt/pkg/storage"
	"github.com/KevoDB/bpt/pkg/telemetry"
)

const (
	// RootOffset is where the root block starts, right after the file header
	RootOffset = header.Size
	// MaxDepth bounds tree descent so a corrupt file cannot loop forever
	MaxDepth = 64
)

// Index is an open B+ tree index file
type Index struct {
	name       string
	src        storage.Source
	hdr        header.Header
	layout     block.Layout
	rootOffset uint64

	logger log.Logger
	tel    telemetry.Telemetry
	stats  stats.Collector

	closed atomic.Bool
}

type options struct {
	mode   storage.Mode
	logger log.Logger
	tel    telemetry.Telemetry
	stats  stats.Collector
}

// Option configures an Index
type Option func(*options)

// WithMode selects how Open reads the file. The default is storage.ModeAuto.
func WithMode(mode storage.Mode) Option {
	return func(o *options) {
		o.mode = mode
	}
}

// WithLogger sets the logger used for open, close and corruption messages
func WithLogger(logger log.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithTelemetry records lookup metrics and spans on tel
func WithTelemetry(tel telemetry.Telemetry) Option {
	return func(o *options) {
		o.tel = tel
	}
}

// WithStats shares a statistics collector between indexes
func WithStats(collector stats.Collector) Option {
	return func(o *options) {
		o.stats = collector
	}
}

func buildOptions(opts []Option) options {
	o := options{mode: storage.ModeAuto}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.GetDefaultLogger()
	}
	if o.tel == nil {
		o.tel = telemetry.NewNoop()
	}
	if o.stats == nil {
		o.stats = stats.NewAtomicCollector()
	}
	return o
}

// Open opens the index file at path and reads its header
func Open(path string, opts ...Option) (*Index, error) {
	o := buildOptions(opts)

	src, err := storage.Open(path, o.mode)
	if err != nil {
		return nil, err
	}

	idx, err := newIndex(src, path, o)
	if err != nil {
		src.Close()
		return nil, err
	}
	return idx, nil
}

// NewIndex reads the header from src. The returned Index owns src and
// closes it on Close; on error src is left open.
func NewIndex(src storage.Source, name string, opts ...Option) (*Index, error) {
	return newIndex(src, name, buildOptions(opts))
}

func newIndex(src storage.Source, name string, o options) (*Index, error) {
	idx := &Index{
		name:       name,
		src:        src,
		rootOffset: RootOffset,
		logger:     o.logger.WithField("index", name),
		tel:        o.tel,
		stats:      o.stats,
	}

	buf := make([]byte, header.Size)
	if err := idx.readFull(buf, 0); err != nil {
		return nil, err
	}

	hdr, err := header.Decode(buf)
	if err != nil {
		idx.stats.TrackError(stats.ErrorFormat)
		return nil, &FormatError{Name: name, Offset: -1, Err: err}
	}

	idx.hdr = *hdr
	idx.layout = block.Layout{
		Order:     hdr.Order,
		BlockSize: int(hdr.BlockSize),
		KeySize:   int(hdr.KeySize),
		ValSize:   int(hdr.ValSize),
	}

	// Anything holding an item needs room for at least one leaf entry
	if hdr.ItemCount > 0 {
		need := uint64(header.Size) + block.HeaderSize + uint64(hdr.KeySize) + uint64(hdr.ValSize)
		if size := src.Size(); size < 0 || need > uint64(size) {
			idx.stats.TrackError(stats.ErrorFormat)
			return nil, &FormatError{Name: name, Offset: -1,
				Err: fmt.Errorf("key size %d and value size %d do not fit in %d bytes", hdr.KeySize, hdr.ValSize, size)}
		}
	}

	idx.stats.TrackOperation(stats.OpOpen)
	idx.logger.Debug("Opened index: %s", hdr)
	return idx, nil
}

// Close releases the storage source. Closing twice is a no-op.
func (idx *Index) Close() error {
	if !idx.closed.CompareAndSwap(false, true) {
		return nil
	}
	idx.logger.Debug("Closing index")
	return idx.src.Close()
}

// Name returns the path or name the index was opened with
func (idx *Index) Name() string {
	return idx.name
}

// Header returns a copy of the decoded file header
func (idx *Index) Header() header.Header {
	return idx.hdr
}

// BlockSize returns the number of children per block
func (idx *Index) BlockSize() int {
	return int(idx.hdr.BlockSize)
}

// KeySize returns the fixed key width in bytes
func (idx *Index) KeySize() int {
	return int(idx.hdr.KeySize)
}

// ValSize returns the fixed value width in bytes
func (idx *Index) ValSize() int {
	return int(idx.hdr.ValSize)
}

// ItemCount returns the number of items recorded in the header
func (idx *Index) ItemCount() uint64 {
	return idx.hdr.ItemCount
}

// ByteOrder returns the byte order of integers in the file
func (idx *Index) ByteOrder() binary.ByteOrder {
	return idx.hdr.Order
}

// Stats returns the lookup statistics recorded for this index
func (idx *Index) Stats() map[string]interface{} {
	return idx.stats.GetStats()
}

// Checksum returns the xxhash64 digest of the index contents
func (idx *Index) Checksum() (uint64, error) {
	if idx.closed.Load() {
		return 0, ErrClosed
	}
	sum, err := storage.Checksum(idx.src)
	if errors.Is(err, storage.ErrClosed) {
		return 0, ErrClosed
	}
	return sum, err
}

// Uint64 decodes an 8-byte value using the file's byte order
func (idx *Index) Uint64(val []byte) (uint64, error) {
	if len(val) != 8 {
		return 0, &SizeMismatchError{Name: idx.name, Want: 8, Have: len(val)}
	}
	return idx.hdr.Order.Uint64(val), nil
}

// readFull fills buf from offset. Running off the end of the file is a format error.
func (idx *Index) readFull(buf []byte, offset uint64) error {
	if offset > math.MaxInt64 {
		return idx.formatError(-1, fmt.Errorf("offset %d out of range", offset))
	}

	n, err := idx.src.ReadAt(buf, int64(offset))
	if n == len(buf) {
		return nil
	}

	switch {
	case errors.Is(err, storage.ErrClosed):
		return ErrClosed
	case err == nil, errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return idx.formatError(int64(offset), fmt.Errorf("truncated read: got %d of %d bytes", n, len(buf)))
	default:
		idx.stats.TrackError(stats.ErrorIO)
		return fmt.Errorf("failed to read %s at offset %d: %w", idx.name, offset, err)
	}
}

func (idx *Index) formatError(offset int64, err error) error {
	idx.stats.TrackError(stats.ErrorFormat)
	idx.logger.Warn("Corrupt index at offset %d: %v", offset, err)
	return &FormatError{Name: idx.name, Offset: offset, Err: err}
}

// checkValSize returns a SizeMismatchError when valSize differs from the file's
func (idx *Index) checkValSize(valSize int) error {
	if valSize != int(idx.hdr.ValSize) {
		idx.stats.TrackError(stats.ErrorSizeMismatch)
		return &SizeMismatchError{Name: idx.name, Want: valSize, Have: int(idx.hdr.ValSize)}
	}
	return nil
}
