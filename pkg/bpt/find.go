package bpt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/KevoDB/bpt/pkg/bpt/block"
	"github.com/KevoDB/bpt/pkg/stats"
	"github.com/KevoDB/bpt/pkg/telemetry"
)

// Find looks up key and returns a copy of its value.
//
// valSize must equal the file's value size. Keys shorter than the file's key
// size are zero-padded; longer keys can never match and are reported as not
// found without touching storage. When several items share a key, Find
// returns the first match in the leaf it descends to; FindMultiple returns all.
func (idx *Index) Find(key []byte, valSize int) ([]byte, bool, error) {
	return idx.FindContext(context.Background(), key, valSize)
}

// FindContext is Find with cancellation checked between block reads
func (idx *Index) FindContext(ctx context.Context, key []byte, valSize int) ([]byte, bool, error) {
	if idx.closed.Load() {
		return nil, false, ErrClosed
	}

	start := time.Now()
	ctx, span := idx.tel.StartSpan(ctx, telemetry.SpanFind,
		attribute.String(telemetry.AttrIndexName, idx.name))
	defer span.End()

	val, found, err := idx.find(ctx, key, valSize)
	idx.finish(ctx, stats.OpFind, telemetry.OpTypeFind, start, err)
	if err == nil {
		idx.stats.TrackLookup(found)
		span.SetAttributes(attribute.Bool(telemetry.AttrFound, found))
	}
	return val, found, err
}

func (idx *Index) find(ctx context.Context, key []byte, valSize int) ([]byte, bool, error) {
	padded, ok, err := idx.searchKey(key, valSize)
	if err != nil || !ok {
		return nil, false, err
	}

	offset := idx.rootOffset
	for depth := 0; ; depth++ {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		if depth >= MaxDepth {
			return nil, false, idx.formatError(int64(offset), fmt.Errorf("tree deeper than %d levels", MaxDepth))
		}

		b, err := idx.fetchBlock(ctx, offset)
		if err != nil {
			return nil, false, err
		}

		if b.IsLeaf() {
			val, ok := b.Lookup(padded)
			if !ok {
				return nil, false, nil
			}
			return bytes.Clone(val), true, nil
		}

		child := b.Route(padded)
		if err := idx.checkChild(offset, child); err != nil {
			return nil, false, err
		}
		offset = child
	}
}

// FindMultiple returns the values of every item whose key equals key, in
// file order. Equal keys may span several leaves, so every child whose range
// can hold the key is searched.
func (idx *Index) FindMultiple(key []byte, valSize int) ([][]byte, error) {
	return idx.FindMultipleContext(context.Background(), key, valSize)
}

// FindMultipleContext is FindMultiple with cancellation checked between block reads
func (idx *Index) FindMultipleContext(ctx context.Context, key []byte, valSize int) ([][]byte, error) {
	if idx.closed.Load() {
		return nil, ErrClosed
	}

	start := time.Now()
	ctx, span := idx.tel.StartSpan(ctx, telemetry.SpanFindMultiple,
		attribute.String(telemetry.AttrIndexName, idx.name))
	defer span.End()

	vals, err := idx.findMultiple(ctx, key, valSize)
	idx.finish(ctx, stats.OpFindMultiple, telemetry.OpTypeFindMultiple, start, err)
	if err != nil {
		return nil, err
	}
	idx.stats.TrackLookup(len(vals) > 0)
	return vals, nil
}

func (idx *Index) findMultiple(ctx context.Context, key []byte, valSize int) ([][]byte, error) {
	padded, ok, err := idx.searchKey(key, valSize)
	if err != nil || !ok {
		return nil, err
	}

	var vals [][]byte
	if err := idx.findMulti(ctx, idx.rootOffset, 0, padded, &vals); err != nil {
		return nil, err
	}
	return vals, nil
}

func (idx *Index) findMulti(ctx context.Context, offset uint64, depth int, key []byte, vals *[][]byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if depth >= MaxDepth {
		return idx.formatError(int64(offset), fmt.Errorf("tree deeper than %d levels", MaxDepth))
	}

	b, err := idx.fetchBlock(ctx, offset)
	if err != nil {
		return err
	}

	if b.IsLeaf() {
		for _, v := range b.LookupAll(key) {
			*vals = append(*vals, bytes.Clone(v))
		}
		return nil
	}

	for _, child := range b.RouteAll(key) {
		if err := idx.checkChild(offset, child); err != nil {
			return err
		}
		if err := idx.findMulti(ctx, child, depth+1, key, vals); err != nil {
			return err
		}
	}
	return nil
}

// searchKey validates the value size and pads key to the file's key size.
// ok is false when the key is too long to be in the file or the file is empty.
func (idx *Index) searchKey(key []byte, valSize int) ([]byte, bool, error) {
	if err := idx.checkValSize(valSize); err != nil {
		return nil, false, err
	}

	keySize := int(idx.hdr.KeySize)
	if len(key) > keySize || idx.hdr.ItemCount == 0 {
		return nil, false, nil
	}

	padded := make([]byte, keySize)
	copy(padded, key)
	return padded, true, nil
}

// fetchBlock reads and decodes the block at offset
func (idx *Index) fetchBlock(ctx context.Context, offset uint64) (*block.Block, error) {
	hbuf := make([]byte, block.HeaderSize)
	if err := idx.readFull(hbuf, offset); err != nil {
		return nil, err
	}

	h, err := block.DecodeHeader(hbuf, idx.layout.Order)
	if err != nil {
		return nil, idx.formatError(int64(offset), err)
	}
	if err := idx.layout.Check(h); err != nil {
		return nil, idx.formatError(int64(offset), err)
	}

	// Bound the body by the source before allocating it
	bodySize := uint64(h.ChildCount) * uint64(idx.layout.EntrySize(h.IsLeaf))
	if end := offset + block.HeaderSize + bodySize; end > uint64(idx.src.Size()) {
		return nil, idx.formatError(int64(offset),
			fmt.Errorf("block of %d bytes runs past end of file at %d", block.HeaderSize+bodySize, idx.src.Size()))
	}

	body := make([]byte, bodySize)
	if err := idx.readFull(body, offset+block.HeaderSize); err != nil {
		return nil, err
	}

	b, err := block.New(idx.layout, h, body)
	if err != nil {
		return nil, idx.formatError(int64(offset), err)
	}

	n := uint64(len(hbuf) + len(body))
	idx.stats.TrackBlockRead()
	idx.stats.TrackBytes(n)
	idx.tel.RecordCounter(ctx, telemetry.MetricBlockReads, 1)
	telemetry.RecordBytes(ctx, idx.tel, telemetry.MetricBytesRead, int64(n))

	return b, nil
}

// checkChild rejects child pointers that do not move forward in the file.
// Writers place every level before the level below it.
func (idx *Index) checkChild(parent, child uint64) error {
	if child <= parent {
		return idx.formatError(int64(parent), fmt.Errorf("child offset %d does not follow parent", child))
	}
	return nil
}

// finish records latency, errors and the lookup duration histogram
func (idx *Index) finish(ctx context.Context, op stats.OperationType, opType string, start time.Time, err error) {
	idx.stats.TrackOperationWithLatency(op, uint64(time.Since(start).Nanoseconds()))

	status := telemetry.StatusSuccess
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		status = telemetry.StatusError
	}
	telemetry.RecordDuration(ctx, idx.tel, telemetry.MetricFindDuration, start,
		attribute.String(telemetry.AttrOperationType, opType),
		attribute.String(telemetry.AttrStatus, status))
}
