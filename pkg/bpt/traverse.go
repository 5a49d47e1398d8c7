package bpt

import (
	"bytes"
	"context"
	"fmt"
	"math/bits"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/KevoDB/bpt/pkg/bpt/block"
	"github.com/KevoDB/bpt/pkg/stats"
	"github.com/KevoDB/bpt/pkg/telemetry"
)

// WalkFunc is called for each leaf item. Keys keep their zero padding.
// Returning a non-nil error stops the walk.
type WalkFunc func(key, val []byte) error

// Traverse calls fn for every leaf item in file order, which is key order
// for files written by a sorting builder.
func (idx *Index) Traverse(fn WalkFunc) error {
	return idx.TraverseContext(context.Background(), fn)
}

// TraverseContext is Traverse with cancellation checked between block reads
func (idx *Index) TraverseContext(ctx context.Context, fn WalkFunc) error {
	if idx.closed.Load() {
		return ErrClosed
	}

	start := time.Now()
	ctx, span := idx.tel.StartSpan(ctx, telemetry.SpanTraverse,
		attribute.String(telemetry.AttrIndexName, idx.name))
	defer span.End()

	err := idx.traverse(ctx, idx.rootOffset, 0, fn)
	idx.stats.TrackOperationWithLatency(stats.OpTraverse, uint64(time.Since(start).Nanoseconds()))
	return err
}

func (idx *Index) traverse(ctx context.Context, offset uint64, depth int, fn WalkFunc) error {
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
		for i := 0; i < b.Len(); i++ {
			if err := fn(b.Key(i), b.Value(i)); err != nil {
				return err
			}
		}
		return nil
	}

	for i := 0; i < b.Len(); i++ {
		child := b.Child(i)
		if err := idx.checkChild(offset, child); err != nil {
			return err
		}
		if err := idx.traverse(ctx, child, depth+1, fn); err != nil {
			return err
		}
	}
	return nil
}

// dataStart follows first children down to the first leaf block
func (idx *Index) dataStart(ctx context.Context) (uint64, error) {
	offset := idx.rootOffset
	for depth := 0; depth < MaxDepth; depth++ {
		b, err := idx.fetchBlock(ctx, offset)
		if err != nil {
			return 0, err
		}
		if b.IsLeaf() {
			return offset, nil
		}

		child := b.Child(0)
		if err := idx.checkChild(offset, child); err != nil {
			return 0, err
		}
		offset = child
	}
	return 0, idx.formatError(int64(offset), fmt.Errorf("tree deeper than %d levels", MaxDepth))
}

// KeyAtPos returns the key of the item at position pos, counting from zero.
//
// The position is mapped to a file offset using the fixed leaf geometry:
// leaves are stored contiguously, each padded to the full block size.
func (idx *Index) KeyAtPos(pos uint64) ([]byte, error) {
	if idx.closed.Load() {
		return nil, ErrClosed
	}
	if pos >= idx.hdr.ItemCount {
		return nil, fmt.Errorf("%w: %d of %d items in %s", ErrOutOfRange, pos, idx.hdr.ItemCount, idx.name)
	}

	start := time.Now()
	ctx := context.Background()

	first, err := idx.dataStart(ctx)
	if err != nil {
		return nil, err
	}

	blockSize := uint64(idx.hdr.BlockSize)
	blockPos := pos / blockSize
	insidePos := pos % blockSize
	itemSize := uint64(idx.layout.EntrySize(true))
	leafBytes := uint64(idx.layout.LeafBytes())

	// Corrupt geometry can push the offset past the file or wrap it
	hi, blockOffset := bits.Mul64(blockPos, leafBytes)
	offset, carry := bits.Add64(first, blockOffset, 0)
	offset, carry2 := bits.Add64(offset, block.HeaderSize+insidePos*itemSize, 0)
	end, carry3 := bits.Add64(offset, uint64(idx.hdr.KeySize), 0)
	if hi != 0 || carry|carry2|carry3 != 0 || end > uint64(idx.src.Size()) {
		return nil, idx.formatError(int64(first),
			fmt.Errorf("item %d lies outside the file's %d bytes", pos, idx.src.Size()))
	}

	key := make([]byte, idx.hdr.KeySize)
	if err := idx.readFull(key, offset); err != nil {
		return nil, err
	}

	idx.stats.TrackOperationWithLatency(stats.OpKeyAtPos, uint64(time.Since(start).Nanoseconds()))
	return key, nil
}

// StringKeyAtPos is KeyAtPos with the key's zero padding removed
func (idx *Index) StringKeyAtPos(pos uint64) (string, error) {
	key, err := idx.KeyAtPos(pos)
	if err != nil {
		return "", err
	}
	return string(bytes.TrimRight(key, "\x00")), nil
}
