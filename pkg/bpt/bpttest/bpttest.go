// Package bpttest writes B+ tree index files for tests.
//
// The layout matches the bulk writer the index format comes from: the header,
// then each index level from the root down, then the leaf level. Every block
// is padded to blockSize entries, so all blocks of one kind have the same size.
// Higher levels always precede the blocks they point to.
package bpttest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/KevoDB/bpt/pkg/bpt/block"
	"github.com/KevoDB/bpt/pkg/bpt/header"
)

// Item is one key/value pair to index
type Item struct {
	Key []byte
	Val []byte
}

// Options controls the geometry of a built file
type Options struct {
	Order     binary.ByteOrder
	BlockSize int
	KeySize   int
	ValSize   int
	// MinLevels forces extra single-child index levels above the leaves
	MinLevels int
	// KeepOrder writes items in the given order instead of sorting them
	KeepOrder bool
}

func (o Options) order() binary.ByteOrder {
	if o.Order == nil {
		return binary.LittleEndian
	}
	return o.Order
}

// Uint64 encodes v as an 8-byte value in the given byte order
func Uint64(order binary.ByteOrder, v uint64) []byte {
	buf := make([]byte, 8)
	order.PutUint64(buf, v)
	return buf
}

// StringItems pairs string keys with 8-byte values encoded in order
func StringItems(order binary.ByteOrder, keys []string, vals []uint64) []Item {
	items := make([]Item, len(keys))
	for i, k := range keys {
		items[i] = Item{Key: []byte(k), Val: Uint64(order, vals[i])}
	}
	return items
}

// Build serializes items into an index file image
func Build(items []Item, opts Options) ([]byte, error) {
	if opts.BlockSize <= 0 || opts.BlockSize > header.MaxBlockSize {
		return nil, fmt.Errorf("invalid block size %d", opts.BlockSize)
	}
	if opts.KeySize <= 0 {
		return nil, fmt.Errorf("invalid key size %d", opts.KeySize)
	}

	// Pad keys and check sizes
	padded := make([]Item, len(items))
	for i, it := range items {
		if len(it.Key) > opts.KeySize {
			return nil, fmt.Errorf("key %d is %d bytes, key size is %d", i, len(it.Key), opts.KeySize)
		}
		if len(it.Val) != opts.ValSize {
			return nil, fmt.Errorf("value %d is %d bytes, value size is %d", i, len(it.Val), opts.ValSize)
		}
		key := make([]byte, opts.KeySize)
		copy(key, it.Key)
		padded[i] = Item{Key: key, Val: it.Val}
	}
	if !opts.KeepOrder {
		sort.SliceStable(padded, func(i, j int) bool {
			return bytes.Compare(padded[i].Key, padded[j].Key) < 0
		})
	}

	order := opts.order()
	hdr := &header.Header{
		Order:     order,
		BlockSize: uint32(opts.BlockSize),
		KeySize:   uint32(opts.KeySize),
		ValSize:   uint32(opts.ValSize),
		ItemCount: uint64(len(padded)),
	}

	w := &writer{order: order, opts: opts, items: padded}
	w.buf.Write(hdr.Encode())

	levels := countLevels(opts.BlockSize, len(padded))
	if opts.MinLevels > levels {
		levels = opts.MinLevels
	}

	for level := levels - 1; level > 0; level-- {
		end := w.writeIndexLevel(level, uint64(w.buf.Len()))
		if end != uint64(w.buf.Len()) {
			return nil, fmt.Errorf("index level %d ended at %d, expected %d", level, w.buf.Len(), end)
		}
	}
	w.writeLeafLevel()

	return w.buf.Bytes(), nil
}

// Write builds an index file at path
func Write(path string, items []Item, opts Options) error {
	data, err := Build(items, opts)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// MustWrite builds an index file in a temporary directory and returns its path
func MustWrite(tb testing.TB, items []Item, opts Options) string {
	tb.Helper()
	path := filepath.Join(tb.TempDir(), "index.bpt")
	if err := Write(path, items, opts); err != nil {
		tb.Fatalf("Failed to write index: %v", err)
	}
	return path
}

type writer struct {
	buf   bytes.Buffer
	order binary.ByteOrder
	opts  Options
	items []Item
}

func countLevels(blockSize, itemCount int) int {
	levels := 1
	for itemCount > blockSize {
		itemCount = (itemCount + blockSize - 1) / blockSize
		levels++
	}
	return levels
}

func pow(x, y int) int {
	val := 1
	for i := 0; i < y; i++ {
		val *= x
	}
	return val
}

func (w *writer) blockHeader(isLeaf bool, count int) {
	hdr := make([]byte, block.HeaderSize)
	if isLeaf {
		hdr[0] = 1
	}
	w.order.PutUint16(hdr[2:4], uint16(count))
	w.buf.Write(hdr)
}

func (w *writer) pad(slots, slotSize int) {
	w.buf.Write(make([]byte, slots*slotSize))
}

// writeIndexLevel writes one non-leaf level starting at indexOffset and returns its end offset
func (w *writer) writeIndexLevel(level int, indexOffset uint64) uint64 {
	bs := w.opts.BlockSize
	itemCount := len(w.items)

	slotSizePer := pow(bs, level)    // items below one slot
	nodeSizePer := slotSizePer * bs // items below one node
	nodeCount := (itemCount + nodeSizePer - 1) / nodeSizePer

	indexSlot := w.opts.KeySize + block.OffsetSize
	bytesInIndexBlock := uint64(block.HeaderSize + bs*indexSlot)
	bytesInLeafBlock := uint64(block.HeaderSize + bs*(w.opts.KeySize+w.opts.ValSize))
	bytesInNextLevelBlock := bytesInIndexBlock
	if level == 1 {
		bytesInNextLevelBlock = bytesInLeafBlock
	}

	endLevel := indexOffset + uint64(nodeCount)*bytesInIndexBlock
	nextChild := endLevel

	for i := 0; i < itemCount; i += nodeSizePer {
		countOne := (itemCount - i + slotSizePer - 1) / slotSizePer
		if countOne > bs {
			countOne = bs
		}
		w.blockHeader(false, countOne)

		endIx := i + nodeSizePer
		if endIx > itemCount {
			endIx = itemCount
		}
		for j := i; j < endIx; j += slotSizePer {
			w.buf.Write(w.items[j].Key)
			w.buf.Write(Uint64(w.order, nextChild))
			nextChild += bytesInNextLevelBlock
		}

		w.pad(bs-countOne, indexSlot)
	}

	return endLevel
}

func (w *writer) writeLeafLevel() {
	bs := w.opts.BlockSize
	slot := w.opts.KeySize + w.opts.ValSize

	// An empty tree still gets an empty root leaf
	if len(w.items) == 0 {
		w.blockHeader(true, 0)
		w.pad(bs, slot)
		return
	}

	for i := 0; i < len(w.items); i += bs {
		countOne := len(w.items) - i
		if countOne > bs {
			countOne = bs
		}
		w.blockHeader(true, countOne)
		for _, it := range w.items[i : i+countOne] {
			w.buf.Write(it.Key)
			w.buf.Write(it.Val)
		}
		w.pad(bs-countOne, slot)
	}
}
