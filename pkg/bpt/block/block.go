// Package block decodes the nodes of a B+ tree index file.
//
// Every block starts with a 4-byte header (isLeaf, reserved, childCount) followed by
// childCount fixed-width entries. Leaf entries are key/value pairs; index entries pair a
// separator key with the 8-byte file offset of a child block.
package block

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// HeaderSize is the size of the per-block header in bytes
	HeaderSize = 4
	// OffsetSize is the size of a child file offset in an index block
	OffsetSize = 8
)

var (
	// ErrTooSmall indicates a buffer shorter than the block it should contain
	ErrTooSmall = errors.New("block data too small")
	// ErrTooManyChildren indicates a child count larger than the file's block size
	ErrTooManyChildren = errors.New("block child count exceeds block size")
	// ErrEmptyIndex indicates an index block with nothing to descend into
	ErrEmptyIndex = errors.New("index block has no children")
)

// Header is the decoded 4-byte block header
type Header struct {
	IsLeaf     bool
	ChildCount uint16
}

// DecodeHeader parses a block header using the file's byte order
func DecodeHeader(data []byte, order binary.ByteOrder) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("%w: %d header bytes", ErrTooSmall, len(data))
	}
	// data[1] is reserved
	return Header{
		IsLeaf:     data[0] != 0,
		ChildCount: order.Uint16(data[2:4]),
	}, nil
}

// Layout describes the fixed geometry shared by every block of one file
type Layout struct {
	Order     binary.ByteOrder
	BlockSize int
	KeySize   int
	ValSize   int
}

// EntrySize returns the size of one entry in a leaf or index block
func (l Layout) EntrySize(leaf bool) int {
	if leaf {
		return l.KeySize + l.ValSize
	}
	return l.KeySize + OffsetSize
}

// BodySize returns the number of bytes following the header for the given block
func (l Layout) BodySize(h Header) int {
	return int(h.ChildCount) * l.EntrySize(h.IsLeaf)
}

// LeafBytes returns the on-disk size of a full leaf block, including padding slots
func (l Layout) LeafBytes() int {
	return HeaderSize + l.BlockSize*l.EntrySize(true)
}

// Check verifies a header against the layout before its body is read
func (l Layout) Check(h Header) error {
	if int(h.ChildCount) > l.BlockSize {
		return fmt.Errorf("%w: %d > %d", ErrTooManyChildren, h.ChildCount, l.BlockSize)
	}
	if !h.IsLeaf && h.ChildCount == 0 {
		return ErrEmptyIndex
	}
	return nil
}

// Block is one decoded node. It only references its body buffer.
type Block struct {
	layout Layout
	header Header
	body   []byte
}

// New wraps a block body that was read after header h
func New(l Layout, h Header, body []byte) (*Block, error) {
	if err := l.Check(h); err != nil {
		return nil, err
	}
	if need := l.BodySize(h); len(body) < need {
		return nil, fmt.Errorf("%w: %d body bytes, expected %d", ErrTooSmall, len(body), need)
	}
	return &Block{layout: l, header: h, body: body}, nil
}

// IsLeaf reports whether the block holds key/value items
func (b *Block) IsLeaf() bool {
	return b.header.IsLeaf
}

// Len returns the number of entries in the block
func (b *Block) Len() int {
	return int(b.header.ChildCount)
}

func (b *Block) entry(i int) []byte {
	size := b.layout.EntrySize(b.header.IsLeaf)
	return b.body[i*size : (i+1)*size]
}

// Key returns the key of entry i
func (b *Block) Key(i int) []byte {
	return b.entry(i)[:b.layout.KeySize]
}

// Value returns the value of leaf entry i
func (b *Block) Value(i int) []byte {
	return b.entry(i)[b.layout.KeySize:]
}

// Child returns the file offset of index entry i
func (b *Block) Child(i int) uint64 {
	return b.layout.Order.Uint64(b.entry(i)[b.layout.KeySize:])
}

// Lookup scans a leaf in file order and returns the value of the first exact match
func (b *Block) Lookup(key []byte) ([]byte, bool) {
	for i := 0; i < b.Len(); i++ {
		if bytes.Equal(key, b.Key(i)) {
			return b.Value(i), true
		}
	}
	return nil, false
}

// LookupAll returns the values of every leaf entry equal to key, in file order
func (b *Block) LookupAll(key []byte) [][]byte {
	var vals [][]byte
	for i := 0; i < b.Len(); i++ {
		if bytes.Equal(key, b.Key(i)) {
			vals = append(vals, b.Value(i))
		}
	}
	return vals
}

// Route picks the child of an index block whose subtree may hold key.
// The first separator is never compared; the scan stops at the first
// separator greater than key.
func (b *Block) Route(key []byte) uint64 {
	offset := b.Child(0)
	for i := 1; i < b.Len(); i++ {
		if bytes.Compare(key, b.Key(i)) < 0 {
			break
		}
		offset = b.Child(i)
	}
	return offset
}

// RouteAll returns every child of an index block that may hold copies of key.
// Equal keys can straddle a block boundary, so a child is kept whenever key
// falls between its separator and the next one inclusive.
func (b *Block) RouteAll(key []byte) []uint64 {
	var offsets []uint64

	lastCmp := bytes.Compare(key, b.Key(0))
	lastOffset := b.Child(0)
	for i := 1; i < b.Len(); i++ {
		cmp := bytes.Compare(key, b.Key(i))
		if lastCmp >= 0 && cmp <= 0 {
			offsets = append(offsets, lastOffset)
		}
		if cmp < 0 {
			return offsets
		}
		lastCmp = cmp
		lastOffset = b.Child(i)
	}

	return append(offsets, lastOffset)
}
