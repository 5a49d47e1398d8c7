package header

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	// Size is the fixed size of the index file header in bytes
	Size = 32
	// Magic identifies a B+ tree index file. A byte-swapped match means every
	// multi-byte integer in the file is stored in the opposite byte order.
	Magic = uint32(0x78CA8C91)
	// MaxBlockSize is the largest branching factor the 16-bit child count can express
	MaxBlockSize = math.MaxUint16
)

var (
	// ErrTooSmall indicates fewer than Size bytes were available
	ErrTooSmall = errors.New("header data too small")
	// ErrBadMagic indicates the data does not start with the index magic number
	ErrBadMagic = errors.New("not a bpt b-plus tree index file")
	// ErrBadGeometry indicates block, key or value sizes the reader cannot use
	ErrBadGeometry = errors.New("invalid index geometry")
)

// Header contains the metadata stored at the start of an index file
type Header struct {
	// Order is the byte order of every integer in the file, detected from the magic number
	Order binary.ByteOrder
	// BlockSize is the number of children per block, not a byte count
	BlockSize uint32
	// KeySize is the fixed width of every key in bytes
	KeySize uint32
	// ValSize is the fixed width of every value in bytes
	ValSize uint32
	// ItemCount is the number of leaf items in the tree
	ItemCount uint64
}

// Decode parses a header from a byte slice, detecting the file's byte order
func Decode(data []byte) (*Header, error) {
	if len(data) < Size {
		return nil, fmt.Errorf("%w: %d bytes, expected %d", ErrTooSmall, len(data), Size)
	}

	order, err := DetectOrder(data[0:4])
	if err != nil {
		return nil, err
	}

	// Bytes 24..32 are reserved and ignored
	h := &Header{
		Order:     order,
		BlockSize: order.Uint32(data[4:8]),
		KeySize:   order.Uint32(data[8:12]),
		ValSize:   order.Uint32(data[12:16]),
		ItemCount: order.Uint64(data[16:24]),
	}

	if err := h.Validate(); err != nil {
		return nil, err
	}

	return h, nil
}

// DetectOrder returns the byte order in which the four magic bytes decode to Magic
func DetectOrder(magic []byte) (binary.ByteOrder, error) {
	if len(magic) < 4 {
		return nil, fmt.Errorf("%w: %d magic bytes", ErrTooSmall, len(magic))
	}
	if binary.LittleEndian.Uint32(magic) == Magic {
		return binary.LittleEndian, nil
	}
	if binary.BigEndian.Uint32(magic) == Magic {
		return binary.BigEndian, nil
	}
	return nil, fmt.Errorf("%w: magic %#08x", ErrBadMagic, binary.LittleEndian.Uint32(magic))
}

// Validate rejects geometry that would make block decoding meaningless
func (h *Header) Validate() error {
	if h.BlockSize == 0 {
		return fmt.Errorf("%w: block size is zero", ErrBadGeometry)
	}
	if h.BlockSize > MaxBlockSize {
		return fmt.Errorf("%w: block size %d exceeds %d", ErrBadGeometry, h.BlockSize, MaxBlockSize)
	}
	if h.KeySize == 0 {
		return fmt.Errorf("%w: key size is zero", ErrBadGeometry)
	}
	return nil
}

// Swapped reports whether the file's byte order differs from the little-endian default
func (h *Header) Swapped() bool {
	return h.Order == binary.BigEndian
}

// Encode serializes the header in its own byte order
func (h *Header) Encode() []byte {
	order := h.Order
	if order == nil {
		order = binary.LittleEndian
	}

	result := make([]byte, Size)
	order.PutUint32(result[0:4], Magic)
	order.PutUint32(result[4:8], h.BlockSize)
	order.PutUint32(result[8:12], h.KeySize)
	order.PutUint32(result[12:16], h.ValSize)
	order.PutUint64(result[16:24], h.ItemCount)
	// Reserved fields stay zero

	return result
}

// String returns a short human-readable summary of the header
func (h *Header) String() string {
	return fmt.Sprintf("blockSize=%d keySize=%d valSize=%d itemCount=%d order=%s",
		h.BlockSize, h.KeySize, h.ValSize, h.ItemCount, h.Order)
}
