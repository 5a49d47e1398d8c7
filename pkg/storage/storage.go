// Package storage provides the random-access byte sources an index is read from.
package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
)

// Mode selects how an index file is brought into the process
type Mode string

const (
	// ModeAuto reads plain files with positioned reads and decompresses compressed ones
	ModeAuto Mode = "auto"
	// ModeFile always uses positioned reads on the open file
	ModeFile Mode = "file"
	// ModeMmap maps the file read-only into memory
	ModeMmap Mode = "mmap"
	// ModeMemory loads the whole (possibly compressed) file into memory
	ModeMemory Mode = "memory"
)

var (
	// ErrClosed is returned by reads on a closed source
	ErrClosed = errors.New("storage source is closed")
	// ErrUnknownMode is returned for an unrecognized Mode
	ErrUnknownMode = errors.New("unknown storage mode")
)

// Source is a read-only random-access view of an index file.
// Implementations must be safe for concurrent ReadAt calls.
type Source interface {
	io.ReaderAt
	// Size returns the number of readable bytes
	Size() int64
	// Close releases the underlying resources
	Close() error
}

// ParseMode converts a configuration string into a Mode
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeAuto, ModeFile, ModeMmap, ModeMemory:
		return m, nil
	case "":
		return ModeAuto, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

// Open opens path as a Source using the given mode
func Open(path string, mode Mode) (Source, error) {
	switch mode {
	case ModeFile:
		return openFile(path)
	case ModeMemory:
		return loadFile(path)
	case ModeMmap, ModeAuto:
		codec, err := sniffFile(path)
		if err != nil {
			return nil, err
		}
		if codec != codecNone {
			return loadFile(path)
		}
		if mode == ModeMmap {
			return OpenMmap(path)
		}
		return openFile(path)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
}

// Checksum returns the xxhash64 digest of the source's contents
func Checksum(src Source) (uint64, error) {
	digest := xxhash.New()
	if _, err := io.Copy(digest, io.NewSectionReader(src, 0, src.Size())); err != nil {
		return 0, fmt.Errorf("failed to checksum source: %w", err)
	}
	return digest.Sum64(), nil
}

// openFile and loadFile avoid returning typed nil pointers inside a Source
func openFile(path string) (Source, error) {
	src, err := OpenFile(path)
	if err != nil {
		return nil, err
	}
	return src, nil
}

func loadFile(path string) (Source, error) {
	src, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return src, nil
}

func sniffFile(path string) (codec, error) {
	file, err := os.Open(path)
	if err != nil {
		return codecNone, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	magic := make([]byte, 4)
	n, err := io.ReadFull(file, magic)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return codecNone, fmt.Errorf("failed to read file magic: %w", err)
	}
	return detectCodec(magic[:n]), nil
}

type codec int

const (
	codecNone codec = iota
	codecZstd
	codecGzip
)

var (
	zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}
	gzipMagic = []byte{0x1F, 0x8B}
)

func detectCodec(magic []byte) codec {
	switch {
	case bytes.HasPrefix(magic, zstdMagic):
		return codecZstd
	case bytes.HasPrefix(magic, gzipMagic):
		return codecGzip
	default:
		return codecNone
	}
}
