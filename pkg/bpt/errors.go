package bpt

import (
	"errors"
	"fmt"
)

var (
	// ErrFormat indicates a file that is not a valid index or is corrupt
	ErrFormat = errors.New("bpt format error")
	// ErrSizeMismatch indicates a caller value size different from the file's
	ErrSizeMismatch = errors.New("value size mismatch")
	// ErrClosed is returned by lookups on a closed index
	ErrClosed = errors.New("index is closed")
	// ErrOutOfRange is returned for an item position at or past the item count
	ErrOutOfRange = errors.New("item position out of range")
)

// FormatError describes where an index file failed to decode.
// It matches ErrFormat with errors.Is.
type FormatError struct {
	Name   string
	Offset int64 // -1 when the problem is not tied to a block
	Err    error
}

func (e *FormatError) Error() string {
	if e.Offset < 0 {
		return fmt.Sprintf("%s: %s: %v", ErrFormat, e.Name, e.Err)
	}
	return fmt.Sprintf("%s: %s: block at offset %d: %v", ErrFormat, e.Name, e.Offset, e.Err)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

func (e *FormatError) Is(target error) bool {
	return target == ErrFormat
}

// SizeMismatchError reports a requested value size that differs from the file's.
// It matches ErrSizeMismatch with errors.Is.
type SizeMismatchError struct {
	Name string
	Want int // requested by the caller
	Have int // stored in the file
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("%s: %s: requested %d bytes, file has %d", ErrSizeMismatch, e.Name, e.Want, e.Have)
}

func (e *SizeMismatchError) Is(target error) bool {
	return target == ErrSizeMismatch
}
