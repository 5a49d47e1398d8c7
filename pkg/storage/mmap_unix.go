//go:build unix

package storage

import (
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// MmapSource serves reads from a read-only shared mapping of the file
type MmapSource struct {
	data []byte
	mu   sync.RWMutex
}

// OpenMmap maps path read-only. The file descriptor is closed once mapped.
func OpenMmap(path string) (Source, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	// Zero-length mappings are rejected by the kernel
	if stat.Size() == 0 {
		return NewMemorySource(nil), nil
	}

	data, err := unix.Mmap(int(file.Fd()), 0, int(stat.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("failed to mmap %s: %w", path, err)
	}

	return &MmapSource{data: data}, nil
}

// ReadAt copies mapped bytes starting at offset
func (s *MmapSource) ReadAt(p []byte, offset int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.data == nil {
		return 0, ErrClosed
	}
	if offset < 0 {
		return 0, fmt.Errorf("negative offset %d", offset)
	}
	if offset >= int64(len(s.data)) {
		return 0, io.EOF
	}

	n := copy(p, s.data[offset:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Size returns the mapped length
func (s *MmapSource) Size() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.data))
}

// Close unmaps the file
func (s *MmapSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data == nil {
		return nil
	}

	err := unix.Munmap(s.data)
	s.data = nil
	return err
}
