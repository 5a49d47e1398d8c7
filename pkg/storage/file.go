package storage

import (
	"fmt"
	"os"
	"sync"
)

// FileSource reads an open file with positioned reads, so concurrent
// readers never share a seek pointer
type FileSource struct {
	path     string
	file     *os.File
	fileSize int64
	mu       sync.RWMutex
}

// OpenFile opens path for positioned reads
func OpenFile(path string) (*FileSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	// Get file size
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	return &FileSource{
		path:     path,
		file:     file,
		fileSize: stat.Size(),
	}, nil
}

// ReadAt reads data from the file at the given offset
func (s *FileSource) ReadAt(data []byte, offset int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.file == nil {
		return 0, ErrClosed
	}

	return s.file.ReadAt(data, offset)
}

// Size returns the size of the file when it was opened
func (s *FileSource) Size() int64 {
	return s.fileSize
}

// Path returns the file path
func (s *FileSource) Path() string {
	return s.path
}

// Close closes the file
func (s *FileSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}

	err := s.file.Close()
	s.file = nil
	return err
}
