//go:build !unix

package storage

// OpenMmap falls back to positioned reads where mmap is unavailable
func OpenMmap(path string) (Source, error) {
	return openFile(path)
}
