package storage

import "os"

// isNotExist reports whether err indicates a missing file, unwrapping the
// *os.PathError that afero's disk-backed filesystems return.
func isNotExist(err error) bool {
	return os.IsNotExist(err)
}
