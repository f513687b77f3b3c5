//go:build !linux

package physmem

// mapRegion falls back to heap memory on hosts without anonymous mmap.
func mapRegion(size uint64) ([]byte, func() error, error) {
	return make([]byte, size), func() error { return nil }, nil
}
