//go:build linux

package physmem

import "golang.org/x/sys/unix"

// mapRegion backs the pool with an anonymous mapping, the same way guest
// RAM is allocated for a hardware virtual machine.
func mapRegion(size uint64) ([]byte, func() error, error) {
	mem, err := unix.Mmap(
		-1,
		0,
		int(size),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANONYMOUS|unix.MAP_PRIVATE,
	)
	if err != nil {
		return nil, nil, err
	}
	return mem, func() error { return unix.Munmap(mem) }, nil
}
