// Package physmem is the machine's physical memory: a contiguous pool
// covering the RAM window, addressed by physical page number. Page tables,
// directory frames and user data frames all live in this pool; the typed
// accessors here are the only way the kernel touches physical bytes.
package physmem

import (
	"fmt"
	"io"

	"github.com/GrassedgeT/Grass/internal/config"
	"github.com/GrassedgeT/Grass/internal/memory/addr"
	"github.com/GrassedgeT/Grass/internal/sbi"
)

// Pool is a contiguous physical memory region [Base, Base+len(mem)).
type Pool struct {
	base addr.PhysAddr
	mem  []byte

	release func() error
}

// NewPool maps a zeroed pool for the RAM window [base, end).
func NewPool(base, end addr.PhysAddr) (*Pool, error) {
	if !base.Aligned() || !end.Aligned() || end <= base {
		return nil, fmt.Errorf("physmem: bad RAM window [0x%x, 0x%x)", uint64(base), uint64(end))
	}
	mem, release, err := mapRegion(uint64(end - base))
	if err != nil {
		return nil, fmt.Errorf("physmem: map %d bytes: %w", uint64(end-base), err)
	}
	return &Pool{base: base, mem: mem, release: release}, nil
}

// Close unmaps the pool. The pool must not be used afterwards.
func (p *Pool) Close() error {
	if p.release == nil {
		return nil
	}
	release := p.release
	p.release = nil
	p.mem = nil
	return release()
}

// Base is the first physical address of the pool.
func (p *Pool) Base() addr.PhysAddr {
	return p.base
}

// Size is the pool size in bytes.
func (p *Pool) Size() uint64 {
	return uint64(len(p.mem))
}

// Contains reports whether the frame lies inside the pool.
func (p *Pool) Contains(ppn addr.PhysPageNum) bool {
	pa := ppn.Addr()
	return pa >= p.base && uint64(pa)+config.PageSize <= uint64(p.base)+p.Size()
}

// Page is the 4 KiB of the frame. Accessing a frame outside the RAM window
// means the kernel followed a wild physical pointer, which is fatal.
func (p *Pool) Page(ppn addr.PhysPageNum) []byte {
	if !p.Contains(ppn) {
		sbi.Panic("physical access outside RAM window: %v", ppn)
	}
	off := uint64(ppn.Addr() - p.base)
	return p.mem[off : off+config.PageSize : off+config.PageSize]
}

// Zero clears the frame.
func (p *Pool) Zero(ppn addr.PhysPageNum) {
	clear(p.Page(ppn))
}

// ReadAt implements io.ReaderAt over physical addresses.
func (p *Pool) ReadAt(b []byte, off int64) (int, error) {
	if off < int64(p.base) || off >= int64(p.base)+int64(p.Size()) {
		return 0, io.EOF
	}
	n := copy(b, p.mem[off-int64(p.base):])
	if n < len(b) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt implements io.WriterAt over physical addresses.
func (p *Pool) WriteAt(b []byte, off int64) (int, error) {
	if off < int64(p.base) || off+int64(len(b)) > int64(p.base)+int64(p.Size()) {
		return 0, fmt.Errorf("physmem: write [0x%x, 0x%x) outside RAM window", off, off+int64(len(b)))
	}
	return copy(p.mem[off-int64(p.base):], b), nil
}
