// Package frame allocates physical 4 KiB frames from the RAM left over
// after the kernel image. A buddy allocator hands out power-of-two runs;
// owning handles tie each run's lifetime to its user and return the frames
// on release. The allocator is a process-wide singleton behind an
// exclusive-borrow cell.
package frame

import (
	"log/slog"

	"github.com/GrassedgeT/Grass/internal/ksync"
	"github.com/GrassedgeT/Grass/internal/memory/addr"
	"github.com/GrassedgeT/Grass/internal/memory/physmem"
	"github.com/GrassedgeT/Grass/internal/sbi"
)

var allocator *ksync.Cell[buddyAllocator]

// Init declares the available frame window [begin, end). Called exactly
// once during bring-up, before any subsystem that maps memory.
func Init(begin, end addr.PhysPageNum) {
	if allocator != nil {
		sbi.Panic("frame allocator initialized twice")
	}
	if end <= begin {
		sbi.Panic("frame allocator: empty window [%v, %v)", begin, end)
	}
	allocator = ksync.NewCell(buddyAllocator{})
	allocator.With(func(b *buddyAllocator) {
		b.addRange(uint64(begin), uint64(end))
	})
	slog.Debug("frame allocator ready", "begin", begin, "end", end, "frames", uint64(end-begin))
}

// TryAlloc returns the start of n contiguous free frames, or ErrOutOfMemory.
func TryAlloc(n uint64) (addr.PhysPageNum, error) {
	var (
		ppn uint64
		err error
	)
	allocator.With(func(b *buddyAllocator) {
		ppn, err = b.alloc(n)
	})
	if err != nil {
		return 0, err
	}
	return addr.NewPhysPageNum(ppn), nil
}

// Dealloc returns n contiguous frames starting at ppn. Handles call this on
// release; double-dealloc is undefined and prevented by the handles.
func Dealloc(ppn addr.PhysPageNum, n uint64) {
	allocator.With(func(b *buddyAllocator) {
		b.dealloc(uint64(ppn), n)
	})
}

// Used is the number of frames currently allocated (in rounded units).
func Used() uint64 {
	var used uint64
	allocator.With(func(b *buddyAllocator) {
		used = b.usedFrames()
	})
	return used
}

// Free is the number of frames on the free lists.
func Free() uint64 {
	var free uint64
	allocator.With(func(b *buddyAllocator) {
		free = b.freeFrames()
	})
	return free
}

// Frame owns one physical frame. Releasing it returns the frame.
type Frame struct {
	PPN      addr.PhysPageNum
	released bool
}

// Alloc takes one frame and zeroes it. Running out of frames during
// bring-up or mapping is fatal.
func Alloc(pool *physmem.Pool) *Frame {
	ppn, err := TryAlloc(1)
	if err != nil {
		sbi.Panic("frame alloc failed: %v", err)
	}
	pool.Zero(ppn)
	return &Frame{PPN: ppn}
}

// Release returns the frame to the allocator.
func (f *Frame) Release() {
	if f.released {
		sbi.Panic("frame %v released twice", f.PPN)
	}
	f.released = true
	Dealloc(f.PPN, 1)
}

// Frames owns a contiguous run of frames.
type Frames struct {
	PPN      addr.PhysPageNum
	Num      uint64
	released bool
}

// AllocN takes n contiguous frames and zeroes them.
func AllocN(pool *physmem.Pool, n uint64) *Frames {
	ppn, err := TryAlloc(n)
	if err != nil {
		sbi.Panic("frames alloc(%d) failed: %v", n, err)
	}
	for i := uint64(0); i < n; i++ {
		pool.Zero(ppn + addr.PhysPageNum(i))
	}
	return &Frames{PPN: ppn, Num: n}
}

// Release returns the whole run to the allocator.
func (f *Frames) Release() {
	if f.released {
		sbi.Panic("frames %v released twice", f.PPN)
	}
	f.released = true
	Dealloc(f.PPN, f.Num)
}

// reset discards the global allocator. Test use only.
func reset() {
	allocator = nil
}
