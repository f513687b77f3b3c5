package frame

import (
	"errors"
	"math/bits"
	"slices"

	"github.com/GrassedgeT/Grass/internal/config"
)

// ErrOutOfMemory is returned when no free block of the required order exists.
var ErrOutOfMemory = errors.New("frame allocator: no free block of required order")

const maxOrder = config.FramePoolOrder

// buddyAllocator manages physical frames in power-of-two blocks. Each order
// keeps its free blocks as a sorted slice of start PPNs, so the lowest free
// block at an order is always the head.
type buddyAllocator struct {
	free [maxOrder + 1][]uint64

	begin, end uint64
	allocated  uint64
}

// addRange donates [begin, end) to the allocator, decomposed greedily into
// maximal naturally-aligned blocks.
func (b *buddyAllocator) addRange(begin, end uint64) {
	b.begin, b.end = begin, end

	current := begin
	for current < end {
		size := uint64(1) << maxOrder
		if current != 0 {
			if low := uint64(1) << bits.TrailingZeros64(current); low < size {
				size = low
			}
		}
		for size > end-current {
			size >>= 1
		}
		b.push(orderOf(size), current)
		current += size
	}
}

// alloc returns the start PPN of n contiguous frames, rounding n up to the
// next power of two.
func (b *buddyAllocator) alloc(n uint64) (uint64, error) {
	size := roundUpPow2(n)
	order := orderOf(size)
	if order > maxOrder {
		return 0, ErrOutOfMemory
	}

	from := -1
	for o := order; o <= maxOrder; o++ {
		if len(b.free[o]) > 0 {
			from = o
			break
		}
	}
	if from < 0 {
		return 0, ErrOutOfMemory
	}

	block := b.free[from][0]
	b.free[from] = slices.Delete(b.free[from], 0, 1)

	// Split down to the requested order, returning the upper halves.
	for o := from; o > order; o-- {
		half := uint64(1) << (o - 1)
		b.push(o-1, block+half)
	}

	b.allocated += size
	return block, nil
}

// dealloc returns n contiguous frames starting at ppn, coalescing with free
// buddies as far as possible.
func (b *buddyAllocator) dealloc(ppn, n uint64) {
	size := roundUpPow2(n)
	order := orderOf(size)
	b.allocated -= size

	block := ppn
	for order < maxOrder {
		buddy := block ^ (uint64(1) << order)
		i, found := slices.BinarySearch(b.free[order], buddy)
		if !found {
			break
		}
		b.free[order] = slices.Delete(b.free[order], i, i+1)
		if buddy < block {
			block = buddy
		}
		order++
	}
	b.push(order, block)
}

// usedFrames is the number of frames currently allocated, counted in
// rounded (power-of-two) units.
func (b *buddyAllocator) usedFrames() uint64 {
	return b.allocated
}

// freeFrames is the number of frames on the free lists.
func (b *buddyAllocator) freeFrames() uint64 {
	var total uint64
	for o, blocks := range b.free {
		total += uint64(len(blocks)) << o
	}
	return total
}

func (b *buddyAllocator) push(order int, block uint64) {
	i, _ := slices.BinarySearch(b.free[order], block)
	b.free[order] = slices.Insert(b.free[order], i, block)
}

func orderOf(size uint64) int {
	return bits.TrailingZeros64(size)
}

func roundUpPow2(n uint64) uint64 {
	if n <= 1 {
		return 1
	}
	return uint64(1) << (64 - bits.LeadingZeros64(n-1))
}
