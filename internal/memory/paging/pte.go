// Package paging implements Sv39 page-table entries and the three-level
// page table that owns its root and directory frames.
package paging

import (
	"encoding/binary"
	"fmt"

	"github.com/GrassedgeT/Grass/internal/config"
	"github.com/GrassedgeT/Grass/internal/memory/addr"
	"github.com/GrassedgeT/Grass/internal/memory/physmem"
)

// PTEFlags are the low eight bits of a page-table entry.
type PTEFlags uint8

const (
	FlagV PTEFlags = 1 << iota // valid
	FlagR                      // readable
	FlagW                      // writable
	FlagX                      // executable
	FlagU                      // user accessible
	FlagG                      // global
	FlagA                      // accessed
	FlagD                      // dirty
)

func (f PTEFlags) String() string {
	names := []struct {
		bit PTEFlags
		c   byte
	}{
		{FlagD, 'D'}, {FlagA, 'A'}, {FlagG, 'G'}, {FlagU, 'U'},
		{FlagX, 'X'}, {FlagW, 'W'}, {FlagR, 'R'}, {FlagV, 'V'},
	}
	buf := make([]byte, len(names))
	for i, n := range names {
		if f&n.bit != 0 {
			buf[i] = n.c
		} else {
			buf[i] = '-'
		}
	}
	return string(buf)
}

// PTE is a 64-bit Sv39 page-table entry: (ppn << 10) | flags.
type PTE uint64

// NewPTE builds an entry from a page number and flags.
func NewPTE(ppn addr.PhysPageNum, flags PTEFlags) PTE {
	return PTE(uint64(ppn)<<10 | uint64(flags))
}

// EmptyPTE is the all-zero (invalid) entry.
const EmptyPTE PTE = 0

// PPN extracts the physical page number. The mask is applied after the
// shift, keeping the full 44-bit field.
func (pte PTE) PPN() addr.PhysPageNum {
	return addr.PhysPageNum(uint64(pte) >> 10 & ((1 << config.PPNWidth) - 1))
}

// Flags truncates the entry to its low eight flag bits.
func (pte PTE) Flags() PTEFlags {
	return PTEFlags(pte)
}

// Valid reports the V bit.
func (pte PTE) Valid() bool {
	return pte.Flags()&FlagV != 0
}

// Leaf reports whether the entry maps a page rather than pointing at the
// next table: any of R, W, X set.
func (pte PTE) Leaf() bool {
	return pte.Flags()&(FlagR|FlagW|FlagX) != 0
}

// Readable reports the R bit.
func (pte PTE) Readable() bool { return pte.Flags()&FlagR != 0 }

// Writable reports the W bit.
func (pte PTE) Writable() bool { return pte.Flags()&FlagW != 0 }

// Executable reports the X bit.
func (pte PTE) Executable() bool { return pte.Flags()&FlagX != 0 }

// User reports the U bit.
func (pte PTE) User() bool { return pte.Flags()&FlagU != 0 }

func (pte PTE) String() string {
	return fmt.Sprintf("PTE{%v %v}", pte.PPN(), pte.Flags())
}

// EntriesPerPage is the number of PTEs in one table page.
const EntriesPerPage = config.PageSize / 8

// PTEPage is the 512-entry view of a physical frame holding a page table.
type PTEPage struct {
	b []byte
}

// PTEsOf views the frame at ppn as a page table.
func PTEsOf(pool *physmem.Pool, ppn addr.PhysPageNum) PTEPage {
	return PTEPage{b: pool.Page(ppn)}
}

// At loads entry i.
func (p PTEPage) At(i uint64) PTE {
	return PTE(binary.LittleEndian.Uint64(p.b[i*8:]))
}

// Set stores entry i.
func (p PTEPage) Set(i uint64, pte PTE) {
	binary.LittleEndian.PutUint64(p.b[i*8:], uint64(pte))
}
