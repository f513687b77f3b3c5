// Package riscv models the slice of the hart the memory subsystem touches:
// the satp register, the TLB, and the hardware's view of an Sv39 page-table
// walk. The kernel writes satp and fences; tests use the walker to check
// that what the kernel built is what the hardware would see.
package riscv

import (
	"fmt"

	"github.com/GrassedgeT/Grass/internal/config"
	"github.com/GrassedgeT/Grass/internal/memory/addr"
	"github.com/GrassedgeT/Grass/internal/memory/paging"
	"github.com/GrassedgeT/Grass/internal/memory/physmem"
)

// satp MODE field values.
const (
	SatpModeOff  = 0
	SatpModeSv39 = 8
)

// AccessType is the kind of memory access being translated.
type AccessType int

const (
	AccessRead AccessType = iota
	AccessWrite
	AccessFetch
)

func (a AccessType) String() string {
	switch a {
	case AccessRead:
		return "read"
	case AccessWrite:
		return "write"
	case AccessFetch:
		return "fetch"
	default:
		return "unknown"
	}
}

// PageFault is the exception a failed translation raises.
type PageFault struct {
	Access AccessType
	VA     addr.VirtAddr
}

func (p *PageFault) Error() string {
	return fmt.Sprintf("%s page fault at %v", p.Access, p.VA)
}

// tlbEntry caches one translation.
type tlbEntry struct {
	valid bool
	vpn   addr.VirtPageNum
	ppn   addr.PhysPageNum
	flags paging.PTEFlags
}

// Hart is a single hardware thread's translation state.
type Hart struct {
	pool *physmem.Pool
	satp uint64

	tlb [512]tlbEntry
}

// NewHart creates a hart with translation off.
func NewHart(pool *physmem.Pool) *Hart {
	return &Hart{pool: pool}
}

// WriteSATP stores the supervisor address-translation register. The TLB is
// not flushed implicitly; callers issue SfenceVMA as the ISA requires.
func (h *Hart) WriteSATP(token uint64) {
	h.satp = token
}

// SATP reads the register back.
func (h *Hart) SATP() uint64 {
	return h.satp
}

// SfenceVMA invalidates the whole TLB.
func (h *Hart) SfenceVMA() {
	for i := range h.tlb {
		h.tlb[i].valid = false
	}
}

// Translate resolves a virtual address the way the MMU would: bare mode
// passes through, otherwise a three-level walk with validity, reserved-bit
// and permission checks. Successful walks are cached in the TLB.
func (h *Hart) Translate(va addr.VirtAddr, access AccessType) (addr.PhysAddr, error) {
	mode := h.satp >> 60 & 0xF
	if mode != SatpModeSv39 {
		return addr.NewPhysAddr(uint64(va)), nil
	}

	vpn := va.Floor()
	idx := uint64(vpn) & uint64(len(h.tlb)-1)
	if e := &h.tlb[idx]; e.valid && e.vpn == vpn {
		if err := checkPermissions(e.flags, access); err != nil {
			return 0, &PageFault{Access: access, VA: va}
		}
		return e.ppn.Addr() + addr.PhysAddr(va.PageOffset()), nil
	}

	pte, err := h.walk(va, access)
	if err != nil {
		return 0, err
	}

	h.tlb[idx] = tlbEntry{valid: true, vpn: vpn, ppn: pte.PPN(), flags: pte.Flags()}
	return pte.PPN().Addr() + addr.PhysAddr(va.PageOffset()), nil
}

// walk performs the three-level page-table walk from satp's root.
func (h *Hart) walk(va addr.VirtAddr, access AccessType) (paging.PTE, error) {
	fault := &PageFault{Access: access, VA: va}

	root := addr.NewPhysPageNum(h.satp & ((1 << config.PPNWidth) - 1))
	indices := va.Floor().Indices()

	table := paging.PTEsOf(h.pool, root)
	for level := 0; ; level++ {
		pte := table.At(indices[level])
		if !pte.Valid() {
			return 0, fault
		}
		// W without R is reserved.
		if !pte.Readable() && pte.Writable() {
			return 0, fault
		}

		if pte.Leaf() {
			// This kernel installs only 4 KiB leaves; a leaf above
			// level 2 would be a misaligned superpage.
			if level != 2 {
				return 0, fault
			}
			if err := checkPermissions(pte.Flags(), access); err != nil {
				return 0, fault
			}
			return pte, nil
		}

		if level == 2 {
			// Level-0 entry that is valid but has no R/W/X.
			return 0, fault
		}
		table = paging.PTEsOf(h.pool, pte.PPN())
	}
}

func checkPermissions(flags paging.PTEFlags, access AccessType) error {
	switch access {
	case AccessRead:
		if flags&paging.FlagR == 0 {
			return fmt.Errorf("not readable")
		}
	case AccessWrite:
		if flags&paging.FlagW == 0 {
			return fmt.Errorf("not writable")
		}
	case AccessFetch:
		if flags&paging.FlagX == 0 {
			return fmt.Errorf("not executable")
		}
	}
	return nil
}
