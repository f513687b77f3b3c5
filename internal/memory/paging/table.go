package paging

import (
	"github.com/GrassedgeT/Grass/internal/config"
	"github.com/GrassedgeT/Grass/internal/memory/addr"
	"github.com/GrassedgeT/Grass/internal/memory/frame"
	"github.com/GrassedgeT/Grass/internal/memory/physmem"
	"github.com/GrassedgeT/Grass/internal/sbi"
)

// satpModeSv39 is the MODE field value selecting Sv39 translation.
const satpModeSv39 = 8

// PageTable is a three-level Sv39 page table. It owns its root frame and
// every directory frame it creates; leaf target frames belong to whoever
// installed the mapping.
type PageTable struct {
	pool *physmem.Pool
	root addr.PhysPageNum

	// frames holds the root frame and all interior directory frames.
	// Empty for non-owning views built from a satp token.
	frames []*frame.Frame
}

// New allocates a page table with a zeroed root frame.
func New(pool *physmem.Pool) *PageTable {
	root := frame.Alloc(pool)
	return &PageTable{
		pool:   pool,
		root:   root.PPN,
		frames: []*frame.Frame{root},
	}
}

// FromSATP builds a non-owning view of the table a satp token points at.
// The view holds no frames: it is a read-through window for transient
// translation and must not be released while the real owner is live.
func FromSATP(pool *physmem.Pool, token uint64) *PageTable {
	return &PageTable{
		pool: pool,
		root: addr.NewPhysPageNum(token & ((1 << config.PPNWidth) - 1)),
	}
}

// Pool is the physical memory the table's frames live in.
func (pt *PageTable) Pool() *physmem.Pool {
	return pt.pool
}

// RootPPN is the frame holding the root table.
func (pt *PageTable) RootPPN() addr.PhysPageNum {
	return pt.root
}

// SATPToken encodes the table for the satp register: Sv39 mode, ASID 0.
func (pt *PageTable) SATPToken() uint64 {
	return satpModeSv39<<60 | uint64(pt.root)
}

// findPTEOrCreate walks to the leaf entry for vpn, allocating zeroed
// directory frames for missing intermediate levels. Directory entries get
// only the V bit, so they stay non-leaf.
func (pt *PageTable) findPTEOrCreate(vpn addr.VirtPageNum) (PTEPage, uint64) {
	idx := vpn.Indices()
	table := PTEsOf(pt.pool, pt.root)
	for level := 0; ; level++ {
		if level == 2 {
			return table, idx[level]
		}
		entry := table.At(idx[level])
		if !entry.Valid() {
			dir := frame.Alloc(pt.pool)
			pt.frames = append(pt.frames, dir)
			entry = NewPTE(dir.PPN, FlagV)
			table.Set(idx[level], entry)
		}
		table = PTEsOf(pt.pool, entry.PPN())
	}
}

// findPTE walks to the leaf entry for vpn without allocating. The second
// return is false if an intermediate level is missing.
func (pt *PageTable) findPTE(vpn addr.VirtPageNum) (PTEPage, uint64, bool) {
	idx := vpn.Indices()
	table := PTEsOf(pt.pool, pt.root)
	for level := 0; ; level++ {
		if level == 2 {
			return table, idx[level], true
		}
		entry := table.At(idx[level])
		if !entry.Valid() {
			return PTEPage{}, 0, false
		}
		table = PTEsOf(pt.pool, entry.PPN())
	}
}

// Map installs a leaf mapping vpn -> ppn with the given flags (V is added).
// Mapping an already-valid leaf is fatal.
func (pt *PageTable) Map(vpn addr.VirtPageNum, ppn addr.PhysPageNum, flags PTEFlags) {
	table, i := pt.findPTEOrCreate(vpn)
	if table.At(i).Valid() {
		sbi.Panic("%v is already mapped (%v)", vpn, table.At(i))
	}
	table.Set(i, NewPTE(ppn, flags|FlagV))
}

// Unmap removes the leaf mapping for vpn. Unmapping an invalid leaf is
// fatal. Interior directory frames are not reclaimed.
func (pt *PageTable) Unmap(vpn addr.VirtPageNum) {
	table, i, ok := pt.findPTE(vpn)
	if !ok || !table.At(i).Valid() {
		sbi.Panic("%v is not mapped", vpn)
	}
	table.Set(i, EmptyPTE)
}

// FindPTE returns the leaf entry for vpn, if the walk completes.
func (pt *PageTable) FindPTE(vpn addr.VirtPageNum) (PTE, bool) {
	table, i, ok := pt.findPTE(vpn)
	if !ok {
		return EmptyPTE, false
	}
	return table.At(i), true
}

// Translate returns the physical page mapped at vpn.
func (pt *PageTable) Translate(vpn addr.VirtPageNum) (addr.PhysPageNum, bool) {
	pte, ok := pt.FindPTE(vpn)
	if !ok || !pte.Valid() {
		return 0, false
	}
	return pte.PPN(), true
}

// TranslateVA resolves a virtual address through the table, keeping the
// page offset. Valid for Direct and Framed mappings alike.
func (pt *PageTable) TranslateVA(va addr.VirtAddr) (addr.PhysAddr, bool) {
	ppn, ok := pt.Translate(va.Floor())
	if !ok {
		return 0, false
	}
	return ppn.Addr() + addr.PhysAddr(va.PageOffset()), true
}

// Release returns the root and directory frames. The table must outlive
// every mapping installed through it; on a non-owning view this is a no-op.
func (pt *PageTable) Release() {
	for i := len(pt.frames) - 1; i >= 0; i-- {
		pt.frames[i].Release()
	}
	pt.frames = nil
}
