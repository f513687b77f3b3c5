package space

import (
	"log/slog"
	"maps"
	"slices"

	"github.com/GrassedgeT/Grass/internal/config"
	"github.com/GrassedgeT/Grass/internal/ksync"
	"github.com/GrassedgeT/Grass/internal/memory/addr"
	"github.com/GrassedgeT/Grass/internal/memory/paging"
	"github.com/GrassedgeT/Grass/internal/memory/physmem"
	"github.com/GrassedgeT/Grass/internal/riscv"
	"github.com/GrassedgeT/Grass/internal/sbi"
)

// TrampolineVPN is the highest virtual page, where every address space maps
// the trampoline.
var TrampolineVPN = addr.NewVirtAddr(config.Trampoline).Floor()

// strampoline is the physical address of the trampoline page in the kernel
// image. On hardware it is a linker symbol; SetTrampoline publishes it
// during bring-up.
var strampoline addr.PhysAddr

// SetTrampoline records where the boot image placed the trampoline page.
func SetTrampoline(pa addr.PhysAddr) {
	if !pa.Aligned() {
		sbi.Panic("trampoline at unaligned %v", pa)
	}
	strampoline = pa
}

// MemorySpace is one address space: a page table plus the areas mapped
// into it, keyed by their start page. The trampoline mapping is installed
// directly in the page table and never appears in areas.
type MemorySpace struct {
	pageTable *paging.PageTable
	areas     map[addr.VirtPageNum]*VmArea
}

// NewBare creates an empty space: fresh page table, no areas, no
// trampoline.
func NewBare(pool *physmem.Pool) *MemorySpace {
	return &MemorySpace{
		pageTable: paging.New(pool),
		areas:     make(map[addr.VirtPageNum]*VmArea),
	}
}

// PageTable exposes the space's page table for translation.
func (ms *MemorySpace) PageTable() *paging.PageTable {
	return ms.pageTable
}

// SATPToken delegates to the page table.
func (ms *MemorySpace) SATPToken() uint64 {
	return ms.pageTable.SATPToken()
}

// MapTrampoline installs the trampoline leaf: top virtual page, R|X, kept
// out of areas so RecycleDataPages preserves it.
func (ms *MemorySpace) MapTrampoline() {
	if strampoline == 0 {
		sbi.Panic("trampoline address not set")
	}
	ms.pageTable.Map(TrampolineVPN, strampoline.Floor(), paging.FlagR|paging.FlagX)
}

// Push maps an area into the space, optionally copies data into it, and
// records it. Overlap with an existing area is fatal.
func (ms *MemorySpace) Push(area *VmArea, data []byte) {
	for _, existing := range ms.areas {
		if existing.Range().Overlaps(area.Range()) {
			sbi.Panic("area %v overlaps %v", area.Range(), existing.Range())
		}
	}
	area.MapInto(ms.pageTable)
	if data != nil {
		area.CopyData(ms.pageTable, data)
	}
	ms.areas[area.StartVPN()] = area
}

// InsertFramedArea maps an ad-hoc Framed region.
func (ms *MemorySpace) InsertFramedArea(start, end addr.VirtAddr, perm MapPerm) {
	ms.Push(NewVmArea(start, end, MapFramed, perm), nil)
}

// RemoveAreaWithStartVPN unmaps and drops the area starting at vpn. No-op
// if there is none.
func (ms *MemorySpace) RemoveAreaWithStartVPN(vpn addr.VirtPageNum) {
	area, ok := ms.areas[vpn]
	if !ok {
		return
	}
	area.UnmapFrom(ms.pageTable)
	delete(ms.areas, vpn)
}

// RecycleDataPages tears down every area, releasing their frames. The
// trampoline mapping and the page table survive, so the space can be
// repopulated for a respawned process.
func (ms *MemorySpace) RecycleDataPages() {
	for _, vpn := range ms.sortedStarts() {
		ms.areas[vpn].UnmapFrom(ms.pageTable)
	}
	clear(ms.areas)
}

// Activate points the hart at this space and fences the whole TLB.
func (ms *MemorySpace) Activate(hart *riscv.Hart) {
	hart.WriteSATP(ms.SATPToken())
	hart.SfenceVMA()
}

// Release destroys the space: all areas, then the page table.
func (ms *MemorySpace) Release() {
	ms.RecycleDataPages()
	ms.pageTable.Release()
}

// Areas returns the areas ordered by start page.
func (ms *MemorySpace) Areas() []*VmArea {
	starts := ms.sortedStarts()
	out := make([]*VmArea, len(starts))
	for i, vpn := range starts {
		out[i] = ms.areas[vpn]
	}
	return out
}

func (ms *MemorySpace) sortedStarts() []addr.VirtPageNum {
	return slices.Sorted(maps.Keys(ms.areas))
}

// NewKernel builds the kernel space: trampoline, then Direct areas for the
// image sections, the free physical memory, and the board's MMIO windows.
func NewKernel(pool *physmem.Pool, layout config.ImageLayout, board config.Board) *MemorySpace {
	ms := NewBare(pool)
	ms.MapTrampoline()

	section := func(name string, start, end uint64, perm MapPerm) {
		slog.Info("mapping kernel section", "name", name, "start", addr.NewPhysAddr(start), "end", addr.NewPhysAddr(end))
		ms.Push(NewVmArea(addr.NewVirtAddr(start), addr.NewVirtAddr(end), MapDirect, perm), nil)
	}

	section(".text", layout.SText, layout.EText, PermR|PermX)
	section(".rodata", layout.SROData, layout.ERoData, PermR)
	section(".data", layout.SData, layout.EData, PermR|PermW)
	section(".stack", layout.SStack, layout.EStack, PermR|PermW)
	section(".bss", layout.SBSS, layout.EBSS, PermR|PermW)
	section("physical memory", layout.EKernel, board.MemoryEnd, PermR|PermW)
	for _, w := range board.MMIO {
		section("mmio", w.Base, w.Base+w.Size, PermR|PermW)
	}
	return ms
}

// FromExistedUser duplicates a user space: same areas, fresh frames, same
// bytes. The trampoline is re-installed rather than copied.
func FromExistedUser(src *MemorySpace) *MemorySpace {
	ms := NewBare(src.pageTable.Pool())
	ms.MapTrampoline()

	pool := src.pageTable.Pool()
	for _, area := range src.Areas() {
		ms.Push(area.CloneShape(), nil)
		rng := area.Range()
		for vpn := rng.Start; vpn < rng.End; vpn++ {
			srcPPN, ok := src.pageTable.Translate(vpn)
			if !ok {
				sbi.Panic("source page %v vanished during clone", vpn)
			}
			dstPPN, ok := ms.pageTable.Translate(vpn)
			if !ok {
				sbi.Panic("clone page %v missing after map", vpn)
			}
			copy(pool.Page(dstPPN), pool.Page(srcPPN))
		}
	}
	return ms
}

var kernelSpace *ksync.Cell[*MemorySpace]

// InitKernel constructs the global kernel space. Called once at bring-up,
// after the frame allocator is ready.
func InitKernel(pool *physmem.Pool, layout config.ImageLayout, board config.Board) {
	if kernelSpace != nil {
		sbi.Panic("kernel space initialized twice")
	}
	SetTrampoline(addr.NewPhysAddr(layout.STrampoline))
	kernelSpace = ksync.NewCell(NewKernel(pool, layout, board))
}

// WithKernel runs f with exclusive access to the kernel space.
func WithKernel(f func(*MemorySpace)) {
	if kernelSpace == nil {
		sbi.Panic("kernel space not initialized")
	}
	kernelSpace.With(func(ms **MemorySpace) {
		f(*ms)
	})
}

// KernelSATP is the kernel space's satp token.
func KernelSATP() uint64 {
	var token uint64
	WithKernel(func(ms *MemorySpace) {
		token = ms.SATPToken()
	})
	return token
}

// CheckKernelLayout verifies the section permissions of a kernel space
// against its layout: text must be executable and never writable, rodata
// read-only, data non-executable. Bring-up runs it right after activation;
// violations are fatal.
func CheckKernelLayout(ms *MemorySpace, layout config.ImageLayout) {
	midText := addr.NewVirtAddr((layout.SText + layout.EText) / 2)
	midROData := addr.NewVirtAddr((layout.SROData + layout.ERoData) / 2)
	midData := addr.NewVirtAddr((layout.SData + layout.EData) / 2)

	pte, ok := ms.pageTable.FindPTE(midText.Floor())
	if !ok || !pte.Valid() || pte.Writable() || !pte.Executable() {
		sbi.Panic("remap test: .text mapping wrong (%v)", pte)
	}
	pte, ok = ms.pageTable.FindPTE(midROData.Floor())
	if !ok || !pte.Valid() || pte.Writable() {
		sbi.Panic("remap test: .rodata mapping wrong (%v)", pte)
	}
	pte, ok = ms.pageTable.FindPTE(midData.Floor())
	if !ok || !pte.Valid() || pte.Executable() {
		sbi.Panic("remap test: .data mapping wrong (%v)", pte)
	}
	slog.Info("remap test passed")
}
