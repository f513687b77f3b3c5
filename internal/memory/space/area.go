// Package space builds address spaces out of virtual memory areas: a page
// table plus a set of areas that own their backing frames and install or
// remove their mappings as a unit.
package space

import (
	"github.com/GrassedgeT/Grass/internal/config"
	"github.com/GrassedgeT/Grass/internal/memory/addr"
	"github.com/GrassedgeT/Grass/internal/memory/frame"
	"github.com/GrassedgeT/Grass/internal/memory/paging"
	"github.com/GrassedgeT/Grass/internal/sbi"
)

// MapType selects how an area finds its physical pages.
type MapType int

const (
	// MapDirect maps each page to the equal physical page (PPN = VPN).
	// Valid only while the kernel is linked at its load address.
	MapDirect MapType = iota
	// MapFramed backs each page with a frame owned by the area.
	MapFramed
)

func (t MapType) String() string {
	switch t {
	case MapDirect:
		return "direct"
	case MapFramed:
		return "framed"
	default:
		return "unknown"
	}
}

// MapPerm is the access permission of an area. The bit positions match the
// R/W/X/U PTE flags; V is added at mapping time.
type MapPerm uint8

const (
	PermR MapPerm = 1 << 1
	PermW MapPerm = 1 << 2
	PermX MapPerm = 1 << 3
	PermU MapPerm = 1 << 4
)

// PTEFlags converts the permission to page-table entry flags.
func (p MapPerm) PTEFlags() paging.PTEFlags {
	return paging.PTEFlags(p)
}

// VmArea is a half-open range of virtual pages with one permission and one
// mapping strategy. A Framed area owns the frames behind its pages.
type VmArea struct {
	rng     addr.VPNRange
	mapType MapType
	perm    MapPerm

	// frames backs Framed areas: one entry per VPN exactly while the
	// area is mapped.
	frames map[addr.VirtPageNum]*frame.Frame
}

// NewVmArea spans [start, end) rounded outward to page boundaries.
func NewVmArea(start, end addr.VirtAddr, mapType MapType, perm MapPerm) *VmArea {
	return &VmArea{
		rng:     addr.VPNRange{Start: start.Floor(), End: end.Ceil()},
		mapType: mapType,
		perm:    perm,
		frames:  make(map[addr.VirtPageNum]*frame.Frame),
	}
}

// CloneShape copies the range, permission and map type but none of the
// frames. Used when duplicating an address space; data is copied separately.
func (a *VmArea) CloneShape() *VmArea {
	return &VmArea{
		rng:     a.rng,
		mapType: a.mapType,
		perm:    a.perm,
		frames:  make(map[addr.VirtPageNum]*frame.Frame),
	}
}

// Range is the area's page range.
func (a *VmArea) Range() addr.VPNRange {
	return a.rng
}

// StartVPN is the first page of the area.
func (a *VmArea) StartVPN() addr.VirtPageNum {
	return a.rng.Start
}

// Perm is the area's permission.
func (a *VmArea) Perm() MapPerm {
	return a.perm
}

// MapInto installs a leaf mapping for every page of the area. Framed pages
// get a fresh zeroed frame each.
func (a *VmArea) MapInto(pt *paging.PageTable) {
	for vpn := a.rng.Start; vpn < a.rng.End; vpn++ {
		var ppn addr.PhysPageNum
		switch a.mapType {
		case MapDirect:
			ppn = addr.NewPhysPageNum(uint64(vpn))
		case MapFramed:
			f := frame.Alloc(pt.Pool())
			a.frames[vpn] = f
			ppn = f.PPN
		}
		pt.Map(vpn, ppn, a.perm.PTEFlags())
	}
}

// UnmapFrom removes every page of the area and releases Framed frames.
// Called once, when the area is torn down.
func (a *VmArea) UnmapFrom(pt *paging.PageTable) {
	for vpn := a.rng.Start; vpn < a.rng.End; vpn++ {
		pt.Unmap(vpn)
		if a.mapType == MapFramed {
			a.frames[vpn].Release()
			delete(a.frames, vpn)
		}
	}
}

// CopyData writes data into the frames backing the area, page by page from
// the start; the last page may be partial. The area must be Framed and
// already mapped; its frames are zeroed on allocation, so any memsz tail
// beyond the data stays zero.
func (a *VmArea) CopyData(pt *paging.PageTable, data []byte) {
	if a.mapType != MapFramed {
		sbi.Panic("copy into %v area %v", a.mapType, a.rng)
	}
	if uint64(len(data)) > a.rng.Count()*config.PageSize {
		sbi.Panic("data (%d bytes) overflows area %v", len(data), a.rng)
	}

	pool := pt.Pool()
	for vpn := a.rng.Start; len(data) > 0; vpn++ {
		f, ok := a.frames[vpn]
		if !ok {
			sbi.Panic("copy into unmapped page %v of area %v", vpn, a.rng)
		}
		n := copy(pool.Page(f.PPN), data)
		data = data[n:]
	}
}
