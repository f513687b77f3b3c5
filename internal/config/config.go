// Package config holds the memory-layout constants of the kernel and the
// description of the board it runs on.
package config

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Memory constants
const (
	PageSize     = 0x1000 // 4 KiB pages
	PageSizeBits = 12

	// RAMBase is the start of usable RAM on qemu-virt.
	RAMBase = 0x8000_0000
	// MemoryEnd is the end of usable RAM. RAM is 8 MiB.
	MemoryEnd = 0x8080_0000

	// KernelHeapSize is the size of the kernel heap (2 MiB).
	KernelHeapSize = 0x20_0000

	// FramePoolOrder is the largest buddy block, in pages (2^23 pages
	// covers the whole 8 MiB pool with room to spare).
	FramePoolOrder = 23
)

// Sv39 widths
const (
	PAWidth  = 56
	VAWidth  = 39
	PPNWidth = PAWidth - PageSizeBits
	VPNWidth = VAWidth - PageSizeBits
)

// Trampoline is the virtual address of the trampoline page: the highest
// page of the Sv39 virtual address space.
const Trampoline = (1 << VAWidth) - PageSize

// ImageLayout carries the section boundaries of the linked kernel image.
// On hardware these are linker-provided symbols; here they describe where
// the image sits in the physical pool (no image bytes are written there).
type ImageLayout struct {
	SText       uint64 `yaml:"stext"`
	EText       uint64 `yaml:"etext"`
	SROData     uint64 `yaml:"srodata"`
	ERoData     uint64 `yaml:"erodata"`
	SData       uint64 `yaml:"sdata"`
	EData       uint64 `yaml:"edata"`
	SStack      uint64 `yaml:"sstack"`
	EStack      uint64 `yaml:"estack"`
	SBSS        uint64 `yaml:"sbss"`
	EBSS        uint64 `yaml:"ebss"`
	EKernel     uint64 `yaml:"ekernel"`
	STrampoline uint64 `yaml:"strampoline"`
}

// DefaultImageLayout mirrors the original linker script: the image is
// linked at 0x8020_0000 with contiguous sections and a 64 KiB boot stack.
func DefaultImageLayout() ImageLayout {
	return ImageLayout{
		SText:       0x8020_0000,
		EText:       0x8020_4000,
		SROData:     0x8020_4000,
		ERoData:     0x8020_6000,
		SData:       0x8020_6000,
		EData:       0x8020_8000,
		SStack:      0x8020_8000,
		EStack:      0x8021_8000,
		SBSS:        0x8021_8000,
		EBSS:        0x8022_0000,
		EKernel:     0x8022_0000,
		STrampoline: 0x8020_0000,
	}
}

// MMIOWindow is a memory-mapped I/O range, page aligned.
type MMIOWindow struct {
	Base uint64 `yaml:"base"`
	Size uint64 `yaml:"size"`
}

// Board describes the machine: the RAM extent and its MMIO windows.
type Board struct {
	Name      string       `yaml:"name"`
	RAMBase   uint64       `yaml:"ram_base"`
	MemoryEnd uint64       `yaml:"memory_end"`
	MMIO      []MMIOWindow `yaml:"mmio"`
}

// DefaultBoard returns the qemu-virt board with no MMIO windows mapped.
func DefaultBoard() Board {
	return Board{
		Name:      "qemu-virt",
		RAMBase:   RAMBase,
		MemoryEnd: MemoryEnd,
	}
}

// LoadBoard reads a YAML board description.
func LoadBoard(r io.Reader) (Board, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Board{}, fmt.Errorf("read board config: %w", err)
	}

	board := DefaultBoard()
	if err := yaml.Unmarshal(data, &board); err != nil {
		return Board{}, fmt.Errorf("parse board config: %w", err)
	}

	if err := board.Validate(); err != nil {
		return Board{}, err
	}
	return board, nil
}

// Validate checks alignment and ordering of the board description.
func (b Board) Validate() error {
	if b.RAMBase%PageSize != 0 || b.MemoryEnd%PageSize != 0 {
		return fmt.Errorf("board %q: RAM window [0x%x, 0x%x) is not page aligned", b.Name, b.RAMBase, b.MemoryEnd)
	}
	if b.MemoryEnd <= b.RAMBase {
		return fmt.Errorf("board %q: empty RAM window [0x%x, 0x%x)", b.Name, b.RAMBase, b.MemoryEnd)
	}
	for _, w := range b.MMIO {
		if w.Base%PageSize != 0 || w.Size%PageSize != 0 {
			return fmt.Errorf("board %q: MMIO window [0x%x, 0x%x) is not page aligned", b.Name, w.Base, w.Base+w.Size)
		}
	}
	return nil
}
