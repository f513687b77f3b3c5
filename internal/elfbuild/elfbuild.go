// Package elfbuild assembles minimal ELF64 executables in memory. The demo
// command and the loader tests use it to produce RISC-V user images without
// a cross toolchain.
package elfbuild

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
)

const (
	ehdrSize = 64
	phdrSize = 56
)

// Segment is one loadable program segment. MemSize below len(Data) is
// raised to len(Data).
type Segment struct {
	Vaddr   uint64
	Flags   elf.ProgFlag
	Data    []byte
	MemSize uint64
}

// Build produces an executable RISC-V ELF64 image with the given entry
// point and segments.
func Build(entry uint64, segments ...Segment) []byte {
	var buf bytes.Buffer
	le := binary.LittleEndian

	ident := [16]byte{0x7F, 'E', 'L', 'F',
		byte(elf.ELFCLASS64), byte(elf.ELFDATA2LSB), byte(elf.EV_CURRENT)}
	buf.Write(ident[:])

	w16 := func(v uint16) { binary.Write(&buf, le, v) }
	w32 := func(v uint32) { binary.Write(&buf, le, v) }
	w64 := func(v uint64) { binary.Write(&buf, le, v) }

	w16(uint16(elf.ET_EXEC))
	w16(uint16(elf.EM_RISCV))
	w32(uint32(elf.EV_CURRENT))
	w64(entry)
	w64(ehdrSize) // e_phoff: program headers follow the ELF header
	w64(0)        // e_shoff: no sections
	w32(0)        // e_flags
	w16(ehdrSize)
	w16(phdrSize)
	w16(uint16(len(segments)))
	w16(0) // e_shentsize
	w16(0) // e_shnum
	w16(0) // e_shstrndx

	offset := uint64(ehdrSize + phdrSize*len(segments))
	for _, seg := range segments {
		memsz := seg.MemSize
		if memsz < uint64(len(seg.Data)) {
			memsz = uint64(len(seg.Data))
		}
		w32(uint32(elf.PT_LOAD))
		w32(uint32(seg.Flags))
		w64(offset) // p_offset
		w64(seg.Vaddr)
		w64(seg.Vaddr) // p_paddr
		w64(uint64(len(seg.Data)))
		w64(memsz)
		w64(0x1000) // p_align
		offset += uint64(len(seg.Data))
	}

	for _, seg := range segments {
		buf.Write(seg.Data)
	}
	return buf.Bytes()
}
