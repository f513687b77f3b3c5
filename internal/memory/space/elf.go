package space

import (
	"bytes"
	"debug/elf"
	"io"
	"log/slog"

	"github.com/GrassedgeT/Grass/internal/config"
	"github.com/GrassedgeT/Grass/internal/memory/addr"
	"github.com/GrassedgeT/Grass/internal/memory/physmem"
	"github.com/GrassedgeT/Grass/internal/sbi"
)

var elfMagic = []byte{0x7F, 'E', 'L', 'F'}

// FromELF builds a user space from an ELF image: trampoline first, then one
// Framed area per LOAD segment with U plus the segment's R/W/X. It returns
// the space, the base of the user stack (one guard page above the image)
// and the image's entry point. A malformed image is fatal.
func FromELF(pool *physmem.Pool, data []byte) (*MemorySpace, uint64, uint64) {
	if len(data) < len(elfMagic) || !bytes.Equal(data[:len(elfMagic)], elfMagic) {
		sbi.Panic("user image is not an ELF")
	}
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		sbi.Panic("parse user ELF: %v", err)
	}
	defer f.Close()

	ms := NewBare(pool)
	ms.MapTrampoline()

	var maxEndVA uint64
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}

		perm := PermU
		if prog.Flags&elf.PF_R != 0 {
			perm |= PermR
		}
		if prog.Flags&elf.PF_W != 0 {
			perm |= PermW
		}
		if prog.Flags&elf.PF_X != 0 {
			perm |= PermX
		}

		start := addr.NewVirtAddr(prog.Vaddr)
		end := addr.NewVirtAddr(prog.Vaddr + prog.Memsz)
		slog.Debug("loading segment", "start", start, "end", end, "filesz", prog.Filesz, "memsz", prog.Memsz)

		segment := make([]byte, prog.Filesz)
		if _, err := io.ReadFull(prog.Open(), segment); err != nil {
			sbi.Panic("read ELF segment at %v: %v", start, err)
		}

		ms.Push(NewVmArea(start, end, MapFramed, perm), segment)

		if endVA := prog.Vaddr + prog.Memsz; endVA > maxEndVA {
			maxEndVA = endVA
		}
	}

	// One unmapped guard page between the image and the user stack.
	userStackBase := uint64(addr.NewVirtAddr(maxEndVA).Ceil())*config.PageSize + config.PageSize

	return ms, userStackBase, f.Entry
}
