package config

import (
	"strings"
	"testing"
)

func TestDefaults(t *testing.T) {
	if Trampoline != 0x7F_FFFF_F000 {
		t.Errorf("trampoline = 0x%x", Trampoline)
	}
	if Trampoline%PageSize != 0 {
		t.Error("trampoline must be page aligned")
	}

	board := DefaultBoard()
	if err := board.Validate(); err != nil {
		t.Errorf("default board invalid: %v", err)
	}
	if board.MemoryEnd-board.RAMBase != 0x80_0000 {
		t.Errorf("default RAM is %d bytes, want 8 MiB", board.MemoryEnd-board.RAMBase)
	}

	layout := DefaultImageLayout()
	if layout.SText >= layout.EText || layout.EKernel > MemoryEnd {
		t.Error("default layout is inconsistent")
	}
	if layout.SText%PageSize != 0 {
		t.Error("text must start page aligned")
	}
}

func TestLoadBoard(t *testing.T) {
	const doc = `
name: test-virt
ram_base: 0x80000000
memory_end: 0x80800000
mmio:
  - base: 0x10001000
    size: 0x1000
  - base: 0x10002000
    size: 0x2000
`
	board, err := LoadBoard(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("LoadBoard: %v", err)
	}
	if board.Name != "test-virt" {
		t.Errorf("name = %q", board.Name)
	}
	if len(board.MMIO) != 2 || board.MMIO[0].Base != 0x1000_1000 || board.MMIO[1].Size != 0x2000 {
		t.Errorf("mmio = %+v", board.MMIO)
	}
}

func TestLoadBoardRejectsUnaligned(t *testing.T) {
	const doc = `
name: broken
mmio:
  - base: 0x10001234
    size: 0x1000
`
	if _, err := LoadBoard(strings.NewReader(doc)); err == nil {
		t.Fatal("unaligned MMIO window must be rejected")
	}
}

func TestValidateRejectsEmptyWindow(t *testing.T) {
	b := Board{Name: "empty", RAMBase: 0x8000_0000, MemoryEnd: 0x8000_0000}
	if err := b.Validate(); err == nil {
		t.Fatal("empty RAM window must be rejected")
	}
}
