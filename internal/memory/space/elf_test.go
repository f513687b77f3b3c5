package space

import (
	"debug/elf"
	"testing"

	"github.com/GrassedgeT/Grass/internal/elfbuild"
	"github.com/GrassedgeT/Grass/internal/memory/addr"
	"github.com/GrassedgeT/Grass/internal/memory/frame"
	"github.com/GrassedgeT/Grass/internal/memory/paging"
)

func patternImage() []byte {
	data := make([]byte, 0x2500)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return elfbuild.Build(0x10000, elfbuild.Segment{
		Vaddr:   0x10000,
		Flags:   elf.PF_R | elf.PF_X,
		Data:    data,
		MemSize: 0x3000,
	})
}

func readVA(t *testing.T, pt *paging.PageTable, va uint64) byte {
	t.Helper()
	pa, ok := pt.TranslateVA(addr.NewVirtAddr(va))
	if !ok {
		t.Fatalf("no translation for VA 0x%x", va)
	}
	var b [1]byte
	if _, err := testPool.ReadAt(b[:], int64(pa)); err != nil {
		t.Fatalf("read PA %v: %v", pa, err)
	}
	return b[0]
}

func TestFromELF(t *testing.T) {
	ms, stackBase, entry := FromELF(testPool, patternImage())
	defer ms.Release()

	if entry != 0x10000 {
		t.Errorf("entry = 0x%x", entry)
	}
	if stackBase != 0x14000 {
		t.Errorf("user stack base = 0x%x, want 0x14000", stackBase)
	}

	areas := ms.Areas()
	if len(areas) != 1 {
		t.Fatalf("got %d areas, want 1", len(areas))
	}
	rng := areas[0].Range()
	if rng.Start != 0x10 || rng.End != 0x13 {
		t.Errorf("segment range = %v, want [0x10, 0x13)", rng)
	}
	if areas[0].Perm() != PermU|PermR|PermX {
		t.Errorf("segment perm = %#x, want U|R|X", areas[0].Perm())
	}

	// File-backed bytes carry the pattern; the memsz tail reads zero.
	for _, va := range []uint64{0x10000, 0x10001, 0x11FFF, 0x124FF} {
		want := byte((va - 0x10000) % 251)
		if got := readVA(t, ms.PageTable(), va); got != want {
			t.Errorf("byte at 0x%x = 0x%02x, want 0x%02x", va, got, want)
		}
	}
	for _, va := range []uint64{0x12500, 0x12FFF} {
		if got := readVA(t, ms.PageTable(), va); got != 0 {
			t.Errorf("tail byte at 0x%x = 0x%02x, want zero", va, got)
		}
	}

	// The guard page above the image is unmapped.
	if _, ok := ms.PageTable().Translate(addr.NewVirtPageNum(0x13)); ok {
		t.Error("guard page must stay unmapped")
	}

	// The trampoline is installed, with U clear.
	pte, ok := ms.PageTable().FindPTE(TrampolineVPN)
	if !ok || !pte.Valid() || !pte.Readable() || !pte.Executable() || pte.User() {
		t.Errorf("trampoline PTE wrong: %v", pte)
	}
}

func TestFromELFRejectsBadMagic(t *testing.T) {
	image := patternImage()
	image[0] = 0x00
	if p := catchPanic(func() { FromELF(testPool, image) }); p == nil {
		t.Fatal("bad magic must panic")
	}
}

func TestFromExistedUserClones(t *testing.T) {
	src, _, _ := FromELF(testPool, patternImage())
	defer src.Release()

	dst := FromExistedUser(src)
	defer dst.Release()

	for _, area := range src.Areas() {
		rng := area.Range()
		for vpn := rng.Start; vpn < rng.End; vpn++ {
			srcPPN, ok := src.PageTable().Translate(vpn)
			if !ok {
				t.Fatalf("source %v unmapped", vpn)
			}
			dstPPN, ok := dst.PageTable().Translate(vpn)
			if !ok {
				t.Fatalf("clone %v unmapped", vpn)
			}
			if srcPPN == dstPPN {
				t.Errorf("%v shares backing frame %v with source", vpn, srcPPN)
			}

			srcPage := testPool.Page(srcPPN)
			dstPage := testPool.Page(dstPPN)
			for i := range srcPage {
				if srcPage[i] != dstPage[i] {
					t.Fatalf("%v byte %d differs: 0x%02x vs 0x%02x", vpn, i, srcPage[i], dstPage[i])
				}
			}
		}
	}
}

func TestRecycleDataPages(t *testing.T) {
	baseline := frame.Used()

	src, _, _ := FromELF(testPool, patternImage())
	clone := FromExistedUser(src)
	usedWithClone := frame.Used()

	clone.RecycleDataPages()

	// The clone's three data frames are back; its page table keeps its
	// root and directories.
	if got := usedWithClone - frame.Used(); got != 3 {
		t.Errorf("recycle released %d frames, want 3", got)
	}

	// The trampoline survives recycling.
	pte, ok := clone.PageTable().FindPTE(TrampolineVPN)
	if !ok || !pte.Valid() {
		t.Error("trampoline lost by recycle")
	}
	if len(clone.Areas()) != 0 {
		t.Error("areas must be empty after recycle")
	}

	// A recycled space can host a fresh image.
	clone.InsertFramedArea(addr.NewVirtAddr(0x10000), addr.NewVirtAddr(0x11000), PermU|PermR|PermW)

	clone.Release()
	src.Release()
	if frame.Used() != baseline {
		t.Errorf("leaked %d frames", frame.Used()-baseline)
	}
}
