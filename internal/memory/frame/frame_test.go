package frame

import (
	"testing"

	"github.com/GrassedgeT/Grass/internal/memory/addr"
	"github.com/GrassedgeT/Grass/internal/memory/physmem"
	"github.com/GrassedgeT/Grass/internal/sbi"
)

func initTestAllocator(t *testing.T) *physmem.Pool {
	t.Helper()
	reset()
	pool, err := physmem.NewPool(addr.NewPhysAddr(0x8000_0000), addr.NewPhysAddr(0x8004_0000))
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	t.Cleanup(func() {
		pool.Close()
		reset()
	})
	Init(addr.NewPhysPageNum(0x80000), addr.NewPhysPageNum(0x80040))
	return pool
}

func TestHandleLifecycle(t *testing.T) {
	pool := initTestAllocator(t)

	f := Alloc(pool)
	if Used() != 1 {
		t.Errorf("used = %d after one alloc", Used())
	}
	page := pool.Page(f.PPN)
	for i, b := range page {
		if b != 0 {
			t.Fatalf("fresh frame byte %d not zero", i)
		}
	}
	page[0] = 0xAA

	f.Release()
	if Used() != 0 {
		t.Errorf("used = %d after release", Used())
	}
}

func TestFramesHandleReleasesWholeRun(t *testing.T) {
	pool := initTestAllocator(t)

	fs := AllocN(pool, 5)
	if fs.Num != 5 {
		t.Fatalf("num = %d", fs.Num)
	}
	if Used() != 8 {
		t.Errorf("used = %d after alloc(5), want the rounded 8", Used())
	}
	for i := uint64(0); i < fs.Num; i++ {
		pool.Page(fs.PPN + addr.PhysPageNum(i))
	}

	fs.Release()
	if Used() != 0 {
		t.Errorf("used = %d after release", Used())
	}
}

func TestStaleFrameContentIsZeroedOnRealloc(t *testing.T) {
	pool := initTestAllocator(t)

	f := Alloc(pool)
	pool.Page(f.PPN)[123] = 0x55
	ppn := f.PPN
	f.Release()

	g := Alloc(pool)
	if g.PPN != ppn {
		t.Fatalf("expected the freed frame back, got %v (freed %v)", g.PPN, ppn)
	}
	if pool.Page(g.PPN)[123] != 0 {
		t.Error("re-allocated frame not zeroed")
	}
	g.Release()
}

func TestDoubleReleaseIsFatal(t *testing.T) {
	pool := initTestAllocator(t)

	f := Alloc(pool)
	f.Release()
	if p := catchPanic(func() { f.Release() }); p == nil {
		t.Fatal("double release must panic")
	}
}

func TestDoubleInitIsFatal(t *testing.T) {
	initTestAllocator(t)
	if p := catchPanic(func() {
		Init(addr.NewPhysPageNum(0x80000), addr.NewPhysPageNum(0x80040))
	}); p == nil {
		t.Fatal("second Init must panic")
	}
}

func catchPanic(f func()) (p *sbi.KernelPanic) {
	defer func() {
		if r := recover(); r != nil {
			if kp, ok := r.(*sbi.KernelPanic); ok {
				p = kp
				return
			}
			panic(r)
		}
	}()
	f()
	return nil
}
