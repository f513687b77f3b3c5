package physmem

import (
	"bytes"
	"testing"

	"github.com/GrassedgeT/Grass/internal/memory/addr"
	"github.com/GrassedgeT/Grass/internal/sbi"
)

func newTestPool(t *testing.T) *Pool {
	t.Helper()
	pool, err := NewPool(addr.NewPhysAddr(0x8000_0000), addr.NewPhysAddr(0x8004_0000))
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	return pool
}

func TestPoolStartsZeroed(t *testing.T) {
	pool := newTestPool(t)
	page := pool.Page(addr.NewPhysPageNum(0x80001))
	if len(page) != 4096 {
		t.Fatalf("page length %d", len(page))
	}
	for i, b := range page {
		if b != 0 {
			t.Fatalf("byte %d not zero", i)
		}
	}
}

func TestPageWriteReadBack(t *testing.T) {
	pool := newTestPool(t)
	ppn := addr.NewPhysPageNum(0x80002)

	page := pool.Page(ppn)
	for i := range page {
		page[i] = byte(i % 251)
	}

	got := make([]byte, 16)
	if _, err := pool.ReadAt(got, int64(ppn.Addr())); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	want := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}
	if !bytes.Equal(got, want) {
		t.Errorf("read back %v, want %v", got, want)
	}

	pool.Zero(ppn)
	if pool.Page(ppn)[100] != 0 {
		t.Error("Zero left data behind")
	}
}

func TestWriteAtReadAt(t *testing.T) {
	pool := newTestPool(t)
	payload := []byte("supervisor mode")

	if _, err := pool.WriteAt(payload, 0x8000_1234); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	got := make([]byte, len(payload))
	if _, err := pool.ReadAt(got, 0x8000_1234); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("got %q", got)
	}

	if _, err := pool.WriteAt([]byte{1}, 0x9000_0000); err == nil {
		t.Error("write outside the window must fail")
	}
}

func TestContains(t *testing.T) {
	pool := newTestPool(t)
	if !pool.Contains(addr.NewPhysPageNum(0x80000)) {
		t.Error("first frame must be inside")
	}
	if !pool.Contains(addr.NewPhysPageNum(0x8003F)) {
		t.Error("last frame must be inside")
	}
	if pool.Contains(addr.NewPhysPageNum(0x80040)) {
		t.Error("frame past the end must be outside")
	}
	if pool.Contains(addr.NewPhysPageNum(0x7FFFF)) {
		t.Error("frame before the base must be outside")
	}
}

func TestOutOfWindowAccessIsFatal(t *testing.T) {
	pool := newTestPool(t)
	p := catchPanic(func() {
		pool.Page(addr.NewPhysPageNum(0x12345))
	})
	if p == nil {
		t.Fatal("expected a kernel panic")
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
