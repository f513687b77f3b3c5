// Package grass is an educational RISC-V supervisor-mode kernel core,
// rendered as a simulated machine: physical memory is a real in-process
// pool, Sv39 page tables live in actual frames of that pool, and satp and
// sfence.vma hit a modeled hart. The package exposes the bring-up sequence;
// the memory subsystem itself lives under internal/memory.
package grass

import (
	"fmt"
	"log/slog"

	"github.com/GrassedgeT/Grass/internal/config"
	"github.com/GrassedgeT/Grass/internal/klog"
	"github.com/GrassedgeT/Grass/internal/memory/addr"
	"github.com/GrassedgeT/Grass/internal/memory/frame"
	"github.com/GrassedgeT/Grass/internal/memory/physmem"
	"github.com/GrassedgeT/Grass/internal/memory/space"
	"github.com/GrassedgeT/Grass/internal/riscv"
)

// Config selects the board and the kernel image layout.
type Config struct {
	Board  config.Board
	Layout config.ImageLayout
}

// DefaultConfig is qemu-virt with the stock image layout.
func DefaultConfig() Config {
	return Config{
		Board:  config.DefaultBoard(),
		Layout: config.DefaultImageLayout(),
	}
}

// Kernel is one booted machine. The frame allocator and kernel address
// space are process-wide singletons, so at most one Kernel exists per
// process.
type Kernel struct {
	cfg  Config
	pool *physmem.Pool
	hart *riscv.Hart
}

// New validates the configuration and prepares a machine.
func New(cfg Config) (*Kernel, error) {
	if err := cfg.Board.Validate(); err != nil {
		return nil, err
	}
	if cfg.Layout.EKernel >= cfg.Board.MemoryEnd {
		return nil, fmt.Errorf("kernel image ends at 0x%x, past RAM end 0x%x", cfg.Layout.EKernel, cfg.Board.MemoryEnd)
	}
	return &Kernel{cfg: cfg}, nil
}

// Boot runs the bring-up sequence of the original kernel: logger, physical
// memory, frame allocator, kernel address space, activation, remap check.
func (k *Kernel) Boot() error {
	klog.Init()

	pool, err := physmem.NewPool(
		addr.NewPhysAddr(k.cfg.Board.RAMBase),
		addr.NewPhysAddr(k.cfg.Board.MemoryEnd),
	)
	if err != nil {
		return err
	}
	k.pool = pool
	k.hart = riscv.NewHart(pool)

	slog.Info("initializing frame allocator")
	frame.Init(
		addr.NewPhysAddr(k.cfg.Layout.EKernel).Ceil(),
		addr.NewPhysAddr(k.cfg.Board.MemoryEnd).Floor(),
	)

	slog.Info("initializing kernel memory space")
	space.InitKernel(pool, k.cfg.Layout, k.cfg.Board)

	space.WithKernel(func(ms *space.MemorySpace) {
		ms.Activate(k.hart)
		space.CheckKernelLayout(ms, k.cfg.Layout)
	})

	slog.Info("memory subsystem up", "satp", fmt.Sprintf("0x%x", k.hart.SATP()))
	return nil
}

// LoadELF builds a user address space from an ELF image. It returns the
// space, the user stack base and the entry point.
func (k *Kernel) LoadELF(image []byte) (*space.MemorySpace, uint64, uint64) {
	return space.FromELF(k.pool, image)
}

// Hart is the machine's hart.
func (k *Kernel) Hart() *riscv.Hart {
	return k.hart
}

// Pool is the machine's physical memory.
func (k *Kernel) Pool() *physmem.Pool {
	return k.pool
}

// Close unmaps physical memory. The kernel must not be used afterwards.
func (k *Kernel) Close() error {
	if k.pool == nil {
		return nil
	}
	return k.pool.Close()
}
