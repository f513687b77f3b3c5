// Command grass boots the simulated kernel: memory subsystem bring-up, the
// remap self-check, and loading a small demo user image. It is the moral
// equivalent of the original kernel's main, with the panic handler at the
// outermost frame.
package main

import (
	"debug/elf"
	"flag"
	"fmt"
	"log/slog"
	"os"

	grass "github.com/GrassedgeT/Grass"
	"github.com/GrassedgeT/Grass/internal/config"
	"github.com/GrassedgeT/Grass/internal/elfbuild"
	"github.com/GrassedgeT/Grass/internal/memory/addr"
	"github.com/GrassedgeT/Grass/internal/riscv"
	"github.com/GrassedgeT/Grass/internal/sbi"
)

func run() error {
	boardPath := flag.String("board", "", "YAML board description (default: qemu-virt)")
	flag.Parse()

	cfg := grass.DefaultConfig()
	if *boardPath != "" {
		f, err := os.Open(*boardPath)
		if err != nil {
			return err
		}
		board, err := config.LoadBoard(f)
		f.Close()
		if err != nil {
			return err
		}
		cfg.Board = board
	}

	kernel, err := grass.New(cfg)
	if err != nil {
		return err
	}
	defer kernel.Close()

	if err := kernel.Boot(); err != nil {
		return err
	}
	slog.Info("Hello, world!")

	// Load a demo user image: one R|X segment with a recognizable pattern
	// and a zeroed tail.
	pattern := make([]byte, 0x1800)
	for i := range pattern {
		pattern[i] = byte(i % 251)
	}
	image := elfbuild.Build(0x10000, elfbuild.Segment{
		Vaddr:   0x10000,
		Flags:   elf.PF_R | elf.PF_X,
		Data:    pattern,
		MemSize: 0x2000,
	})

	userSpace, stackBase, entry := kernel.LoadELF(image)
	defer userSpace.Release()
	slog.Info("user image loaded",
		"entry", addr.NewVirtAddr(entry),
		"stack_base", addr.NewVirtAddr(stackBase))

	// Activate the user space and let the hart check the first byte the
	// way a fetch would see it.
	userSpace.Activate(kernel.Hart())
	pa, err := kernel.Hart().Translate(addr.NewVirtAddr(entry), riscv.AccessFetch)
	if err != nil {
		return fmt.Errorf("translate entry point: %w", err)
	}
	var b [1]byte
	if _, err := kernel.Pool().ReadAt(b[:], int64(pa)); err != nil {
		return fmt.Errorf("read entry byte: %w", err)
	}
	slog.Info("entry point resolves", "pa", pa, "byte", b[0])

	return nil
}

func main() {
	defer func() {
		if r := recover(); r != nil {
			if p, ok := r.(*sbi.KernelPanic); ok {
				fmt.Fprintln(os.Stderr, p.Error())
				sbi.Shutdown(true)
			}
			panic(r)
		}
	}()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "grass: %v\n", err)
		sbi.Shutdown(true)
	}
	sbi.Shutdown(false)
}
