// Command memtest sweeps the frame pool: it boots the memory subsystem,
// allocates every free frame, writes and verifies a per-frame pattern, and
// releases everything, reporting progress as it goes.
package main

import (
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"

	grass "github.com/GrassedgeT/Grass"
	"github.com/GrassedgeT/Grass/internal/memory/frame"
	"github.com/GrassedgeT/Grass/internal/sbi"
)

func run() error {
	kernel, err := grass.New(grass.DefaultConfig())
	if err != nil {
		return err
	}
	defer kernel.Close()

	if err := kernel.Boot(); err != nil {
		return err
	}

	pool := kernel.Pool()
	total := frame.Free()
	pb := progressbar.Default(int64(total))
	defer pb.Close()

	var frames []*frame.Frame
	defer func() {
		for _, f := range frames {
			f.Release()
		}
	}()

	for i := uint64(0); i < total; i++ {
		f := frame.Alloc(pool)
		frames = append(frames, f)

		page := pool.Page(f.PPN)
		fill := byte(uint64(f.PPN) % 251)
		for j := range page {
			page[j] = fill
		}
		for j, b := range page {
			if b != fill {
				return fmt.Errorf("frame %v: byte %d read back 0x%02x, want 0x%02x", f.PPN, j, b, fill)
			}
		}
		pb.Add(1)
	}

	fmt.Printf("verified %d frames (%d KiB)\n", len(frames), len(frames)*4)
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
		fmt.Fprintf(os.Stderr, "memtest: %v\n", err)
		sbi.Shutdown(true)
	}
	sbi.Shutdown(false)
}
