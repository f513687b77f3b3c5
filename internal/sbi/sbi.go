// Package sbi models the supervisor execution environment the kernel runs
// under: byte-at-a-time console output and system shutdown. The rest of the
// kernel treats these as the only ways to leave the machine.
package sbi

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"sync/atomic"
)

var console atomic.Pointer[io.Writer]

func init() {
	var w io.Writer = os.Stdout
	console.Store(&w)
}

// SetConsole redirects console output. Tests point this at a buffer.
func SetConsole(w io.Writer) {
	console.Store(&w)
}

// ConsoleWriteChar writes a single byte to the console.
func ConsoleWriteChar(b byte) {
	(*console.Load()).Write([]byte{b})
}

// ConsoleWriter returns an io.Writer over ConsoleWriteChar.
func ConsoleWriter() io.Writer {
	return consoleWriter{}
}

type consoleWriter struct{}

func (consoleWriter) Write(p []byte) (int, error) {
	for _, b := range p {
		ConsoleWriteChar(b)
	}
	return len(p), nil
}

// ShutdownFunc terminates the machine. The default exits the process; tests
// install a recorder.
type ShutdownFunc func(failure bool)

var shutdown atomic.Pointer[ShutdownFunc]

func init() {
	f := ShutdownFunc(func(failure bool) {
		if failure {
			os.Exit(1)
		}
		os.Exit(0)
	})
	shutdown.Store(&f)
}

// SetShutdown replaces the shutdown handler.
func SetShutdown(f ShutdownFunc) {
	shutdown.Store(&f)
}

// Shutdown leaves the machine. It does not return under the default handler.
func Shutdown(failure bool) {
	(*shutdown.Load())(failure)
}

// KernelPanic is the value carried by a kernel panic. The outermost frame of
// the kernel (cmd/grass) recovers it, which ends in Shutdown(true).
type KernelPanic struct {
	File string
	Line int
	Msg  string
}

func (p *KernelPanic) Error() string {
	return fmt.Sprintf("kernel panic at %s:%d: %s", p.File, p.Line, p.Msg)
}

// Panic is the single fatal path of the kernel: invariant violations, OOM in
// handle constructors and malformed user images all land here. It logs the
// location and message, then unwinds with a *KernelPanic.
func Panic(format string, args ...any) {
	_, file, line, _ := runtime.Caller(1)
	p := &KernelPanic{File: file, Line: line, Msg: fmt.Sprintf(format, args...)}
	slog.Error("kernel panic", "file", file, "line", line, "msg", p.Msg)
	panic(p)
}
