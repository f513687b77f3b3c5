// Package klog is the kernel logger: a log/slog handler that prints
// colored level tags to the SBI console. The verbosity comes from the LOG
// environment variable, as in the original bring-up (ERROR, WARN, INFO,
// DEBUG, TRACE; unset disables logging).
package klog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/x/ansi"
	"golang.org/x/term"

	"github.com/GrassedgeT/Grass/internal/sbi"
)

// LevelTrace sits below slog's built-in levels.
const LevelTrace = slog.LevelDebug - 4

// levelOff disables all output.
const levelOff = slog.LevelError + 256

var levelNames = map[slog.Level]string{
	LevelTrace:      "TRACE",
	slog.LevelDebug: "DEBUG",
	slog.LevelInfo:  "INFO",
	slog.LevelWarn:  "WARN",
	slog.LevelError: "ERROR",
}

var levelStyles = map[slog.Level]ansi.Style{
	LevelTrace:      ansi.Style{}.ForegroundColor(ansi.White),
	slog.LevelDebug: ansi.Style{}.ForegroundColor(ansi.BrightRed),
	slog.LevelInfo:  ansi.Style{}.ForegroundColor(ansi.Blue),
	slog.LevelWarn:  ansi.Style{}.ForegroundColor(ansi.BrightYellow),
	slog.LevelError: ansi.Style{}.ForegroundColor(ansi.Red),
}

// LevelFromEnv maps the LOG environment variable to a slog level.
func LevelFromEnv() slog.Level {
	switch strings.ToUpper(os.Getenv("LOG")) {
	case "ERROR":
		return slog.LevelError
	case "WARN":
		return slog.LevelWarn
	case "INFO":
		return slog.LevelInfo
	case "DEBUG":
		return slog.LevelDebug
	case "TRACE":
		return LevelTrace
	default:
		return levelOff
	}
}

// Handler renders records as "[LEVEL]: message key=value" lines on the
// SBI console.
type Handler struct {
	mu    *sync.Mutex
	level slog.Level
	color bool
	attrs []slog.Attr
	group string
}

// NewHandler creates a console handler at the given level. Color is used
// only when stdout is a terminal.
func NewHandler(level slog.Level) *Handler {
	return &Handler{
		mu:    &sync.Mutex{},
		level: level,
		color: term.IsTerminal(int(os.Stdout.Fd())),
	}
}

// Init installs the kernel logger as the slog default, at the LOG level.
func Init() {
	slog.SetDefault(slog.New(NewHandler(LevelFromEnv())))
}

// Enabled implements slog.Handler.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

// Handle implements slog.Handler.
func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	name, ok := levelNames[r.Level]
	if !ok {
		name = r.Level.String()
	}
	tag := fmt.Sprintf("[%-5s]", name)
	if h.color {
		if style, ok := levelStyles[r.Level]; ok {
			tag = style.Styled(tag)
		}
	}

	var b strings.Builder
	b.WriteString(tag)
	b.WriteString(": ")
	b.WriteString(r.Message)
	for _, a := range h.attrs {
		writeAttr(&b, h.group, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&b, h.group, a)
		return true
	})
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := sbi.ConsoleWriter().Write([]byte(b.String()))
	return err
}

func writeAttr(b *strings.Builder, group string, a slog.Attr) {
	if a.Equal(slog.Attr{}) {
		return
	}
	b.WriteByte(' ')
	if group != "" {
		b.WriteString(group)
		b.WriteByte('.')
	}
	b.WriteString(a.Key)
	b.WriteByte('=')
	b.WriteString(a.Value.String())
}

// WithAttrs implements slog.Handler.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := *h
	nh.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &nh
}

// WithGroup implements slog.Handler.
func (h *Handler) WithGroup(name string) slog.Handler {
	nh := *h
	if nh.group != "" {
		nh.group += "." + name
	} else {
		nh.group = name
	}
	return &nh
}
