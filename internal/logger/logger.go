package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// Options selects the output of New
type Options struct {
	Level  string // debug, info, warn or error
	Format string // text or json
	Writer io.Writer
	// Color forces colored console output on or off; nil detects a terminal
	Color *bool
}

// ParseLevel maps a config level name to a slog level
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}

// New builds the process logger
func New(opts Options) (*slog.Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}

	switch strings.ToLower(opts.Format) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})), nil
	case "", "text":
		colorize := isTerminal(w)
		if opts.Color != nil {
			colorize = *opts.Color
		}
		return slog.New(NewConsoleHandler(w, level, colorize)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", opts.Format)
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

type palette struct {
	time     *color.Color
	message  *color.Color
	attr     *color.Color
	debug    *color.Color
	info     *color.Color
	warn     *color.Color
	errorLvl *color.Color
}

func newPalette(enabled bool) *palette {
	p := &palette{
		time:     color.New(color.FgGreen),
		message:  color.New(color.FgCyan),
		attr:     color.New(color.FgHiBlack),
		debug:    color.New(color.FgMagenta),
		info:     color.New(color.FgBlue),
		warn:     color.New(color.FgYellow),
		errorLvl: color.New(color.FgRed, color.Bold),
	}
	for _, c := range []*color.Color{p.time, p.message, p.attr, p.debug, p.info, p.warn, p.errorLvl} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

func (p *palette) level(l slog.Level) *color.Color {
	switch {
	case l >= slog.LevelError:
		return p.errorLvl
	case l >= slog.LevelWarn:
		return p.warn
	case l >= slog.LevelInfo:
		return p.info
	default:
		return p.debug
	}
}

// ConsoleHandler writes one human-readable line per record:
// time | LEVEL | message key=value...
type ConsoleHandler struct {
	mu     *sync.Mutex
	w      io.Writer
	level  slog.Leveler
	colors *palette
	attrs  []slog.Attr
	prefix string
}

// NewConsoleHandler creates a console handler writing to w
func NewConsoleHandler(w io.Writer, level slog.Leveler, colorize bool) *ConsoleHandler {
	return &ConsoleHandler{
		mu:     &sync.Mutex{},
		w:      w,
		level:  level,
		colors: newPalette(colorize),
	}
}

func (h *ConsoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *ConsoleHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString(h.colors.time.Sprint(r.Time.Format("2006-01-02T15:04:05.000")))
	b.WriteString(" | ")
	b.WriteString(h.colors.level(r.Level).Sprintf("%-5s", r.Level.String()))
	b.WriteString(" | ")
	b.WriteString(h.colors.message.Sprint(r.Message))

	for _, attr := range h.attrs {
		h.writeAttr(&b, "", attr)
	}
	r.Attrs(func(attr slog.Attr) bool {
		h.writeAttr(&b, h.prefix, attr)
		return true
	})
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *ConsoleHandler) writeAttr(b *strings.Builder, prefix string, attr slog.Attr) {
	attr.Value = attr.Value.Resolve()
	if attr.Equal(slog.Attr{}) {
		return
	}
	if attr.Value.Kind() == slog.KindGroup {
		group := prefix
		if attr.Key != "" {
			group += attr.Key + "."
		}
		for _, child := range attr.Value.Group() {
			h.writeAttr(b, group, child)
		}
		return
	}
	b.WriteByte(' ')
	b.WriteString(h.colors.attr.Sprintf("%s%s=", prefix, attr.Key))
	b.WriteString(formatValue(attr.Value))
}

func formatValue(v slog.Value) string {
	s := v.String()
	if v.Kind() == slog.KindString && (s == "" || strings.ContainsAny(s, " \t\"=")) {
		return fmt.Sprintf("%q", s)
	}
	return s
}

func (h *ConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	clone.attrs = append(clone.attrs, h.attrs...)
	for _, attr := range attrs {
		if h.prefix != "" {
			attr.Key = h.prefix + attr.Key
		}
		clone.attrs = append(clone.attrs, attr)
	}
	return &clone
}

func (h *ConsoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.prefix = h.prefix + name + "."
	return &clone
}
