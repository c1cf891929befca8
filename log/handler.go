package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

func levelColor(l slog.Level) *color.Color {
	switch {
	case l >= LevelCrit:
		return color.New(color.FgRed, color.Bold)
	case l >= LevelError:
		return color.New(color.FgRed)
	case l >= LevelWarn:
		return color.New(color.FgYellow)
	case l >= LevelInfo:
		return color.New(color.FgGreen)
	default:
		return color.New(color.FgCyan)
	}
}

// GlogHandler adds a global verbosity floor and glog-style "vmodule" rules
// on top of a wrapped slog.Handler. A rule's pattern is parsed and
// validated but not matched against the record's source file: a record
// passes if its level clears any rule's level, whichever module logged it.
type GlogHandler struct {
	origin slog.Handler

	mu        sync.RWMutex
	verbosity slog.Level
	vmodule   []vmoduleRule
}

type vmoduleRule struct {
	pattern *regexp.Regexp
	level   slog.Level
}

// NewGlogHandler wraps h with verbosity filtering.
func NewGlogHandler(h slog.Handler) *GlogHandler {
	return &GlogHandler{origin: h, verbosity: LevelInfo}
}

// Verbosity sets the global verbosity floor: records below this level are
// dropped unless a more specific vmodule rule says otherwise.
func (g *GlogHandler) Verbosity(level slog.Level) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verbosity = level
}

// Vmodule parses a comma-separated list of "pattern=level" rules, e.g.
// "downloader.go=5,signer*.go=4". The level is interpreted the same way
// glog does: higher numbers are more verbose (closer to LevelTrace). The
// pattern only has to compile; Enabled does not consult it.
func (g *GlogHandler) Vmodule(spec string) error {
	var rules []vmoduleRule
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return fmt.Errorf("log: invalid vmodule rule %q", part)
		}
		n, err := strconv.Atoi(kv[1])
		if err != nil {
			return fmt.Errorf("log: invalid vmodule level %q: %w", kv[1], err)
		}
		re, err := regexp.Compile(strings.ReplaceAll(regexp.QuoteMeta(kv[0]), `\*`, `.*`))
		if err != nil {
			return fmt.Errorf("log: invalid vmodule pattern %q: %w", kv[0], err)
		}
		// glog verbosity N roughly maps to "allow down to LevelInfo - 2N",
		// so a handful of vmodule levels span Info down through Trace.
		rules = append(rules, vmoduleRule{pattern: re, level: LevelInfo - slog.Level(n)*2})
	}
	g.mu.Lock()
	g.vmodule = rules
	g.mu.Unlock()
	return nil
}

func (g *GlogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if len(g.vmodule) > 0 {
		for _, rule := range g.vmodule {
			if level >= rule.level {
				return true
			}
		}
	}
	return level >= g.verbosity
}

func (g *GlogHandler) Handle(ctx context.Context, r slog.Record) error {
	return g.origin.Handle(ctx, r)
}

func (g *GlogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &GlogHandler{origin: g.origin.WithAttrs(attrs), verbosity: g.verbosity, vmodule: g.vmodule}
}

func (g *GlogHandler) WithGroup(name string) slog.Handler {
	return &GlogHandler{origin: g.origin.WithGroup(name), verbosity: g.verbosity, vmodule: g.vmodule}
}

// terminalHandler renders records as "LEVEL [date|time] msg key=val ...",
// colorized when the destination is a terminal.
type terminalHandler struct {
	mu    sync.Mutex
	out   io.Writer
	level slog.Level
	color bool
	attrs []slog.Attr
}

// NewTerminalHandler returns a handler at LevelInfo, colorizing only when w
// looks like a real terminal (unless forceColor is set).
func NewTerminalHandler(w io.Writer, forceColor bool) slog.Handler {
	return NewTerminalHandlerWithLevel(w, LevelInfo, forceColor)
}

// NewTerminalHandlerWithLevel is NewTerminalHandler with an explicit minimum
// level.
func NewTerminalHandlerWithLevel(w io.Writer, level slog.Level, forceColor bool) slog.Handler {
	out := w
	useColor := forceColor
	if f, ok := w.(*os.File); ok {
		if !forceColor {
			useColor = isatty.IsTerminal(f.Fd())
		}
		if useColor {
			out = colorable.NewColorable(f)
		}
	}
	return &terminalHandler{out: out, level: level, color: useColor}
}

func (h *terminalHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *terminalHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var b strings.Builder
	lvl := levelString(r.Level)
	if h.color {
		lvl = levelColor(r.Level).Sprint(lvl)
	}
	fmt.Fprintf(&b, "%-5s [%s] %s", lvl, r.Time.Format("01-02|15:04:05.000"), r.Message)
	for _, a := range h.attrs {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value.Any())
	}
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value.Any())
		return true
	})
	b.WriteByte('\n')
	_, err := io.WriteString(h.out, b.String())
	return err
}

func (h *terminalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := &terminalHandler{out: h.out, level: h.level, color: h.color}
	next.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return next
}

func (h *terminalHandler) WithGroup(_ string) slog.Handler {
	return h
}

// LogfmtHandler renders records in logfmt (key=value) form with no
// colorization, suitable for log aggregation pipelines.
func LogfmtHandler(w io.Writer) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{Level: LevelTrace})
}

// JSONHandler renders records as newline-delimited JSON at the default
// (Debug) level.
func JSONHandler(w io.Writer) slog.Handler {
	return JSONHandlerWithLevel(w, slog.LevelDebug)
}

// JSONHandlerWithLevel renders records as JSON, filtering below level.
func JSONHandlerWithLevel(w io.Writer, level slog.Leveler) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level, ReplaceAttr: replaceSlogTime})
}

func replaceSlogTime(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey && len(groups) == 0 {
		a.Value = slog.StringValue(a.Value.Time().Format(time.RFC3339Nano))
	}
	return a
}
