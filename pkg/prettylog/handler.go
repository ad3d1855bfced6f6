// Package prettylog is a human-oriented slog handler for development
// runs: colored level, compact timestamp, attributes as indented JSON.
// Production deployments should stick with slog's JSON handler.
package prettylog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync"
)

const timeFormat = "15:04:05.000"

const (
	reset = "\033[0m"

	cyan     = 36
	darkGray = 90
	lightRed = 91
	yellow   = 33
	white    = 97
)

func colorize(colorCode int, v string) string {
	return fmt.Sprintf("\033[%sm%s%s", strconv.Itoa(colorCode), v, reset)
}

type handler struct {
	level  slog.Level
	attrs  []slog.Attr
	groups []string

	mu  *sync.Mutex
	out io.Writer
}

func NewHandler(level slog.Level) slog.Handler {
	return &handler{
		level: level,
		mu:    &sync.Mutex{},
		out:   os.Stderr,
	}
}

// NewHandlerWithWriter is NewHandler with an explicit sink, for tests.
func NewHandlerWithWriter(level slog.Level, out io.Writer) slog.Handler {
	return &handler{
		level: level,
		mu:    &sync.Mutex{},
		out:   out,
	}
}

func (h *handler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &clone
}

func (h *handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.groups = append(append([]string{}, h.groups...), name)
	return &clone
}

func (h *handler) Handle(ctx context.Context, r slog.Record) error {
	level := r.Level.String() + ":"
	switch r.Level {
	case slog.LevelDebug:
		level = colorize(darkGray, level)
	case slog.LevelInfo:
		level = colorize(cyan, level)
	case slog.LevelWarn:
		level = colorize(yellow, level)
	case slog.LevelError:
		level = colorize(lightRed, level)
	}

	attrs := make(map[string]any, r.NumAttrs()+len(h.attrs))
	for _, a := range h.attrs {
		attrs[a.Key] = attrValue(a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = attrValue(a.Value)
		return true
	})
	for i := len(h.groups) - 1; i >= 0; i-- {
		attrs = map[string]any{h.groups[i]: attrs}
	}

	line := fmt.Sprintf("%s %s %s",
		colorize(darkGray, r.Time.Format(timeFormat)),
		level,
		colorize(white, r.Message),
	)
	if len(attrs) > 0 {
		line += " " + colorize(darkGray, attrsToString(attrs))
	}
	line += "\n"

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, line)
	return err
}

func attrValue(v slog.Value) any {
	resolved := v.Resolve()
	if resolved.Kind() == slog.KindGroup {
		group := make(map[string]any)
		for _, a := range resolved.Group() {
			group[a.Key] = attrValue(a.Value)
		}
		return group
	}

	raw := resolved.Any()
	if err, ok := raw.(error); ok {
		return err.Error()
	}
	if _, marshalErr := json.Marshal(raw); marshalErr != nil {
		return fmt.Sprintf("%v", raw)
	}
	return raw
}

func attrsToString(attrs map[string]any) string {
	asJSON, err := json.MarshalIndent(attrs, "  ", "  ")
	if err != nil {
		return fmt.Sprintf("%v", attrs)
	}
	return string(asJSON)
}
