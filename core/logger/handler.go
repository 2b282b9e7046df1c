package logger

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"
)

const tsLayout = "2006-01-02T15:04:05.000Z07:00"

// handler adds the context fields to every record and copies errors to a
// second sink when one is configured.
type handler struct {
	main slog.Handler
	errs slog.Handler
}

func newHandler(w, errW io.Writer, format string, lvl slog.Leveler) *handler {
	h := &handler{main: formatHandler(w, format, lvl)}
	if errW != nil {
		h.errs = formatHandler(errW, format, slog.LevelError)
	}
	return h
}

func formatHandler(w io.Writer, format string, lvl slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{Level: lvl, ReplaceAttr: replaceAttr}
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "text", "kv":
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

func (h *handler) Enabled(ctx context.Context, lvl slog.Level) bool {
	return h.main.Enabled(ctx, lvl)
}

func (h *handler) Handle(ctx context.Context, r slog.Record) error {
	if f := FieldsFrom(ctx); !f.empty() {
		r.AddAttrs(f.missingFrom(r)...)
	}
	err := h.main.Handle(ctx, r)
	if h.errs != nil && r.Level >= slog.LevelError {
		if errsErr := h.errs.Handle(ctx, r); err == nil {
			err = errsErr
		}
	}
	return err
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := &handler{main: h.main.WithAttrs(attrs)}
	if h.errs != nil {
		out.errs = h.errs.WithAttrs(attrs)
	}
	return out
}

func (h *handler) WithGroup(name string) slog.Handler {
	out := &handler{main: h.main.WithGroup(name)}
	if h.errs != nil {
		out.errs = h.errs.WithGroup(name)
	}
	return out
}

// replaceAttr renames the built-in keys to ts and event, reports durations as
// integer milliseconds under a _ms key and drops empty strings.
func replaceAttr(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 {
		switch a.Key {
		case slog.TimeKey:
			return slog.String("ts", a.Value.Time().UTC().Format(tsLayout))
		case slog.MessageKey:
			a.Key = "event"
			return a
		}
	}
	switch a.Value.Kind() {
	case slog.KindDuration:
		key := a.Key
		if !strings.HasSuffix(key, "_ms") {
			key += "_ms"
		}
		return slog.Int64(key, a.Value.Duration().Round(time.Millisecond).Milliseconds())
	case slog.KindString:
		if a.Value.String() == "" {
			return slog.Attr{}
		}
	}
	return a
}
