// Package logger is the process-wide structured logger. Every line names the
// component that wrote it and an event, followed by the request fields carried
// in the context.
package logger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/m3rciful/dispatchbot/core/buildinfo"
	coreconfig "github.com/m3rciful/dispatchbot/core/config"
)

var (
	current atomic.Pointer[slog.Logger]
	level   slog.LevelVar

	sinksMu sync.Mutex
	sinks   []io.Closer
)

// Init installs the process logger described by cfg and logs the startup line.
// A second call replaces the sinks opened by the first.
func Init(cfg *coreconfig.Config) error {
	var lc coreconfig.LoggingConfig
	if cfg != nil {
		lc = cfg.Logging
	}
	lvl, err := parseLevel(lc.Level)
	if err != nil {
		return err
	}

	sinksMu.Lock()
	defer sinksMu.Unlock()
	closeSinks()

	out := []io.Writer{os.Stdout}
	var errOut io.Writer
	if dir := strings.TrimSpace(lc.Dir); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("logger: create %s: %w", dir, err)
		}
		if f, err := openSink(dir, lc.File); err != nil {
			return err
		} else if f != nil {
			out = append(out, f)
		}
		if f, err := openSink(dir, lc.ErrorsFile); err != nil {
			return err
		} else if f != nil {
			errOut = f
		}
	}

	level.Set(lvl)
	l := slog.New(newHandler(io.MultiWriter(out...), errOut, lc.Format, &level))
	current.Store(l)
	slog.SetDefault(l)

	Info(context.Background(), "app", "startup",
		slog.String("go_version", runtime.Version()),
		slog.String("build", buildinfo.String()),
		slog.String("level", strings.ToLower(lvl.String())),
	)
	return nil
}

// Use replaces the process logger. A nil logger silences logging.
func Use(l *slog.Logger) {
	current.Store(l)
}

// Shutdown silences logging and closes the file sinks.
func Shutdown() error {
	current.Store(nil)
	sinksMu.Lock()
	defer sinksMu.Unlock()
	return closeSinks()
}

func closeSinks() error {
	var errs []error
	for _, c := range sinks {
		errs = append(errs, c.Close())
	}
	sinks = nil
	return errors.Join(errs...)
}

func openSink(dir, name string) (*os.File, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logger: open %s: %w", name, err)
	}
	sinks = append(sinks, f)
	return f, nil
}

func parseLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("logger: unknown level %q", raw)
}

func write(ctx context.Context, lvl slog.Level, component, event string, attrs []slog.Attr) {
	l := current.Load()
	if l == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if !l.Enabled(ctx, lvl) {
		return
	}
	l.LogAttrs(ctx, lvl, event, append([]slog.Attr{slog.String("component", component)}, attrs...)...)
}

// Debug logs event for component at debug level.
func Debug(ctx context.Context, component, event string, attrs ...slog.Attr) {
	write(ctx, slog.LevelDebug, component, event, attrs)
}

// Info logs event for component at info level.
func Info(ctx context.Context, component, event string, attrs ...slog.Attr) {
	write(ctx, slog.LevelInfo, component, event, attrs)
}

// Warn logs event for component at warn level.
func Warn(ctx context.Context, component, event string, attrs ...slog.Attr) {
	write(ctx, slog.LevelWarn, component, event, attrs)
}

// Error logs event for component at error level.
func Error(ctx context.Context, component, event string, attrs ...slog.Attr) {
	write(ctx, slog.LevelError, component, event, attrs)
}

// Since is time.Since rounded to the millisecond, the resolution of duration fields.
func Since(start time.Time) time.Duration {
	return time.Since(start).Round(time.Millisecond)
}
