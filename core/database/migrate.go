package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/m3rciful/dispatchbot/core/logger"
)

// Migrate brings the schema up to the newest migration in cfg.MigrationsDir.
// A dirty schema is reported and left for an operator to repair.
func Migrate(ctx context.Context, cfg Config) error {
	dir, err := filepath.Abs(cfg.MigrationsDir)
	if err != nil {
		return fmt.Errorf("database: migrations dir: %w", err)
	}
	files, err := upFiles(dir)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}

	m, err := migrate.New("file://"+filepath.ToSlash(dir), cfg.URL())
	if err != nil {
		return fmt.Errorf("database: migrate init: %w", err)
	}
	defer m.Close()

	from, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		from = 0
	case err != nil:
		return fmt.Errorf("database: schema version: %w", err)
	case dirty:
		return fmt.Errorf("database: schema version %d is dirty", from)
	}

	pending := between(files, from, ^uint(0))
	if len(pending) > 0 {
		logger.Debug(ctx, "migrate", "migrate.pending",
			slog.Int("count", len(pending)),
			slog.String("files", logger.Truncate(strings.Join(pending, ","), 256)),
		)
	}

	start := time.Now()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.Error(ctx, "migrate", "migrate.up",
			slog.String("status", "fail"),
			slog.Uint64("from_ver", uint64(from)),
			slog.Duration("duration", logger.Since(start)),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("database: migrate up: %w", err)
	}
	to, _, _ := m.Version()

	logger.Info(ctx, "migrate", "migrate.up",
		slog.String("status", "ok"),
		slog.Uint64("from_ver", uint64(from)),
		slog.Uint64("to_ver", uint64(to)),
		slog.Int("applied", len(between(files, from, to))),
		slog.Duration("duration", logger.Since(start)),
	)
	return nil
}

type migrationFile struct {
	version uint
	name    string
}

// upFiles lists the *.up.sql files of dir ordered by version. Names without a
// numeric version prefix are ignored, as golang-migrate ignores them.
func upFiles(dir string) ([]migrationFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []migrationFile
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		prefix, _, _ := strings.Cut(name, "_")
		v, err := strconv.ParseUint(prefix, 10, 0)
		if err != nil {
			continue
		}
		out = append(out, migrationFile{version: uint(v), name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

// between names the files with from < version <= to.
func between(files []migrationFile, from, to uint) []string {
	var names []string
	for _, f := range files {
		if f.version > from && f.version <= to {
			names = append(names, f.name)
		}
	}
	return names
}
