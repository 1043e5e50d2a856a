// Package database opens the client-side sqlite store. The store is
// single-machine by design; there is no other driver.
package database

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"companion/internal/bootstrap/config"
	"companion/internal/bootstrap/logging"
	"companion/internal/errs"
)

func Open(ctx context.Context, cfg config.DatabaseConfig) (*gorm.DB, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(err, "check context")
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.database"))

	if err := ensureDirectory(cfg.DSN); err != nil {
		return nil, errs.Wrap(err, "ensure sqlite directory")
	}

	db, err := gorm.Open(gormsqlite.Open(cfg.DSN), &gorm.Config{})
	if err != nil {
		return nil, errs.Wrap(err, "open sqlite db")
	}

	logging.Info(logCtx, "database opened", slog.String("dsn", cfg.DSN))
	return db, nil
}

func ensureDirectory(dsn string) error {
	candidate := strings.TrimSpace(dsn)
	if candidate == "" || candidate == ":memory:" {
		return nil
	}
	candidate = strings.TrimPrefix(strings.ToLower(candidate), "file:")
	if idx := strings.Index(candidate, "?"); idx >= 0 {
		candidate = candidate[:idx]
	}
	if candidate == "" || candidate == ":memory:" {
		return nil
	}

	dir := filepath.Dir(candidate)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.Wrapf(err, "create sqlite directory %q", dir)
	}
	return nil
}
