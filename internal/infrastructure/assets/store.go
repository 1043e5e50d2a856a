// Package assets stores downloaded binary assets (badges, venue maps,
// sponsor logos) on disk, outside the key-value cache. Logout clears the
// whole directory.
package assets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"companion/internal/errs"
	"companion/internal/ports"
)

// Store keeps each asset as one file under a dedicated directory.
type Store struct {
	dir string
}

var _ ports.BlobStore = (*Store)(nil)

func NewStore(dir string) (*Store, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("asset directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.Wrap(err, "create asset directory")
	}
	return &Store{dir: dir}, nil
}

// Save writes one asset. Names must stay inside the asset directory.
func (s *Store) Save(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.resolve(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errs.Wrap(err, "create asset subdirectory")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errs.Wrapf(err, "write asset %s", name)
	}
	return nil
}

// Clear removes every stored asset and reports how many files went. Removal
// keeps going past individual failures so one stuck file cannot shield the
// rest.
func (s *Store) Clear(ctx context.Context) (int, error) {
	removed := 0
	var firstErr error

	err := filepath.WalkDir(s.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			return nil
		}
		if err := os.Remove(path); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return nil
		}
		removed++
		return nil
	})
	if err != nil && firstErr == nil {
		firstErr = err
	}

	if firstErr != nil {
		return removed, errs.Wrap(firstErr, "clear asset store")
	}
	return removed, nil
}

func (s *Store) resolve(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("asset name is required")
	}
	cleaned := filepath.Clean(filepath.FromSlash(name))
	if cleaned == "." || strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
		return "", errors.New("asset name escapes the asset directory")
	}
	return filepath.Join(s.dir, cleaned), nil
}
