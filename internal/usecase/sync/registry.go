package sync

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	gosync "sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pelletier/go-toml/v2"

	"companion/internal/bootstrap/logging"
	"companion/internal/errs"
)

// Collection describes one entity collection the orchestrator mirrors.
type Collection struct {
	Name string `toml:"name"`

	// TTLMs is the validity window stamped into cached entries. Zero means
	// the entry never goes stale on its own.
	TTLMs int64 `toml:"ttl_ms"`

	// DropFields are removed from every record before it is persisted
	// client-side (access codes and similar must never reach the store).
	DropFields []string `toml:"drop_fields"`

	// AdminOnly collections are fetched with the elevated credential and
	// only when one is configured.
	AdminOnly bool `toml:"admin_only"`
}

// TTL returns the collection TTL as a duration.
func (c Collection) TTL() time.Duration {
	return time.Duration(c.TTLMs) * time.Millisecond
}

type registryFile struct {
	Version     int          `toml:"version"`
	Collections []Collection `toml:"collections"`
}

// DefaultCollections is the built-in registry used when no file is
// configured.
func DefaultCollections() []Collection {
	return []Collection{
		{Name: "attendees", TTLMs: 15 * 60 * 1000, DropFields: []string{"access_code", "qr_secret"}},
		{Name: "sessions", TTLMs: 10 * 60 * 1000},
		{Name: "sponsors", TTLMs: 60 * 60 * 1000},
		{Name: "seating", TTLMs: 30 * 60 * 1000},
		{Name: "profile", TTLMs: 5 * 60 * 1000, DropFields: []string{"access_code"}},
	}
}

// Registry holds the current collection set and optionally hot-reloads it
// from a TOML file.
type Registry struct {
	path string

	mu          gosync.RWMutex
	collections []Collection
}

// NewRegistry loads the registry from path, or the built-in defaults when
// path is empty.
func NewRegistry(path string) (*Registry, error) {
	r := &Registry{path: strings.TrimSpace(path)}

	if r.path == "" {
		r.collections = DefaultCollections()
		return r, nil
	}

	collections, err := loadRegistryFile(r.path)
	if err != nil {
		return nil, errs.Wrap(err, "load collection registry")
	}
	r.collections = collections
	return r, nil
}

// Collections returns a copy of the current collection set.
func (r *Registry) Collections() []Collection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Collection, len(r.collections))
	copy(out, r.collections)
	return out
}

// Lookup finds a collection by name.
func (r *Registry) Lookup(name string) (Collection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range r.collections {
		if c.Name == name {
			return c, true
		}
	}
	return Collection{}, false
}

// Watch reloads the registry whenever its file changes, until ctx is done.
// A broken edit keeps the previous collection set. No-op without a file.
func (r *Registry) Watch(ctx context.Context) error {
	if r.path == "" {
		return nil
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errs.Wrap(err, "create registry watcher")
	}

	// Watch the directory: editors replace files instead of writing in
	// place, which would drop a watch on the file itself.
	if err := watcher.Add(filepath.Dir(r.path)); err != nil {
		_ = watcher.Close()
		return errs.Wrap(err, "watch registry directory")
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "sync.registry"))

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(r.path) {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				collections, err := loadRegistryFile(r.path)
				if err != nil {
					logging.Warn(logCtx, "registry reload failed, keeping previous set",
						slog.Any("err", errs.Loggable(err)))
					continue
				}
				r.mu.Lock()
				r.collections = collections
				r.mu.Unlock()
				logging.Info(logCtx, "registry reloaded",
					slog.Int("collections", len(collections)))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.Warn(logCtx, "registry watcher error", slog.Any("err", errs.Loggable(err)))
			}
		}
	}()

	return nil
}

func loadRegistryFile(path string) ([]Collection, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file registryFile
	if err := toml.Unmarshal(raw, &file); err != nil {
		return nil, err
	}
	if file.Version != 1 {
		return nil, errors.New("unsupported registry version: expected version = 1")
	}
	if len(file.Collections) == 0 {
		return nil, errors.New("registry lists no collections")
	}

	seen := make(map[string]struct{}, len(file.Collections))
	for _, c := range file.Collections {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return nil, errors.New("collection name is required")
		}
		if _, dup := seen[name]; dup {
			return nil, errors.New("duplicate collection name: " + name)
		}
		seen[name] = struct{}{}
	}

	return file.Collections, nil
}
