// Package sync owns the login-time full cache population and the recurring
// background revalidation, plus the logout guard the rest of the runtime
// coordinates on.
package sync

import (
	"context"
	"log/slog"
	"sort"
	gosync "sync"
	"time"

	"github.com/google/uuid"

	"companion/internal/bootstrap/logging"
	"companion/internal/domain/keys"
	"companion/internal/errs"
	"companion/internal/ports"
	cachesvc "companion/internal/usecase/cache"
)

// SyncResult aggregates one full sync pass. Success is true only when every
// collection synced; partial passes still list their successes in Synced.
type SyncResult struct {
	RunID     string            `json:"runId"`
	Success   bool              `json:"success"`
	Skipped   string            `json:"skipped,omitempty"` // reason the pass never started
	Synced    []string          `json:"synced"`
	Errors    map[string]string `json:"errors,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Orchestrator populates the cache at login and keeps it warm. All methods
// are safe for concurrent use; full passes are mutually exclusive.
type Orchestrator struct {
	backend  ports.Backend
	cache    *cachesvc.Service
	guard    *Guard
	registry *Registry

	// elevated enables admin-only collections; set when the runtime is
	// configured with a service-role credential.
	elevated bool

	mu      gosync.Mutex
	syncing bool
	// pass numbers the current full pass. AbortPending bumps it so the
	// aborted pass's cleanup can tell its state has been superseded.
	pass     uint64
	cancel   context.CancelFunc
	stopTick chan struct{}
}

func NewOrchestrator(backend ports.Backend, cache *cachesvc.Service, guard *Guard, registry *Registry, elevated bool) *Orchestrator {
	return &Orchestrator{
		backend:  backend,
		cache:    cache,
		guard:    guard,
		registry: registry,
		elevated: elevated,
	}
}

// Guard exposes the shared logout guard.
func (o *Orchestrator) Guard() *Guard {
	return o.guard
}

// Syncing reports whether a full pass is currently running.
func (o *Orchestrator) Syncing() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.syncing
}

// SyncAll fetches every registered collection and writes it through the
// cache service. One collection's failure never aborts its siblings: a stale
// seating chart must not block a fresh agenda. The pass refuses to start
// while a logout is underway or another pass is running.
func (o *Orchestrator) SyncAll(ctx context.Context) SyncResult {
	result := SyncResult{
		RunID:     uuid.NewString(),
		Timestamp: time.Now().UTC(),
	}

	if o.guard.LogoutInProgress() {
		result.Skipped = "logout in progress"
		return result
	}

	o.mu.Lock()
	if o.syncing {
		o.mu.Unlock()
		result.Skipped = "sync already running"
		return result
	}
	o.syncing = true
	o.pass++
	pass := o.pass
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.mu.Unlock()

	defer func() {
		cancel()
		o.mu.Lock()
		// A pass drained after AbortPending must not clear the state of
		// the pass that started in its place.
		if o.pass == pass {
			o.syncing = false
			o.cancel = nil
		}
		o.mu.Unlock()
	}()

	logCtx := logging.WithAttrs(ctx,
		slog.String("component", "sync.orchestrator"),
		slog.String("run_id", result.RunID))

	collections := o.registry.Collections()

	type outcome struct {
		name string
		err  error
	}
	outcomes := make(chan outcome, len(collections))

	var wg gosync.WaitGroup
	for _, c := range collections {
		if c.AdminOnly && !o.elevated {
			continue
		}
		wg.Add(1)
		go func(c Collection) {
			defer wg.Done()
			outcomes <- outcome{name: c.Name, err: o.syncCollection(runCtx, c)}
		}(c)
	}
	wg.Wait()
	close(outcomes)

	errsByName := make(map[string]string)
	for out := range outcomes {
		if out.err != nil {
			errsByName[out.name] = out.err.Error()
			continue
		}
		result.Synced = append(result.Synced, out.name)
	}
	sort.Strings(result.Synced)

	if len(errsByName) > 0 {
		result.Errors = errsByName
		logging.Warn(logCtx, "sync pass finished with errors",
			slog.Int("synced", len(result.Synced)),
			slog.Int("failed", len(errsByName)))
	} else {
		result.Success = true
		logging.Info(logCtx, "sync pass finished",
			slog.Int("synced", len(result.Synced)))
	}

	return result
}

func (o *Orchestrator) syncCollection(ctx context.Context, c Collection) error {
	rows, err := o.backend.FetchCollection(ctx, c.Name, c.AdminOnly)
	if err != nil {
		return errs.Wrapf(err, "fetch %s", c.Name)
	}

	sanitized := SanitizeRecords(rows, c.DropFields)
	if err := o.cache.Set(ctx, keys.ForCollection(c.Name), sanitized, c.TTL()); err != nil {
		return errs.Wrapf(err, "cache %s", c.Name)
	}
	return nil
}

// StartPeriodic arms the recurring revalidation timer. It is a no-op while a
// logout is underway, when interval is not positive, or when a timer is
// already armed. Each tick re-checks the guard before starting a pass.
func (o *Orchestrator) StartPeriodic(ctx context.Context, interval time.Duration) {
	if interval <= 0 || o.guard.LogoutInProgress() {
		return
	}

	o.mu.Lock()
	if o.stopTick != nil {
		o.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	o.stopTick = stop
	o.mu.Unlock()

	logCtx := logging.WithAttrs(ctx, slog.String("component", "sync.orchestrator"))
	logging.Info(logCtx, "periodic sync armed", slog.Duration("interval", interval))

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if o.guard.LogoutInProgress() {
					continue
				}
				res := o.SyncAll(ctx)
				if res.Skipped != "" {
					logging.Debug(logCtx, "periodic sync tick skipped",
						slog.String("reason", res.Skipped))
				}
			}
		}
	}()
}

// StopPeriodic cancels the recurring timer. Idempotent; safe when no timer
// is armed.
func (o *Orchestrator) StopPeriodic() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopTick != nil {
		close(o.stopTick)
		o.stopTick = nil
	}
}

// AbortPending cancels the in-flight pass, if any, and forces the
// in-progress flag down. Used exclusively by the logout path: after it
// returns, no fetch started before it can produce a cache write (the write
// either drained already or will be vetoed by the guard).
func (o *Orchestrator) AbortPending() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	o.syncing = false
	o.pass++
}

// SanitizeRecords strips dropped fields from every record before it is
// persisted client-side. The input records are not mutated.
func SanitizeRecords(rows []ports.Record, dropFields []string) []ports.Record {
	if len(dropFields) == 0 {
		return rows
	}

	out := make([]ports.Record, 0, len(rows))
	for _, row := range rows {
		clean := make(ports.Record, len(row))
		for k, v := range row {
			clean[k] = v
		}
		for _, field := range dropFields {
			delete(clean, field)
		}
		out = append(out, clean)
	}
	return out
}
