// Package cache implements the unified cache service: the sole gateway to
// the persistent store for cached collection data. Reads never fail (corrupt
// or unreadable entries are misses), writes never break their caller, and
// every write defers to the logout guard.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"companion/internal/bootstrap/logging"
	"companion/internal/domain/envelope"
	"companion/internal/errs"
	"companion/internal/ports"
)

// WriteGuard vetoes writes while a logout is underway. The sync orchestrator
// owns the flag; the cache service only ever reads it.
type WriteGuard interface {
	LogoutInProgress() bool
}

// HealthStatus is a diagnostic snapshot. It is not authoritative for
// correctness.
type HealthStatus struct {
	Hits          int64     `json:"hits"`
	Misses        int64     `json:"misses"`
	HitRate       float64   `json:"hitRate"`
	ErrorCount    int64     `json:"errorCount"`
	LastCheckedAt time.Time `json:"lastCheckedAt"`
}

type Service struct {
	store     ports.KeyValueStore
	guard     WriteGuard
	uow       ports.UnitOfWork      // optional: transactional purge sweep
	publisher ports.CommitPublisher // optional: cross-process commit events

	now func() time.Time

	// writeMu serializes the purge sweep against in-flight writes: Set
	// holds it shared across the guard check and the store write, Purge
	// holds it exclusively. A write therefore either commits before the
	// sweep begins or observes the guard flag and self-rejects; nothing
	// can repopulate the store after the sweep.
	writeMu sync.RWMutex

	mu      sync.Mutex
	subs    map[int]func(key string)
	nextSub int

	hits     atomic.Int64
	misses   atomic.Int64
	errCount atomic.Int64
	lastRead atomic.Int64 // unix nanos
}

// NewService wires the cache gateway. uow and publisher may be nil.
func NewService(store ports.KeyValueStore, guard WriteGuard, uow ports.UnitOfWork, publisher ports.CommitPublisher) *Service {
	return &Service{
		store:     store,
		guard:     guard,
		uow:       uow,
		publisher: publisher,
		now:       time.Now,
		subs:      make(map[int]func(string)),
	}
}

// Get returns the cached payload for key and its freshness classification.
// Every failure mode (absent key, storage error, corrupt or expired-version
// entry) reports ok=false; Get never surfaces an error to the caller.
func (s *Service) Get(ctx context.Context, key string) (json.RawMessage, envelope.Freshness, bool) {
	now := s.now().UTC()
	s.lastRead.Store(now.UnixNano())

	raw, found, err := s.store.Get(ctx, key)
	if err != nil {
		s.errCount.Add(1)
		s.misses.Add(1)
		readsTotal.WithLabelValues("miss").Inc()
		logging.Warn(ctx, "store read failed, treating as miss",
			slog.String("component", "cache.service"),
			slog.String("key", key),
			slog.Any("err", errs.Loggable(err)))
		return nil, envelope.Stale, false
	}
	if !found {
		s.misses.Add(1)
		readsTotal.WithLabelValues("miss").Inc()
		return nil, envelope.Stale, false
	}

	env, ok := envelope.Decode(raw, now)
	if !ok {
		// Corrupt entries behave exactly like absent ones. Never surface
		// bad data; the read path falls back to the network.
		s.misses.Add(1)
		readsTotal.WithLabelValues("miss").Inc()
		logging.Warn(ctx, "corrupt cache entry, treating as miss",
			slog.String("component", "cache.service"),
			slog.String("key", key))
		return nil, envelope.Stale, false
	}

	s.hits.Add(1)
	readsTotal.WithLabelValues("hit").Inc()
	return env.Data, env.Freshness(now), true
}

// Set encodes data and writes it under key. When a logout is in progress the
// write is a deliberate, silent no-op. Storage failures are logged and
// swallowed: a failed cache write must never break the caller's primary
// operation. Subscribers and the external publisher are notified only after
// the write committed.
func (s *Service) Set(ctx context.Context, key string, data any, ttl time.Duration) error {
	s.writeMu.RLock()
	defer s.writeMu.RUnlock()

	if s.guard != nil && s.guard.LogoutInProgress() {
		writesVetoed.Inc()
		logging.Debug(ctx, "write vetoed, logout in progress",
			slog.String("component", "cache.service"),
			slog.String("key", key))
		return nil
	}

	raw, err := envelope.Encode(data, ttl, s.now().UTC())
	if err != nil {
		return errs.Wrapf(err, "encode entry %q", key)
	}

	if err := s.store.Set(ctx, key, raw); err != nil {
		s.errCount.Add(1)
		writeFailures.Inc()
		logging.Warn(ctx, "store write failed, dropping entry",
			slog.String("component", "cache.service"),
			slog.String("key", key),
			slog.Any("err", errs.Loggable(err)))
		return nil
	}

	s.notifyCommitted(ctx, key)
	return nil
}

// Remove deletes one entry.
func (s *Service) Remove(ctx context.Context, key string) error {
	if err := s.store.Delete(ctx, key); err != nil {
		s.errCount.Add(1)
		return errs.Wrapf(err, "remove entry %q", key)
	}
	return nil
}

// Invalidate deletes every entry whose key starts with prefix. Individual
// delete failures are logged and counted but do not stop the sweep.
func (s *Service) Invalidate(ctx context.Context, prefix string) (int, error) {
	keys, err := s.store.Keys(ctx)
	if err != nil {
		s.errCount.Add(1)
		return 0, errs.Wrap(err, "enumerate keys for invalidation")
	}

	removed := 0
	for _, key := range keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if err := s.store.Delete(ctx, key); err != nil {
			s.errCount.Add(1)
			logging.Warn(ctx, "invalidate delete failed",
				slog.String("component", "cache.service"),
				slog.String("key", key),
				slog.Any("err", errs.Loggable(err)))
			continue
		}
		removed++
	}
	return removed, nil
}

// Purge deletes every key matching pred. Used exclusively by the logout
// sweep. The sweep runs in one transaction when a unit of work is wired;
// when the transaction fails it degrades to best-effort per-key deletes so
// that a single bad row cannot keep confidential data alive.
func (s *Service) Purge(ctx context.Context, pred func(key string) bool) ([]string, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	keys, err := s.store.Keys(ctx)
	if err != nil {
		s.errCount.Add(1)
		return nil, errs.Wrap(err, "enumerate keys for purge")
	}

	matched := make([]string, 0, len(keys))
	for _, key := range keys {
		if pred(key) {
			matched = append(matched, key)
		}
	}
	if len(matched) == 0 {
		return nil, nil
	}

	if s.uow != nil {
		err := s.uow.WithTx(ctx, func(txCtx context.Context) error {
			for _, key := range matched {
				if err := s.store.Delete(txCtx, key); err != nil {
					return err
				}
			}
			return nil
		})
		if err == nil {
			return matched, nil
		}
		logging.Warn(ctx, "transactional purge failed, retrying per key",
			slog.String("component", "cache.service"),
			slog.Any("err", errs.Loggable(err)))
	}

	removed := make([]string, 0, len(matched))
	var failed []string
	for _, key := range matched {
		if err := s.store.Delete(ctx, key); err != nil {
			s.errCount.Add(1)
			failed = append(failed, key)
			logging.Error(ctx, "purge delete failed",
				slog.String("component", "cache.service"),
				slog.String("key", key),
				slog.Any("err", errs.Loggable(err)))
			continue
		}
		removed = append(removed, key)
	}

	if len(failed) > 0 {
		return removed, fmt.Errorf("purge incomplete: %d of %d keys not removed", len(failed), len(matched))
	}
	return removed, nil
}

// Subscribe registers fn to run after each committed write, with the written
// key. The returned function cancels the subscription.
func (s *Service) Subscribe(fn func(key string)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Health returns the diagnostic snapshot.
func (s *Service) Health() HealthStatus {
	hits := s.hits.Load()
	misses := s.misses.Load()

	rate := 0.0
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}

	var last time.Time
	if nanos := s.lastRead.Load(); nanos > 0 {
		last = time.Unix(0, nanos).UTC()
	}

	return HealthStatus{
		Hits:          hits,
		Misses:        misses,
		HitRate:       rate,
		ErrorCount:    s.errCount.Load(),
		LastCheckedAt: last,
	}
}

func (s *Service) notifyCommitted(ctx context.Context, key string) {
	s.mu.Lock()
	fns := make([]func(string), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(key)
	}

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, key); err != nil && !errors.Is(err, context.Canceled) {
			logging.Debug(ctx, "commit publish failed",
				slog.String("component", "cache.service"),
				slog.String("key", key),
				slog.Any("err", errs.Loggable(err)))
		}
	}
}
