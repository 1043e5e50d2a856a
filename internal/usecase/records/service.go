// Package records is the read path the UI calls: cache first, network on a
// miss, typed error when both fail. Callers only ever see unwrapped domain
// records, never cache envelopes.
package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	gosync "sync"
	"time"

	"companion/internal/bootstrap/logging"
	"companion/internal/domain/envelope"
	"companion/internal/domain/keys"
	"companion/internal/errs"
	"companion/internal/ports"
	cachesvc "companion/internal/usecase/cache"
	syncsvc "companion/internal/usecase/sync"
)

const refreshTimeout = 30 * time.Second

// ErrNoProfile is returned when the profile collection has no row for the
// current attendee.
var ErrNoProfile = errors.New("no profile record")

// UnavailableError means neither the cache nor the network could serve a
// collection. It is the only error shape the read path produces for data
// loads, so the UI can distinguish "couldn't load" from a legitimately empty
// collection.
type UnavailableError struct {
	Collection string
	Err        error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("collection %s unavailable: %v", e.Collection, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Service serves typed collection reads with cache-first fallback.
type Service struct {
	cache    *cachesvc.Service
	backend  ports.Backend
	registry *syncsvc.Registry
	guard    *syncsvc.Guard

	mu         gosync.Mutex
	refreshing map[string]bool
}

func NewService(cache *cachesvc.Service, backend ports.Backend, registry *syncsvc.Registry, guard *syncsvc.Guard) *Service {
	return &Service{
		cache:      cache,
		backend:    backend,
		registry:   registry,
		guard:      guard,
		refreshing: make(map[string]bool),
	}
}

func (s *Service) Attendees(ctx context.Context) ([]Attendee, error) {
	return listCollection[Attendee](ctx, s, "attendees")
}

func (s *Service) Agenda(ctx context.Context) ([]AgendaSession, error) {
	return listCollection[AgendaSession](ctx, s, "sessions")
}

func (s *Service) Sponsors(ctx context.Context) ([]Sponsor, error) {
	return listCollection[Sponsor](ctx, s, "sponsors")
}

func (s *Service) Seating(ctx context.Context) ([]Seat, error) {
	return listCollection[Seat](ctx, s, "seating")
}

// Profile returns the current attendee's own record.
func (s *Service) Profile(ctx context.Context) (Profile, error) {
	rows, err := listCollection[Profile](ctx, s, "profile")
	if err != nil {
		return Profile{}, err
	}
	if len(rows) == 0 {
		return Profile{}, ErrNoProfile
	}
	return rows[0], nil
}

// listCollection implements the fallback contract: serve the cache hit
// (stale hits still return immediately and refresh in the background), fall
// back to the network on a miss, and fail typed when both are out.
func listCollection[T any](ctx context.Context, s *Service, name string) ([]T, error) {
	key := keys.ForCollection(name)

	raw, freshness, ok := s.cache.Get(ctx, key)
	if ok {
		var out []T
		if err := json.Unmarshal(raw, &out); err == nil {
			if freshness == envelope.Stale {
				s.refreshAsync(ctx, name)
			}
			return out, nil
		}
		// Envelope was intact but the payload shape has drifted; treat
		// like a miss and refetch.
		logging.Warn(ctx, "cached payload shape mismatch, refetching",
			slog.String("component", "records.service"),
			slog.String("collection", name))
	}

	rows, err := s.fetchAndCache(ctx, name)
	if err != nil {
		return nil, &UnavailableError{Collection: name, Err: err}
	}
	return decodeRows[T](rows)
}

// fetchAndCache fetches one collection, strips non-persistable fields and
// opportunistically writes it back (the logout guard still applies inside
// the cache service).
func (s *Service) fetchAndCache(ctx context.Context, name string) ([]ports.Record, error) {
	collection, known := s.registry.Lookup(name)
	if !known {
		collection = syncsvc.Collection{Name: name}
	}

	rows, err := s.backend.FetchCollection(ctx, name, false)
	if err != nil {
		return nil, err
	}

	sanitized := syncsvc.SanitizeRecords(rows, collection.DropFields)
	_ = s.cache.Set(ctx, keys.ForCollection(name), sanitized, collection.TTL())
	return sanitized, nil
}

// refreshAsync revalidates a stale collection in the background, at most one
// refresh per collection at a time.
func (s *Service) refreshAsync(ctx context.Context, name string) {
	if s.guard != nil && s.guard.LogoutInProgress() {
		return
	}

	s.mu.Lock()
	if s.refreshing[name] {
		s.mu.Unlock()
		return
	}
	s.refreshing[name] = true
	s.mu.Unlock()

	logger := logging.Logger(ctx)
	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.refreshing, name)
			s.mu.Unlock()
		}()

		refreshCtx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()
		refreshCtx = logging.WithLogger(refreshCtx, logger)

		if s.guard != nil && s.guard.LogoutInProgress() {
			return
		}
		if _, err := s.fetchAndCache(refreshCtx, name); err != nil {
			logging.Debug(refreshCtx, "background refresh failed",
				slog.String("component", "records.service"),
				slog.String("collection", name),
				slog.Any("err", errs.Loggable(err)))
		}
	}()
}

func decodeRows[T any](rows []ports.Record) ([]T, error) {
	raw, err := json.Marshal(rows)
	if err != nil {
		return nil, errs.Wrap(err, "encode rows")
	}
	var out []T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, errs.Wrap(err, "decode rows")
	}
	return out, nil
}
