package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"companion/internal/bootstrap/logging"
	"companion/internal/domain/keys"
	"companion/internal/errs"
	"companion/internal/ports"
	cachesvc "companion/internal/usecase/cache"
	syncsvc "companion/internal/usecase/sync"
)

const signOutTimeout = 10 * time.Second

// StepError records a non-fatal failure in one logout step.
type StepError struct {
	Step    string `json:"step"`
	Message string `json:"message"`
}

// LogoutResult enumerates what logout cleared and what went wrong along the
// way. Success is false only when the core local-data purge failed; a
// provider sign-out failure alone never marks logout failed, because the
// local purge is the security-critical guarantee and must work offline.
type LogoutResult struct {
	Success       bool        `json:"success"`
	ClearedKeys   []string    `json:"clearedKeys"`
	AssetsRemoved int         `json:"assetsRemoved"`
	Errors        []StepError `json:"errors,omitempty"`
}

// Service drives login and logout. assets may be nil.
type Service struct {
	backend ports.Backend
	cache   *cachesvc.Service
	orch    *syncsvc.Orchestrator
	guard   *syncsvc.Guard
	state   *Manager
	assets  ports.BlobStore
}

func NewService(backend ports.Backend, cache *cachesvc.Service, orch *syncsvc.Orchestrator, guard *syncsvc.Guard, state *Manager, assets ports.BlobStore) *Service {
	return &Service{
		backend: backend,
		cache:   cache,
		orch:    orch,
		guard:   guard,
		state:   state,
		assets:  assets,
	}
}

// State exposes the session manager.
func (s *Service) State() *Manager {
	return s.state
}

// Login exchanges an access code for a provider session, persists it, runs a
// full hard resync (login-time freshness is a correctness requirement, not a
// cache hint), and only then marks the session authenticated. A partially
// failed sync does not fail login; the read path falls back per collection.
func (s *Service) Login(ctx context.Context, accessCode string) (syncsvc.SyncResult, error) {
	if ctx == nil {
		return syncsvc.SyncResult{}, errors.New("context is required")
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "session.service"))

	sess, err := s.backend.SignIn(ctx, accessCode)
	if err != nil {
		return syncsvc.SyncResult{}, errs.Wrap(err, "sign in")
	}

	// A raised guard from a previous logout comes down only here, once a
	// new identity is confirmed.
	s.guard.Reset()

	if err := s.state.Save(ctx, sess); err != nil {
		return syncsvc.SyncResult{}, errs.Wrap(err, "persist session")
	}

	result := s.orch.SyncAll(ctx)
	if !result.Success {
		logging.Warn(logCtx, "login sync incomplete",
			slog.Int("synced", len(result.Synced)),
			slog.Int("failed", len(result.Errors)),
			slog.String("skipped", result.Skipped))
	}

	if err := s.state.MarkAuthenticated(ctx); err != nil {
		return result, errs.Wrap(err, "mark session authenticated")
	}

	logging.Info(logCtx, "login completed", slog.String("attendee_id", sess.AttendeeID))
	return result, nil
}

// Logout is the point of no return for cached data. The steps are strictly
// ordered and each failure is caught, recorded and stepped over:
//
//  0. raise the guard flag (first synchronous action), stop the periodic
//     timer, abort the in-flight sync pass;
//  1. sweep every purgeable key out of the persistent store;
//  2. clear the offline asset store;
//  3. provider sign-out over the network;
//  4. reset in-memory auth state.
//
// Once step 0 returns, no cache write can land with a timestamp later than
// the start of step 1: writers have either drained or will observe the
// guard.
func (s *Service) Logout(ctx context.Context) LogoutResult {
	if ctx == nil {
		ctx = context.Background()
	}
	logCtx := logging.WithAttrs(ctx, slog.String("component", "session.service"))
	result := LogoutResult{Success: true}

	// Step 0: stop the world before deleting anything.
	s.guard.BeginLogout()
	s.orch.StopPeriodic()
	s.orch.AbortPending()

	// Step 1: purge persisted data. The one step whose failure fails the
	// whole operation.
	cleared, err := s.cache.Purge(ctx, keys.Purgeable)
	result.ClearedKeys = cleared
	if err != nil {
		result.Success = false
		result.Errors = append(result.Errors, StepError{Step: "purge", Message: err.Error()})
		logging.Error(logCtx, "logout purge failed", slog.Any("err", errs.Loggable(err)))
	}

	// Step 2: secondary stores, best effort.
	if s.assets != nil {
		removed, err := s.assets.Clear(ctx)
		result.AssetsRemoved = removed
		if err != nil {
			result.Errors = append(result.Errors, StepError{Step: "assets", Message: err.Error()})
			logging.Warn(logCtx, "asset store clear incomplete", slog.Any("err", errs.Loggable(err)))
		}
	}

	// Step 3: provider sign-out. Logout must work offline, so a network
	// failure here is recorded and ignored.
	signOutCtx, cancel := context.WithTimeout(ctx, signOutTimeout)
	if err := s.backend.SignOut(signOutCtx); err != nil {
		result.Errors = append(result.Errors, StepError{Step: "signout", Message: err.Error()})
		logging.Warn(logCtx, "provider sign-out failed", slog.Any("err", errs.Loggable(err)))
	}
	cancel()

	// Step 4: in-memory state flips last, after the data is already gone.
	s.state.ClearMemory()

	logging.Info(logCtx, "logout completed",
		slog.Bool("success", result.Success),
		slog.Int("cleared_keys", len(result.ClearedKeys)),
		slog.Int("errors", len(result.Errors)))
	return result
}
