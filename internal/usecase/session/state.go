// Package session owns authentication state and the logout protocol. The
// session entry lives outside the data-cache namespace and is the only key
// the cache service does not mediate.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	gosync "sync"
	"time"

	"companion/internal/bootstrap/logging"
	"companion/internal/domain/keys"
	"companion/internal/errs"
	"companion/internal/ports"
)

// AuthState is the persisted session snapshot.
type AuthState struct {
	Authenticated bool   `json:"authenticated"`
	AttendeeID    string `json:"attendeeId"`
	DisplayName   string `json:"displayName"`
	Role          string `json:"role"`
	ProjectRef    string `json:"projectRef"`
}

type providerToken struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Manager is the narrow accessor for the session entry. It keeps an
// in-memory copy so UI state can be read without touching the store.
type Manager struct {
	store ports.KeyValueStore

	mu      gosync.RWMutex
	current AuthState
}

func NewManager(store ports.KeyValueStore) *Manager {
	return &Manager{store: store}
}

// Restore loads the persisted session on app start. An absent or unreadable
// entry restores to signed-out; it is never an error.
func (m *Manager) Restore(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}

	raw, found, err := m.store.Get(ctx, keys.SessionKey)
	if err != nil {
		return errs.Wrap(err, "read session entry")
	}
	if !found {
		m.setCurrent(AuthState{})
		return nil
	}

	var state AuthState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		logging.Warn(ctx, "corrupt session entry, restoring signed out",
			slog.String("component", "session.manager"))
		m.setCurrent(AuthState{})
		return nil
	}

	m.setCurrent(state)
	return nil
}

// Save persists a freshly issued provider session. The authenticated flag
// stays down until MarkAuthenticated: identity is confirmed before any
// UI-visible state flips.
func (m *Manager) Save(ctx context.Context, sess ports.ProviderSession) error {
	if ctx == nil {
		return errors.New("context is required")
	}

	state := AuthState{
		AttendeeID:  sess.AttendeeID,
		DisplayName: sess.DisplayName,
		Role:        sess.Role,
		ProjectRef:  sess.ProjectRef,
	}

	raw, err := json.Marshal(state)
	if err != nil {
		return errs.Wrap(err, "encode session entry")
	}
	if err := m.store.Set(ctx, keys.SessionKey, string(raw)); err != nil {
		return errs.Wrap(err, "persist session entry")
	}

	// The provider token entry mirrors what the hosted SDK keeps under its
	// own project-scoped key; logout sweeps it by pattern.
	token, err := json.Marshal(providerToken{
		AccessToken:  sess.AccessToken,
		RefreshToken: sess.RefreshToken,
		ExpiresAt:    sess.ExpiresAt,
	})
	if err != nil {
		return errs.Wrap(err, "encode provider token")
	}
	if err := m.store.Set(ctx, keys.ProviderTokenKey(sess.ProjectRef), string(token)); err != nil {
		return errs.Wrap(err, "persist provider token")
	}

	m.setCurrent(state)
	return nil
}

// MarkAuthenticated flips the authenticated flag, persisting first so a
// restart cannot observe an authenticated UI without a persisted session.
func (m *Manager) MarkAuthenticated(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}

	m.mu.RLock()
	state := m.current
	m.mu.RUnlock()
	state.Authenticated = true

	raw, err := json.Marshal(state)
	if err != nil {
		return errs.Wrap(err, "encode session entry")
	}
	if err := m.store.Set(ctx, keys.SessionKey, string(raw)); err != nil {
		return errs.Wrap(err, "persist session entry")
	}

	m.setCurrent(state)
	return nil
}

// ProviderSession rejoins the persisted token entry with the session
// snapshot, for resuming backend access after a restart. found is false when
// no usable token is persisted.
func (m *Manager) ProviderSession(ctx context.Context) (ports.ProviderSession, bool, error) {
	if ctx == nil {
		return ports.ProviderSession{}, false, errors.New("context is required")
	}

	current := m.Current()
	if current.ProjectRef == "" {
		return ports.ProviderSession{}, false, nil
	}

	raw, found, err := m.store.Get(ctx, keys.ProviderTokenKey(current.ProjectRef))
	if err != nil {
		return ports.ProviderSession{}, false, errs.Wrap(err, "read provider token")
	}
	if !found {
		return ports.ProviderSession{}, false, nil
	}

	var token providerToken
	if err := json.Unmarshal([]byte(raw), &token); err != nil || token.AccessToken == "" {
		return ports.ProviderSession{}, false, nil
	}

	return ports.ProviderSession{
		AttendeeID:   current.AttendeeID,
		DisplayName:  current.DisplayName,
		Role:         current.Role,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.ExpiresAt,
		ProjectRef:   current.ProjectRef,
	}, true, nil
}

// Current returns the in-memory session snapshot.
func (m *Manager) Current() AuthState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// ClearMemory resets the in-memory state. Logout calls this last, after the
// persisted entries are already gone, so observers of the authenticated flag
// only flip once the data is purged.
func (m *Manager) ClearMemory() {
	m.setCurrent(AuthState{})
}

func (m *Manager) setCurrent(state AuthState) {
	m.mu.Lock()
	m.current = state
	m.mu.Unlock()
}
