package session

import (
	"context"
	"encoding/json"
	"errors"
	gosync "sync"
	"testing"
	"time"

	"companion/internal/domain/keys"
	"companion/internal/ports"
	cachesvc "companion/internal/usecase/cache"
	syncsvc "companion/internal/usecase/sync"
)

type mapStore struct {
	mu      gosync.Mutex
	data    map[string]string
	keysErr error
}

func newMapStore() *mapStore {
	return &mapStore{data: make(map[string]string)}
}

func (m *mapStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *mapStore) Set(_ context.Context, key string, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *mapStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *mapStore) Keys(_ context.Context) ([]string, error) {
	if m.keysErr != nil {
		return nil, m.keysErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.data))
	for k := range m.data {
		out = append(out, k)
	}
	return out, nil
}

type stubBackend struct {
	rows       map[string][]ports.Record
	signOutErr error
	signedOut  bool

	// onFetch runs inside FetchCollection, for ordering assertions.
	onFetch func()
}

func (b *stubBackend) SignIn(_ context.Context, accessCode string) (ports.ProviderSession, error) {
	if accessCode == "" {
		return ports.ProviderSession{}, errors.New("access code is required")
	}
	return ports.ProviderSession{
		AttendeeID:   "att-1",
		DisplayName:  "Ada Lovelace",
		Role:         "attendee",
		AccessToken:  "jwt-access",
		RefreshToken: "jwt-refresh",
		ExpiresAt:    time.Now().Add(time.Hour),
		ProjectRef:   "abcdefghij",
	}, nil
}

func (b *stubBackend) SignOut(context.Context) error {
	b.signedOut = true
	return b.signOutErr
}

func (b *stubBackend) FetchCollection(_ context.Context, collection string, _ bool) ([]ports.Record, error) {
	if b.onFetch != nil {
		b.onFetch()
	}
	rows, ok := b.rows[collection]
	if !ok {
		return nil, errors.New("unknown collection: " + collection)
	}
	return rows, nil
}

type stubAssets struct {
	removed  int
	clearErr error
}

func (a *stubAssets) Save(context.Context, string, []byte) error { return nil }

func (a *stubAssets) Clear(context.Context) (int, error) {
	n := a.removed
	a.removed = 0
	return n, a.clearErr
}

func setupService(t *testing.T, backend ports.Backend, store *mapStore, assets ports.BlobStore) (*Service, *cachesvc.Service, *syncsvc.Orchestrator) {
	t.Helper()

	guard := syncsvc.NewGuard()
	cache := cachesvc.NewService(store, guard, nil, nil)
	registry, err := syncsvc.NewRegistry("")
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	orch := syncsvc.NewOrchestrator(backend, cache, guard, registry, false)
	state := NewManager(store)
	return NewService(backend, cache, orch, guard, state, assets), cache, orch
}

func fullRows() map[string][]ports.Record {
	rows := make(map[string][]ports.Record)
	for _, c := range syncsvc.DefaultCollections() {
		rows[c.Name] = []ports.Record{{"id": float64(1)}}
	}
	return rows
}

func TestLoginSyncReadLogoutEndToEnd(t *testing.T) {
	store := newMapStore()
	backend := &stubBackend{rows: fullRows()}
	svc, cache, _ := setupService(t, backend, store, nil)
	ctx := context.Background()

	result, err := svc.Login(ctx, "123456")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if !result.Success {
		t.Fatalf("Login() sync result = %+v", result)
	}

	raw, _, ok := cache.Get(ctx, "kn_cache_attendees")
	if !ok {
		t.Fatalf("Get(attendees) expected hit after login")
	}
	var rows []ports.Record
	if err := json.Unmarshal(raw, &rows); err != nil || len(rows) != 1 || rows[0]["id"] != float64(1) {
		t.Fatalf("Get(attendees) = %s, err = %v", raw, err)
	}

	if !svc.State().Current().Authenticated {
		t.Fatalf("Current() not authenticated after login")
	}
	if _, ok := store.data[keys.ProviderTokenKey("abcdefghij")]; !ok {
		t.Fatalf("provider token entry missing after login")
	}

	logout := svc.Logout(ctx)
	if !logout.Success {
		t.Fatalf("Logout() = %+v", logout)
	}
	if _, _, ok := cache.Get(ctx, "kn_cache_attendees"); ok {
		t.Fatalf("Get(attendees) expected miss after logout")
	}
	if svc.State().Current().Authenticated {
		t.Fatalf("Current() still authenticated after logout")
	}
	if _, ok := store.data[keys.SessionKey]; ok {
		t.Fatalf("session entry survived logout")
	}
	if _, ok := store.data[keys.ProviderTokenKey("abcdefghij")]; ok {
		t.Fatalf("provider token survived logout")
	}
}

func TestLoginMarksAuthenticatedOnlyAfterSync(t *testing.T) {
	store := newMapStore()
	backend := &stubBackend{rows: fullRows()}
	svc, _, _ := setupService(t, backend, store, nil)

	backend.onFetch = func() {
		if svc.State().Current().Authenticated {
			t.Errorf("authenticated flag raised before sync finished")
		}
	}

	if _, err := svc.Login(context.Background(), "123456"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
}

func TestLoginPartialSyncStillLogsIn(t *testing.T) {
	store := newMapStore()
	rows := fullRows()
	delete(rows, "seating") // seating fetch now errors
	backend := &stubBackend{rows: rows}
	svc, _, _ := setupService(t, backend, store, nil)

	result, err := svc.Login(context.Background(), "123456")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if result.Success {
		t.Fatalf("Login() sync success = true with failed collection")
	}
	if !svc.State().Current().Authenticated {
		t.Fatalf("partial sync blocked login")
	}
}

func TestLogoutSignOutFailureIsNonFatal(t *testing.T) {
	store := newMapStore()
	backend := &stubBackend{rows: fullRows(), signOutErr: errors.New("network down")}
	svc, _, _ := setupService(t, backend, store, nil)
	ctx := context.Background()

	if _, err := svc.Login(ctx, "123456"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	result := svc.Logout(ctx)
	if !result.Success {
		t.Fatalf("Logout() success = false on sign-out failure: %+v", result)
	}
	if len(result.Errors) != 1 || result.Errors[0].Step != "signout" {
		t.Fatalf("Logout() errors = %#v", result.Errors)
	}
	if _, ok := store.data[keys.SessionKey]; ok {
		t.Fatalf("local purge skipped when provider sign-out failed")
	}
}

func TestLogoutPurgeFailureMarksFailed(t *testing.T) {
	store := newMapStore()
	backend := &stubBackend{rows: fullRows()}
	svc, _, _ := setupService(t, backend, store, nil)
	ctx := context.Background()

	if _, err := svc.Login(ctx, "123456"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	store.keysErr = errors.New("store unavailable")
	result := svc.Logout(ctx)
	if result.Success {
		t.Fatalf("Logout() success = true with failed purge")
	}
	if len(result.Errors) == 0 || result.Errors[0].Step != "purge" {
		t.Fatalf("Logout() errors = %#v", result.Errors)
	}
	// Later steps still ran.
	if !backend.signedOut {
		t.Fatalf("provider sign-out skipped after purge failure")
	}
	if svc.State().Current().Authenticated {
		t.Fatalf("in-memory state not reset after purge failure")
	}
}

func TestLogoutClearsAssetStore(t *testing.T) {
	store := newMapStore()
	backend := &stubBackend{rows: fullRows()}
	assets := &stubAssets{removed: 3}
	svc, _, _ := setupService(t, backend, store, assets)
	ctx := context.Background()

	if _, err := svc.Login(ctx, "123456"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	result := svc.Logout(ctx)
	if !result.Success || result.AssetsRemoved != 3 {
		t.Fatalf("Logout() = %+v", result)
	}
}

func TestGuardStaysRaisedUntilNextLogin(t *testing.T) {
	store := newMapStore()
	backend := &stubBackend{rows: fullRows()}
	svc, _, orch := setupService(t, backend, store, nil)
	ctx := context.Background()

	if _, err := svc.Login(ctx, "123456"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	svc.Logout(ctx)

	if res := orch.SyncAll(ctx); res.Skipped == "" {
		t.Fatalf("SyncAll() ran between logout and next login: %+v", res)
	}

	if _, err := svc.Login(ctx, "123456"); err != nil {
		t.Fatalf("Login() after logout error = %v", err)
	}
	if res := orch.SyncAll(ctx); res.Skipped != "" {
		t.Fatalf("SyncAll() still guarded after login: %+v", res)
	}
}

func TestRestoreCorruptSessionIsSignedOut(t *testing.T) {
	store := newMapStore()
	store.data[keys.SessionKey] = "{not json"
	manager := NewManager(store)

	if err := manager.Restore(context.Background()); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if manager.Current().Authenticated {
		t.Fatalf("Restore() authenticated from corrupt entry")
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	store := newMapStore()
	manager := NewManager(store)
	ctx := context.Background()

	sess := ports.ProviderSession{AttendeeID: "att-2", DisplayName: "Grace", ProjectRef: "xyzzy12345"}
	if err := manager.Save(ctx, sess); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := manager.MarkAuthenticated(ctx); err != nil {
		t.Fatalf("MarkAuthenticated() error = %v", err)
	}

	fresh := NewManager(store)
	if err := fresh.Restore(ctx); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	got := fresh.Current()
	if !got.Authenticated || got.AttendeeID != "att-2" || got.DisplayName != "Grace" {
		t.Fatalf("Restore() = %+v", got)
	}
}
