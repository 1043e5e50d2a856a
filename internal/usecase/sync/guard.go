package sync

import "sync/atomic"

// Guard carries the logout-in-progress flag shared by the cache service, the
// orchestrator and the logout sequence. Setting it is the very first
// synchronous action of logout, before anything awaits; from that instant
// every cache write and sync start self-rejects.
type Guard struct {
	logout atomic.Bool
}

func NewGuard() *Guard {
	return &Guard{}
}

func (g *Guard) BeginLogout() {
	g.logout.Store(true)
}

// Reset lowers the flag once logout has fully completed (or a new login
// starts). Safe because by then every in-flight writer has been drained or
// aborted.
func (g *Guard) Reset() {
	g.logout.Store(false)
}

func (g *Guard) LogoutInProgress() bool {
	return g.logout.Load()
}
