package ports

import (
	"context"
	"time"
)

// Record is one row of an entity collection as returned by the backend. The
// cache layer treats rows as opaque apart from field sanitization.
type Record = map[string]any

// ProviderSession is the provider-issued session returned by a successful
// sign-in.
type ProviderSession struct {
	AttendeeID   string
	DisplayName  string
	Role         string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time

	// ProjectRef is the backend project identifier embedded in the
	// provider's own storage key.
	ProjectRef string
}

// Backend is the network-reachable record API. Elevated reads use the
// service-role credential and return fields hidden from regular attendees.
type Backend interface {
	SignIn(ctx context.Context, accessCode string) (ProviderSession, error)
	SignOut(ctx context.Context) error
	FetchCollection(ctx context.Context, collection string, elevated bool) ([]Record, error)
}
