// Package keys defines the key namespace of the persistent store: which keys
// belong to the data cache, which hold session state, and which must fall to
// the logout sweep.
package keys

import "strings"

const (
	// DataPrefix namespaces every cached collection.
	DataPrefix = "kn_cache_"

	// legacyDataPrefix was used by older releases. Nothing writes it
	// anymore but the purge sweep still has to recognize it.
	legacyDataPrefix = "kn_cached_"

	// SessionKey holds the authenticated session state. Deliberately
	// outside DataPrefix: it has its own narrow accessor and lifecycle.
	SessionKey = "conference_auth"

	// derivedPrefix namespaces per-attendee derived info (current user
	// profile snapshots and similar).
	derivedPrefix = "kn_user_"

	providerTokenPrefix = "sb-"
	providerTokenMarker = "-auth-token"
)

// ForCollection returns the cache key for an entity collection.
func ForCollection(name string) string {
	return DataPrefix + name
}

// IsData reports whether key belongs to the data cache namespace, current or
// legacy.
func IsData(key string) bool {
	return strings.HasPrefix(key, DataPrefix) || strings.HasPrefix(key, legacyDataPrefix)
}

// ProviderTokenKey is the key the backend provider stores its session token
// under. The embedded project ref changes whenever the backend project is
// recreated, which is why matching goes through IsProviderToken instead of a
// static list.
func ProviderTokenKey(projectRef string) string {
	return providerTokenPrefix + projectRef + providerTokenMarker
}

// IsProviderToken matches provider session-token keys by pattern, for any
// project ref.
func IsProviderToken(key string) bool {
	return strings.HasPrefix(key, providerTokenPrefix) && strings.Contains(key, providerTokenMarker)
}

// Purgeable is the single predicate the logout sweep applies to every key in
// the store. Keys it does not match (user preferences, unrelated state)
// survive logout.
func Purgeable(key string) bool {
	if IsData(key) {
		return true
	}
	if key == SessionKey {
		return true
	}
	if strings.HasPrefix(key, derivedPrefix) {
		return true
	}
	return IsProviderToken(key)
}
