// Package envelope implements the versioned, checksummed wrapper persisted
// for every cache key. Anything that fails validation decodes as "absent" so
// that every read path only has to handle a single miss state.
package envelope

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SchemaVersion is stamped into every encoded envelope and compared on read.
// Bump it when the envelope layout changes; old entries then decode as misses
// and are refetched.
const SchemaVersion = "2"

// maxClockSkew bounds how far in the future a stored timestamp may sit before
// the entry is treated as corrupt. Protects against clock jumps and torn
// writes producing garbage timestamps.
const maxClockSkew = 5 * time.Minute

// ErrEncoding marks payloads that cannot be serialized.
var ErrEncoding = errors.New("envelope encoding failed")

// Freshness is the read-time classification of an entry.
type Freshness int

const (
	Fresh Freshness = iota
	Stale
)

func (f Freshness) String() string {
	if f == Stale {
		return "stale"
	}
	return "fresh"
}

// Envelope is the unit of storage for one cache key.
type Envelope struct {
	Data      json.RawMessage `json:"data"`
	Version   string          `json:"version"`
	Timestamp time.Time       `json:"timestamp"`
	TTLMs     int64           `json:"ttlMs"`
	Checksum  string          `json:"checksum"`
}

// Encode wraps data in a new envelope stamped at now. A zero ttl means the
// entry never goes stale on its own.
func Encode(data any, ttl time.Duration, now time.Time) (string, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncoding, err)
	}

	env := Envelope{
		Data:      payload,
		Version:   SchemaVersion,
		Timestamp: now.UTC(),
		TTLMs:     ttl.Milliseconds(),
		Checksum:  checksum(payload),
	}

	raw, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	return string(raw), nil
}

// Decode parses and validates a stored envelope. The boolean is false on any
// parse failure, version mismatch, checksum mismatch, or a timestamp further
// in the future than the tolerated clock skew. Callers must treat false
// exactly like "key not found"; Decode never panics on untrusted input.
//
// Entries written before envelopes existed were bare JSON arrays. Those still
// decode, as a versionless envelope that always classifies as stale so the
// next read refreshes them into the current format.
func Decode(raw string, now time.Time) (Envelope, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Envelope{}, false
	}

	var env Envelope
	if err := json.Unmarshal([]byte(trimmed), &env); err == nil && env.Version != "" {
		if env.Version != SchemaVersion {
			return Envelope{}, false
		}
		if checksum(env.Data) != env.Checksum {
			return Envelope{}, false
		}
		if env.Timestamp.After(now.Add(maxClockSkew)) {
			return Envelope{}, false
		}
		return env, true
	}

	// Legacy shape: a raw array with no envelope around it.
	if strings.HasPrefix(trimmed, "[") && json.Valid([]byte(trimmed)) {
		return Envelope{Data: json.RawMessage(trimmed)}, true
	}

	return Envelope{}, false
}

// Freshness classifies the entry at now. Staleness is a signal, not an
// eviction: stale entries are still returned to callers.
func (e Envelope) Freshness(now time.Time) Freshness {
	if e.Timestamp.IsZero() {
		// Legacy entries carry no timestamp and always want a refresh.
		return Stale
	}
	if e.TTLMs <= 0 {
		return Fresh
	}
	if now.After(e.Timestamp.Add(time.Duration(e.TTLMs) * time.Millisecond)) {
		return Stale
	}
	return Fresh
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
