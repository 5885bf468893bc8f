// Package player defines the player identity that every coordination key in
// the system is derived from. Two requests for the same logical player must
// always resolve to the same identity and the same key family, regardless of
// casing or surrounding whitespace.
package player

import (
	"fmt"
	"strings"
)

// RateLimitKey is the single shared admission key gating every upstream API
// call across all workers. It is global and does not depend on a player.
const RateLimitKey = "riot_api_rate_limit_lock"

// Ref identifies a player by riot id and region. Construct one with New so
// the fields are always normalized; a zero Ref is not valid.
type Ref struct {
	GameName string
	TagLine  string
	Region   string
}

// New creates a normalized player reference. Normalization lowercases and
// trims each component so key derivation is deterministic.
func New(gameName, tagLine, region string) Ref {
	return Ref{
		GameName: normalize(gameName),
		TagLine:  normalize(tagLine),
		Region:   normalize(region),
	}
}

func normalize(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// ID returns the standardized player identifier string used as the base of
// every derived key.
func (r Ref) ID() string {
	return fmt.Sprintf("%s#%s@%s", r.GameName, r.TagLine, r.Region)
}

// IsZero reports whether any identity component is missing.
func (r Ref) IsZero() bool {
	return r.GameName == "" || r.TagLine == "" || r.Region == ""
}

func (r Ref) String() string { return r.ID() }

// KeySet is the family of store keys coordinating one player's jobs.
// Derivation is pure: no randomness, no timestamps, stable across restarts.
type KeySet struct {
	// Lock is the per-player lease key; existence means a job is active.
	Lock string
	// Cooldown throttles re-triggering after a completed job.
	Cooldown string
	// Cache holds the durable merged result set.
	Cache string
	// Aggregation is the fan-in progress hash for the active job.
	Aggregation string
	// PartialResults accumulates per-unit fetch output for the active job.
	PartialResults string
	// Error stores the most recent job failure message.
	Error string
}

// Keys derives the full coordination key family for this player.
func (r Ref) Keys() KeySet {
	id := r.ID()
	jobPrefix := "job:" + id

	return KeySet{
		Lock:           "lock:" + id,
		Cooldown:       "cooldown:" + id,
		Cache:          "cache:" + id,
		Aggregation:    jobPrefix + ":agg",
		PartialResults: jobPrefix + ":results",
		Error:          jobPrefix + ":error",
	}
}
