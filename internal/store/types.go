package store

import (
	"encoding/json"
	"time"
)

// MutationType identifies the kind of user intent captured while offline
type MutationType string

const (
	// MutationWatchlistAdd adds a prospect to the user's watchlist
	MutationWatchlistAdd MutationType = "watchlist_add"

	// MutationWatchlistRemove removes a prospect from the user's watchlist
	MutationWatchlistRemove MutationType = "watchlist_remove"

	// MutationComparisonCreate records a new prospect comparison
	MutationComparisonCreate MutationType = "comparison_create"

	// MutationPreferenceUpdate updates a user preference
	MutationPreferenceUpdate MutationType = "preference_update"

	// MutationDataFetch requests a server-side data refresh
	MutationDataFetch MutationType = "data_fetch"
)

// MutationTypes returns the closed set of mutation types
func MutationTypes() []MutationType {
	return []MutationType{
		MutationWatchlistAdd,
		MutationWatchlistRemove,
		MutationComparisonCreate,
		MutationPreferenceUpdate,
		MutationDataFetch,
	}
}

// Valid reports whether t is a member of the closed mutation type set
func (t MutationType) Valid() bool {
	switch t {
	case MutationWatchlistAdd, MutationWatchlistRemove, MutationComparisonCreate,
		MutationPreferenceUpdate, MutationDataFetch:
		return true
	}
	return false
}

// Prospect is a cached dynasty-baseball prospect record
type Prospect struct {
	// ID is the stable primary key assigned by the rankings provider
	ID string `json:"id"`

	// Name is the prospect's display name
	Name string `json:"name"`

	// Position is the primary fielding position (e.g. "SS", "RHP")
	Position string `json:"position,omitempty"`

	// Organization is the MLB organization the prospect belongs to
	Organization string `json:"organization,omitempty"`

	// Level is the highest minor-league level reached (e.g. "AA")
	Level string `json:"level,omitempty"`

	// ETA is the projected MLB arrival year
	ETA int `json:"eta,omitempty"`

	// UpdatedAt is stamped by the store on every write
	UpdatedAt time.Time `json:"updatedAt"`
}

// RankedEntry is a single position in a rankings snapshot
type RankedEntry struct {
	ProspectID string `json:"prospectId"`
	Rank       int    `json:"rank"`
}

// RankingsSnapshot is an immutable capture of an ordered ranking list.
// Snapshots are replace-only: a newer capture supersedes an older one,
// they are never merged or partially updated.
type RankingsSnapshot struct {
	// CapturedAt keys the snapshot
	CapturedAt time.Time `json:"capturedAt"`

	// Entries is the ordered ranking sequence
	Entries []RankedEntry `json:"entries"`

	// Count is the number of ranked entities at capture time
	Count int `json:"count"`
}

// WatchlistEntry marks a prospect as watched; existence is membership
type WatchlistEntry struct {
	ProspectID string    `json:"prospectId"`
	AddedAt    time.Time `json:"addedAt"`
}

// Comparison is a saved side-by-side prospect comparison
type Comparison struct {
	// ID is generated at creation time
	ID string `json:"id"`

	// ProspectIDs is the ordered list of compared prospects
	ProspectIDs []string `json:"prospectIds"`

	CreatedAt time.Time `json:"createdAt"`
}

// PendingMutation is a durably recorded user intent awaiting delivery.
// The record exists from the moment the intent is accepted until the
// server confirms the effect or the retry budget is exhausted.
type PendingMutation struct {
	// ID is the client-generated mutation id
	ID string `json:"id"`

	// Seq is the monotone enqueue sequence; drain order follows it
	Seq int64 `json:"seq"`

	Type    MutationType    `json:"type"`
	Payload json.RawMessage `json:"payload"`

	// IdempotencyKey is generated once at enqueue time and persisted so a
	// replayed delivery after restart cannot double-apply on the server
	IdempotencyKey string `json:"idempotencyKey"`

	// RetryCount is monotonically non-decreasing and bounded by the
	// coordinator's retry budget
	RetryCount int `json:"retryCount"`

	// NextAttempt is the earliest time the next delivery may run; nil
	// means the mutation is immediately eligible
	NextAttempt *time.Time `json:"nextAttempt,omitempty"`

	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// DeadLetter retains a permanently failed mutation for inspection
type DeadLetter struct {
	ID         string          `json:"id"`
	Type       MutationType    `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	RetryCount int             `json:"retryCount"`
	Reason     string          `json:"reason"`
	FailedAt   time.Time       `json:"failedAt"`
}
