// Package offline pairs optimistic local writes with durable mutation
// records. Every user intent lands in local storage first; only after the
// pending record commits is the action acknowledged to the caller.
package offline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/farmsight/sync-engine/internal/store"
)

// Store is the local persistence surface the service writes through,
// implemented by the persistent store
type Store interface {
	PutProspect(ctx context.Context, p *store.Prospect) error
	PutProspects(ctx context.Context, ps []*store.Prospect) error
	PutSnapshot(ctx context.Context, s *store.RankingsSnapshot) error
	AddWatch(ctx context.Context, prospectID string) error
	RemoveWatch(ctx context.Context, prospectID string) error
	ListWatches(ctx context.Context) ([]*store.WatchlistEntry, error)
	PutComparison(ctx context.Context, c *store.Comparison) error
	RecentComparisons(ctx context.Context, n int) ([]*store.Comparison, error)
	PutPreference(ctx context.Context, key string, value json.RawMessage) error
	GetPreference(ctx context.Context, key string) (json.RawMessage, error)
	ClearAll(ctx context.Context) error
}

// Enqueuer records user intents for eventual remote delivery
type Enqueuer interface {
	Enqueue(ctx context.Context, typ store.MutationType, payload json.RawMessage) (*store.PendingMutation, error)
	ClearPending(ctx context.Context) error
}

// Service is the application-facing facade over local persistence and the
// sync queue
type Service struct {
	store Store
	queue Enqueuer
}

// NewService creates the offline facade
func NewService(s Store, q Enqueuer) *Service {
	return &Service{store: s, queue: q}
}

type watchlistPayload struct {
	ProspectID string `json:"prospectId"`
}

type comparisonPayload struct {
	ID          string   `json:"id"`
	ProspectIDs []string `json:"prospectIds"`
}

type preferencePayload struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// AddToWatchlist records the watch locally, then durably queues the remote
// mutation. The local write is optimistic; a later permanent delivery
// failure leaves it in place (last-write-wins on the next data fetch).
func (s *Service) AddToWatchlist(ctx context.Context, prospectID string) error {
	if prospectID == "" {
		return fmt.Errorf("prospect id is required")
	}
	if err := s.store.AddWatch(ctx, prospectID); err != nil {
		return err
	}
	return s.enqueue(ctx, store.MutationWatchlistAdd, watchlistPayload{ProspectID: prospectID})
}

// RemoveFromWatchlist removes the watch locally and queues the removal
func (s *Service) RemoveFromWatchlist(ctx context.Context, prospectID string) error {
	if prospectID == "" {
		return fmt.Errorf("prospect id is required")
	}
	if err := s.store.RemoveWatch(ctx, prospectID); err != nil {
		return err
	}
	return s.enqueue(ctx, store.MutationWatchlistRemove, watchlistPayload{ProspectID: prospectID})
}

// Watchlist lists the locally known watches
func (s *Service) Watchlist(ctx context.Context) ([]*store.WatchlistEntry, error) {
	return s.store.ListWatches(ctx)
}

// SaveComparison persists a comparison locally and queues its creation
// remotely, returning the stored record
func (s *Service) SaveComparison(ctx context.Context, prospectIDs []string) (*store.Comparison, error) {
	if len(prospectIDs) < 2 {
		return nil, fmt.Errorf("a comparison needs at least two prospects")
	}

	c := &store.Comparison{
		ID:          uuid.NewString(),
		ProspectIDs: prospectIDs,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.PutComparison(ctx, c); err != nil {
		return nil, err
	}
	if err := s.enqueue(ctx, store.MutationComparisonCreate, comparisonPayload{ID: c.ID, ProspectIDs: c.ProspectIDs}); err != nil {
		return nil, err
	}
	return c, nil
}

// RecentComparisons returns the most recent locally stored comparisons
func (s *Service) RecentComparisons(ctx context.Context, n int) ([]*store.Comparison, error) {
	return s.store.RecentComparisons(ctx, n)
}

// UpdatePreference stores the preference locally and queues the update.
// Values are arbitrary JSON; the store does not interpret them.
func (s *Service) UpdatePreference(ctx context.Context, key string, value json.RawMessage) error {
	if key == "" {
		return fmt.Errorf("preference key is required")
	}
	if !json.Valid(value) {
		return fmt.Errorf("preference value must be valid JSON")
	}
	if err := s.store.PutPreference(ctx, key, value); err != nil {
		return err
	}
	return s.enqueue(ctx, store.MutationPreferenceUpdate, preferencePayload{Key: key, Value: value})
}

// Preference reads a locally stored preference; absence is (nil, nil)
func (s *Service) Preference(ctx context.Context, key string) (json.RawMessage, error) {
	return s.store.GetPreference(ctx, key)
}

// CacheProspects replaces locally cached prospect records with fresher
// server data. Cache writes are last-write-wins and never queue mutations.
func (s *Service) CacheProspects(ctx context.Context, ps []*store.Prospect) error {
	return s.store.PutProspects(ctx, ps)
}

// CacheRankings stores a rankings snapshot. Snapshots are replace-only:
// a newer capture supersedes, entries are never merged.
func (s *Service) CacheRankings(ctx context.Context, entries []store.RankedEntry) error {
	snap := &store.RankingsSnapshot{
		CapturedAt: time.Now().UTC(),
		Entries:    entries,
		Count:      len(entries),
	}
	return s.store.PutSnapshot(ctx, snap)
}

// ClearAll wipes the pending queue and every local table. Used on logout.
func (s *Service) ClearAll(ctx context.Context) error {
	if err := s.queue.ClearPending(ctx); err != nil {
		return err
	}
	if err := s.store.ClearAll(ctx); err != nil {
		return err
	}
	slog.Info("Cleared local data and pending mutations")
	return nil
}

func (s *Service) enqueue(ctx context.Context, typ store.MutationType, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", typ, err)
	}
	if _, err := s.queue.Enqueue(ctx, typ, raw); err != nil {
		return err
	}
	return nil
}

var _ Store = (*store.Store)(nil)
