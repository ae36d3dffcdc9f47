package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fxarena/arena-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for entry snapshots. Writes go to the primary store and invalidate
// the cache; reads check Redis first then fall back to the primary. Fill
// history is never cached — it is the audit trail and reads are rare.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func (s *CachedStore) CreateEntry(ctx context.Context, e *model.CompetitionEntry) error {
	if err := s.primary.CreateEntry(ctx, e); err != nil {
		return err
	}
	s.cacheEntry(ctx, e)
	return nil
}

func (s *CachedStore) GetEntry(ctx context.Context, id string) (*model.CompetitionEntry, error) {
	data, err := s.rdb.Get(ctx, entryKey(id)).Bytes()
	if err == nil {
		var e model.CompetitionEntry
		if json.Unmarshal(data, &e) == nil {
			return &e, nil
		}
	}

	// Cache miss: read from primary.
	e, err := s.primary.GetEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheEntry(ctx, e)
	return e, nil
}

func (s *CachedStore) UpdateEntryBalances(ctx context.Context, id string, cashCents, realizedPnlCents, peakEquityCents int64, frozen bool) error {
	if err := s.primary.UpdateEntryBalances(ctx, id, cashCents, realizedPnlCents, peakEquityCents, frozen); err != nil {
		return err
	}
	// Invalidate; next read re-populates.
	s.rdb.Del(ctx, entryKey(id))
	return nil
}

func (s *CachedStore) InsertFill(ctx context.Context, fill *model.Fill) error {
	if err := s.primary.InsertFill(ctx, fill); err != nil {
		return err
	}
	s.rdb.Del(ctx, entryKey(fill.EntryID))
	return nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListEntriesByCompetition(ctx context.Context, competitionID string) ([]model.CompetitionEntry, error) {
	return s.primary.ListEntriesByCompetition(ctx, competitionID)
}

func (s *CachedStore) ListEntries(ctx context.Context) ([]model.CompetitionEntry, error) {
	return s.primary.ListEntries(ctx)
}

func (s *CachedStore) ListFillsByEntry(ctx context.Context, entryID string) ([]model.Fill, error) {
	return s.primary.ListFillsByEntry(ctx, entryID)
}

func (s *CachedStore) cacheEntry(ctx context.Context, e *model.CompetitionEntry) {
	if data, err := json.Marshal(e); err == nil {
		s.rdb.Set(ctx, entryKey(e.ID), data, s.ttl)
	}
}

func entryKey(id string) string { return fmt.Sprintf("entry:%s", id) }
