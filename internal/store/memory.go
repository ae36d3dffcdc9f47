package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/fxarena/arena-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*model.CompetitionEntry
	fills   []model.Fill
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*model.CompetitionEntry),
	}
}

func (s *MemoryStore) CreateEntry(_ context.Context, e *model.CompetitionEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[e.ID]; ok {
		return fmt.Errorf("entry %s already exists", e.ID)
	}
	// Store a copy to avoid external mutation.
	cp := *e
	cp.AllowedInstruments = append([]string(nil), e.AllowedInstruments...)
	s.entries[e.ID] = &cp
	return nil
}

func (s *MemoryStore) GetEntry(_ context.Context, id string) (*model.CompetitionEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, fmt.Errorf("entry %s: %w", id, ErrNotFound)
	}
	cp := *e
	return &cp, nil
}

func (s *MemoryStore) ListEntriesByCompetition(_ context.Context, competitionID string) ([]model.CompetitionEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.CompetitionEntry
	for _, e := range s.entries {
		if e.CompetitionID == competitionID {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func (s *MemoryStore) ListEntries(_ context.Context) ([]model.CompetitionEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.CompetitionEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func (s *MemoryStore) UpdateEntryBalances(_ context.Context, id string, cashCents, realizedPnlCents, peakEquityCents int64, frozen bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("entry %s: %w", id, ErrNotFound)
	}
	e.CashCents = cashCents
	e.RealizedPnlCents = realizedPnlCents
	e.PeakEquityCents = peakEquityCents
	e.Frozen = frozen
	return nil
}

func (s *MemoryStore) InsertFill(_ context.Context, fill *model.Fill) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fills = append(s.fills, *fill)
	return nil
}

func (s *MemoryStore) ListFillsByEntry(_ context.Context, entryID string) ([]model.Fill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Fill
	for _, f := range s.fills {
		if f.EntryID == entryID {
			out = append(out, f)
		}
	}
	return out, nil
}
