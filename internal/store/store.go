// Package store defines the persistence interface for the arena engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
//
// Fills are append-only and define the system of record: entry balance
// snapshots are a convenience cache that must always be reconstructible by
// replaying fills from the starting balance.
package store

import (
	"context"
	"errors"

	"github.com/fxarena/arena-engine/internal/model"
)

// ErrNotFound is returned for lookups of unknown entries.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface.
type Store interface {
	// CreateEntry persists a newly opened competition entry.
	CreateEntry(ctx context.Context, entry *model.CompetitionEntry) error

	// GetEntry retrieves an entry by its ID.
	GetEntry(ctx context.Context, id string) (*model.CompetitionEntry, error)

	// ListEntriesByCompetition returns all entries for a competition,
	// ordered by join time.
	ListEntriesByCompetition(ctx context.Context, competitionID string) ([]model.CompetitionEntry, error)

	// ListEntries returns every persisted entry, ordered by join time.
	// Used to rehydrate engine state after a restart.
	ListEntries(ctx context.Context) ([]model.CompetitionEntry, error)

	// UpdateEntryBalances writes the entry's balance snapshot after a fill.
	UpdateEntryBalances(ctx context.Context, id string, cashCents, realizedPnlCents, peakEquityCents int64, frozen bool) error

	// InsertFill appends an immutable fill record.
	InsertFill(ctx context.Context, fill *model.Fill) error

	// ListFillsByEntry returns an entry's fills oldest first.
	ListFillsByEntry(ctx context.Context, entryID string) ([]model.Fill, error)
}
