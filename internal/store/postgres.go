package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/fxarena/arena-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Prices are stored as NUMERIC for exact decimal precision; balances are
// BIGINT cents.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreateEntry(ctx context.Context, e *model.CompetitionEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO competition_entries
		   (id, competition_id, user_id, starting_balance_cents, cash_cents,
		    realized_pnl_cents, peak_equity_cents, allowed_instruments, frozen, joined_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, e.CompetitionID, e.UserID, e.StartingBalanceCents, e.CashCents,
		e.RealizedPnlCents, e.PeakEquityCents, e.AllowedInstruments, e.Frozen, e.JoinedAt,
	)
	return err
}

func (s *PostgresStore) GetEntry(ctx context.Context, id string) (*model.CompetitionEntry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, competition_id, user_id, starting_balance_cents, cash_cents,
		        realized_pnl_cents, peak_equity_cents, allowed_instruments, frozen, joined_at
		 FROM competition_entries WHERE id = $1`, id)

	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("entry %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get entry %s: %w", id, err)
	}
	return e, nil
}

func (s *PostgresStore) ListEntriesByCompetition(ctx context.Context, competitionID string) ([]model.CompetitionEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, competition_id, user_id, starting_balance_cents, cash_cents,
		        realized_pnl_cents, peak_equity_cents, allowed_instruments, frozen, joined_at
		 FROM competition_entries WHERE competition_id = $1 ORDER BY joined_at`, competitionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.CompetitionEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) ListEntries(ctx context.Context) ([]model.CompetitionEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, competition_id, user_id, starting_balance_cents, cash_cents,
		        realized_pnl_cents, peak_equity_cents, allowed_instruments, frozen, joined_at
		 FROM competition_entries ORDER BY joined_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.CompetitionEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) UpdateEntryBalances(ctx context.Context, id string, cashCents, realizedPnlCents, peakEquityCents int64, frozen bool) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE competition_entries
		 SET cash_cents = $2, realized_pnl_cents = $3, peak_equity_cents = $4, frozen = $5
		 WHERE id = $1`,
		id, cashCents, realizedPnlCents, peakEquityCents, frozen,
	)
	return err
}

func (s *PostgresStore) InsertFill(ctx context.Context, f *model.Fill) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO fills
		   (id, entry_id, order_id, instrument, side, reason,
		    quantity_units, fill_price, realized_pnl_cents, filled_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::NUMERIC, $9, $10)`,
		f.ID, f.EntryID, f.OrderID, f.Instrument, f.Side, f.Reason,
		f.QuantityUnits, f.FillPrice.String(), f.RealizedPnlCents, f.FilledAt,
	)
	return err
}

func (s *PostgresStore) ListFillsByEntry(ctx context.Context, entryID string) ([]model.Fill, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, entry_id, order_id, instrument, side, reason,
		        quantity_units, fill_price::TEXT, realized_pnl_cents, filled_at
		 FROM fills WHERE entry_id = $1 ORDER BY filled_at`, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fills []model.Fill
	for rows.Next() {
		var f model.Fill
		var priceS string
		if err := rows.Scan(&f.ID, &f.EntryID, &f.OrderID, &f.Instrument, &f.Side, &f.Reason,
			&f.QuantityUnits, &priceS, &f.RealizedPnlCents, &f.FilledAt); err != nil {
			return nil, err
		}
		f.FillPrice, _ = decimal.NewFromString(priceS)
		fills = append(fills, f)
	}
	return fills, rows.Err()
}

type pgxRow interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row pgxRow) (*model.CompetitionEntry, error) {
	var e model.CompetitionEntry
	err := row.Scan(&e.ID, &e.CompetitionID, &e.UserID, &e.StartingBalanceCents, &e.CashCents,
		&e.RealizedPnlCents, &e.PeakEquityCents, &e.AllowedInstruments, &e.Frozen, &e.JoinedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
