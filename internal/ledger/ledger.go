// Package ledger implements per-entry cash and equity bookkeeping. Cash only
// ever moves by realized P&L — unrealized P&L never touches it — and the
// conservation identity cash == startingBalance + Σrealized is checked after
// every mutation. A violation is a fatal accounting bug: the entry is frozen
// and accepts no further trading.
package ledger

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/fxarena/arena-engine/internal/model"
)

var (
	// ErrFrozen is returned for any mutation on a frozen account.
	ErrFrozen = errors.New("ledger: entry frozen, trading suspended")

	// ErrInvariant signals the cash conservation identity broke. The
	// offending account is frozen; the error is not retryable.
	ErrInvariant = errors.New("ledger: cash conservation violated")
)

// Account is the authoritative balance state for one competition entry.
// Equity is never stored here: it is always recomputed from live quotes.
type Account struct {
	EntryID              string
	StartingBalanceCents int64
	CashCents            int64
	RealizedPnlCents     int64
	PeakEquityCents      int64
	Frozen               bool
}

// NewAccount opens an account with cash equal to the starting balance.
func NewAccount(entryID string, startingBalanceCents int64) *Account {
	return &Account{
		EntryID:              entryID,
		StartingBalanceCents: startingBalanceCents,
		CashCents:            startingBalanceCents,
		PeakEquityCents:      startingBalanceCents,
	}
}

// ApplyRealized credits (or debits) realized P&L to cash and re-checks the
// conservation invariant. On violation the account freezes and ErrInvariant
// is returned.
func (a *Account) ApplyRealized(cents int64) error {
	if a.Frozen {
		return ErrFrozen
	}
	a.CashCents += cents
	a.RealizedPnlCents += cents
	if err := a.check(); err != nil {
		return err
	}
	return nil
}

// check verifies cash == starting + realized and freezes on failure.
func (a *Account) check() error {
	if a.CashCents == a.StartingBalanceCents+a.RealizedPnlCents {
		return nil
	}
	a.Frozen = true
	slog.Error("ledger invariant violated, freezing entry",
		"entry_id", a.EntryID,
		"cash_cents", a.CashCents,
		"starting_cents", a.StartingBalanceCents,
		"realized_cents", a.RealizedPnlCents,
	)
	return fmt.Errorf("%w: entry %s", ErrInvariant, a.EntryID)
}

// Equity returns cash plus the given unrealized P&L.
func (a *Account) Equity(unrealizedCents int64) int64 {
	return a.CashCents + unrealizedCents
}

// ObserveEquity folds a fresh equity mark into the peak-equity watermark.
func (a *Account) ObserveEquity(equityCents int64) {
	if equityCents > a.PeakEquityCents {
		a.PeakEquityCents = equityCents
	}
}

// DrawdownPct returns the percentage decline from peak equity, clamped ≥ 0,
// rounded to four decimal places.
func (a *Account) DrawdownPct(equityCents int64) decimal.Decimal {
	if a.PeakEquityCents <= 0 || equityCents >= a.PeakEquityCents {
		return decimal.Zero
	}
	peak := decimal.NewFromInt(a.PeakEquityCents)
	cur := decimal.NewFromInt(equityCents)
	return peak.Sub(cur).Div(peak).Mul(decimal.NewFromInt(100)).Round(4)
}

// ReturnPct returns percentage return on the starting balance, rounded to
// four decimal places.
func ReturnPct(startingBalanceCents, equityCents int64) decimal.Decimal {
	if startingBalanceCents == 0 {
		return decimal.Zero
	}
	start := decimal.NewFromInt(startingBalanceCents)
	cur := decimal.NewFromInt(equityCents)
	return cur.Sub(start).Div(start).Mul(decimal.NewFromInt(100)).Round(4)
}

// Replay folds a fill history into the balances it implies. Fills are the
// system of record; any cached snapshot must agree with this fold.
func Replay(entryID string, startingBalanceCents int64, fills []model.Fill) *Account {
	a := NewAccount(entryID, startingBalanceCents)
	for _, f := range fills {
		a.CashCents += f.RealizedPnlCents
		a.RealizedPnlCents += f.RealizedPnlCents
	}
	return a
}
