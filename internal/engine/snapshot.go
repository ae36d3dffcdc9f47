package engine

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/fxarena/arena-engine/internal/leaderboard"
	"github.com/fxarena/arena-engine/internal/ledger"
	"github.com/fxarena/arena-engine/internal/model"
)

// PositionView is an open position marked to the latest quote.
type PositionView struct {
	model.Position
	MarkPrice          decimal.Decimal `json:"mark_price"`
	UnrealizedPnlCents int64           `json:"unrealized_pnl_cents"`
}

// Snapshot is the authoritative per-entry state returned on demand. The
// engine never pushes partial or speculative state.
type Snapshot struct {
	Entry              model.CompetitionEntry `json:"entry"`
	EquityCents        int64                  `json:"equity_cents"`
	UnrealizedPnlCents int64                  `json:"unrealized_pnl_cents"`
	ReturnPct          decimal.Decimal        `json:"return_pct"`
	DrawdownPct        decimal.Decimal        `json:"drawdown_pct"`
	Positions          []PositionView         `json:"positions"`
	PendingOrders      []model.PendingOrder   `json:"pending_orders"`
}

// Snapshot returns the current consistent view of one entry: balances,
// equity marked to live quotes, open positions, and resting orders. Entries
// persisted by an earlier process are loaded from the store on first access.
func (e *Engine) Snapshot(ctx context.Context, entryID string) (Snapshot, error) {
	es, err := e.loadEntryState(ctx, entryID)
	if err != nil {
		return Snapshot{}, err
	}

	es.mu.Lock()
	defer es.mu.Unlock()

	var views []PositionView
	var unrealized int64
	for _, p := range es.book.Positions() {
		view := PositionView{Position: p}
		if q, ok := e.latest(p.Instrument); ok {
			view.MarkPrice = q.Bid
			if p.Side == model.SideSell {
				view.MarkPrice = q.Ask
			}
			view.UnrealizedPnlCents = p.UnrealizedPnlCents(q)
			unrealized += view.UnrealizedPnlCents
		}
		views = append(views, view)
	}

	equity := es.account.Equity(unrealized)
	entry := es.entry
	entry.CashCents = es.account.CashCents
	entry.RealizedPnlCents = es.account.RealizedPnlCents
	entry.PeakEquityCents = es.account.PeakEquityCents
	entry.Frozen = es.account.Frozen

	return Snapshot{
		Entry:              entry,
		EquityCents:        equity,
		UnrealizedPnlCents: unrealized,
		ReturnPct:          ledger.ReturnPct(entry.StartingBalanceCents, equity),
		DrawdownPct:        es.account.DrawdownPct(equity),
		Positions:          views,
		PendingOrders:      es.book.PendingOrders(),
	}, nil
}

// Leaderboard ranks a competition's entries by live equity return. It is a
// pure projection computed fresh per call; each entry is read under its own
// lock so a row never reflects a torn ledger update.
func (e *Engine) Leaderboard(ctx context.Context, competitionID string) ([]model.LeaderboardRow, error) {
	_, states, err := e.competitionStates(ctx, competitionID)
	if err != nil {
		return nil, err
	}

	standings := make([]leaderboard.Standing, 0, len(states))
	for _, es := range states {
		es.mu.Lock()
		equity := es.account.Equity(es.book.UnrealizedPnlCents(e.latest))
		standings = append(standings, leaderboard.Standing{
			EntryID:              es.entry.ID,
			UserID:               es.entry.UserID,
			StartingBalanceCents: es.entry.StartingBalanceCents,
			EquityCents:          equity,
			DrawdownPct:          es.account.DrawdownPct(equity),
			JoinedAt:             es.entry.JoinedAt,
		})
		es.mu.Unlock()
	}

	return leaderboard.Rank(standings), nil
}
