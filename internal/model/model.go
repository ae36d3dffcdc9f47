// Package model defines the core domain types shared across the arena engine.
// Prices are shopspring/decimal at pip precision — never float64. All P&L and
// balance arithmetic is done in integer cents.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order or position.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Valid reports whether the side is one of the two known values.
func (s Side) Valid() bool { return s == SideBuy || s == SideSell }

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType is the closed set of supported order types.
type OrderType string

const (
	OrderMarket OrderType = "market"
	OrderLimit  OrderType = "limit"
	OrderStop   OrderType = "stop"
)

// Valid reports whether the order type is one of the three known values.
func (t OrderType) Valid() bool {
	return t == OrderMarket || t == OrderLimit || t == OrderStop
}

// OrderStatus is the lifecycle state of a pending order.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderFilled    OrderStatus = "filled"
	OrderCancelled OrderStatus = "cancelled"
	OrderExpired   OrderStatus = "expired"
)

// CompetitionStatus gates whether entries in a competition may trade.
type CompetitionStatus string

const (
	CompetitionRunning CompetitionStatus = "running"
	CompetitionEnded   CompetitionStatus = "ended"
)

// FillReason records what produced a fill, for the audit trail.
type FillReason string

const (
	FillMarket     FillReason = "market"
	FillLimit      FillReason = "limit"
	FillStop       FillReason = "stop"
	FillStopLoss   FillReason = "stop_loss"
	FillTakeProfit FillReason = "take_profit"
	FillClose      FillReason = "close"
)

// Instrument is immutable reference data for a tradable pair.
type Instrument struct {
	Symbol       string          `json:"symbol"`        // e.g. "EUR-USD"
	PipSize      decimal.Decimal `json:"pip_size"`      // 0.0001, or 0.01 for JPY-quoted pairs
	LotUnits     int64           `json:"lot_units"`     // units per standard lot
	ReferenceMid decimal.Decimal `json:"reference_mid"` // anchor for the simulated walk
}

// Quote is an immutable bid/ask snapshot. Spread (ask-bid) is always > 0,
// and timestamps are strictly increasing per instrument.
type Quote struct {
	Instrument string          `json:"instrument"`
	Bid        decimal.Decimal `json:"bid"`
	Ask        decimal.Decimal `json:"ask"`
	Timestamp  time.Time       `json:"timestamp"`
	// Session increments each time the instrument's generator (re)starts,
	// so consumers can detect the discontinuity after a restart.
	Session int64 `json:"session"`
}

// Mid returns the quote midpoint.
func (q Quote) Mid() decimal.Decimal {
	return q.Bid.Add(q.Ask).Div(decimal.NewFromInt(2))
}

// Timeframe is a supported candle aggregation interval.
type Timeframe string

const (
	TF1m  Timeframe = "1m"
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF1h  Timeframe = "1h"
	TF4h  Timeframe = "4h"
	TF1d  Timeframe = "1d"
)

// Timeframes lists all configured aggregation intervals.
var Timeframes = []Timeframe{TF1m, TF5m, TF15m, TF1h, TF4h, TF1d}

// Duration returns the bucket width, or 0 for an unknown timeframe.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case TF1m:
		return time.Minute
	case TF5m:
		return 5 * time.Minute
	case TF15m:
		return 15 * time.Minute
	case TF1h:
		return time.Hour
	case TF4h:
		return 4 * time.Hour
	case TF1d:
		return 24 * time.Hour
	}
	return 0
}

// Candle is one OHLC bucket. Invariant: Low ≤ min(Open,Close) and
// High ≥ max(Open,Close) at all times, including while the candle is open.
type Candle struct {
	Instrument  string          `json:"instrument"`
	Timeframe   Timeframe       `json:"timeframe"`
	BucketStart time.Time       `json:"bucket_start"`
	Open        decimal.Decimal `json:"open"`
	High        decimal.Decimal `json:"high"`
	Low         decimal.Decimal `json:"low"`
	Close       decimal.Decimal `json:"close"`
}

// CompetitionEntry is one participant's stake in one competition or match.
// Cash starts at the starting balance and only moves by realized P&L.
type CompetitionEntry struct {
	ID                   string    `json:"id" db:"id"`
	CompetitionID        string    `json:"competition_id" db:"competition_id"`
	UserID               string    `json:"user_id" db:"user_id"`
	StartingBalanceCents int64     `json:"starting_balance_cents" db:"starting_balance_cents"`
	CashCents            int64     `json:"cash_cents" db:"cash_cents"`
	RealizedPnlCents     int64     `json:"realized_pnl_cents" db:"realized_pnl_cents"`
	PeakEquityCents      int64     `json:"peak_equity_cents" db:"peak_equity_cents"`
	AllowedInstruments   []string  `json:"allowed_instruments" db:"allowed_instruments"`
	Frozen               bool      `json:"frozen" db:"frozen"`
	JoinedAt             time.Time `json:"joined_at" db:"joined_at"`
}

// Allows reports whether the entry's whitelist contains the instrument.
func (e *CompetitionEntry) Allows(instrument string) bool {
	for _, s := range e.AllowedInstruments {
		if s == instrument {
			return true
		}
	}
	return false
}

// Position is an open holding. At most one exists per (entry, instrument);
// it is removed when quantity reaches zero.
type Position struct {
	ID              string          `json:"id"`
	EntryID         string          `json:"entry_id"`
	Instrument      string          `json:"instrument"`
	Side            Side            `json:"side"`
	QuantityUnits   int64           `json:"quantity_units"`
	AvgEntryPrice   decimal.Decimal `json:"avg_entry_price"`
	StopLossPrice   decimal.Decimal `json:"stop_loss_price,omitempty"`
	TakeProfitPrice decimal.Decimal `json:"take_profit_price,omitempty"`
	OpenedAt        time.Time       `json:"opened_at"`
}

// UnrealizedPnlCents marks the position to the given quote: longs close at
// the bid, shorts at the ask.
func (p *Position) UnrealizedPnlCents(q Quote) int64 {
	if p.Side == SideBuy {
		return PnlCents(SideBuy, p.AvgEntryPrice, q.Bid, p.QuantityUnits)
	}
	return PnlCents(SideSell, p.AvgEntryPrice, q.Ask, p.QuantityUnits)
}

// PendingOrder is a resting limit or stop order awaiting its trigger.
type PendingOrder struct {
	ID              string          `json:"id"`
	EntryID         string          `json:"entry_id"`
	Instrument      string          `json:"instrument"`
	Side            Side            `json:"side"`
	Type            OrderType       `json:"type"`
	QuantityUnits   int64           `json:"quantity_units"`
	TriggerPrice    decimal.Decimal `json:"trigger_price"`
	StopLossPrice   decimal.Decimal `json:"stop_loss_price,omitempty"`
	TakeProfitPrice decimal.Decimal `json:"take_profit_price,omitempty"`
	Status          OrderStatus     `json:"status"`
	// Seq orders same-class triggers within one tick by submission order.
	Seq       int64     `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// Fill is the immutable audit record of one execution. Ledger state is
// always reconstructible as a fold over an entry's fills.
type Fill struct {
	ID               string          `json:"id" db:"id"`
	EntryID          string          `json:"entry_id" db:"entry_id"`
	OrderID          string          `json:"order_id,omitempty" db:"order_id"`
	Instrument       string          `json:"instrument" db:"instrument"`
	Side             Side            `json:"side" db:"side"`
	Reason           FillReason      `json:"reason" db:"reason"`
	QuantityUnits    int64           `json:"quantity_units" db:"quantity_units"`
	FillPrice        decimal.Decimal `json:"fill_price" db:"fill_price"`
	RealizedPnlCents int64           `json:"realized_pnl_cents" db:"realized_pnl_cents"`
	FilledAt         time.Time       `json:"filled_at" db:"filled_at"`
}

// LeaderboardRow is a derived ranking row, never stored as source of truth.
type LeaderboardRow struct {
	Rank        int             `json:"rank"`
	EntryID     string          `json:"entry_id"`
	UserID      string          `json:"user_id"`
	EquityCents int64           `json:"equity_cents"`
	ReturnPct   decimal.Decimal `json:"return_pct"`
	DrawdownPct decimal.Decimal `json:"drawdown_pct"`
}

var centsPerUnit = decimal.NewFromInt(100)

// PnlCents converts a price move on a quantity into hundredths of the quote
// currency, rounded half away from zero. For a buy the move is mark-entry;
// for a sell it is entry-mark.
//
// Competition accounting books the result directly as account cents. That is
// exact for USD-quoted pairs; for JPY-quoted pairs one "cent" is one
// hundredth of a yen, with no conversion into the account currency.
func PnlCents(side Side, entryPrice, markPrice decimal.Decimal, quantityUnits int64) int64 {
	diff := markPrice.Sub(entryPrice)
	if side == SideSell {
		diff = entryPrice.Sub(markPrice)
	}
	return diff.Mul(decimal.NewFromInt(quantityUnits)).Mul(centsPerUnit).Round(0).IntPart()
}
