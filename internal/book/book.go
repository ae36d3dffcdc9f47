// Package book holds one entry's open positions and resting orders and
// evaluates them against quote ticks. A Book is owned by its entry's single
// writer (see engine); it does no locking of its own.
package book

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fxarena/arena-engine/internal/model"
)

// Book is the per-entry container of positions and pending orders.
type Book struct {
	entryID   string
	positions map[string]*model.Position     // keyed by instrument
	pending   map[string]*model.PendingOrder // keyed by order ID
	seq       int64
}

// New creates an empty book for one entry.
func New(entryID string) *Book {
	return &Book{
		entryID:   entryID,
		positions: make(map[string]*model.Position),
		pending:   make(map[string]*model.PendingOrder),
	}
}

// Position returns the open position for an instrument, if any.
func (b *Book) Position(instrument string) (*model.Position, bool) {
	p, ok := b.positions[instrument]
	return p, ok
}

// PositionByID looks a position up by its ID.
func (b *Book) PositionByID(id string) (*model.Position, bool) {
	for _, p := range b.positions {
		if p.ID == id {
			return p, true
		}
	}
	return nil, false
}

// Positions returns a stable snapshot of open positions.
func (b *Book) Positions() []model.Position {
	out := make([]model.Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instrument < out[j].Instrument })
	return out
}

// AddPending inserts a resting order and assigns its evaluation sequence.
func (b *Book) AddPending(o *model.PendingOrder) {
	b.seq++
	o.Seq = b.seq
	o.Status = model.OrderPending
	b.pending[o.ID] = o
}

// RemovePending removes a resting order, reporting whether it existed.
func (b *Book) RemovePending(id string) (*model.PendingOrder, bool) {
	o, ok := b.pending[id]
	if ok {
		delete(b.pending, id)
	}
	return o, ok
}

// PendingByID looks a resting order up by its ID.
func (b *Book) PendingByID(id string) (*model.PendingOrder, bool) {
	o, ok := b.pending[id]
	return o, ok
}

// PendingOrders returns resting orders in submission order.
func (b *Book) PendingOrders() []model.PendingOrder {
	out := make([]model.PendingOrder, 0, len(b.pending))
	for _, o := range b.pending {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// ExpirePending drops every resting order, for competition end.
func (b *Book) ExpirePending() []model.PendingOrder {
	out := b.PendingOrders()
	for i := range out {
		out[i].Status = model.OrderExpired
	}
	b.pending = make(map[string]*model.PendingOrder)
	return out
}

// UnrealizedPnlCents marks all open positions against their latest quotes.
func (b *Book) UnrealizedPnlCents(latest func(instrument string) (model.Quote, bool)) int64 {
	var total int64
	for _, p := range b.positions {
		if q, ok := latest(p.Instrument); ok {
			total += p.UnrealizedPnlCents(q)
		}
	}
	return total
}

// ApplyFill merges an execution into the position set. A same-side fill
// grows the position and recomputes the quantity-weighted average entry
// price. An opposite-side fill first reduces, realizing P&L on the closed
// portion, and flips into a new position only if the fill quantity exceeds
// the existing one. Returns realized P&L in cents.
func (b *Book) ApplyFill(instrument string, side model.Side, quantityUnits int64, price, stopLoss, takeProfit decimal.Decimal, now time.Time) int64 {
	pos, ok := b.positions[instrument]
	if !ok {
		b.open(instrument, side, quantityUnits, price, stopLoss, takeProfit, now)
		return 0
	}

	if pos.Side == side {
		oldQty := decimal.NewFromInt(pos.QuantityUnits)
		addQty := decimal.NewFromInt(quantityUnits)
		notional := pos.AvgEntryPrice.Mul(oldQty).Add(price.Mul(addQty))
		pos.QuantityUnits += quantityUnits
		pos.AvgEntryPrice = notional.Div(oldQty.Add(addQty))
		if !stopLoss.IsZero() {
			pos.StopLossPrice = stopLoss
		}
		if !takeProfit.IsZero() {
			pos.TakeProfitPrice = takeProfit
		}
		return 0
	}

	closed := quantityUnits
	if closed > pos.QuantityUnits {
		closed = pos.QuantityUnits
	}
	realized := model.PnlCents(pos.Side, pos.AvgEntryPrice, price, closed)
	pos.QuantityUnits -= closed

	if pos.QuantityUnits == 0 {
		delete(b.positions, instrument)
		if rem := quantityUnits - closed; rem > 0 {
			b.open(instrument, side, rem, price, stopLoss, takeProfit, now)
		}
	}
	return realized
}

func (b *Book) open(instrument string, side model.Side, qty int64, price, stopLoss, takeProfit decimal.Decimal, now time.Time) {
	b.positions[instrument] = &model.Position{
		ID:              uuid.New().String(),
		EntryID:         b.entryID,
		Instrument:      instrument,
		Side:            side,
		QuantityUnits:   qty,
		AvgEntryPrice:   price,
		StopLossPrice:   stopLoss,
		TakeProfitPrice: takeProfit,
		OpenedAt:        now,
	}
}
