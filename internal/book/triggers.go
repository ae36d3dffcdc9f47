package book

import (
	"github.com/shopspring/decimal"

	"github.com/fxarena/arena-engine/internal/model"
)

// Trigger is one execution that a tick mandates. Triggered orders fill at
// their own trigger level, not the arriving quote — guaranteed-fill-at-
// trigger semantics keep the simulation's SL/TP lines exact.
type Trigger struct {
	Reason        model.FillReason
	Side          model.Side
	QuantityUnits int64
	Price         decimal.Decimal
	// OrderID is set for resting stop/limit triggers.
	OrderID string
	// PositionID is set for SL/TP triggers on an open position.
	PositionID string
	// Carried SL/TP from a resting order, attached to the resulting position.
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
}

// Evaluate determines in a fixed order what the tick executes:
//
//  1. SL/TP on the open position (capital protection before new exposure;
//     stop-loss beats take-profit if one tick crosses both);
//  2. resting stop orders, in submission order;
//  3. resting limit orders, in submission order.
//
// All conditions are judged against the tick as received; executions the
// engine applies afterwards do not re-trigger within the same tick.
func (b *Book) Evaluate(q model.Quote) []Trigger {
	var out []Trigger

	if pos, ok := b.positions[q.Instrument]; ok {
		if t, ok := positionTrigger(pos, q); ok {
			out = append(out, t)
		}
	}

	for _, o := range b.PendingOrders() {
		if o.Instrument != q.Instrument || o.Type != model.OrderStop {
			continue
		}
		if stopTriggered(o.Side, o.TriggerPrice, q) {
			out = append(out, orderTrigger(o, model.FillStop))
		}
	}
	for _, o := range b.PendingOrders() {
		if o.Instrument != q.Instrument || o.Type != model.OrderLimit {
			continue
		}
		if limitTriggered(o.Side, o.TriggerPrice, q) {
			out = append(out, orderTrigger(o, model.FillLimit))
		}
	}
	return out
}

func orderTrigger(o model.PendingOrder, reason model.FillReason) Trigger {
	return Trigger{
		Reason:        reason,
		Side:          o.Side,
		QuantityUnits: o.QuantityUnits,
		Price:         o.TriggerPrice,
		OrderID:       o.ID,
		StopLoss:      o.StopLossPrice,
		TakeProfit:    o.TakeProfitPrice,
	}
}

// positionTrigger checks the position's armed SL/TP against the exit-side
// price: longs exit at the bid, shorts at the ask.
func positionTrigger(p *model.Position, q model.Quote) (Trigger, bool) {
	exit := q.Bid
	if p.Side == model.SideSell {
		exit = q.Ask
	}

	if !p.StopLossPrice.IsZero() {
		hit := (p.Side == model.SideBuy && exit.LessThanOrEqual(p.StopLossPrice)) ||
			(p.Side == model.SideSell && exit.GreaterThanOrEqual(p.StopLossPrice))
		if hit {
			return Trigger{
				Reason:        model.FillStopLoss,
				Side:          p.Side.Opposite(),
				QuantityUnits: p.QuantityUnits,
				Price:         p.StopLossPrice,
				PositionID:    p.ID,
			}, true
		}
	}

	if !p.TakeProfitPrice.IsZero() {
		hit := (p.Side == model.SideBuy && exit.GreaterThanOrEqual(p.TakeProfitPrice)) ||
			(p.Side == model.SideSell && exit.LessThanOrEqual(p.TakeProfitPrice))
		if hit {
			return Trigger{
				Reason:        model.FillTakeProfit,
				Side:          p.Side.Opposite(),
				QuantityUnits: p.QuantityUnits,
				Price:         p.TakeProfitPrice,
				PositionID:    p.ID,
			}, true
		}
	}

	return Trigger{}, false
}

// stopTriggered: a stop fires when price crosses through the trigger in the
// breakout direction. Buys execute at the ask, sells at the bid.
func stopTriggered(side model.Side, trigger decimal.Decimal, q model.Quote) bool {
	if side == model.SideBuy {
		return q.Ask.GreaterThanOrEqual(trigger)
	}
	return q.Bid.LessThanOrEqual(trigger)
}

// limitTriggered: a limit fires when price crosses through the trigger in
// the favorable direction.
func limitTriggered(side model.Side, trigger decimal.Decimal, q model.Quote) bool {
	if side == model.SideBuy {
		return q.Ask.LessThanOrEqual(trigger)
	}
	return q.Bid.GreaterThanOrEqual(trigger)
}
