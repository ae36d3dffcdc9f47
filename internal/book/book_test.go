package book

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fxarena/arena-engine/internal/model"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestApplyFill_OpensPosition(t *testing.T) {
	b := New("e1")
	realized := b.ApplyFill("EUR-USD", model.SideBuy, 100_000, d("1.08760"), decimal.Zero, decimal.Zero, now)
	if realized != 0 {
		t.Fatalf("opening fill realized %d, want 0", realized)
	}

	pos, ok := b.Position("EUR-USD")
	if !ok {
		t.Fatal("expected an open position")
	}
	if pos.Side != model.SideBuy || pos.QuantityUnits != 100_000 {
		t.Fatalf("unexpected position: %+v", pos)
	}
	if !pos.AvgEntryPrice.Equal(d("1.08760")) {
		t.Fatalf("avg entry = %s, want 1.08760", pos.AvgEntryPrice)
	}
}

func TestApplyFill_SameSideRecomputesWeightedAverage(t *testing.T) {
	b := New("e1")
	b.ApplyFill("EUR-USD", model.SideBuy, 100_000, d("1.08000"), decimal.Zero, decimal.Zero, now)
	b.ApplyFill("EUR-USD", model.SideBuy, 300_000, d("1.10000"), decimal.Zero, decimal.Zero, now)

	pos, _ := b.Position("EUR-USD")
	if pos.QuantityUnits != 400_000 {
		t.Fatalf("quantity = %d, want 400000", pos.QuantityUnits)
	}
	// (1.08*100k + 1.10*300k) / 400k = 1.095
	if !pos.AvgEntryPrice.Equal(d("1.095")) {
		t.Fatalf("avg entry = %s, want 1.095", pos.AvgEntryPrice)
	}
}

func TestApplyFill_ReduceRealizesProportionalPnl(t *testing.T) {
	b := New("e1")
	b.ApplyFill("EUR-USD", model.SideBuy, 100_000, d("1.08760"), decimal.Zero, decimal.Zero, now)

	// Sell 40k at +20 pips: realized = 0.0020 * 40000 * 100 = 8000 cents.
	realized := b.ApplyFill("EUR-USD", model.SideSell, 40_000, d("1.08960"), decimal.Zero, decimal.Zero, now)
	if realized != 8_000 {
		t.Fatalf("realized = %d, want 8000", realized)
	}

	pos, ok := b.Position("EUR-USD")
	if !ok || pos.QuantityUnits != 60_000 {
		t.Fatalf("expected 60000 units remaining, got %+v", pos)
	}
	if pos.Side != model.SideBuy {
		t.Fatalf("reduce must not change side, got %s", pos.Side)
	}
	if !pos.AvgEntryPrice.Equal(d("1.08760")) {
		t.Fatalf("reduce must not change avg entry, got %s", pos.AvgEntryPrice)
	}
}

func TestApplyFill_FullCloseRemovesPosition(t *testing.T) {
	b := New("e1")
	b.ApplyFill("EUR-USD", model.SideBuy, 100_000, d("1.08760"), decimal.Zero, decimal.Zero, now)

	realized := b.ApplyFill("EUR-USD", model.SideSell, 100_000, d("1.08960"), decimal.Zero, decimal.Zero, now)
	if realized != 20_000 {
		t.Fatalf("realized = %d, want 20000", realized)
	}
	if _, ok := b.Position("EUR-USD"); ok {
		t.Fatal("expected position removed at zero quantity")
	}
}

func TestApplyFill_FlipOpensOppositePosition(t *testing.T) {
	b := New("e1")
	b.ApplyFill("EUR-USD", model.SideBuy, 100_000, d("1.08000"), decimal.Zero, decimal.Zero, now)

	// Sell 150k: closes 100k at +100 pips, flips 50k short at 1.09.
	realized := b.ApplyFill("EUR-USD", model.SideSell, 150_000, d("1.09000"), decimal.Zero, decimal.Zero, now)
	if realized != 100_000 {
		t.Fatalf("realized = %d, want 100000", realized)
	}

	pos, ok := b.Position("EUR-USD")
	if !ok {
		t.Fatal("expected flipped position")
	}
	if pos.Side != model.SideSell || pos.QuantityUnits != 50_000 {
		t.Fatalf("unexpected flipped position: %+v", pos)
	}
	if !pos.AvgEntryPrice.Equal(d("1.09000")) {
		t.Fatalf("flip entry = %s, want 1.09000", pos.AvgEntryPrice)
	}
}

func TestApplyFill_ShortSidePnlSign(t *testing.T) {
	b := New("e1")
	b.ApplyFill("EUR-USD", model.SideSell, 100_000, d("1.09000"), decimal.Zero, decimal.Zero, now)

	// Buy back lower: short profits.
	realized := b.ApplyFill("EUR-USD", model.SideBuy, 100_000, d("1.08500"), decimal.Zero, decimal.Zero, now)
	if realized != 50_000 {
		t.Fatalf("realized = %d, want 50000", realized)
	}
}

func TestPendingOrders_SubmissionOrder(t *testing.T) {
	b := New("e1")
	for _, id := range []string{"o3", "o1", "o2"} {
		b.AddPending(&model.PendingOrder{ID: id, Instrument: "EUR-USD", Type: model.OrderLimit, Side: model.SideBuy, TriggerPrice: d("1")})
	}

	got := b.PendingOrders()
	want := []string{"o3", "o1", "o2"}
	for i, o := range got {
		if o.ID != want[i] {
			t.Fatalf("pending[%d] = %s, want %s (submission order)", i, o.ID, want[i])
		}
	}
}

func TestExpirePending(t *testing.T) {
	b := New("e1")
	b.AddPending(&model.PendingOrder{ID: "o1", Instrument: "EUR-USD", Type: model.OrderLimit, Side: model.SideBuy, TriggerPrice: d("1")})

	expired := b.ExpirePending()
	if len(expired) != 1 || expired[0].Status != model.OrderExpired {
		t.Fatalf("unexpected expired orders: %+v", expired)
	}
	if len(b.PendingOrders()) != 0 {
		t.Fatal("expected empty book after expiry")
	}
}

func TestUnrealizedPnlCents(t *testing.T) {
	b := New("e1")
	b.ApplyFill("EUR-USD", model.SideBuy, 100_000, d("1.08760"), decimal.Zero, decimal.Zero, now)

	q := model.Quote{Instrument: "EUR-USD", Bid: d("1.08960"), Ask: d("1.08980")}
	total := b.UnrealizedPnlCents(func(string) (model.Quote, bool) { return q, true })
	if total != 20_000 {
		t.Fatalf("unrealized = %d, want 20000", total)
	}
}
