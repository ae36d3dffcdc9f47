package ledger

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/fxarena/arena-engine/internal/model"
)

func TestNewAccount_CashEqualsStartingBalance(t *testing.T) {
	a := NewAccount("e1", 10_000_000)
	if a.CashCents != 10_000_000 {
		t.Fatalf("expected cash 10000000, got %d", a.CashCents)
	}
	if a.PeakEquityCents != 10_000_000 {
		t.Fatalf("expected peak equity 10000000, got %d", a.PeakEquityCents)
	}
}

func TestApplyRealized_CashConservation(t *testing.T) {
	// Property: for any sequence of realized amounts, cash always equals
	// starting balance plus total realized P&L.
	rng := rand.New(rand.NewSource(1))
	for run := 0; run < 20; run++ {
		a := NewAccount("e1", 10_000_000)
		var total int64
		for i := 0; i < 200; i++ {
			amount := rng.Int63n(100_000) - 50_000
			if err := a.ApplyRealized(amount); err != nil {
				t.Fatalf("run %d step %d: %v", run, i, err)
			}
			total += amount
			if a.CashCents != a.StartingBalanceCents+a.RealizedPnlCents {
				t.Fatalf("run %d step %d: conservation broken: cash=%d starting=%d realized=%d",
					run, i, a.CashCents, a.StartingBalanceCents, a.RealizedPnlCents)
			}
		}
		if a.RealizedPnlCents != total {
			t.Fatalf("run %d: realized %d != applied total %d", run, a.RealizedPnlCents, total)
		}
	}
}

func TestApplyRealized_FrozenRejects(t *testing.T) {
	a := NewAccount("e1", 1_000_000)
	a.Frozen = true
	if err := a.ApplyRealized(100); !errors.Is(err, ErrFrozen) {
		t.Fatalf("expected ErrFrozen, got %v", err)
	}
	if a.CashCents != 1_000_000 {
		t.Fatalf("frozen account mutated: cash %d", a.CashCents)
	}
}

func TestInvariantViolationFreezes(t *testing.T) {
	a := NewAccount("e1", 1_000_000)
	// Simulate external corruption of the snapshot.
	a.CashCents += 5

	err := a.ApplyRealized(0)
	if !errors.Is(err, ErrInvariant) {
		t.Fatalf("expected ErrInvariant, got %v", err)
	}
	if !a.Frozen {
		t.Error("expected account to freeze on invariant violation")
	}
	// No retry: the account stays frozen.
	if err := a.ApplyRealized(0); !errors.Is(err, ErrFrozen) {
		t.Fatalf("expected ErrFrozen after freeze, got %v", err)
	}
}

func TestEquityAndPeak(t *testing.T) {
	a := NewAccount("e1", 1_000_000)

	if got := a.Equity(25_000); got != 1_025_000 {
		t.Fatalf("equity = %d, want 1025000", got)
	}

	a.ObserveEquity(1_200_000)
	a.ObserveEquity(1_100_000) // below peak, watermark holds
	if a.PeakEquityCents != 1_200_000 {
		t.Fatalf("peak = %d, want 1200000", a.PeakEquityCents)
	}
}

func TestDrawdownPct(t *testing.T) {
	a := NewAccount("e1", 1_000_000)
	a.ObserveEquity(2_000_000)

	got := a.DrawdownPct(1_500_000)
	want := decimal.RequireFromString("25")
	if !got.Equal(want) {
		t.Fatalf("drawdown = %s, want %s", got, want)
	}

	// Clamped at zero when at or above peak.
	if dd := a.DrawdownPct(2_000_000); !dd.IsZero() {
		t.Fatalf("drawdown at peak = %s, want 0", dd)
	}
	if dd := a.DrawdownPct(2_500_000); !dd.IsZero() {
		t.Fatalf("drawdown above peak = %s, want 0", dd)
	}
}

func TestReturnPct(t *testing.T) {
	got := ReturnPct(10_000_000, 10_020_000)
	want := decimal.RequireFromString("0.2")
	if !got.Equal(want) {
		t.Fatalf("return = %s, want %s", got, want)
	}
	if !ReturnPct(0, 100).IsZero() {
		t.Fatal("zero starting balance must yield zero return")
	}
}

func TestReplay_ReconstructsBalances(t *testing.T) {
	a := NewAccount("e1", 10_000_000)
	fills := []model.Fill{
		{EntryID: "e1", RealizedPnlCents: 0},
		{EntryID: "e1", RealizedPnlCents: 20_000},
		{EntryID: "e1", RealizedPnlCents: -7_500},
	}
	for _, f := range fills {
		if err := a.ApplyRealized(f.RealizedPnlCents); err != nil {
			t.Fatalf("apply: %v", err)
		}
	}

	replayed := Replay("e1", 10_000_000, fills)
	if replayed.CashCents != a.CashCents {
		t.Fatalf("replayed cash %d != live cash %d", replayed.CashCents, a.CashCents)
	}
	if replayed.RealizedPnlCents != a.RealizedPnlCents {
		t.Fatalf("replayed realized %d != live realized %d", replayed.RealizedPnlCents, a.RealizedPnlCents)
	}
}
