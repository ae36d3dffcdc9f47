package model

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestPnlCents_Sides(t *testing.T) {
	// Long: +20 pips on 1 lot = $200.00.
	if got := PnlCents(SideBuy, d("1.08760"), d("1.08960"), 100_000); got != 20_000 {
		t.Fatalf("long pnl = %d, want 20000", got)
	}
	// Short profits when the mark falls.
	if got := PnlCents(SideSell, d("1.09000"), d("1.08500"), 100_000); got != 50_000 {
		t.Fatalf("short pnl = %d, want 50000", got)
	}
	// Direction flips the sign, not the magnitude.
	if got := PnlCents(SideSell, d("1.08760"), d("1.08960"), 100_000); got != -20_000 {
		t.Fatalf("losing short pnl = %d, want -20000", got)
	}
}

func TestPnlCents_RoundsHalfAwayFromZero(t *testing.T) {
	// 0.00005 * 100 units * 100 = 0.5 cents.
	if got := PnlCents(SideBuy, d("1.00000"), d("1.00005"), 100); got != 1 {
		t.Fatalf("half cent up = %d, want 1", got)
	}
	if got := PnlCents(SideSell, d("1.00000"), d("1.00005"), 100); got != -1 {
		t.Fatalf("half cent down = %d, want -1", got)
	}
}

func TestPnlCents_QuoteCurrencyHundredths(t *testing.T) {
	// JPY-quoted pair: the result is hundredths of a yen, booked as cents
	// without conversion. 2 pips (0.02) on 10000 units = 20000.
	if got := PnlCents(SideBuy, d("149.500"), d("149.520"), 10_000); got != 20_000 {
		t.Fatalf("jpy pnl = %d, want 20000", got)
	}
}
