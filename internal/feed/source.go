package feed

import (
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fxarena/arena-engine/internal/model"
)

// Source produces the successive quotes for one instrument. Implementations
// are owned by exactly one feed worker; they are not safe for concurrent use.
type Source interface {
	// Next returns the quote for the given wall-clock instant. Timestamps
	// are monotonized by the caller, not the source.
	Next(now time.Time) model.Quote
}

// SimulatedSource is a bounded random walk around an instrument's reference
// mid. Each tick nudges the mid by a whole number of pips and derives bid/ask
// from a whole-pip half-spread with bounded jitter, so every price stays
// exact at pip precision.
type SimulatedSource struct {
	inst    model.Instrument
	rng     *rand.Rand
	mid     decimal.Decimal
	session int64

	maxDeltaPips  int64 // largest per-tick move
	bandPips      int64 // max distance from the reference mid
	halfSpreadPip int64 // base half-spread
	jitterPips    int64 // extra half-spread, 0..jitterPips
}

// NewSimulatedSource creates a walk seeded deterministically per instrument.
// The same (instrument, seed, session) always reproduces the same series.
func NewSimulatedSource(inst model.Instrument, seed int64, session int64) *SimulatedSource {
	return &SimulatedSource{
		inst:          inst,
		rng:           rand.New(rand.NewSource(seed ^ symbolSeed(inst.Symbol))),
		mid:           inst.ReferenceMid,
		session:       session,
		maxDeltaPips:  3,
		bandPips:      400,
		halfSpreadPip: 1,
		jitterPips:    1,
	}
}

func symbolSeed(symbol string) int64 {
	var h int64 = 1125899906842597 // FNV-ish mix, just needs to differ per symbol
	for _, c := range symbol {
		h = h*31 + int64(c)
	}
	return h
}

// Next advances the walk by one tick.
func (s *SimulatedSource) Next(now time.Time) model.Quote {
	pip := s.inst.PipSize

	delta := s.rng.Int63n(2*s.maxDeltaPips+1) - s.maxDeltaPips
	s.mid = s.mid.Add(pip.Mul(decimal.NewFromInt(delta)))

	// Reflect at the band edges so the walk stays anchored to the reference.
	band := pip.Mul(decimal.NewFromInt(s.bandPips))
	lo, hi := s.inst.ReferenceMid.Sub(band), s.inst.ReferenceMid.Add(band)
	if s.mid.LessThan(lo) {
		s.mid = lo
	} else if s.mid.GreaterThan(hi) {
		s.mid = hi
	}

	half := s.halfSpreadPip
	if s.jitterPips > 0 {
		half += s.rng.Int63n(s.jitterPips + 1)
	}
	spread := pip.Mul(decimal.NewFromInt(half))

	return model.Quote{
		Instrument: s.inst.Symbol,
		Bid:        s.mid.Sub(spread),
		Ask:        s.mid.Add(spread),
		Timestamp:  now,
		Session:    s.session,
	}
}
