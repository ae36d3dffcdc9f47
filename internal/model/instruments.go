package model

import "github.com/shopspring/decimal"

// StandardLotUnits is the number of base-currency units in one lot.
const StandardLotUnits = 100_000

var (
	pip4 = decimal.RequireFromString("0.0001")
	pip2 = decimal.RequireFromString("0.01") // JPY-quoted pairs
)

// DefaultInstruments is the built-in reference data for the simulated feed.
// Reference mids anchor each instrument's bounded random walk.
var DefaultInstruments = []Instrument{
	{Symbol: "EUR-USD", PipSize: pip4, LotUnits: StandardLotUnits, ReferenceMid: decimal.RequireFromString("1.0876")},
	{Symbol: "GBP-USD", PipSize: pip4, LotUnits: StandardLotUnits, ReferenceMid: decimal.RequireFromString("1.2650")},
	{Symbol: "AUD-USD", PipSize: pip4, LotUnits: StandardLotUnits, ReferenceMid: decimal.RequireFromString("0.6550")},
	{Symbol: "USD-CHF", PipSize: pip4, LotUnits: StandardLotUnits, ReferenceMid: decimal.RequireFromString("0.8840")},
	{Symbol: "USD-JPY", PipSize: pip2, LotUnits: StandardLotUnits, ReferenceMid: decimal.RequireFromString("149.50")},
	{Symbol: "EUR-JPY", PipSize: pip2, LotUnits: StandardLotUnits, ReferenceMid: decimal.RequireFromString("162.60")},
}

// InstrumentBySymbol returns the instrument from a set by symbol.
func InstrumentBySymbol(set []Instrument, symbol string) (Instrument, bool) {
	for _, in := range set {
		if in.Symbol == symbol {
			return in, true
		}
	}
	return Instrument{}, false
}
