package feed

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/fxarena/arena-engine/internal/model"
)

// historyLimit bounds how many sealed candles are retained per timeframe.
const historyLimit = 1000

// aggregator folds ticks into one open candle per timeframe and keeps the
// sealed history. Callers hold the owning worker's lock.
type aggregator struct {
	instrument string
	timeframe  model.Timeframe
	open       *model.Candle
	sealed     []model.Candle
}

func newAggregator(instrument string, tf model.Timeframe) *aggregator {
	return &aggregator{instrument: instrument, timeframe: tf}
}

// fold applies one tick's mid price. If the tick opens a new bucket the old
// candle is sealed and the new one opens at the previous close, so the series
// stays gapless.
func (a *aggregator) fold(price decimal.Decimal, ts time.Time) {
	bucket := ts.Truncate(a.timeframe.Duration())

	if a.open != nil && a.open.BucketStart.Equal(bucket) {
		if price.GreaterThan(a.open.High) {
			a.open.High = price
		}
		if price.LessThan(a.open.Low) {
			a.open.Low = price
		}
		a.open.Close = price
		return
	}

	openPrice := price
	if a.open != nil {
		a.sealed = append(a.sealed, *a.open)
		if len(a.sealed) > historyLimit {
			a.sealed = a.sealed[len(a.sealed)-historyLimit:]
		}
		openPrice = a.open.Close
	}

	c := model.Candle{
		Instrument:  a.instrument,
		Timeframe:   a.timeframe,
		BucketStart: bucket,
		Open:        openPrice,
		High:        openPrice,
		Low:         openPrice,
		Close:       openPrice,
	}
	// Fold the arriving tick into the fresh candle.
	if price.GreaterThan(c.High) {
		c.High = price
	}
	if price.LessThan(c.Low) {
		c.Low = price
	}
	c.Close = price
	a.open = &c
}

// tail returns up to limit candles oldest-first, including the open candle.
func (a *aggregator) tail(limit int) []model.Candle {
	out := make([]model.Candle, 0, limit)
	total := len(a.sealed)
	if a.open != nil {
		total++
	}
	skip := 0
	if limit > 0 && total > limit {
		skip = total - limit
	}
	for i := skip; i < len(a.sealed); i++ {
		out = append(out, a.sealed[i])
	}
	if a.open != nil && (limit <= 0 || len(out) < limit) {
		out = append(out, *a.open)
	}
	return out
}
