// Package feed generates and serves the synthetic bid/ask quote stream and
// its OHLC candle aggregations. Each instrument is driven by exactly one
// worker goroutine that owns the instrument's Source; consumers only ever
// see immutable Quote snapshots.
package feed

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/fxarena/arena-engine/internal/model"
)

var (
	// ErrUnknownInstrument is returned for symbols outside the feed's set.
	ErrUnknownInstrument = errors.New("feed: unknown instrument")

	// ErrUnknownTimeframe is returned for unsupported candle intervals.
	ErrUnknownTimeframe = errors.New("feed: unknown timeframe")

	// ErrNoQuote is returned before an instrument has produced its first tick.
	ErrNoQuote = errors.New("feed: no quote yet")
)

// SourceFactory builds the Source for an instrument. session increments on
// every (re)start of that instrument's generator.
type SourceFactory func(inst model.Instrument, session int64) Source

// TickHandler receives every published quote for a subscribed instrument,
// synchronously in the worker goroutine. Handlers must be fast and must not
// block; heavyweight consumers use Subscribe instead.
type TickHandler func(model.Quote)

// Config configures a Feed.
type Config struct {
	Instruments []model.Instrument
	Interval    time.Duration // tick period, default 1s
	NewSource   SourceFactory // default: simulated walk with Seed
	Seed        int64
	// BackfillTicks synthesizes this many one-minute steps of history at
	// construction so candle charts are populated immediately.
	BackfillTicks int
}

// Feed owns one worker per instrument.
type Feed struct {
	interval time.Duration
	workers  map[string]*worker
	symbols  []string

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

type worker struct {
	inst      model.Instrument
	newSource SourceFactory

	mu      sync.Mutex
	source  Source
	session int64
	last    model.Quote
	hasLast bool
	aggs    map[model.Timeframe]*aggregator
	subs    map[chan model.Quote]struct{}
	ticks   []TickHandler
}

// New constructs a Feed. The series it produces is always synthetic: on
// every construction the walk regenerates from each instrument's reference
// mid and the session counter marks the fresh reconnection.
func New(cfg Config) *Feed {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.NewSource == nil {
		seed := cfg.Seed
		cfg.NewSource = func(inst model.Instrument, session int64) Source {
			return NewSimulatedSource(inst, seed+session, session)
		}
	}

	f := &Feed{
		interval: cfg.Interval,
		workers:  make(map[string]*worker, len(cfg.Instruments)),
	}
	for _, inst := range cfg.Instruments {
		w := &worker{
			inst:      inst,
			newSource: cfg.NewSource,
			session:   1,
			aggs:      make(map[model.Timeframe]*aggregator, len(model.Timeframes)),
			subs:      make(map[chan model.Quote]struct{}),
		}
		w.source = cfg.NewSource(inst, w.session)
		for _, tf := range model.Timeframes {
			w.aggs[tf] = newAggregator(inst.Symbol, tf)
		}
		f.workers[inst.Symbol] = w
		f.symbols = append(f.symbols, inst.Symbol)
	}

	if cfg.BackfillTicks > 0 {
		f.backfill(cfg.BackfillTicks)
	}
	return f
}

// backfill seals historical candles by stepping each walk once per past
// minute. Backfilled ticks are folded into candles but never published.
func (f *Feed) backfill(ticks int) {
	start := time.Now().UTC().Truncate(time.Minute).Add(-time.Duration(ticks) * time.Minute)
	for _, w := range f.workers {
		w.mu.Lock()
		for i := 0; i < ticks; i++ {
			q := w.source.Next(start.Add(time.Duration(i) * time.Minute))
			w.fold(q)
			w.last, w.hasLast = q, true
		}
		w.mu.Unlock()
	}
}

// Start launches one ticker goroutine per instrument. A generator panic is
// isolated to its instrument: the worker logs it, rebuilds the source from
// the reference price under a new session, and keeps ticking.
func (f *Feed) Start(ctx context.Context) {
	ctx, f.cancel = context.WithCancel(ctx)
	for _, w := range f.workers {
		f.wg.Add(1)
		go func(w *worker) {
			defer f.wg.Done()
			ticker := time.NewTicker(f.interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case now := <-ticker.C:
					w.safeTick(now.UTC())
				}
			}
		}(w)
	}
}

// Stop cancels all workers and waits for them to exit.
func (f *Feed) Stop() {
	if f.cancel != nil {
		f.cancel()
	}
	f.wg.Wait()
}

// Step advances one instrument by a single tick at the given instant and
// returns the published quote. Used by tests and replay tooling; live
// operation uses Start.
func (f *Feed) Step(symbol string, now time.Time) (model.Quote, error) {
	w, ok := f.workers[symbol]
	if !ok {
		return model.Quote{}, ErrUnknownInstrument
	}
	return w.tick(now), nil
}

// Symbols returns the instrument symbols served by this feed.
func (f *Feed) Symbols() []string { return f.symbols }

// Instrument returns the reference data for a symbol.
func (f *Feed) Instrument(symbol string) (model.Instrument, error) {
	w, ok := f.workers[symbol]
	if !ok {
		return model.Instrument{}, ErrUnknownInstrument
	}
	return w.inst, nil
}

// Latest returns the most recent quote for an instrument.
func (f *Feed) Latest(symbol string) (model.Quote, error) {
	w, ok := f.workers[symbol]
	if !ok {
		return model.Quote{}, ErrUnknownInstrument
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.hasLast {
		return model.Quote{}, ErrNoQuote
	}
	return w.last, nil
}

// Candles returns up to limit candles oldest-first, ending with the open
// candle. The boolean reports whether the series is synthetic (always true
// for the simulated source).
func (f *Feed) Candles(symbol string, tf model.Timeframe, limit int) ([]model.Candle, bool, error) {
	w, ok := f.workers[symbol]
	if !ok {
		return nil, false, ErrUnknownInstrument
	}
	if tf.Duration() == 0 {
		return nil, false, ErrUnknownTimeframe
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.aggs[tf].tail(limit), true, nil
}

// OnTick registers a synchronous per-tick handler for an instrument.
// Handlers registered before Start see every published quote in order.
func (f *Feed) OnTick(symbol string, h TickHandler) error {
	w, ok := f.workers[symbol]
	if !ok {
		return ErrUnknownInstrument
	}
	w.mu.Lock()
	w.ticks = append(w.ticks, h)
	w.mu.Unlock()
	return nil
}

// Subscribe returns a latest-only quote channel for an instrument. A slow
// consumer never builds a backlog: delivery replaces the undelivered quote.
func (f *Feed) Subscribe(symbol string) (<-chan model.Quote, func(), error) {
	w, ok := f.workers[symbol]
	if !ok {
		return nil, nil, ErrUnknownInstrument
	}
	ch := make(chan model.Quote, 1)
	w.mu.Lock()
	w.subs[ch] = struct{}{}
	w.mu.Unlock()

	cancel := func() {
		w.mu.Lock()
		delete(w.subs, ch)
		w.mu.Unlock()
	}
	return ch, cancel, nil
}

// safeTick runs one tick, restarting the generator if it panics.
func (w *worker) safeTick(now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			w.mu.Lock()
			w.session++
			w.source = w.newSource(w.inst, w.session)
			w.mu.Unlock()
			slog.Error("feed generator panicked, restarted",
				"instrument", w.inst.Symbol, "session", w.session, "panic", r)
		}
	}()
	w.tick(now)
}

func (w *worker) tick(now time.Time) model.Quote {
	w.mu.Lock()

	q := w.source.Next(now)
	// Quotes for one instrument are strictly time-ordered.
	if w.hasLast && !q.Timestamp.After(w.last.Timestamp) {
		q.Timestamp = w.last.Timestamp.Add(time.Millisecond)
	}
	w.fold(q)
	w.last, w.hasLast = q, true
	handlers := w.ticks

	for ch := range w.subs {
		select {
		case ch <- q:
		default:
			// Replace the stale quote: drain one, then deliver.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- q:
			default:
			}
		}
	}
	w.mu.Unlock()

	for _, h := range handlers {
		h(q)
	}
	return q
}

// fold applies the tick's mid to every timeframe. Caller holds w.mu.
func (w *worker) fold(q model.Quote) {
	mid := q.Mid()
	for _, agg := range w.aggs {
		agg.fold(mid, q.Timestamp)
	}
}
