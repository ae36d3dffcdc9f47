// Package engine validates and executes orders against the quote feed and
// keeps every competition entry's book and ledger consistent.
//
// Concurrency model: single writer per entry. Each entry carries its own
// mutex; order submission and trigger evaluation both funnel through it.
// Ticks fan out across entries — ascending entry ID within a tick, so
// replaying the same tick sequence yields the same fill sequence — but
// never run concurrently within one entry.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fxarena/arena-engine/internal/book"
	"github.com/fxarena/arena-engine/internal/feed"
	"github.com/fxarena/arena-engine/internal/ledger"
	"github.com/fxarena/arena-engine/internal/metrics"
	"github.com/fxarena/arena-engine/internal/model"
	"github.com/fxarena/arena-engine/internal/store"
)

// SubmitRequest is a validated-at-the-boundary order submission.
type SubmitRequest struct {
	EntryID         string
	Instrument      string
	Side            model.Side
	Type            model.OrderType
	QuantityUnits   int64
	TriggerPrice    decimal.Decimal
	StopLossPrice   decimal.Decimal
	TakeProfitPrice decimal.Decimal
	// IdempotencyKey is the client's order nonce. Resubmission with the
	// same key returns the original result without re-executing.
	IdempotencyKey string
}

// SubmitResult is either an immediate fill (market) or a resting order.
type SubmitResult struct {
	Fill  *model.Fill         `json:"fill,omitempty"`
	Order *model.PendingOrder `json:"order,omitempty"`
}

// FillHook observes every fill the engine produces, after it is applied.
type FillHook func(model.Fill)

type competition struct {
	id      string
	ended   atomic.Bool
	entries []string
}

// entryState is everything one entry's single writer guards.
type entryState struct {
	mu      sync.Mutex
	entry   model.CompetitionEntry
	comp    *competition
	account *ledger.Account
	book    *book.Book
	idem    map[string]SubmitResult
	// closedOrders remembers terminal order states for cancel races.
	closedOrders map[string]model.OrderStatus
}

// Engine executes orders for all entries against a shared quote feed.
type Engine struct {
	feed  *feed.Feed
	store store.Store

	mu           sync.RWMutex
	competitions map[string]*competition
	entries      map[string]*entryState

	fillHooks []FillHook
}

// New creates an engine over the given feed and store.
func New(f *feed.Feed, st store.Store) *Engine {
	return &Engine{
		feed:         f,
		store:        st,
		competitions: make(map[string]*competition),
		entries:      make(map[string]*entryState),
	}
}

// Bind subscribes the engine to every feed instrument. Call before the feed
// starts ticking.
func (e *Engine) Bind() error {
	for _, symbol := range e.feed.Symbols() {
		if err := e.feed.OnTick(symbol, e.HandleTick); err != nil {
			return err
		}
	}
	return nil
}

// Restore rebuilds live state from the store after a restart: every persisted
// entry's balances and positions are replayed from its fill history. Resting
// orders and position SL/TP levels are not persisted and do not survive a
// restart.
func (e *Engine) Restore(ctx context.Context) error {
	entries, err := e.store.ListEntries(ctx)
	if err != nil {
		return err
	}
	for i := range entries {
		if err := e.adopt(ctx, entries[i]); err != nil {
			return err
		}
	}
	if len(entries) > 0 {
		slog.Info("state restored from store", "entries", len(entries))
	}
	return nil
}

// adopt registers a persisted entry, folding its fill history into a fresh
// ledger and book. Fills are the system of record: when the persisted balance
// snapshot disagrees with the fold, the fold wins.
func (e *Engine) adopt(ctx context.Context, entry model.CompetitionEntry) error {
	fills, err := e.store.ListFillsByEntry(ctx, entry.ID)
	if err != nil {
		return err
	}

	account := ledger.Replay(entry.ID, entry.StartingBalanceCents, fills)
	account.Frozen = entry.Frozen
	if entry.PeakEquityCents > account.PeakEquityCents {
		account.PeakEquityCents = entry.PeakEquityCents
	}
	if account.CashCents != entry.CashCents {
		slog.Warn("entry snapshot disagrees with fill history, trusting fills",
			"entry_id", entry.ID,
			"snapshot_cents", entry.CashCents,
			"replayed_cents", account.CashCents,
		)
	}

	b := book.New(entry.ID)
	for _, f := range fills {
		b.ApplyFill(f.Instrument, f.Side, f.QuantityUnits, f.FillPrice, decimal.Zero, decimal.Zero, f.FilledAt)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.entries[entry.ID]; ok {
		return nil // already live
	}
	comp, ok := e.competitions[entry.CompetitionID]
	if !ok {
		comp = &competition{id: entry.CompetitionID}
		e.competitions[entry.CompetitionID] = comp
	}
	comp.entries = append(comp.entries, entry.ID)
	e.entries[entry.ID] = &entryState{
		entry:        entry,
		comp:         comp,
		account:      account,
		book:         b,
		idem:         make(map[string]SubmitResult),
		closedOrders: make(map[string]model.OrderStatus),
	}
	return nil
}

// OnFill registers a hook observing every produced fill. Not safe to call
// after ticking starts.
func (e *Engine) OnFill(h FillHook) {
	e.fillHooks = append(e.fillHooks, h)
}

// OpenEntry funds a new competition entry. The competition is created as
// running the first time an entry references it; status transitions beyond
// the end fence belong to the excluded competition layer. An empty whitelist
// grants every feed instrument.
func (e *Engine) OpenEntry(ctx context.Context, competitionID, userID string, startingBalanceCents int64, allowed []string) (*model.CompetitionEntry, error) {
	if competitionID == "" || userID == "" {
		return nil, validationf("competition and user are required")
	}
	if startingBalanceCents <= 0 {
		return nil, validationf("starting balance must exceed zero")
	}
	if len(allowed) == 0 {
		allowed = e.feed.Symbols()
	}
	for _, symbol := range allowed {
		if _, err := e.feed.Instrument(symbol); err != nil {
			return nil, validationf("unknown instrument %q in whitelist", symbol)
		}
	}

	entry := model.CompetitionEntry{
		ID:                   uuid.New().String(),
		CompetitionID:        competitionID,
		UserID:               userID,
		StartingBalanceCents: startingBalanceCents,
		CashCents:            startingBalanceCents,
		PeakEquityCents:      startingBalanceCents,
		AllowedInstruments:   allowed,
		JoinedAt:             time.Now().UTC(),
	}
	if err := e.store.CreateEntry(ctx, &entry); err != nil {
		return nil, err
	}

	e.mu.Lock()
	comp, ok := e.competitions[competitionID]
	if !ok {
		comp = &competition{id: competitionID}
		e.competitions[competitionID] = comp
	}
	comp.entries = append(comp.entries, entry.ID)
	e.entries[entry.ID] = &entryState{
		entry:        entry,
		comp:         comp,
		account:      ledger.NewAccount(entry.ID, startingBalanceCents),
		book:         book.New(entry.ID),
		idem:         make(map[string]SubmitResult),
		closedOrders: make(map[string]model.OrderStatus),
	}
	e.mu.Unlock()

	metrics.EntriesOpened.Inc()
	slog.Info("entry opened",
		"entry_id", entry.ID,
		"competition_id", competitionID,
		"user_id", userID,
		"starting_cents", startingBalanceCents,
	)
	return &entry, nil
}

// EndCompetition is the hard cutover from running to ended: the flag is a
// fence, so no submission or trigger fill lands after it, even mid-tick.
// All resting orders expire and idempotency keys are released; replaying a
// pre-end order nonce after the fence gets the not-tradable rejection.
func (e *Engine) EndCompetition(ctx context.Context, competitionID string) error {
	comp, states, err := e.competitionStates(ctx, competitionID)
	if err != nil {
		return err
	}
	if comp.ended.Swap(true) {
		return nil // already ended
	}

	for _, es := range states {
		es.mu.Lock()
		for _, o := range es.book.ExpirePending() {
			es.closedOrders[o.ID] = model.OrderExpired
		}
		es.idem = make(map[string]SubmitResult)
		e.persistBalances(ctx, es)
		es.mu.Unlock()
	}
	slog.Info("competition ended", "competition_id", competitionID)
	return nil
}

// competitionStates resolves a competition and its entries, falling back to
// the store for competitions this process has not seen since its restart.
func (e *Engine) competitionStates(ctx context.Context, competitionID string) (*competition, []*entryState, error) {
	e.mu.RLock()
	comp, ok := e.competitions[competitionID]
	e.mu.RUnlock()

	if !ok {
		entries, err := e.store.ListEntriesByCompetition(ctx, competitionID)
		if err != nil {
			return nil, nil, err
		}
		if len(entries) == 0 {
			return nil, nil, ErrCompetitionNotFound
		}
		for i := range entries {
			if err := e.adopt(ctx, entries[i]); err != nil {
				return nil, nil, err
			}
		}
		e.mu.RLock()
		comp, ok = e.competitions[competitionID]
		e.mu.RUnlock()
		if !ok {
			return nil, nil, ErrCompetitionNotFound
		}
	}

	e.mu.RLock()
	states := make([]*entryState, 0, len(comp.entries))
	for _, id := range comp.entries {
		states = append(states, e.entries[id])
	}
	e.mu.RUnlock()
	return comp, states, nil
}

// SubmitOrder validates and executes one order request. Market orders fill
// synchronously at the current quote; limit and stop orders rest in the
// entry's book until a tick triggers them. Any validation failure rejects
// the request with no state change.
func (e *Engine) SubmitOrder(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	es, err := e.loadEntryState(ctx, req.EntryID)
	if err != nil {
		return SubmitResult{}, err
	}

	es.mu.Lock()
	defer es.mu.Unlock()

	if res, ok := es.idem[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return res, nil
	}
	if es.account.Frozen {
		return SubmitResult{}, ledger.ErrFrozen
	}
	if es.comp.ended.Load() {
		return SubmitResult{}, validationf("competition is not tradable")
	}

	quote, err := e.validate(es, &req)
	if err != nil {
		metrics.OrderRejections.Inc()
		return SubmitResult{}, err
	}

	var res SubmitResult
	if req.Type == model.OrderMarket {
		price := quote.Ask
		if req.Side == model.SideSell {
			price = quote.Bid
		}
		fill := e.applyFill(ctx, es, applyParams{
			instrument: req.Instrument,
			side:       req.Side,
			quantity:   req.QuantityUnits,
			price:      price,
			stopLoss:   req.StopLossPrice,
			takeProfit: req.TakeProfitPrice,
			reason:     model.FillMarket,
		})
		res = SubmitResult{Fill: &fill}
	} else {
		order := &model.PendingOrder{
			ID:              uuid.New().String(),
			EntryID:         req.EntryID,
			Instrument:      req.Instrument,
			Side:            req.Side,
			Type:            req.Type,
			QuantityUnits:   req.QuantityUnits,
			TriggerPrice:    req.TriggerPrice,
			StopLossPrice:   req.StopLossPrice,
			TakeProfitPrice: req.TakeProfitPrice,
			CreatedAt:       time.Now().UTC(),
		}
		es.book.AddPending(order)
		snapshot := *order
		res = SubmitResult{Order: &snapshot}
	}

	if req.IdempotencyKey != "" {
		es.idem[req.IdempotencyKey] = res
	}
	metrics.OrdersSubmitted.WithLabelValues(string(req.Type), string(req.Side)).Inc()
	return res, nil
}

// validate enforces the submission rules and returns the reference quote.
func (e *Engine) validate(es *entryState, req *SubmitRequest) (model.Quote, error) {
	if !req.Side.Valid() {
		return model.Quote{}, validationf("side must be buy or sell")
	}
	if !req.Type.Valid() {
		return model.Quote{}, validationf("order type must be market, limit or stop")
	}
	if req.QuantityUnits <= 0 {
		return model.Quote{}, validationf("quantity must exceed zero")
	}
	if _, err := e.feed.Instrument(req.Instrument); err != nil {
		return model.Quote{}, ErrInstrumentNotFound
	}
	if !es.entry.Allows(req.Instrument) {
		return model.Quote{}, validationf("instrument %s is not allowed for this entry", req.Instrument)
	}
	if req.Type != model.OrderMarket && !req.TriggerPrice.IsPositive() {
		return model.Quote{}, validationf("trigger price must exceed zero")
	}

	quote, err := e.feed.Latest(req.Instrument)
	if err != nil {
		return model.Quote{}, ErrInstrumentNotFound
	}

	// SL/TP must sit on the correct side of the reference price; violating
	// orders are rejected, never clamped.
	ref := req.TriggerPrice
	if req.Type == model.OrderMarket {
		ref = quote.Ask
		if req.Side == model.SideSell {
			ref = quote.Bid
		}
	}
	if req.Side == model.SideBuy {
		if !req.StopLossPrice.IsZero() && !req.StopLossPrice.LessThan(ref) {
			return model.Quote{}, validationf("stop loss must be below the entry price for a buy")
		}
		if !req.TakeProfitPrice.IsZero() && !req.TakeProfitPrice.GreaterThan(ref) {
			return model.Quote{}, validationf("take profit must be above the entry price for a buy")
		}
	} else {
		if !req.StopLossPrice.IsZero() && !req.StopLossPrice.GreaterThan(ref) {
			return model.Quote{}, validationf("stop loss must be above the entry price for a sell")
		}
		if !req.TakeProfitPrice.IsZero() && !req.TakeProfitPrice.LessThan(ref) {
			return model.Quote{}, validationf("take profit must be below the entry price for a sell")
		}
	}
	return quote, nil
}

// ClosePosition fully closes a position at the opposite-side current quote
// and realizes its P&L.
func (e *Engine) ClosePosition(ctx context.Context, entryID, positionID string) (model.Fill, error) {
	es, err := e.loadEntryState(ctx, entryID)
	if err != nil {
		return model.Fill{}, err
	}

	es.mu.Lock()
	defer es.mu.Unlock()

	if es.account.Frozen {
		return model.Fill{}, ledger.ErrFrozen
	}
	if es.comp.ended.Load() {
		return model.Fill{}, validationf("competition is not tradable")
	}
	pos, ok := es.book.PositionByID(positionID)
	if !ok {
		return model.Fill{}, ErrPositionNotFound
	}

	quote, err := e.feed.Latest(pos.Instrument)
	if err != nil {
		return model.Fill{}, ErrInstrumentNotFound
	}
	price := quote.Bid // long exits at the bid
	if pos.Side == model.SideSell {
		price = quote.Ask
	}

	fill := e.applyFill(ctx, es, applyParams{
		instrument: pos.Instrument,
		side:       pos.Side.Opposite(),
		quantity:   pos.QuantityUnits,
		price:      price,
		reason:     model.FillClose,
	})
	return fill, nil
}

// CancelOrder removes a resting order. If a concurrent tick filled it first
// the caller gets ErrAlreadyFilled — exactly one of the two outcomes wins.
func (e *Engine) CancelOrder(ctx context.Context, entryID, orderID string) error {
	es, err := e.loadEntryState(ctx, entryID)
	if err != nil {
		return err
	}

	es.mu.Lock()
	defer es.mu.Unlock()

	if _, ok := es.book.RemovePending(orderID); ok {
		es.closedOrders[orderID] = model.OrderCancelled
		metrics.OrdersCancelled.Inc()
		return nil
	}
	switch es.closedOrders[orderID] {
	case model.OrderFilled:
		return ErrAlreadyFilled
	case model.OrderCancelled, model.OrderExpired:
		return ErrAlreadyCancelled
	}
	return ErrOrderNotFound
}

// HandleTick evaluates one quote against every entry. Entries are processed
// in ascending ID order so same-tick fills replay identically.
func (e *Engine) HandleTick(q model.Quote) {
	metrics.TicksProcessed.WithLabelValues(q.Instrument).Inc()

	e.mu.RLock()
	ids := make([]string, 0, len(e.entries))
	for id := range e.entries {
		ids = append(ids, id)
	}
	e.mu.RUnlock()
	sort.Strings(ids)

	ctx := context.Background()
	for _, id := range ids {
		es, err := e.entryState(id)
		if err != nil {
			continue
		}
		e.tickEntry(ctx, es, q)
	}
}

func (e *Engine) tickEntry(ctx context.Context, es *entryState, q model.Quote) {
	es.mu.Lock()
	defer es.mu.Unlock()

	// The end fence also stops in-flight trigger fills.
	if es.account.Frozen || es.comp.ended.Load() {
		return
	}

	for _, t := range es.book.Evaluate(q) {
		if t.OrderID != "" {
			if _, ok := es.book.RemovePending(t.OrderID); !ok {
				continue
			}
			es.closedOrders[t.OrderID] = model.OrderFilled
		} else if _, ok := es.book.PositionByID(t.PositionID); !ok {
			// Position already removed by an earlier trigger this tick.
			continue
		}
		e.applyFill(ctx, es, applyParams{
			instrument: q.Instrument,
			side:       t.Side,
			quantity:   t.QuantityUnits,
			price:      t.Price,
			stopLoss:   t.StopLoss,
			takeProfit: t.TakeProfit,
			reason:     t.Reason,
			orderID:    t.OrderID,
		})
		if es.account.Frozen {
			return
		}
	}

	// Mark equity for the drawdown watermark.
	equity := es.account.Equity(es.book.UnrealizedPnlCents(e.latest))
	es.account.ObserveEquity(equity)
}

type applyParams struct {
	instrument string
	side       model.Side
	quantity   int64
	price      decimal.Decimal
	stopLoss   decimal.Decimal
	takeProfit decimal.Decimal
	reason     model.FillReason
	orderID    string
}

// applyFill mutates book and ledger, persists the fill, and notifies hooks.
// Caller holds es.mu.
func (e *Engine) applyFill(ctx context.Context, es *entryState, p applyParams) model.Fill {
	now := time.Now().UTC()
	realized := es.book.ApplyFill(p.instrument, p.side, p.quantity, p.price, p.stopLoss, p.takeProfit, now)
	if err := es.account.ApplyRealized(realized); err != nil {
		// Account froze itself; the fill record still lands in the audit
		// trail so an operator can reconstruct what happened.
		slog.Error("applying realized pnl failed", "entry_id", es.entry.ID, "err", err)
	}

	fill := model.Fill{
		ID:               uuid.New().String(),
		EntryID:          es.entry.ID,
		OrderID:          p.orderID,
		Instrument:       p.instrument,
		Side:             p.side,
		Reason:           p.reason,
		QuantityUnits:    p.quantity,
		FillPrice:        p.price,
		RealizedPnlCents: realized,
		FilledAt:         now,
	}
	if err := e.store.InsertFill(ctx, &fill); err != nil {
		slog.Error("fill persistence failed", "fill_id", fill.ID, "err", err)
	}
	e.persistBalances(ctx, es)

	metrics.FillsTotal.WithLabelValues(string(p.reason)).Inc()
	slog.Info("fill",
		"entry_id", es.entry.ID,
		"instrument", p.instrument,
		"side", p.side,
		"reason", p.reason,
		"qty", p.quantity,
		"price", p.price.String(),
		"realized_cents", realized,
	)

	for _, h := range e.fillHooks {
		h(fill)
	}
	return fill
}

func (e *Engine) persistBalances(ctx context.Context, es *entryState) {
	err := e.store.UpdateEntryBalances(ctx, es.entry.ID,
		es.account.CashCents, es.account.RealizedPnlCents, es.account.PeakEquityCents, es.account.Frozen)
	if err != nil {
		slog.Error("balance persistence failed", "entry_id", es.entry.ID, "err", err)
	}
}

func (e *Engine) entryState(id string) (*entryState, error) {
	e.mu.RLock()
	es, ok := e.entries[id]
	e.mu.RUnlock()
	if !ok {
		return nil, ErrEntryNotFound
	}
	return es, nil
}

// loadEntryState resolves an entry, falling back to the store so a restarted
// process serves persisted entries on demand. Entry reads flow through the
// store here, which keeps the cache layer on the hot path.
func (e *Engine) loadEntryState(ctx context.Context, id string) (*entryState, error) {
	if es, err := e.entryState(id); err == nil {
		return es, nil
	}
	entry, err := e.store.GetEntry(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrEntryNotFound
		}
		return nil, err
	}
	if err := e.adopt(ctx, *entry); err != nil {
		return nil, err
	}
	return e.entryState(id)
}

func (e *Engine) latest(instrument string) (model.Quote, bool) {
	q, err := e.feed.Latest(instrument)
	return q, err == nil
}
