package arena

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/fxarena/arena-engine/internal/engine"
	"github.com/fxarena/arena-engine/internal/feed"
	"github.com/fxarena/arena-engine/internal/model"
	"github.com/fxarena/arena-engine/internal/store"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type scriptSource struct {
	symbol   string
	bid, ask decimal.Decimal
}

func (s *scriptSource) Next(now time.Time) model.Quote {
	return model.Quote{Instrument: s.symbol, Bid: s.bid, Ask: s.ask, Timestamp: now, Session: 1}
}

type testEnv struct {
	t      *testing.T
	server *httptest.Server
	feed   *feed.Feed
	stub   *scriptSource
	clock  time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	inst := model.Instrument{
		Symbol: "EUR-USD", PipSize: d("0.0001"),
		LotUnits: model.StandardLotUnits, ReferenceMid: d("1.0876"),
	}
	stub := &scriptSource{symbol: inst.Symbol, bid: d("1.08740"), ask: d("1.08760")}
	f := feed.New(feed.Config{
		Instruments: []model.Instrument{inst},
		NewSource:   func(model.Instrument, int64) feed.Source { return stub },
	})

	st := store.NewMemoryStore()
	eng := engine.New(f, st)
	if err := eng.Bind(); err != nil {
		t.Fatalf("bind: %v", err)
	}

	r := chi.NewRouter()
	NewService(eng, f, st).Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	env := &testEnv{t: t, server: srv, feed: f, stub: stub,
		clock: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	env.tick("1.08740", "1.08760")
	return env
}

func (e *testEnv) tick(bid, ask string) {
	e.t.Helper()
	e.stub.bid, e.stub.ask = d(bid), d(ask)
	e.clock = e.clock.Add(time.Second)
	if _, err := e.feed.Step("EUR-USD", e.clock); err != nil {
		e.t.Fatalf("step: %v", err)
	}
}

func (e *testEnv) do(method, path string, body any) *http.Response {
	e.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			e.t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, e.server.URL+path, &buf)
	if err != nil {
		e.t.Fatalf("new request: %v", err)
	}
	resp, err := e.server.Client().Do(req)
	if err != nil {
		e.t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decodeInto(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func wantStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Fatalf("status = %d, want %d", resp.StatusCode, want)
	}
}

func (e *testEnv) openEntry() model.CompetitionEntry {
	e.t.Helper()
	resp := e.do(http.MethodPost, "/entries", OpenEntryRequest{
		CompetitionID:        "comp1",
		UserID:               "user1",
		StartingBalanceCents: 10_000_000,
	})
	wantStatus(e.t, resp, http.StatusCreated)
	var entry model.CompetitionEntry
	decodeInto(e.t, resp, &entry)
	return entry
}

func TestOpenEntry_RejectsBadFunding(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(http.MethodPost, "/entries", OpenEntryRequest{
		CompetitionID: "comp1", UserID: "user1", StartingBalanceCents: 0,
	})
	wantStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestOrderFlow_MarketThenSnapshot(t *testing.T) {
	env := newTestEnv(t)
	entry := env.openEntry()

	resp := env.do(http.MethodPost, "/arena/"+entry.ID+"/orders", OrderRequest{
		Instrument: "EUR-USD", Side: model.SideBuy, Type: model.OrderMarket,
		QuantityUnits: 100_000,
	})
	wantStatus(t, resp, http.StatusOK)
	var res engine.SubmitResult
	decodeInto(t, resp, &res)
	if res.Fill == nil || !res.Fill.FillPrice.Equal(d("1.08760")) {
		t.Fatalf("expected market fill at 1.08760, got %+v", res)
	}

	env.tick("1.08960", "1.08980")

	resp = env.do(http.MethodGet, "/arena/"+entry.ID, nil)
	wantStatus(t, resp, http.StatusOK)
	var arena ArenaResponse
	decodeInto(t, resp, &arena)
	if arena.Entry.CashCents != 10_000_000 {
		t.Fatalf("cash = %d, want 10000000", arena.Entry.CashCents)
	}
	if arena.UnrealizedPnlCents != 20_000 {
		t.Fatalf("unrealized = %d, want 20000", arena.UnrealizedPnlCents)
	}
	if len(arena.Fills) != 1 {
		t.Fatalf("fill history = %d records, want 1", len(arena.Fills))
	}

	// Close the position and confirm the realized cash lands.
	posID := arena.Positions[0].ID
	resp = env.do(http.MethodPost, "/arena/"+entry.ID+"/positions/"+posID+"/close", nil)
	wantStatus(t, resp, http.StatusOK)
	var fill model.Fill
	decodeInto(t, resp, &fill)
	if fill.RealizedPnlCents != 20_000 {
		t.Fatalf("realized = %d, want 20000", fill.RealizedPnlCents)
	}

	resp = env.do(http.MethodGet, "/arena/"+entry.ID, nil)
	decodeInto(t, resp, &arena)
	if arena.Entry.CashCents != 10_020_000 {
		t.Fatalf("cash after close = %d, want 10020000", arena.Entry.CashCents)
	}
}

func TestOrderFlow_PendingOrderAcceptedAndCancelled(t *testing.T) {
	env := newTestEnv(t)
	entry := env.openEntry()

	resp := env.do(http.MethodPost, "/arena/"+entry.ID+"/orders", OrderRequest{
		Instrument: "EUR-USD", Side: model.SideBuy, Type: model.OrderLimit,
		QuantityUnits: 10_000, TriggerPrice: d("1.08500"),
	})
	wantStatus(t, resp, http.StatusAccepted)
	var res engine.SubmitResult
	decodeInto(t, resp, &res)
	if res.Order == nil {
		t.Fatal("expected resting order in response")
	}

	resp = env.do(http.MethodPost, "/arena/"+entry.ID+"/orders/"+res.Order.ID+"/cancel", nil)
	wantStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	// Second cancel conflicts.
	resp = env.do(http.MethodPost, "/arena/"+entry.ID+"/orders/"+res.Order.ID+"/cancel", nil)
	wantStatus(t, resp, http.StatusConflict)
	resp.Body.Close()

	// Unknown order is a 404.
	resp = env.do(http.MethodPost, "/arena/"+entry.ID+"/orders/nope/cancel", nil)
	wantStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestSubmitOrder_ValidationAndIdempotency(t *testing.T) {
	env := newTestEnv(t)
	entry := env.openEntry()

	resp := env.do(http.MethodPost, "/arena/"+entry.ID+"/orders", OrderRequest{
		Instrument: "EUR-USD", Side: model.SideBuy, Type: model.OrderMarket,
	})
	wantStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	order := OrderRequest{
		Instrument: "EUR-USD", Side: model.SideBuy, Type: model.OrderMarket,
		QuantityUnits: 10_000, ClientOrderID: "nonce-7",
	}
	var first, second engine.SubmitResult
	resp = env.do(http.MethodPost, "/arena/"+entry.ID+"/orders", order)
	wantStatus(t, resp, http.StatusOK)
	decodeInto(t, resp, &first)
	resp = env.do(http.MethodPost, "/arena/"+entry.ID+"/orders", order)
	wantStatus(t, resp, http.StatusOK)
	decodeInto(t, resp, &second)
	if first.Fill.ID != second.Fill.ID {
		t.Fatal("resubmitting the same client order id must replay the original fill")
	}
}

func TestSubmitOrder_UnknownEntry(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(http.MethodPost, "/arena/nope/orders", OrderRequest{
		Instrument: "EUR-USD", Side: model.SideBuy, Type: model.OrderMarket, QuantityUnits: 1,
	})
	wantStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestGetCandles(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 5; i++ {
		env.tick("1.08740", "1.08760")
	}

	resp := env.do(http.MethodGet, "/market/candles?instrument=EUR-USD&timeframe=1m&limit=10", nil)
	wantStatus(t, resp, http.StatusOK)
	var body CandlesResponse
	decodeInto(t, resp, &body)
	if !body.Synthetic {
		t.Fatal("simulated series must be flagged synthetic")
	}
	if len(body.Candles) == 0 {
		t.Fatal("expected at least the open candle")
	}

	resp = env.do(http.MethodGet, "/market/candles?instrument=EUR-USD&timeframe=7m", nil)
	wantStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = env.do(http.MethodGet, "/market/candles?instrument=EUR-USD&limit=-3", nil)
	wantStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = env.do(http.MethodGet, "/market/candles?instrument=XAU-USD", nil)
	wantStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestGetQuote(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(http.MethodGet, "/market/quote/EUR-USD", nil)
	wantStatus(t, resp, http.StatusOK)
	var q model.Quote
	decodeInto(t, resp, &q)
	if !q.Bid.Equal(d("1.08740")) || !q.Ask.Equal(d("1.08760")) {
		t.Fatalf("unexpected quote %s/%s", q.Bid, q.Ask)
	}

	resp = env.do(http.MethodGet, "/market/quote/XAU-USD", nil)
	wantStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestLeaderboardEndpoint(t *testing.T) {
	env := newTestEnv(t)
	entries := make([]model.CompetitionEntry, 2)
	for i := range entries {
		entries[i] = env.openEntry()
	}

	env.do(http.MethodPost, "/arena/"+entries[0].ID+"/orders", OrderRequest{
		Instrument: "EUR-USD", Side: model.SideBuy, Type: model.OrderMarket,
		QuantityUnits: 100_000,
	}).Body.Close()
	env.tick("1.08960", "1.08980")

	resp := env.do(http.MethodGet, "/leaderboard/comp1", nil)
	wantStatus(t, resp, http.StatusOK)
	var rows []model.LeaderboardRow
	decodeInto(t, resp, &rows)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].EntryID != entries[0].ID || rows[0].Rank != 1 {
		t.Fatalf("expected the profitable entry first, got %+v", rows[0])
	}

	resp = env.do(http.MethodGet, "/leaderboard/missing", nil)
	wantStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestEndCompetitionEndpoint(t *testing.T) {
	env := newTestEnv(t)
	entry := env.openEntry()

	resp := env.do(http.MethodPost, "/competitions/comp1/end", nil)
	wantStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = env.do(http.MethodPost, "/arena/"+entry.ID+"/orders", OrderRequest{
		Instrument: "EUR-USD", Side: model.SideBuy, Type: model.OrderMarket,
		QuantityUnits: 1,
	})
	wantStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = env.do(http.MethodPost, "/competitions/missing/end", nil)
	wantStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestMalformedBody(t *testing.T) {
	env := newTestEnv(t)
	req, _ := http.NewRequest(http.MethodPost, env.server.URL+"/entries",
		bytes.NewBufferString("{not json"))
	resp, err := env.server.Client().Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	wantStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}
