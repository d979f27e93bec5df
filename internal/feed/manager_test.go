package feed

import (
	"context"
	"log/slog"
	"os"
	"reflect"
	"testing"

	"marketfeed/internal/adapter"
	"marketfeed/pkg/types"
)

// fakeAdapter is an in-memory implementation of the adapter contract.
type fakeAdapter struct {
	connected bool
	refs      []string
	chain     []types.InstrumentRecord
	prices    map[string]float64
	subs      [][]string
}

func (f *fakeAdapter) Start() {}
func (f *fakeAdapter) Stop()  {}

func (f *fakeAdapter) OptionChain(ctx context.Context, cfg types.TabConfig) ([]types.InstrumentRecord, error) {
	return f.chain, nil
}

func (f *fakeAdapter) LatestPrice(ctx context.Context, name string) float64 {
	return f.prices[name]
}

func (f *fakeAdapter) Subscribe(channels []string) {
	f.subs = append(f.subs, channels)
}

func (f *fakeAdapter) ReferenceTickers(cfg types.TabConfig) []string { return f.refs }

func (f *fakeAdapter) Channel(name string) string { return "ticker." + name + ".100ms" }

func (f *fakeAdapter) Connected() bool { return f.connected }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestManager(tabs []types.TabConfig, adapters map[string]adapter.Adapter) *Manager {
	m := &Manager{
		tickers:          make(map[string]types.Ticker),
		indexPrices:      make(map[string]float64),
		instrumentsByTab: make(map[string][]types.InstrumentRecord),
		instrumentSets:   make(map[string]map[string]bool),
		refNames:         make(map[string]bool),
		marketConfig:     tabs,
		adapters:         adapters,
		logger:           testLogger().With("component", "feed"),
	}
	for _, tab := range tabs {
		m.instrumentsByTab[tab.TabName] = []types.InstrumentRecord{}
		m.instrumentSets[tab.TabName] = make(map[string]bool)
	}
	return m
}

func optionRecord(name string) types.InstrumentRecord {
	return types.InstrumentRecord{InstrumentName: name, BaseCurrency: "BTC", QuoteCurrency: "USD"}
}

func TestBootstrapInstrumentsDedup(t *testing.T) {
	t.Parallel()

	fa := &fakeAdapter{chain: []types.InstrumentRecord{
		optionRecord("BTC-20DEC24-45000-C"),
		optionRecord("BTC-20DEC24-45000-C"),
		optionRecord("BTC-20DEC24-50000-C"),
	}}
	tabs := []types.TabConfig{{TabName: "BTC", BaseSymbol: "BTC", Settlement: types.SettlementCoin, Source: "deribit"}}
	m := newTestManager(tabs, map[string]adapter.Adapter{"deribit": fa})

	m.bootstrapInstruments()
	// A second cycle must not duplicate anything either.
	m.bootstrapInstruments()

	recs := m.Snapshot().InstrumentsByTab["BTC"]
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2: %+v", len(recs), recs)
	}
	if recs[0].InstrumentName != "BTC-20DEC24-45000-C" || recs[1].InstrumentName != "BTC-20DEC24-50000-C" {
		t.Errorf("insertion order not preserved: %+v", recs)
	}
}

func TestBootstrapPricesSkipsZeros(t *testing.T) {
	t.Parallel()

	fa := &fakeAdapter{
		refs:   []string{"BTC_USDC", "BTC_USDC-PERPETUAL"},
		prices: map[string]float64{"BTC_USDC": 0, "BTC_USDC-PERPETUAL": 49876},
	}
	tabs := []types.TabConfig{{TabName: "BTC-USD", BaseSymbol: "BTC", Settlement: types.SettlementUSD, Source: "deribit"}}
	m := newTestManager(tabs, map[string]adapter.Adapter{"deribit": fa})

	m.bootstrapPrices()

	snap := m.Snapshot()
	if _, ok := snap.IndexPrices["BTC_USDC"]; ok {
		t.Error("zero price must not be stored")
	}
	if got := snap.IndexPrices["BTC_USDC-PERPETUAL"]; got != 49876 {
		t.Errorf("perp price = %v, want 49876", got)
	}
}

func TestIngestTickerStoresUnderCanonicalName(t *testing.T) {
	t.Parallel()

	m := newTestManager(nil, nil)

	m.IngestTicker(types.Ticker{
		InstrumentName: "BTC-20DEC24-45000-C",
		BestBidPrice:   0.031,
		LastPrice:      0.032,
		Stats:          map[string]float64{"volume": 7},
		Timestamp:      1734681600000,
	})

	snap := m.Snapshot()
	tk, ok := snap.Tickers["BTC-20DEC24-45000-C"]
	if !ok {
		t.Fatal("ticker missing")
	}
	if tk.InstrumentName != "BTC-20DEC24-45000-C" {
		t.Errorf("name = %q", tk.InstrumentName)
	}
	if tk.LastPrice != 0.032 || tk.Stats["volume"] != 7 {
		t.Errorf("fields = %+v", tk)
	}
	if len(snap.IndexPrices) != 0 {
		t.Errorf("option ticker must not touch index prices: %v", snap.IndexPrices)
	}
}

func TestIngestTickerUpdatesReferencePrices(t *testing.T) {
	t.Parallel()

	m := newTestManager(nil, nil)

	// Heuristic match: perp name, index price preferred.
	m.IngestTicker(types.Ticker{InstrumentName: "BTC_USDC-PERPETUAL", LastPrice: 49900, IndexPrice: 49876})
	// Heuristic match, no index price: last price is used.
	m.IngestTicker(types.Ticker{InstrumentName: "ETH_USDC", LastPrice: 3000})
	// Heuristic match with no positive price at all: bid only, not stored.
	m.IngestTicker(types.Ticker{InstrumentName: "SOL_USDC", BestBidPrice: 180})

	snap := m.Snapshot()
	if got := snap.IndexPrices["BTC_USDC-PERPETUAL"]; got != 49876 {
		t.Errorf("perp = %v, want index price 49876", got)
	}
	if got := snap.IndexPrices["ETH_USDC"]; got != 3000 {
		t.Errorf("pair = %v, want last price 3000", got)
	}
	if _, ok := snap.IndexPrices["SOL_USDC"]; ok {
		t.Error("zero price stored for SOL_USDC")
	}

	// The stored ticker view never carries the vendor index price.
	if tk := snap.Tickers["BTC_USDC-PERPETUAL"]; tk.IndexPrice != 0 {
		t.Errorf("ticker view retains index price: %v", tk.IndexPrice)
	}
}

func TestIngestTickerUsesBootstrapPredicate(t *testing.T) {
	t.Parallel()

	fa := &fakeAdapter{refs: []string{"SPY"}, prices: map[string]float64{"SPY": 500}}
	tabs := []types.TabConfig{{TabName: "US", BaseSymbol: "SPY", Source: "terminal"}}
	m := newTestManager(tabs, map[string]adapter.Adapter{"terminal": fa})
	m.bootstrapPrices()

	// "SPY" matches neither substring; the bootstrap-recorded reference set
	// must still route its price updates.
	m.IngestTicker(types.Ticker{InstrumentName: "SPY", LastPrice: 501.5})

	if got := m.Snapshot().IndexPrices["SPY"]; got != 501.5 {
		t.Errorf("SPY reference price = %v, want 501.5", got)
	}
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	t.Parallel()

	fa := &fakeAdapter{chain: []types.InstrumentRecord{optionRecord("BTC-20DEC24-45000-C")}}
	tabs := []types.TabConfig{{TabName: "BTC", BaseSymbol: "BTC", Settlement: types.SettlementCoin, Source: "deribit"}}
	m := newTestManager(tabs, map[string]adapter.Adapter{"deribit": fa})
	m.bootstrapInstruments()
	m.IngestTicker(types.Ticker{
		InstrumentName: "BTC-20DEC24-45000-C",
		LastPrice:      0.03,
		Stats:          map[string]float64{"volume": 1},
	})

	snap := m.Snapshot()
	snap.IndexPrices["BTC_USDC"] = 1
	snap.Tickers["injected"] = types.Ticker{}
	tk := snap.Tickers["BTC-20DEC24-45000-C"]
	tk.Stats["volume"] = 999
	snap.InstrumentsByTab["BTC"][0].InstrumentName = "mutated"
	snap.Config = append(snap.Config, types.TabConfig{TabName: "rogue"})

	fresh := m.Snapshot()
	if len(fresh.IndexPrices) != 0 || len(fresh.Tickers) != 1 {
		t.Error("map mutation leaked into manager state")
	}
	if fresh.Tickers["BTC-20DEC24-45000-C"].Stats["volume"] != 1 {
		t.Error("stats mutation leaked into manager state")
	}
	if fresh.InstrumentsByTab["BTC"][0].InstrumentName != "BTC-20DEC24-45000-C" {
		t.Error("record mutation leaked into manager state")
	}
	if len(fresh.Config) != 1 {
		t.Error("config mutation leaked into manager state")
	}
}

func TestSnapshotIsReady(t *testing.T) {
	t.Parallel()

	fa := &fakeAdapter{}
	m := newTestManager(nil, map[string]adapter.Adapter{"deribit": fa})

	if m.Snapshot().IsReady {
		t.Error("IsReady should be false while disconnected")
	}
	fa.connected = true
	if !m.Snapshot().IsReady {
		t.Error("IsReady should be true once any adapter streams")
	}
}

func TestExpiriesForSortsByDate(t *testing.T) {
	t.Parallel()

	fa := &fakeAdapter{chain: []types.InstrumentRecord{
		optionRecord("BTC-20DEC24-45000-C"),
		optionRecord("BTC-7JUN25-45000-C"),
		optionRecord("BTC-3JAN25-45000-C"),
		optionRecord("BTC-20DEC24-50000-P"),
		{InstrumentName: "BTC-PERPETUAL", BaseCurrency: "BTC", QuoteCurrency: "USD"},
	}}
	tabs := []types.TabConfig{{TabName: "BTC", BaseSymbol: "BTC", Settlement: types.SettlementCoin, Source: "deribit"}}
	m := newTestManager(tabs, map[string]adapter.Adapter{"deribit": fa})
	m.bootstrapInstruments()

	got := m.ExpiriesFor("BTC")
	want := []string{"20DEC24", "3JAN25", "7JUN25", "PERPETUAL"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ExpiriesFor = %v, want %v", got, want)
	}

	if got := m.ExpiriesFor("nope"); len(got) != 0 {
		t.Errorf("unknown tab should yield no expiries, got %v", got)
	}
}
