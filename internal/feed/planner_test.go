package feed

import (
	"reflect"
	"testing"

	"marketfeed/internal/adapter"
	"marketfeed/pkg/types"
)

func newPlannerManager(fa *fakeAdapter) *Manager {
	tabs := []types.TabConfig{{TabName: "BTC-USD", BaseSymbol: "BTC", Settlement: types.SettlementUSD, Source: "deribit"}}
	m := newTestManager(tabs, map[string]adapter.Adapter{"deribit": fa})
	for _, strike := range []string{"45000", "48000", "50000", "52000", "60000"} {
		rec := optionRecord("BTC-20DEC24-" + strike + "-C")
		m.instrumentSets["BTC-USD"][rec.InstrumentName] = true
		m.instrumentsByTab["BTC-USD"] = append(m.instrumentsByTab["BTC-USD"], rec)
	}
	return m
}

func TestPlannerMoneynessWindow(t *testing.T) {
	t.Parallel()

	fa := &fakeAdapter{
		connected: true,
		refs:      []string{"BTC_USDC", "BTC_USDC-PERPETUAL"},
	}
	m := newPlannerManager(fa)
	m.indexPrices["BTC_USDC-PERPETUAL"] = 50000

	structure := m.SubscriptionMap("BTC-USD", []string{"20DEC24"}, -5, 5)

	exp := structure["20DEC24"]
	if exp == nil {
		t.Fatal("no entry for 20DEC24")
	}
	if !reflect.DeepEqual(exp.Strikes, []float64{48000, 50000, 52000}) {
		t.Errorf("strikes = %v", exp.Strikes)
	}
	if got := exp.Chain[48000].Call; got != "BTC-20DEC24-48000-C" {
		t.Errorf("chain[48000].Call = %q", got)
	}

	if len(fa.subs) != 1 {
		t.Fatalf("subscribe calls = %d, want 1", len(fa.subs))
	}
	want := []string{
		"ticker.BTC_USDC.100ms",
		"ticker.BTC_USDC-PERPETUAL.100ms",
		"ticker.BTC-20DEC24-48000-C.100ms",
		"ticker.BTC-20DEC24-50000-C.100ms",
		"ticker.BTC-20DEC24-52000-C.100ms",
	}
	if !reflect.DeepEqual(fa.subs[0], want) {
		t.Errorf("outgoing list = %v\nwant %v", fa.subs[0], want)
	}
}

func TestPlannerSpotFallback(t *testing.T) {
	t.Parallel()

	// First reference has no price; the second one supplies the spot.
	fa := &fakeAdapter{
		connected: true,
		refs:      []string{"BTC_USDC", "BTC_USDC-PERPETUAL"},
	}
	m := newPlannerManager(fa)
	m.indexPrices["BTC_USDC-PERPETUAL"] = 49876

	structure := m.SubscriptionMap("BTC-USD", []string{"20DEC24"}, -5, 5)

	exp := structure["20DEC24"]
	if exp == nil {
		t.Fatal("no entry for 20DEC24")
	}
	// 49876 * 0.95 = 47382.2, 49876 * 1.05 = 52369.8
	if !reflect.DeepEqual(exp.Strikes, []float64{48000, 50000, 52000}) {
		t.Errorf("strikes = %v", exp.Strikes)
	}
}

func TestPlannerEmptyCases(t *testing.T) {
	t.Parallel()

	fa := &fakeAdapter{connected: true, refs: []string{"BTC_USDC"}}
	m := newPlannerManager(fa)

	if got := m.SubscriptionMap("unknown-tab", []string{"20DEC24"}, -5, 5); len(got) != 0 {
		t.Errorf("unknown tab: %v", got)
	}

	// No reference price at all: empty result, no subscribe.
	if got := m.SubscriptionMap("BTC-USD", []string{"20DEC24"}, -5, 5); len(got) != 0 {
		t.Errorf("missing spot: %v", got)
	}
	if len(fa.subs) != 0 {
		t.Errorf("subscribe fired without a spot: %v", fa.subs)
	}

	// Tab whose source has no registered adapter.
	tabs := []types.TabConfig{{TabName: "US", BaseSymbol: "SPY", Source: "terminal"}}
	m2 := newTestManager(tabs, map[string]adapter.Adapter{})
	if got := m2.SubscriptionMap("US", []string{"20DEC24"}, -5, 5); len(got) != 0 {
		t.Errorf("unregistered adapter: %v", got)
	}
}

func TestPlannerDateFilter(t *testing.T) {
	t.Parallel()

	fa := &fakeAdapter{connected: true, refs: []string{"BTC_USDC"}}
	m := newPlannerManager(fa)
	m.indexPrices["BTC_USDC"] = 50000

	other := optionRecord("BTC-27JUN25-50000-C")
	m.instrumentSets["BTC-USD"][other.InstrumentName] = true
	m.instrumentsByTab["BTC-USD"] = append(m.instrumentsByTab["BTC-USD"], other)

	structure := m.SubscriptionMap("BTC-USD", []string{"27JUN25"}, -5, 5)
	if len(structure) != 1 {
		t.Fatalf("structure = %v", structure)
	}
	exp := structure["27JUN25"]
	if exp == nil || len(exp.Strikes) != 1 || exp.Strikes[0] != 50000 {
		t.Errorf("27JUN25 entry = %+v", exp)
	}
}

func TestPlannerPairsCallsAndPuts(t *testing.T) {
	t.Parallel()

	fa := &fakeAdapter{connected: true, refs: []string{"BTC_USDC"}}
	tabs := []types.TabConfig{{TabName: "BTC-USD", BaseSymbol: "BTC", Settlement: types.SettlementUSD, Source: "deribit"}}
	m := newTestManager(tabs, map[string]adapter.Adapter{"deribit": fa})
	m.indexPrices["BTC_USDC"] = 50000

	for _, nm := range []string{
		"BTC-20DEC24-50000-C",
		"BTC-20DEC24-50000-P",
		"BTC-20DEC24-50000-C", // duplicate keeps the first
	} {
		m.instrumentsByTab["BTC-USD"] = append(m.instrumentsByTab["BTC-USD"], optionRecord(nm))
	}

	structure := m.SubscriptionMap("BTC-USD", []string{"20DEC24"}, -5, 5)
	exp := structure["20DEC24"]
	if exp == nil {
		t.Fatal("no entry for 20DEC24")
	}
	if len(exp.Strikes) != 1 {
		t.Fatalf("strikes = %v", exp.Strikes)
	}
	pair := exp.Chain[50000]
	if pair.Call != "BTC-20DEC24-50000-C" || pair.Put != "BTC-20DEC24-50000-P" {
		t.Errorf("pair = %+v", pair)
	}
}

func TestPlannerSkipsSubscribeWhenDisconnected(t *testing.T) {
	t.Parallel()

	fa := &fakeAdapter{connected: false, refs: []string{"BTC_USDC"}}
	m := newPlannerManager(fa)
	m.indexPrices["BTC_USDC"] = 50000

	structure := m.SubscriptionMap("BTC-USD", []string{"20DEC24"}, -5, 5)
	if structure["20DEC24"] == nil {
		t.Fatal("structure should still be computed while disconnected")
	}
	if len(fa.subs) != 0 {
		t.Errorf("subscribe must be skipped while disconnected: %v", fa.subs)
	}
}
