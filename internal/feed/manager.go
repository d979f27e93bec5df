// Package feed implements the feed manager, the central state store of the
// engine.
//
// The manager owns the canonical market state (instrument universe per tab,
// top-of-book tickers, reference prices), orchestrates the synchronous
// bootstrap at construction time, fans Start/Stop out to the vendor
// adapters, and serves deep-copied snapshots to consumers. A single mutex
// serializes every mutation and every read that produces a returned value;
// the ingest hot path acquires it, writes maps, and releases without ever
// touching I/O.
package feed

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"marketfeed/internal/adapter"
	"marketfeed/internal/adapter/deribit"
	"marketfeed/internal/adapter/terminal"
	"marketfeed/internal/config"
	"marketfeed/pkg/types"
)

// Manager is the central state store and bootstrap orchestrator.
type Manager struct {
	mu               sync.Mutex
	tickers          map[string]types.Ticker
	indexPrices      map[string]float64
	instrumentsByTab map[string][]types.InstrumentRecord
	instrumentSets   map[string]map[string]bool
	refNames         map[string]bool // reference predicate, filled at bootstrap

	marketConfig []types.TabConfig // immutable after construction
	adapters     map[string]adapter.Adapter
	logger       *slog.Logger
}

// New builds the manager, instantiates the adapters requested by the tab
// configuration, and performs the blocking bootstrap: option chains first,
// then reference prices. Partial bootstrap failures degrade state, they do
// not fail construction.
func New(cfg *config.Config, logger *slog.Logger) *Manager {
	m := &Manager{
		tickers:          make(map[string]types.Ticker),
		indexPrices:      make(map[string]float64),
		instrumentsByTab: make(map[string][]types.InstrumentRecord),
		instrumentSets:   make(map[string]map[string]bool),
		refNames:         make(map[string]bool),
		marketConfig:     cfg.Tabs,
		adapters:         make(map[string]adapter.Adapter),
		logger:           logger.With("component", "feed"),
	}

	for _, tab := range cfg.Tabs {
		m.instrumentsByTab[tab.TabName] = []types.InstrumentRecord{}
		m.instrumentSets[tab.TabName] = make(map[string]bool)
	}

	m.initAdapters(cfg, logger)

	m.logger.Info("bootstrapping", "tabs", len(cfg.Tabs), "adapters", len(m.adapters))
	m.bootstrapInstruments()
	m.bootstrapPrices()

	return m
}

// initAdapters instantiates only the adapters whose source key appears in a
// tab. A tab naming an unavailable or unknown source is logged and skipped;
// no stub adapters are registered.
func (m *Manager) initAdapters(cfg *config.Config, logger *slog.Logger) {
	active := make(map[string]bool, len(cfg.Tabs))
	for _, tab := range cfg.Tabs {
		active[strings.ToLower(tab.Source)] = true
	}

	if active[deribit.Name] {
		m.adapters[deribit.Name] = deribit.New(cfg.Adapters.Deribit, cfg.SymbolSheet, m, logger)
	}
	if active[terminal.Name] {
		if cfg.Adapters.Terminal.Enabled() {
			m.adapters[terminal.Name] = terminal.New(cfg.Adapters.Terminal, cfg.SymbolSheet, m, logger)
		} else {
			m.logger.Warn("terminal source requested but no gateway configured, omitting adapter")
		}
	}

	for src := range active {
		if _, ok := m.adapters[src]; !ok && src != terminal.Name {
			m.logger.Warn("no adapter registered for source", "source", src)
		}
	}
}

// bootstrapInstruments fetches each tab's option chain and merges it into
// the per-tab universe under the dedup guard. Failed fetches leave the tab
// empty for this cycle.
func (m *Manager) bootstrapInstruments() {
	ctx := context.Background()
	for _, tab := range m.marketConfig {
		a, ok := m.adapters[strings.ToLower(tab.Source)]
		if !ok {
			continue
		}

		records, err := a.OptionChain(ctx, tab)
		if err != nil {
			m.logger.Warn("option chain fetch failed", "tab", tab.TabName, "error", err)
			continue
		}

		m.mu.Lock()
		set := m.instrumentSets[tab.TabName]
		for _, rec := range records {
			if set[rec.InstrumentName] {
				continue
			}
			set[rec.InstrumentName] = true
			m.instrumentsByTab[tab.TabName] = append(m.instrumentsByTab[tab.TabName], rec)
		}
		count := len(m.instrumentsByTab[tab.TabName])
		m.mu.Unlock()

		m.logger.Info("option chain loaded", "tab", tab.TabName, "instruments", count)
	}
}

// bootstrapPrices resolves each tab's reference tickers and stores every
// positive price. The reference names are also recorded for the ingest
// predicate. The lock is never held across a REST call.
func (m *Manager) bootstrapPrices() {
	ctx := context.Background()
	for _, tab := range m.marketConfig {
		a, ok := m.adapters[strings.ToLower(tab.Source)]
		if !ok {
			continue
		}

		for _, ref := range a.ReferenceTickers(tab) {
			m.mu.Lock()
			m.refNames[ref] = true
			m.mu.Unlock()

			px := a.LatestPrice(ctx, ref)
			if px <= 0 {
				continue
			}
			m.mu.Lock()
			m.indexPrices[ref] = px
			m.mu.Unlock()
			m.logger.Info("reference price bootstrapped", "name", ref, "price", px)
		}
	}
}

// StartStream fans out to every adapter. Idempotent.
func (m *Manager) StartStream() {
	for _, a := range m.adapters {
		a.Start()
	}
}

// StopStream fans out to every adapter. Idempotent.
func (m *Manager) StopStream() {
	for _, a := range m.adapters {
		a.Stop()
	}
}

// MarketConfig returns the immutable tab configuration.
func (m *Manager) MarketConfig() []types.TabConfig {
	return m.marketConfig
}

// Snapshot returns a deep copy of the current state. IsReady samples each
// adapter's connected flag under no lock; transient false-negatives are
// acceptable.
func (m *Manager) Snapshot() types.MarketSnapshot {
	isReady := false
	for _, a := range m.adapters {
		if a.Connected() {
			isReady = true
			break
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	snap := types.MarketSnapshot{
		IsReady:          isReady,
		IndexPrices:      make(map[string]float64, len(m.indexPrices)),
		Tickers:          make(map[string]types.Ticker, len(m.tickers)),
		Config:           append([]types.TabConfig(nil), m.marketConfig...),
		InstrumentsByTab: make(map[string][]types.InstrumentRecord, len(m.instrumentsByTab)),
	}
	for k, v := range m.indexPrices {
		snap.IndexPrices[k] = v
	}
	for k, v := range m.tickers {
		snap.Tickers[k] = v.Clone()
	}
	for tab, recs := range m.instrumentsByTab {
		snap.InstrumentsByTab[tab] = append([]types.InstrumentRecord(nil), recs...)
	}
	return snap
}

// ExpiriesFor collects the distinct DDMMMYY tokens of a tab's instruments,
// sorted ascending by parsed date. Unparseable tokens sort last.
func (m *Manager) ExpiriesFor(tabName string) []string {
	m.mu.Lock()
	recs, ok := m.instrumentsByTab[tabName]
	if !ok {
		m.mu.Unlock()
		return []string{}
	}

	seen := make(map[string]bool)
	for _, rec := range recs {
		parts := strings.Split(rec.InstrumentName, "-")
		if len(parts) > 1 {
			seen[parts[1]] = true
		}
	}
	m.mu.Unlock()

	dates := make([]string, 0, len(seen))
	for d := range seen {
		dates = append(dates, d)
	}

	farFuture := time.Unix(1<<40, 0)
	key := func(d string) time.Time {
		t, err := types.ParseExpiry(d)
		if err != nil {
			return farFuture
		}
		return t
	}
	sort.Slice(dates, func(i, j int) bool {
		ti, tj := key(dates[i]), key(dates[j])
		if ti.Equal(tj) {
			return dates[i] < dates[j]
		}
		return ti.Before(tj)
	})
	return dates
}

// IngestTicker is the adapter hot path. The ticker map is written first;
// the reference-price map second, under the same lock acquisition, so a
// reader never observes the index price ahead of its ticker.
func (m *Manager) IngestTicker(t types.Ticker) {
	nm := t.InstrumentName
	if nm == "" {
		return
	}

	view := t.Clone()
	view.IndexPrice = 0 // reference names fold it into the reference-price map below; others drop it

	m.mu.Lock()
	m.tickers[nm] = view

	if m.isReferenceLocked(nm) {
		px := t.IndexPrice
		if px == 0 {
			px = t.LastPrice
		}
		if px > 0 {
			m.indexPrices[nm] = px
		}
	}
	m.mu.Unlock()
}

// isReferenceLocked reports whether a name serves (or may serve) as a
// reference. The substring heuristic keeps the crypto venue's perp and
// stablecoin pairs matching even before bootstrap records them; the set
// covers every name an adapter declared via ReferenceTickers.
// Callers hold m.mu.
func (m *Manager) isReferenceLocked(name string) bool {
	if strings.Contains(name, "PERPETUAL") || strings.Contains(name, "USDC") {
		return true
	}
	return m.refNames[name]
}

// OnAdapterReconnect is the reconnect hook. The default implementation only
// records the event; consumers re-invoke the planner to restore
// subscriptions.
func (m *Manager) OnAdapterReconnect(source string) {
	m.logger.Info("adapter reconnected", "source", source)
}
