// planner.go computes which channels to subscribe for a tab.
//
// Given a tab, a set of target expiries, and a moneyness band around the
// tab's reference price, the planner returns the strike-by-expiry structure
// consumers render from and forwards the matching subscription list to the
// tab's adapter. The reference channels always lead the outgoing list so
// the spot keeps updating even when no strike is in window.
package feed

import (
	"sort"
	"strings"

	"marketfeed/pkg/types"
)

// SubscriptionMap plans the subscriptions for one tab. minPct and maxPct
// are percent deviations from the reference price (minPct is normally
// negative). Unknown tabs, unregistered adapters, and a missing reference
// price all return an empty structure.
func (m *Manager) SubscriptionMap(tabName string, targetDates []string, minPct, maxPct float64) types.SubscriptionMap {
	var cfg *types.TabConfig
	for i := range m.marketConfig {
		if m.marketConfig[i].TabName == tabName {
			cfg = &m.marketConfig[i]
			break
		}
	}
	if cfg == nil {
		return types.SubscriptionMap{}
	}

	a, ok := m.adapters[strings.ToLower(cfg.Source)]
	if !ok {
		return types.SubscriptionMap{}
	}

	refs := a.ReferenceTickers(*cfg)
	wanted := make(map[string]bool, len(targetDates))
	for _, d := range targetDates {
		wanted[d] = true
	}

	m.mu.Lock()

	// First reference with a known positive price is the spot.
	spot := 0.0
	for _, ref := range refs {
		if px := m.indexPrices[ref]; px > 0 {
			spot = px
			break
		}
	}
	if spot == 0 {
		m.mu.Unlock()
		return types.SubscriptionMap{}
	}

	lo := spot * (1 + minPct/100)
	hi := spot * (1 + maxPct/100)

	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		out = append(out, a.Channel(ref))
	}

	structure := types.SubscriptionMap{}
	for _, rec := range m.instrumentsByTab[tabName] {
		nm := rec.InstrumentName
		_, date, strike, kind, ok := types.ParseOptionName(nm)
		if !ok || !wanted[date] || strike < lo || strike > hi {
			continue
		}

		exp := structure[date]
		if exp == nil {
			exp = &types.ExpiryStrikes{Chain: make(map[float64]*types.StrikePair)}
			structure[date] = exp
		}
		pair := exp.Chain[strike]
		if pair == nil {
			pair = &types.StrikePair{}
			exp.Chain[strike] = pair
			exp.Strikes = append(exp.Strikes, strike)
		}

		// Duplicate (date, strike, kind) keeps the first record.
		switch kind {
		case types.Call:
			if pair.Call == "" {
				pair.Call = nm
			}
		case types.Put:
			if pair.Put == "" {
				pair.Put = nm
			}
		}

		out = append(out, a.Channel(nm))
	}

	for _, exp := range structure {
		sort.Float64s(exp.Strikes)
	}
	m.mu.Unlock()

	// Send outside the state lock. Nothing is sent while the session is
	// down; after a reconnect, consumers re-invoke the planner.
	if a.Connected() {
		a.Subscribe(out)
	}

	return structure
}
