// Package adapter defines the contract every vendor adapter implements and
// the callback surface adapters use to deliver data to the feed manager.
//
// An adapter bundles three responsibilities for one vendor:
//
//   - symbol translation between canonical names and the vendor's native
//     naming (vendor-native names never escape the adapter boundary),
//   - synchronous REST bootstrap of the option chain and reference prices,
//   - a long-lived streaming session with reconnect and re-subscribe.
//
// Failures stay inside the adapter: bootstrap calls return empty results,
// transport errors trigger the reconnect loop, malformed messages are
// dropped. Consumers only ever observe degraded state through the manager.
package adapter

import (
	"context"

	"marketfeed/pkg/types"
)

// Adapter is the surface every vendor exposes to the feed manager.
type Adapter interface {
	// Start launches the streaming session worker. Idempotent.
	Start()
	// Stop sets the cooperative stop flag and closes the transport.
	Stop()

	// OptionChain synchronously fetches the option universe for a tab and
	// returns it in canonical form. A failed fetch returns an empty slice
	// and an error for the manager to log; it is never fatal.
	OptionChain(ctx context.Context, cfg types.TabConfig) ([]types.InstrumentRecord, error)

	// LatestPrice returns the latest price for a canonical name, preferring
	// an index-style price when the vendor exposes one. Returns 0 on any
	// failure.
	LatestPrice(ctx context.Context, name string) float64

	// Subscribe sends a batched subscription for the given channels. The
	// channel strings are already in the format the adapter consumes
	// downstream; the adapter dedupes against its session-local set and
	// sends nothing when no new channels remain.
	Subscribe(channels []string)

	// ReferenceTickers returns, in priority order, the canonical names whose
	// prices serve as the underlying reference for a tab.
	ReferenceTickers(cfg types.TabConfig) []string

	// Channel forms the subscription channel key for a canonical name in
	// the shape this adapter's Subscribe consumes.
	Channel(name string) string

	// Connected reports whether the session is currently streaming.
	// Sampled locklessly; transient false-negatives are acceptable.
	Connected() bool
}

// Sink is the manager-side callback surface. The feed manager implements it;
// adapters hold it instead of a concrete manager so the dependency points
// one way.
type Sink interface {
	// IngestTicker delivers a normalized ticker on the hot path. The name on
	// the ticker is always canonical.
	IngestTicker(t types.Ticker)
	// OnAdapterReconnect fires on every successful entry to the streaming
	// state, including the first connect.
	OnAdapterReconnect(source string)
}
