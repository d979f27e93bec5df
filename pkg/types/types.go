// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the feed engine: tab
// configuration, instrument records, top-of-book tickers, the market
// snapshot handed to consumers, and the canonical instrument-name helpers.
// It has no dependencies on internal packages, so it can be imported by any
// layer.
//
// Canonical instrument names are vendor-agnostic:
//
//	option:     {SYM}-{DDMMMYY}-{STRIKE}-{C|P}   e.g. SPY-20FEB26-688-C
//	underlying: {SYM} or a vendor reference token e.g. BTC-PERPETUAL, BTC_USDC
//
// DDMMMYY uses a 1-2 digit day, an uppercase 3-letter month, and a 2-digit
// year. STRIKE is a decimal with insignificant trailing zeros stripped.
package types

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Settlement distinguishes the margin convention of a derivative venue.
type Settlement string

const (
	SettlementCoin Settlement = "coin" // inverse, coin-margined
	SettlementUSD  Settlement = "usd"  // linear, stablecoin-margined
)

// OptionKind is the option right: call or put.
type OptionKind string

const (
	Call OptionKind = "C"
	Put  OptionKind = "P"
)

// ————————————————————————————————————————————————————————————————————————
// Configuration and instrument universe
// ————————————————————————————————————————————————————————————————————————

// TabConfig describes one user-facing grouping of instruments: a base symbol
// on a single source venue under one settlement convention. TabName is the
// unique key across the process. The list of tabs is immutable after load.
type TabConfig struct {
	TabName    string     `mapstructure:"tab_name" json:"tab_name"`
	BaseSymbol string     `mapstructure:"base_symbol" json:"base_symbol"`
	Settlement Settlement `mapstructure:"settlement" json:"settlement"`
	Source     string     `mapstructure:"source" json:"source"`
}

// InstrumentRecord is one canonical instrument known in a tab. Records are
// created during bootstrap and are append-only for the process lifetime.
// ExpirationTimestamp is milliseconds since the Unix epoch; zero for
// non-option references.
type InstrumentRecord struct {
	InstrumentName      string `json:"instrument_name"`
	ExpirationTimestamp int64  `json:"expiration_timestamp,omitempty"`
	BaseCurrency        string `json:"base_currency"`
	QuoteCurrency       string `json:"quote_currency"`
}

// ————————————————————————————————————————————————————————————————————————
// Tickers
// ————————————————————————————————————————————————————————————————————————

// Ticker is a normalized top-of-book snapshot for one canonical name.
// Adapters build this record from vendor payloads; zero means the vendor
// did not provide the field. Stats is an opaque numeric mapping passed
// through from the vendor (volume, highs, lows, ...).
//
// IndexPrice is only populated on the adapter side for names that carry a
// vendor index; for reference names the manager folds it into its
// reference-price map, and it never retains it per ticker.
type Ticker struct {
	InstrumentName string             `json:"instrument_name"`
	BestBidPrice   float64            `json:"best_bid_price"`
	BestBidAmount  float64            `json:"best_bid_amount"`
	BestAskPrice   float64            `json:"best_ask_price"`
	BestAskAmount  float64            `json:"best_ask_amount"`
	LastPrice      float64            `json:"last_price"`
	IndexPrice     float64            `json:"index_price,omitempty"`
	Stats          map[string]float64 `json:"stats,omitempty"`
	Timestamp      int64              `json:"timestamp"` // ms since epoch
}

// Clone returns a deep copy of the ticker (the Stats map is copied).
func (t Ticker) Clone() Ticker {
	out := t
	if t.Stats != nil {
		out.Stats = make(map[string]float64, len(t.Stats))
		for k, v := range t.Stats {
			out.Stats[k] = v
		}
	}
	return out
}

// ————————————————————————————————————————————————————————————————————————
// Snapshot and planner output
// ————————————————————————————————————————————————————————————————————————

// MarketSnapshot is the unified point-in-time view of the market state
// handed to UI/calc consumers. Every map and slice is a copy; mutating a
// snapshot never mutates manager state.
type MarketSnapshot struct {
	IsReady          bool                          `json:"is_ready"`
	IndexPrices      map[string]float64            `json:"index_prices"`
	Tickers          map[string]Ticker             `json:"tickers"`
	Config           []TabConfig                   `json:"config"`
	InstrumentsByTab map[string][]InstrumentRecord `json:"instruments_by_tab"`
}

// StrikePair holds the canonical call and put names at one strike.
// An empty string means that side is not present in the universe.
type StrikePair struct {
	Call string `json:"C"`
	Put  string `json:"P"`
}

// ExpiryStrikes is the per-expiry planner output: the in-window strikes in
// ascending order and the strike-to-names chain.
type ExpiryStrikes struct {
	Strikes []float64               `json:"strikes"`
	Chain   map[float64]*StrikePair `json:"map"`
}

// SubscriptionMap is the planner result keyed by DDMMMYY expiry.
type SubscriptionMap map[string]*ExpiryStrikes

// ————————————————————————————————————————————————————————————————————————
// Canonical-name helpers
// ————————————————————————————————————————————————————————————————————————

// ParseOptionName splits a canonical option name into its four parts.
// Returns ok=false for anything that is not a well-formed option name;
// callers skip such records.
func ParseOptionName(name string) (sym, date string, strike float64, kind OptionKind, ok bool) {
	parts := strings.Split(name, "-")
	if len(parts) != 4 {
		return "", "", 0, "", false
	}
	d, err := decimal.NewFromString(parts[2])
	if err != nil {
		return "", "", 0, "", false
	}
	k := OptionKind(parts[3])
	if k != Call && k != Put {
		return "", "", 0, "", false
	}
	return parts[0], parts[1], d.InexactFloat64(), k, true
}

// FormatStrike renders a strike the canonical way: decimal with
// insignificant trailing zeros stripped (500.00 -> "500", 500.50 -> "500.5").
func FormatStrike(strike float64) string {
	return decimal.NewFromFloat(strike).String()
}

// NormalizeStrike strips trailing zeros from a vendor strike string.
// Returns "" if the input is not a decimal number.
func NormalizeStrike(s string) string {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return ""
	}
	return d.String()
}

// ParseExpiry parses a DDMMMYY token such as "20FEB26" or "7JUN25".
// The month is matched case-insensitively; the result is midnight UTC.
func ParseExpiry(ddmmmyy string) (time.Time, error) {
	if len(ddmmmyy) >= 5 {
		// Go's reference layout wants "Feb", the canonical form carries "FEB".
		i := len(ddmmmyy) - 5
		ddmmmyy = ddmmmyy[:i] + strings.ToUpper(ddmmmyy[i:i+1]) + strings.ToLower(ddmmmyy[i+1:i+3]) + ddmmmyy[i+3:]
	}
	return time.ParseInLocation("2Jan06", ddmmmyy, time.UTC)
}

// FormatExpiry renders a time as the canonical DDMMMYY token.
func FormatExpiry(t time.Time) string {
	return strings.ToUpper(t.Format("2Jan06"))
}
