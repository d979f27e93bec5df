// Package deribit implements the crypto-derivatives adapter.
//
// Deribit's native option names already follow the canonical grammar
// ({SYM}-{DDMMMYY}-{STRIKE}-{K}), so translation reduces to the exact-map
// directives from the symbol sheet: canonical reference symbols map to
// vendor pairs (BTC -> BTC_USDC) on the way out and back on the way in.
//
// The adapter keeps one long-lived WebSocket session (ws.go) and answers
// the manager's bootstrap calls over REST (client.go).
package deribit

import (
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"

	"marketfeed/internal/adapter"
	"marketfeed/pkg/types"
)

// Name is the source key tabs use to select this adapter.
const Name = "deribit"

// Config holds the vendor endpoints and optional credentials.
type Config struct {
	HTTPURL      string `mapstructure:"http_url"`
	WSURL        string `mapstructure:"ws_url"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
}

// Adapter is the Deribit feed adapter.
type Adapter struct {
	cfg    Config
	sink   adapter.Sink
	sheet  *adapter.SymbolSheet
	http   *resty.Client
	rl     *adapter.TokenBucket
	logger *slog.Logger

	connected atomic.Bool

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}

	connMu sync.Mutex
	conn   *websocket.Conn

	// Session-local subscription state, cleared on every reconnect.
	// active holds vendor channels already sent this session; corr maps a
	// vendor channel back to the canonical name it was subscribed under.
	subMu  sync.Mutex
	active map[string]bool
	corr   map[string]string
}

// New creates the adapter and loads its column of the symbol sheet.
// A missing sheet is fine; a malformed one is logged and ignored.
func New(cfg Config, sheetPath string, sink adapter.Sink, logger *slog.Logger) *Adapter {
	sheet, err := adapter.LoadSymbolSheet(sheetPath, Name)
	if err != nil {
		logger.Warn("symbol sheet unusable, continuing without directives",
			"adapter", Name, "error", err)
	}

	httpClient := resty.New().
		SetBaseURL(cfg.HTTPURL).
		SetTimeout(8 * time.Second).
		SetHeader("Content-Type", "application/json")

	return &Adapter{
		cfg:    cfg,
		sink:   sink,
		sheet:  sheet,
		http:   httpClient,
		rl:     adapter.NewBootstrapLimiter(),
		logger: logger.With("component", "deribit"),
		stopCh: make(chan struct{}),
		active: make(map[string]bool),
		corr:   make(map[string]string),
	}
}

// Connected reports whether the session is streaming.
func (a *Adapter) Connected() bool { return a.connected.Load() }

// ReferenceTickers returns the reference names for a tab in priority order.
// USD-settled tabs watch the stablecoin pair and the linear perp; coin
// tabs watch the inverse perp with the pair as a USD-terms fallback.
func (a *Adapter) ReferenceTickers(cfg types.TabConfig) []string {
	base := cfg.BaseSymbol
	if cfg.Settlement == types.SettlementUSD {
		return []string{base + "_USDC", base + "_USDC-PERPETUAL"}
	}
	return []string{base + "-PERPETUAL", base + "_USDC"}
}

// Channel forms the vendor channel key for a canonical name: top-of-book
// ticker updates at the 100ms cadence.
func (a *Adapter) Channel(name string) string {
	return "ticker." + name + ".100ms"
}

// canonicalFromChannel extracts the instrument name out of a
// "ticker.{name}.100ms" channel key. Returns "" for anything else.
func canonicalFromChannel(ch string) string {
	const prefix, suffix = "ticker.", ".100ms"
	if len(ch) <= len(prefix)+len(suffix) || !strings.HasPrefix(ch, prefix) || !strings.HasSuffix(ch, suffix) {
		return ""
	}
	return ch[len(prefix) : len(ch)-len(suffix)]
}

// vendorChannel rewrites a channel key so the embedded name is the vendor's,
// applying the exact-map directive when one exists.
func (a *Adapter) vendorChannel(ch, canonical string) string {
	vendor, ok := a.sheet.Exact[canonical]
	if !ok {
		return ch
	}
	return "ticker." + vendor + ".100ms"
}
