// Package terminal implements the adapter for the terminal-based
// institutional data service.
//
// The native desktop SDK is not linkable from this process, so the adapter
// talks to the terminal through its local gateway bridge: reference-data
// requests (chains, last prices) over the gateway's HTTP endpoint and the
// live subscription stream over its WebSocket endpoint. When no gateway is
// configured the manager omits the adapter at startup.
//
// Every subscription carries the canonical name as its correlation
// identifier. Inbound data is keyed by that identifier alone, so the
// vendor's security descriptions never reach the manager.
package terminal

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"

	"marketfeed/internal/adapter"
	"marketfeed/pkg/types"
)

// Name is the source key tabs use to select this adapter.
const Name = "terminal"

// Config holds the gateway bridge endpoints.
type Config struct {
	GatewayHTTPURL string `mapstructure:"gateway_http_url"`
	GatewayWSURL   string `mapstructure:"gateway_ws_url"`
}

// Enabled reports whether a gateway is configured at all.
func (c Config) Enabled() bool {
	return c.GatewayHTTPURL != "" || c.GatewayWSURL != ""
}

// Adapter is the terminal feed adapter.
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

	// Session-local subscription state, cleared on every reconnect. active
	// is keyed by vendor security description so each one goes to the
	// transport at most once per session.
	subMu  sync.Mutex
	active map[string]bool
}

// New creates the adapter and loads its column of the symbol sheet. When
// the sheet carries no directives for this adapter the built-in index and
// future-prefix defaults apply.
func New(cfg Config, sheetPath string, sink adapter.Sink, logger *slog.Logger) *Adapter {
	sheet, err := adapter.LoadSymbolSheet(sheetPath, Name)
	if err != nil {
		logger.Warn("symbol sheet unusable, continuing with defaults",
			"adapter", Name, "error", err)
	}
	if len(sheet.Exact) == 0 && len(sheet.Index) == 0 && len(sheet.FuturePrefixes) == 0 {
		for _, s := range defaultIndexSymbols {
			sheet.Index[s] = true
		}
		for _, s := range defaultFuturePrefixes {
			sheet.FuturePrefixes[s] = true
		}
	}

	httpClient := resty.New().
		SetBaseURL(cfg.GatewayHTTPURL).
		SetTimeout(8 * time.Second).
		SetHeader("Content-Type", "application/json")

	return &Adapter{
		cfg:    cfg,
		sink:   sink,
		sheet:  sheet,
		http:   httpClient,
		rl:     adapter.NewBootstrapLimiter(),
		logger: logger.With("component", "terminal"),
		stopCh: make(chan struct{}),
		active: make(map[string]bool),
	}
}

// Connected reports whether the session is streaming.
func (a *Adapter) Connected() bool { return a.connected.Load() }

// ReferenceTickers returns the reference names for a tab. The terminal
// keys everything off the base symbol; translation to the vendor's
// description happens inside the adapter.
func (a *Adapter) ReferenceTickers(cfg types.TabConfig) []string {
	return []string{cfg.BaseSymbol}
}

// Channel passes canonical names through unchanged: the adapter translates
// internally when subscribing.
func (a *Adapter) Channel(name string) string { return name }
