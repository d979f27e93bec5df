// session.go maintains the streaming session against the gateway's
// WebSocket endpoint.
//
// The loop mirrors the crypto adapter's: auto-reconnect with capped
// exponential backoff, manager notification on every successful connect,
// and session-local dedup state wiped per connection. The gateway echoes
// each subscription's correlation identifier on every data message; that
// identifier is the canonical name, so inbound payloads need no reverse
// translation.
package terminal

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"marketfeed/pkg/types"
)

const (
	reconnectWait    = 2 * time.Second
	maxReconnectWait = 30 * time.Second
	readTimeout      = 90 * time.Second
	writeTimeout     = 10 * time.Second
)

// subscriptionFields is the field set requested for every subscription.
var subscriptionFields = []string{"LAST_PRICE", "BID", "ASK", "SIZE_BID", "SIZE_ASK"}

type subscribeEntry struct {
	Security      string   `json:"security"`
	Fields        []string `json:"fields"`
	CorrelationID string   `json:"correlation_id"`
}

type subscribeMsg struct {
	Type          string           `json:"type"` // "subscribe"
	Subscriptions []subscribeEntry `json:"subscriptions"`
}

type dataMsg struct {
	Type          string `json:"type"`
	CorrelationID string `json:"correlation_id"`
	Fields        struct {
		LastPrice *float64 `json:"LAST_PRICE"`
		Bid       *float64 `json:"BID"`
		Ask       *float64 `json:"ASK"`
		SizeBid   *float64 `json:"SIZE_BID"`
		SizeAsk   *float64 `json:"SIZE_ASK"`
	} `json:"fields"`
}

func fval(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

// Start launches the session worker when a gateway is configured. Idempotent.
func (a *Adapter) Start() {
	if a.cfg.GatewayWSURL == "" {
		a.logger.Warn("no gateway ws endpoint configured, streaming disabled")
		return
	}
	a.startOnce.Do(func() {
		go a.run()
	})
}

// Stop sets the stop flag and closes the transport. Idempotent.
func (a *Adapter) Stop() {
	a.stopOnce.Do(func() {
		close(a.stopCh)
		a.connMu.Lock()
		if a.conn != nil {
			a.conn.Close()
		}
		a.connMu.Unlock()
	})
}

func (a *Adapter) stopped() bool {
	select {
	case <-a.stopCh:
		return true
	default:
		return false
	}
}

func (a *Adapter) run() {
	backoff := reconnectWait

	for {
		err := a.connectAndRead()
		if a.stopped() {
			return
		}

		a.logger.Warn("session disconnected, reconnecting",
			"error", err,
			"backoff", backoff,
		)

		select {
		case <-a.stopCh:
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

func (a *Adapter) connectAndRead() error {
	conn, _, err := websocket.DefaultDialer.Dial(a.cfg.GatewayWSURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	a.connMu.Lock()
	a.conn = conn
	a.connMu.Unlock()

	defer func() {
		a.connected.Store(false)
		a.connMu.Lock()
		conn.Close()
		a.conn = nil
		a.connMu.Unlock()
	}()

	// Fresh session: the gateway holds no subscriptions for us anymore.
	a.subMu.Lock()
	a.active = make(map[string]bool)
	a.subMu.Unlock()

	a.connected.Store(true)
	a.logger.Info("session connected")
	a.sink.OnAdapterReconnect(Name)

	for {
		if a.stopped() {
			return nil
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		a.dispatch(msg)
	}
}

// Subscribe translates canonical names to vendor descriptions, attaches the
// canonical name as the correlation identifier, and sends one batched
// request for the descriptions not yet subscribed this session.
func (a *Adapter) Subscribe(names []string) {
	a.subMu.Lock()
	batch := make([]subscribeEntry, 0, len(names))
	for _, name := range names {
		vendor := a.toVendor(name)
		if vendor == "" || a.active[vendor] {
			continue
		}
		a.active[vendor] = true
		batch = append(batch, subscribeEntry{
			Security:      vendor,
			Fields:        subscriptionFields,
			CorrelationID: name,
		})
	}
	a.subMu.Unlock()

	if len(batch) == 0 {
		return
	}

	if err := a.writeJSON(subscribeMsg{Type: "subscribe", Subscriptions: batch}); err != nil {
		a.logger.Warn("subscribe failed", "securities", len(batch), "error", err)
	}
}

func (a *Adapter) dispatch(msg []byte) {
	var d dataMsg
	if err := json.Unmarshal(msg, &d); err != nil {
		a.logger.Debug("ignoring undecodable message")
		return
	}
	if d.Type != "data" || d.CorrelationID == "" {
		return
	}

	t := types.Ticker{
		InstrumentName: d.CorrelationID,
		LastPrice:      fval(d.Fields.LastPrice),
		BestBidPrice:   fval(d.Fields.Bid),
		BestAskPrice:   fval(d.Fields.Ask),
		BestBidAmount:  fval(d.Fields.SizeBid),
		BestAskAmount:  fval(d.Fields.SizeAsk),
		Timestamp:      time.Now().UnixMilli(),
	}
	if t.LastPrice == 0 && t.BestBidPrice == 0 {
		return
	}
	a.sink.IngestTicker(t)
}

func (a *Adapter) writeJSON(v any) error {
	a.connMu.Lock()
	defer a.connMu.Unlock()
	if a.conn == nil {
		return fmt.Errorf("session not connected")
	}
	a.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return a.conn.WriteJSON(v)
}
