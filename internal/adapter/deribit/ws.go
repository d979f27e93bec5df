// ws.go maintains the Deribit WebSocket session.
//
// One long-lived JSON-RPC connection carries every subscription. The loop
// auto-reconnects with capped exponential backoff (2s → 30s) and signals the
// manager on every successful connect so callers re-plan subscriptions.
// Session-local subscription state is cleared on each reconnect: the next
// planner call re-sends the full channel list.
//
// Server heartbeats are enabled on connect; a read deadline (90s) ensures a
// silent server triggers reconnect even if heartbeats stop arriving.
package deribit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"marketfeed/pkg/types"
)

const (
	reconnectWait    = 2 * time.Second  // initial backoff
	maxReconnectWait = 30 * time.Second // cap on exponential backoff
	readTimeout      = 90 * time.Second // ~3 missed heartbeats triggers reconnect
	writeTimeout     = 10 * time.Second // deadline for outgoing messages
	heartbeatSec     = 30               // server heartbeat interval requested on connect

	subscribeID = 10
	heartbeatID = 11
	authID      = 99
)

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcEnvelope struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Error  *rpcError       `json:"error"`
	Params json.RawMessage `json:"params"`
}

type subscriptionParams struct {
	Channel string   `json:"channel"`
	Data    wsTicker `json:"data"`
}

type heartbeatParams struct {
	Type string `json:"type"`
}

// wsTicker is the vendor ticker payload. Pointer fields survive JSON nulls
// on instruments that have never traded.
type wsTicker struct {
	BestBidPrice  *float64            `json:"best_bid_price"`
	BestBidAmount *float64            `json:"best_bid_amount"`
	BestAskPrice  *float64            `json:"best_ask_price"`
	BestAskAmount *float64            `json:"best_ask_amount"`
	LastPrice     *float64            `json:"last_price"`
	IndexPrice    *float64            `json:"index_price"`
	Timestamp     int64               `json:"timestamp"`
	Stats         map[string]*float64 `json:"stats"`
}

func fval(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

func (w wsTicker) toTicker(name string) types.Ticker {
	t := types.Ticker{
		InstrumentName: name,
		BestBidPrice:   fval(w.BestBidPrice),
		BestBidAmount:  fval(w.BestBidAmount),
		BestAskPrice:   fval(w.BestAskPrice),
		BestAskAmount:  fval(w.BestAskAmount),
		LastPrice:      fval(w.LastPrice),
		IndexPrice:     fval(w.IndexPrice),
		Timestamp:      w.Timestamp,
	}
	if len(w.Stats) > 0 {
		t.Stats = make(map[string]float64, len(w.Stats))
		for k, v := range w.Stats {
			if v != nil {
				t.Stats[k] = *v
			}
		}
	}
	return t
}

// Start launches the session worker. Idempotent.
func (a *Adapter) Start() {
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

// run connects and maintains the session until Stop.
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
	conn, _, err := websocket.DefaultDialer.Dial(a.cfg.WSURL, nil)
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

	// Fresh session: previous subscriptions are gone server-side, so the
	// dedup state starts empty and the next planner call re-sends everything.
	a.subMu.Lock()
	a.active = make(map[string]bool)
	a.corr = make(map[string]string)
	a.subMu.Unlock()

	if a.cfg.ClientID != "" {
		auth := rpcRequest{
			JSONRPC: "2.0",
			ID:      authID,
			Method:  "public/auth",
			Params: map[string]string{
				"grant_type":    "client_credentials",
				"client_id":     a.cfg.ClientID,
				"client_secret": a.cfg.ClientSecret,
			},
		}
		if err := a.writeJSON(auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	hb := rpcRequest{
		JSONRPC: "2.0",
		ID:      heartbeatID,
		Method:  "public/set_heartbeat",
		Params:  map[string]int{"interval": heartbeatSec},
	}
	if err := a.writeJSON(hb); err != nil {
		return fmt.Errorf("set heartbeat: %w", err)
	}

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

		if err := a.dispatch(msg); err != nil {
			return err
		}
	}
}

// Subscribe translates channels to vendor form, drops the ones already sent
// this session, and sends one batched request for the rest. The canonical
// name embedded in each channel is recorded as its correlation so inbound
// data is re-tagged before it reaches the manager.
func (a *Adapter) Subscribe(channels []string) {
	a.subMu.Lock()
	batch := make([]string, 0, len(channels))
	for _, ch := range channels {
		canonical := canonicalFromChannel(ch)
		vendorCh := ch
		if canonical != "" {
			vendorCh = a.vendorChannel(ch, canonical)
		}
		if a.active[vendorCh] {
			continue
		}
		a.active[vendorCh] = true
		if canonical != "" {
			a.corr[vendorCh] = canonical
		}
		batch = append(batch, vendorCh)
	}
	a.subMu.Unlock()

	if len(batch) == 0 {
		return
	}

	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      subscribeID,
		Method:  "public/subscribe",
		Params:  map[string][]string{"channels": batch},
	}
	if err := a.writeJSON(req); err != nil {
		a.logger.Warn("subscribe failed", "channels", len(batch), "error", err)
	}
}

func (a *Adapter) dispatch(msg []byte) error {
	var env rpcEnvelope
	if err := json.Unmarshal(msg, &env); err != nil {
		a.logger.Debug("ignoring undecodable message")
		return nil
	}

	if env.Error != nil {
		if env.ID == authID {
			// Treated as transient: drop the session and retry via backoff.
			return fmt.Errorf("auth rejected: %d %s", env.Error.Code, env.Error.Message)
		}
		a.logger.Warn("rpc error", "id", env.ID, "code", env.Error.Code, "message", env.Error.Message)
		return nil
	}

	switch env.Method {
	case "subscription":
		var params subscriptionParams
		if err := json.Unmarshal(env.Params, &params); err != nil {
			a.logger.Debug("ignoring undecodable subscription payload")
			return nil
		}

		a.subMu.Lock()
		canonical, ok := a.corr[params.Channel]
		a.subMu.Unlock()
		if !ok {
			// Not one of ours; never let a vendor-native name through.
			a.logger.Debug("dropping uncorrelated channel", "channel", params.Channel)
			return nil
		}

		t := params.Data.toTicker(canonical)
		if t.LastPrice == 0 && t.BestBidPrice == 0 {
			return nil
		}
		a.sink.IngestTicker(t)

	case "heartbeat":
		var params heartbeatParams
		if err := json.Unmarshal(env.Params, &params); err == nil && params.Type == "test_request" {
			pong := rpcRequest{JSONRPC: "2.0", Method: "public/test"}
			if err := a.writeJSON(pong); err != nil {
				a.logger.Warn("heartbeat reply failed", "error", err)
			}
		}
	}
	return nil
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
