// Package coinvera provides clients for the Coinvera trade stream and price
// API.
package coinvera

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pingPeriod keeps the upstream from dropping idle connections.
	pingPeriod = 10 * time.Second

	// pongWait is the time allowed to read the next pong message. Must be
	// greater than pingPeriod.
	pongWait = 25 * time.Second

	// reconnectDelay is the fixed pause before every reconnection attempt.
	reconnectDelay = 5 * time.Second
)

// TradeNotification is one trade message from the Coinvera stream.
type TradeNotification struct {
	Signature   string          `json:"signature"`
	Signer      string          `json:"signer"`
	Dexs        []string        `json:"dexs"`
	Mint        string          `json:"ca"`
	Trade       string          `json:"trade"`
	PriceInSol  decimal.Decimal `json:"priceInSol"`
	SolAmount   decimal.Decimal `json:"solAmount"`
	TokenAmount decimal.Decimal `json:"tokenAmount"`
}

// TradeHandler is called for every trade notification received.
type TradeHandler func(TradeNotification)

type subscribeCmd struct {
	APIKey string   `json:"apiKey"`
	Method string   `json:"method"`
	Tokens []string `json:"tokens"`
}

// WSClient is a WebSocket client for the Coinvera trade stream. It
// resubscribes tracked wallets after every reconnect.
type WSClient struct {
	wsURL  string
	apiKey string
	conn   *websocket.Conn

	mu     sync.RWMutex
	closed bool

	// Tracked subscriptions for reconnection.
	subscribedWallets []string

	handlers  []TradeHandler
	handlerMu sync.RWMutex

	// reconnectWait is reconnectDelay, overridable in tests.
	reconnectWait time.Duration

	// done is closed when the client shuts down.
	done chan struct{}
}

// NewWSClient creates a new Coinvera WebSocket client.
//
// wsURL is the stream endpoint, e.g. "wss://api.coinvera.io".
func NewWSClient(wsURL, apiKey string) *WSClient {
	return &WSClient{
		wsURL:         wsURL,
		apiKey:        apiKey,
		reconnectWait: reconnectDelay,
		done:          make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection and restores subscriptions.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("coinvera/ws: client is closed")
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("coinvera/ws: connect: %w", err)
	}

	w.conn = conn

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// Each loop is bound to the connection it was started for. A loop that
	// outlives a reconnect must never touch the replacement connection.
	go w.readLoop(conn)
	go w.pingLoop(conn)

	if len(w.subscribedWallets) > 0 {
		if err := w.sendSubscribe(w.subscribedWallets); err != nil {
			return fmt.Errorf("coinvera/ws: restore subscriptions: %w", err)
		}
	}

	return nil
}

// Subscribe starts streaming trades signed by the given wallets.
func (w *WSClient) Subscribe(ctx context.Context, wallets []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("coinvera/ws: not connected")
	}

	if err := w.sendSubscribe(wallets); err != nil {
		return fmt.Errorf("coinvera/ws: subscribe: %w", err)
	}

	existing := make(map[string]struct{}, len(w.subscribedWallets))
	for _, wlt := range w.subscribedWallets {
		existing[wlt] = struct{}{}
	}
	for _, wlt := range wallets {
		if _, ok := existing[wlt]; !ok {
			w.subscribedWallets = append(w.subscribedWallets, wlt)
		}
	}

	return nil
}

// OnTrade registers a handler called for every trade notification.
func (w *WSClient) OnTrade(handler TradeHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.handlers = append(w.handlers, handler)
}

// Close shuts down the WebSocket connection.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true
	close(w.done)

	if w.conn != nil {
		_ = w.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return w.conn.Close()
	}

	return nil
}

// sendSubscribe sends a subscribe command. Caller must hold w.mu.
func (w *WSClient) sendSubscribe(wallets []string) error {
	cmd := subscribeCmd{
		APIKey: w.apiKey,
		Method: "subscribeTrade",
		Tokens: wallets,
	}

	w.conn.SetWriteDeadline(time.Now().Add(writeWait))

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal subscribe: %w", err)
	}

	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop reads messages from conn and dispatches them to handlers. On
// disconnect it closes conn, attempts reconnection, and exits; the reconnect
// spawns fresh loops for the replacement connection.
func (w *WSClient) readLoop(conn *websocket.Conn) {
	defer conn.Close()

	for {
		select {
		case <-w.done:
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
				return
			default:
			}

			w.reconnect()
			return
		}

		w.handleMessage(message)
	}
}

// pingLoop sends periodic pings on conn to keep it alive. It exits on the
// first write failure; the read loop owns reconnection.
func (w *WSClient) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage parses a raw message and routes it. Non-trade frames
// (subscription acks, status messages) have no signature and are dropped.
func (w *WSClient) handleMessage(raw []byte) {
	var notif TradeNotification
	if err := json.Unmarshal(raw, &notif); err != nil {
		return
	}
	if notif.Signature == "" || notif.Signer == "" {
		return
	}

	w.handlerMu.RLock()
	handlers := w.handlers
	w.handlerMu.RUnlock()

	for _, h := range handlers {
		h(notif)
	}
}

// reconnect re-establishes the connection after the fixed delay, retrying
// until it succeeds or the client is closed.
func (w *WSClient) reconnect() {
	for {
		select {
		case <-w.done:
			return
		default:
		}

		time.Sleep(w.reconnectWait)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := w.Connect(ctx)
		cancel()

		if err == nil {
			return
		}
	}
}
