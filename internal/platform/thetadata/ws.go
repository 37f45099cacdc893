package thetadata

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/optflow/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// QuoteHandler is called for every option quote received on the stream.
type QuoteHandler func(domain.MarketQuote)

// TradeHandler is called for every option trade received on the stream.
type TradeHandler func(domain.Trade)

// StateHandler is called when the stream disconnects or reconnects.
type StateHandler func(connected bool)

// WSClient is a WebSocket client for the ThetaData option stream. It manages
// the connection lifecycle and subscriptions and dispatches decoded messages
// to registered handlers.
type WSClient struct {
	wsURL string
	conn  *websocket.Conn

	mu     sync.RWMutex
	closed bool

	// Subscriptions to restore on reconnect.
	subscriptions []WSCommand

	// Reconnect backoff bounds; defaults applied in NewWSClient.
	reconnectBase time.Duration
	reconnectMax  time.Duration

	handlerMu     sync.RWMutex
	quoteHandlers []QuoteHandler
	tradeHandlers []TradeHandler
	stateHandlers []StateHandler

	// done is closed when the client is shut down.
	done chan struct{}
}

// NewWSClient creates a WebSocket client for the given stream URL,
// e.g. "ws://127.0.0.1:25520/v1/events".
func NewWSClient(wsURL string) *WSClient {
	return &WSClient{
		wsURL:         wsURL,
		reconnectBase: reconnectDelay,
		reconnectMax:  maxReconnectDelay,
		done:          make(chan struct{}),
	}
}

// SetReconnectBackoff overrides the reconnect backoff bounds. Non-positive
// values keep the defaults. Must be called before Connect.
func (w *WSClient) SetReconnectBackoff(base, max time.Duration) {
	if base > 0 {
		w.reconnectBase = base
	}
	if max > 0 {
		w.reconnectMax = max
	}
	if w.reconnectMax < w.reconnectBase {
		w.reconnectMax = w.reconnectBase
	}
}

// Connect establishes the WebSocket connection and starts the read and ping
// loops. Previously registered subscriptions are replayed.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("thetadata/ws: %w", domain.ErrWSDisconnect)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("thetadata/ws: connect: %w", err)
	}

	w.conn = conn

	// Set up pong handler for keep-alive.
	w.conn.SetReadDeadline(time.Now().Add(pongWait))
	w.conn.SetPongHandler(func(string) error {
		w.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go w.readLoop()
	go w.pingLoop()

	// Restore any previous subscriptions after reconnect.
	for _, cmd := range w.subscriptions {
		if err := w.sendCommand(cmd); err != nil {
			return fmt.Errorf("thetadata/ws: restore subscription: %w", err)
		}
	}

	return nil
}

// Subscribe subscribes to bulk option quotes and trades for the given roots.
func (w *WSClient) Subscribe(ctx context.Context, roots []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("thetadata/ws: not connected")
	}

	for _, reqType := range []string{"QUOTE", "TRADE"} {
		cmd := WSCommand{
			MsgType: "STREAM_BULK",
			SecType: "OPTION",
			ReqType: reqType,
			Roots:   roots,
		}

		if err := w.sendCommand(cmd); err != nil {
			return fmt.Errorf("thetadata/ws: subscribe %s: %w", reqType, err)
		}

		// Track subscription for reconnection.
		w.subscriptions = append(w.subscriptions, cmd)
	}

	return nil
}

// Close shuts down the WebSocket connection and stops the read loop.
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

// OnQuote registers a handler called for every decoded option quote.
func (w *WSClient) OnQuote(handler QuoteHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.quoteHandlers = append(w.quoteHandlers, handler)
}

// OnTrade registers a handler called for every decoded option trade.
func (w *WSClient) OnTrade(handler TradeHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.tradeHandlers = append(w.tradeHandlers, handler)
}

// OnStateChange registers a handler called on disconnect (false) and after a
// successful reconnect (true).
func (w *WSClient) OnStateChange(handler StateHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.stateHandlers = append(w.stateHandlers, handler)
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

// sendCommand sends a JSON command to the WebSocket. Caller must hold w.mu.
func (w *WSClient) sendCommand(cmd WSCommand) error {
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop continuously reads messages from the WebSocket and dispatches
// them to the appropriate handlers. It runs in its own goroutine.
// On disconnect, it attempts to reconnect with exponential backoff.
func (w *WSClient) readLoop() {
	defer func() {
		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()
		if conn != nil {
			conn.Close()
		}
	}()

	for {
		select {
		case <-w.done:
			return
		default:
		}

		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()

		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			// Check if we've been shut down.
			select {
			case <-w.done:
				return
			default:
			}

			w.notifyState(false)
			w.reconnect()
			return // readLoop is restarted by reconnect -> Connect
		}

		w.handleMessage(message)
	}
}

// pingLoop sends periodic ping messages to keep the WebSocket alive.
func (w *WSClient) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.mu.RLock()
			conn := w.conn
			w.mu.RUnlock()

			if conn == nil {
				return
			}

			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage parses a raw stream message and routes it by header type.
func (w *WSClient) handleMessage(raw []byte) {
	var env wireEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return // Silently drop unparseable messages.
	}

	switch env.Header.Type {
	case "QUOTE":
		if env.Quote == nil {
			return
		}
		quote := QuoteToDomain(env.Contract, env.Quote)

		w.handlerMu.RLock()
		handlers := w.quoteHandlers
		w.handlerMu.RUnlock()

		for _, h := range handlers {
			h(quote)
		}

	case "TRADE":
		if env.Trade == nil {
			return
		}
		trade := TradeToDomain(env.Contract, env.Trade)

		w.handlerMu.RLock()
		handlers := w.tradeHandlers
		w.handlerMu.RUnlock()

		for _, h := range handlers {
			h(trade)
		}
	}
}

// notifyState fires the state-change handlers.
func (w *WSClient) notifyState(connected bool) {
	w.handlerMu.RLock()
	handlers := w.stateHandlers
	w.handlerMu.RUnlock()

	for _, h := range handlers {
		h(connected)
	}
}

// reconnect attempts to re-establish the WebSocket connection with
// exponential backoff. It blocks until successful or the client is closed.
func (w *WSClient) reconnect() {
	delay := w.reconnectBase

	for {
		select {
		case <-w.done:
			return
		default:
		}

		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := w.Connect(ctx)
		cancel()

		if err == nil {
			w.notifyState(true)
			return
		}

		// Exponential backoff.
		delay *= 2
		if delay > w.reconnectMax {
			delay = w.reconnectMax
		}
	}
}
