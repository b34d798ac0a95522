package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"polymirror/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// readWait is the time allowed between messages before the connection
	// is considered dead. The feed is chatty enough that silence means
	// trouble.
	readWait = 90 * time.Second

	// pingPeriod sends pings to the peer at this interval.
	pingPeriod = 30 * time.Second

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// TradeHandler is called for every orders_matched event from a tracked
// wallet. Handlers must not block; they run on the read loop.
type TradeHandler func(domain.PublicTrade)

// LiveFeed streams global fill events from the Polymarket live-data
// WebSocket and forwards those belonging to tracked wallets. It is the
// low-latency complement to Data API polling: the poller guarantees
// nothing is missed, the feed shaves seconds off detection.
type LiveFeed struct {
	wsURL   string
	conn    *websocket.Conn
	tracked map[string]struct{} // lowercase wallet addresses

	mu     sync.RWMutex
	closed bool

	handlers  []TradeHandler
	handlerMu sync.RWMutex

	// done is closed when the feed is shut down.
	done chan struct{}
}

// NewLiveFeed creates a feed filtering for the given wallets.
//
// wsURL is the live-data endpoint, e.g. "wss://ws-live-data.polymarket.com".
func NewLiveFeed(wsURL string, wallets []string) *LiveFeed {
	tracked := make(map[string]struct{}, len(wallets))
	for _, w := range wallets {
		tracked[strings.ToLower(w)] = struct{}{}
	}
	return &LiveFeed{
		wsURL:   wsURL,
		tracked: tracked,
		done:    make(chan struct{}),
	}
}

// OnTrade registers a handler for tracked-wallet fills.
func (f *LiveFeed) OnTrade(handler TradeHandler) {
	f.handlerMu.Lock()
	defer f.handlerMu.Unlock()
	f.handlers = append(f.handlers, handler)
}

// Connect establishes the WebSocket connection and subscribes to the
// activity topic. The read loop runs until Close.
func (f *LiveFeed) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return fmt.Errorf("polymarket/ws: %w", domain.ErrWSDisconnect)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}
	headers := http.Header{}
	headers.Set("Origin", "https://polymarket.com")

	conn, _, err := dialer.DialContext(ctx, f.wsURL, headers)
	if err != nil {
		return fmt.Errorf("polymarket/ws: connect: %w", err)
	}
	f.conn = conn

	conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readWait))
		return nil
	})

	if err := f.subscribe(); err != nil {
		conn.Close()
		return err
	}

	go f.readLoop()
	go f.pingLoop()

	return nil
}

// Close shuts down the connection and stops the read loop.
func (f *LiveFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true
	close(f.done)

	if f.conn != nil {
		_ = f.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return f.conn.Close()
	}
	return nil
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

// subscribe sends the activity subscription. Caller must hold f.mu.
func (f *LiveFeed) subscribe() error {
	cmd := wsCommand{
		Action: "subscribe",
		Subscriptions: []wsSubscription{
			{Topic: "activity", Type: "orders_matched"},
		},
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeWait))
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("polymarket/ws: marshal subscribe: %w", err)
	}
	if err := f.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("polymarket/ws: subscribe: %w", err)
	}
	return nil
}

// readLoop reads and dispatches messages until disconnect, then attempts
// reconnection with exponential backoff.
func (f *LiveFeed) readLoop() {
	for {
		select {
		case <-f.done:
			return
		default:
		}

		f.mu.RLock()
		conn := f.conn
		f.mu.RUnlock()
		if conn == nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(readWait))
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-f.done:
				return
			default:
			}
			f.reconnect()
			return // a new readLoop starts from Connect
		}

		f.handleMessage(message)
	}
}

// pingLoop keeps the connection alive.
func (f *LiveFeed) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-f.done:
			return
		case <-ticker.C:
			f.mu.RLock()
			conn := f.conn
			f.mu.RUnlock()
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

// handleMessage parses an event and forwards tracked-wallet fills.
func (f *LiveFeed) handleMessage(raw []byte) {
	var msg wsOrdersMatched
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Type != "orders_matched" {
		return // silently drop everything that is not a fill
	}

	if _, ok := f.tracked[strings.ToLower(msg.Payload.ProxyWallet)]; !ok {
		return
	}

	trade := msg.ToPublicTrade()

	f.handlerMu.RLock()
	handlers := f.handlers
	f.handlerMu.RUnlock()
	for _, h := range handlers {
		h(trade)
	}
}

// reconnect re-establishes the connection with exponential backoff. It
// blocks until successful or the feed is closed.
func (f *LiveFeed) reconnect() {
	delay := reconnectDelay

	for {
		select {
		case <-f.done:
			return
		default:
		}

		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := f.Connect(ctx)
		cancel()
		if err == nil {
			return
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}
