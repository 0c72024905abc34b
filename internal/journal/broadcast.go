package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"clob-engine/internal/metrics"
	"clob-engine/pkg/types"
)

// Event kinds carried on the broadcast feed.
const (
	KindOrder  = "ORDER"
	KindTrade  = "TRADE"
	KindCancel = "CANCEL"
)

// Envelope is the self-describing broadcast payload: a kind tag, the
// instrument, and the event body. Payloads are self-contained, so a
// subscriber can decode any packet without prior state.
type Envelope struct {
	Kind         string `json:"kind"`
	InstrumentID uint64 `json:"instrument_id"`
	Data         any    `json:"data"`
}

// broadcastOrder is the ORDER payload body: the order snapshot plus a
// rendered dollar price for display consumers.
type broadcastOrder struct {
	types.Order
	PriceDollars string `json:"price_dollars"`
}

// broadcastTrade is the TRADE payload body.
type broadcastTrade struct {
	types.Trade
	PriceDollars string `json:"price_dollars"`
}

// broadcastCancel is the CANCEL payload body.
type broadcastCancel struct {
	OrderID   uint64 `json:"order_id"`
	PartyID   string `json:"party_id"`
	Timestamp int64  `json:"timestamp"`
}

// BroadcastWriter publishes engine events to WebSocket subscribers,
// fire-and-forget. It is lossy by design: a slow subscriber is dropped, a
// full broadcast channel sheds the event, and there are no acknowledgments
// or retries — subscribers that miss a packet resynchronize by rereading
// durable state.
//
// The live-order projection operations and instrument creation are not part
// of the feed; only ORDER, TRADE, and CANCEL packets are published.
type BroadcastWriter struct {
	hub    *Hub
	server *http.Server
	logger *slog.Logger
}

// NewBroadcast builds the writer and its /ws endpoint on the given port.
// Call Start to begin serving.
func NewBroadcast(port int, logger *slog.Logger, m *metrics.Collector) *BroadcastWriter {
	hub := NewHub(logger, m)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.handleWS)

	return &BroadcastWriter{
		hub: hub,
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      mux,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger.With("component", "broadcast-writer"),
	}
}

// Start runs the hub loop and the WebSocket listener. Blocks until the
// server stops.
func (b *BroadcastWriter) Start() error {
	go b.hub.Run()
	b.logger.Info("broadcast server starting", "addr", b.server.Addr)
	if err := b.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("broadcast server: %w", err)
	}
	return nil
}

func (b *BroadcastWriter) publish(kind string, instrumentID uint64, data any) error {
	b.hub.BroadcastEvent(Envelope{Kind: kind, InstrumentID: instrumentID, Data: data})
	return nil
}

func (b *BroadcastWriter) CreateInstrument(types.Instrument) error { return nil }

func (b *BroadcastWriter) RecordOrder(o types.Order) error {
	return b.publish(KindOrder, o.InstrumentID, broadcastOrder{
		Order:        o,
		PriceDollars: types.Dollars(o.PriceCents),
	})
}

func (b *BroadcastWriter) RecordTrade(t types.Trade) error {
	return b.publish(KindTrade, t.InstrumentID, broadcastTrade{
		Trade:        t,
		PriceDollars: types.Dollars(t.PriceCents),
	})
}

func (b *BroadcastWriter) RecordCancel(instrumentID, orderID uint64, partyID string, ts int64) error {
	return b.publish(KindCancel, instrumentID, broadcastCancel{
		OrderID:   orderID,
		PartyID:   partyID,
		Timestamp: ts,
	})
}

func (b *BroadcastWriter) UpsertLiveOrder(types.Order) error { return nil }
func (b *BroadcastWriter) RemoveLiveOrder(uint64, uint64) error { return nil }
func (b *BroadcastWriter) UpdateOrderQuantity(uint64, uint64, int64, int64) error { return nil }
func (b *BroadcastWriter) RecordCounter(uint64) error { return nil }

// IterOrders is empty: the broadcast feed does not participate in replay.
func (b *BroadcastWriter) IterOrders(uint64, func(types.Order) error) error { return nil }

func (b *BroadcastWriter) ListInstruments() ([]types.Instrument, error) { return nil, nil }

func (b *BroadcastWriter) Counter() (uint64, error) { return 0, nil }

// Close shuts the listener down and disconnects all subscribers.
func (b *BroadcastWriter) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := b.server.Shutdown(ctx)
	b.hub.Stop()
	return err
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// Hub manages WebSocket subscribers and fans serialized events out to them.
type Hub struct {
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	stop       chan struct{}
	stopOnce   sync.Once
	count      atomic.Int64
	upgrader   websocket.Upgrader
	logger     *slog.Logger
	metrics    *metrics.Collector
}

// client is one connected subscriber.
type client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates a subscriber hub.
func NewHub(logger *slog.Logger, m *metrics.Collector) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, 256),
		stop:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger:  logger.With("component", "broadcast-hub"),
		metrics: m,
	}
}

// Run is the hub's main loop; call in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
			h.syncCount()
			h.logger.Info("subscriber connected", "client", c.id, "count", len(h.clients))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.syncCount()
			h.logger.Info("subscriber disconnected", "client", c.id, "count", len(h.clients))

		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Subscriber can't keep up; drop it.
					h.metrics.BroadcastDropped.Inc()
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.syncCount()

		case <-h.stop:
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.syncCount()
			return
		}
	}
}

// Stop terminates the hub loop and disconnects all subscribers.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

func (h *Hub) syncCount() {
	h.count.Store(int64(len(h.clients)))
	h.metrics.BroadcastClients.Set(float64(len(h.clients)))
}

// clientCount reports the current subscriber count without touching the
// hub loop's state.
func (h *Hub) clientCount() int {
	return int(h.count.Load())
}

// BroadcastEvent serializes and publishes one envelope. Never blocks: if
// the broadcast channel is full the event is shed.
func (h *Hub) BroadcastEvent(env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		h.logger.Error("failed to marshal broadcast event", "error", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.metrics.BroadcastDropped.Inc()
		h.logger.Warn("broadcast channel full, dropping event", "kind", env.Kind)
	}
}

func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		id:   uuid.NewString(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, 256),
	}
	select {
	case h.register <- c:
	case <-h.stop:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// writePump pumps messages from the hub to the websocket connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains the connection. The feed is one-way; client messages are
// ignored, but the read loop drives pong handling and disconnect detection.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stop:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("websocket error", "client", c.id, "error", err)
			}
			break
		}
	}
}
