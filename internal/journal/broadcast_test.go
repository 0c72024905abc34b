package journal

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"clob-engine/internal/metrics"
	"clob-engine/pkg/types"
)

// dialTestHub spins a hub on an httptest server and connects one
// subscriber.
func dialTestHub(t *testing.T) (*Hub, *websocket.Conn) {
	t.Helper()

	hub := NewHub(testLogger(), metrics.NewCollector())
	go hub.Run()
	t.Cleanup(hub.Stop)

	srv := httptest.NewServer(httpHandler(hub))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return hub, conn
}

func TestBroadcastEnvelope(t *testing.T) {
	t.Parallel()
	hub, conn := dialTestHub(t)

	// Registration races the first broadcast; give the hub a beat.
	waitForClients(t, hub)

	hub.BroadcastEvent(Envelope{
		Kind:         KindTrade,
		InstrumentID: 100,
		Data: broadcastTrade{
			Trade: types.Trade{
				InstrumentID: 100,
				PriceCents:   10000,
				Quantity:     3,
				MakerOrderID: 1,
				TakerOrderID: 2,
			},
			PriceDollars: types.Dollars(10000),
		},
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	// The payload is self-describing: kind, instrument, body.
	var env struct {
		Kind         string          `json:"kind"`
		InstrumentID uint64          `json:"instrument_id"`
		Data         json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(msg, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.Kind != KindTrade || env.InstrumentID != 100 {
		t.Errorf("envelope = %s/%d, want TRADE/100", env.Kind, env.InstrumentID)
	}

	var body struct {
		Quantity     int64  `json:"quantity"`
		PriceDollars string `json:"price_dollars"`
	}
	if err := json.Unmarshal(env.Data, &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Quantity != 3 || body.PriceDollars != "100.00" {
		t.Errorf("body = %+v, want qty 3 at $100.00", body)
	}
}

func TestBroadcastWriterKinds(t *testing.T) {
	t.Parallel()

	w := NewBroadcast(0, testLogger(), metrics.NewCollector())
	go w.hub.Run()
	t.Cleanup(w.hub.Stop)

	srv := httptest.NewServer(httpHandler(w.hub))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	waitForClients(t, w.hub)

	if err := w.RecordOrder(testOrder(1, 5)); err != nil {
		t.Fatal(err)
	}
	if err := w.RecordCancel(100, 1, "A", 42); err != nil {
		t.Fatal(err)
	}
	// Projection updates are not part of the feed.
	if err := w.UpsertLiveOrder(testOrder(1, 5)); err != nil {
		t.Fatal(err)
	}

	wantKinds := []string{KindOrder, KindCancel}
	for _, want := range wantKinds {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read %s: %v", want, err)
		}
		var env Envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			t.Fatal(err)
		}
		if env.Kind != want {
			t.Errorf("kind = %s, want %s", env.Kind, want)
		}
	}
}

// httpHandler mounts the hub's /ws endpoint for httptest servers.
func httpHandler(h *Hub) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.handleWS)
	return mux
}

func waitForClients(t *testing.T, hub *Hub) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.clientCount() > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("subscriber never registered")
}
