package tests

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gobwas/ws"
	"github.com/gorilla/websocket" // test-side client only
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Kenny427/vault-sub003/cmd/server/internal/gateway"
	"github.com/Kenny427/vault-sub003/cmd/server/internal/hub"
	"github.com/Kenny427/vault-sub003/internal/storage/redisstore"
	"github.com/Kenny427/vault-sub003/pkg/models"
)

// harness wires miniredis, the redis store, the hub and a websocket endpoint
// the way cmd/server/main.go does.
type harness struct {
	srv    *httptest.Server
	redis  *miniredis.Miniredis
	stream *redisstore.Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)

	stream := redisstore.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	wsHub := hub.NewHub(stream, zap.NewNop())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}
		gateway.NewClient(conn, wsHub, zap.NewNop()).Start()
	}))
	t.Cleanup(srv.Close)

	return &harness{srv: srv, redis: mr, stream: stream}
}

func (h *harness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func recv(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	return string(msg)
}

func TestEndToEnd_WatchReceivesPublishedPrice(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)

	send(t, conn, `{"action": "watch", "payload": {"items": ["2"]}, "id": "t1"}`)
	if ack := recv(t, conn); !strings.Contains(ack, "success") {
		t.Fatalf("expected watch ack, got: %s", ack)
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		h.redis.Publish("prices.2", `{"item_id":"2","high":182,"low":178,"last":182}`)
	}()

	if msg := recv(t, conn); !strings.Contains(msg, "182") {
		t.Errorf("expected the published price, got: %s", msg)
	}

	send(t, conn, `{"action": "unwatch", "payload": {"items": ["2"]}, "id": "t2"}`)
	if ack := recv(t, conn); !strings.Contains(ack, "Stopped watching") {
		t.Errorf("expected unwatch ack, got: %s", ack)
	}
}

func TestEndToEnd_WatchDeliversStoredSnapshot(t *testing.T) {
	h := newHarness(t)

	// Seed a snapshot before anyone connects, as a cache refill would.
	err := h.stream.PublishPrices(context.Background(), map[string]models.PriceSnapshot{
		"4151": {ItemID: "4151", High: 1_450_000, Low: 1_440_000, Last: 1_450_000},
	})
	if err != nil {
		t.Fatalf("seed snapshot: %v", err)
	}

	conn := h.dial(t)
	send(t, conn, `{"action": "watch", "payload": {"items": ["4151"]}}`)

	// The ack arrives first, then the stored snapshot.
	if ack := recv(t, conn); !strings.Contains(ack, "success") {
		t.Fatalf("expected ack, got: %s", ack)
	}
	if snap := recv(t, conn); !strings.Contains(snap, "1450000") {
		t.Errorf("expected stored snapshot on watch, got: %s", snap)
	}
}

func TestEndToEnd_MalformedCommand(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)

	send(t, conn, `{ "action": "wat`)

	if msg := recv(t, conn); !strings.Contains(msg, "error") {
		t.Errorf("expected an error response for bad JSON, got: %s", msg)
	}
}

func TestEndToEnd_OversizedFrameDisconnects(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)

	huge := fmt.Sprintf(`{"action":"watch", "payload": {"items": ["%s"]}}`,
		strings.Repeat("7", 513*1024))

	// The write may succeed before the server tears down; the read must fail.
	if err := conn.WriteMessage(websocket.TextMessage, []byte(huge)); err == nil {
		conn.SetReadDeadline(time.Now().Add(time.Second))
		if _, _, err := conn.ReadMessage(); err == nil {
			t.Error("expected the server to drop the connection for an oversized frame")
		}
	}
}
