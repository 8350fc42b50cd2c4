package redisstore_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/Kenny427/vault-sub003/internal/storage/redisstore"
	"github.com/Kenny427/vault-sub003/pkg/models"
)

func newTestStore(t *testing.T) (*redisstore.Store, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return redisstore.New(rdb), mr
}

func TestStore_PublishPricesAndGetSnapshots(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	prices := map[string]models.PriceSnapshot{
		"2":    {ItemID: "2", High: 182, Low: 178, Last: 182},
		"4151": {ItemID: "4151", High: 1_450_000, Low: 1_420_000, Last: 1_450_000},
	}
	if err := store.PublishPrices(ctx, prices); err != nil {
		t.Fatalf("publish prices failed: %v", err)
	}

	snaps, err := store.GetSnapshots(ctx, []string{"2", "4151", "999"})
	if err != nil {
		t.Fatalf("get snapshots failed: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("expected 2 snapshots (missing key skipped), got %d", len(snaps))
	}
	joined := strings.Join(snaps, "\n")
	if !strings.Contains(joined, `"4151"`) || !strings.Contains(joined, "1450000") {
		t.Errorf("snapshot payload missing expected fields: %s", joined)
	}
}

func TestStore_PubSubRoundTrip(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	if err := store.SubscribeToFeed(ctx, "2"); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	got := make(chan [2]string, 1)
	go store.RunPubSub(ctx, func(itemID, payload string) {
		got <- [2]string{itemID, payload}
	})

	time.Sleep(50 * time.Millisecond)
	mr.Publish("prices.2", `{"item_id":"2","last":181}`)

	select {
	case msg := <-got:
		if msg[0] != "2" {
			t.Errorf("item id = %q, want %q", msg[0], "2")
		}
		if !strings.Contains(msg[1], "181") {
			t.Errorf("payload = %q, want price 181", msg[1])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message received from pubsub")
	}
}

func TestStore_UnsubscribeStopsDelivery(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	if err := store.SubscribeToFeed(ctx, "2"); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	if err := store.UnsubscribeFromFeed(ctx, "2"); err != nil {
		t.Fatalf("unsubscribe failed: %v", err)
	}

	got := make(chan [2]string, 1)
	go store.RunPubSub(ctx, func(itemID, payload string) {
		got <- [2]string{itemID, payload}
	})

	time.Sleep(50 * time.Millisecond)
	mr.Publish("prices.2", `{"item_id":"2","last":181}`)

	select {
	case msg := <-got:
		t.Fatalf("received message after unsubscribe: %v", msg)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestStore_PublishPosition(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	pos := models.Position{UserID: "u1", ItemID: 2, Quantity: 15, AvgBuyPrice: 110}
	if err := store.PublishPosition(ctx, pos); err != nil {
		t.Fatalf("publish position failed: %v", err)
	}

	raw, err := mr.Get("position:u1:2")
	if err != nil {
		t.Fatalf("position key missing: %v", err)
	}
	if !strings.Contains(raw, `"quantity":15`) {
		t.Errorf("stored position payload unexpected: %s", raw)
	}
}
