package hub_test

import (
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/Kenny427/vault-sub003/cmd/server/internal/hub"
	"github.com/Kenny427/vault-sub003/cmd/server/internal/protocol"
	"github.com/Kenny427/vault-sub003/cmd/server/internal/testutils"
)

func setup() (*hub.Hub, *testutils.MockPriceStream) {
	stream := testutils.NewMockStream()
	logger := zap.NewNop()
	return hub.NewHub(stream, logger), stream
}

func TestHub_Watch_Success(t *testing.T) {
	h, stream := setup()
	client := testutils.NewMockClient("c1")

	req := protocol.WSRequest{
		Action:  "watch",
		Payload: protocol.RequestPayload{Items: []string{"2"}},
		ID:      "req-1",
	}

	h.HandleCommand(client, req)

	if client.LastMsgType() != "ack" {
		t.Errorf("Expected ack, got %s", client.LastMsgType())
	}

	if stream.SubscribedChannels["2"] != 1 {
		t.Errorf("Expected Redis subscription to item 2")
	}
}

func TestHub_Watch_MixedValidity(t *testing.T) {
	h, _ := setup()
	client := testutils.NewMockClient("c1")

	req := protocol.WSRequest{
		Action:  "watch",
		Payload: protocol.RequestPayload{Items: []string{"2", "dragon-bones", "-5"}},
		ID:      "req-2",
	}

	h.HandleCommand(client, req)

	lastMsg := client.Messages[len(client.Messages)-1]
	if lastMsg.Status != "success" {
		t.Errorf("Expected success for partially valid watch request")
	}
	if !strings.Contains(lastMsg.Message, "2") {
		t.Errorf("Response should contain accepted item id 2")
	}
	if strings.Contains(lastMsg.Message, "dragon-bones") {
		t.Errorf("Response should NOT contain non-numeric item id")
	}
}

func TestHub_Watch_Idempotency(t *testing.T) {
	h, stream := setup()
	client := testutils.NewMockClient("c1")
	req := protocol.WSRequest{
		Action: "watch", Payload: protocol.RequestPayload{Items: []string{"2"}},
	}

	h.HandleCommand(client, req)

	h.HandleCommand(client, req)

	// Redis should still have count 1, not 2
	if stream.SubscribedChannels["2"] != 1 {
		t.Errorf("Redis should only subscribe once per unique item")
	}
}

func TestHub_Unwatch_Logic(t *testing.T) {
	h, stream := setup()
	client := testutils.NewMockClient("c1")

	h.HandleCommand(client, protocol.WSRequest{
		Action: "watch", Payload: protocol.RequestPayload{Items: []string{"2", "4151"}},
	})

	h.HandleCommand(client, protocol.WSRequest{
		Action: "unwatch", Payload: protocol.RequestPayload{Items: []string{"2"}},
	})

	if stream.SubscribedChannels["2"] != 0 {
		t.Errorf("Redis should be unsubscribed from item 2")
	}
	if stream.SubscribedChannels["4151"] != 1 {
		t.Errorf("Redis should still be subscribed to item 4151")
	}
}

func TestHub_Unwatch_NotWatching(t *testing.T) {
	h, _ := setup()
	client := testutils.NewMockClient("c1")

	h.HandleCommand(client, protocol.WSRequest{
		Action: "unwatch", Payload: protocol.RequestPayload{Items: []string{"561"}},
		ID: "err-check",
	})

	lastMsg := client.Messages[len(client.Messages)-1]
	if lastMsg.Type != "error" {
		t.Errorf("Expected error response for unwatching an unwatched item")
	}
}

func TestHub_UnwatchAll(t *testing.T) {
	h, stream := setup()
	client := testutils.NewMockClient("c1")

	h.HandleCommand(client, protocol.WSRequest{
		Action: "watch", Payload: protocol.RequestPayload{Items: []string{"2", "4151"}},
	})

	h.HandleCommand(client, protocol.WSRequest{Action: "unwatch_all"})

	if len(stream.SubscribedChannels) != 0 {
		t.Errorf("Stream should be empty after unwatch_all")
	}
}

func TestHub_RaceCondition(t *testing.T) {
	// Run with `go test -race ./...`
	h, _ := setup()
	client := testutils.NewMockClient("c1")

	go func() {
		h.HandleCommand(client, protocol.WSRequest{Action: "watch", Payload: protocol.RequestPayload{Items: []string{"2"}}})
	}()
	go func() {
		h.HandleCommand(client, protocol.WSRequest{Action: "unwatch", Payload: protocol.RequestPayload{Items: []string{"2"}}})
	}()
	go func() {
		h.Unregister(client)
	}()
}
