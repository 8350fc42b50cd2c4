package testutils

import (
	"context"
	"sync"

	"github.com/Kenny427/vault-sub003/cmd/server/internal/protocol"
)

// MockClient simulates a connected websocket client
type MockClient struct {
	IDVal    string
	Messages []protocol.WSResponse // Stores decoded JSON messages
	RawBytes []string              // Stores raw bytes
	Closed   bool
	Mu       sync.Mutex
}

func NewMockClient(id string) *MockClient {
	return &MockClient{IDVal: id, Messages: make([]protocol.WSResponse, 0)}
}

func (m *MockClient) ID() string { return m.IDVal }

func (m *MockClient) Close() {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Closed = true
}

func (m *MockClient) SendJSON(v interface{}) {
	m.Mu.Lock()
	defer m.Mu.Unlock()

	if resp, ok := v.(protocol.WSResponse); ok {
		m.Messages = append(m.Messages, resp)
	}
}

func (m *MockClient) SendBytes(b []byte) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.RawBytes = append(m.RawBytes, string(b))
}

func (m *MockClient) LastMsgType() string {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if len(m.Messages) == 0 {
		return ""
	}
	return m.Messages[len(m.Messages)-1].Type
}

// MockPriceStream simulates the Redis-backed price feed
type MockPriceStream struct {
	SubscribedChannels map[string]int // item id -> count
	Mu                 sync.Mutex
}

func NewMockStream() *MockPriceStream {
	return &MockPriceStream{SubscribedChannels: make(map[string]int)}
}

func (m *MockPriceStream) GetSnapshots(ctx context.Context, itemIDs []string) ([]string, error) {
	return []string{`{"item_id":"2","last":182}`}, nil
}

func (m *MockPriceStream) SubscribeToFeed(ctx context.Context, itemID string) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.SubscribedChannels[itemID]++
	return nil
}

func (m *MockPriceStream) UnsubscribeFromFeed(ctx context.Context, itemID string) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.SubscribedChannels[itemID]--
	if m.SubscribedChannels[itemID] <= 0 {
		delete(m.SubscribedChannels, itemID)
	}
	return nil
}

func (m *MockPriceStream) RunPubSub(ctx context.Context, onMessage func(itemID string, payload string)) {
	// No-op for unit tests
}

func (m *MockPriceStream) Close() error { return nil }
