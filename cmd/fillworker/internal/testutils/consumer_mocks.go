package testutils

import (
	"context"
	"io"
	"sync"

	"github.com/segmentio/kafka-go"

	"github.com/Kenny427/vault-sub003/pkg/models"
)

type MockKafkaReader struct {
	Messages []kafka.Message
	Index    int
	Mu       sync.Mutex
	// Closed simulates a closed connection or end of stream
	Closed bool
}

func (m *MockKafkaReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()

	if m.Closed {
		return kafka.Message{}, io.EOF
	}

	if m.Index >= len(m.Messages) {
		// Returning DeadlineExceeded is a clean way to stop the consumer loop in tests
		return kafka.Message{}, context.DeadlineExceeded
	}

	msg := m.Messages[m.Index]
	m.Index++
	return msg, nil
}

func (m *MockKafkaReader) Close() error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Closed = true
	return nil
}

// MockApplier records booked fills and can be scripted to fail.
type MockApplier struct {
	Mu      sync.Mutex
	Applied []models.Fill
	Err     error
}

func (m *MockApplier) ApplyFill(ctx context.Context, fill models.Fill) (models.Position, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.Err != nil {
		return models.Position{}, m.Err
	}
	m.Applied = append(m.Applied, fill)
	return models.Position{
		UserID:   fill.UserID,
		ItemID:   fill.ItemID,
		Quantity: fill.Quantity,
	}, nil
}

func (m *MockApplier) Count() int {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return len(m.Applied)
}

// MockMirror records published positions.
type MockMirror struct {
	Mu        sync.Mutex
	Published []models.Position
}

func (m *MockMirror) PublishPosition(ctx context.Context, pos models.Position) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Published = append(m.Published, pos)
	return nil
}

func (m *MockMirror) Count() int {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return len(m.Published)
}
