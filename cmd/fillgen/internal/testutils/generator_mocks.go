package testutils

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Kenny427/vault-sub003/cmd/fillgen/internal/generator"
)

// MockFillWriter records produced messages. Err, when set, fails every write.
type MockFillWriter struct {
	mu   sync.Mutex
	sent []kafka.Message
	Err  error
}

func (m *MockFillWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.sent = append(m.sent, msgs...)
	return nil
}

func (m *MockFillWriter) Close() error { return nil }

// Sent returns a copy of everything written so far.
func (m *MockFillWriter) Sent() []kafka.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]kafka.Message(nil), m.sent...)
}

func (m *MockFillWriter) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// MockClock advances instantly on Sleep so generator loops run at CPU speed.
type MockClock struct {
	Current time.Time
	Slept   int
}

func (m *MockClock) Now() time.Time { return m.Current }

func (m *MockClock) Sleep(d time.Duration) {
	m.Current = m.Current.Add(d)
	m.Slept++
}

// MockRand replays fixed sequences, cycling when exhausted. Empty sequences
// yield zero, which keeps single-user single-item setups deterministic.
type MockRand struct {
	Ints   []int
	Floats []float64
	iPos   int
	fPos   int
}

func (m *MockRand) Intn(n int) int {
	if len(m.Ints) == 0 {
		return 0
	}
	v := m.Ints[m.iPos%len(m.Ints)]
	m.iPos++
	return v
}

func (m *MockRand) Float64() float64 {
	if len(m.Floats) == 0 {
		return 0
	}
	v := m.Floats[m.fPos%len(m.Floats)]
	m.fPos++
	return v
}

// MockBrokerConn pretends every topic exists and is ready.
type MockBrokerConn struct {
	Created []string
}

func (m *MockBrokerConn) Controller() (kafka.Broker, error) {
	return kafka.Broker{Host: "localhost", Port: 9092}, nil
}

func (m *MockBrokerConn) Close() error { return nil }

func (m *MockBrokerConn) CreateTopics(topics ...kafka.TopicConfig) error {
	for _, t := range topics {
		m.Created = append(m.Created, t.Topic)
	}
	return nil
}

func (m *MockBrokerConn) ReadPartitions(topics ...string) ([]kafka.Partition, error) {
	return []kafka.Partition{{ID: 0}}, nil
}

// MockBrokerDialer hands out a single shared MockBrokerConn for inspection.
type MockBrokerDialer struct {
	Conn *MockBrokerConn
}

func (m *MockBrokerDialer) DialContext(ctx context.Context, network, address string) (generator.BrokerConn, error) {
	if m.Conn == nil {
		m.Conn = &MockBrokerConn{}
	}
	return m.Conn, nil
}
