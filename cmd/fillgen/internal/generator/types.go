package generator

import (
	"context"
	"math/rand"
	"time"

	"github.com/segmentio/kafka-go"
)

// Seams for deterministic tests: time, randomness and the Kafka surface are
// all injected so the generator loop can run instantly under a fake clock.

type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type Rand interface {
	Intn(n int) int
	Float64() float64
}

// FillWriter is the producing side of the fill topic.
type FillWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// BrokerConn is the slice of *kafka.Conn the topic creator needs.
type BrokerConn interface {
	Controller() (kafka.Broker, error)
	CreateTopics(topics ...kafka.TopicConfig) error
	ReadPartitions(topics ...string) ([]kafka.Partition, error)
	Close() error
}

type BrokerDialer interface {
	DialContext(ctx context.Context, network, address string) (BrokerConn, error)
}

// Production implementations.

type SystemClock struct{}

func (SystemClock) Now() time.Time        { return time.Now() }
func (SystemClock) Sleep(d time.Duration) { time.Sleep(d) }

type SeededRand struct{ *rand.Rand }

func (r SeededRand) Intn(n int) int   { return r.Rand.Intn(n) }
func (r SeededRand) Float64() float64 { return r.Rand.Float64() }

type NetBrokerConn struct{ *kafka.Conn }

func (c *NetBrokerConn) Controller() (kafka.Broker, error) { return c.Conn.Controller() }
func (c *NetBrokerConn) Close() error                      { return c.Conn.Close() }
func (c *NetBrokerConn) CreateTopics(topics ...kafka.TopicConfig) error {
	return c.Conn.CreateTopics(topics...)
}
func (c *NetBrokerConn) ReadPartitions(topics ...string) ([]kafka.Partition, error) {
	return c.Conn.ReadPartitions(topics...)
}

type NetBrokerDialer struct{ *kafka.Dialer }

func (d *NetBrokerDialer) DialContext(ctx context.Context, network, address string) (BrokerConn, error) {
	conn, err := d.Dialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}
	return &NetBrokerConn{Conn: conn}, nil
}
