package generator

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// TopicCreator makes sure the fill topic exists before the generator starts
// writing, so a fresh compose stack does not drop the first batch.
type TopicCreator struct {
	logger     *zap.Logger
	dialer     BrokerDialer
	clock      Clock
	partitions int
}

func NewTopicCreator(logger *zap.Logger, dialer BrokerDialer, clock Clock) *TopicCreator {
	return &TopicCreator{
		logger: logger,
		dialer: dialer,
		clock:  clock,
		// Matches the worker pool's default shard count
		partitions: 4,
	}
}

func (tc *TopicCreator) Create(brokers []string, topic string) {
	ctx := context.Background()

	var conn BrokerConn
	var err error
	for _, addr := range brokers {
		if conn, err = tc.dialer.DialContext(ctx, "tcp", addr); err == nil {
			break
		}
	}
	if err != nil {
		tc.logger.Warn("No broker reachable for topic setup", zap.Error(err))
		return
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		tc.logger.Warn("Failed to resolve cluster controller", zap.Error(err))
		return
	}

	controllerConn, err := tc.dialer.DialContext(ctx, "tcp",
		net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		tc.logger.Warn("Failed to dial controller", zap.Error(err))
		return
	}
	defer controllerConn.Close()

	err = controllerConn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     tc.partitions,
		ReplicationFactor: 1,
	})
	if err != nil {
		// CreateTopics reports an error when the topic already exists
		tc.logger.Info("Topic setup finished", zap.String("topic", topic), zap.Error(err))
	} else {
		tc.logger.Info("Topic created", zap.String("topic", topic), zap.Int("partitions", tc.partitions))
	}

	tc.waitReady(conn, topic)
}

// waitReady polls until partition metadata is visible, bounded to a few
// short retries so startup never hangs on a broken broker.
func (tc *TopicCreator) waitReady(conn BrokerConn, topic string) {
	for i := 0; i < 5; i++ {
		tc.clock.Sleep(200 * time.Millisecond)
		partitions, err := conn.ReadPartitions(topic)
		if err == nil && len(partitions) > 0 {
			tc.logger.Info("Topic ready", zap.String("topic", topic), zap.Int("partitions", len(partitions)))
			return
		}
	}
	tc.logger.Warn("Topic still not visible, continuing anyway", zap.String("topic", topic))
}
