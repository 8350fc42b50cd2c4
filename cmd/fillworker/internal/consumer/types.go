package consumer

import (
	"context"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/Kenny427/vault-sub003/pkg/models"
)

// Logger abstracts the logging library
type Logger interface {
	Info(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
	Debug(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Fatal(msg string, fields ...zap.Field)
	Sync() error
}

// KafkaReader abstracts the input stream
type KafkaReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// FillApplier books a fill against the portfolio store
type FillApplier interface {
	ApplyFill(ctx context.Context, fill models.Fill) (models.Position, error)
}

// PositionMirror pushes the updated position into the read-side cache
type PositionMirror interface {
	PublishPosition(ctx context.Context, pos models.Position) error
}
