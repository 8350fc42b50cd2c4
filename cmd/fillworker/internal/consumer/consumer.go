package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"sync"

	"go.uber.org/zap"

	"github.com/Kenny427/vault-sub003/pkg/apperr"
	"github.com/Kenny427/vault-sub003/pkg/models"
)

// Consumer drains the fill topic into the portfolio ledger. Messages are
// sharded to workers by their (user, item) key so fills for one position are
// always booked in order by a single worker.
type Consumer struct {
	logger     Logger
	applier    FillApplier
	mirror     PositionMirror // may be nil
	reader     KafkaReader
	numWorkers int
}

func New(logger Logger, applier FillApplier, mirror PositionMirror, reader KafkaReader, numWorkers int) *Consumer {
	return &Consumer{
		logger:     logger,
		applier:    applier,
		mirror:     mirror,
		reader:     reader,
		numWorkers: numWorkers,
	}
}

func (c *Consumer) Run(ctx context.Context) error {
	workerChans := make([]chan []byte, c.numWorkers)
	var wg sync.WaitGroup

	for i := 0; i < c.numWorkers; i++ {
		workerChans[i] = make(chan []byte, 100)
		wg.Add(1)
		go c.worker(i, workerChans[i], &wg)
	}

	go func() {
		c.logger.Info("Fill consumer started", zap.Int("workers", c.numWorkers))
		for {
			m, err := c.reader.ReadMessage(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				c.logger.Error("Kafka Read Error", zap.Error(err))
				continue
			}

			// Deterministic sharding: same position always goes to same worker
			workerID := getWorkerID(m.Key, c.numWorkers)

			select {
			case workerChans[workerID] <- m.Value:
			case <-ctx.Done():
				return
			}
		}
	}()

	<-ctx.Done()
	c.logger.Info("Shutdown signal received, stopping consumer...")

	for _, ch := range workerChans {
		close(ch)
	}
	c.logger.Info("Waiting for workers to drain...")
	wg.Wait()

	return nil
}

func (c *Consumer) worker(id int, msgs <-chan []byte, wg *sync.WaitGroup) {
	defer wg.Done()
	ctx := context.Background()

	// Local state for deduplication (only works because of deterministic sharding)
	lastSeq := make(map[string]int64)

	for payload := range msgs {
		var fill models.Fill
		if err := json.Unmarshal(payload, &fill); err != nil {
			c.logger.Error("JSON Unmarshal Error", zap.Error(err))
			continue
		}

		key := fill.Key()
		if fill.SeqID != 0 && fill.SeqID <= lastSeq[key] {
			c.logger.Debug("Skipping duplicate fill", zap.String("key", key), zap.Int64("seq_id", fill.SeqID))
			continue
		}

		pos, err := c.applier.ApplyFill(ctx, fill)
		if err != nil {
			if apperr.Is(err, apperr.InsufficientPosition) || apperr.Is(err, apperr.InvalidArgument) {
				// Rejected fills are final; mark the seq so replays skip them too
				c.logger.Warn("Fill rejected", zap.String("key", key), zap.Int64("seq_id", fill.SeqID), zap.Error(err))
				lastSeq[key] = fill.SeqID
			} else {
				c.logger.Error("Fill booking failed", zap.String("key", key), zap.Error(err))
			}
			continue
		}

		if c.mirror != nil {
			if err := c.mirror.PublishPosition(ctx, pos); err != nil {
				c.logger.Warn("Position mirror failed", zap.String("key", key), zap.Error(err))
			}
		}

		c.logger.Debug("Fill booked", zap.String("key", key), zap.Int("worker_id", id), zap.Int64("seq_id", fill.SeqID))
		lastSeq[key] = fill.SeqID
	}
}

func getWorkerID(key []byte, numWorkers int) int {
	h := fnv.New32a()
	h.Write(key)
	return int(h.Sum32()) % numWorkers
}
