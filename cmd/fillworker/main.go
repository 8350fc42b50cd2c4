package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/Kenny427/vault-sub003/cmd/fillworker/internal/consumer"
	"github.com/Kenny427/vault-sub003/internal/ledger"
	"github.com/Kenny427/vault-sub003/internal/storage/postgres"
	"github.com/Kenny427/vault-sub003/internal/storage/redisstore"
	"github.com/Kenny427/vault-sub003/pkg/config"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger, err := config.NewLogger(cfg.Logger)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.Postgres.ConnString())
	if err != nil {
		logger.Fatal("Failed to connect to Postgres", zap.Error(err))
	}
	defer pool.Close()
	store := postgres.New(pool, logger)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	mirror := redisstore.New(rdb)

	// The worker only books fills, so no price source is wired in.
	book := ledger.New(store, nil, logger)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Kafka.Brokers,
		Topic:    cfg.Kafka.Topic,
		GroupID:  cfg.Kafka.GroupID,
		MinBytes: 200,
		MaxBytes: 10e6,
		MaxWait:  200 * time.Millisecond,
		// Auto-commit for throughput; duplicates are absorbed by SeqID dedup
		CommitInterval: 1,
		// Rebalancing: 3s heartbeat, 10s session timeout for responsive scaling
		HeartbeatInterval: 3 * time.Second,
		SessionTimeout:    10 * time.Second,
	})

	c := consumer.New(logger, book, mirror, reader, cfg.Worker.NumWorkers)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	if err := c.Run(ctx); err != nil {
		logger.Error("Consumer stopped with error", zap.Error(err))
	}

	logger.Info("Closing Kafka Reader...")
	if err := reader.Close(); err != nil {
		logger.Error("Error closing reader", zap.Error(err))
	}

	logger.Info("Closing Redis...")
	mirror.Close()

	logger.Info("Fill worker exited cleanly")
}
