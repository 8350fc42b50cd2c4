package main

import (
	"context"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/Kenny427/vault-sub003/cmd/fillgen/internal/generator"
	"github.com/Kenny427/vault-sub003/pkg/config"
)

// Demo base prices, roughly matching the live market scale of each item.
var basePrices = map[int]float64{
	2:     180,       // Cannonball
	561:   95,        // Nature rune
	4151:  1_450_000, // Abyssal whip
	11832: 26_000_000,
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger, err := config.NewLogger(cfg.Logger)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	clock := generator.SystemClock{}
	rnd := generator.SeededRand{Rand: rand.New(rand.NewSource(time.Now().UnixNano()))}

	// Ensure the topic exists before writing
	creator := generator.NewTopicCreator(logger, &generator.NetBrokerDialer{Dialer: kafka.DefaultDialer}, clock)
	creator.Create(cfg.Kafka.Brokers, cfg.Kafka.Topic)

	writer := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Topic:    cfg.Kafka.Topic,
		Balancer: &kafka.LeastBytes{},
		// Batching reduces network IO; fills are synthetic so async is fine
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		Async:        true,
	}

	prices := basePrices
	if len(cfg.Generator.Items) > 0 {
		prices = make(map[int]float64, len(cfg.Generator.Items))
		for _, id := range cfg.Generator.Items {
			if base, ok := basePrices[id]; ok {
				prices[id] = base
			} else {
				prices[id] = 1000
			}
		}
	}

	gen := generator.NewFillGenerator(logger, writer, cfg.Generator.Users, prices, rnd, clock)

	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go gen.Run(ctx)

	<-sigChan
	logger.Info("Shutdown signal received")
	cancel()

	// Flush the async writer buffer
	if err := writer.Close(); err != nil {
		logger.Error("Error closing Kafka writer", zap.Error(err))
	} else {
		logger.Info("Kafka writer closed cleanly")
	}
}
