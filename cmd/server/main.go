package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gobwas/ws"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Kenny427/vault-sub003/cmd/server/internal/api"
	"github.com/Kenny427/vault-sub003/cmd/server/internal/gateway"
	"github.com/Kenny427/vault-sub003/cmd/server/internal/hub"
	"github.com/Kenny427/vault-sub003/internal/ledger"
	"github.com/Kenny427/vault-sub003/internal/market"
	"github.com/Kenny427/vault-sub003/internal/ratelimit"
	"github.com/Kenny427/vault-sub003/internal/storage/postgres"
	"github.com/Kenny427/vault-sub003/internal/storage/redisstore"
	"github.com/Kenny427/vault-sub003/pkg/config"
)

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

	ctx := context.Background()

	pool, err := postgres.NewPool(ctx, cfg.Postgres.ConnString())
	if err != nil {
		logger.Fatal("Postgres unavailable", zap.Error(err))
	}
	defer pool.Close()
	store := postgres.New(pool, logger)

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	mirror := redisstore.New(rdb)
	defer mirror.Close()

	feed := market.NewFeed(cfg.Feed, logger)

	cache := market.NewCache(market.CacheOptions{
		Feed:         feed,
		Limiter:      ratelimit.New(cfg.Limiter.FeedLimit, cfg.Limiter.FeedWindow),
		Archive:      store,
		Mirror:       mirror,
		FreshTTL:     cfg.Feed.FreshTTL,
		FetchTimeout: cfg.Feed.Timeout,
		IngestSecret: cfg.Ingest.Secret,
		Logger:       logger,
	})

	book := ledger.New(store, cache, logger)

	wsHub := hub.NewHub(mirror, logger)

	apiServer := api.NewServer(api.ServerOptions{
		Market:    cache,
		Portfolio: book,
		Pool:      store,
		Limiter:   ratelimit.New(cfg.Limiter.APILimit, cfg.Limiter.APIWindow),
		Logger:    logger,
		DBPing:    store,
		RedisPing: mirror,
	})

	mux := http.NewServeMux()
	apiServer.Register(mux)
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}

		client := gateway.NewClient(conn, wsHub, logger)
		client.Start()
	})

	srv := &http.Server{Addr: cfg.App.Port, Handler: mux}

	go func() {
		logger.Info("Server Started", zap.String("port", cfg.App.Port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("HTTP Error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	srv.Shutdown(context.Background())
	logger.Info("Shutdown Complete")
}
