package redisstore

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Kenny427/vault-sub003/pkg/models"
)

const (
	priceKeyPrefix        = "price:"
	priceChannelPrefix    = "prices."
	positionKeyPrefix     = "position:"
	positionChannelPrefix = "positions."
	snapshotTTL           = 1 * time.Hour
)

// Store mirrors hot state into Redis: per-item price snapshots for the
// WebSocket hub and per-user positions for dashboard reads. It also carries
// the pub/sub subscription the hub fans out from.
type Store struct {
	client *redis.Client
	pubsub *redis.PubSub
	mu     sync.Mutex
}

func New(client *redis.Client) *Store {
	ps := client.Subscribe(context.Background())
	return &Store{
		client: client,
		pubsub: ps,
	}
}

// PublishPrices writes each snapshot under its price key and announces it on
// the item's channel, pipelined so a refresh lands as one round trip.
func (s *Store) PublishPrices(ctx context.Context, prices map[string]models.PriceSnapshot) error {
	if len(prices) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	for itemID, snap := range prices {
		payload, err := json.Marshal(snap)
		if err != nil {
			return err
		}
		pipe.Set(ctx, priceKeyPrefix+itemID, payload, snapshotTTL)
		pipe.Publish(ctx, priceChannelPrefix+itemID, payload)
	}

	_, err := pipe.Exec(ctx)
	return err
}

// PublishPosition mirrors a freshly updated position for cheap reads by the
// dashboard. Best effort; the Postgres row is the source of truth.
func (s *Store) PublishPosition(ctx context.Context, pos models.Position) error {
	payload, err := json.Marshal(pos)
	if err != nil {
		return err
	}
	key := positionKeyPrefix + models.Fill{UserID: pos.UserID, ItemID: pos.ItemID}.Key()
	pipe := s.client.Pipeline()
	pipe.Set(ctx, key, payload, snapshotTTL)
	pipe.Publish(ctx, positionChannelPrefix+pos.UserID, payload)
	_, err = pipe.Exec(ctx)
	return err
}

// GetSnapshots fetches the latest stored snapshot for each item id (MGET).
func (s *Store) GetSnapshots(ctx context.Context, itemIDs []string) ([]string, error) {
	if len(itemIDs) == 0 {
		return nil, nil
	}

	keys := make([]string, len(itemIDs))
	for i, id := range itemIDs {
		keys[i] = priceKeyPrefix + id
	}

	results, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	var snapshots []string
	for _, val := range results {
		if payload, ok := val.(string); ok && payload != "" {
			snapshots = append(snapshots, payload)
		}
	}
	return snapshots, nil
}

// SubscribeToFeed starts listening for price updates on one item's channel.
func (s *Store) SubscribeToFeed(ctx context.Context, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pubsub.Subscribe(ctx, priceChannelPrefix+itemID)
}

// UnsubscribeFromFeed stops listening for one item's channel.
func (s *Store) UnsubscribeFromFeed(ctx context.Context, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pubsub.Unsubscribe(ctx, priceChannelPrefix+itemID)
}

// RunPubSub blocks, reading price messages and handing the item id and raw
// payload to the callback until the pubsub connection closes.
func (s *Store) RunPubSub(ctx context.Context, onMessage func(itemID string, payload string)) {
	ch := s.pubsub.Channel()

	for msg := range ch {
		itemID, ok := strings.CutPrefix(msg.Channel, priceChannelPrefix)
		if !ok || itemID == "" {
			continue
		}
		onMessage(itemID, msg.Payload)
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	if err := s.pubsub.Close(); err != nil {
		return err
	}
	return s.client.Close()
}
