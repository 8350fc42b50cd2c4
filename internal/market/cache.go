package market

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Kenny427/vault-sub003/internal/ratelimit"
	"github.com/Kenny427/vault-sub003/pkg/apperr"
	"github.com/Kenny427/vault-sub003/pkg/models"
)

const (
	feedLimiterKey       = "feed:latest"
	timeseriesLimiterKey = "feed:timeseries"
	archiveSource        = "feed/latest"
)

var validTimesteps = map[string]bool{"5m": true, "1h": true, "6h": true, "24h": true}

// ArchiveStore persists immutable raw-payload ingestion rows.
type ArchiveStore interface {
	InsertArchive(ctx context.Context, rec models.ArchiveRecord) (int64, error)
}

// Mirror receives refreshed per-item snapshots, e.g. the Redis store that
// feeds the WebSocket hub. Best effort; mirror errors never fail a refill.
type Mirror interface {
	PublishPrices(ctx context.Context, prices map[string]models.PriceSnapshot) error
}

// Latest is the cache's answer to a latest-prices read. Stale reports that
// the data predates the freshness threshold and could not be refreshed.
type Latest struct {
	Prices    map[string]models.PriceSnapshot `json:"prices"`
	FetchedAt time.Time                       `json:"fetched_at"`
	Stale     bool                            `json:"stale"`
}

// Receipt identifies one written archive record.
type Receipt struct {
	ID        int64     `json:"id"`
	FetchedAt time.Time `json:"fetched_at"`
}

// snapshotState is immutable once published; refills build a fresh one off
// to the side and swap the pointer, so readers never see a torn snapshot.
type snapshotState struct {
	prices    map[string]models.PriceSnapshot
	fetchedAt time.Time
}

// Cache fronts the upstream feed with a single shared latest-prices copy.
// Refills go through the feed limiter; when the feed is down or the limiter
// denies, a stale copy keeps being served rather than failing the caller.
type Cache struct {
	feed         FeedClient
	limiter      *ratelimit.Limiter
	archive      ArchiveStore
	mirror       Mirror // may be nil
	ttl          time.Duration
	fetchTimeout time.Duration
	ingestSecret string
	logger       *zap.Logger
	clock        ratelimit.Clock

	mu        sync.RWMutex // guards snap pointer only, never held across I/O
	snap      *snapshotState
	refreshMu sync.Mutex // serializes refills
}

type CacheOptions struct {
	Feed         FeedClient
	Limiter      *ratelimit.Limiter
	Archive      ArchiveStore
	Mirror       Mirror
	FreshTTL     time.Duration
	FetchTimeout time.Duration
	IngestSecret string
	Logger       *zap.Logger
	Clock        ratelimit.Clock
}

func NewCache(opts CacheOptions) *Cache {
	clock := opts.Clock
	if clock == nil {
		clock = systemClock{}
	}
	return &Cache{
		feed:         opts.Feed,
		limiter:      opts.Limiter,
		archive:      opts.Archive,
		mirror:       opts.Mirror,
		ttl:          opts.FreshTTL,
		fetchTimeout: opts.FetchTimeout,
		ingestSecret: opts.IngestSecret,
		logger:       opts.Logger,
		clock:        clock,
	}
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (c *Cache) load() *snapshotState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

func (c *Cache) store(s *snapshotState) {
	c.mu.Lock()
	c.snap = s
	c.mu.Unlock()
}

// GetLatest returns the most recently fetched full-market snapshot,
// refilling from upstream when it is missing or older than the freshness
// threshold. A denied or failed refill degrades to the stale copy when one
// exists; UpstreamUnavailable surfaces only with nothing to serve.
func (c *Cache) GetLatest(ctx context.Context) (Latest, error) {
	now := c.clock.Now()
	if s := c.load(); s != nil && now.Sub(s.fetchedAt) < c.ttl {
		return Latest{Prices: s.prices, FetchedAt: s.fetchedAt}, nil
	}

	// Single refill at a time. While one is in flight, a caller holding a
	// stale copy is served immediately rather than queued behind the fetch;
	// only a cold cache waits for the winner and reuses its snapshot.
	if !c.refreshMu.TryLock() {
		if s := c.load(); s != nil {
			stale := c.clock.Now().Sub(s.fetchedAt) >= c.ttl
			return Latest{Prices: s.prices, FetchedAt: s.fetchedAt, Stale: stale}, nil
		}
		c.refreshMu.Lock()
	}
	defer c.refreshMu.Unlock()

	if s := c.load(); s != nil && c.clock.Now().Sub(s.fetchedAt) < c.ttl {
		return Latest{Prices: s.prices, FetchedAt: s.fetchedAt}, nil
	}

	if d := c.limiter.Check(feedLimiterKey); !d.Allowed {
		s := c.load()
		if s == nil {
			return Latest{}, apperr.New(apperr.UpstreamUnavailable, "feed call budget exhausted and no cached snapshot")
		}
		return Latest{Prices: s.prices, FetchedAt: s.fetchedAt, Stale: true}, nil
	}

	// Detached context: if the caller gives up, the refill still completes
	// and warms the cache for the next reader.
	fetchCtx, cancel := context.WithTimeout(context.Background(), c.fetchTimeout)
	defer cancel()

	entries, err := c.feed.Latest(fetchCtx)
	if err != nil {
		c.logger.Warn("Feed refill failed", zap.Error(err))
		s := c.load()
		if s == nil {
			return Latest{}, apperr.Wrap(apperr.UpstreamUnavailable, "feed fetch failed with no cached fallback", err)
		}
		return Latest{Prices: s.prices, FetchedAt: s.fetchedAt, Stale: true}, nil
	}

	fetchedAt := c.clock.Now()
	prices := make(map[string]models.PriceSnapshot, len(entries))
	for id, e := range entries {
		snap := models.PriceSnapshot{
			ItemID:   id,
			High:     e.High,
			Low:      e.Low,
			HighTime: e.HighTime,
			LowTime:  e.LowTime,
		}
		snap.Derive()
		prices[id] = snap
	}

	c.store(&snapshotState{prices: prices, fetchedAt: fetchedAt})

	if c.mirror != nil {
		if err := c.mirror.PublishPrices(fetchCtx, prices); err != nil {
			c.logger.Warn("Price mirror publish failed", zap.Error(err))
		}
	}

	return Latest{Prices: prices, FetchedAt: fetchedAt}, nil
}

// GetTimeSeries proxies the per-item series endpoint. Results are not
// cached: repeated callers re-fetch, a deliberate simplicity/cost trade-off.
func (c *Cache) GetTimeSeries(ctx context.Context, itemID int, timestep string) ([]models.TimeSeriesPoint, error) {
	if itemID <= 0 {
		return nil, apperr.New(apperr.InvalidArgument, "item id must be positive")
	}
	if !validTimesteps[timestep] {
		return nil, apperr.Newf(apperr.InvalidArgument, "invalid timestep %q, want one of 5m, 1h, 6h, 24h", timestep)
	}

	if d := c.limiter.Check(timeseriesLimiterKey); !d.Allowed {
		return nil, apperr.Limited(d.RetryAfter)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	points, err := c.feed.TimeSeries(fetchCtx, itemID, timestep)
	if err != nil {
		return nil, apperr.Wrap(apperr.UpstreamUnavailable, "timeseries fetch failed", err)
	}
	return points, nil
}

// IngestArchive fetches the latest raw payload and writes one immutable
// archive record. The caller's token must equal the configured shared
// secret; with no secret configured, ingestion is disabled and every call
// fails closed.
func (c *Cache) IngestArchive(ctx context.Context, token string) (Receipt, error) {
	if c.ingestSecret == "" || token != c.ingestSecret {
		return Receipt{}, apperr.New(apperr.Unauthorized, "ingest secret mismatch")
	}

	fetchCtx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	payload, err := c.feed.LatestPayload(fetchCtx)
	if err != nil {
		return Receipt{}, apperr.Wrap(apperr.UpstreamUnavailable, "archive fetch failed", err)
	}

	rec := models.ArchiveRecord{
		Source:    archiveSource,
		Payload:   payload,
		FetchedAt: c.clock.Now(),
	}
	id, err := c.archive.InsertArchive(ctx, rec)
	if err != nil {
		return Receipt{}, apperr.Wrap(apperr.StoreFailure, "archive insert failed", err)
	}

	c.logger.Info("Archive record written",
		zap.Int64("id", id),
		zap.Int("payload_bytes", len(rec.Payload)))

	return Receipt{ID: id, FetchedAt: rec.FetchedAt}, nil
}

// ItemKey renders the snapshot map key for a numeric item id.
func ItemKey(itemID int) string { return strconv.Itoa(itemID) }
