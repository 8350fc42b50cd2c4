// Package market wraps the upstream price feed: a thin HTTP client plus the
// in-process latest-price cache that fronts it.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/Kenny427/vault-sub003/pkg/config"
	"github.com/Kenny427/vault-sub003/pkg/models"
)

// LatestEntry is one item's raw high/low from the feed's latest endpoint.
// Zero means the feed had no figure for that side.
type LatestEntry struct {
	High     float64
	Low      float64
	HighTime int64
	LowTime  int64
}

// FeedClient is the upstream price feed contract. Untrusted and unreliable:
// it may be slow, omit items, or fail outright; retries are the caller's
// problem, never the feed's.
type FeedClient interface {
	Latest(ctx context.Context) (map[string]LatestEntry, error)
	LatestPayload(ctx context.Context) (json.RawMessage, error)
	TimeSeries(ctx context.Context, itemID int, timestep string) ([]models.TimeSeriesPoint, error)
}

// Feed talks to the wiki-style price API.
type Feed struct {
	baseURL   string
	userAgent string
	client    *http.Client
	logger    *zap.Logger
}

var _ FeedClient = (*Feed)(nil)

func NewFeed(cfg config.FeedConfig, logger *zap.Logger) *Feed {
	return &Feed{
		baseURL:   cfg.BaseURL,
		userAgent: cfg.UserAgent,
		client:    &http.Client{Timeout: cfg.Timeout},
		logger:    logger,
	}
}

// wire shapes; the feed uses null for missing sides, hence the pointers.
type feedLatestEntry struct {
	High     *float64 `json:"high"`
	Low      *float64 `json:"low"`
	HighTime *int64   `json:"highTime"`
	LowTime  *int64   `json:"lowTime"`
}

type feedSeriesPoint struct {
	Timestamp       int64    `json:"timestamp"`
	AvgHighPrice    *float64 `json:"avgHighPrice"`
	AvgLowPrice     *float64 `json:"avgLowPrice"`
	HighPriceVolume *int64   `json:"highPriceVolume"`
	LowPriceVolume  *int64   `json:"lowPriceVolume"`
}

func (f *Feed) Latest(ctx context.Context) (map[string]LatestEntry, error) {
	payload, err := f.LatestPayload(ctx)
	if err != nil {
		return nil, err
	}

	var raw map[string]feedLatestEntry
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("decode latest payload: %w", err)
	}

	out := make(map[string]LatestEntry, len(raw))
	for id, e := range raw {
		out[id] = LatestEntry{
			High:     deref(e.High),
			Low:      deref(e.Low),
			HighTime: derefInt(e.HighTime),
			LowTime:  derefInt(e.LowTime),
		}
	}
	return out, nil
}

// LatestPayload returns the raw latest object exactly as the feed sent it,
// for the archive path.
func (f *Feed) LatestPayload(ctx context.Context) (json.RawMessage, error) {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := f.getJSON(ctx, "/latest", nil, &envelope); err != nil {
		return nil, err
	}
	if len(envelope.Data) == 0 {
		return nil, fmt.Errorf("latest payload missing data object")
	}
	return envelope.Data, nil
}

func (f *Feed) TimeSeries(ctx context.Context, itemID int, timestep string) ([]models.TimeSeriesPoint, error) {
	query := url.Values{}
	query.Set("id", strconv.Itoa(itemID))
	query.Set("timestep", timestep)

	var envelope struct {
		Data []feedSeriesPoint `json:"data"`
	}
	if err := f.getJSON(ctx, "/timeseries", query, &envelope); err != nil {
		return nil, err
	}

	points := make([]models.TimeSeriesPoint, 0, len(envelope.Data))
	for _, p := range envelope.Data {
		price := deref(p.AvgHighPrice)
		if price == 0 {
			price = deref(p.AvgLowPrice)
		}
		points = append(points, models.TimeSeriesPoint{
			Timestamp: p.Timestamp,
			Price:     price,
			Volume:    derefInt(p.HighPriceVolume) + derefInt(p.LowPriceVolume),
		})
	}
	return points, nil
}

func (f *Feed) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	endpoint := f.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("feed request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 300))
		f.logger.Warn("Feed returned non-200",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode))
		return fmt.Errorf("feed %s returned %d: %s", path, resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode feed response %s: %w", path, err)
	}
	return nil
}

func deref(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

func derefInt(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}
