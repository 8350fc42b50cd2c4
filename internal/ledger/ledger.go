// Package ledger turns the stream of buy/sell fills into running positions
// with realized and unrealized profit, and seeds per-user watch records from
// the curated pool.
package ledger

import (
	"context"
	"hash/fnv"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Kenny427/vault-sub003/internal/market"
	"github.com/Kenny427/vault-sub003/pkg/apperr"
	"github.com/Kenny427/vault-sub003/pkg/models"
)

// Store is the durable side of the ledger. Implementations must persist the
// fill and the updated position atomically and distinguish NotFound from an
// empty result set.
type Store interface {
	GetPosition(ctx context.Context, userID string, itemID int) (models.Position, bool, error)
	ListPositions(ctx context.Context, userID string) ([]models.Position, error)
	SaveFill(ctx context.Context, fill models.Fill, pos models.Position) error
	ListThesisItemIDs(ctx context.Context, userID string) (map[int]bool, error)
	InsertTheses(ctx context.Context, theses []models.Thesis) (int, error)
}

// PriceSource resolves current market prices; satisfied by *market.Cache.
type PriceSource interface {
	GetLatest(ctx context.Context) (market.Latest, error)
}

// Totals aggregates a user's portfolio. Monetary figures are rounded to
// whole currency units here, at the boundary, not inside the per-position
// math.
type Totals struct {
	TotalValue            int64 `json:"total_value"`
	TotalInvested         int64 `json:"total_invested"`
	TotalRealizedProfit   int64 `json:"total_realized_profit"`
	TotalUnrealizedProfit int64 `json:"total_unrealized_profit"`
	TotalProfit           int64 `json:"total_profit"`
	PositionCount         int   `json:"position_count"`
}

type Summary struct {
	Positions []models.Position `json:"positions"`
	Totals    Totals            `json:"totals"`
	Stale     bool              `json:"stale"` // market prices used for valuation were stale
}

// lockStripes bounds the memory spent on position serialization: keys hash
// onto a fixed stripe, so a collision over-serializes but never under-serializes.
const lockStripes = 64

type Ledger struct {
	store  Store
	prices PriceSource
	logger *zap.Logger

	// Serializes read-modify-write per position key; the Kafka worker
	// already shards by key, this guards the HTTP path too.
	locks [lockStripes]sync.Mutex
}

func New(store Store, prices PriceSource, logger *zap.Logger) *Ledger {
	return &Ledger{
		store:  store,
		prices: prices,
		logger: logger,
	}
}

func (l *Ledger) keyMu(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &l.locks[h.Sum32()%lockStripes]
}

// ApplyFill validates the fill, folds it into the current position per the
// weighted-average-cost rules and persists fill plus position together.
// A sell beyond the held quantity fails with InsufficientPosition and
// leaves the position untouched.
func (l *Ledger) ApplyFill(ctx context.Context, fill models.Fill) (models.Position, error) {
	if fill.UserID == "" {
		return models.Position{}, apperr.New(apperr.InvalidArgument, "fill user id is required")
	}
	if fill.ItemID <= 0 {
		return models.Position{}, apperr.New(apperr.InvalidArgument, "fill item id must be positive")
	}
	if fill.Side != models.SideBuy && fill.Side != models.SideSell {
		return models.Position{}, apperr.Newf(apperr.InvalidArgument, "unknown fill side %q", fill.Side)
	}
	if fill.Quantity <= 0 {
		return models.Position{}, apperr.New(apperr.InvalidArgument, "fill quantity must be positive")
	}
	if fill.Price < 0 {
		return models.Position{}, apperr.New(apperr.InvalidArgument, "fill price must not be negative")
	}

	mu := l.keyMu(fill.Key())
	mu.Lock()
	defer mu.Unlock()

	pos, found, err := l.store.GetPosition(ctx, fill.UserID, fill.ItemID)
	if err != nil {
		return models.Position{}, apperr.Wrap(apperr.StoreFailure, "load position", err)
	}
	if !found {
		pos = models.Position{UserID: fill.UserID, ItemID: fill.ItemID}
	}
	if fill.ItemName != "" {
		pos.ItemName = fill.ItemName
	}

	switch fill.Side {
	case models.SideBuy:
		totalCost := float64(pos.Quantity)*pos.AvgBuyPrice + float64(fill.Quantity)*fill.Price
		pos.Quantity += fill.Quantity
		pos.AvgBuyPrice = totalCost / float64(pos.Quantity)
	case models.SideSell:
		if fill.Quantity > pos.Quantity {
			return models.Position{}, apperr.Newf(apperr.InsufficientPosition,
				"sell of %d exceeds held quantity %d", fill.Quantity, pos.Quantity)
		}
		pos.RealizedProfit += float64(fill.Quantity) * (fill.Price - pos.AvgBuyPrice)
		pos.Quantity -= fill.Quantity
		// AvgBuyPrice intentionally unchanged on sells.
	}

	pos.LastPrice = fill.Price
	if pos.Quantity > 0 {
		pos.UnrealizedProfit = (pos.LastPrice - pos.AvgBuyPrice) * float64(pos.Quantity)
	} else {
		pos.UnrealizedProfit = 0
	}
	pos.UpdatedAt = time.Unix(0, fill.Timestamp*int64(time.Microsecond)).UTC()
	if fill.Timestamp == 0 {
		pos.UpdatedAt = time.Now().UTC()
	}

	if err := l.store.SaveFill(ctx, fill, pos); err != nil {
		return models.Position{}, apperr.Wrap(apperr.StoreFailure, "persist fill", err)
	}

	l.logger.Debug("Fill applied",
		zap.String("user_id", fill.UserID),
		zap.Int("item_id", fill.ItemID),
		zap.String("side", fill.Side),
		zap.Int64("quantity", fill.Quantity))

	return pos, nil
}

// Summarize loads a user's positions, revalues open ones against the price
// cache's latest snapshot and aggregates totals. Valuation degrades
// gracefully: no market price means the stored last price, then the average
// buy price, so a feed outage never fails the portfolio read.
func (l *Ledger) Summarize(ctx context.Context, userID string) (Summary, error) {
	if userID == "" {
		return Summary{}, apperr.New(apperr.InvalidArgument, "user id is required")
	}

	positions, err := l.store.ListPositions(ctx, userID)
	if err != nil {
		return Summary{}, apperr.Wrap(apperr.StoreFailure, "list positions", err)
	}

	var latest market.Latest
	marketAvailable := false
	if l.prices != nil {
		if lt, err := l.prices.GetLatest(ctx); err == nil {
			latest = lt
			marketAvailable = true
		} else {
			l.logger.Warn("Valuing portfolio without market prices", zap.Error(err))
		}
	}

	var totalValue, totalInvested, totalRealized, totalUnrealized float64

	for i := range positions {
		pos := &positions[i]

		if pos.Quantity > 0 {
			lastPrice := pos.AvgBuyPrice
			if marketAvailable {
				if snap, ok := latest.Prices[market.ItemKey(pos.ItemID)]; ok && snap.Last > 0 {
					pos.LastPrice = snap.Last
				}
			}
			if pos.LastPrice > 0 {
				lastPrice = pos.LastPrice
			}
			pos.UnrealizedProfit = (lastPrice - pos.AvgBuyPrice) * float64(pos.Quantity)

			totalValue += lastPrice * float64(pos.Quantity)
			totalInvested += pos.AvgBuyPrice * float64(pos.Quantity)
		} else {
			pos.UnrealizedProfit = 0
		}

		totalRealized += pos.RealizedProfit
		totalUnrealized += pos.UnrealizedProfit
	}

	return Summary{
		Positions: positions,
		Stale:     marketAvailable && latest.Stale,
		Totals: Totals{
			TotalValue:            round(totalValue),
			TotalInvested:         round(totalInvested),
			TotalRealizedProfit:   round(totalRealized),
			TotalUnrealizedProfit: round(totalUnrealized),
			TotalProfit:           round(totalRealized + totalUnrealized),
			PositionCount:         len(positions),
		},
	}, nil
}

// SeedTheses creates a watch record for each pool item the user does not
// already track. Idempotent: a re-run after a partial insert only fills the
// remaining gap and never touches user-edited records.
func (l *Ledger) SeedTheses(ctx context.Context, userID string, pool []models.PoolItem) (int, error) {
	if userID == "" {
		return 0, apperr.New(apperr.InvalidArgument, "user id is required")
	}
	if len(pool) == 0 {
		return 0, nil
	}

	existing, err := l.store.ListThesisItemIDs(ctx, userID)
	if err != nil {
		return 0, apperr.Wrap(apperr.StoreFailure, "list existing theses", err)
	}

	var toInsert []models.Thesis
	for _, item := range pool {
		if !item.Enabled || existing[item.ItemID] {
			continue
		}
		toInsert = append(toInsert, models.Thesis{
			UserID:   userID,
			ItemID:   item.ItemID,
			ItemName: item.ItemName,
			Priority: BucketPriority(item.Priority),
			Active:   true,
		})
	}
	if len(toInsert) == 0 {
		return 0, nil
	}

	inserted, err := l.store.InsertTheses(ctx, toInsert)
	if err != nil {
		return 0, apperr.Wrap(apperr.StoreFailure, "insert theses", err)
	}

	l.logger.Info("Theses seeded",
		zap.String("user_id", userID),
		zap.Int("inserted", inserted))

	return inserted, nil
}

// BucketPriority maps a pool item's numeric score to a thesis priority label.
func BucketPriority(score float64) string {
	switch {
	case score >= 85:
		return "high"
	case score >= 65:
		return "medium"
	default:
		return "low"
	}
}

func round(v float64) int64 {
	return int64(math.Round(v))
}
