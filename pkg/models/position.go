package models

import "time"

// Position is a user's current holding of one item plus its running profit
// figures. Mutated only by applying a Fill.
type Position struct {
	UserID           string    `json:"user_id"`
	ItemID           int       `json:"item_id"`
	ItemName         string    `json:"item_name"`
	Quantity         int64     `json:"quantity"`
	AvgBuyPrice      float64   `json:"avg_buy_price"`
	RealizedProfit   float64   `json:"realized_profit"`
	LastPrice        float64   `json:"last_price"` // 0 means no market price observed yet
	UnrealizedProfit float64   `json:"unrealized_profit"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// PoolItem is one row of the curated item pool used to seed theses.
type PoolItem struct {
	ItemID   int     `json:"item_id"`
	ItemName string  `json:"item_name"`
	Priority float64 `json:"priority"` // 0-100 score, bucketed on seeding
	Enabled  bool    `json:"enabled"`
}

// Thesis is a per-user watch record for one item. TargetBuy, TargetSell and
// Notes are user-edited later and never overwritten by seeding.
type Thesis struct {
	UserID     string   `json:"user_id"`
	ItemID     int      `json:"item_id"`
	ItemName   string   `json:"item_name"`
	Priority   string   `json:"priority"` // "high", "medium" or "low"
	TargetBuy  *float64 `json:"target_buy,omitempty"`
	TargetSell *float64 `json:"target_sell,omitempty"`
	Notes      *string  `json:"notes,omitempty"`
	Active     bool     `json:"active"`
}
