package models

import "strconv"

const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Fill represents a single executed buy or sell event for one user's item.
type Fill struct {
	UserID    string  `json:"user_id"`
	ItemID    int     `json:"item_id"`
	ItemName  string  `json:"item_name,omitempty"`
	Side      string  `json:"side"` // "buy" or "sell"
	Quantity  int64   `json:"quantity"`
	Price     float64 `json:"price"`
	Timestamp int64   `json:"timestamp"` // unix micro
	SeqID     int64   `json:"seq_id"`    // monotonic counter per (user, item)
}

// Key is the Kafka partition key; the same (user, item) always lands on the
// same partition and therefore the same worker.
func (f Fill) Key() string {
	return f.UserID + ":" + strconv.Itoa(f.ItemID)
}
