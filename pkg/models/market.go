package models

import "time"

// PriceSnapshot is one item's market view derived from the upstream feed.
// A zero High or Low means the feed had no figure for that side.
type PriceSnapshot struct {
	ItemID    string  `json:"item_id"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	HighTime  int64   `json:"high_time,omitempty"`
	LowTime   int64   `json:"low_time,omitempty"`
	Last      float64 `json:"last"`
	BuyAt     float64 `json:"buy_at"`
	SellAt    float64 `json:"sell_at"`
	Margin    float64 `json:"margin"`
	SpreadPct float64 `json:"spread_pct"`
}

// Derive fills in the computed fields from High/Low. Recomputed per read,
// never persisted.
func (s *PriceSnapshot) Derive() {
	if s.High > 0 {
		s.Last = s.High
	} else {
		s.Last = s.Low
	}
	if s.High > 0 && s.Low > 0 {
		s.Margin = s.High - s.Low
	} else {
		s.Margin = 0
	}
	if s.High > 0 {
		s.SpreadPct = (s.High - s.Low) / s.High * 100
	} else {
		s.SpreadPct = 0
	}
	if s.Low > 0 {
		s.BuyAt = s.Low
	} else {
		s.BuyAt = s.Last
	}
	if s.High > 0 {
		s.SellAt = s.High
	} else {
		s.SellAt = s.Last
	}
}

// TimeSeriesPoint is one (timestamp, price, volume) tuple of an item's
// series at a single granularity, ascending by time.
type TimeSeriesPoint struct {
	Timestamp int64   `json:"timestamp"` // unix seconds, bucket start
	Price     float64 `json:"price"`
	Volume    int64   `json:"volume"`
}

// ArchiveRecord is one immutable ingestion row: the raw feed payload plus
// the moment it was fetched. Write-once, used for replay and audit.
type ArchiveRecord struct {
	ID        int64     `json:"id"`
	Source    string    `json:"source"`
	Payload   []byte    `json:"payload"`
	FetchedAt time.Time `json:"fetched_at"`
}
