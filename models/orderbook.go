package models

import (
	"time"
)

// OrderbookLevel represents a single price level in the orderbook.
// Price is in the [0,1] probability range; the normalizer drops levels
// whose price or size coerces to exactly zero.
type OrderbookLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// OrderbookState represents the complete orderbook for one outcome token.
// Bids are sorted descending by price, asks ascending.
type OrderbookState struct {
	AssetID      string           `json:"asset_id"`
	Bids         []OrderbookLevel `json:"bids"`
	Asks         []OrderbookLevel `json:"asks"`
	MinOrderSize float64          `json:"min_order_size,omitempty"`
	TickSize     float64          `json:"tick_size,omitempty"`
	NegRisk      bool             `json:"neg_risk,omitempty"`
	Timestamp    time.Time        `json:"timestamp"`
}

// BestBid returns the highest bid price, or 0 when the book side is empty.
func (b *OrderbookState) BestBid() float64 {
	if len(b.Bids) == 0 {
		return 0
	}
	return b.Bids[0].Price
}

// BestAsk returns the lowest ask price, or 0 when the book side is empty.
func (b *OrderbookState) BestAsk() float64 {
	if len(b.Asks) == 0 {
		return 0
	}
	return b.Asks[0].Price
}
