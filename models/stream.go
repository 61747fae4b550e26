package models

import "time"

// EventKind identifies the websocket event a StreamUpdate was derived from.
type EventKind string

const (
	EventBestBidAsk     EventKind = "best_bid_ask"
	EventLastTradePrice EventKind = "last_trade_price"
	EventPriceChange    EventKind = "price_change"
	EventBook           EventKind = "book"
)

// StreamUpdate is a single normalized price event from the websocket feed.
// Updates are consumed immediately by the reconciler and not retained.
type StreamUpdate struct {
	AssetID    string    `json:"asset_id"`
	Kind       EventKind `json:"kind"`
	BestBid    float64   `json:"best_bid,omitempty"`
	BestAsk    float64   `json:"best_ask,omitempty"`
	LastTrade  float64   `json:"last_trade,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// ConnStatus is the lifecycle state of one streaming connection.
type ConnStatus string

const (
	ConnConnecting ConnStatus = "connecting"
	ConnConnected  ConnStatus = "connected"
	ConnStale      ConnStatus = "stale"
	ConnClosed     ConnStatus = "closed"
	ConnError      ConnStatus = "error"
)
