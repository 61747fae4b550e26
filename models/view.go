package models

import "time"

// PriceSource tags which transport produced the live price fields.
type PriceSource string

const (
	SourceStream PriceSource = "stream"
	SourceREST   PriceSource = "rest"
)

// LivePrice holds the most recent best bid/ask and last trade for one asset,
// tagged with the source that wrote it.
type LivePrice struct {
	BestBid   float64     `json:"best_bid"`
	BestAsk   float64     `json:"best_ask"`
	LastTrade float64     `json:"last_trade,omitempty"`
	Source    PriceSource `json:"source"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// ReconciledView is the merged read model for one market. It is owned by the
// reconciler; consumers receive copies and never mutate it.
type ReconciledView struct {
	Market  CanonicalMarket `json:"market"`
	Price   LivePrice       `json:"price"`
	Book    OrderbookState  `json:"book"`
	History []PricePoint    `json:"history,omitempty"`
	Holders []Holder        `json:"holders,omitempty"`

	BookUpdatedAt    time.Time `json:"book_updated_at"`
	HistoryUpdatedAt time.Time `json:"history_updated_at"`
	HoldersUpdatedAt time.Time `json:"holders_updated_at"`

	// Staleness flags computed against per-substate thresholds at read time.
	PriceStale   bool `json:"price_stale"`
	BookStale    bool `json:"book_stale"`
	HistoryStale bool `json:"history_stale"`
	HoldersStale bool `json:"holders_stale"`
}
