package models

import (
	"time"
)

// CanonicalMarket is the normalized representation of one tradeable question.
// It is produced once by the normalizer and never mutated afterwards; price
// movement is tracked in the reconciled view, not here.
type CanonicalMarket struct {
	ConditionID  string   `json:"condition_id"`
	MarketID     string   `json:"market_id,omitempty"`
	Question     string   `json:"question,omitempty"`
	Slug         string   `json:"slug,omitempty"`
	Outcomes     []string `json:"outcomes"`
	ClobTokenIDs []string `json:"clob_token_ids"`

	// Optional 24h statistics, zero when the source omitted them.
	Volume24h      float64 `json:"volume_24h,omitempty"`
	PriceChange24h float64 `json:"price_change_24h,omitempty"`
	BestBid        float64 `json:"best_bid,omitempty"`
	BestAsk        float64 `json:"best_ask,omitempty"`
}

// PrimaryToken returns the token id of the first outcome. The normalizer
// guarantees at least one token for every market it emits.
func (m *CanonicalMarket) PrimaryToken() string {
	if len(m.ClobTokenIDs) == 0 {
		return ""
	}
	return m.ClobTokenIDs[0]
}

// PricePoint is one sample of a market's price history series.
type PricePoint struct {
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
}

// Holder is one entry of a market's top-holder list.
type Holder struct {
	Address string  `json:"address"`
	Name    string  `json:"name,omitempty"`
	Amount  float64 `json:"amount"`
	Outcome string  `json:"outcome,omitempty"`
}
