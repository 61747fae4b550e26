package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestOrderbookStateBestPrices(t *testing.T) {
	book := OrderbookState{
		Bids: []OrderbookLevel{{Price: 0.42, Size: 100}, {Price: 0.41, Size: 50}},
		Asks: []OrderbookLevel{{Price: 0.44, Size: 30}, {Price: 0.45, Size: 80}},
	}
	if got := book.BestBid(); got != 0.42 {
		t.Errorf("BestBid = %v, want 0.42", got)
	}
	if got := book.BestAsk(); got != 0.44 {
		t.Errorf("BestAsk = %v, want 0.44", got)
	}

	empty := OrderbookState{}
	if empty.BestBid() != 0 || empty.BestAsk() != 0 {
		t.Errorf("empty book should report zero best prices")
	}
}

func TestCanonicalMarketPrimaryToken(t *testing.T) {
	m := CanonicalMarket{ConditionID: "0xc1", ClobTokenIDs: []string{"T1", "T2"}}
	if got := m.PrimaryToken(); got != "T1" {
		t.Errorf("PrimaryToken = %q, want T1", got)
	}
	none := CanonicalMarket{ConditionID: "0xc2"}
	if got := none.PrimaryToken(); got != "" {
		t.Errorf("PrimaryToken on empty list = %q, want empty", got)
	}
}

func TestStreamUpdateJSON(t *testing.T) {
	u := StreamUpdate{
		AssetID:    "T1",
		Kind:       EventBestBidAsk,
		BestBid:    0.4,
		BestAsk:    0.43,
		ReceivedAt: time.Unix(1700000000, 0).UTC(),
	}
	data, err := json.Marshal(u)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out StreamUpdate
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if u.AssetID != out.AssetID || u.Kind != out.Kind || u.BestBid != out.BestBid ||
		u.BestAsk != out.BestAsk || !u.ReceivedAt.Equal(out.ReceivedAt) {
		t.Fatalf("round trip mismatch: %+v != %+v", u, out)
	}
}
