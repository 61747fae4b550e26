package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"polyflow/models"
)

// Frame parses one websocket data frame into zero or more stream updates and
// book snapshots. The market channel sends either a single event object or an
// array of them; individual events that cannot be interpreted are skipped.
// An error is returned only when the frame as a whole is not valid JSON.
func Frame(data []byte, receivedAt time.Time) ([]models.StreamUpdate, []*models.OrderbookState, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil, nil
	}

	var rawEvents []json.RawMessage
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &rawEvents); err != nil {
			return nil, nil, fmt.Errorf("malformed event array: %w", err)
		}
	} else {
		rawEvents = []json.RawMessage{trimmed}
	}

	var updates []models.StreamUpdate
	var books []*models.OrderbookState
	for _, ev := range rawEvents {
		var obj map[string]interface{}
		if err := json.Unmarshal(ev, &obj); err != nil {
			if len(rawEvents) == 1 {
				return nil, nil, fmt.Errorf("malformed event: %w", err)
			}
			continue
		}
		u, b := event(obj, receivedAt)
		updates = append(updates, u...)
		if b != nil {
			books = append(books, b)
		}
	}
	return updates, books, nil
}

func event(obj map[string]interface{}, receivedAt time.Time) ([]models.StreamUpdate, *models.OrderbookState) {
	kindVal, ok := pick(obj, "event_type", "eventType", "type")
	if !ok {
		return nil, nil
	}
	kind, _ := asString(kindVal)

	switch models.EventKind(kind) {
	case models.EventBook:
		return nil, Book(obj, receivedAt)

	case models.EventPriceChange:
		return priceChanges(obj, receivedAt), nil

	case models.EventLastTradePrice:
		u := models.StreamUpdate{Kind: models.EventLastTradePrice, ReceivedAt: receivedAt}
		if v, ok := pick(obj, "asset_id", "assetId", "token_id"); ok {
			u.AssetID, _ = asString(v)
		}
		if v, ok := pick(obj, "price", "last_trade_price"); ok {
			u.LastTrade, _ = asFloat(v)
		}
		if u.AssetID == "" || u.LastTrade == 0 {
			return nil, nil
		}
		return []models.StreamUpdate{u}, nil

	case models.EventBestBidAsk:
		u := models.StreamUpdate{Kind: models.EventBestBidAsk, ReceivedAt: receivedAt}
		if v, ok := pick(obj, "asset_id", "assetId", "token_id"); ok {
			u.AssetID, _ = asString(v)
		}
		if v, ok := pick(obj, "best_bid", "bestBid", "bid"); ok {
			u.BestBid, _ = asFloat(v)
		}
		if v, ok := pick(obj, "best_ask", "bestAsk", "ask"); ok {
			u.BestAsk, _ = asFloat(v)
		}
		if u.AssetID == "" || (u.BestBid == 0 && u.BestAsk == 0) {
			return nil, nil
		}
		return []models.StreamUpdate{u}, nil

	default:
		return nil, nil
	}
}

// priceChanges flattens a price_change envelope, which batches per-asset
// changes in a price_changes array.
func priceChanges(obj map[string]interface{}, receivedAt time.Time) []models.StreamUpdate {
	envelopeAsset := ""
	if v, ok := pick(obj, "asset_id", "assetId", "token_id"); ok {
		envelopeAsset, _ = asString(v)
	}

	v, ok := pick(obj, "price_changes", "priceChanges", "changes")
	if !ok {
		// Flat shape: the change fields live on the envelope itself.
		u := models.StreamUpdate{Kind: models.EventPriceChange, AssetID: envelopeAsset, ReceivedAt: receivedAt}
		if bv, ok := pick(obj, "best_bid", "bestBid"); ok {
			u.BestBid, _ = asFloat(bv)
		}
		if av, ok := pick(obj, "best_ask", "bestAsk"); ok {
			u.BestAsk, _ = asFloat(av)
		}
		if u.AssetID == "" || (u.BestBid == 0 && u.BestAsk == 0) {
			return nil
		}
		return []models.StreamUpdate{u}
	}

	list, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]models.StreamUpdate, 0, len(list))
	for _, e := range list {
		change, ok := e.(map[string]interface{})
		if !ok {
			continue
		}
		u := models.StreamUpdate{Kind: models.EventPriceChange, AssetID: envelopeAsset, ReceivedAt: receivedAt}
		if av, ok := pick(change, "asset_id", "assetId", "token_id"); ok {
			if s, ok := asString(av); ok {
				u.AssetID = s
			}
		}
		if bv, ok := pick(change, "best_bid", "bestBid"); ok {
			u.BestBid, _ = asFloat(bv)
		}
		if av, ok := pick(change, "best_ask", "bestAsk"); ok {
			u.BestAsk, _ = asFloat(av)
		}
		if pv, ok := pick(change, "price"); ok {
			u.LastTrade, _ = asFloat(pv)
		}
		if u.AssetID == "" || (u.BestBid == 0 && u.BestAsk == 0 && u.LastTrade == 0) {
			continue
		}
		out = append(out, u)
	}
	return out
}
