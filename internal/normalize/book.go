package normalize

import (
	"sort"
	"time"

	"polyflow/models"
)

// Level converts one raw order-book level into a typed level. Levels arrive
// either as a [price, size] tuple or as an object with varying key names.
// Levels whose price or size coerces to exactly zero are rejected: upstream
// uses zero to mean "level removed", not "free".
func Level(v interface{}) (models.OrderbookLevel, bool) {
	var price, size float64
	var okP, okS bool

	switch t := v.(type) {
	case []interface{}:
		if len(t) < 2 {
			return models.OrderbookLevel{}, false
		}
		price, okP = asFloat(t[0])
		size, okS = asFloat(t[1])
	case map[string]interface{}:
		if pv, ok := pick(t, "price", "p", "rate"); ok {
			price, okP = asFloat(pv)
		}
		if sv, ok := pick(t, "size", "s", "amount", "quantity"); ok {
			size, okS = asFloat(sv)
		}
	default:
		return models.OrderbookLevel{}, false
	}

	if !okP || !okS || price == 0 || size == 0 {
		return models.OrderbookLevel{}, false
	}
	return models.OrderbookLevel{Price: price, Size: size}, true
}

// Levels normalizes one side of a raw book, dropping malformed and
// zero-valued entries.
func Levels(v interface{}) []models.OrderbookLevel {
	list, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]models.OrderbookLevel, 0, len(list))
	for _, e := range list {
		if lvl, ok := Level(e); ok {
			out = append(out, lvl)
		}
	}
	return out
}

// Book converts a raw order-book payload into an OrderbookState with bids
// sorted descending and asks ascending. Returns nil when neither side
// yields a single usable level and the asset cannot be identified.
func Book(raw map[string]interface{}, receivedAt time.Time) *models.OrderbookState {
	if raw == nil {
		return nil
	}

	book := &models.OrderbookState{Timestamp: receivedAt}

	if v, ok := pick(raw, "asset_id", "assetId", "token_id", "tokenId"); ok {
		book.AssetID, _ = asString(v)
	}
	if v, ok := pick(raw, "bids", "buys"); ok {
		book.Bids = Levels(v)
	}
	if v, ok := pick(raw, "asks", "sells"); ok {
		book.Asks = Levels(v)
	}
	if book.AssetID == "" && len(book.Bids) == 0 && len(book.Asks) == 0 {
		return nil
	}

	sort.SliceStable(book.Bids, func(i, j int) bool { return book.Bids[i].Price > book.Bids[j].Price })
	sort.SliceStable(book.Asks, func(i, j int) bool { return book.Asks[i].Price < book.Asks[j].Price })

	if v, ok := pick(raw, "min_order_size", "minOrderSize"); ok {
		book.MinOrderSize, _ = asFloat(v)
	}
	if v, ok := pick(raw, "tick_size", "tickSize", "minimum_tick_size"); ok {
		book.TickSize, _ = asFloat(v)
	}
	if v, ok := pick(raw, "neg_risk", "negRisk"); ok {
		if b, ok := v.(bool); ok {
			book.NegRisk = b
		}
	}
	if v, ok := pick(raw, "timestamp", "ts", "t"); ok {
		if ms, ok := asFloat(v); ok && ms > 0 {
			book.Timestamp = fromEpoch(ms)
		}
	}

	return book
}

// HistoryPoints normalizes a price history payload. The series arrives as
// {"history": [{"t": <epoch>, "p": <price>}, ...]} with epoch seconds or
// milliseconds and numeric or stringified values.
func HistoryPoints(raw map[string]interface{}) []models.PricePoint {
	if raw == nil {
		return nil
	}
	v, ok := pick(raw, "history", "prices", "points")
	if !ok {
		return nil
	}
	list, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]models.PricePoint, 0, len(list))
	for _, e := range list {
		obj, ok := e.(map[string]interface{})
		if !ok {
			continue
		}
		tv, okT := pick(obj, "t", "timestamp", "time")
		pv, okP := pick(obj, "p", "price")
		if !okT || !okP {
			continue
		}
		epoch, okT := asFloat(tv)
		price, okP := asFloat(pv)
		if !okT || !okP || epoch <= 0 {
			continue
		}
		out = append(out, models.PricePoint{Timestamp: fromEpoch(epoch), Price: price})
	}
	return out
}

// Holders normalizes a holder list payload, which may be a bare array or
// wrapped in a {"holders": [...]} envelope.
func Holders(v interface{}) []models.Holder {
	if obj, ok := v.(map[string]interface{}); ok {
		inner, ok := pick(obj, "holders", "data")
		if !ok {
			return nil
		}
		v = inner
	}
	list, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]models.Holder, 0, len(list))
	for _, e := range list {
		obj, ok := e.(map[string]interface{})
		if !ok {
			continue
		}
		h := models.Holder{}
		if av, ok := pick(obj, "proxyWallet", "proxy_wallet", "address", "wallet"); ok {
			h.Address, _ = asString(av)
		}
		if nv, ok := pick(obj, "name", "pseudonym", "displayUsernamePublic"); ok {
			h.Name, _ = asString(nv)
		}
		if sv, ok := pick(obj, "amount", "shares", "balance"); ok {
			h.Amount, _ = asFloat(sv)
		}
		if ov, ok := pick(obj, "outcome", "outcomeIndex", "outcome_index"); ok {
			h.Outcome, _ = asString(ov)
		}
		if h.Address == "" {
			continue
		}
		out = append(out, h)
	}
	return out
}

// fromEpoch interprets an epoch value as seconds or milliseconds depending
// on magnitude.
func fromEpoch(v float64) time.Time {
	if v > 1e12 {
		return time.UnixMilli(int64(v)).UTC()
	}
	return time.Unix(int64(v), 0).UTC()
}
