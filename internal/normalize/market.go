package normalize

import (
	"encoding/json"

	"polyflow/models"
)

// Default outcome labels for binary markets whose payload omitted them.
var defaultOutcomes = []string{"YES", "NO"}

// Market converts a raw market payload (Gamma or CLOB shape) into a
// CanonicalMarket. It returns nil when the record is unusable: no condition
// identifier or no outcome tokens. All other fields are optional.
func Market(raw map[string]interface{}) *models.CanonicalMarket {
	if raw == nil {
		return nil
	}

	m := &models.CanonicalMarket{}

	if v, ok := pick(raw, "conditionId", "condition_id", "conditionID"); ok {
		m.ConditionID, _ = asString(v)
	}
	if m.ConditionID == "" {
		return nil
	}

	if v, ok := pick(raw, "id", "marketId", "market_id", "questionID", "question_id"); ok {
		m.MarketID, _ = asString(v)
	}
	if v, ok := pick(raw, "question", "title", "name"); ok {
		m.Question, _ = asString(v)
	}
	if v, ok := pick(raw, "slug", "marketSlug", "market_slug"); ok {
		m.Slug, _ = asString(v)
	}

	if v, ok := pick(raw, "clobTokenIds", "clob_token_ids", "tokenIds", "token_ids"); ok {
		m.ClobTokenIDs = asStringSlice(v)
	}
	if v, ok := pick(raw, "outcomes", "outcomeNames", "outcome_names"); ok {
		m.Outcomes = asStringSlice(v)
	}

	// CLOB market records carry aligned outcome/token pairs in a tokens list.
	if len(m.ClobTokenIDs) == 0 {
		if v, ok := pick(raw, "tokens"); ok {
			tokens, outcomes := tokenPairs(v)
			m.ClobTokenIDs = tokens
			if len(m.Outcomes) == 0 {
				m.Outcomes = outcomes
			}
		}
	}
	if len(m.ClobTokenIDs) == 0 {
		return nil
	}

	if len(m.Outcomes) == 0 {
		m.Outcomes = append([]string(nil), defaultOutcomes...)
	}
	// Consumers index outcomes and tokens in parallel; trim to the shorter
	// list when a source disagrees about the market's arity.
	if len(m.Outcomes) != len(m.ClobTokenIDs) {
		n := len(m.Outcomes)
		if len(m.ClobTokenIDs) < n {
			n = len(m.ClobTokenIDs)
		}
		if n == 0 {
			return nil
		}
		m.Outcomes = m.Outcomes[:n]
		m.ClobTokenIDs = m.ClobTokenIDs[:n]
	}

	if v, ok := pick(raw, "volume24hr", "volume_24hr", "volume24h", "volume_24h", "volume"); ok {
		m.Volume24h, _ = asFloat(v)
	}
	if v, ok := pick(raw, "oneDayPriceChange", "price_change_24h", "priceChange24h"); ok {
		m.PriceChange24h, _ = asFloat(v)
	}
	if v, ok := pick(raw, "bestBid", "best_bid"); ok {
		m.BestBid, _ = asFloat(v)
	}
	if v, ok := pick(raw, "bestAsk", "best_ask"); ok {
		m.BestAsk, _ = asFloat(v)
	}

	return m
}

// MarketFromJSON decodes and normalizes a single raw market document.
func MarketFromJSON(data []byte) *models.CanonicalMarket {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}
	return Market(raw)
}

// tokenPairs extracts aligned (tokenID, outcome) lists from a CLOB-style
// tokens array of {token_id, outcome} objects.
func tokenPairs(v interface{}) (tokens []string, outcomes []string) {
	list, ok := v.([]interface{})
	if !ok {
		return nil, nil
	}
	for _, e := range list {
		obj, ok := e.(map[string]interface{})
		if !ok {
			continue
		}
		idVal, ok := pick(obj, "token_id", "tokenId", "tokenID", "id")
		if !ok {
			continue
		}
		id, ok := asString(idVal)
		if !ok {
			continue
		}
		outcome := ""
		if ov, ok := pick(obj, "outcome", "name"); ok {
			outcome, _ = asString(ov)
		}
		tokens = append(tokens, id)
		outcomes = append(outcomes, outcome)
	}
	return tokens, outcomes
}
