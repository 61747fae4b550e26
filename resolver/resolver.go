package resolver

import (
	"context"
	"errors"
	"net/url"

	"polyflow/internal/normalize"
	"polyflow/internal/rest"
	"polyflow/logger"
	"polyflow/models"
)

// ErrNotFound is returned when every lookup strategy has been exhausted.
var ErrNotFound = errors.New("market not found")

// Query identifies the market to resolve. Either field may be empty; the
// fallback chain skips strategies whose input is missing.
type Query struct {
	Slug        string
	ConditionID string
}

// Resolver turns a slug or condition identifier into a canonical market by
// walking an ordered chain of lookup strategies. Every step's failure, a
// request error, an empty result or an un-normalizable payload, means "try
// the next step" and is logged rather than propagated. Only an exhausted
// chain surfaces ErrNotFound.
type Resolver struct {
	client   *rest.Client
	gammaURL string
	log      *logger.Log
}

func New(client *rest.Client, gammaURL string) *Resolver {
	return &Resolver{
		client:   client,
		gammaURL: gammaURL,
		log:      logger.GetLogger(),
	}
}

// Resolve walks the fallback chain:
//  1. slug: market-by-slug, then event-by-slug taking the first constituent
//     market
//  2. condition id: market-by-condition-id, then a scan of the candidate list
//  3. first usable candidate
func (r *Resolver) Resolve(ctx context.Context, q Query, candidates []map[string]interface{}) (*models.CanonicalMarket, error) {
	log := r.log.WithComponent("resolver").WithFields(logger.Fields{
		"slug":         q.Slug,
		"condition_id": q.ConditionID,
	})

	if q.Slug != "" {
		if m := r.marketBySlug(ctx, q.Slug); m != nil {
			return m, nil
		}
		log.Debug("market-by-slug yielded nothing, trying event-by-slug")
		if m := r.eventBySlug(ctx, q.Slug); m != nil {
			return m, nil
		}
	}

	if q.ConditionID != "" {
		if m := r.marketByConditionID(ctx, q.ConditionID); m != nil {
			return m, nil
		}
		log.Debug("market-by-condition-id yielded nothing, scanning candidates")
		for _, raw := range candidates {
			if m := normalize.Market(raw); m != nil && m.ConditionID == q.ConditionID {
				return m, nil
			}
		}
	}

	for _, raw := range candidates {
		if m := normalize.Market(raw); m != nil {
			return m, nil
		}
	}

	log.Warn("all lookup strategies exhausted")
	return nil, ErrNotFound
}

func (r *Resolver) marketBySlug(ctx context.Context, slug string) *models.CanonicalMarket {
	var raw []map[string]interface{}
	err := r.client.GetJSON(ctx, r.gammaURL+"/markets", url.Values{"slug": {slug}}, &raw)
	if err != nil {
		r.log.WithComponent("resolver").WithError(err).
			WithFields(logger.Fields{"slug": slug}).Warn("market-by-slug lookup failed")
		return nil
	}
	return firstUsable(raw)
}

func (r *Resolver) eventBySlug(ctx context.Context, slug string) *models.CanonicalMarket {
	var events []map[string]interface{}
	err := r.client.GetJSON(ctx, r.gammaURL+"/events", url.Values{"slug": {slug}}, &events)
	if err != nil {
		r.log.WithComponent("resolver").WithError(err).
			WithFields(logger.Fields{"slug": slug}).Warn("event-by-slug lookup failed")
		return nil
	}
	for _, ev := range events {
		markets, ok := ev["markets"].([]interface{})
		if !ok {
			continue
		}
		for _, item := range markets {
			raw, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			if m := normalize.Market(raw); m != nil {
				return m
			}
		}
	}
	return nil
}

func (r *Resolver) marketByConditionID(ctx context.Context, conditionID string) *models.CanonicalMarket {
	var raw []map[string]interface{}
	err := r.client.GetJSON(ctx, r.gammaURL+"/markets", url.Values{"condition_ids": {conditionID}}, &raw)
	if err != nil {
		r.log.WithComponent("resolver").WithError(err).
			WithFields(logger.Fields{"condition_id": conditionID}).Warn("market-by-condition-id lookup failed")
		return nil
	}
	for _, item := range raw {
		if m := normalize.Market(item); m != nil && m.ConditionID == conditionID {
			return m
		}
	}
	return nil
}

func firstUsable(raw []map[string]interface{}) *models.CanonicalMarket {
	for _, item := range raw {
		if m := normalize.Market(item); m != nil {
			return m
		}
	}
	return nil
}
