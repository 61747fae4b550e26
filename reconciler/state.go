package reconciler

import (
	"sync"
	"time"

	"polyflow/config"
	"polyflow/models"
)

// State is the per-market merge point for REST snapshots and stream deltas.
// The live price fields follow source priority: a stream update always wins
// immediately, a REST poll only lands when the stream has been quiet for the
// configured freshness window. Book, history and holders are REST-only and
// age independently.
type State struct {
	cfg config.ReconcilerConfig

	mu       sync.RWMutex
	view     models.ReconciledView
	streamAt time.Time
}

func NewState(cfg config.ReconcilerConfig, market models.CanonicalMarket) *State {
	return &State{
		cfg:  cfg,
		view: models.ReconciledView{Market: market},
	}
}

// Market returns the immutable descriptor this state was built for.
func (s *State) Market() models.CanonicalMarket {
	return s.view.Market
}

// accepts filters events to the market's primary outcome token. Updates for
// sibling tokens of the same market are ignored rather than merged.
func (s *State) accepts(assetID string) bool {
	return assetID == s.view.Market.PrimaryToken()
}

// ApplyStream overwrites the live price fields unconditionally and stamps
// them stream-sourced.
func (s *State) ApplyStream(u models.StreamUpdate) {
	if !s.accepts(u.AssetID) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	switch u.Kind {
	case models.EventBestBidAsk, models.EventPriceChange:
		if u.BestBid > 0 {
			s.view.Price.BestBid = u.BestBid
		}
		if u.BestAsk > 0 {
			s.view.Price.BestAsk = u.BestAsk
		}
	case models.EventLastTradePrice:
		if u.LastTrade > 0 {
			s.view.Price.LastTrade = u.LastTrade
		}
	default:
		return
	}
	now := time.Now()
	s.view.Price.Source = models.SourceStream
	s.view.Price.UpdatedAt = now
	s.streamAt = now
}

// ApplyRESTPrice lands a REST-sourced bid/ask baseline, unless the stream has
// written within the freshness window. This keeps a slow poll response from
// clobbering a newer stream value.
func (s *State) ApplyRESTPrice(bid, ask float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.streamAt.IsZero() && time.Since(s.streamAt) < s.cfg.StreamFreshness {
		return
	}
	if bid > 0 {
		s.view.Price.BestBid = bid
	}
	if ask > 0 {
		s.view.Price.BestAsk = ask
	}
	s.view.Price.Source = models.SourceREST
	s.view.Price.UpdatedAt = time.Now()
}

// ApplyBook replaces the order-book snapshot. Book events from the stream and
// REST polls go through the same path; the book has no source priority.
func (s *State) ApplyBook(b *models.OrderbookState) {
	if b == nil || !s.accepts(b.AssetID) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.view.Book = *b
	s.view.BookUpdatedAt = time.Now()
}

// ApplyHistory replaces the rolling price-history window, keeping at most the
// configured number of most recent points.
func (s *State) ApplyHistory(points []models.PricePoint) {
	if len(points) == 0 {
		return
	}
	if max := s.cfg.HistoryMaxPoints; max > 0 && len(points) > max {
		points = points[len(points)-max:]
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.view.History = points
	s.view.HistoryUpdatedAt = time.Now()
}

// ApplyHolders replaces the holder list.
func (s *State) ApplyHolders(holders []models.Holder) {
	if len(holders) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.view.Holders = holders
	s.view.HoldersUpdatedAt = time.Now()
}

// View returns a copy of the merged state with staleness flags computed at
// read time against the per-substate thresholds.
func (s *State) View() models.ReconciledView {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v := s.view
	v.Book.Bids = append([]models.OrderbookLevel(nil), s.view.Book.Bids...)
	v.Book.Asks = append([]models.OrderbookLevel(nil), s.view.Book.Asks...)
	v.History = append([]models.PricePoint(nil), s.view.History...)
	v.Holders = append([]models.Holder(nil), s.view.Holders...)

	now := time.Now()
	v.PriceStale = stale(now, s.view.Price.UpdatedAt, s.cfg.PriceStaleAfter)
	v.BookStale = stale(now, s.view.BookUpdatedAt, s.cfg.BookStaleAfter)
	v.HistoryStale = stale(now, s.view.HistoryUpdatedAt, s.cfg.HistoryStale)
	v.HoldersStale = stale(now, s.view.HoldersUpdatedAt, s.cfg.HoldersStale)
	return v
}

func stale(now, updatedAt time.Time, threshold time.Duration) bool {
	if updatedAt.IsZero() {
		return true
	}
	if threshold <= 0 {
		return false
	}
	return now.Sub(updatedAt) > threshold
}
