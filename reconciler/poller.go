package reconciler

import (
	"context"
	"net/url"
	"strconv"
	"sync"
	"time"

	"polyflow/config"
	"polyflow/internal/channel"
	"polyflow/internal/normalize"
	"polyflow/internal/rest"
	"polyflow/logger"
)

// Poller drives the REST baselines for one market state: bid/ask prices,
// order-book snapshots, price history and the holder list, each on its own
// cadence. Fetch failures are logged and the substate simply ages toward
// stale; nothing here can crash the process.
type Poller struct {
	cfg     config.ReconcilerConfig
	client  *rest.Client
	clobURL string
	dataURL string
	state   *State
	log     *logger.Log
	wg      sync.WaitGroup
}

func NewPoller(cfg config.ReconcilerConfig, client *rest.Client, clobURL, dataURL string, state *State) *Poller {
	return &Poller{
		cfg:     cfg,
		client:  client,
		clobURL: clobURL,
		dataURL: dataURL,
		state:   state,
		log:     logger.GetLogger(),
	}
}

// Start launches one worker per substate. Each worker fetches once
// immediately so the view fills before the first tick.
func (p *Poller) Start(ctx context.Context) {
	workers := []struct {
		name     string
		interval time.Duration
		fetch    func(context.Context) error
	}{
		{"price", p.cfg.PriceInterval, p.fetchPrice},
		{"book", p.cfg.BookInterval, p.fetchBook},
		{"history", p.cfg.HistoryInterval, p.fetchHistory},
		{"holders", p.cfg.HoldersInterval, p.fetchHolders},
	}
	for _, w := range workers {
		if w.interval <= 0 {
			continue
		}
		p.wg.Add(1)
		go p.runWorker(ctx, w.name, w.interval, w.fetch)
	}
}

// Wait blocks until all workers have observed cancellation and returned.
func (p *Poller) Wait() {
	p.wg.Wait()
}

func (p *Poller) runWorker(ctx context.Context, name string, interval time.Duration, fetch func(context.Context) error) {
	defer p.wg.Done()
	log := p.log.WithComponent("poller").WithFields(logger.Fields{
		"worker":   name,
		"market":   p.state.Market().ConditionID,
		"interval": interval.String(),
	})
	log.Info("starting poll worker")

	if err := fetch(ctx); err != nil && ctx.Err() == nil {
		log.WithError(err).Warn("initial fetch failed")
	}

	for {
		// Align ticks to the interval boundary so cadences stay predictable
		// regardless of how long each fetch took.
		next := time.Now().Truncate(interval).Add(interval)
		select {
		case <-ctx.Done():
			log.Info("poll worker stopped")
			return
		case <-time.After(time.Until(next)):
		}
		if err := fetch(ctx); err != nil && ctx.Err() == nil {
			log.WithError(err).Warn("fetch failed")
		}
	}
}

// priceResponse is the CLOB /price payload, a single stringified decimal.
type priceResponse struct {
	Price string `json:"price"`
}

// fetchPrice reads the REST bid/ask baseline. The buy side quotes the best
// ask, the sell side the best bid.
func (p *Poller) fetchPrice(ctx context.Context) error {
	market := p.state.Market()
	token := market.PrimaryToken()

	var buy, sell priceResponse
	if err := p.client.GetJSON(ctx, p.clobURL+"/price", url.Values{"token_id": {token}, "side": {"buy"}}, &buy); err != nil {
		return err
	}
	if err := p.client.GetJSON(ctx, p.clobURL+"/price", url.Values{"token_id": {token}, "side": {"sell"}}, &sell); err != nil {
		return err
	}

	ask, _ := strconv.ParseFloat(buy.Price, 64)
	bid, _ := strconv.ParseFloat(sell.Price, 64)
	if bid == 0 && ask == 0 {
		return nil
	}
	p.state.ApplyRESTPrice(bid, ask)
	return nil
}

func (p *Poller) fetchBook(ctx context.Context) error {
	market := p.state.Market()
	token := market.PrimaryToken()

	var raw map[string]interface{}
	if err := p.client.GetJSON(ctx, p.clobURL+"/book", url.Values{"token_id": {token}}, &raw); err != nil {
		return err
	}
	book := normalize.Book(raw, time.Now())
	if book == nil {
		return nil
	}
	if book.AssetID == "" {
		book.AssetID = token
	}
	p.state.ApplyBook(book)
	return nil
}

func (p *Poller) fetchHistory(ctx context.Context) error {
	market := p.state.Market()
	token := market.PrimaryToken()

	var raw map[string]interface{}
	query := url.Values{"market": {token}, "interval": {"1d"}}
	if err := p.client.GetJSON(ctx, p.clobURL+"/prices-history", query, &raw); err != nil {
		return err
	}
	p.state.ApplyHistory(normalize.HistoryPoints(raw))
	return nil
}

func (p *Poller) fetchHolders(ctx context.Context) error {
	condition := p.state.Market().ConditionID

	var raw interface{}
	query := url.Values{"market": {condition}}
	if p.cfg.HoldersLimit > 0 {
		query.Set("limit", strconv.Itoa(p.cfg.HoldersLimit))
	}
	if err := p.client.GetJSON(ctx, p.dataURL+"/holders", query, &raw); err != nil {
		return err
	}
	p.state.ApplyHolders(normalize.Holders(raw))
	return nil
}

// Consume drains normalized stream events from the channels into the state
// until the context is cancelled or both channels close.
func Consume(ctx context.Context, ch *channel.Channels, st *State) {
	updates, books := ch.Updates, ch.Books
	for updates != nil || books != nil {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			st.ApplyStream(u)
		case b, ok := <-books:
			if !ok {
				books = nil
				continue
			}
			st.ApplyBook(b)
		}
	}
}
