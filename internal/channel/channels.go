package channel

import (
	"context"
	"sync"
	"time"

	"polyflow/logger"
	"polyflow/models"
)

type ChannelStats struct {
	UpdatesSent    int64
	BooksSent      int64
	UpdatesDropped int64
	BooksDropped   int64
}

// Channels carries normalized stream data from the websocket reader to the
// reconciler. Sends never block: when a buffer is full the message is
// dropped and counted, keeping the reader loop responsive.
type Channels struct {
	Updates chan models.StreamUpdate
	Books   chan *models.OrderbookState

	stats      ChannelStats
	statsMutex sync.RWMutex

	closeMutex sync.RWMutex
	closed     bool

	log *logger.Log
}

func NewChannels(updateBufferSize, bookBufferSize int) *Channels {
	log := logger.GetLogger()
	c := &Channels{
		Updates: make(chan models.StreamUpdate, updateBufferSize),
		Books:   make(chan *models.OrderbookState, bookBufferSize),
		log:     log,
	}

	log.WithComponent("channels").WithFields(logger.Fields{
		"update_buffer_size": updateBufferSize,
		"book_buffer_size":   bookBufferSize,
	}).Info("channels initialized")

	return c
}

// Close is idempotent. Sends that race a Close are counted as drops instead
// of panicking on the closed channel.
func (c *Channels) Close() {
	c.closeMutex.Lock()
	defer c.closeMutex.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.Updates)
	close(c.Books)
	c.log.WithComponent("channels").Info("channels closed")
}

func (c *Channels) SendUpdate(ctx context.Context, u models.StreamUpdate) bool {
	c.closeMutex.RLock()
	defer c.closeMutex.RUnlock()
	if c.closed {
		c.statsMutex.Lock()
		c.stats.UpdatesDropped++
		c.statsMutex.Unlock()
		return false
	}
	select {
	case c.Updates <- u:
		c.statsMutex.Lock()
		c.stats.UpdatesSent++
		c.statsMutex.Unlock()
		return true
	case <-ctx.Done():
		return false
	default:
		c.statsMutex.Lock()
		c.stats.UpdatesDropped++
		c.statsMutex.Unlock()
		return false
	}
}

func (c *Channels) SendBook(ctx context.Context, b *models.OrderbookState) bool {
	c.closeMutex.RLock()
	defer c.closeMutex.RUnlock()
	if c.closed {
		c.statsMutex.Lock()
		c.stats.BooksDropped++
		c.statsMutex.Unlock()
		return false
	}
	select {
	case c.Books <- b:
		c.statsMutex.Lock()
		c.stats.BooksSent++
		c.statsMutex.Unlock()
		return true
	case <-ctx.Done():
		return false
	default:
		c.statsMutex.Lock()
		c.stats.BooksDropped++
		c.statsMutex.Unlock()
		return false
	}
}

func (c *Channels) GetStats() ChannelStats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}

// StartMetricsReporting periodically emits channel depth and drop metrics
// through the log sink until the context is cancelled.
func (c *Channels) StartMetricsReporting(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := c.GetStats()
			c.log.LogMetric("channels", "updates_depth", len(c.Updates), "gauge", nil)
			c.log.LogMetric("channels", "books_depth", len(c.Books), "gauge", nil)
			c.log.LogMetric("channels", "updates_dropped", stats.UpdatesDropped, "counter", nil)
			c.log.LogMetric("channels", "books_dropped", stats.BooksDropped, "counter", nil)
		}
	}
}
