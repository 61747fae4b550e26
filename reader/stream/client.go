package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"polyflow/config"
	"polyflow/internal/normalize"
	"polyflow/logger"
	"polyflow/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Client maintains one market-channel websocket connection: subscribe on
// open, heartbeat-based staleness detection, reconnect with exponential
// backoff and jitter. Transport failures never surface as errors; they are
// reported as status events and trigger the reconnect loop. The only
// terminal state is a caller-initiated Close.
type Client struct {
	cfg config.StreamConfig
	url string
	log *logger.Log

	mu      sync.Mutex
	assets  map[string]struct{}
	conn    *websocket.Conn
	writeMu sync.Mutex
	status  models.ConnStatus
	attempt int
	running bool

	closed  atomic.Bool
	lastMsg atomic.Int64 // unix nanos of last received frame

	events chan Event
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewClient creates a stream client for the given asset identifiers. The
// connection is not opened until Start.
func NewClient(cfg config.StreamConfig, wsURL string, assetIDs []string, eventBuffer int) *Client {
	assets := make(map[string]struct{}, len(assetIDs))
	for _, id := range assetIDs {
		assets[id] = struct{}{}
	}
	if eventBuffer <= 0 {
		eventBuffer = 256
	}
	return &Client{
		cfg:    cfg,
		url:    wsURL,
		log:    logger.GetLogger(),
		assets: assets,
		status: models.ConnConnecting,
		events: make(chan Event, eventBuffer),
	}
}

// Start launches the connect/read/reconnect loop.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("stream client already running")
	}
	c.running = true
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	c.log.WithComponent("stream_client").WithFields(logger.Fields{
		"url":    c.url,
		"assets": len(c.assets),
	}).Info("starting stream client")

	c.wg.Add(1)
	go c.run()
	return nil
}

// Events returns the tagged-union event channel. It is closed after Close
// (or context cancellation) once all goroutines have stopped.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Status returns the current connection status.
func (c *Client) Status() models.ConnStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Close terminates the client. It is idempotent; after it returns no further
// events are delivered and no reconnects are scheduled.
func (c *Client) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	if c.conn != nil {
		c.conn.Close()
	}
	c.mu.Unlock()
	c.wg.Wait()
	close(c.events)
	c.log.WithComponent("stream_client").Info("stream client closed")
}

// Subscribe adds asset ids to the subscription set. When the transport is
// open an incremental op is sent; otherwise the ids are only recorded and
// the next reconnect re-subscribes the full set.
func (c *Client) Subscribe(assetIDs ...string) {
	c.updateSubscription("subscribe", assetIDs)
}

// Unsubscribe removes asset ids from the subscription set.
func (c *Client) Unsubscribe(assetIDs ...string) {
	c.updateSubscription("unsubscribe", assetIDs)
}

func (c *Client) updateSubscription(action string, assetIDs []string) {
	if len(assetIDs) == 0 {
		return
	}
	c.mu.Lock()
	for _, id := range assetIDs {
		if action == "subscribe" {
			c.assets[id] = struct{}{}
		} else {
			delete(c.assets, id)
		}
	}
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		// Not connected: the full set is re-sent on reconnect, so the
		// incremental op can be dropped safely.
		return
	}
	frame := opFrame{Type: "market", Action: action, AssetsIDs: assetIDs}
	if err := c.writeJSON(conn, frame); err != nil {
		c.log.WithComponent("stream_client").WithError(err).Warn("failed to send subscription op")
	}
}

func (c *Client) run() {
	defer c.wg.Done()

	for {
		if c.closed.Load() || c.ctx.Err() != nil {
			c.setStatus(models.ConnClosed, nil)
			return
		}

		c.setStatus(models.ConnConnecting, nil)
		conn, err := c.dial()
		if err != nil {
			if c.closed.Load() || c.ctx.Err() != nil {
				c.setStatus(models.ConnClosed, nil)
				return
			}
			c.setStatus(models.ConnError, err)
			if !c.sleepBeforeReconnect() {
				return
			}
			continue
		}

		// Successful open: reset the backoff schedule and subscribe the
		// full current asset set.
		c.mu.Lock()
		c.conn = conn
		c.attempt = 0
		c.mu.Unlock()
		c.lastMsg.Store(time.Now().UnixNano())
		c.log.WithComponent("stream_client").WithFields(logger.Fields{
			"conn_id": uuid.NewString(),
			"url":     c.url,
		}).Info("websocket connected")
		c.setStatus(models.ConnConnected, nil)

		if err := c.sendSubscribe(conn); err != nil {
			c.log.WithComponent("stream_client").WithError(err).Warn("failed to subscribe")
			conn.Close()
			c.clearConn()
			if !c.sleepBeforeReconnect() {
				return
			}
			continue
		}

		stale := c.readLoop(conn)
		c.clearConn()

		if c.closed.Load() || c.ctx.Err() != nil {
			c.setStatus(models.ConnClosed, nil)
			return
		}
		if !stale {
			// Remote or error close; staleness already emitted its status.
			c.setStatus(models.ConnError, nil)
		}
		if !c.sleepBeforeReconnect() {
			return
		}
	}
}

func (c *Client) dial() (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.DialContext(c.ctx, c.url, nil)
	return conn, err
}

func (c *Client) sendSubscribe(conn *websocket.Conn) error {
	c.mu.Lock()
	ids := make([]string, 0, len(c.assets))
	for id := range c.assets {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	return c.writeJSON(conn, subscribeFrame{
		Type:                 "market",
		AssetsIDs:            ids,
		CustomFeatureEnabled: true,
	})
}

// readLoop consumes frames until the connection drops. It returns true when
// the loop ended because the staleness watchdog force-closed the transport.
func (c *Client) readLoop(conn *websocket.Conn) (stale bool) {
	log := c.log.WithComponent("stream_client")

	// Transport-level pings also count as liveness.
	conn.SetPingHandler(func(appData string) error {
		c.lastMsg.Store(time.Now().UnixNano())
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})

	var staleFlag atomic.Bool
	watchdogDone := make(chan struct{})
	defer close(watchdogDone)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-watchdogDone:
				return
			case <-c.ctx.Done():
				return
			case <-ticker.C:
				last := time.Unix(0, c.lastMsg.Load())
				if time.Since(last) > c.cfg.StaleThreshold {
					// A dead peer may never send a TCP close; force the
					// transport down so the reconnect loop takes over.
					staleFlag.Store(true)
					c.setStatus(models.ConnStale, nil)
					log.WithFields(logger.Fields{
						"last_message_age_ms": time.Since(last).Milliseconds(),
					}).Warn("stream stale, forcing reconnect")
					conn.Close()
					return
				}
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			if !c.closed.Load() && !staleFlag.Load() && c.ctx.Err() == nil {
				log.WithError(err).Warn("websocket read error")
			}
			return staleFlag.Load()
		}
		c.lastMsg.Store(time.Now().UnixNano())
		c.handleFrame(conn, msg)
	}
}

// handleFrame echoes heartbeats and forwards normalized data events.
func (c *Client) handleFrame(conn *websocket.Conn, msg []byte) {
	var ping pingFrame
	if err := json.Unmarshal(msg, &ping); err == nil && (ping.Type == "ping" || ping.Type == "PING") {
		pong := pingFrame{Type: "pong", ID: ping.ID}
		if err := c.writeJSON(conn, pong); err != nil {
			c.log.WithComponent("stream_client").WithError(err).Warn("failed to send pong")
		}
		return
	}

	now := time.Now()
	updates, books, err := normalize.Frame(msg, now)
	if err != nil {
		// Malformed frames are reported, never fatal.
		c.emit(Event{Kind: KindStatus, Status: c.Status(), Err: err})
		return
	}
	logger.IncrementStreamRead(len(msg))
	for _, u := range updates {
		c.emit(Event{Kind: KindUpdate, Status: models.ConnConnected, Update: u})
	}
	for _, b := range books {
		c.emit(Event{Kind: KindBook, Status: models.ConnConnected, Book: b})
	}
}

func (c *Client) emit(ev Event) {
	if c.closed.Load() {
		return
	}
	select {
	case c.events <- ev:
	default:
		c.log.WithComponent("stream_client").Warn("event channel full, dropping event")
	}
}

func (c *Client) setStatus(status models.ConnStatus, err error) {
	c.mu.Lock()
	changed := c.status != status
	c.status = status
	c.mu.Unlock()
	if changed || err != nil {
		c.emit(Event{Kind: KindStatus, Status: status, Err: err})
	}
}

// sleepBeforeReconnect waits out the backoff delay for the next attempt.
// Returns false when the client was closed while waiting.
func (c *Client) sleepBeforeReconnect() bool {
	c.mu.Lock()
	c.attempt++
	attempt := c.attempt
	c.mu.Unlock()

	delay := reconnectDelay(c.cfg.ReconnectBaseDelay, c.cfg.ReconnectMaxDelay, attempt)
	delay += time.Duration(rand.Intn(200)) * time.Millisecond
	logger.IncrementReconnectCount()
	c.log.WithComponent("stream_client").WithFields(logger.Fields{
		"attempt":  attempt,
		"delay_ms": delay.Milliseconds(),
	}).Info("scheduling reconnect")

	select {
	case <-time.After(delay):
		return true
	case <-c.ctx.Done():
		return false
	}
}

func (c *Client) clearConn() {
	c.mu.Lock()
	c.conn = nil
	c.mu.Unlock()
}

func (c *Client) writeJSON(conn *websocket.Conn, v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(v)
}

// reconnectDelay is the pre-jitter backoff for the given attempt (1-based):
// base * 2^(attempt-1), bounded by max.
func reconnectDelay(base, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
