package logger

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type channelStat struct {
	messages int64
	bytes    int64
}

var (
	errorsStream int64
	errorsREST   int64
	warnsStream  int64
	warnsREST    int64
	streamReads  int64
	restReads    int64
	retries      int64
	reconnects   int64
	channels     sync.Map // map[string]*channelStat
)

func recordWarn(component string) {
	if strings.Contains(component, "stream") {
		atomic.AddInt64(&warnsStream, 1)
	} else if strings.Contains(component, "rest") || strings.Contains(component, "poller") {
		atomic.AddInt64(&warnsREST, 1)
	}
}

func recordError(component string) {
	if strings.Contains(component, "stream") {
		atomic.AddInt64(&errorsStream, 1)
	} else if strings.Contains(component, "rest") || strings.Contains(component, "poller") {
		atomic.AddInt64(&errorsREST, 1)
	}
}

// IncrementStreamRead records one data frame received on the websocket feed.
func IncrementStreamRead(size int) {
	atomic.AddInt64(&streamReads, 1)
	recordChannel("stream_ws", size)
}

// IncrementRESTRead records one successful REST fetch.
func IncrementRESTRead(size int) {
	atomic.AddInt64(&restReads, 1)
	recordChannel("rest_poll", size)
}

// IncrementRetryCount records one HTTP retry attempt.
func IncrementRetryCount() {
	atomic.AddInt64(&retries, 1)
}

// IncrementReconnectCount records one websocket reconnect attempt.
func IncrementReconnectCount() {
	atomic.AddInt64(&reconnects, 1)
}

func RecordChannelMessage(name string, size int) {
	recordChannel(name, size)
}

func recordChannel(name string, size int) {
	v, _ := channels.LoadOrStore(name, &channelStat{})
	cs := v.(*channelStat)
	atomic.AddInt64(&cs.messages, 1)
	atomic.AddInt64(&cs.bytes, int64(size))
}

func startReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(log)
			}
		}
	}()
}

// StartReport begins periodic logging of runtime and channel statistics.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	startReport(ctx, log, interval)
}

func logReport(log *Log) {
	channelData := map[string]map[string]int64{}
	channels.Range(func(k, v any) bool {
		name := k.(string)
		cs := v.(*channelStat)
		channelData[name] = map[string]int64{
			"messages": atomic.LoadInt64(&cs.messages),
			"bytes":    atomic.LoadInt64(&cs.bytes),
		}
		return true
	})

	fields := Fields{
		"errors_stream": atomic.LoadInt64(&errorsStream),
		"errors_rest":   atomic.LoadInt64(&errorsREST),
		"warns_stream":  atomic.LoadInt64(&warnsStream),
		"warns_rest":    atomic.LoadInt64(&warnsREST),
		"stream_reads":  atomic.LoadInt64(&streamReads),
		"rest_reads":    atomic.LoadInt64(&restReads),
		"retries":       atomic.LoadInt64(&retries),
		"reconnects":    atomic.LoadInt64(&reconnects),
		"goroutines":    runtime.NumGoroutine(),
		"channels":      channelData,
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")
}
