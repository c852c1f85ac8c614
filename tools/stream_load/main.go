// Command stream_load opens many concurrent subscriptions to the terminal
// event stream and reports how many events of each kind arrived.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// counters is shared by every subscriber goroutine.
type counters struct {
	connected   atomic.Int64
	connectErrs atomic.Int64
	streamErrs  atomic.Int64

	mu     sync.Mutex
	events map[string]int64
}

func (c *counters) event(kind string) {
	c.mu.Lock()
	c.events[kind]++
	c.mu.Unlock()
}

func (c *counters) summary() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	kinds := make([]string, 0, len(c.events))
	for k := range c.events {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)

	parts := make([]string, 0, len(kinds))
	for _, k := range kinds {
		parts = append(parts, fmt.Sprintf("%s=%d", k, c.events[k]))
	}
	return strings.Join(parts, " ")
}

func main() {
	var (
		targetURL   string
		connections int
		duration    time.Duration
		rampUp      time.Duration
	)

	flag.StringVar(&targetURL, "url", "http://localhost:8080/stream", "terminal event stream URL")
	flag.IntVar(&connections, "conns", 200, "number of concurrent subscriptions")
	flag.DurationVar(&duration, "dur", 60*time.Second, "test duration (0 for until interrupted)")
	flag.DurationVar(&rampUp, "ramp", time.Second, "spread subscription starts across this window")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	if connections <= 0 {
		logger.Fatal("Invalid connection count", zap.Int("conns", connections))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	client := &http.Client{
		Transport: &http.Transport{
			MaxConnsPerHost:     connections + 10,
			MaxIdleConnsPerHost: connections + 10,
			DisableCompression:  true,
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
		},
	}

	stats := &counters{events: make(map[string]int64)}
	start := time.Now()

	logger.Info("Starting stream load",
		zap.String("url", targetURL), zap.Int("conns", connections),
		zap.Duration("duration", duration), zap.Duration("ramp", rampUp))

	go report(ctx, logger, stats, start)

	interval := rampUp / time.Duration(connections)
	g := new(errgroup.Group)
	for i := 0; i < connections && ctx.Err() == nil; i++ {
		if i > 0 && interval > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(interval):
			}
		}
		g.Go(func() error {
			subscribe(ctx, client, targetURL, stats)
			return nil
		})
	}
	_ = g.Wait()

	fmt.Printf("done: connected=%d connect_errs=%d stream_errs=%d elapsed=%s %s\n",
		stats.connected.Load(), stats.connectErrs.Load(), stats.streamErrs.Load(),
		time.Since(start).Truncate(time.Millisecond), stats.summary())
}

func subscribe(ctx context.Context, client *http.Client, url string, stats *counters) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		stats.connectErrs.Add(1)
		return
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := client.Do(req)
	if err != nil {
		stats.connectErrs.Add(1)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		stats.connectErrs.Add(1)
		return
	}
	stats.connected.Add(1)

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if kind, ok := strings.CutPrefix(line, "event: "); ok {
			stats.event(kind)
		} else if strings.HasPrefix(line, ": ") {
			stats.event("heartbeat")
		}
	}
	if ctx.Err() == nil {
		stats.streamErrs.Add(1)
	}
}

func report(ctx context.Context, logger *zap.Logger, stats *counters, start time.Time) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.Info("Status",
				zap.Int64("connected", stats.connected.Load()),
				zap.Int64("connect_errs", stats.connectErrs.Load()),
				zap.Int64("stream_errs", stats.streamErrs.Load()),
				zap.String("events", stats.summary()),
				zap.Duration("elapsed", time.Since(start).Truncate(time.Second)))
		}
	}
}
