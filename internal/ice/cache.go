package ice

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/akindo/peerlink/internal/signal"
)

const (
	// DefaultRefreshInterval spaces out provider fetches. TURN REST
	// credentials are typically issued with multi-hour TTLs, so half an
	// hour keeps plenty of margin.
	DefaultRefreshInterval = 30 * time.Minute

	fetchTimeout    = 10 * time.Second
	maxResponseSize = 1 << 20
)

// Snapshot is one atomically-replaced view of the traversal-server list.
type Snapshot struct {
	Servers   []signal.ICEServer
	FetchedAt time.Time
}

// Cache serves the most recent credential snapshot. A background loop (Run)
// refreshes it on a fixed interval; readers never wait on a fetch in
// progress, and a failed fetch leaves the previous snapshot intact.
//
// With an empty provider URL the cache is static: it serves the built-in
// STUN list and Run returns immediately.
type Cache struct {
	providerURL string
	interval    time.Duration
	client      *http.Client

	mu   sync.RWMutex
	snap Snapshot
}

// NewCache creates a cache for the given provider URL. interval <= 0 falls
// back to DefaultRefreshInterval.
func NewCache(providerURL string, interval time.Duration) *Cache {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	c := &Cache{
		providerURL: providerURL,
		interval:    interval,
		client:      &http.Client{Timeout: fetchTimeout},
	}
	if providerURL == "" {
		c.snap = Snapshot{Servers: defaultSTUNServers, FetchedAt: time.Now()}
	}
	return c
}

// Current returns the latest snapshot. Non-blocking, safe for concurrent
// readers while Run refreshes in the background. Before the first successful
// fetch the server list is empty.
func (c *Cache) Current() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// Run fetches once immediately and then on every interval tick until ctx is
// cancelled. A failed fetch is logged through logf and the previous snapshot
// is retained; the next tick retries.
func (c *Cache) Run(ctx context.Context, logf func(format string, args ...interface{})) {
	if c.providerURL == "" {
		return
	}
	if logf == nil {
		logf = func(string, ...interface{}) {}
	}

	if err := c.refresh(ctx); err != nil {
		logf("ice credential fetch failed: %v", err)
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.refresh(ctx); err != nil {
				logf("ice credential fetch failed: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// refresh fetches and parses one provider response, replacing the snapshot
// only on success.
func (c *Cache) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.providerURL, nil)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("provider returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return err
	}

	servers, err := parseServers(body)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.snap = Snapshot{Servers: servers, FetchedAt: time.Now()}
	c.mu.Unlock()
	return nil
}
