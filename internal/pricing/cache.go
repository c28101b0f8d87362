package pricing

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultCacheTTL matches the upstream provider's delayed-quote cadence.
const DefaultCacheTTL = 60 * time.Second

// PriceLookup is the read-side interface metrics and scoring consume. The
// bool is false when no price is available; callers must treat that as
// "unknown", never as zero.
type PriceLookup interface {
	GetPrice(ctx context.Context, ticker string) (float64, bool)
}

type cacheEntry struct {
	price     float64
	fetchedAt time.Time
}

// CachedQuotes layers a TTL cache over a QuoteSource and converts quote
// failures into a missing-price signal instead of an error. Lookups within
// the TTL never touch the network.
type CachedQuotes struct {
	mu      sync.Mutex
	source  QuoteSource
	ttl     time.Duration
	entries map[string]cacheEntry
	nowFn   func() time.Time
}

// NewCachedQuotes creates a TTL price cache over source. A non-positive ttl
// falls back to DefaultCacheTTL.
func NewCachedQuotes(source QuoteSource, ttl time.Duration) *CachedQuotes {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedQuotes{
		source:  source,
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		nowFn:   time.Now,
	}
}

// WithClock overrides the cache clock. Tests use this to advance time
// without sleeping.
func (c *CachedQuotes) WithClock(nowFn func() time.Time) *CachedQuotes {
	c.nowFn = nowFn
	return c
}

// GetPrice returns the last price for ticker, fetching through the cache.
// Returns ok=false when the quote cannot be obtained or is non-positive.
func (c *CachedQuotes) GetPrice(ctx context.Context, ticker string) (float64, bool) {
	now := c.nowFn()

	c.mu.Lock()
	entry, hit := c.entries[ticker]
	c.mu.Unlock()
	if hit && now.Sub(entry.fetchedAt) < c.ttl {
		return entry.price, true
	}

	quote, err := c.source.GetQuote(ctx, ticker)
	if err != nil || quote.Last <= 0 {
		// Serve a stale entry over nothing at all.
		if hit {
			return entry.price, true
		}
		return 0, false
	}

	c.mu.Lock()
	c.entries[ticker] = cacheEntry{price: quote.Last, fetchedAt: now}
	c.mu.Unlock()
	return quote.Last, true
}

// Invalidate drops the cached entry for ticker.
func (c *CachedQuotes) Invalidate(ticker string) {
	c.mu.Lock()
	delete(c.entries, ticker)
	c.mu.Unlock()
}

// snapshotConcurrency bounds parallel quote fetches per snapshot.
const snapshotConcurrency = 4

// Snapshot fetches prices for all tickers concurrently. Tickers with no
// available price are simply absent from the result.
func Snapshot(ctx context.Context, lookup PriceLookup, tickers []string) map[string]float64 {
	var mu sync.Mutex
	out := make(map[string]float64, len(tickers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(snapshotConcurrency)
	for _, ticker := range tickers {
		ticker := ticker
		g.Go(func() error {
			if price, ok := lookup.GetPrice(gctx, ticker); ok {
				mu.Lock()
				out[ticker] = price
				mu.Unlock()
			}
			return nil
		})
	}
	// Workers never return errors; Wait is for completion only.
	_ = g.Wait()
	return out
}

// Ensure CachedQuotes implements PriceLookup
var _ PriceLookup = (*CachedQuotes)(nil)
