package quote

import (
	"log/slog"
	"sync"

	"github.com/Fantasim/railpay/internal/models"
)

// cacheKey identifies the exact (destination, amountSats, assetId) a quote
// was computed for. Quotes for flat-fee rails are stored under amount 0 and
// matched for any amount, since their fee does not depend on it.
type cacheKey struct {
	destination string
	amountSats  int64
	assetID     string
}

// quoteCache memoizes quote results so repeated calls for the same key never
// trigger a second network or simulation round trip. Any change to the
// amount produces a different key, which invalidates swap plans computed for
// the old amount by construction.
type quoteCache struct {
	mu      sync.Mutex
	entries map[cacheKey]*models.QuoteResult
}

func newQuoteCache() *quoteCache {
	return &quoteCache{entries: make(map[cacheKey]*models.QuoteResult)}
}

func (c *quoteCache) get(key cacheKey) (*models.QuoteResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	q, ok := c.entries[key]
	if ok {
		slog.Debug("quote cache hit",
			"amountSats", key.amountSats,
			"assetId", key.assetID,
		)
	}
	return q, ok
}

func (c *quoteCache) put(key cacheKey, q *models.QuoteResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = q
}

// invalidateDestination drops every cached quote for a destination,
// regardless of amount. Used after a settlement attempt so stale quotes do
// not survive a paid invoice.
func (c *quoteCache) invalidateDestination(destination string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if key.destination == destination {
			delete(c.entries, key)
		}
	}
}
