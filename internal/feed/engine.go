package feed

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/Fantasim/railpay/internal/config"
	"github.com/Fantasim/railpay/internal/models"
)

// Source supplies one rail's ledger entries, sorted newest first.
type Source interface {
	Rail() models.Rail
	Entries() ([]models.LedgerEntry, error)
}

// Engine recomputes the merged feed on demand and notifies subscribers only
// when the underlying data actually changed. Each source's content is
// fingerprinted so unchanged rails cost nothing to compare.
type Engine struct {
	sources []Source
	hub     *Hub
	now     func() time.Time

	mu     sync.Mutex
	hashes map[models.Rail]uint64
}

// NewEngine creates a feed engine over the given sources.
func NewEngine(sources []Source, hub *Hub) *Engine {
	return &Engine{
		sources: sources,
		hub:     hub,
		now:     time.Now,
		hashes:  make(map[models.Rail]uint64),
	}
}

// Refresh re-fingerprints every source and broadcasts a feed_updated event
// if any rail's content changed since the last refresh. Safe to call from
// any goroutine; the settlement executor calls it after ledger mutations.
func (e *Engine) Refresh() {
	e.mu.Lock()
	defer e.mu.Unlock()

	changed := false
	for _, src := range e.sources {
		entries, err := src.Entries()
		if err != nil {
			slog.Warn("feed source read failed", "rail", src.Rail(), "error", err)
			continue
		}
		sum := hashEntries(entries)
		if e.hashes[src.Rail()] != sum {
			e.hashes[src.Rail()] = sum
			changed = true
		}
	}

	if changed && e.hub != nil {
		// Subscribers page at their own size, so the signal carries no
		// payload; each SSE connection rebuilds its page on receipt.
		e.hub.Broadcast(Event{Type: "feed_updated"})
	}
}

// Page builds one page of the merged feed. Housekeeping entries are hidden
// unless includeHousekeeping is set. A limit of 0 applies the default page
// size; the page reports Truncated when older entries exist beyond it.
func (e *Engine) Page(limit int, includeHousekeeping bool) (*models.FeedPage, error) {
	return e.buildPage(limit, includeHousekeeping)
}

func (e *Engine) buildPage(limit int, includeHousekeeping bool) (*models.FeedPage, error) {
	if limit <= 0 {
		limit = config.FeedDefaultPageSize
	}
	if limit > config.FeedMaxPageSize {
		limit = config.FeedMaxPageSize
	}

	lists := make(map[models.Rail][]models.LedgerEntry, len(e.sources))
	for _, src := range e.sources {
		entries, err := src.Entries()
		if err != nil {
			return nil, fmt.Errorf("read %s ledger: %w", src.Rail(), err)
		}
		lists[src.Rail()] = entries
	}

	merged := Merge(lists)
	if !includeHousekeeping {
		merged = dropHousekeeping(merged)
	}

	total := len(merged)
	truncated := total > limit
	if truncated {
		merged = merged[:limit]
	}
	labelGroups(merged, e.now())

	return &models.FeedPage{
		Entries:   merged,
		Truncated: truncated,
		Total:     total,
	}, nil
}

func dropHousekeeping(entries []models.MergedFeedEntry) []models.MergedFeedEntry {
	kept := entries[:0:0]
	for _, entry := range entries {
		if entry.Housekeeping {
			continue
		}
		kept = append(kept, entry)
	}
	return kept
}

// labelGroups sets GroupLabel on the first entry of each calendar day.
// Days are bucketed in now's location so the Today/Yesterday boundary
// follows the local wall clock.
func labelGroups(entries []models.MergedFeedEntry, now time.Time) {
	today := startOfDay(now)
	lastDay := ""
	for i := range entries {
		ts := time.UnixMilli(entries[i].TimestampMs).In(now.Location())
		day := ts.Format("2006-01-02")
		if day == lastDay {
			continue
		}
		lastDay = day
		entries[i].GroupLabel = dayLabel(ts, today)
	}
}

// startOfDay returns midnight of t's calendar day in t's own location.
// Truncate cuts on the UTC epoch instead and misbuckets in other zones.
func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func dayLabel(ts, today time.Time) string {
	days := int(today.Sub(startOfDay(ts)).Round(24*time.Hour).Hours() / 24)
	switch {
	case days <= 0:
		return "Today"
	case days == 1:
		return "Yesterday"
	case days <= 7:
		return fmt.Sprintf("%d days ago", days)
	default:
		return ts.Format("Jan 2, 2006")
	}
}

// hashEntries fingerprints a source's content. Any field a feed consumer
// can observe participates, so status flips are detected as changes.
func hashEntries(entries []models.LedgerEntry) uint64 {
	d := xxhash.New()
	for _, e := range entries {
		fmt.Fprintf(d, "%s|%s|%s|%s|%d|%d|%d|%s|%t\n",
			e.ID, e.Rail, e.Direction, e.Status,
			e.AmountSats, e.FeeSats, e.TimestampMs,
			e.Memo, e.Housekeeping,
		)
	}
	return d.Sum64()
}

// StoreSource adapts a ledger-store query to the Source interface.
type StoreSource struct {
	rail models.Rail
	list func(models.Rail) ([]models.LedgerEntry, error)
}

// NewStoreSource wraps a per-rail list function, typically
// (*ledger.Store).ListByRail.
func NewStoreSource(rail models.Rail, list func(models.Rail) ([]models.LedgerEntry, error)) *StoreSource {
	return &StoreSource{rail: rail, list: list}
}

func (s *StoreSource) Rail() models.Rail { return s.rail }

func (s *StoreSource) Entries() ([]models.LedgerEntry, error) {
	return s.list(s.rail)
}
