// Package feed merges the per-rail ledgers into one chronological activity
// feed and broadcasts change notifications to connected clients.
package feed

import (
	"container/heap"

	"github.com/Fantasim/railpay/internal/models"
)

// railPriority breaks timestamp ties deterministically: rails earlier in
// the preference order sort first.
var railPriority = func() map[models.Rail]int {
	m := make(map[models.Rail]int, len(models.AllRails))
	for i, rail := range models.AllRails {
		m[rail] = i
	}
	return m
}()

// mergeItem points at the next unconsumed entry of one source list.
type mergeItem struct {
	entries []models.LedgerEntry
	pos     int
	rail    models.Rail
}

func (it *mergeItem) head() *models.LedgerEntry {
	return &it.entries[it.pos]
}

// mergeHeap is a max-heap over the heads of the source lists: newest entry
// first, ties broken by rail priority then descending id.
type mergeHeap []*mergeItem

func (h mergeHeap) Len() int { return len(h) }

func (h mergeHeap) Less(i, j int) bool {
	a, b := h[i].head(), h[j].head()
	if a.TimestampMs != b.TimestampMs {
		return a.TimestampMs > b.TimestampMs
	}
	pa, pb := railPriority[h[i].rail], railPriority[h[j].rail]
	if pa != pb {
		return pa < pb
	}
	return a.ID > b.ID
}

func (h mergeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *mergeHeap) Push(x any) { *h = append(*h, x.(*mergeItem)) }

func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// Merge combines per-rail entry lists, each already sorted newest first,
// into one list sorted newest first. The merge is stable and deterministic:
// equal timestamps order by rail preference, then by id.
func Merge(lists map[models.Rail][]models.LedgerEntry) []models.MergedFeedEntry {
	h := make(mergeHeap, 0, len(lists))
	total := 0
	for _, rail := range models.AllRails {
		entries := lists[rail]
		if len(entries) == 0 {
			continue
		}
		h = append(h, &mergeItem{entries: entries, rail: rail})
		total += len(entries)
	}
	heap.Init(&h)

	merged := make([]models.MergedFeedEntry, 0, total)
	for h.Len() > 0 {
		it := h[0]
		merged = append(merged, models.MergedFeedEntry{
			LedgerEntry: *it.head(),
			SourceRail:  it.rail,
		})
		it.pos++
		if it.pos == len(it.entries) {
			heap.Pop(&h)
		} else {
			heap.Fix(&h, 0)
		}
	}
	return merged
}
