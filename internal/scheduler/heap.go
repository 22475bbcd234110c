package scheduler

import "container/heap"

// taskHeap is a binary min-heap over *CollectionTask ordered by
// (nextFireAt, tierPriority, assetId), the deterministic tie-break spec.md
// §4.4 requires.
type taskHeap []*CollectionTask

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if !a.NextFireAt.Equal(b.NextFireAt) {
		return a.NextFireAt.Before(b.NextFireAt)
	}
	if a.Tier.Priority() != b.Tier.Priority() {
		return a.Tier.Priority() < b.Tier.Priority()
	}
	return a.AssetId < b.AssetId
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(*CollectionTask)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

var _ heap.Interface = (*taskHeap)(nil)
