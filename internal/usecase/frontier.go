package usecase

import (
	"container/heap"

	"github.com/user/sitemap-crawler/internal/canonical"
)

// keyHeap is a min-heap of canonical keys. Popping the smallest key gives
// a deterministic selection order for a single worker.
type keyHeap []canonical.Key

func (h keyHeap) Len() int           { return len(h) }
func (h keyHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h keyHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *keyHeap) Push(x any) { *h = append(*h, x.(canonical.Key)) }

func (h *keyHeap) Pop() any {
	old := *h
	n := len(old)
	k := old[n-1]
	*h = old[:n-1]
	return k
}

type frontier struct {
	keys keyHeap
}

func (f *frontier) push(k canonical.Key) { heap.Push(&f.keys, k) }

func (f *frontier) pop() (canonical.Key, bool) {
	if len(f.keys) == 0 {
		return "", false
	}
	return heap.Pop(&f.keys).(canonical.Key), true
}

// clear drops every pending key and returns how many were dropped.
func (f *frontier) clear() int {
	n := len(f.keys)
	f.keys = nil
	return n
}
