// File: reactor/deadline.go
// Author: momentics <momentics@gmail.com>
//
// Min-heap of watches ordered by deadline.

package reactor

import "container/heap"

// deadlineHeap implements heap.Interface; watch.index tracks the position.
type deadlineHeap []*watch

func (h deadlineHeap) Len() int           { return len(h) }
func (h deadlineHeap) Less(i, j int) bool { return h[i].deadline.Before(h[j].deadline) }

func (h deadlineHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *deadlineHeap) Push(x any) {
	w := x.(*watch)
	w.index = len(*h)
	*h = append(*h, w)
}

func (h *deadlineHeap) Pop() any {
	old := *h
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	w.index = -1
	*h = old[:n-1]
	return w
}

// remove drops w if it is still queued.
func (h *deadlineHeap) remove(w *watch) {
	if w.index >= 0 && w.index < len(*h) && (*h)[w.index] == w {
		heap.Remove(h, w.index)
	}
}

func (h deadlineHeap) peek() *watch {
	if len(h) == 0 {
		return nil
	}
	return h[0]
}
