package scheduler

import (
	"cmp"

	"github.com/addrummond/heap"
)

type readyItem struct {
	id       string
	priority int
	seq      int
}

// Cmp orders higher priority first, then earlier insertion.
func (a *readyItem) Cmp(b *readyItem) int {
	if c := cmp.Compare(b.priority, a.priority); c != 0 {
		return c
	}
	return cmp.Compare(a.seq, b.seq)
}

// readySet holds runnable tasks awaiting resource admission.
type readySet struct {
	h heap.Heap[readyItem, heap.Min]
	n int
}

func (r *readySet) push(id string, priority, seq int) {
	heap.PushOrderable(&r.h, readyItem{id: id, priority: priority, seq: seq})
	r.n++
}

func (r *readySet) pop() (readyItem, bool) {
	item, ok := heap.PopOrderable(&r.h)
	if ok {
		r.n--
	}
	return item, ok
}

func (r *readySet) len() int { return r.n }

// drain removes and returns every item in priority order.
func (r *readySet) drain() []readyItem {
	items := make([]readyItem, 0, r.n)
	for {
		item, ok := r.pop()
		if !ok {
			return items
		}
		items = append(items, item)
	}
}
