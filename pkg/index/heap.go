// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package index

import (
	"container/heap"
	"time"

	"github.com/luxfi/postauction/pkg/ids"
)

// deadlineItem is one scheduled firing of a bucket's timer. epoch
// pins it to the scheduling generation that created it so a
// superseded reschedule (e.g. an auction deadline pushed out again
// when a win/loss arrives for a bucket still awaiting its auction) is
// recognized as stale and dropped
// rather than fired twice.
type deadlineItem struct {
	bidID    ids.BidID
	deadline time.Time
	epoch    uint64
	index    int
}

// deadlineHeap is a container/heap.Interface min-heap ordered by
// deadline, used once per timer kind (auction, win/loss, grace).
type deadlineHeap []*deadlineItem

func (h deadlineHeap) Len() int { return len(h) }

func (h deadlineHeap) Less(i, j int) bool { return h[i].deadline.Before(h[j].deadline) }

func (h deadlineHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *deadlineHeap) Push(x interface{}) {
	item := x.(*deadlineItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *deadlineHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

func (h *deadlineHeap) peek() *deadlineItem {
	if len(*h) == 0 {
		return nil
	}
	return (*h)[0]
}

func (h *deadlineHeap) schedule(id ids.BidID, at time.Time, epoch uint64) {
	heap.Push(h, &deadlineItem{bidID: id, deadline: at, epoch: epoch})
}
