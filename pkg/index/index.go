// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package index

import (
	"container/heap"
	"time"

	"github.com/luxfi/postauction/pkg/ids"
)

// ExpireKind identifies which of a bucket's three deadlines fired.
type ExpireKind int

const (
	ExpireAuction ExpireKind = iota
	ExpireWinLoss
	ExpireGrace
)

// Index is the single-goroutine-owned store of pending buckets for
// one shard: a map keyed by bid id plus three deadline heaps
// (auction, win/loss, grace-before-removal). It carries no locking —
// see pkg/shard, which guarantees a shard's Index is only ever
// touched from that shard's own select loop.
type Index struct {
	buckets map[ids.BidID]*Bucket

	auctionHeap deadlineHeap
	winlossHeap deadlineHeap
	graceHeap   deadlineHeap
}

// New creates an empty Index.
func New() *Index {
	return &Index{buckets: make(map[ids.BidID]*Bucket)}
}

// Len returns the number of pending buckets, for the /stats surface.
func (idx *Index) Len() int { return len(idx.buckets) }

// Get returns the bucket for id and whether it exists; unlike
// GetOrCreate it never creates one.
func (idx *Index) Get(id ids.BidID) (*Bucket, bool) {
	b, ok := idx.buckets[id]
	return b, ok
}

// GetOrCreate returns the existing bucket for id, or creates and
// indexes a fresh AwaitingAuction bucket.
func (idx *Index) GetOrCreate(id ids.BidID) *Bucket {
	if b, ok := idx.buckets[id]; ok {
		return b
	}
	b := newBucket(id)
	idx.buckets[id] = b
	return b
}

// Remove deletes the bucket for id. Stale heap entries referencing it
// are left in place and skipped by AdvanceTimersTo once popped, since
// removing from the middle of a container/heap is not worth the
// bookkeeping for a structure that is already draining toward empty.
func (idx *Index) Remove(id ids.BidID) {
	delete(idx.buckets, id)
}

// ScheduleAuctionDeadline (re)schedules the auction-arrival deadline
// for b, bumping its epoch so any previously scheduled firing for
// this bucket is recognized as stale.
func (idx *Index) ScheduleAuctionDeadline(b *Bucket, at time.Time) {
	b.auctionEpoch++
	b.AuctionDeadline = at
	idx.auctionHeap.schedule(b.BidID, at, b.auctionEpoch)
}

// ScheduleWinLossDeadline (re)schedules the win/loss-arrival deadline.
func (idx *Index) ScheduleWinLossDeadline(b *Bucket, at time.Time) {
	b.winlossEpoch++
	b.WinLossDeadline = at
	idx.winlossHeap.schedule(b.BidID, at, b.winlossEpoch)
}

// ScheduleGrace (re)schedules the post-settlement grace period after
// which the bucket is dropped entirely.
func (idx *Index) ScheduleGrace(b *Bucket, at time.Time) {
	b.graceEpoch++
	b.GraceDeadline = at
	idx.graceHeap.schedule(b.BidID, at, b.graceEpoch)
}

// AdvanceTimersTo pops every heap entry whose deadline is at or before
// now, across all three heaps, skipping entries whose bucket has been
// removed or whose epoch has been superseded by a later reschedule,
// and invokes onExpire for each live firing. onExpire may itself
// reschedule or remove the bucket; it must not mutate the heaps
// directly.
func (idx *Index) AdvanceTimersTo(now time.Time, onExpire func(b *Bucket, kind ExpireKind)) {
	idx.drain(&idx.auctionHeap, ExpireAuction, now, onExpire)
	idx.drain(&idx.winlossHeap, ExpireWinLoss, now, onExpire)
	idx.drain(&idx.graceHeap, ExpireGrace, now, onExpire)
}

func (idx *Index) drain(h *deadlineHeap, kind ExpireKind, now time.Time, onExpire func(b *Bucket, kind ExpireKind)) {
	for {
		top := h.peek()
		if top == nil || top.deadline.After(now) {
			return
		}
		item := heap.Pop(h).(*deadlineItem)
		b, ok := idx.buckets[item.bidID]
		if !ok {
			continue
		}
		if !epochMatches(b, kind, item.epoch) {
			continue
		}
		onExpire(b, kind)
	}
}

func epochMatches(b *Bucket, kind ExpireKind, epoch uint64) bool {
	switch kind {
	case ExpireAuction:
		return b.auctionEpoch == epoch
	case ExpireWinLoss:
		return b.winlossEpoch == epoch
	case ExpireGrace:
		return b.graceEpoch == epoch
	default:
		return false
	}
}

// NextDeadline returns the earliest pending deadline across all three
// heaps, used by the shard's select loop to size its timer. The
// second return is false if nothing is scheduled.
func (idx *Index) NextDeadline() (time.Time, bool) {
	var best time.Time
	found := false
	for _, h := range []*deadlineHeap{&idx.auctionHeap, &idx.winlossHeap, &idx.graceHeap} {
		if top := h.peek(); top != nil {
			if !found || top.deadline.Before(best) {
				best = top.deadline
				found = true
			}
		}
	}
	return best, found
}
