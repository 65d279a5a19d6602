// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package shard implements C6: partitioning by bid-id hash, one
// goroutine per shard as a single logical thread of mutation over its
// own event index, matching §5's concurrency model.
package shard

import (
	"context"
	"strconv"
	"time"

	"github.com/luxfi/postauction/pkg/event"
	"github.com/luxfi/postauction/pkg/ids"
	"github.com/luxfi/postauction/pkg/ingress"
	"github.com/luxfi/postauction/pkg/matcher"
)

// Shard owns one partition's Index and Matcher, draining its three
// ingress channels plus a timer tick in a single select loop. It
// touches no state shared with any other shard.
type Shard struct {
	Index   int
	queues  *ingress.Queues
	matcher *matcher.Matcher
	tick    time.Duration
	metrics ShardObserver
}

// ShardObserver samples per-shard gauges on each timer tick.
type ShardObserver interface {
	SetBucketsPerShard(shard string, n int)
}

// BucketCounter exposes the current pending-bucket count, satisfied
// by pkg/index.Index.
type BucketCounter interface {
	Len() int
}

// New builds a Shard. tick is the timer-wheel polling interval; the
// matcher's own deadlines are still checked on every ingress receive
// (§5), tick only guarantees forward progress when ingress is idle.
func New(index int, queues *ingress.Queues, m *matcher.Matcher, tick time.Duration, metrics ShardObserver) *Shard {
	if tick <= 0 {
		tick = 200 * time.Millisecond
	}
	return &Shard{Index: index, queues: queues, matcher: m, tick: tick, metrics: metrics}
}

// Run drains the shard's ingress channels until ctx is cancelled.
// Every branch calls matcher.Tick after handling its event, per §5's
// "timers are checked on every ingress turn".
func (s *Shard) Run(ctx context.Context, counter BucketCounter) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case env := <-s.queues.Auctions:
			s.handle(env)
		case env := <-s.queues.WinLossEvents:
			s.queues.TouchWinLoss(time.Now())
			s.handle(env)
		case env := <-s.queues.CampaignEvents:
			s.queues.TouchCampaign(time.Now())
			s.handle(env)
		case now := <-ticker.C:
			s.matcher.Tick(now)
			if s.metrics != nil && counter != nil {
				s.metrics.SetBucketsPerShard(shardLabel(s.Index), counter.Len())
			}
		}
	}
}

func (s *Shard) handle(env event.Envelope) {
	now := time.Now()
	switch {
	case env.Auction != nil:
		s.matcher.HandleAuction(env.Auction)
	case env.WinLoss != nil:
		s.matcher.HandleWinLoss(env.WinLoss)
	case env.Campaign != nil:
		s.matcher.HandleCampaignEvent(env.Campaign)
	case env.Tick != nil:
		// explicit tick envelopes are accepted for tests that want to
		// drive the timer wheel without waiting on the real ticker.
	}
	s.matcher.Tick(now)
}

func shardLabel(i int) string { return strconv.Itoa(i) }

// ShardFor returns the shard index owning bidID across n shards.
func ShardFor(bidID ids.BidID, n int) int {
	return bidID.Shard(n)
}
