// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package shard

import (
	"context"
	"sync"
	"time"

	"github.com/luxfi/postauction/pkg/banker"
	"github.com/luxfi/postauction/pkg/index"
	"github.com/luxfi/postauction/pkg/ingress"
	"github.com/luxfi/postauction/pkg/matcher"
)

// Stats is a throughput snapshot for the /stats admin endpoint and the
// periodic stdout stats reporter, mirroring post_auction_runner.cc's
// report() delta-over-interval computation.
type Stats struct {
	BidsPerSec     float64
	EventsPerSec   float64
	WinsPerSec     float64
	LossesPerSec   float64
	UnmatchedCount uint64
	ErrorCount     uint64
	PendingBuckets int
}

// StatsSource supplies the cumulative counters Stats samples each
// call; satisfied by pkg/metric.Metrics.
type StatsSource interface {
	AuctionsSubmittedTotal() uint64
	WinsMatchedTotal() uint64
	LossesMatchedTotal() uint64
	UnmatchedEventsTotal() uint64
	DiagnosticsTotal() uint64
}

// Runner owns every shard for this process instance and their
// lifecycle: startup, steady-state running, and shutdown (see
// Shutdown).
type Runner struct {
	shards  []*Shard
	indices []*index.Index
	queues  []*ingress.Queues

	bankerClient banker.Client
	metrics      RunnerObserver

	mu      sync.Mutex
	started bool

	statsMu       sync.Mutex
	statsAt       time.Time
	statsAuctions uint64
	statsWins     uint64
	statsLosses   uint64
}

// Config builds one shard per N, each wired to its own Index,
// Matcher, and ingress Queues.
type Config struct {
	NumShards    int
	MatcherCfg   matcher.Config
	IngressCfg   ingress.Config
	Tick         time.Duration
	BankerClient banker.Client
	Metrics      RunnerObserver
	// Archiver is attached to every shard's matcher when set, so
	// every emitted MatchedResult is also persisted for audit.
	Archiver matcher.Archiver
}

// RunnerObserver is the metrics slice shared across every shard and
// the matcher they each own.
type RunnerObserver interface {
	ShardObserver
	matcher.Observer
	StatsSource
}

// NewRunner builds a Runner with cfg.NumShards independent shards.
func NewRunner(cfg Config) *Runner {
	r := &Runner{bankerClient: cfg.BankerClient, metrics: cfg.Metrics, statsAt: time.Now()}
	for i := 0; i < cfg.NumShards; i++ {
		idx := index.New()
		q := ingress.New(cfg.IngressCfg)
		q.StartWatchdogs(cfg.IngressCfg)
		m := matcher.New(idx, cfg.BankerClient, q.MatchedResults, q.Diagnostics, cfg.Metrics, cfg.MatcherCfg)
		if cfg.Archiver != nil {
			m.SetArchiver(cfg.Archiver)
		}
		s := New(i, q, m, cfg.Tick, cfg.Metrics)

		r.shards = append(r.shards, s)
		r.indices = append(r.indices, idx)
		r.queues = append(r.queues, q)
	}
	return r
}

// Queues returns the ingress ports for shard i, for wiring external
// producers (router, exchange, ad server) and the bidder adapter's
// notification consumer loop.
func (r *Runner) Queues(i int) *ingress.Queues { return r.queues[i] }

// NumShards returns how many shards this Runner owns.
func (r *Runner) NumShards() int { return len(r.shards) }

// PendingBuckets sums the current bucket count across every shard,
// the I4 memory-bound observability hook surfaced at /stats.
func (r *Runner) PendingBuckets() int {
	total := 0
	for _, idx := range r.indices {
		total += idx.Len()
	}
	return total
}

// Stats samples the cumulative counters backing the admin /stats
// endpoint and the periodic stdout reporter, converting them to a
// delta-over-interval rate against the previous call, mirroring
// post_auction_runner.cc's report(). The first call after NewRunner
// reports against process start.
func (r *Runner) Stats() Stats {
	if r.metrics == nil {
		return Stats{PendingBuckets: r.PendingBuckets()}
	}

	auctions := r.metrics.AuctionsSubmittedTotal()
	wins := r.metrics.WinsMatchedTotal()
	losses := r.metrics.LossesMatchedTotal()

	r.statsMu.Lock()
	now := time.Now()
	elapsed := now.Sub(r.statsAt).Seconds()
	if elapsed <= 0 {
		elapsed = 1
	}
	dAuctions := auctions - r.statsAuctions
	dWins := wins - r.statsWins
	dLosses := losses - r.statsLosses
	r.statsAt = now
	r.statsAuctions = auctions
	r.statsWins = wins
	r.statsLosses = losses
	r.statsMu.Unlock()

	return Stats{
		BidsPerSec:     float64(dAuctions) / elapsed,
		EventsPerSec:   float64(dWins+dLosses) / elapsed,
		WinsPerSec:     float64(dWins) / elapsed,
		LossesPerSec:   float64(dLosses) / elapsed,
		UnmatchedCount: r.metrics.UnmatchedEventsTotal(),
		ErrorCount:     r.metrics.DiagnosticsTotal(),
		PendingBuckets: r.PendingBuckets(),
	}
}

// Run starts every shard's goroutine and blocks until ctx is
// cancelled, then waits for each shard's Run to return.
func (r *Runner) Run(ctx context.Context) {
	r.mu.Lock()
	r.started = true
	r.mu.Unlock()

	var wg sync.WaitGroup
	for i, s := range r.shards {
		wg.Add(1)
		idx := r.indices[i]
		go func(s *Shard, idx *index.Index) {
			defer wg.Done()
			s.Run(ctx, idx)
		}(s, idx)
	}
	wg.Wait()
}

// Started reports whether Run has begun, for the /healthz endpoint.
func (r *Runner) Started() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started
}

// Shutdown stops every shard's ingress watchdogs and closes the
// banker client. It does not drain the ingress queues (shards stop
// when the context passed to Run is cancelled) and it does not flush
// the banker client: commits still queued when the client closes are
// dropped without a diagnostic. deadline does not bound any of this
// work.
func (r *Runner) Shutdown(deadline time.Time) error {
	_, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()
	for _, q := range r.queues {
		q.Stop()
	}
	if r.bankerClient != nil {
		return r.bankerClient.Close()
	}
	return nil
}
