// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package metric holds all Prometheus instrumentation for the
// post-auction service, registered under a dedicated registry so a
// process can run several shards without metric name collisions.
package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds every counter, gauge and histogram the post-auction
// pipeline exposes, built directly on prometheus/client_golang.
type Metrics struct {
	registry *prometheus.Registry

	AuctionsSubmitted    prometheus.Counter
	WinsMatched          prometheus.Counter
	LossesMatched        prometheus.Counter
	CampaignMatched      *prometheus.CounterVec
	UnmatchedEvents      *prometheus.CounterVec
	Diagnostics          *prometheus.CounterVec
	BankerCommits        *prometheus.CounterVec
	BidderRequests       prometheus.Counter
	BidderErrors         *prometheus.CounterVec
	BidderNoBidsInjected prometheus.Counter
	InjectionOverloads   prometheus.Counter
	BucketsPerShard      *prometheus.GaugeVec

	MatchLatency  prometheus.Histogram
	BidderLatency prometheus.Histogram
}

// New creates a new, independently-registered Metrics set namespaced
// under "postauction".
func New() *Metrics {
	reg := prometheus.NewRegistry()
	const ns = "postauction"

	m := &Metrics{registry: reg}

	m.AuctionsSubmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Name: "auctions_submitted_total",
		Help: "Total submitted auctions observed by the matcher.",
	})
	m.WinsMatched = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Name: "wins_matched_total",
		Help: "Total MatchedWin results emitted.",
	})
	m.LossesMatched = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Name: "losses_matched_total",
		Help: "Total MatchedLoss results emitted, including synthetic losses.",
	})
	m.CampaignMatched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Name: "campaign_events_matched_total",
		Help: "Total MatchedCampaignEvent results emitted, by label.",
	}, []string{"label"})
	m.UnmatchedEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Name: "unmatched_events_total",
		Help: "Total events reported unmatched, by reason.",
	}, []string{"reason"})
	m.Diagnostics = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Name: "diagnostics_total",
		Help: "Total diagnostics emitted, by kind.",
	}, []string{"kind"})
	m.BankerCommits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Name: "banker_commits_total",
		Help: "Total banker commit attempts, by outcome.",
	}, []string{"outcome"})
	m.BidderRequests = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Name: "bidder_requests_total",
		Help: "Total outbound OpenRTB bid requests sent.",
	})
	m.BidderErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Name: "bidder_errors_total",
		Help: "Total bidder adapter errors, by kind.",
	}, []string{"kind"})
	m.BidderNoBidsInjected = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Name: "bidder_no_bids_injected_total",
		Help: "Total synthetic no-bids injected into the router.",
	})
	m.InjectionOverloads = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Name: "injection_overloads_total",
		Help: "Total dropped injections due to a full SPSC queue.",
	})
	m.BucketsPerShard = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: ns, Name: "index_buckets",
		Help: "Current number of pending buckets, by shard.",
	}, []string{"shard"})
	m.MatchLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: ns, Name: "match_latency_seconds",
		Help: "Time from win/loss arrival to MatchedResult emission.", Buckets: prometheus.DefBuckets,
	})
	m.BidderLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: ns, Name: "bidder_request_latency_seconds",
		Help: "Round-trip latency of outbound bidder HTTP requests.", Buckets: prometheus.DefBuckets,
	})

	reg.MustRegister(
		m.AuctionsSubmitted, m.WinsMatched, m.LossesMatched, m.CampaignMatched,
		m.UnmatchedEvents, m.Diagnostics, m.BankerCommits, m.BidderRequests,
		m.BidderErrors, m.BidderNoBidsInjected, m.InjectionOverloads,
		m.BucketsPerShard, m.MatchLatency, m.BidderLatency,
	)

	return m
}

// Registry returns the Prometheus gatherer/registerer backing this
// metric set, for mounting under /metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveCommit implements pkg/banker.CommitObserver.
func (m *Metrics) ObserveCommit(outcome string) {
	m.BankerCommits.WithLabelValues(outcome).Inc()
}

// ObserveDiagnostic implements pkg/matcher.Observer's diagnostics
// counter increment.
func (m *Metrics) ObserveDiagnostic(kind string) {
	m.Diagnostics.WithLabelValues(kind).Inc()
}

// ObserveUnmatched implements pkg/matcher.Observer's unmatched-event
// counter increment.
func (m *Metrics) ObserveUnmatched(reason string) {
	m.UnmatchedEvents.WithLabelValues(reason).Inc()
}

// ObserveBidderRequest implements pkg/bidder.Observer.
func (m *Metrics) ObserveBidderRequest() {
	m.BidderRequests.Inc()
}

// ObserveBidderError implements pkg/bidder.Observer.
func (m *Metrics) ObserveBidderError(kind string) {
	m.BidderErrors.WithLabelValues(kind).Inc()
}

// ObserveNoBidsInjected implements pkg/bidder.Observer.
func (m *Metrics) ObserveNoBidsInjected(n int) {
	m.BidderNoBidsInjected.Add(float64(n))
}

// ObserveOverload implements pkg/bidder.Observer.
func (m *Metrics) ObserveOverload() {
	m.InjectionOverloads.Inc()
}

// SetBucketsPerShard implements the per-shard bucket-count gauge
// sampled on each timer tick (I4's memory-bound observability hook).
func (m *Metrics) SetBucketsPerShard(shard string, n int) {
	m.BucketsPerShard.WithLabelValues(shard).Set(float64(n))
}

// ObserveAuctionSubmitted implements pkg/matcher.Observer.
func (m *Metrics) ObserveAuctionSubmitted() { m.AuctionsSubmitted.Inc() }

// ObserveWinMatched implements pkg/matcher.Observer.
func (m *Metrics) ObserveWinMatched() { m.WinsMatched.Inc() }

// ObserveLossMatched implements pkg/matcher.Observer.
func (m *Metrics) ObserveLossMatched() { m.LossesMatched.Inc() }

// ObserveCampaignMatched implements pkg/matcher.Observer.
func (m *Metrics) ObserveCampaignMatched(label string) {
	m.CampaignMatched.WithLabelValues(label).Inc()
}

// ObserveMatchLatency implements pkg/matcher.Observer.
func (m *Metrics) ObserveMatchLatency(d time.Duration) {
	m.MatchLatency.Observe(d.Seconds())
}

// ObserveBidderLatency implements pkg/bidder.Observer.
func (m *Metrics) ObserveBidderLatency(d time.Duration) {
	m.BidderLatency.Observe(d.Seconds())
}

// AuctionsSubmittedTotal, WinsMatchedTotal, LossesMatchedTotal,
// UnmatchedEventsTotal and DiagnosticsTotal read back the cumulative
// counter values backing Runner.Stats' delta-over-interval throughput
// report and the /stats admin endpoint.
func (m *Metrics) AuctionsSubmittedTotal() uint64 { return counterValue(m.AuctionsSubmitted) }

func (m *Metrics) WinsMatchedTotal() uint64 { return counterValue(m.WinsMatched) }

func (m *Metrics) LossesMatchedTotal() uint64 { return counterValue(m.LossesMatched) }

func (m *Metrics) UnmatchedEventsTotal() uint64 { return vecSum(m.UnmatchedEvents) }

func (m *Metrics) DiagnosticsTotal() uint64 { return vecSum(m.Diagnostics) }

func counterValue(c prometheus.Counter) uint64 {
	var d dto.Metric
	_ = c.Write(&d)
	return uint64(d.GetCounter().GetValue())
}

func vecSum(v *prometheus.CounterVec) uint64 {
	ch := make(chan prometheus.Metric, 64)
	go func() {
		v.Collect(ch)
		close(ch)
	}()
	var total float64
	for metric := range ch {
		var d dto.Metric
		_ = metric.Write(&d)
		total += d.GetCounter().GetValue()
	}
	return uint64(total)
}
