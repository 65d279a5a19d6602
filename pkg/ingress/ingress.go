// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package ingress holds the typed inbound/outbound ports (C5) linking
// the router, exchange and ad server to the matcher, and the matcher
// to its egress sink.
package ingress

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/luxfi/postauction/pkg/event"
)

// Queues is the fan-in/fan-out boundary for one shard: three inbound
// channels carrying a tagged event.Envelope, one outbound channel of
// matched results, and a diagnostics sink shared by every producer.
//
// Grounded on the periodic-ticker liveness pattern in the teacher's
// cmd/adxd/main.go collectMetrics loop: a background goroutine samples
// elapsed time since the last observed arrival rather than wrapping
// every channel operation in a timeout.
type Queues struct {
	Auctions       chan event.Envelope
	WinLossEvents  chan event.Envelope
	CampaignEvents chan event.Envelope
	MatchedResults chan event.MatchedResult
	Diagnostics    chan event.Diagnostic

	winlossSeenNano  atomic.Int64
	campaignSeenNano atomic.Int64

	watchdogsOnce sync.Once
	stop          chan struct{}
}

// Config sizes the queues and the liveness watchdog intervals.
type Config struct {
	QueueCapacity            int
	WinLossPipeTimeout       time.Duration
	CampaignEventPipeTimeout time.Duration
}

// New builds a Queues set with the given capacities.
func New(cfg Config) *Queues {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 4096
	}
	q := &Queues{
		Auctions:       make(chan event.Envelope, cfg.QueueCapacity),
		WinLossEvents:  make(chan event.Envelope, cfg.QueueCapacity),
		CampaignEvents: make(chan event.Envelope, cfg.QueueCapacity),
		MatchedResults: make(chan event.MatchedResult, cfg.QueueCapacity),
		Diagnostics:    make(chan event.Diagnostic, cfg.QueueCapacity),
		stop:           make(chan struct{}),
	}
	now := time.Now().UnixNano()
	q.winlossSeenNano.Store(now)
	q.campaignSeenNano.Store(now)
	return q
}

// TouchWinLoss records that a win/loss event was just successfully
// received; call this from the shard's select loop on every receive
// from WinLossEvents.
func (q *Queues) TouchWinLoss(now time.Time) { q.winlossSeenNano.Store(now.UnixNano()) }

// TouchCampaign records that a campaign event was just successfully
// received; call this from the shard's select loop on every receive
// from CampaignEvents.
func (q *Queues) TouchCampaign(now time.Time) { q.campaignSeenNano.Store(now.UnixNano()) }

// StartWatchdogs launches one liveness goroutine per pipe-timeout
// configured in cfg, each raising a Liveness diagnostic whenever the
// corresponding queue has gone quiet for longer than its timeout.
// Watchdogs never consume from the queues; they only read the
// last-seen timestamps maintained by TouchWinLoss/TouchCampaign.
func (q *Queues) StartWatchdogs(cfg Config) {
	q.watchdogsOnce.Do(func() {
		if cfg.WinLossPipeTimeout > 0 {
			go q.watchdog("winloss", cfg.WinLossPipeTimeout, &q.winlossSeenNano)
		}
		if cfg.CampaignEventPipeTimeout > 0 {
			go q.watchdog("campaign", cfg.CampaignEventPipeTimeout, &q.campaignSeenNano)
		}
	})
}

func (q *Queues) watchdog(name string, timeout time.Duration, seenNano *atomic.Int64) {
	ticker := time.NewTicker(timeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-q.stop:
			return
		case now := <-ticker.C:
			last := time.Unix(0, seenNano.Load())
			if now.Sub(last) > timeout {
				q.diagnose(event.Diagnostic{
					Kind:    event.Liveness,
					Message: name + " pipe timeout: no events observed within the configured interval",
					At:      now,
				})
				// reset so repeated firings don't flood the sink
				// while the producer stays quiet.
				seenNano.Store(now.UnixNano())
			}
		}
	}
}

func (q *Queues) diagnose(d event.Diagnostic) {
	select {
	case q.Diagnostics <- d:
	default:
	}
}

// Stop terminates any running watchdogs.
func (q *Queues) Stop() { close(q.stop) }
