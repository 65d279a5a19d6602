// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package matcher implements the post-auction state machine (C2):
// joining submitted auctions, win/loss events and campaign events on
// a bid id, and emitting matched results to the egress sink. A
// Matcher is owned by exactly one shard goroutine and its Index is
// never touched concurrently — see pkg/shard.
package matcher

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/luxfi/postauction/pkg/banker"
	"github.com/luxfi/postauction/pkg/event"
	"github.com/luxfi/postauction/pkg/ids"
	"github.com/luxfi/postauction/pkg/index"
)

// Config controls the matcher's deadlines and join policy.
type Config struct {
	AuctionDeadline time.Duration
	WinLossDeadline time.Duration
	// Grace is the Settled-state lingering period before a bucket is
	// removed (I5). Zero means "use WinLossDeadline", per spec.md's
	// default.
	Grace time.Duration
	// CampaignEventsRequireWin, when true, holds campaign events that
	// arrive while the bucket is AwaitingWinLoss until the win/loss
	// resolves (by a Win, a Loss or a synthetic loss) instead of
	// emitting them immediately; a loss does not suppress them. The
	// resolved default is false (pass-through), per the Open Question
	// in spec.md §9.
	CampaignEventsRequireWin bool
}

func (c Config) grace() time.Duration {
	if c.Grace > 0 {
		return c.Grace
	}
	return c.WinLossDeadline
}

// Observer is the narrow metrics slice the matcher needs.
type Observer interface {
	ObserveDiagnostic(kind string)
	ObserveUnmatched(reason string)
	ObserveAuctionSubmitted()
	ObserveWinMatched()
	ObserveLossMatched()
	ObserveCampaignMatched(label string)
	ObserveMatchLatency(d time.Duration)
}

// Archiver persists an emitted MatchedResult for audit and
// reconciliation, satisfied by pkg/archive.Store. Archival runs off
// the hot path (see SetArchiver) and never blocks or delays egress.
type Archiver interface {
	Archive(ctx context.Context, r event.MatchedResult) error
}

// Matcher is the per-shard state machine described in spec.md §4.2.
type Matcher struct {
	idx    *index.Index
	banker banker.Client
	cfg    Config

	out         chan<- event.MatchedResult
	diagnostics chan<- event.Diagnostic
	metrics     Observer

	now func() time.Time

	archiver Archiver
	retries  []pendingCommit
}

type pendingCommit struct {
	bidID    ids.BidID
	agent    string
	amount   decimal.Decimal
	deadline time.Time
}

// New builds a Matcher over idx, emitting matched results to out and
// diagnostics to diagnostics, and committing wins through banker.
func New(idx *index.Index, bankerClient banker.Client, out chan<- event.MatchedResult, diagnostics chan<- event.Diagnostic, metrics Observer, cfg Config) *Matcher {
	return &Matcher{
		idx:         idx,
		banker:      bankerClient,
		cfg:         cfg,
		out:         out,
		diagnostics: diagnostics,
		metrics:     metrics,
		now:         time.Now,
	}
}

// SetClock overrides the matcher's notion of "now", for deterministic
// tests of deadline behavior.
func (m *Matcher) SetClock(now func() time.Time) { m.now = now }

// SetArchiver attaches an optional archival sink. It is a setter
// rather than a New() parameter so every existing caller and test
// stays unaffected when archival is not configured.
func (m *Matcher) SetArchiver(a Archiver) { m.archiver = a }

// HandleAuction processes a SubmittedAuction arrival.
func (m *Matcher) HandleAuction(a *event.SubmittedAuction) {
	b := m.idx.GetOrCreate(a.BidID)
	if b.Auction != nil {
		m.diagnose(event.Protocol, "duplicate submitted auction", a.BidID, nil)
		return
	}
	b.Auction = a
	b.State = index.AwaitingWinLoss
	m.idx.ScheduleWinLossDeadline(b, m.now().Add(m.cfg.WinLossDeadline))
	if m.metrics != nil {
		m.metrics.ObserveAuctionSubmitted()
	}

	if queued := b.QueuedWinLoss; queued != nil {
		b.QueuedWinLoss = nil
		// resolveWinLoss settles the bucket and drains any campaign
		// events queued alongside it, preserving causal order
		// (auction ≤ win/loss ≤ campaign) for events that arrived
		// before the auction was known.
		m.resolveWinLoss(b, queued)
		return
	}
	// No win/loss queued yet: any campaign events queued ahead of the
	// auction stay queued until win/loss resolves, so scenario
	// ordering (win/loss before campaign) holds even under the
	// pass-through policy, which only governs campaign events that
	// arrive fresh once the bucket is already AwaitingWinLoss.
}

// HandleWinLoss processes a RawWinLossEvent arrival.
func (m *Matcher) HandleWinLoss(w *event.RawWinLossEvent) {
	b := m.idx.GetOrCreate(w.BidID)
	switch b.State {
	case index.AwaitingAuction:
		if b.QueuedWinLoss != nil {
			m.diagnose(event.Protocol, "duplicate win/loss queued before auction", w.BidID, nil)
			return
		}
		b.QueuedWinLoss = w
		m.idx.ScheduleAuctionDeadline(b, m.now().Add(m.cfg.AuctionDeadline))
	case index.AwaitingWinLoss:
		m.resolveWinLoss(b, w)
	case index.Settled:
		if w.Type == event.Win && b.WinEmitted {
			m.diagnose(event.Protocol, "duplicate win after settle", w.BidID, nil)
			return
		}
		m.unmatched(w.BidID, "winloss", w.Timestamp, "late "+w.Type.String()+" after settle", w)
	case index.Expired:
		// unreachable: expired buckets are removed immediately.
	}
}

// HandleCampaignEvent processes a RawCampaignEvent arrival.
func (m *Matcher) HandleCampaignEvent(c *event.RawCampaignEvent) {
	b := m.idx.GetOrCreate(c.BidID)
	switch b.State {
	case index.AwaitingAuction:
		b.QueuedCampaign = append(b.QueuedCampaign, c)
		if b.Auction == nil && b.AuctionDeadline.IsZero() {
			m.idx.ScheduleAuctionDeadline(b, m.now().Add(m.cfg.AuctionDeadline))
		}
	case index.AwaitingWinLoss:
		if m.cfg.CampaignEventsRequireWin {
			b.QueuedCampaign = append(b.QueuedCampaign, c)
			return
		}
		m.emitCampaignEvent(b, c)
	case index.Settled:
		// late but still joinable: the auction record remains.
		m.emitCampaignEvent(b, c)
	case index.Expired:
		// unreachable: expired buckets are removed immediately.
	}
}

// resolveWinLoss handles a Win or Loss once the auction is known.
func (m *Matcher) resolveWinLoss(b *index.Bucket, w *event.RawWinLossEvent) {
	if w.Type == event.Loss {
		m.settleLoss(b, w.Timestamp, false)
		return
	}
	agent, ok := m.resolveWinningAgent(b, w)
	if !ok {
		m.diagnose(event.Protocol, "win references unresolvable agent/price", b.BidID, nil)
		return
	}
	chargeable := agent.WinCostModel.Chargeable(agent.Price, w.Price)
	b.WinEmitted = true
	b.State = index.Settled
	m.idx.ScheduleGrace(b, m.now().Add(m.cfg.grace()))

	result := event.MatchedResult{Win: &event.MatchedWin{
		BidID:        b.BidID,
		ImpressionID: b.Auction.ImpressionID,
		AgentName:    agent.AgentName,
		AgentConfig:  agent.Config,
		Timestamp:    w.Timestamp,
		WinPrice:     w.Price,
		BidPrice:     agent.Price,
		WinCostModel: agent.WinCostModel,
		UserIDs:      w.UserIDs,
	}}
	if m.metrics != nil {
		m.metrics.ObserveWinMatched()
		m.metrics.ObserveMatchLatency(nonNegative(m.now().Sub(w.Timestamp)))
	}
	m.emit(result)

	deadline := b.Auction.Expiry
	if deadline.IsZero() {
		deadline = m.now().Add(m.cfg.grace())
	}
	m.commit(b.BidID, agent.AgentName, chargeable, deadline)

	m.drainCampaignQueue(b)
}

// settleLoss transitions b to Settled, emitting one MatchedLoss per
// bidder that participated in the auction (each releases its own
// budget reservation on a loss, mirroring real exchange semantics —
// the Loss event itself names no single agent since the whole
// auction, not one bidder, lost).
func (m *Matcher) settleLoss(b *index.Bucket, at time.Time, synthetic bool) {
	b.State = index.Settled
	m.idx.ScheduleGrace(b, m.now().Add(m.cfg.grace()))

	if m.metrics != nil && !synthetic {
		m.metrics.ObserveMatchLatency(nonNegative(m.now().Sub(at)))
	}

	if b.Auction == nil || len(b.Auction.Bidders) == 0 {
		m.emit(event.MatchedResult{Loss: &event.MatchedLoss{
			BidID: b.BidID, Timestamp: at, Synthetic: synthetic,
		}})
		if m.metrics != nil {
			m.metrics.ObserveLossMatched()
		}
	} else {
		for _, bidder := range b.Auction.Bidders {
			m.emit(event.MatchedResult{Loss: &event.MatchedLoss{
				BidID:        b.BidID,
				ImpressionID: b.Auction.ImpressionID,
				AgentName:    bidder.AgentName,
				Timestamp:    at,
				Synthetic:    synthetic,
			}})
			if m.metrics != nil {
				m.metrics.ObserveLossMatched()
			}
		}
	}
	m.drainCampaignQueue(b)
}

// resolveWinningAgent implements §4.2.1: the exchange-disclosed
// winner is authoritative if present, otherwise the first bidder
// entry whose bid price matches the reported win price (submitted
// auction ordering breaks ties).
func (m *Matcher) resolveWinningAgent(b *index.Bucket, w *event.RawWinLossEvent) (*event.BidderEntry, bool) {
	a := b.Auction
	if a.Winner != nil {
		if be := a.BidderByAgent(a.Winner.AgentName); be != nil {
			return be, true
		}
	}
	for i := range a.Bidders {
		if a.Bidders[i].Price.Equal(w.Price) {
			return &a.Bidders[i], true
		}
	}
	return nil, false
}

// drainCampaignQueue emits every campaign event queued ahead of this
// bucket's win/loss resolution, now that the auction is settled and
// causal order (win/loss ≤ campaign) is preserved.
func (m *Matcher) drainCampaignQueue(b *index.Bucket) {
	queued := b.QueuedCampaign
	b.QueuedCampaign = nil
	for _, c := range queued {
		m.emitCampaignEvent(b, c)
	}
}

func (m *Matcher) emitCampaignEvent(b *index.Bucket, c *event.RawCampaignEvent) {
	agent := ""
	if b.Auction != nil && len(b.Auction.Bidders) > 0 {
		agent = b.Auction.Bidders[0].AgentName
	}
	m.emit(event.MatchedResult{CampaignEvent: &event.MatchedCampaignEvent{
		BidID:        c.BidID,
		ImpressionID: c.ImpressionID,
		AgentName:    agent,
		Label:        c.Label,
		Timestamp:    c.Timestamp,
		UserIDs:      nil,
	}})
	if m.metrics != nil {
		m.metrics.ObserveCampaignMatched(string(c.Label))
	}
}

func (m *Matcher) commit(bidID ids.BidID, agent string, amount decimal.Decimal, deadline time.Time) {
	if m.banker == nil {
		return
	}
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()
	if err := m.banker.CommitWin(ctx, bidID, agent, amount, deadline); err != nil {
		m.retries = append(m.retries, pendingCommit{bidID: bidID, agent: agent, amount: amount, deadline: deadline})
	}
}

// Tick advances the bucket timer wheel and retries any backpressured
// banker commits. It must be called on every ingress turn, per §5's
// "timers are checked on every ingress turn".
func (m *Matcher) Tick(now time.Time) {
	m.idx.AdvanceTimersTo(now, func(b *index.Bucket, kind index.ExpireKind) {
		switch kind {
		case index.ExpireAuction:
			m.expireAuctionDeadline(b, now)
		case index.ExpireWinLoss:
			m.expireWinLossDeadline(b, now)
		case index.ExpireGrace:
			m.idx.Remove(b.BidID)
		}
	})
	m.retryCommits(now)
}

func (m *Matcher) expireAuctionDeadline(b *index.Bucket, now time.Time) {
	if b.Auction != nil {
		return // superseded: auction arrived before this fired.
	}
	if b.QueuedWinLoss != nil {
		m.unmatched(b.BidID, "winloss", now, "auction deadline elapsed", b.QueuedWinLoss)
	}
	for _, c := range b.QueuedCampaign {
		m.unmatched(b.BidID, "campaign", now, "auction deadline elapsed", c)
	}
	b.State = index.Expired
	m.idx.Remove(b.BidID)
}

func (m *Matcher) expireWinLossDeadline(b *index.Bucket, now time.Time) {
	if b.State != index.AwaitingWinLoss {
		return // superseded: already settled by an explicit win/loss.
	}
	m.settleLoss(b, now, true)
}

func (m *Matcher) retryCommits(now time.Time) {
	if len(m.retries) == 0 {
		return
	}
	pending := m.retries
	m.retries = nil
	for _, c := range pending {
		if !c.deadline.IsZero() && now.After(c.deadline) {
			m.diagnose(event.Transient, "commit retry abandoned past deadline", c.bidID, nil)
			continue
		}
		m.commit(c.bidID, c.agent, c.amount, c.deadline)
	}
}

func (m *Matcher) emit(r event.MatchedResult) {
	select {
	case m.out <- r:
	default:
	}
	if m.archiver != nil {
		go func(r event.MatchedResult) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = m.archiver.Archive(ctx, r)
		}(r)
	}
}

func (m *Matcher) unmatched(bidID ids.BidID, kind string, at time.Time, reason string, raw interface{}) {
	if m.metrics != nil {
		m.metrics.ObserveUnmatched(reason)
	}
	select {
	case m.diagnostics <- event.Diagnostic{
		Kind: event.Protocol, Message: "unmatched " + kind + " event", BidID: bidID.String(), At: at, Raw: raw,
	}:
	default:
	}
}

// nonNegative clamps a latency sample to zero; out-of-order clocks or
// test fixtures with a zero-value Timestamp must never feed a negative
// duration into a histogram.
func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}

func (m *Matcher) diagnose(kind event.DiagnosticKind, msg string, bidID ids.BidID, err error) {
	if m.metrics != nil {
		m.metrics.ObserveDiagnostic(string(kind))
	}
	select {
	case m.diagnostics <- event.Diagnostic{Kind: kind, Message: msg, BidID: bidID.String(), Err: err, At: m.now()}:
	default:
	}
}
