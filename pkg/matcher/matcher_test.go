// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package matcher

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/postauction/pkg/event"
	"github.com/luxfi/postauction/pkg/ids"
	"github.com/luxfi/postauction/pkg/index"
)

type fakeBanker struct {
	commits []commitCall
}

type commitCall struct {
	bidID  ids.BidID
	agent  string
	amount decimal.Decimal
}

func (f *fakeBanker) CommitWin(ctx context.Context, bidID ids.BidID, agent string, amount decimal.Decimal, deadline time.Time) error {
	f.commits = append(f.commits, commitCall{bidID: bidID, agent: agent, amount: amount})
	return nil
}

func (f *fakeBanker) Close() error { return nil }

type noopObserver struct{}

func (noopObserver) ObserveDiagnostic(string)         {}
func (noopObserver) ObserveUnmatched(string)          {}
func (noopObserver) ObserveAuctionSubmitted()         {}
func (noopObserver) ObserveWinMatched()               {}
func (noopObserver) ObserveLossMatched()              {}
func (noopObserver) ObserveCampaignMatched(string)    {}
func (noopObserver) ObserveMatchLatency(time.Duration) {}

func newHarness(t *testing.T, cfg Config) (*Matcher, *fakeBanker, chan event.MatchedResult, chan event.Diagnostic) {
	t.Helper()
	idx := index.New()
	fb := &fakeBanker{}
	out := make(chan event.MatchedResult, 16)
	diag := make(chan event.Diagnostic, 16)
	m := New(idx, fb, out, diag, noopObserver{}, cfg)
	return m, fb, out, diag
}

func auctionFixture(bidID ids.BidID, agent string, price decimal.Decimal) *event.SubmittedAuction {
	return &event.SubmittedAuction{
		BidID:        bidID,
		ImpressionID: ids.ImpressionID("i0"),
		ClosedAt:     time.Unix(1700000000, 0),
		Expiry:       time.Unix(1700000000, 0).Add(10 * time.Second),
		Bidders: []event.BidderEntry{
			{AgentName: agent, Price: price, WinCostModel: event.WinCostModel{Kind: event.FirstPrice}},
		},
	}
}

// Scenario 1: happy-path win.
func TestHappyPathWin(t *testing.T) {
	base := time.Unix(1700000000, 0)
	m, fb, out, _ := newHarness(t, Config{AuctionDeadline: time.Second, WinLossDeadline: 2 * time.Second})
	m.SetClock(func() time.Time { return base })

	bidID := ids.BidID("A")
	m.HandleAuction(auctionFixture(bidID, "x", decimal.NewFromFloat(1.50)))
	m.HandleWinLoss(&event.RawWinLossEvent{
		Type: event.Win, BidID: bidID, ImpressionID: ids.ImpressionID("i0"),
		Timestamp: base.Add(500 * time.Millisecond), Price: decimal.NewFromFloat(1.50),
	})

	result := requireResult(t, out)
	require.NotNil(t, result.Win)
	assert.Equal(t, "x", result.Win.AgentName)
	assert.True(t, decimal.NewFromFloat(1.50).Equal(result.Win.WinPrice))

	require.Len(t, fb.commits, 1)
	assert.Equal(t, "x", fb.commits[0].agent)
	assert.True(t, decimal.NewFromFloat(1.50).Equal(fb.commits[0].amount))

	assertNoMoreResults(t, out)
}

// Scenario 2: late win, synthetic loss at the win/loss deadline, late
// Win logged as unmatched, never a second MatchedWin (P1).
func TestLateWinProducesSyntheticLossNoDuplicateWin(t *testing.T) {
	base := time.Unix(1700000000, 0)
	m, fb, out, diag := newHarness(t, Config{AuctionDeadline: time.Second, WinLossDeadline: 2 * time.Second})
	clock := base
	m.SetClock(func() time.Time { return clock })

	bidID := ids.BidID("A")
	m.HandleAuction(auctionFixture(bidID, "x", decimal.NewFromFloat(1.50)))

	clock = base.Add(2 * time.Second)
	m.Tick(clock)

	result := requireResult(t, out)
	require.NotNil(t, result.Loss)
	assert.True(t, result.Loss.Synthetic)

	clock = base.Add(2500 * time.Millisecond)
	m.HandleWinLoss(&event.RawWinLossEvent{
		Type: event.Win, BidID: bidID, Timestamp: clock, Price: decimal.NewFromFloat(1.50),
	})

	assertNoMoreResults(t, out)
	require.Empty(t, fb.commits)
	d := requireDiagnostic(t, diag)
	assert.Equal(t, event.Protocol, d.Kind)
}

// Scenario 3: an early campaign event queued before the auction is
// emitted only after the win resolves, preserving causal order.
func TestEarlyCampaignEventOrderedAfterWin(t *testing.T) {
	base := time.Unix(1700000000, 0)
	m, _, out, _ := newHarness(t, Config{AuctionDeadline: time.Second, WinLossDeadline: 2 * time.Second})
	m.SetClock(func() time.Time { return base })

	bidID := ids.BidID("A")
	m.HandleCampaignEvent(&event.RawCampaignEvent{
		BidID: bidID, ImpressionID: ids.ImpressionID("i0"),
		Timestamp: base, Label: event.LabelImpression,
	})
	m.HandleAuction(auctionFixture(bidID, "x", decimal.NewFromFloat(1.50)))
	m.HandleWinLoss(&event.RawWinLossEvent{
		Type: event.Win, BidID: bidID, Timestamp: base.Add(500 * time.Millisecond), Price: decimal.NewFromFloat(1.50),
	})

	first := requireResult(t, out)
	require.NotNil(t, first.Win)
	second := requireResult(t, out)
	require.NotNil(t, second.CampaignEvent)
	assert.Equal(t, event.LabelImpression, second.CampaignEvent.Label)
}

// Scenario 4: an orphan event with no auction ever arriving is
// reported unmatched once the auction deadline elapses.
func TestOrphanEventBecomesUnmatchedAtAuctionDeadline(t *testing.T) {
	base := time.Unix(1700000000, 0)
	m, _, out, diag := newHarness(t, Config{AuctionDeadline: time.Second, WinLossDeadline: 2 * time.Second})
	clock := base
	m.SetClock(func() time.Time { return clock })

	bidID := ids.BidID("B")
	m.HandleCampaignEvent(&event.RawCampaignEvent{BidID: bidID, Timestamp: base, Label: event.LabelClick})

	clock = base.Add(time.Second)
	m.Tick(clock)

	d := requireDiagnostic(t, diag)
	assert.Equal(t, event.Protocol, d.Kind)
	assertNoMoreResults(t, out)
}

func TestDuplicateWinAfterSettleIsDroppedNotReEmitted(t *testing.T) {
	base := time.Unix(1700000000, 0)
	m, fb, out, diag := newHarness(t, Config{AuctionDeadline: time.Second, WinLossDeadline: 2 * time.Second})
	m.SetClock(func() time.Time { return base })

	bidID := ids.BidID("A")
	m.HandleAuction(auctionFixture(bidID, "x", decimal.NewFromFloat(1.50)))
	win := &event.RawWinLossEvent{Type: event.Win, BidID: bidID, Timestamp: base, Price: decimal.NewFromFloat(1.50)}
	m.HandleWinLoss(win)
	requireResult(t, out)
	require.Len(t, fb.commits, 1)

	m.HandleWinLoss(win)
	assertNoMoreResults(t, out)
	require.Len(t, fb.commits, 1)
	d := requireDiagnostic(t, diag)
	assert.Equal(t, event.Protocol, d.Kind)
}

func TestCampaignEventForLostAuctionStillEmitted(t *testing.T) {
	base := time.Unix(1700000000, 0)
	m, _, out, _ := newHarness(t, Config{AuctionDeadline: time.Second, WinLossDeadline: 2 * time.Second})
	m.SetClock(func() time.Time { return base })

	bidID := ids.BidID("A")
	m.HandleAuction(auctionFixture(bidID, "x", decimal.NewFromFloat(1.50)))
	m.HandleWinLoss(&event.RawWinLossEvent{Type: event.Loss, BidID: bidID, Timestamp: base})
	loss := requireResult(t, out)
	require.NotNil(t, loss.Loss)

	m.HandleCampaignEvent(&event.RawCampaignEvent{BidID: bidID, Timestamp: base, Label: event.LabelClick})
	campaign := requireResult(t, out)
	require.NotNil(t, campaign.CampaignEvent)
}

type countingObserver struct {
	auctions, wins, losses, campaigns int
	latencies                         []time.Duration
}

func (c *countingObserver) ObserveDiagnostic(string)  {}
func (c *countingObserver) ObserveUnmatched(string)   {}
func (c *countingObserver) ObserveAuctionSubmitted()  { c.auctions++ }
func (c *countingObserver) ObserveWinMatched()        { c.wins++ }
func (c *countingObserver) ObserveLossMatched()       { c.losses++ }
func (c *countingObserver) ObserveCampaignMatched(string) {
	c.campaigns++
}
func (c *countingObserver) ObserveMatchLatency(d time.Duration) {
	c.latencies = append(c.latencies, d)
}

// Every emitted result increments its matching counter (SPEC_FULL
// A.6.3's required throughput instrumentation).
func TestObserverCountsEveryEmission(t *testing.T) {
	base := time.Unix(1700000000, 0)
	idx := index.New()
	fb := &fakeBanker{}
	out := make(chan event.MatchedResult, 16)
	diag := make(chan event.Diagnostic, 16)
	obs := &countingObserver{}
	m := New(idx, fb, out, diag, obs, Config{AuctionDeadline: time.Second, WinLossDeadline: 2 * time.Second})
	m.SetClock(func() time.Time { return base })

	bidID := ids.BidID("A")
	m.HandleAuction(auctionFixture(bidID, "x", decimal.NewFromFloat(1.50)))
	m.HandleWinLoss(&event.RawWinLossEvent{
		Type: event.Win, BidID: bidID, ImpressionID: ids.ImpressionID("i0"),
		Timestamp: base, Price: decimal.NewFromFloat(1.50),
	})
	m.HandleCampaignEvent(&event.RawCampaignEvent{
		BidID: bidID, ImpressionID: ids.ImpressionID("i0"), Timestamp: base, Label: event.LabelClick,
	})

	assert.Equal(t, 1, obs.auctions)
	assert.Equal(t, 1, obs.wins)
	assert.Equal(t, 0, obs.losses)
	assert.Equal(t, 1, obs.campaigns)
	require.Len(t, obs.latencies, 1)
	assert.GreaterOrEqual(t, obs.latencies[0], time.Duration(0))
}

func requireResult(t *testing.T, out chan event.MatchedResult) event.MatchedResult {
	t.Helper()
	select {
	case r := <-out:
		return r
	default:
		t.Fatal("expected a matched result, got none")
		return event.MatchedResult{}
	}
}

func assertNoMoreResults(t *testing.T, out chan event.MatchedResult) {
	t.Helper()
	select {
	case r := <-out:
		t.Fatalf("expected no further results, got %+v", r)
	default:
	}
}

func requireDiagnostic(t *testing.T, diag chan event.Diagnostic) event.Diagnostic {
	t.Helper()
	select {
	case d := <-diag:
		return d
	default:
		t.Fatal("expected a diagnostic, got none")
		return event.Diagnostic{}
	}
}
