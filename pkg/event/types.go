// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package event holds the post-auction data model: the three inbound
// event kinds (submitted auctions, raw win/loss, raw campaign events),
// the matched results the correlator emits, and the diagnostics
// carrier used for every non-fatal error kind.
package event

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/luxfi/postauction/pkg/ids"
)

// Creative is one creative an agent is eligible to serve, identified
// by the OpenRTB creative id ("crid") the bidder will echo back.
type Creative struct {
	ID    int
	Index int
}

// AgentConfig is the agent configuration snapshot stored inside a
// SubmittedAuction. It is copied by value at auction-submission time
// and never refreshed — the matcher must charge against the config
// the agent actually bid under, not whatever is live now.
type AgentConfig struct {
	ExternalID uint64
	Creatives  []Creative
}

// CreativeIndex returns the index of the creative with the given
// OpenRTB crid, or -1 if unknown.
func (c AgentConfig) CreativeIndex(crid int) int {
	for _, cr := range c.Creatives {
		if cr.ID == crid {
			return cr.Index
		}
	}
	return -1
}

// BidderEntry is one agent's participation in a single auction: the
// price it bid, the creative it would serve, and the cost model used
// to compute what it actually gets charged on a win.
type BidderEntry struct {
	AgentName     string
	Config        AgentConfig
	Price         decimal.Decimal
	CreativeIndex int
	WinCostModel  WinCostModel
	// Impressions lists the indices, into the original bid request's
	// impression array, this agent is eligible to bid on.
	Impressions []int
}

// WinnerRef is the exchange-disclosed winner of an auction, if known
// at submission time.
type WinnerRef struct {
	AgentName string
	Price     decimal.Decimal
}

// SubmittedAuction is the immutable record of one auction as observed
// at close, published by the router.
type SubmittedAuction struct {
	BidID        ids.BidID
	ImpressionID ids.ImpressionID
	ClosedAt     time.Time
	Expiry       time.Time
	Bidders      []BidderEntry
	// OriginalRequest is the full original bid-request envelope,
	// retained verbatim for downstream correlation and logging.
	OriginalRequest json.RawMessage
	Winner          *WinnerRef
}

// BidderByAgent returns the BidderEntry for the named agent, or nil.
func (s *SubmittedAuction) BidderByAgent(agent string) *BidderEntry {
	for i := range s.Bidders {
		if s.Bidders[i].AgentName == agent {
			return &s.Bidders[i]
		}
	}
	return nil
}

// WinLossKind discriminates a RawWinLossEvent.
type WinLossKind int

const (
	Win WinLossKind = iota
	Loss
)

func (k WinLossKind) String() string {
	if k == Win {
		return "win"
	}
	return "loss"
}

// RawWinLossEvent is the exchange's notification of an auction's
// outcome. It is not trusted for accounting directly — the
// SubmittedAuction is authoritative for which agent bid what; see
// Matcher.resolveWinningAgent.
type RawWinLossEvent struct {
	Type         WinLossKind
	BidID        ids.BidID
	ImpressionID ids.ImpressionID
	Timestamp    time.Time
	Price        decimal.Decimal
	UserIDs      map[string]string
	Meta         map[string]string
}

// CampaignLabel is the kind of downstream ad-server event.
type CampaignLabel string

const (
	LabelImpression CampaignLabel = "impression"
	LabelClick       CampaignLabel = "click"
	LabelConversion  CampaignLabel = "conversion"
	LabelVisit       CampaignLabel = "visit"
	LabelCustom      CampaignLabel = "custom"
)

// RawCampaignEvent is a downstream campaign event published by the ad
// server: impression, click, conversion, visit or a custom label.
type RawCampaignEvent struct {
	BidID        ids.BidID
	ImpressionID ids.ImpressionID
	Timestamp    time.Time
	Label        CampaignLabel
	Payload      map[string]string
}

// MatchedWin is emitted at most once per bid id (I2) once the matcher
// resolves the winning agent and chargeable amount.
type MatchedWin struct {
	BidID        ids.BidID
	ImpressionID ids.ImpressionID
	AgentName    string
	AgentConfig  AgentConfig
	Timestamp    time.Time
	WinPrice     decimal.Decimal
	BidPrice     decimal.Decimal
	WinCostModel WinCostModel
	UserIDs      map[string]string
}

// MatchedLoss is emitted when an auction resolves to a loss, whether
// reported by the exchange or synthesized after the winloss-deadline.
type MatchedLoss struct {
	BidID        ids.BidID
	ImpressionID ids.ImpressionID
	AgentName    string
	Timestamp    time.Time
	Synthetic    bool
}

// MatchedCampaignEvent is emitted once a downstream campaign event has
// been joined to its auction.
type MatchedCampaignEvent struct {
	BidID        ids.BidID
	ImpressionID ids.ImpressionID
	AgentName    string
	Label        CampaignLabel
	Timestamp    time.Time
	UserIDs      map[string]string
}

// MatchedResult is the tagged sum of everything the matcher can emit
// to the egress sink.
type MatchedResult struct {
	Win           *MatchedWin
	Loss          *MatchedLoss
	CampaignEvent *MatchedCampaignEvent
}

// UnmatchedEvent is emitted for any event that cannot be joined to an
// auction: it arrived after its bucket's auction-deadline, or after
// the bucket was already removed. It must never stall ingress.
type UnmatchedEvent struct {
	BidID     ids.BidID
	Kind      string // "winloss" | "campaign"
	Timestamp time.Time
	Reason    string
	Raw       interface{}
}

// Tick is a synthetic envelope member driving the timer wheel; it
// carries no payload beyond the instant it represents.
type Tick struct {
	At time.Time
}

// Envelope is the tagged sum draining into a shard's single select
// loop: exactly one field is non-nil.
type Envelope struct {
	Auction  *SubmittedAuction
	WinLoss  *RawWinLossEvent
	Campaign *RawCampaignEvent
	Tick     *Tick
}
