// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package index implements the TTL'd, indexed store of submitted
// auctions and pending events keyed by bid id (C1 in the post-auction
// design). It is owned by exactly one shard goroutine and therefore
// carries no internal locking — see pkg/shard for the ownership
// boundary.
package index

import (
	"time"

	"github.com/luxfi/postauction/pkg/event"
	"github.com/luxfi/postauction/pkg/ids"
)

// State is one of the four lifecycle states a PendingBucket moves
// through.
type State int

const (
	AwaitingAuction State = iota
	AwaitingWinLoss
	Settled
	Expired
)

func (s State) String() string {
	switch s {
	case AwaitingAuction:
		return "awaiting_auction"
	case AwaitingWinLoss:
		return "awaiting_winloss"
	case Settled:
		return "settled"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// Bucket is the per-bid-id soft state described in the data model: the
// submitted auction (once known), any win/loss or campaign events that
// arrived before it, and the three deadlines governing its lifecycle.
type Bucket struct {
	BidID ids.BidID
	State State

	Auction         *event.SubmittedAuction
	QueuedWinLoss   *event.RawWinLossEvent
	QueuedCampaign  []*event.RawCampaignEvent

	// WinEmitted enforces I2: a MatchedWin is emitted at most once
	// across all time, even across duplicate Win arrivals in Settled.
	WinEmitted bool

	AuctionDeadline time.Time
	WinLossDeadline time.Time
	GraceDeadline   time.Time

	// epochs are bumped every time the corresponding deadline is
	// (re)scheduled, so a stale heap entry from a superseded schedule
	// is recognized and skipped rather than double-fired.
	auctionEpoch uint64
	winlossEpoch uint64
	graceEpoch   uint64
}

func newBucket(id ids.BidID) *Bucket {
	return &Bucket{BidID: id, State: AwaitingAuction}
}
