// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package event

import "github.com/shopspring/decimal"

// CostModelKind selects how a winning bid's chargeable amount is
// derived from the bid price and the exchange-reported win price.
type CostModelKind int

const (
	// FirstPrice charges the agent its own bid price.
	FirstPrice CostModelKind = iota
	// SecondPrice charges the agent the exchange-reported win price
	// verbatim.
	SecondPrice
	// Ratio charges bidPrice * Ratio, capped at bidPrice.
	Ratio
)

// WinCostModel is the per-agent policy mapping bid price and reported
// win price to a chargeable amount. It is snapshotted into the
// SubmittedAuction at auction-submission time.
type WinCostModel struct {
	Kind  CostModelKind
	Ratio decimal.Decimal
}

// Chargeable computes the amount to commit to the banker for a win.
func (m WinCostModel) Chargeable(bidPrice, winPrice decimal.Decimal) decimal.Decimal {
	switch m.Kind {
	case SecondPrice:
		return winPrice
	case Ratio:
		amount := bidPrice.Mul(m.Ratio)
		if amount.GreaterThan(bidPrice) {
			return bidPrice
		}
		return amount
	default: // FirstPrice
		return bidPrice
	}
}
