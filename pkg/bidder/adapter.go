// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package bidder implements the HTTP bidder adapter (C4): it
// translates an internal bid opportunity into an OpenRTB 2.1 POST,
// parses the response, and re-injects bid/no-bid decisions into the
// router through InjectionQueue rather than a direct call.
package bidder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prebid/openrtb/v20/openrtb2"

	"github.com/luxfi/postauction/pkg/event"
)

// impExt is the ext object tagged onto each outbound impression,
// naming every agent external-id eligible to bid on it.
type impExt struct {
	ExternalIDs []uint64 `json:"external-ids"`
}

// bidExt is the ext object a conforming bidder response must carry on
// every seatbid.bid.
type bidExt struct {
	ExternalID *uint64  `json:"external-id"`
	Priority   *float64 `json:"priority"`
}

// Observer is the narrow metrics slice the adapter needs.
type Observer interface {
	ObserveBidderRequest()
	ObserveBidderError(kind string)
	ObserveNoBidsInjected(n int)
	ObserveOverload()
	ObserveBidderLatency(d time.Duration)
}

// Adapter is one bidder endpoint's HTTP bridge.
type Adapter struct {
	Name     string
	Endpoint string

	client      *http.Client
	injector    *InjectionQueue
	diagnostics chan<- event.Diagnostic
	metrics     Observer
	now         func() time.Time
}

// Config configures a single Adapter instance.
type Config struct {
	Name     string
	Endpoint string
	Timeout  time.Duration
}

// New builds an Adapter posting to cfg.Endpoint and re-injecting
// through injector.
func New(cfg Config, injector *InjectionQueue, diagnostics chan<- event.Diagnostic, metrics Observer) *Adapter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Adapter{
		Name:        cfg.Name,
		Endpoint:    cfg.Endpoint,
		client:      &http.Client{Timeout: timeout},
		injector:    injector,
		diagnostics: diagnostics,
		metrics:     metrics,
		now:         time.Now,
	}
}

// SendAuctionMessage is the request/response bridge described in
// spec.md §4.4, transcribed from http_bidder_interface.cc's
// sendAuctionMessage. The POST runs synchronously on the calling
// goroutine (the adapter's own I/O goroutine per §5). Every HTTP
// response (204, 200 or any other status) ends in exactly one TryPush
// per bidder. When the remaining time is ≤ 0, or the request cannot be
// serialized, built or sent, nothing is injected at all — the router's
// own expiry is responsible for cleanup there.
func (a *Adapter) SendAuctionMessage(ctx context.Context, req *openrtb2.BidRequest, expiry time.Time, bidders []event.BidderEntry) {
	remaining := expiry.Sub(a.now())
	if remaining <= 0 {
		return
	}
	a.tagExternalIDs(req, bidders)
	req.TMax = remaining.Milliseconds()

	body, err := json.Marshal(req)
	if err != nil {
		a.escalate(event.Protocol, "failed to serialize outbound bid request", err)
		return
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.Endpoint, bytes.NewReader(body))
	if err != nil {
		a.escalate(event.Transient, "failed to build outbound bidder request", err)
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-openrtb-version", "2.1")

	if a.metrics != nil {
		a.metrics.ObserveBidderRequest()
	}
	start := a.now()
	resp, err := a.client.Do(httpReq)
	if a.metrics != nil {
		a.metrics.ObserveBidderLatency(a.now().Sub(start))
	}
	if err != nil {
		// Transport error: escalate, inject nothing — the router's
		// own expiry cleans up the in-flight bookkeeping.
		a.escalate(event.Transient, "bidder request failed", err)
		return
	}
	defer resp.Body.Close()

	impressionCount := len(req.Imp)

	switch {
	case resp.StatusCode == http.StatusNoContent:
		a.injectNoBidsForAll(bidders, impressionCount)
	case resp.StatusCode == http.StatusOK:
		a.handleBidResponse(resp, req, bidders, impressionCount)
	default:
		a.escalate(event.Transient, fmt.Sprintf("bidder returned unexpected status %d", resp.StatusCode), nil)
		a.injectNoBidsForAll(bidders, impressionCount)
	}
}

func (a *Adapter) tagExternalIDs(req *openrtb2.BidRequest, bidders []event.BidderEntry) {
	for i := range req.Imp {
		var ids []uint64
		for _, b := range bidders {
			if containsInt(b.Impressions, i) {
				ids = append(ids, b.Config.ExternalID)
			}
		}
		if len(ids) == 0 {
			continue
		}
		raw, err := json.Marshal(impExt{ExternalIDs: ids})
		if err != nil {
			continue
		}
		req.Imp[i].Ext = raw
	}
}

func containsInt(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

func (a *Adapter) handleBidResponse(resp *http.Response, req *openrtb2.BidRequest, bidders []event.BidderEntry, impressionCount int) {
	var parsed openrtb2.BidResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		a.escalate(event.Protocol, "failed to parse bid response", err)
		a.injectNoBidsForAll(bidders, impressionCount)
		return
	}

	perAgent := make(map[string][]Bid, len(bidders))
	for _, sb := range parsed.SeatBid {
		for _, raw := range sb.Bid {
			bid, agentName, ok := a.resolveBid(raw, req, bidders)
			if !ok {
				continue
			}
			perAgent[agentName] = append(perAgent[agentName], bid)
		}
	}

	for _, b := range bidders {
		bids := perAgent[b.AgentName]
		if len(bids) < impressionCount {
			padded := make([]Bid, 0, impressionCount)
			padded = append(padded, bids...)
			for len(padded) < impressionCount {
				padded = append(padded, Bid{NoBid: true})
			}
			bids = padded
		}
		a.inject(b.AgentName, bids)
	}
}

func (a *Adapter) resolveBid(raw openrtb2.Bid, req *openrtb2.BidRequest, bidders []event.BidderEntry) (Bid, string, bool) {
	var ext bidExt
	if len(raw.Ext) > 0 {
		_ = json.Unmarshal(raw.Ext, &ext)
	}
	if ext.ExternalID == nil || ext.Priority == nil {
		a.escalate(event.Protocol, "bid missing ext.external-id or ext.priority", nil)
		return Bid{}, "", false
	}

	var agent *event.BidderEntry
	for i := range bidders {
		if bidders[i].Config.ExternalID == *ext.ExternalID {
			agent = &bidders[i]
			break
		}
	}
	if agent == nil {
		a.escalate(event.Protocol, "bid references unknown external-id", nil)
		return Bid{}, "", false
	}

	crid := parseCrID(raw.CrID)
	creativeIndex := agent.Config.CreativeIndex(crid)
	if creativeIndex < 0 {
		a.escalate(event.Protocol, "bid references unknown creative id", nil)
		return Bid{}, "", false
	}

	spotIndex := -1
	for i := range req.Imp {
		if req.Imp[i].ID == raw.ImpID {
			spotIndex = i
			break
		}
	}
	if spotIndex < 0 {
		a.escalate(event.Protocol, "bid references unknown impid", nil)
		return Bid{}, "", false
	}

	return Bid{
		SpotIndex:     spotIndex,
		CreativeIndex: creativeIndex,
		Price:         raw.Price,
		Priority:      *ext.Priority,
	}, agent.AgentName, true
}

func parseCrID(s string) int {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	if err != nil {
		return -1
	}
	return n
}

func (a *Adapter) injectNoBidsForAll(bidders []event.BidderEntry, impressionCount int) {
	for _, b := range bidders {
		bids := make([]Bid, impressionCount)
		for i := range bids {
			bids[i] = Bid{NoBid: true}
		}
		a.inject(b.AgentName, bids)
	}
}

func (a *Adapter) inject(agent string, bids []Bid) {
	noBidCount := 0
	for _, b := range bids {
		if b.NoBid {
			noBidCount++
		}
	}
	if noBidCount > 0 && a.metrics != nil {
		a.metrics.ObserveNoBidsInjected(noBidCount)
	}
	if !a.injector.TryPush(BidInjection{Agent: agent, Bids: bids}) {
		if a.metrics != nil {
			a.metrics.ObserveOverload()
		}
		a.escalate(event.Overload, "injection queue full, dropping bid injection for "+agent, nil)
	}
}

func (a *Adapter) escalate(kind event.DiagnosticKind, msg string, err error) {
	if a.metrics != nil {
		a.metrics.ObserveBidderError(string(kind))
	}
	if a.diagnostics == nil {
		return
	}
	d := event.Diagnostic{Kind: kind, Message: msg, Err: err, At: a.now()}
	select {
	case a.diagnostics <- d:
	default:
	}
}
