// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bidder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prebid/openrtb/v20/openrtb2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/postauction/pkg/event"
)

func fourImpRequest() *openrtb2.BidRequest {
	return &openrtb2.BidRequest{
		ID: "req-1",
		Imp: []openrtb2.Imp{
			{ID: "imp-0"}, {ID: "imp-1"}, {ID: "imp-2"}, {ID: "imp-3"},
		},
	}
}

func threeAgents() []event.BidderEntry {
	return []event.BidderEntry{
		{AgentName: "a1", Config: event.AgentConfig{ExternalID: 1}, Impressions: []int{0, 1, 2, 3}},
		{AgentName: "a2", Config: event.AgentConfig{ExternalID: 2}, Impressions: []int{0, 1, 2, 3}},
		{AgentName: "a3", Config: event.AgentConfig{ExternalID: 3}, Impressions: []int{0, 1, 2, 3}},
	}
}

// Scenario 5: a 204 response pads every eligible agent to the full
// outbound impression count.
func TestNoContentInjectsNoBidsForEveryAgent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "2.1", r.Header.Get("x-openrtb-version"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	injector := NewInjectionQueue(16)
	diag := make(chan event.Diagnostic, 16)
	a := New(Config{Name: "t", Endpoint: srv.URL}, injector, diag, nil)

	a.SendAuctionMessage(context.Background(), fourImpRequest(), time.Now().Add(time.Second), threeAgents())

	injections := drainInjections(t, injector, 3)
	for _, inj := range injections {
		require.Len(t, inj.Bids, 4)
		for _, b := range inj.Bids {
			assert.True(t, b.NoBid)
		}
	}
}

// Scenario 6 + P7: a malformed bid (missing ext.priority) is dropped
// with a protocol diagnostic; valid bids still inject; agents with no
// bids pad to the impression count.
func TestMalformedBidDiagnosedOthersStillInjected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		extID1 := uint64(1)
		priority1 := 0.9
		extID2 := uint64(2)
		resp := openrtb2.BidResponse{
			SeatBid: []openrtb2.SeatBid{{
				Bid: []openrtb2.Bid{
					{ImpID: "imp-0", CrID: "10", Price: 2.5, Ext: mustMarshal(bidExt{ExternalID: &extID1, Priority: &priority1})},
					{ImpID: "imp-1", CrID: "20", Price: 1.1, Ext: mustMarshal(bidExt{ExternalID: &extID2, Priority: nil})},
				},
			}},
		}
		data, _ := json.Marshal(resp)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	injector := NewInjectionQueue(16)
	diag := make(chan event.Diagnostic, 16)
	bidders := []event.BidderEntry{
		{AgentName: "a1", Config: event.AgentConfig{ExternalID: 1, Creatives: []event.Creative{{ID: 10, Index: 0}}}, Impressions: []int{0, 1, 2, 3}},
		{AgentName: "a2", Config: event.AgentConfig{ExternalID: 2, Creatives: []event.Creative{{ID: 20, Index: 0}}}, Impressions: []int{0, 1, 2, 3}},
	}
	a := New(Config{Name: "t", Endpoint: srv.URL}, injector, diag, nil)

	a.SendAuctionMessage(context.Background(), fourImpRequest(), time.Now().Add(time.Second), bidders)

	select {
	case d := <-diag:
		assert.Equal(t, event.Protocol, d.Kind)
	default:
		t.Fatal("expected a protocol diagnostic for the malformed bid")
	}

	injections := drainInjections(t, injector, 2)
	byAgent := map[string]BidInjection{}
	for _, inj := range injections {
		byAgent[inj.Agent] = inj
	}
	require.Len(t, byAgent["a1"].Bids, 4)
	assert.False(t, byAgent["a1"].Bids[0].NoBid)
	for i := 1; i < 4; i++ {
		assert.True(t, byAgent["a1"].Bids[i].NoBid)
	}
	require.Len(t, byAgent["a2"].Bids, 4)
	for _, b := range byAgent["a2"].Bids {
		assert.True(t, b.NoBid)
	}
}

// Boundary: remaining time ≤ 0 means no outbound call and no
// injection at all.
func TestExpiredBudgetSkipsRequestEntirely(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	injector := NewInjectionQueue(16)
	a := New(Config{Name: "t", Endpoint: srv.URL}, injector, nil, nil)

	a.SendAuctionMessage(context.Background(), fourImpRequest(), time.Now().Add(-time.Second), threeAgents())

	assert.False(t, called)
	_, ok := injector.Pop()
	assert.False(t, ok)
}

// P6: serialize ∘ parse of a well-formed OpenRTB BidRequest is
// identity (limited to the fields this adapter actually sets).
func TestRequestSerializeParseRoundTrip(t *testing.T) {
	req := fourImpRequest()
	req.TMax = 250
	req.Imp[0].Ext = mustMarshal(impExt{ExternalIDs: []uint64{1, 2}})

	data, err := json.Marshal(req)
	require.NoError(t, err)

	var parsed openrtb2.BidRequest
	require.NoError(t, json.Unmarshal(data, &parsed))

	assert.Equal(t, req.ID, parsed.ID)
	assert.Equal(t, req.TMax, parsed.TMax)
	require.Len(t, parsed.Imp, 4)
	var ext impExt
	require.NoError(t, json.Unmarshal(parsed.Imp[0].Ext, &ext))
	assert.Equal(t, []uint64{1, 2}, ext.ExternalIDs)
}

func mustMarshal(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

func drainInjections(t *testing.T, q *InjectionQueue, n int) []BidInjection {
	t.Helper()
	var out []BidInjection
	for i := 0; i < n; i++ {
		inj, ok := q.Pop()
		require.True(t, ok, "expected %d injections, got %d", n, i)
		out = append(out, inj)
	}
	return out
}
