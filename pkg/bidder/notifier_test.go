// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bidder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/postauction/pkg/event"
	"github.com/luxfi/postauction/pkg/ids"
)

type recordedPost struct {
	path string
	body map[string]interface{}
}

func TestSendWinPostsExpectedBody(t *testing.T) {
	var got recordedPost
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got.body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewNotifier(NotifierConfig{WinEndpoint: srv.URL + "/"}, nil)
	price, _ := decimal.NewFromFloat(2.5).Float64()
	err := n.SendWin(context.Background(), &event.MatchedWin{
		BidID: ids.BidID("b1"), ImpressionID: ids.ImpressionID("i0"),
		Timestamp: time.Unix(1700000000, 0), WinPrice: decimal.NewFromFloat(2.5),
		UserIDs: map[string]string{"u": "1"},
	})
	require.NoError(t, err)

	assert.Equal(t, "b1", got.body["bidRequestId"])
	assert.Equal(t, "i0", got.body["impid"])
	assert.Equal(t, price, got.body["price"])
}

func TestSendCampaignEventPostsExpectedBody(t *testing.T) {
	var got recordedPost
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got.body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewNotifier(NotifierConfig{EventEndpoint: srv.URL + "/"}, nil)
	err := n.SendCampaignEvent(context.Background(), &event.MatchedCampaignEvent{
		BidID: ids.BidID("b1"), ImpressionID: ids.ImpressionID("i0"),
		Timestamp: time.Unix(1700000000, 0), Label: event.LabelClick,
	})
	require.NoError(t, err)

	assert.Equal(t, "click", got.body["type"])
}

// Consume routes MatchedWin and MatchedCampaignEvent to their
// respective endpoints and drops MatchedLoss entirely.
func TestConsumeRoutesWinsAndCampaignEventsDropsLosses(t *testing.T) {
	var mu sync.Mutex
	var winHits, eventHits int
	winSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		winHits++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer winSrv.Close()
	eventSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		eventHits++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer eventSrv.Close()

	n := NewNotifier(NotifierConfig{WinEndpoint: winSrv.URL + "/", EventEndpoint: eventSrv.URL + "/"}, nil)

	in := make(chan event.MatchedResult, 4)
	ctx, cancel := context.WithCancel(context.Background())
	go n.Consume(ctx, in)

	in <- event.MatchedResult{Win: &event.MatchedWin{BidID: ids.BidID("b1"), Timestamp: time.Now()}}
	in <- event.MatchedResult{CampaignEvent: &event.MatchedCampaignEvent{BidID: ids.BidID("b1"), Timestamp: time.Now()}}
	in <- event.MatchedResult{Loss: &event.MatchedLoss{BidID: ids.BidID("b1"), Timestamp: time.Now()}}

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return winHits == 1 && eventHits == 1
	}, time.Second, time.Millisecond)

	cancel()
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, winHits)
	assert.Equal(t, 1, eventHits)
}
