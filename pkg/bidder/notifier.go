// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bidder

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/luxfi/postauction/pkg/event"
)

// winNotification is the ad-server win notification body from
// spec.md §6, byte-for-byte.
type winNotification struct {
	Timestamp    float64           `json:"timestamp"`
	BidRequestID string            `json:"bidRequestId"`
	ImpID        string            `json:"impid"`
	UserIDs      map[string]string `json:"userIds"`
	Price        float64           `json:"price"`
}

// campaignEventNotification is the ad-server campaign event body from
// spec.md §6, byte-for-byte.
type campaignEventNotification struct {
	Timestamp    float64 `json:"timestamp"`
	BidRequestID string  `json:"bidRequestId"`
	ImpID        string  `json:"impid"`
	Type         string  `json:"type"`
}

// Notifier posts MatchedWin and MatchedCampaignEvent records to the
// ad server. Only these two are wired: sendLossMessage and the other
// no-op sends in the original C++ adapter stay null here too, per the
// Open Question resolution in spec.md §9.
type Notifier struct {
	client        *http.Client
	winEndpoint   string
	eventEndpoint string
	diagnostics   chan<- event.Diagnostic
}

// NotifierConfig points a Notifier at the ad server's win and event
// endpoints.
type NotifierConfig struct {
	WinEndpoint   string
	EventEndpoint string
	Timeout       time.Duration
}

// NewNotifier builds a Notifier.
func NewNotifier(cfg NotifierConfig, diagnostics chan<- event.Diagnostic) *Notifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Notifier{
		client:        &http.Client{Timeout: timeout},
		winEndpoint:   cfg.WinEndpoint,
		eventEndpoint: cfg.EventEndpoint,
		diagnostics:   diagnostics,
	}
}

// SendWin POSTs a win notification. The decimal win price is
// converted to float64 only here, at the JSON wire boundary named in
// SPEC_FULL.md D.4.2.3 — every internal computation stays decimal.
func (n *Notifier) SendWin(ctx context.Context, w *event.MatchedWin) error {
	price, _ := w.WinPrice.Float64()
	body := winNotification{
		Timestamp:    float64(w.Timestamp.UnixNano()) / 1e9,
		BidRequestID: w.BidID.String(),
		ImpID:        w.ImpressionID.String(),
		UserIDs:      w.UserIDs,
		Price:        price,
	}
	return n.post(ctx, n.winEndpoint, body)
}

// SendCampaignEvent POSTs a campaign event notification.
func (n *Notifier) SendCampaignEvent(ctx context.Context, c *event.MatchedCampaignEvent) error {
	body := campaignEventNotification{
		Timestamp:    float64(c.Timestamp.UnixNano()) / 1e9,
		BidRequestID: c.BidID.String(),
		ImpID:        c.ImpressionID.String(),
		Type:         string(c.Label),
	}
	return n.post(ctx, n.eventEndpoint, body)
}

// Consume drains in, posting each MatchedWin and MatchedCampaignEvent
// to the ad server until ctx is cancelled. MatchedLoss records are
// dropped — see the Notifier doc comment. This is C4's half of the
// C2-to-ad-server link named in spec.md §2; one goroutine per shard
// drains that shard's ingress.Queues.MatchedResults.
func (n *Notifier) Consume(ctx context.Context, in <-chan event.MatchedResult) {
	for {
		select {
		case <-ctx.Done():
			return
		case r := <-in:
			switch {
			case r.Win != nil:
				_ = n.SendWin(ctx, r.Win)
			case r.CampaignEvent != nil:
				_ = n.SendCampaignEvent(ctx, r.CampaignEvent)
			}
		}
	}
}

func (n *Notifier) post(ctx context.Context, endpoint string, body interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		n.diagnose(event.Transient, "ad-server notification failed", err)
		return err
	}
	defer resp.Body.Close()
	return nil
}

func (n *Notifier) diagnose(kind event.DiagnosticKind, msg string, err error) {
	if n.diagnostics == nil {
		return
	}
	select {
	case n.diagnostics <- event.Diagnostic{Kind: kind, Message: msg, Err: err, At: time.Now()}:
	default:
	}
}
