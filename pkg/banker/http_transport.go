// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package banker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// httpTransport delivers commits to the master banker's REST endpoint
// via a request/reply POST, mirroring the reserve/settle two-phase
// flow already latent in the teacher's settlement budget manager.
type httpTransport struct {
	endpoint string
	client   *http.Client
}

type httpCommitBody struct {
	BidID        string `json:"bidId"`
	Agent        string `json:"agent"`
	AmountMicros int64  `json:"amountMicros"`
}

const idempotencyKeyHeader = "Idempotency-Key"

// NewHTTPTransport builds a Transport that POSTs each commit as JSON
// to endpoint (e.g. "http://banker.internal:8080/commits").
func NewHTTPTransport(endpoint string) (Transport, error) {
	return &httpTransport{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 5 * time.Second},
	}, nil
}

func (t *httpTransport) Deliver(ctx context.Context, c Commit) error {
	micros := c.Amount.Shift(6).IntPart()
	body, err := json.Marshal(httpCommitBody{
		BidID:        c.BidID.String(),
		Agent:        c.Agent,
		AmountMicros: micros,
	})
	if err != nil {
		return &PermanentError{Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return &PermanentError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(idempotencyKeyHeader, c.IdempotencyKey)
	resp, err := t.client.Do(req)
	if err != nil {
		return err // transient: timeout, connection refused, DNS
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return &PermanentError{Err: fmt.Errorf("banker http %d", resp.StatusCode)}
	default:
		return fmt.Errorf("banker http %d", resp.StatusCode)
	}
}

func init() {
	RegisterTransport("http", NewHTTPTransport)
}
