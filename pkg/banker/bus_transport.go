// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package banker

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

const commitsTopic = "banker.commits"

// busTransport publishes commits onto a message bus instead of
// calling the banker directly; the banker is a remote consumer (out
// of scope) applying commits idempotently keyed by (bid id, agent).
// Grounded on the coinStatApp Kafka producer shape: a *kafka.Writer
// addressed by broker list, hash-partitioned by key.
type busTransport struct {
	writer *kafka.Writer
}

type busCommitBody struct {
	BidID          string `json:"bidId"`
	Agent          string `json:"agent"`
	AmountMicros   int64  `json:"amountMicros"`
	IdempotencyKey string `json:"idempotencyKey"`
}

// NewBusTransport builds a Transport publishing to commitsTopic across
// the comma-separated brokers list (e.g. "kafka-0:9092,kafka-1:9092").
func NewBusTransport(brokers string) (Transport, error) {
	addrs := strings.Split(brokers, ",")
	w := &kafka.Writer{
		Addr:         kafka.TCP(addrs...),
		Topic:        commitsTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
	return &busTransport{writer: w}, nil
}

func (t *busTransport) Deliver(ctx context.Context, c Commit) error {
	data, err := json.Marshal(busCommitBody{
		BidID:          c.BidID.String(),
		Agent:          c.Agent,
		AmountMicros:   c.Amount.Shift(6).IntPart(),
		IdempotencyKey: c.IdempotencyKey,
	})
	if err != nil {
		return &PermanentError{Err: err}
	}
	return t.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(c.BidID.String() + ":" + c.Agent),
		Value: data,
		Time:  time.Now(),
	})
}

func init() {
	RegisterTransport("bus", NewBusTransport)
}
