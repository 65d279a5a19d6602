// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package archive persists MatchedResult records to Redis for audit
// and reconciliation, replacing the teacher's pkg/storage (which
// wrapped an in-monorepo database module unavailable outside it) with
// a real, fetchable client in the same idiom: a thin wrapper struct
// around a connection-pooled client, configured from a URL.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/luxfi/postauction/pkg/event"
)

// Record is the archived shape of one MatchedResult, flattened for
// storage and keyed by bid id.
type Record struct {
	BidID        string    `json:"bid_id"`
	ImpressionID string    `json:"impression_id"`
	Kind         string    `json:"kind"` // "win" | "loss" | "campaign"
	AgentName    string    `json:"agent_name,omitempty"`
	Label        string    `json:"label,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Config controls connection pooling, mirroring the pack's Redis
// client wrapper defaults.
type Config struct {
	URL          string
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Store archives matched results to a Redis hash keyed by bid id,
// one field per result kind, so a reconciliation job can fetch a
// single bid id's full history with one HGETALL.
type Store struct {
	client *redis.Client
}

// New builds a Store from cfg.URL without contacting the server —
// archival is best-effort and must never block the matcher's hot
// path, so connection failures surface only when a record is written.
func New(cfg Config) (*Store, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("archive: redis URL is empty")
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("archive: invalid redis URL: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}
	return &Store{client: redis.NewClient(opts)}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Archive stores one MatchedResult, dispatching on whichever field is
// populated. It satisfies pkg/matcher.Archiver.
func (s *Store) Archive(ctx context.Context, r event.MatchedResult) error {
	switch {
	case r.Win != nil:
		return s.put(ctx, string(r.Win.BidID), "win", Record{
			BidID: r.Win.BidID.String(), ImpressionID: r.Win.ImpressionID.String(),
			Kind: "win", AgentName: r.Win.AgentName, Timestamp: r.Win.Timestamp,
		})
	case r.Loss != nil:
		return s.put(ctx, string(r.Loss.BidID), "loss:"+r.Loss.AgentName, Record{
			BidID: r.Loss.BidID.String(), ImpressionID: r.Loss.ImpressionID.String(),
			Kind: "loss", AgentName: r.Loss.AgentName, Timestamp: r.Loss.Timestamp,
		})
	case r.CampaignEvent != nil:
		field := "campaign:" + string(r.CampaignEvent.Label)
		return s.put(ctx, string(r.CampaignEvent.BidID), field, Record{
			BidID: r.CampaignEvent.BidID.String(), ImpressionID: r.CampaignEvent.ImpressionID.String(),
			Kind: "campaign", AgentName: r.CampaignEvent.AgentName,
			Label: string(r.CampaignEvent.Label), Timestamp: r.CampaignEvent.Timestamp,
		})
	default:
		return nil
	}
}

func (s *Store) put(ctx context.Context, bidID, field string, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	key := "postauction:bid:" + bidID
	return s.client.HSet(ctx, key, field, data).Err()
}

// History fetches every archived record for a bid id.
func (s *Store) History(ctx context.Context, bidID string) ([]Record, error) {
	key := "postauction:bid:" + bidID
	raw, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(raw))
	for _, v := range raw {
		var rec Record
		if err := json.Unmarshal([]byte(v), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}
