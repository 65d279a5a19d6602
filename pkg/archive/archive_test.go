// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package archive

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsEmptyURL(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestNewRejectsInvalidURL(t *testing.T) {
	_, err := New(Config{URL: "not-a-redis-url"})
	assert.Error(t, err)
}

func TestNewAppliesPoolOverrides(t *testing.T) {
	s, err := New(Config{URL: "redis://localhost:6379/0", PoolSize: 42})
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, 42, s.client.Options().PoolSize)
}

func TestRecordRoundTrip(t *testing.T) {
	rec := Record{BidID: "b1", ImpressionID: "i0", Kind: "win", AgentName: "a1", Timestamp: time.Now().Truncate(time.Second)}
	data, err := json.Marshal(rec)
	require.NoError(t, err)

	var parsed Record
	require.NoError(t, json.Unmarshal(data, &parsed))
	assert.Equal(t, rec, parsed)
}
