// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noEnv(string) string { return "" }

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil, noEnv)
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Shard)
	assert.Equal(t, 1, cfg.NumShards)
	assert.True(t, cfg.UseHTTPBanker)
	assert.Equal(t, 600, cfg.WinSeconds)
	assert.Equal(t, 60, cfg.AuctionSeconds)
}

func TestLoadFlagsOverrideDefaults(t *testing.T) {
	cfg, err := Load([]string{"-shard=2", "-num-shards=4", "-win-seconds=30"}, noEnv)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Shard)
	assert.Equal(t, 4, cfg.NumShards)
	assert.Equal(t, 30, cfg.WinSeconds)
}

func TestLoadEnvFallback(t *testing.T) {
	env := map[string]string{"POSTAUCTION_NUM_SHARDS": "8", "POSTAUCTION_SHARD": "3"}
	cfg, err := Load(nil, func(k string) string { return env[k] })
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.NumShards)
	assert.Equal(t, 3, cfg.Shard)
}

func TestLoadRejectsShardOutOfRange(t *testing.T) {
	_, err := Load([]string{"-shard=5", "-num-shards=2"}, noEnv)
	assert.Error(t, err)
}

func TestLoadRejectsNonPositiveNumShards(t *testing.T) {
	_, err := Load([]string{"-num-shards=0"}, noEnv)
	assert.Error(t, err)
}

func TestLoadHelp(t *testing.T) {
	_, err := Load([]string{"-h"}, noEnv)
	assert.ErrorIs(t, err, ErrHelp)
}

func TestLoadBidderFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bidder.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"host": "127.0.0.1",
		"port": 9200,
		"path": "/bid",
		"adServerWinHost": "ads.internal",
		"adServerWinPort": 80,
		"adServerEventHost": "ads.internal",
		"adServerEventPort": 80
	}`), 0o600))

	bc, err := LoadBidderFile(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", bc.Host)
	assert.Equal(t, 9200, bc.Port)
	assert.Equal(t, "/bid", bc.Path)
}

func TestLoadBidderFileRejectsMissingHost(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bidder.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"port": 9200}`), 0o600))

	_, err := LoadBidderFile(path)
	assert.Error(t, err)
}

func TestLoadBidderFileRejectsMalformedJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bidder.json")
	require.NoError(t, os.WriteFile(path, []byte(`not json`), 0o600))

	_, err := LoadBidderFile(path)
	assert.Error(t, err)
}
