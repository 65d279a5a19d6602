// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config loads postauctiond's startup configuration: flags
// with an environment-variable fallback, matching the teacher's
// cmd/adxd/main.go flag style and the thenexusengine pack repo's
// cmd/server/config.go env-fallback convention.
package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds every option named in spec.md §4.6 plus the standard
// service options (admin port, log level).
type Config struct {
	Shard                    int
	NumShards                int
	BidderConfig             string
	UseHTTPBanker            bool
	WinSeconds               int
	AuctionSeconds           int
	WinLossPipeSeconds       int
	CampaignEventPipeSeconds int

	AdminAddr string
	LogLevel  string

	BankerHTTPEndpoint string
	BankerBusBrokers   string

	ArchiveRedisURL string
}

// BidderFileConfig is the JSON shape loaded from the --bidder flag's
// path, mirroring http_bidder_interface.cc's constructor contract:
// the router-facing HTTP endpoint plus the ad-server win/event hosts.
type BidderFileConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	Path string `json:"path"`

	AdServerWinHost   string `json:"adServerWinHost"`
	AdServerWinPort   int    `json:"adServerWinPort"`
	AdServerEventHost string `json:"adServerEventHost"`
	AdServerEventPort int    `json:"adServerEventPort"`
}

// ErrHelp is returned by Load when -h/--help was requested; the
// caller must os.Exit(1), matching spec.md §6's CLI contract.
var ErrHelp = errors.New("config: help requested")

// Load parses CLI flags with an environment-variable fallback for any
// option that plausibly comes from orchestration. A malformed flag, a
// non-positive num-shards or a shard index outside [0, num-shards) is
// a fatal Configuration error.
func Load(args []string, getenv func(string) string) (*Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	fs := flag.NewFlagSet("postauctiond", flag.ContinueOnError)

	cfg := &Config{}
	fs.IntVar(&cfg.Shard, "shard", envInt(getenv, "POSTAUCTION_SHARD", 0), "0-based shard index")
	fs.IntVar(&cfg.NumShards, "num-shards", envInt(getenv, "POSTAUCTION_NUM_SHARDS", 1), "total number of shards")
	fs.StringVar(&cfg.BidderConfig, "bidder", getenvOr(getenv, "POSTAUCTION_BIDDER_CONFIG", ""), "path to bidder-interface config")
	fs.BoolVar(&cfg.UseHTTPBanker, "use-http-banker", envBool(getenv, "POSTAUCTION_USE_HTTP_BANKER", true), "select HTTP vs message-bus banker transport")
	fs.IntVar(&cfg.WinSeconds, "win-seconds", envInt(getenv, "POSTAUCTION_WIN_SECONDS", 600), "winloss-deadline for each bucket, in seconds")
	fs.IntVar(&cfg.AuctionSeconds, "auction-seconds", envInt(getenv, "POSTAUCTION_AUCTION_SECONDS", 60), "auction-deadline, in seconds")
	fs.IntVar(&cfg.WinLossPipeSeconds, "winlossPipe-seconds", envInt(getenv, "POSTAUCTION_WINLOSS_PIPE_SECONDS", 60), "liveness timeout on the winloss ingress queue")
	fs.IntVar(&cfg.CampaignEventPipeSeconds, "campaignEventPipe-seconds", envInt(getenv, "POSTAUCTION_CAMPAIGN_PIPE_SECONDS", 60), "liveness timeout on the campaign ingress queue")
	fs.StringVar(&cfg.AdminAddr, "admin-addr", getenvOr(getenv, "POSTAUCTION_ADMIN_ADDR", ":8090"), "admin HTTP surface bind address")
	fs.StringVar(&cfg.LogLevel, "log-level", getenvOr(getenv, "POSTAUCTION_LOG_LEVEL", "info"), "log level")
	fs.StringVar(&cfg.BankerHTTPEndpoint, "banker-http-endpoint", getenvOr(getenv, "POSTAUCTION_BANKER_HTTP_ENDPOINT", "http://localhost:9100/commits"), "master banker REST endpoint")
	fs.StringVar(&cfg.BankerBusBrokers, "banker-bus-brokers", getenvOr(getenv, "POSTAUCTION_BANKER_BUS_BROKERS", "localhost:9092"), "comma-separated Kafka brokers for the message-bus banker transport")
	fs.StringVar(&cfg.ArchiveRedisURL, "archive-redis-url", getenvOr(getenv, "POSTAUCTION_ARCHIVE_REDIS_URL", ""), "Redis URL for matched-result archival; empty disables archival")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, ErrHelp
		}
		return nil, fmt.Errorf("config: %w", err)
	}

	if cfg.NumShards <= 0 {
		return nil, errors.New("config: num-shards must be positive")
	}
	if cfg.Shard < 0 || cfg.Shard >= cfg.NumShards {
		return nil, fmt.Errorf("config: shard %d out of range [0,%d)", cfg.Shard, cfg.NumShards)
	}
	return cfg, nil
}

// LoadBidderFile reads and validates the bidder-interface JSON config
// named by Config.BidderConfig. A malformed file is a fatal
// Configuration error per spec.md §7.
func LoadBidderFile(path string) (*BidderFileConfig, error) {
	if path == "" {
		return nil, errors.New("config: bidder config path is empty")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading bidder config: %w", err)
	}
	var bc BidderFileConfig
	if err := json.Unmarshal(data, &bc); err != nil {
		return nil, fmt.Errorf("config: parsing bidder config: %w", err)
	}
	if bc.Host == "" || bc.Port == 0 {
		return nil, errors.New("config: bidder config missing host/port")
	}
	return &bc, nil
}

// WinLossDeadline is cfg.WinSeconds as a time.Duration.
func (c *Config) WinLossDeadline() time.Duration { return time.Duration(c.WinSeconds) * time.Second }

// AuctionDeadline is cfg.AuctionSeconds as a time.Duration.
func (c *Config) AuctionDeadline() time.Duration {
	return time.Duration(c.AuctionSeconds) * time.Second
}

// WinLossPipeTimeout is cfg.WinLossPipeSeconds as a time.Duration.
func (c *Config) WinLossPipeTimeout() time.Duration {
	return time.Duration(c.WinLossPipeSeconds) * time.Second
}

// CampaignEventPipeTimeout is cfg.CampaignEventPipeSeconds as a
// time.Duration.
func (c *Config) CampaignEventPipeTimeout() time.Duration {
	return time.Duration(c.CampaignEventPipeSeconds) * time.Second
}

func getenvOr(getenv func(string) string, key, fallback string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(getenv func(string) string, key string, fallback int) int {
	v := getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(getenv func(string) string, key string, fallback bool) bool {
	v := getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
