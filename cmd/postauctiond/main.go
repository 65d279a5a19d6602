// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Command postauctiond runs one post-auction correlator process:
// NumShards independent shard goroutines each owning their own Index,
// Matcher and ingress Queues, a banker client committing winning bids,
// an OpenRTB bidder adapter, and an admin HTTP surface for health,
// stats and Prometheus scraping.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/luxfi/postauction/internal/config"
	"github.com/luxfi/postauction/pkg/archive"
	"github.com/luxfi/postauction/pkg/banker"
	"github.com/luxfi/postauction/pkg/bidder"
	"github.com/luxfi/postauction/pkg/ingress"
	"github.com/luxfi/postauction/pkg/log"
	"github.com/luxfi/postauction/pkg/matcher"
	"github.com/luxfi/postauction/pkg/metric"
	"github.com/luxfi/postauction/pkg/shard"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	cfg, err := config.Load(os.Args[1:], os.Getenv)
	if err != nil {
		if err == config.ErrHelp {
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "postauctiond: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("postauctiond %s (commit: %s, built: %s) shard=%d/%d\n",
		Version, GitCommit, BuildTime, cfg.Shard, cfg.NumShards)

	logger := log.New(cfg.LogLevel)
	defer logger.Sync()

	metrics := metric.New()

	bankerClient, err := buildBankerClient(cfg, metrics)
	if err != nil {
		logger.Fatal("failed to build banker client", log.Err(err))
	}

	var archiveStore *archive.Store
	if cfg.ArchiveRedisURL != "" {
		archiveStore, err = archive.New(archive.Config{URL: cfg.ArchiveRedisURL})
		if err != nil {
			logger.Fatal("failed to build archive store", log.Err(err))
		}
		defer archiveStore.Close()
	}

	runnerCfg := shard.Config{
		NumShards: cfg.NumShards,
		MatcherCfg: matcher.Config{
			AuctionDeadline:          cfg.AuctionDeadline(),
			WinLossDeadline:          cfg.WinLossDeadline(),
			CampaignEventsRequireWin: false,
		},
		IngressCfg: ingress.Config{
			QueueCapacity:            4096,
			WinLossPipeTimeout:       cfg.WinLossPipeTimeout(),
			CampaignEventPipeTimeout: cfg.CampaignEventPipeTimeout(),
		},
		Tick:         200 * time.Millisecond,
		BankerClient: bankerClient,
		Metrics:      metrics,
	}
	if archiveStore != nil {
		runnerCfg.Archiver = archiveStore
	}
	runner := shard.NewRunner(runnerCfg)

	var bidderAdapter *bidder.Adapter
	var notifier *bidder.Notifier
	if cfg.BidderConfig != "" {
		bidderAdapter, notifier, err = buildBidderAdapter(cfg, metrics)
		if err != nil {
			logger.Fatal("failed to build bidder adapter", log.Err(err))
		}
		logger.Info("bidder adapter ready", log.String("endpoint", bidderAdapter.Endpoint))
	}

	ctx, cancel := context.WithCancel(context.Background())
	go runner.Run(ctx)

	if notifier != nil {
		for i := 0; i < cfg.NumShards; i++ {
			go notifier.Consume(ctx, runner.Queues(i).MatchedResults)
		}
	}

	admin := newAdminServer(cfg.AdminAddr, runner, metrics, logger)
	go func() {
		logger.Info("admin HTTP surface listening", log.String("addr", cfg.AdminAddr))
		if err := admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("admin server error", log.Err(err))
		}
	}()

	go reportStats(ctx, runner, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	fmt.Println("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := admin.Shutdown(shutdownCtx); err != nil {
		logger.Error("admin server shutdown error", log.Err(err))
	}
	if err := runner.Shutdown(time.Now().Add(10 * time.Second)); err != nil {
		logger.Error("runner shutdown error", log.Err(err))
	}

	fmt.Println("postauctiond stopped")
}

// buildBankerClient selects the HTTP or message-bus transport per
// --use-http-banker and wraps it in the retrying worker.
func buildBankerClient(cfg *config.Config, metrics *metric.Metrics) (banker.Client, error) {
	name, target := "bus", cfg.BankerBusBrokers
	if cfg.UseHTTPBanker {
		name, target = "http", cfg.BankerHTTPEndpoint
	}
	transport, err := banker.NewTransport(name, target)
	if err != nil {
		return nil, err
	}
	return banker.New(transport, banker.Config{Metrics: metrics}), nil
}

// buildBidderAdapter loads the bidder-interface file named by --bidder
// and constructs the registered adapter implementation plus, when
// both ad-server host fields are set, the Notifier that drives
// C4's half of the win/campaign-event path back to the ad server
// (spec.md §2's "C4 ... driven ... by C2 for outbound win/event
// notifications"). The adapter itself is wired into the router/exchange
// integration, which is outside this repository's scope; constructing
// it here validates the config eagerly, per spec.md §7's
// fatal-on-malformed-config rule.
func buildBidderAdapter(cfg *config.Config, metrics *metric.Metrics) (*bidder.Adapter, *bidder.Notifier, error) {
	bc, err := config.LoadBidderFile(cfg.BidderConfig)
	if err != nil {
		return nil, nil, err
	}
	endpoint := fmt.Sprintf("http://%s:%d%s", bc.Host, bc.Port, bc.Path)
	injector := bidder.NewInjectionQueue(4096)
	adapter, err := bidder.NewAdapter("http", bidder.Config{Name: "default", Endpoint: endpoint}, injector, nil, metrics)
	if err != nil {
		return nil, nil, err
	}

	var notifier *bidder.Notifier
	if bc.AdServerWinHost != "" && bc.AdServerEventHost != "" {
		notifier = bidder.NewNotifier(bidder.NotifierConfig{
			WinEndpoint:   fmt.Sprintf("http://%s:%d/", bc.AdServerWinHost, bc.AdServerWinPort),
			EventEndpoint: fmt.Sprintf("http://%s:%d/", bc.AdServerEventHost, bc.AdServerEventPort),
		}, nil)
	}
	return adapter, notifier, nil
}

// reportStats prints a throughput line every 10 seconds, mirroring
// post_auction_runner.cc's delta-over-interval report(): bids/sec,
// events/sec, wins/sec, losses/sec, unmatched count, errors.
func reportStats(ctx context.Context, runner *shard.Runner, logger log.Logger) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := runner.Stats()
			logger.Info("stats",
				log.Float64("bids_per_sec", s.BidsPerSec),
				log.Float64("events_per_sec", s.EventsPerSec),
				log.Float64("wins_per_sec", s.WinsPerSec),
				log.Float64("losses_per_sec", s.LossesPerSec),
				log.Uint64("unmatched_count", s.UnmatchedCount),
				log.Uint64("error_count", s.ErrorCount),
				log.Int("pending_buckets", s.PendingBuckets),
			)
		}
	}
}

// newAdminServer builds the gin-based admin HTTP surface: /healthz,
// /stats and a Prometheus /metrics endpoint.
func newAdminServer(addr string, runner *shard.Runner, metrics *metric.Metrics, logger log.Logger) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		if !runner.Started() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "time": time.Now().Unix()})
	})

	router.GET("/stats", func(c *gin.Context) {
		s := runner.Stats()
		c.JSON(http.StatusOK, gin.H{
			"num_shards":      runner.NumShards(),
			"pending_buckets": s.PendingBuckets,
			"bids_per_sec":    s.BidsPerSec,
			"events_per_sec":  s.EventsPerSec,
			"wins_per_sec":    s.WinsPerSec,
			"losses_per_sec":  s.LossesPerSec,
			"unmatched_count": s.UnmatchedCount,
			"error_count":     s.ErrorCount,
		})
	})

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})))

	return &http.Server{Addr: addr, Handler: router}
}
