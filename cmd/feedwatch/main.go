// feedwatch connects to the broker, subscribes to live quotes for the given
// symbols, and streams decoded ticks and bars to the console.
// Usage: go run ./cmd/feedwatch --config configs/client.yaml --symbols EURUSD,GBPUSD --period M1
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/yegor-stuba/Lingonberry-Trade/internal/backoff"
	"github.com/yegor-stuba/Lingonberry-Trade/internal/config"
	"github.com/yegor-stuba/Lingonberry-Trade/internal/feed"
	"github.com/yegor-stuba/Lingonberry-Trade/internal/model"
	"github.com/yegor-stuba/Lingonberry-Trade/internal/session"
	"github.com/yegor-stuba/Lingonberry-Trade/internal/symbols"
	"github.com/yegor-stuba/Lingonberry-Trade/internal/transport"
	"github.com/yegor-stuba/Lingonberry-Trade/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/client.yaml", "path to config file")
	symbolList := flag.String("symbols", "EURUSD", "comma-separated symbol names")
	periodName := flag.String("period", "", "also subscribe live trendbars for this timeframe (e.g. M1, H1)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	logger.Info("feedwatch starting", "version", version.String())

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	trCfg := transport.DefaultConfig()
	trCfg.URL = cfg.API.Endpoint
	trCfg.StaleTimeout = cfg.API.StaleTimeout
	trCfg.BufferSize = cfg.Feed.BufferSize

	retry := backoff.New(cfg.Reconnect.BaseDelay, cfg.Reconnect.MaxDelay, cfg.Reconnect.MaxAttempts)

	sess := session.NewManager(session.Config{
		ClientID:          cfg.API.ClientID,
		ClientSecret:      cfg.API.ClientSecret,
		AccountID:         cfg.API.AccountID,
		AccessToken:       cfg.API.AccessToken,
		RequestTimeout:    cfg.API.RequestTimeout,
		HeartbeatInterval: cfg.API.HeartbeatInterval,
	}, transport.WebSocketDialer(trCfg, logger), retry, logger)

	meta := symbols.NewSupplier(sess, logger)
	registry := feed.NewRegistry(feed.Config{
		CascadeUnsubscribe: cfg.Feed.CascadeUnsubscribe,
	}, sess, meta, logger)

	sess.SetSubscriptions(registry)
	sess.SetPushHandler(registry)

	logger.Info("connecting", "endpoint", cfg.API.Endpoint, "account_id", cfg.API.AccountID)
	if err := sess.Connect(ctx); err != nil {
		logger.Error("failed to connect", "error", err)
		os.Exit(1)
	}

	var period model.Period
	if *periodName != "" {
		period, err = model.ParsePeriod(*periodName)
		if err != nil {
			logger.Error("invalid period", "error", err)
			os.Exit(1)
		}
	}

	printer := feed.ConsumerFuncs{
		Tick: func(symbolID int64, tick model.Tick) {
			bid, ask := "-", "-"
			if tick.Bid.Valid {
				bid = tick.Bid.Decimal.String()
			}
			if tick.Ask.Valid {
				ask = tick.Ask.Decimal.String()
			}
			fmt.Printf("[TICK] symbol=%d bid=%s ask=%s at=%s\n", symbolID, bid, ask, tick.Time.Format(time.RFC3339Nano))
		},
		Bar: func(symbolID int64, bar model.Bar) {
			fmt.Printf("[BAR] symbol=%d period=%s open_time=%s o=%s h=%s l=%s c=%s vol=%d\n",
				symbolID, bar.Period, bar.OpenTime.Format(time.RFC3339),
				bar.Open, bar.High, bar.Low, bar.Close, bar.Volume)
		},
	}

	for _, name := range strings.Split(*symbolList, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}

		id, err := meta.Resolve(ctx, name)
		if err != nil {
			logger.Error("unknown symbol", "symbol", name, "error", err)
			os.Exit(1)
		}

		registry.Attach(id, printer)

		if period != 0 {
			err = registry.SubscribeTrendbar(ctx, id, period)
		} else {
			err = registry.SubscribeSpot(ctx, id)
		}
		if err != nil {
			logger.Error("subscribe failed", "symbol", name, "error", err)
			os.Exit(1)
		}
		logger.Info("subscribed", "symbol", name, "symbol_id", id)
	}

	// Stats printer
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := registry.Stats()
				logger.Info("stats",
					"session_state", sess.State().String(),
					"active_subscriptions", stats.Active,
					"dropped_events", stats.Dropped,
					"last_heartbeat", sess.LastHeartbeat().Format(time.RFC3339),
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop")

	<-ctx.Done()

	logger.Info("shutting down...")
	sess.Shutdown()
	logger.Info("shutdown complete")
}
