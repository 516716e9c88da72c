// backfill fetches a window of historical bars for one symbol and stores
// them in the local bar cache.
// Usage: go run ./cmd/backfill --config configs/client.yaml --symbol EURUSD --period H1 --days 30
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yegor-stuba/Lingonberry-Trade/internal/backoff"
	"github.com/yegor-stuba/Lingonberry-Trade/internal/config"
	"github.com/yegor-stuba/Lingonberry-Trade/internal/history"
	"github.com/yegor-stuba/Lingonberry-Trade/internal/model"
	"github.com/yegor-stuba/Lingonberry-Trade/internal/session"
	"github.com/yegor-stuba/Lingonberry-Trade/internal/store"
	"github.com/yegor-stuba/Lingonberry-Trade/internal/symbols"
	"github.com/yegor-stuba/Lingonberry-Trade/internal/transport"
)

func main() {
	configPath := flag.String("config", "configs/client.yaml", "path to config file")
	symbolName := flag.String("symbol", "EURUSD", "symbol name")
	periodName := flag.String("period", "H1", "timeframe (M1..MN1)")
	days := flag.Int("days", 30, "how many days back from now to fetch")
	fromFlag := flag.String("from", "", "window start (RFC 3339), overrides --days")
	toFlag := flag.String("to", "", "window end (RFC 3339), defaults to now")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.Cache.Path == "" {
		logger.Error("cache.path must be set for backfill")
		os.Exit(1)
	}

	period, err := model.ParsePeriod(*periodName)
	if err != nil {
		logger.Error("invalid period", "error", err)
		os.Exit(1)
	}

	to := time.Now().UTC()
	if *toFlag != "" {
		if to, err = time.Parse(time.RFC3339, *toFlag); err != nil {
			logger.Error("invalid --to", "error", err)
			os.Exit(1)
		}
	}
	from := to.Add(-time.Duration(*days) * 24 * time.Hour)
	if *fromFlag != "" {
		if from, err = time.Parse(time.RFC3339, *fromFlag); err != nil {
			logger.Error("invalid --from", "error", err)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	cache, err := store.NewBarStore(cfg.Cache.Path)
	if err != nil {
		logger.Error("failed to open bar cache", "path", cfg.Cache.Path, "error", err)
		os.Exit(1)
	}
	defer cache.Close()

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
	defer sess.Shutdown()

	logger.Info("connecting", "endpoint", cfg.API.Endpoint, "account_id", cfg.API.AccountID)
	if err := sess.Connect(ctx); err != nil {
		logger.Error("failed to connect", "error", err)
		os.Exit(1)
	}

	meta := symbols.NewSupplier(sess, logger)

	spans, err := cfg.History.SpanOverrides()
	if err != nil {
		logger.Error("invalid span overrides", "error", err)
		os.Exit(1)
	}
	coord := history.NewCoordinator(history.Config{MaxSpans: spans}, sess, meta, cache, logger)

	symbolID, err := meta.Resolve(ctx, *symbolName)
	if err != nil {
		logger.Error("unknown symbol", "symbol", *symbolName, "error", err)
		os.Exit(1)
	}

	logger.Info("fetching bars",
		"symbol", *symbolName, "symbol_id", symbolID, "period", period.String(),
		"from", from.Format(time.RFC3339), "to", to.Format(time.RFC3339))

	start := time.Now()
	bars, err := coord.FetchBars(ctx, symbolID, period, from, to)
	if err != nil {
		// FetchBars caches whatever it accumulated before failing, so a
		// re-run resumes from the cache; report the partial result.
		var we *history.WindowError
		if errors.As(err, &we) {
			logger.Error("window rejected", "error", we)
			os.Exit(1)
		}
		logger.Error("fetch failed", "fetched_before_error", len(bars), "error", err)
		os.Exit(1)
	}

	logger.Info("backfill complete",
		"bars", len(bars), "elapsed", time.Since(start).Round(time.Millisecond))

	if len(bars) > 0 {
		first, last := bars[0], bars[len(bars)-1]
		fmt.Printf("stored %d bars: %s .. %s\n",
			len(bars), first.OpenTime.Format(time.RFC3339), last.OpenTime.Format(time.RFC3339))
	}
}
