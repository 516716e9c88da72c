// Package history retrieves bounded historical bar and tick windows,
// paginating under the protocol's per-request span limits and stitching the
// pages into one ordered result.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/yegor-stuba/Lingonberry-Trade/internal/codec"
	"github.com/yegor-stuba/Lingonberry-Trade/internal/model"
	"github.com/yegor-stuba/Lingonberry-Trade/internal/store"
	"github.com/yegor-stuba/Lingonberry-Trade/internal/wire"
)

// TickSpanLimit caps the total span of one tick fetch. Unlike bars, tick
// requests beyond the cap are rejected outright rather than split.
const TickSpanLimit = 7 * 24 * time.Hour

// WindowError rejects a fetch whose requested span violates protocol limits.
// Raised locally before any request reaches the transport.
type WindowError struct {
	From time.Time
	To   time.Time
	Max  time.Duration
}

func (e *WindowError) Error() string {
	return fmt.Sprintf("window [%s, %s) spans %s, limit is %s",
		e.From.Format(time.RFC3339), e.To.Format(time.RFC3339),
		e.To.Sub(e.From), e.Max)
}

// ErrNoProgress reports a server that signals more data for a window but
// returns only already-seen records. Surfacing it keeps a stalled
// continuation from being mistaken for a complete result.
var ErrNoProgress = errors.New("pagination made no progress")

// Per-period maximum span of one trendbar request.
var defaultSpans = map[model.Period]time.Duration{
	model.PeriodM1:  35 * 24 * time.Hour,
	model.PeriodM2:  35 * 24 * time.Hour,
	model.PeriodM3:  35 * 24 * time.Hour,
	model.PeriodM4:  35 * 24 * time.Hour,
	model.PeriodM5:  35 * 24 * time.Hour,
	model.PeriodM10: 245 * 24 * time.Hour,
	model.PeriodM15: 245 * 24 * time.Hour,
	model.PeriodM30: 245 * 24 * time.Hour,
	model.PeriodH1:  245 * 24 * time.Hour,
	model.PeriodH4:  366 * 24 * time.Hour,
	model.PeriodH12: 366 * 24 * time.Hour,
	model.PeriodD1:  366 * 24 * time.Hour,
	model.PeriodW1:  1830 * 24 * time.Hour,
	model.PeriodMN1: 1830 * 24 * time.Hour,
}

// Requester issues correlated protocol requests. Implemented by the session
// manager.
type Requester interface {
	Request(ctx context.Context, payloadType int32, payload any) (wire.Frame, error)
	AccountID() int64
}

// MetaSource supplies symbol metadata for price decoding.
type MetaSource interface {
	Meta(ctx context.Context, symbolID int64) (model.SymbolMeta, error)
}

// Config configures the coordinator.
type Config struct {
	// MaxSpans overrides the per-period span limit for trendbar requests.
	MaxSpans map[model.Period]time.Duration
}

// Coordinator turns one bounded fetch call into a sequence of sub-requests
// and accumulates their decoded, deduplicated, ascending results.
type Coordinator struct {
	cfg    Config
	req    Requester
	meta   MetaSource
	cache  *store.BarStore // Optional write-through cache
	logger *slog.Logger
}

// NewCoordinator creates a coordinator. cache may be nil.
func NewCoordinator(cfg Config, req Requester, meta MetaSource, cache *store.BarStore, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		cfg:    cfg,
		req:    req,
		meta:   meta,
		cache:  cache,
		logger: logger,
	}
}

// FetchBars retrieves all bars with open time in [from, to), strictly
// ascending and free of duplicate timestamps. On a sub-request failure the
// accumulated partial result is returned together with the error; the caller
// decides whether the partial result is usable. Cancelling ctx stops the
// fetch between sub-requests — the protocol has no cancel message, so
// whatever is in flight is simply abandoned.
func (c *Coordinator) FetchBars(ctx context.Context, symbolID int64, period model.Period, from, to time.Time) (bars []model.Bar, err error) {
	if !period.Valid() {
		return nil, fmt.Errorf("invalid period %d", period)
	}
	if !from.Before(to) {
		return nil, fmt.Errorf("empty window [%s, %s)", from.Format(time.RFC3339), to.Format(time.RFC3339))
	}

	meta, err := c.meta.Meta(ctx, symbolID)
	if err != nil {
		return nil, err
	}

	// Whatever accumulates is valid ordered data: cache it even when a later
	// sub-request fails or the fetch is cancelled, so a re-run can pick up
	// from the cache. The save runs outside ctx for that reason.
	defer func() {
		if c.cache == nil || len(bars) == 0 {
			return
		}
		if serr := c.cache.SaveBars(context.Background(), symbolID, bars); serr != nil {
			c.logger.Warn("failed to cache fetched bars", "symbol_id", symbolID, "error", serr)
		}
	}()

	span := c.maxSpan(period)

	for winFrom := from; winFrom.Before(to); {
		winTo := winFrom.Add(span)
		if winTo.After(to) {
			winTo = to
		}

		pageFrom := winFrom
		for {
			if err := ctx.Err(); err != nil {
				return bars, err
			}

			resp, err := c.req.Request(ctx, wire.PTGetTrendbarsReq, wire.GetTrendbarsReq{
				AccountID: c.req.AccountID(),
				SymbolID:  symbolID,
				Period:    period,
				From:      pageFrom.UnixMilli(),
				To:        winTo.UnixMilli(),
			})
			if err != nil {
				return bars, fmt.Errorf("trendbars %s [%s, %s): %w",
					period.String(), pageFrom.Format(time.RFC3339), winTo.Format(time.RFC3339), err)
			}

			var page wire.GetTrendbarsRes
			if err := resp.Decode(&page); err != nil {
				return bars, err
			}

			added := 0
			for _, tb := range page.Trendbars {
				bar := codec.Bar(tb, period, meta.Digits)
				// Drop boundary overlap with the previous page and anything
				// out of order; results must stay strictly ascending.
				if len(bars) > 0 && !bar.OpenTime.After(bars[len(bars)-1].OpenTime) {
					continue
				}
				bars = append(bars, bar)
				added++
			}

			if !page.HasMore {
				break
			}
			if added == 0 {
				return bars, fmt.Errorf("trendbars %s [%s, %s): %w",
					period.String(), pageFrom.Format(time.RFC3339), winTo.Format(time.RFC3339), ErrNoProgress)
			}
			// The page was truncated: re-request the unreturned tail.
			pageFrom = bars[len(bars)-1].OpenTime
		}

		winFrom = winTo
	}

	return bars, nil
}

// FetchTicks retrieves all ticks for one quote side in [from, to), strictly
// ascending. Tick windows wider than TickSpanLimit are rejected with a
// *WindowError before anything reaches the transport.
func (c *Coordinator) FetchTicks(ctx context.Context, symbolID int64, quoteType model.QuoteType, from, to time.Time) ([]model.Tick, error) {
	if !from.Before(to) {
		return nil, fmt.Errorf("empty window [%s, %s)", from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	if to.Sub(from) > TickSpanLimit {
		return nil, &WindowError{From: from, To: to, Max: TickSpanLimit}
	}

	meta, err := c.meta.Meta(ctx, symbolID)
	if err != nil {
		return nil, err
	}

	var ticks []model.Tick
	pageFrom := from

	for {
		if err := ctx.Err(); err != nil {
			return ticks, err
		}

		resp, err := c.req.Request(ctx, wire.PTGetTickdataReq, wire.GetTickdataReq{
			AccountID: c.req.AccountID(),
			SymbolID:  symbolID,
			QuoteType: quoteType,
			From:      pageFrom.UnixMilli(),
			To:        to.UnixMilli(),
		})
		if err != nil {
			return ticks, fmt.Errorf("tickdata %s [%s, %s): %w",
				quoteType.String(), pageFrom.Format(time.RFC3339), to.Format(time.RFC3339), err)
		}

		var page wire.GetTickdataRes
		if err := resp.Decode(&page); err != nil {
			return ticks, err
		}

		added := 0
		for _, td := range page.TickData {
			tick := codec.Tick(td, meta.Digits)
			if len(ticks) > 0 && !tick.Time.After(ticks[len(ticks)-1].Time) {
				continue
			}
			ticks = append(ticks, tick)
			added++
		}

		if !page.HasMore {
			return ticks, nil
		}
		if added == 0 {
			return ticks, fmt.Errorf("tickdata %s [%s, %s): %w",
				quoteType.String(), pageFrom.Format(time.RFC3339), to.Format(time.RFC3339), ErrNoProgress)
		}
		pageFrom = ticks[len(ticks)-1].Time
	}
}

// CachedBars reads previously fetched bars from the local cache without
// touching the session. Returns nil when no cache is configured.
func (c *Coordinator) CachedBars(ctx context.Context, symbolID int64, period model.Period, from, to time.Time) ([]model.Bar, error) {
	if c.cache == nil {
		return nil, nil
	}
	return c.cache.LoadBars(ctx, symbolID, period, from, to)
}

// maxSpan returns the span limit for one trendbar sub-request.
func (c *Coordinator) maxSpan(period model.Period) time.Duration {
	if d, ok := c.cfg.MaxSpans[period]; ok && d > 0 {
		return d
	}
	return defaultSpans[period]
}
