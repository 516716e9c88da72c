// Package feed tracks live subscriptions and routes decoded push events to
// consumers. The registry is the only writer of the subscription set,
// including during replay after a reconnect.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/yegor-stuba/Lingonberry-Trade/internal/codec"
	"github.com/yegor-stuba/Lingonberry-Trade/internal/model"
	"github.com/yegor-stuba/Lingonberry-Trade/internal/wire"
)

// Requester issues correlated protocol requests. Implemented by the session
// manager.
type Requester interface {
	Request(ctx context.Context, payloadType int32, payload any) (wire.Frame, error)
	AccountID() int64
}

// MetaSource supplies symbol metadata. Meta may hit the wire; Cached never
// does and is the only lookup allowed on the dispatch path.
type MetaSource interface {
	Meta(ctx context.Context, symbolID int64) (model.SymbolMeta, error)
	Cached(symbolID int64) (model.SymbolMeta, bool)
}

// Consumer receives decoded live records. Callbacks run on the session's
// dispatch goroutine; consumers must not assume any specific thread and
// should hand work off quickly.
type Consumer interface {
	OnTick(symbolID int64, tick model.Tick)
	OnBar(symbolID int64, bar model.Bar)
}

// ConsumerFuncs adapts plain functions to the Consumer interface. Nil
// functions ignore that record type.
type ConsumerFuncs struct {
	Tick func(symbolID int64, tick model.Tick)
	Bar  func(symbolID int64, bar model.Bar)
}

func (c ConsumerFuncs) OnTick(symbolID int64, tick model.Tick) {
	if c.Tick != nil {
		c.Tick(symbolID, tick)
	}
}

func (c ConsumerFuncs) OnBar(symbolID int64, bar model.Bar) {
	if c.Bar != nil {
		c.Bar(symbolID, bar)
	}
}

// Config configures the registry.
type Config struct {
	// CascadeUnsubscribe removes a symbol's trendbar subscriptions when its
	// spot subscription is removed. The protocol leaves this behaviour
	// unspecified, so it is a local policy choice.
	CascadeUnsubscribe bool
}

// subKey identifies one (symbol, kind) subscription. Period 0 means spot.
type subKey struct {
	symbol int64
	period model.Period
}

// Stats reports registry counters.
type Stats struct {
	Active  int
	Dropped int64
}

// Registry owns the subscription set and dispatches live events.
type Registry struct {
	cfg    Config
	req    Requester
	meta   MetaSource
	logger *slog.Logger

	// opMu serializes subscribe/unsubscribe/replay so idempotence holds
	// across concurrent callers. Never held on the dispatch path.
	opMu sync.Mutex

	mu        sync.Mutex
	active    map[subKey]struct{}
	consumers map[int64][]Consumer
	halted    bool
	dropped   int64
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config, req Requester, meta MetaSource, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		cfg:       cfg,
		req:       req,
		meta:      meta,
		logger:    logger,
		active:    make(map[subKey]struct{}),
		consumers: make(map[int64][]Consumer),
	}
}

// Attach registers a consumer for a symbol's decoded events.
func (r *Registry) Attach(symbolID int64, c Consumer) {
	r.mu.Lock()
	r.consumers[symbolID] = append(r.consumers[symbolID], c)
	r.mu.Unlock()
}

// Detach removes a previously attached consumer.
func (r *Registry) Detach(symbolID int64, c Consumer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.consumers[symbolID]
	for i, existing := range list {
		if existing == c {
			r.consumers[symbolID] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(r.consumers[symbolID]) == 0 {
		delete(r.consumers, symbolID)
	}
}

// SubscribeSpot activates a spot subscription. Re-subscribing an active
// symbol is a no-op that reports success.
func (r *Registry) SubscribeSpot(ctx context.Context, symbolID int64) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()
	return r.subscribeSpotLocked(ctx, symbolID)
}

// SubscribeTrendbar activates a live trendbar subscription. A trendbar
// subscription requires spot for the same symbol; if spot is inactive it is
// subscribed first, and a spot failure aborts the whole call.
func (r *Registry) SubscribeTrendbar(ctx context.Context, symbolID int64, period model.Period) error {
	if !period.Valid() {
		return fmt.Errorf("invalid period %d", period)
	}

	r.opMu.Lock()
	defer r.opMu.Unlock()

	key := subKey{symbol: symbolID, period: period}
	if r.isActive(key) {
		return nil
	}

	if err := r.subscribeSpotLocked(ctx, symbolID); err != nil {
		return fmt.Errorf("spot leg for trendbar subscribe: %w", err)
	}

	_, err := r.req.Request(ctx, wire.PTSubscribeLiveTrendbarReq, wire.SubscribeLiveTrendbarReq{
		AccountID: r.req.AccountID(),
		SymbolID:  symbolID,
		Period:    period,
	})
	if err != nil {
		return err
	}

	r.setActive(key, true)
	r.logger.Debug("trendbar subscribed", "symbol_id", symbolID, "period", period.String())
	return nil
}

// UnsubscribeSpot removes a spot subscription. With CascadeUnsubscribe the
// symbol's trendbar subscriptions go first; otherwise they stay registered,
// although the server will stop delivering bars without spot.
func (r *Registry) UnsubscribeSpot(ctx context.Context, symbolID int64) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	if r.cfg.CascadeUnsubscribe {
		for _, key := range r.activeTrendbars(symbolID) {
			if err := r.unsubscribeTrendbarLocked(ctx, symbolID, key.period); err != nil {
				return err
			}
		}
	}

	return r.unsubscribeSpotLocked(ctx, symbolID)
}

// UnsubscribeTrendbar removes one live trendbar subscription. Spot is not
// affected.
func (r *Registry) UnsubscribeTrendbar(ctx context.Context, symbolID int64, period model.Period) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()
	return r.unsubscribeTrendbarLocked(ctx, symbolID, period)
}

// UnsubscribeAll removes every active subscription for a symbol, trendbars
// before spot.
func (r *Registry) UnsubscribeAll(ctx context.Context, symbolID int64) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	for _, key := range r.activeTrendbars(symbolID) {
		if err := r.unsubscribeTrendbarLocked(ctx, symbolID, key.period); err != nil {
			return err
		}
	}
	return r.unsubscribeSpotLocked(ctx, symbolID)
}

// Replay re-issues every active subscription after the session returns to
// Ready: per symbol spot first, then trendbars, symbols in ascending order.
// Consumers are not notified; from their point of view the feed resumes.
func (r *Registry) Replay(ctx context.Context) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.mu.Lock()
	bySymbol := make(map[int64][]model.Period)
	for key := range r.active {
		if key.period != 0 {
			bySymbol[key.symbol] = append(bySymbol[key.symbol], key.period)
			continue
		}
		if _, ok := bySymbol[key.symbol]; !ok {
			bySymbol[key.symbol] = nil
		}
	}
	r.halted = false
	r.mu.Unlock()

	symbolIDs := make([]int64, 0, len(bySymbol))
	for id := range bySymbol {
		symbolIDs = append(symbolIDs, id)
	}
	sort.Slice(symbolIDs, func(i, j int) bool { return symbolIDs[i] < symbolIDs[j] })

	for _, id := range symbolIDs {
		_, err := r.req.Request(ctx, wire.PTSubscribeSpotsReq, wire.SubscribeSpotsReq{
			AccountID: r.req.AccountID(),
			SymbolIDs: []int64{id},
		})
		if err != nil {
			return fmt.Errorf("replay spot %d: %w", id, err)
		}

		periods := bySymbol[id]
		sort.Slice(periods, func(i, j int) bool { return periods[i] < periods[j] })
		for _, p := range periods {
			_, err := r.req.Request(ctx, wire.PTSubscribeLiveTrendbarReq, wire.SubscribeLiveTrendbarReq{
				AccountID: r.req.AccountID(),
				SymbolID:  id,
				Period:    p,
			})
			if err != nil {
				return fmt.Errorf("replay trendbar %d %s: %w", id, p.String(), err)
			}
		}
	}

	r.logger.Info("subscriptions replayed", "symbols", len(symbolIDs))
	return nil
}

// SessionDown is called by the session manager when the connection drops.
// A fatal drop (reconnect budget exhausted) halts dispatch until the next
// successful replay.
func (r *Registry) SessionDown(fatal bool) {
	if !fatal {
		return
	}
	r.mu.Lock()
	r.halted = true
	r.mu.Unlock()
	r.logger.Error("session exhausted, live dispatch halted until reconnect")
}

// HandlePush dispatches one decoded push frame. Events for symbols with no
// active subscription can occur transiently during unsubscribe races; they
// are dropped and logged, not treated as errors.
func (r *Registry) HandlePush(f wire.Frame) {
	if f.PayloadType != wire.PTSpotEvent {
		r.logger.Debug("ignoring push frame", "payload_type", f.PayloadType)
		return
	}

	var ev wire.SpotEvent
	if err := f.Decode(&ev); err != nil {
		r.logger.Warn("dropping malformed spot event", "error", err)
		return
	}

	r.mu.Lock()
	if r.halted {
		r.mu.Unlock()
		return
	}
	_, spotActive := r.active[subKey{symbol: ev.SymbolID}]
	consumers := r.consumers[ev.SymbolID]
	if !spotActive {
		r.dropped++
	}
	r.mu.Unlock()

	if !spotActive {
		r.logger.Debug("dropping event for inactive symbol", "symbol_id", ev.SymbolID)
		return
	}

	meta, ok := r.meta.Cached(ev.SymbolID)
	if !ok {
		// Digits are cached at subscribe time, so this means a push raced an
		// unsubscribe teardown.
		r.logger.Debug("no cached metadata for symbol", "symbol_id", ev.SymbolID)
		return
	}

	if ev.Bid != nil || ev.Ask != nil {
		tick := codec.SpotTick(ev, meta.Digits)
		for _, c := range consumers {
			c.OnTick(ev.SymbolID, tick)
		}
	}

	for _, tb := range ev.Trendbars {
		r.mu.Lock()
		_, barActive := r.active[subKey{symbol: ev.SymbolID, period: tb.Period}]
		r.mu.Unlock()
		if !barActive {
			continue
		}
		bar := codec.Bar(tb, tb.Period, meta.Digits)
		for _, c := range consumers {
			c.OnBar(ev.SymbolID, bar)
		}
	}
}

// Stats returns registry counters.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{Active: len(r.active), Dropped: r.dropped}
}

// ActiveCount returns the number of active (symbol, kind) pairs.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// -----------------------------------------------------------------------------
// Internals (opMu held)
// -----------------------------------------------------------------------------

func (r *Registry) subscribeSpotLocked(ctx context.Context, symbolID int64) error {
	key := subKey{symbol: symbolID}
	if r.isActive(key) {
		return nil
	}

	// Warm the metadata cache so dispatch never has to block on a request.
	if _, err := r.meta.Meta(ctx, symbolID); err != nil {
		return err
	}

	_, err := r.req.Request(ctx, wire.PTSubscribeSpotsReq, wire.SubscribeSpotsReq{
		AccountID: r.req.AccountID(),
		SymbolIDs: []int64{symbolID},
	})
	if err != nil {
		return err
	}

	r.setActive(key, true)
	r.logger.Debug("spot subscribed", "symbol_id", symbolID)
	return nil
}

func (r *Registry) unsubscribeSpotLocked(ctx context.Context, symbolID int64) error {
	key := subKey{symbol: symbolID}
	if !r.isActive(key) {
		return nil
	}

	_, err := r.req.Request(ctx, wire.PTUnsubscribeSpotsReq, wire.UnsubscribeSpotsReq{
		AccountID: r.req.AccountID(),
		SymbolIDs: []int64{symbolID},
	})
	if err != nil {
		return err
	}

	r.setActive(key, false)
	r.logger.Debug("spot unsubscribed", "symbol_id", symbolID)
	return nil
}

func (r *Registry) unsubscribeTrendbarLocked(ctx context.Context, symbolID int64, period model.Period) error {
	key := subKey{symbol: symbolID, period: period}
	if !r.isActive(key) {
		return nil
	}

	_, err := r.req.Request(ctx, wire.PTUnsubscribeLiveTrendbarReq, wire.UnsubscribeLiveTrendbarReq{
		AccountID: r.req.AccountID(),
		SymbolID:  symbolID,
		Period:    period,
	})
	if err != nil {
		return err
	}

	r.setActive(key, false)
	r.logger.Debug("trendbar unsubscribed", "symbol_id", symbolID, "period", period.String())
	return nil
}

func (r *Registry) isActive(key subKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[key]
	return ok
}

func (r *Registry) setActive(key subKey, active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if active {
		r.active[key] = struct{}{}
	} else {
		delete(r.active, key)
	}
}

func (r *Registry) activeTrendbars(symbolID int64) []subKey {
	r.mu.Lock()
	defer r.mu.Unlock()

	var keys []subKey
	for key := range r.active {
		if key.symbol == symbolID && key.period != 0 {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].period < keys[j].period })
	return keys
}
