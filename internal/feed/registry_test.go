package feed

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/yegor-stuba/Lingonberry-Trade/internal/model"
	"github.com/yegor-stuba/Lingonberry-Trade/internal/wire"
)

// call is one recorded wire request.
type call struct {
	payloadType int32
	payload     any
}

type fakeRequester struct {
	mu     sync.Mutex
	calls  []call
	failOn map[int32]error
}

func (f *fakeRequester) AccountID() int64 { return 42 }

func (f *fakeRequester) Request(_ context.Context, payloadType int32, payload any) (wire.Frame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.failOn[payloadType]; err != nil {
		return wire.Frame{}, err
	}
	f.calls = append(f.calls, call{payloadType: payloadType, payload: payload})
	return wire.Frame{PayloadType: payloadType + 1}, nil
}

func (f *fakeRequester) recorded() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func (f *fakeRequester) reset() {
	f.mu.Lock()
	f.calls = nil
	f.mu.Unlock()
}

type fakeMeta struct {
	mu        sync.Mutex
	metaCalls int
	fail      error
}

func (f *fakeMeta) Meta(_ context.Context, symbolID int64) (model.SymbolMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metaCalls++
	if f.fail != nil {
		return model.SymbolMeta{}, f.fail
	}
	return model.SymbolMeta{ID: symbolID, Digits: 5}, nil
}

func (f *fakeMeta) Cached(symbolID int64) (model.SymbolMeta, bool) {
	return model.SymbolMeta{ID: symbolID, Digits: 5}, true
}

// recordingConsumer collects dispatched records.
type recordingConsumer struct {
	mu    sync.Mutex
	ticks []model.Tick
	bars  []model.Bar
}

func (c *recordingConsumer) OnTick(_ int64, tick model.Tick) {
	c.mu.Lock()
	c.ticks = append(c.ticks, tick)
	c.mu.Unlock()
}

func (c *recordingConsumer) OnBar(_ int64, bar model.Bar) {
	c.mu.Lock()
	c.bars = append(c.bars, bar)
	c.mu.Unlock()
}

func (c *recordingConsumer) counts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ticks), len(c.bars)
}

func newTestRegistry(cfg Config) (*Registry, *fakeRequester, *fakeMeta) {
	req := &fakeRequester{failOn: make(map[int32]error)}
	meta := &fakeMeta{}
	return NewRegistry(cfg, req, meta, nil), req, meta
}

func spotEventFrame(t *testing.T, ev wire.SpotEvent) wire.Frame {
	t.Helper()
	payload, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal spot event: %v", err)
	}
	return wire.Frame{PayloadType: wire.PTSpotEvent, Payload: payload}
}

func TestSubscribeSpot_Idempotent(t *testing.T) {
	r, req, meta := newTestRegistry(Config{})
	ctx := context.Background()

	if err := r.SubscribeSpot(ctx, 1); err != nil {
		t.Fatalf("SubscribeSpot failed: %v", err)
	}
	if err := r.SubscribeSpot(ctx, 1); err != nil {
		t.Fatalf("second SubscribeSpot failed: %v", err)
	}

	calls := req.recorded()
	if len(calls) != 1 {
		t.Errorf("wire calls = %d, want 1", len(calls))
	}
	if r.ActiveCount() != 1 {
		t.Errorf("ActiveCount() = %d, want 1", r.ActiveCount())
	}
	if meta.metaCalls != 1 {
		t.Errorf("metadata warmed %d times, want 1", meta.metaCalls)
	}
}

func TestSubscribeSpot_MetaFailureAborts(t *testing.T) {
	r, req, meta := newTestRegistry(Config{})
	meta.fail = errors.New("catalogue unavailable")

	if err := r.SubscribeSpot(context.Background(), 1); err == nil {
		t.Fatal("expected error when metadata fetch fails")
	}
	if len(req.recorded()) != 0 {
		t.Error("no wire call should be made when metadata fails")
	}
	if r.ActiveCount() != 0 {
		t.Errorf("ActiveCount() = %d, want 0", r.ActiveCount())
	}
}

func TestSubscribeTrendbar_SubscribesSpotFirst(t *testing.T) {
	r, req, _ := newTestRegistry(Config{})

	if err := r.SubscribeTrendbar(context.Background(), 1, model.PeriodM1); err != nil {
		t.Fatalf("SubscribeTrendbar failed: %v", err)
	}

	calls := req.recorded()
	if len(calls) != 2 {
		t.Fatalf("wire calls = %d, want 2", len(calls))
	}
	if calls[0].payloadType != wire.PTSubscribeSpotsReq {
		t.Errorf("first call = %d, want spot subscribe %d", calls[0].payloadType, wire.PTSubscribeSpotsReq)
	}
	if calls[1].payloadType != wire.PTSubscribeLiveTrendbarReq {
		t.Errorf("second call = %d, want trendbar subscribe %d", calls[1].payloadType, wire.PTSubscribeLiveTrendbarReq)
	}
	if r.ActiveCount() != 2 {
		t.Errorf("ActiveCount() = %d, want 2 (spot + trendbar)", r.ActiveCount())
	}
}

func TestSubscribeTrendbar_SpotAlreadyActive(t *testing.T) {
	r, req, _ := newTestRegistry(Config{})
	ctx := context.Background()

	if err := r.SubscribeSpot(ctx, 1); err != nil {
		t.Fatalf("SubscribeSpot failed: %v", err)
	}
	req.reset()

	if err := r.SubscribeTrendbar(ctx, 1, model.PeriodH1); err != nil {
		t.Fatalf("SubscribeTrendbar failed: %v", err)
	}

	calls := req.recorded()
	if len(calls) != 1 {
		t.Fatalf("wire calls = %d, want 1 (spot already active)", len(calls))
	}
	if calls[0].payloadType != wire.PTSubscribeLiveTrendbarReq {
		t.Errorf("call = %d, want trendbar subscribe", calls[0].payloadType)
	}
}

func TestSubscribeTrendbar_SpotFailureAborts(t *testing.T) {
	r, req, _ := newTestRegistry(Config{})
	req.failOn[wire.PTSubscribeSpotsReq] = errors.New("server rejected")

	if err := r.SubscribeTrendbar(context.Background(), 1, model.PeriodM1); err == nil {
		t.Fatal("expected error when the spot leg fails")
	}

	if r.ActiveCount() != 0 {
		t.Errorf("ActiveCount() = %d, want 0 after aborted subscribe", r.ActiveCount())
	}
	for _, c := range req.recorded() {
		if c.payloadType == wire.PTSubscribeLiveTrendbarReq {
			t.Error("trendbar subscribe should not be attempted after spot failure")
		}
	}
}

func TestSubscribeTrendbar_Idempotent(t *testing.T) {
	r, req, _ := newTestRegistry(Config{})
	ctx := context.Background()

	if err := r.SubscribeTrendbar(ctx, 1, model.PeriodM1); err != nil {
		t.Fatalf("SubscribeTrendbar failed: %v", err)
	}
	if err := r.SubscribeTrendbar(ctx, 1, model.PeriodM1); err != nil {
		t.Fatalf("second SubscribeTrendbar failed: %v", err)
	}

	if got := len(req.recorded()); got != 2 {
		t.Errorf("wire calls = %d, want 2", got)
	}
}

func TestSubscribeTrendbar_InvalidPeriod(t *testing.T) {
	r, req, _ := newTestRegistry(Config{})

	if err := r.SubscribeTrendbar(context.Background(), 1, model.Period(99)); err == nil {
		t.Fatal("expected error for invalid period")
	}
	if len(req.recorded()) != 0 {
		t.Error("no wire call should be made for an invalid period")
	}
}

func TestUnsubscribeSpot_Cascade(t *testing.T) {
	r, req, _ := newTestRegistry(Config{CascadeUnsubscribe: true})
	ctx := context.Background()

	if err := r.SubscribeTrendbar(ctx, 1, model.PeriodM1); err != nil {
		t.Fatalf("SubscribeTrendbar failed: %v", err)
	}
	if err := r.SubscribeTrendbar(ctx, 1, model.PeriodH1); err != nil {
		t.Fatalf("SubscribeTrendbar failed: %v", err)
	}
	req.reset()

	if err := r.UnsubscribeSpot(ctx, 1); err != nil {
		t.Fatalf("UnsubscribeSpot failed: %v", err)
	}

	calls := req.recorded()
	want := []int32{
		wire.PTUnsubscribeLiveTrendbarReq,
		wire.PTUnsubscribeLiveTrendbarReq,
		wire.PTUnsubscribeSpotsReq,
	}
	if len(calls) != len(want) {
		t.Fatalf("wire calls = %d, want %d", len(calls), len(want))
	}
	for i, pt := range want {
		if calls[i].payloadType != pt {
			t.Errorf("call %d = %d, want %d", i, calls[i].payloadType, pt)
		}
	}
	if r.ActiveCount() != 0 {
		t.Errorf("ActiveCount() = %d, want 0", r.ActiveCount())
	}
}

func TestUnsubscribeSpot_NoCascade(t *testing.T) {
	r, req, _ := newTestRegistry(Config{CascadeUnsubscribe: false})
	ctx := context.Background()

	if err := r.SubscribeTrendbar(ctx, 1, model.PeriodM1); err != nil {
		t.Fatalf("SubscribeTrendbar failed: %v", err)
	}
	req.reset()

	if err := r.UnsubscribeSpot(ctx, 1); err != nil {
		t.Fatalf("UnsubscribeSpot failed: %v", err)
	}

	calls := req.recorded()
	if len(calls) != 1 || calls[0].payloadType != wire.PTUnsubscribeSpotsReq {
		t.Fatalf("calls = %v, want single spot unsubscribe", calls)
	}
	// The trendbar registration stays; the server stops delivering without
	// spot, but the subscription replays if spot returns.
	if r.ActiveCount() != 1 {
		t.Errorf("ActiveCount() = %d, want 1", r.ActiveCount())
	}
}

func TestUnsubscribeSpot_Inactive(t *testing.T) {
	r, req, _ := newTestRegistry(Config{})

	if err := r.UnsubscribeSpot(context.Background(), 1); err != nil {
		t.Fatalf("UnsubscribeSpot on inactive symbol failed: %v", err)
	}
	if len(req.recorded()) != 0 {
		t.Error("no wire call should be made for an inactive symbol")
	}
}

func TestUnsubscribeAll(t *testing.T) {
	r, req, _ := newTestRegistry(Config{})
	ctx := context.Background()

	if err := r.SubscribeTrendbar(ctx, 1, model.PeriodM1); err != nil {
		t.Fatalf("SubscribeTrendbar failed: %v", err)
	}
	req.reset()

	if err := r.UnsubscribeAll(ctx, 1); err != nil {
		t.Fatalf("UnsubscribeAll failed: %v", err)
	}

	calls := req.recorded()
	if len(calls) != 2 {
		t.Fatalf("wire calls = %d, want 2", len(calls))
	}
	if calls[0].payloadType != wire.PTUnsubscribeLiveTrendbarReq {
		t.Errorf("first call = %d, want trendbar unsubscribe", calls[0].payloadType)
	}
	if calls[1].payloadType != wire.PTUnsubscribeSpotsReq {
		t.Errorf("second call = %d, want spot unsubscribe", calls[1].payloadType)
	}
	if r.ActiveCount() != 0 {
		t.Errorf("ActiveCount() = %d, want 0", r.ActiveCount())
	}
}

func TestReplay_StableOrder(t *testing.T) {
	r, req, _ := newTestRegistry(Config{})
	ctx := context.Background()

	// Subscribe out of order to prove replay sorts.
	if err := r.SubscribeSpot(ctx, 9); err != nil {
		t.Fatalf("SubscribeSpot failed: %v", err)
	}
	if err := r.SubscribeTrendbar(ctx, 3, model.PeriodH1); err != nil {
		t.Fatalf("SubscribeTrendbar failed: %v", err)
	}
	if err := r.SubscribeTrendbar(ctx, 3, model.PeriodM1); err != nil {
		t.Fatalf("SubscribeTrendbar failed: %v", err)
	}
	req.reset()

	if err := r.Replay(ctx); err != nil {
		t.Fatalf("Replay failed: %v", err)
	}

	calls := req.recorded()
	if len(calls) != 4 {
		t.Fatalf("wire calls = %d, want 4", len(calls))
	}

	// Symbol 3 first (ascending), spot before its trendbars, periods ascending.
	spot3, ok := calls[0].payload.(wire.SubscribeSpotsReq)
	if !ok || calls[0].payloadType != wire.PTSubscribeSpotsReq || spot3.SymbolIDs[0] != 3 {
		t.Errorf("call 0 = %+v, want spot subscribe for symbol 3", calls[0])
	}
	tbM1, ok := calls[1].payload.(wire.SubscribeLiveTrendbarReq)
	if !ok || tbM1.SymbolID != 3 || tbM1.Period != model.PeriodM1 {
		t.Errorf("call 1 = %+v, want M1 trendbar for symbol 3", calls[1])
	}
	tbH1, ok := calls[2].payload.(wire.SubscribeLiveTrendbarReq)
	if !ok || tbH1.SymbolID != 3 || tbH1.Period != model.PeriodH1 {
		t.Errorf("call 2 = %+v, want H1 trendbar for symbol 3", calls[2])
	}
	spot9, ok := calls[3].payload.(wire.SubscribeSpotsReq)
	if !ok || spot9.SymbolIDs[0] != 9 {
		t.Errorf("call 3 = %+v, want spot subscribe for symbol 9", calls[3])
	}
}

func TestReplay_FailureSurfaces(t *testing.T) {
	r, req, _ := newTestRegistry(Config{})
	ctx := context.Background()

	if err := r.SubscribeSpot(ctx, 1); err != nil {
		t.Fatalf("SubscribeSpot failed: %v", err)
	}

	req.failOn[wire.PTSubscribeSpotsReq] = errors.New("not ready")
	if err := r.Replay(ctx); err == nil {
		t.Error("expected Replay to surface the wire error")
	}
}

func TestHandlePush_DispatchesTickAndBar(t *testing.T) {
	r, _, _ := newTestRegistry(Config{})
	ctx := context.Background()

	if err := r.SubscribeTrendbar(ctx, 7, model.PeriodM1); err != nil {
		t.Fatalf("SubscribeTrendbar failed: %v", err)
	}

	consumer := &recordingConsumer{}
	r.Attach(7, consumer)

	bid := int64(109820)
	ask := int64(109830)
	r.HandlePush(spotEventFrame(t, wire.SpotEvent{
		SymbolID:  7,
		Bid:       &bid,
		Ask:       &ask,
		Timestamp: 1700000000000,
		Trendbars: []wire.Trendbar{
			{Period: model.PeriodM1, Low: 109800, DeltaOpen: 20, DeltaHigh: 45, DeltaClose: 10, UTCTimestamp: 29000000, Volume: 5},
			// No live subscription for M5; must be skipped.
			{Period: model.PeriodM5, Low: 109800, UTCTimestamp: 29000000},
		},
	}))

	ticks, bars := consumer.counts()
	if ticks != 1 {
		t.Errorf("ticks dispatched = %d, want 1", ticks)
	}
	if bars != 1 {
		t.Errorf("bars dispatched = %d, want 1", bars)
	}
	if bars == 1 && consumer.bars[0].Period != model.PeriodM1 {
		t.Errorf("bar period = %v, want M1", consumer.bars[0].Period)
	}
}

func TestHandlePush_DropsInactiveSymbol(t *testing.T) {
	r, _, _ := newTestRegistry(Config{})

	consumer := &recordingConsumer{}
	r.Attach(7, consumer)

	bid := int64(109820)
	r.HandlePush(spotEventFrame(t, wire.SpotEvent{SymbolID: 7, Bid: &bid}))

	ticks, bars := consumer.counts()
	if ticks != 0 || bars != 0 {
		t.Errorf("dispatched %d ticks, %d bars for inactive symbol, want none", ticks, bars)
	}
	if got := r.Stats().Dropped; got != 1 {
		t.Errorf("Stats().Dropped = %d, want 1", got)
	}
}

func TestHandlePush_IgnoresOtherPayloadTypes(t *testing.T) {
	r, _, _ := newTestRegistry(Config{})

	// Must not panic or dispatch anything.
	r.HandlePush(wire.Frame{PayloadType: wire.PTSymbolsListRes, Payload: json.RawMessage(`{}`)})
	r.HandlePush(wire.Frame{PayloadType: wire.PTSpotEvent, Payload: json.RawMessage(`not json`)})
}

func TestSessionDown_FatalHaltsDispatchUntilReplay(t *testing.T) {
	r, _, _ := newTestRegistry(Config{})
	ctx := context.Background()

	if err := r.SubscribeSpot(ctx, 1); err != nil {
		t.Fatalf("SubscribeSpot failed: %v", err)
	}
	consumer := &recordingConsumer{}
	r.Attach(1, consumer)

	bid := int64(109820)
	event := spotEventFrame(t, wire.SpotEvent{SymbolID: 1, Bid: &bid})

	// Non-fatal drop does not halt: the session is already reconnecting and
	// no frames arrive anyway.
	r.SessionDown(false)
	r.HandlePush(event)
	if ticks, _ := consumer.counts(); ticks != 1 {
		t.Fatalf("ticks = %d after non-fatal drop, want 1", ticks)
	}

	r.SessionDown(true)
	r.HandlePush(event)
	if ticks, _ := consumer.counts(); ticks != 1 {
		t.Fatalf("ticks = %d while halted, want still 1", ticks)
	}

	if err := r.Replay(ctx); err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	r.HandlePush(event)
	if ticks, _ := consumer.counts(); ticks != 2 {
		t.Errorf("ticks = %d after replay, want 2", ticks)
	}
}

func TestDetach(t *testing.T) {
	r, _, _ := newTestRegistry(Config{})
	ctx := context.Background()

	if err := r.SubscribeSpot(ctx, 1); err != nil {
		t.Fatalf("SubscribeSpot failed: %v", err)
	}

	consumer := &recordingConsumer{}
	r.Attach(1, consumer)
	r.Detach(1, consumer)

	bid := int64(109820)
	r.HandlePush(spotEventFrame(t, wire.SpotEvent{SymbolID: 1, Bid: &bid}))

	if ticks, _ := consumer.counts(); ticks != 0 {
		t.Errorf("ticks = %d after Detach, want 0", ticks)
	}
}
