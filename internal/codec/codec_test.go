package codec

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yegor-stuba/Lingonberry-Trade/internal/model"
	"github.com/yegor-stuba/Lingonberry-Trade/internal/wire"
)

func TestQuote(t *testing.T) {
	tests := []struct {
		name   string
		raw    int64
		digits int32
		want   string
	}{
		{"five digit fx", 109825, 5, "1.09825"},
		{"round half up", 109825, 4, "1.0983"},
		{"round down", 109824, 4, "1.0982"},
		{"two digit metal", 204567890, 2, "2045.68"},
		{"zero", 0, 5, "0"},
		{"large jpy style", 15634500, 3, "156.345"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Quote(tt.raw, tt.digits)
			want := decimal.RequireFromString(tt.want)
			if !got.Equal(want) {
				t.Errorf("Quote(%d, %d) = %s, want %s", tt.raw, tt.digits, got, want)
			}
		})
	}
}

func TestBar(t *testing.T) {
	tb := wire.Trendbar{
		Volume:       1234,
		Low:          109800,
		DeltaOpen:    20,
		DeltaHigh:    45,
		DeltaClose:   10,
		UTCTimestamp: 29000000,
	}

	bar := Bar(tb, model.PeriodM1, 5)

	if bar.Period != model.PeriodM1 {
		t.Errorf("Period = %v, want %v", bar.Period, model.PeriodM1)
	}
	wantTime := time.Unix(29000000*60, 0).UTC()
	if !bar.OpenTime.Equal(wantTime) {
		t.Errorf("OpenTime = %v, want %v", bar.OpenTime, wantTime)
	}
	if bar.Volume != 1234 {
		t.Errorf("Volume = %d, want 1234", bar.Volume)
	}

	checks := []struct {
		name string
		got  decimal.Decimal
		want string
	}{
		{"Low", bar.Low, "1.098"},
		{"Open", bar.Open, "1.0982"},
		{"High", bar.High, "1.09845"},
		{"Close", bar.Close, "1.0981"},
	}
	for _, c := range checks {
		if !c.got.Equal(decimal.RequireFromString(c.want)) {
			t.Errorf("%s = %s, want %s", c.name, c.got, c.want)
		}
	}
}

func TestBar_PeriodFromPayloadWins(t *testing.T) {
	tb := wire.Trendbar{Low: 100000, Period: model.PeriodM5}

	bar := Bar(tb, model.PeriodM1, 5)
	if bar.Period != model.PeriodM5 {
		t.Errorf("Period = %v, want %v", bar.Period, model.PeriodM5)
	}
}

func TestTick(t *testing.T) {
	bid := int64(109825)

	tick := Tick(wire.TickData{Timestamp: 1700000000123, Bid: &bid}, 5)

	wantTime := time.UnixMilli(1700000000123).UTC()
	if !tick.Time.Equal(wantTime) {
		t.Errorf("Time = %v, want %v", tick.Time, wantTime)
	}
	if !tick.Bid.Valid {
		t.Fatal("Bid should be set")
	}
	if !tick.Bid.Decimal.Equal(decimal.RequireFromString("1.09825")) {
		t.Errorf("Bid = %s, want 1.09825", tick.Bid.Decimal)
	}
	if tick.Ask.Valid {
		t.Error("Ask should not be set")
	}
}

func TestSpotTick(t *testing.T) {
	bid := int64(109820)
	ask := int64(109830)

	tick := SpotTick(wire.SpotEvent{
		SymbolID:  1,
		Bid:       &bid,
		Ask:       &ask,
		Timestamp: 1700000000000,
	}, 5)

	if !tick.Time.Equal(time.UnixMilli(1700000000000).UTC()) {
		t.Errorf("Time = %v, want event timestamp", tick.Time)
	}
	if !tick.Bid.Decimal.Equal(decimal.RequireFromString("1.0982")) {
		t.Errorf("Bid = %s, want 1.0982", tick.Bid.Decimal)
	}
	if !tick.Ask.Decimal.Equal(decimal.RequireFromString("1.0983")) {
		t.Errorf("Ask = %s, want 1.0983", tick.Ask.Decimal)
	}
}

func TestSpotTick_MissingTimestamp(t *testing.T) {
	bid := int64(109820)
	before := time.Now().UTC()

	tick := SpotTick(wire.SpotEvent{SymbolID: 1, Bid: &bid}, 5)

	after := time.Now().UTC()
	if tick.Time.Before(before) || tick.Time.After(after) {
		t.Errorf("Time = %v, want receive time between %v and %v", tick.Time, before, after)
	}
}
