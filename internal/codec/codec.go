// Package codec converts the protocol's relative integer prices into
// absolute decimal quotes. All functions are pure; malformed input is a
// programming error, not a runtime condition.
package codec

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/yegor-stuba/Lingonberry-Trade/internal/model"
	"github.com/yegor-stuba/Lingonberry-Trade/internal/wire"
)

// Relative prices are absolute prices multiplied by 10^5.
const scaleExp = -5

// Quote converts a relative price to an absolute decimal rounded to the
// symbol's digit count. decimal.Round rounds half away from zero, which
// matches observed broker behaviour.
func Quote(raw int64, digits int32) decimal.Decimal {
	return decimal.New(raw, scaleExp).Round(digits)
}

// Bar decodes a relative trendbar. Open, high and close are offsets from the
// bar low.
func Bar(tb wire.Trendbar, period model.Period, digits int32) model.Bar {
	if tb.Period != 0 {
		period = tb.Period
	}
	return model.Bar{
		Period:   period,
		OpenTime: time.Unix(tb.UTCTimestamp*60, 0).UTC(),
		Open:     Quote(tb.Low+tb.DeltaOpen, digits),
		High:     Quote(tb.Low+tb.DeltaHigh, digits),
		Low:      Quote(tb.Low, digits),
		Close:    Quote(tb.Low+tb.DeltaClose, digits),
		Volume:   tb.Volume,
	}
}

// Tick decodes one historical tick. Only the populated quote side is set.
func Tick(td wire.TickData, digits int32) model.Tick {
	t := model.Tick{Time: time.UnixMilli(td.Timestamp).UTC()}
	if td.Bid != nil {
		t.Bid = decimal.NewNullDecimal(Quote(*td.Bid, digits))
	}
	if td.Ask != nil {
		t.Ask = decimal.NewNullDecimal(Quote(*td.Ask, digits))
	}
	return t
}

// SpotTick decodes the quote part of a spot event.
func SpotTick(ev wire.SpotEvent, digits int32) model.Tick {
	at := time.Now().UTC()
	if ev.Timestamp != 0 {
		at = time.UnixMilli(ev.Timestamp).UTC()
	}
	t := model.Tick{Time: at}
	if ev.Bid != nil {
		t.Bid = decimal.NewNullDecimal(Quote(*ev.Bid, digits))
	}
	if ev.Ask != nil {
		t.Ask = decimal.NewNullDecimal(Quote(*ev.Ask, digits))
	}
	return t
}
