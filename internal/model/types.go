package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// -----------------------------------------------------------------------------
// Trendbar periods
// -----------------------------------------------------------------------------

// Period identifies a trendbar timeframe. The numeric values are the
// protocol's own period codes and go over the wire unchanged.
type Period int32

const (
	PeriodM1  Period = 1
	PeriodM2  Period = 2
	PeriodM3  Period = 3
	PeriodM4  Period = 4
	PeriodM5  Period = 5
	PeriodM10 Period = 6
	PeriodM15 Period = 7
	PeriodM30 Period = 8
	PeriodH1  Period = 9
	PeriodH4  Period = 10
	PeriodH12 Period = 11
	PeriodD1  Period = 12
	PeriodW1  Period = 13
	PeriodMN1 Period = 14
)

var periodNames = map[Period]string{
	PeriodM1:  "M1",
	PeriodM2:  "M2",
	PeriodM3:  "M3",
	PeriodM4:  "M4",
	PeriodM5:  "M5",
	PeriodM10: "M10",
	PeriodM15: "M15",
	PeriodM30: "M30",
	PeriodH1:  "H1",
	PeriodH4:  "H4",
	PeriodH12: "H12",
	PeriodD1:  "D1",
	PeriodW1:  "W1",
	PeriodMN1: "MN1",
}

var periodDurations = map[Period]time.Duration{
	PeriodM1:  time.Minute,
	PeriodM2:  2 * time.Minute,
	PeriodM3:  3 * time.Minute,
	PeriodM4:  4 * time.Minute,
	PeriodM5:  5 * time.Minute,
	PeriodM10: 10 * time.Minute,
	PeriodM15: 15 * time.Minute,
	PeriodM30: 30 * time.Minute,
	PeriodH1:  time.Hour,
	PeriodH4:  4 * time.Hour,
	PeriodH12: 12 * time.Hour,
	PeriodD1:  24 * time.Hour,
	PeriodW1:  7 * 24 * time.Hour,
	PeriodMN1: 30 * 24 * time.Hour,
}

// String returns the conventional timeframe name (e.g. "H1").
func (p Period) String() string {
	if name, ok := periodNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Period(%d)", int32(p))
}

// Duration returns the nominal length of one bar. MN1 is treated as 30 days.
func (p Period) Duration() time.Duration {
	return periodDurations[p]
}

// Valid reports whether p is a known protocol period.
func (p Period) Valid() bool {
	_, ok := periodNames[p]
	return ok
}

// ParsePeriod converts a timeframe name like "M15" or "H1" to a Period.
func ParsePeriod(name string) (Period, error) {
	for p, n := range periodNames {
		if n == name {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown period %q", name)
}

// -----------------------------------------------------------------------------
// Quotes
// -----------------------------------------------------------------------------

// QuoteType selects which side of the book a tick request refers to.
type QuoteType int32

const (
	QuoteBid QuoteType = 1
	QuoteAsk QuoteType = 2
)

// String returns "bid" or "ask".
func (q QuoteType) String() string {
	switch q {
	case QuoteBid:
		return "bid"
	case QuoteAsk:
		return "ask"
	}
	return fmt.Sprintf("QuoteType(%d)", int32(q))
}

// -----------------------------------------------------------------------------
// Domain records
// -----------------------------------------------------------------------------

// SymbolMeta describes a tradeable symbol. Immutable once fetched from the
// server; cached for the process lifetime.
type SymbolMeta struct {
	ID          int64  // Broker symbol id
	Name        string // Symbol name (e.g. "EURUSD")
	Digits      int32  // Decimal digit precision for quotes
	PipPosition int32  // Decimal position of one pip
}

// Bar is a completed OHLC bar with absolute decimal prices. Bars are produced
// only by the codec package; raw relative integers never appear here.
type Bar struct {
	Period   Period
	OpenTime time.Time
	Open     decimal.Decimal
	High     decimal.Decimal
	Low      decimal.Decimal
	Close    decimal.Decimal
	Volume   int64
}

// Tick is a single quote update. At least one of Bid/Ask is set.
type Tick struct {
	Time time.Time
	Bid  decimal.NullDecimal
	Ask  decimal.NullDecimal
}
