package models

import (
	"time"
)

// TickKind identifies the feed stream a tick was received on.
type TickKind string

const (
	TickLTP   TickKind = "ltp"
	TickQuote TickKind = "quote"
	TickDepth TickKind = "depth"
)

// DepthLevel is a single order book level from a depth tick.
type DepthLevel struct {
	Level     int     `json:"level"`
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
	BidQty    int64   `json:"bid_qty"`
	AskQty    int64   `json:"ask_qty"`
	BidOrders int64   `json:"bid_orders"`
	AskOrders int64   `json:"ask_orders"`
}

// Tick is a single normalized market data event from the feed.
// Timestamp is exchange-local with millisecond precision. A tick is
// consumed exactly once by the aggregation pipeline and never mutated.
type Tick struct {
	Kind      TickKind  `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Symbol    string    `json:"symbol"`
	Exchange  string    `json:"exchange"`

	LTP              float64 `json:"ltp"`
	LastTradeQty     int64   `json:"last_trade_qty"`

	// Quote-only fields: running day stats from the exchange.
	Open          float64 `json:"open,omitempty"`
	High          float64 `json:"high,omitempty"`
	Low           float64 `json:"low,omitempty"`
	Close         float64 `json:"close,omitempty"`
	Volume        int64   `json:"volume,omitempty"`
	Change        float64 `json:"change,omitempty"`
	ChangePercent float64 `json:"change_percent,omitempty"`
	AvgTradePrice float64 `json:"avg_trade_price,omitempty"`

	// Depth-only field.
	Depth []DepthLevel `json:"depth,omitempty"`
}

// Timeframe is a candle bucket size.
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe30m Timeframe = "30m"
	Timeframe1h  Timeframe = "1h"
	Timeframe1d  Timeframe = "1d"
)

var timeframeDurations = map[Timeframe]time.Duration{
	Timeframe1m:  time.Minute,
	Timeframe5m:  5 * time.Minute,
	Timeframe15m: 15 * time.Minute,
	Timeframe30m: 30 * time.Minute,
	Timeframe1h:  time.Hour,
	Timeframe1d:  24 * time.Hour,
}

// Timeframes returns all supported timeframes, shortest first.
func Timeframes() []Timeframe {
	return []Timeframe{Timeframe1m, Timeframe5m, Timeframe15m, Timeframe30m, Timeframe1h, Timeframe1d}
}

// IsValid reports whether the timeframe is one of the supported buckets.
func (tf Timeframe) IsValid() bool {
	_, ok := timeframeDurations[tf]
	return ok
}

// Duration returns the bucket length. The 1d value is nominal; daily
// buckets are floored on calendar days, see Bucket.
func (tf Timeframe) Duration() time.Duration {
	return timeframeDurations[tf]
}

// Bucket floors ts to the start of its candle bucket. Intraday
// timeframes truncate on the wall clock; 1d floors to the start of the
// exchange-local calendar day so a session never straddles two buckets.
func (tf Timeframe) Bucket(ts time.Time) time.Time {
	if tf == Timeframe1d {
		return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, ts.Location())
	}
	return ts.Truncate(timeframeDurations[tf])
}

// Candle is one OHLCV bucket for a symbol and timeframe. OpenTime is the
// inclusive bucket start. A candle is mutable only while its bucket is
// the most recent one for its series; once sealed it is never touched.
type Candle struct {
	Symbol    string    `json:"symbol"`
	Timeframe Timeframe `json:"timeframe"`
	OpenTime  time.Time `json:"open_time"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
}

// Apply folds one trade into the candle.
func (c *Candle) Apply(price float64, qty int64) {
	if price > c.High {
		c.High = price
	}
	if price < c.Low {
		c.Low = price
	}
	c.Close = price
	c.Volume += qty
}

// OptionType distinguishes calls and puts using the NSE CE/PE convention.
type OptionType string

const (
	Call OptionType = "CE"
	Put  OptionType = "PE"
)

// IsValid reports whether the option type is CE or PE.
func (ot OptionType) IsValid() bool {
	return ot == Call || ot == Put
}

// Moneyness classifies a strike relative to the underlying.
type Moneyness string

const (
	ITM Moneyness = "ITM"
	ATM Moneyness = "ATM"
	OTM Moneyness = "OTM"
)

// OptionQuote is the payload returned by the quote source for one option leg.
type OptionQuote struct {
	LTP        float64 `json:"ltp"`
	OI         int64   `json:"oi"`
	Volume     int64   `json:"volume"`
	Bid        float64 `json:"bid"`
	Ask        float64 `json:"ask"`
	ImpliedVol float64 `json:"iv"`

	// Day stats, present on underlying quotes.
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
}

// OIRecord is one timestamped open-interest observation for an option
// leg. Records are append-only: every fetch cycle emits a fresh row.
type OIRecord struct {
	Timestamp  time.Time  `json:"timestamp"`
	Symbol     string     `json:"symbol"`
	Exchange   string     `json:"exchange"`
	Expiry     string     `json:"expiry"`
	Strike     float64    `json:"strike"`
	OptionType OptionType `json:"option_type"`

	OI         int64   `json:"oi"`
	Volume     int64   `json:"volume"`
	LastPrice  float64 `json:"last_price"`
	Bid        float64 `json:"bid"`
	Ask        float64 `json:"ask"`
	ImpliedVol float64 `json:"iv"`
}

// OISnapshot holds the start- and end-of-day OI for one leg on one
// trading day. StartOI is seeded by the first successful fetch of the
// day and never rewritten; EndOI is overwritten by every later fetch
// until day rollover, after which the row is immutable.
type OISnapshot struct {
	SnapshotDate time.Time  `json:"snapshot_date"`
	Symbol       string     `json:"symbol"`
	Expiry       string     `json:"expiry"`
	Strike       float64    `json:"strike"`
	OptionType   OptionType `json:"option_type"`
	StartOI      int64      `json:"oi_start_of_day"`
	EndOI        int64      `json:"oi_end_of_day"`
}

// Change returns the day-over-day OI delta for the snapshot.
func (s OISnapshot) Change() int64 {
	return s.EndOI - s.StartOI
}

// UnderlyingQuote is a spot/index quote captured alongside each OI cycle.
type UnderlyingQuote struct {
	Timestamp time.Time `json:"timestamp"`
	Symbol    string    `json:"symbol"`
	Exchange  string    `json:"exchange"`
	LTP       float64   `json:"ltp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
}

// FetchStatus reports the outcome class of a chain fetch.
type FetchStatus string

const (
	FetchOK           FetchStatus = "ok"
	FetchMarketClosed FetchStatus = "market_closed"
)

// LegResult is the per-leg outcome of a chain fetch.
type LegResult struct {
	Strike     float64    `json:"strike"`
	OptionType OptionType `json:"option_type"`
	Quote      *OptionQuote `json:"quote,omitempty"`
	OIChange   int64      `json:"oi_change"`
	Attempts   int        `json:"attempts"`
	Err        string     `json:"error,omitempty"`
}

// Failed reports whether the leg exhausted its retries without a quote.
func (l LegResult) Failed() bool {
	return l.Quote == nil
}

// ChainResult aggregates one OI fetch cycle over a strike ladder.
// PCR is nil when total call OI is zero (division undefined).
type ChainResult struct {
	Symbol     string      `json:"symbol"`
	Expiry     string      `json:"expiry"`
	Status     FetchStatus `json:"status"`
	FetchedAt  time.Time   `json:"fetched_at"`
	Underlying float64     `json:"underlying"`
	ATM        float64     `json:"atm"`
	Strikes    []float64   `json:"strikes"`
	Legs       []LegResult `json:"legs"`

	TotalCEOI int64    `json:"total_ce_oi"`
	TotalPEOI int64    `json:"total_pe_oi"`
	PCR       *float64 `json:"pcr"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
}
