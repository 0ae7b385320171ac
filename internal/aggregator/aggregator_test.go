package aggregator

import (
	"context"
	"sync"
	"testing"
	"time"

	"optionflow/internal/channel"
	"optionflow/models"
)

type recordingSink struct {
	mu      sync.Mutex
	ticks   []models.Tick
	candles []models.Candle
}

func (s *recordingSink) AppendTick(tick models.Tick) {
	s.mu.Lock()
	s.ticks = append(s.ticks, tick)
	s.mu.Unlock()
}

func (s *recordingSink) AppendCandle(candle models.Candle) {
	s.mu.Lock()
	s.candles = append(s.candles, candle)
	s.mu.Unlock()
}

func (s *recordingSink) sealedCandles() []models.Candle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Candle, len(s.candles))
	copy(out, s.candles)
	return out
}

func newTestAggregator(t *testing.T, timeframes ...string) (*Aggregator, *recordingSink) {
	t.Helper()
	if len(timeframes) == 0 {
		timeframes = []string{"1m"}
	}
	sink := &recordingSink{}
	agg, err := New(timeframes, 100, channel.NewChannels(16), sink)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return agg, sink
}

func ltpTick(symbol string, ts time.Time, price float64, qty int64) models.Tick {
	return models.Tick{
		Kind:         models.TickLTP,
		Timestamp:    ts,
		Symbol:       symbol,
		Exchange:     "NSE",
		LTP:          price,
		LastTradeQty: qty,
	}
}

func TestIngestBuildsCandle(t *testing.T) {
	agg, _ := newTestAggregator(t)
	base := time.Date(2025, 11, 24, 10, 15, 0, 0, time.UTC)

	agg.Ingest(ltpTick("NIFTY", base.Add(5*time.Second), 100, 10))
	agg.Ingest(ltpTick("NIFTY", base.Add(20*time.Second), 105, 5))
	agg.Ingest(ltpTick("NIFTY", base.Add(40*time.Second), 98, 7))
	agg.Ingest(ltpTick("NIFTY", base.Add(55*time.Second), 102, 3))

	candles := agg.Candles("NIFTY", models.Timeframe1m, 10)
	if len(candles) != 1 {
		t.Fatalf("expected 1 open candle, got %d", len(candles))
	}
	c := candles[0]
	if !c.OpenTime.Equal(base) {
		t.Errorf("open time = %v, want %v", c.OpenTime, base)
	}
	if c.Open != 100 || c.High != 105 || c.Low != 98 || c.Close != 102 {
		t.Errorf("OHLC = %v/%v/%v/%v", c.Open, c.High, c.Low, c.Close)
	}
	if c.Volume != 25 {
		t.Errorf("volume = %d, want 25", c.Volume)
	}
}

func TestRolloverSealsCandle(t *testing.T) {
	agg, sink := newTestAggregator(t)
	base := time.Date(2025, 11, 24, 10, 15, 0, 0, time.UTC)

	agg.Ingest(ltpTick("NIFTY", base.Add(10*time.Second), 100, 10))
	agg.Ingest(ltpTick("NIFTY", base.Add(70*time.Second), 101, 5))

	sealed := sink.sealedCandles()
	if len(sealed) != 1 {
		t.Fatalf("expected 1 sealed candle, got %d", len(sealed))
	}
	if sealed[0].Close != 100 || !sealed[0].OpenTime.Equal(base) {
		t.Errorf("unexpected sealed candle: %+v", sealed[0])
	}

	candles := agg.Candles("NIFTY", models.Timeframe1m, 10)
	if len(candles) != 2 {
		t.Fatalf("expected 2 candles, got %d", len(candles))
	}
	if !candles[1].OpenTime.Equal(base.Add(time.Minute)) {
		t.Errorf("open candle bucket = %v", candles[1].OpenTime)
	}
}

func TestLateTickDropped(t *testing.T) {
	agg, sink := newTestAggregator(t)
	base := time.Date(2025, 11, 24, 10, 15, 0, 0, time.UTC)

	agg.Ingest(ltpTick("NIFTY", base.Add(10*time.Second), 100, 10))
	agg.Ingest(ltpTick("NIFTY", base.Add(70*time.Second), 101, 5))

	// Arrives after its bucket was sealed.
	agg.Ingest(ltpTick("NIFTY", base.Add(30*time.Second), 999, 50))

	if got := agg.LateDrops(); got != 1 {
		t.Errorf("LateDrops = %d, want 1", got)
	}
	sealed := sink.sealedCandles()
	if sealed[0].High == 999 || sealed[0].Volume != 10 {
		t.Errorf("sealed candle was mutated: %+v", sealed[0])
	}
}

func TestDepthAndZeroPriceTicksSkipped(t *testing.T) {
	agg, _ := newTestAggregator(t)
	base := time.Date(2025, 11, 24, 10, 15, 0, 0, time.UTC)

	agg.Ingest(models.Tick{Kind: models.TickDepth, Timestamp: base, Symbol: "NIFTY"})
	agg.Ingest(ltpTick("NIFTY", base, 0, 10))

	if got := agg.Candles("NIFTY", models.Timeframe1m, 10); got != nil {
		t.Errorf("expected no candles, got %v", got)
	}
}

func TestCandlesQueryLimit(t *testing.T) {
	agg, _ := newTestAggregator(t)
	base := time.Date(2025, 11, 24, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 10; i++ {
		agg.Ingest(ltpTick("NIFTY", base.Add(time.Duration(i)*time.Minute), float64(100+i), 1))
	}

	got := agg.Candles("NIFTY", models.Timeframe1m, 3)
	if len(got) != 3 {
		t.Fatalf("expected 3 candles, got %d", len(got))
	}
	// Most recent last; the final entry is the open candle.
	if got[2].Close != 109 {
		t.Errorf("open candle close = %v, want 109", got[2].Close)
	}
	if got[0].Close != 107 {
		t.Errorf("oldest returned close = %v, want 107", got[0].Close)
	}

	if got := agg.Candles("UNKNOWN", models.Timeframe1m, 3); got != nil {
		t.Errorf("expected nil for unknown symbol, got %v", got)
	}
}

func TestMultipleTimeframes(t *testing.T) {
	agg, sink := newTestAggregator(t, "1m", "5m")
	base := time.Date(2025, 11, 24, 10, 0, 0, 0, time.UTC)

	agg.Ingest(ltpTick("NIFTY", base, 100, 1))
	agg.Ingest(ltpTick("NIFTY", base.Add(6*time.Minute), 110, 1))

	sealed := sink.sealedCandles()
	if len(sealed) != 2 {
		t.Fatalf("expected a sealed candle per timeframe, got %d", len(sealed))
	}

	fiveMin := agg.Candles("NIFTY", models.Timeframe5m, 10)
	if len(fiveMin) != 2 {
		t.Fatalf("expected 2 5m candles, got %d", len(fiveMin))
	}
	if !fiveMin[1].OpenTime.Equal(base.Add(5 * time.Minute)) {
		t.Errorf("5m open bucket = %v", fiveMin[1].OpenTime)
	}
}

func TestDailyCandleUsesCalendarDay(t *testing.T) {
	agg, _ := newTestAggregator(t, "1d")
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		t.Fatalf("load timezone: %v", err)
	}

	morning := time.Date(2025, 11, 24, 9, 30, 0, 0, loc)
	afternoon := time.Date(2025, 11, 24, 15, 15, 0, 0, loc)
	agg.Ingest(ltpTick("NIFTY", morning, 100, 1))
	agg.Ingest(ltpTick("NIFTY", afternoon, 110, 1))

	candles := agg.Candles("NIFTY", models.Timeframe1d, 10)
	if len(candles) != 1 {
		t.Fatalf("session straddled two daily buckets: %d candles", len(candles))
	}
	want := time.Date(2025, 11, 24, 0, 0, 0, 0, loc)
	if !candles[0].OpenTime.Equal(want) {
		t.Errorf("daily bucket = %v, want %v", candles[0].OpenTime, want)
	}
}

func TestStartConsumesChannel(t *testing.T) {
	ch := channel.NewChannels(16)
	sink := &recordingSink{}
	agg, err := New([]string{"1m"}, 100, ch, sink)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := agg.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := agg.Start(ctx); err == nil {
		t.Fatal("second Start should fail")
	}

	base := time.Date(2025, 11, 24, 10, 15, 0, 0, time.UTC)
	ch.PublishTick(ltpTick("NIFTY", base, 100, 1))

	deadline := time.After(2 * time.Second)
	for {
		if len(agg.Candles("NIFTY", models.Timeframe1m, 1)) == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("tick was not consumed")
		case <-time.After(10 * time.Millisecond):
		}
	}

	agg.Stop()

	sink.mu.Lock()
	n := len(sink.ticks)
	sink.mu.Unlock()
	if n != 1 {
		t.Errorf("expected 1 tick forwarded to sink, got %d", n)
	}
}
