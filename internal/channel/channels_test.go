package channel

import (
	"testing"
	"time"

	"optionflow/models"
)

func testTick(symbol string, price float64) models.Tick {
	return models.Tick{
		Kind:      models.TickLTP,
		Timestamp: time.Now(),
		Symbol:    symbol,
		Exchange:  "NSE",
		LTP:       price,
	}
}

func TestPublishTick(t *testing.T) {
	c := NewChannels(2)
	defer c.Close()

	if !c.PublishTick(testTick("NIFTY", 24650)) {
		t.Fatal("publish into empty buffer should succeed")
	}

	got := <-c.Ticks
	if got.Symbol != "NIFTY" || got.LTP != 24650 {
		t.Errorf("unexpected tick: %+v", got)
	}

	stats := c.GetStats()
	if stats.TicksSent != 1 || stats.TicksDropped != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestPublishTickDropsWhenFull(t *testing.T) {
	c := NewChannels(1)
	defer c.Close()

	if !c.PublishTick(testTick("NIFTY", 1)) {
		t.Fatal("first publish should succeed")
	}
	if c.PublishTick(testTick("NIFTY", 2)) {
		t.Fatal("second publish into full buffer should drop")
	}

	stats := c.GetStats()
	if stats.TicksSent != 1 {
		t.Errorf("expected 1 sent, got %d", stats.TicksSent)
	}
	if stats.TicksDropped != 1 {
		t.Errorf("expected 1 dropped, got %d", stats.TicksDropped)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	c := NewChannels(1)
	c.Close()
	c.Close()

	if _, ok := <-c.Ticks; ok {
		t.Error("channel should be closed")
	}
}
