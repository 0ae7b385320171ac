package feed

import (
	"testing"
	"time"

	"optionflow/models"
)

func TestDecodeTickLTP(t *testing.T) {
	raw := []byte(`{"type":"ltp","symbol":"NIFTY","exchange":"NSE","timestamp":1732440600000,"ltp":24650.5,"last_trade_qty":75}`)

	tick, ok, err := decodeTick(raw)
	if err != nil {
		t.Fatalf("decodeTick failed: %v", err)
	}
	if !ok {
		t.Fatal("expected a data frame")
	}
	if tick.Kind != models.TickLTP || tick.Symbol != "NIFTY" || tick.LTP != 24650.5 {
		t.Errorf("unexpected tick: %+v", tick)
	}
	if tick.LastTradeQty != 75 {
		t.Errorf("unexpected qty: %d", tick.LastTradeQty)
	}
	want := time.UnixMilli(1732440600000)
	if !tick.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", tick.Timestamp, want)
	}
}

func TestDecodeTickNestedQuote(t *testing.T) {
	raw := []byte(`{"type":"quote","symbol":"RELIANCE","exchange":"NSE","timestamp":1732440600000,"data":{"ltp":1424.0,"open":1410.0,"high":1430.0,"low":1405.0,"close":1415.0,"volume":5200000}}`)

	tick, ok, err := decodeTick(raw)
	if err != nil {
		t.Fatalf("decodeTick failed: %v", err)
	}
	if !ok {
		t.Fatal("expected a data frame")
	}
	if tick.Kind != models.TickQuote || tick.LTP != 1424.0 || tick.Volume != 5200000 {
		t.Errorf("unexpected tick: %+v", tick)
	}
	if tick.Open != 1410.0 || tick.High != 1430.0 {
		t.Errorf("unexpected day stats: %+v", tick)
	}
}

func TestDecodeTickDepth(t *testing.T) {
	raw := []byte(`{"type":"depth","symbol":"NIFTY","exchange":"NSE","timestamp":1732440600000,"depth":[{"level":1,"bid":24650.0,"ask":24650.5,"bid_qty":150,"ask_qty":225}]}`)

	tick, ok, err := decodeTick(raw)
	if err != nil {
		t.Fatalf("decodeTick failed: %v", err)
	}
	if !ok {
		t.Fatal("expected a data frame")
	}
	if tick.Kind != models.TickDepth || len(tick.Depth) != 1 {
		t.Fatalf("unexpected tick: %+v", tick)
	}
	if tick.Depth[0].Bid != 24650.0 || tick.Depth[0].AskQty != 225 {
		t.Errorf("unexpected depth level: %+v", tick.Depth[0])
	}
}

func TestDecodeTickSkipsControlFrames(t *testing.T) {
	for _, raw := range []string{
		`{"type":"error","message":"bad subscription"}`,
		`{"status":"authenticated"}`,
		`{"type":"pong"}`,
	} {
		_, ok, err := decodeTick([]byte(raw))
		if err != nil {
			t.Errorf("decodeTick(%s) failed: %v", raw, err)
		}
		if ok {
			t.Errorf("decodeTick(%s) should not produce a tick", raw)
		}
	}
}

func TestDecodeTickInvalidJSON(t *testing.T) {
	if _, _, err := decodeTick([]byte(`{not json`)); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}
