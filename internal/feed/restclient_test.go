package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"
)

func TestQuote(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/quotes" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req quoteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.APIKey != "test-key" || req.Symbol != "NIFTY28NOV2524650CE" || req.Exchange != "NFO" {
			t.Errorf("unexpected request: %+v", req)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "success",
			"data": map[string]interface{}{
				"ltp": 95.5, "oi": 1250000, "volume": 320000,
				"bid": 95.3, "ask": 95.7, "iv": 14.2,
				"open": 88.0, "high": 99.0, "low": 85.5, "prev_close": 90.0,
			},
		})
	}))
	defer server.Close()

	c := NewRESTClient(server.URL, "test-key", 5*time.Second)
	q, err := c.Quote(context.Background(), "NIFTY28NOV2524650CE", "NFO")
	if err != nil {
		t.Fatalf("Quote failed: %v", err)
	}
	if q.LTP != 95.5 || q.OI != 1250000 || q.Bid != 95.3 || q.Close != 90.0 {
		t.Errorf("unexpected quote: %+v", q)
	}
}

func TestQuoteRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":  "error",
			"message": "invalid symbol",
		})
	}))
	defer server.Close()

	c := NewRESTClient(server.URL, "test-key", 5*time.Second)
	if _, err := c.Quote(context.Background(), "BOGUS", "NFO"); err == nil {
		t.Fatal("expected error for rejected quote")
	}
}

func TestExpiries(t *testing.T) {
	want := []string{"27-NOV-25", "04-DEC-25", "25-DEC-25"}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/expiry" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req expiryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.InstrumentType != "options" {
			t.Errorf("unexpected instrument type %s", req.InstrumentType)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "success",
			"data":   want,
		})
	}))
	defer server.Close()

	c := NewRESTClient(server.URL, "test-key", 5*time.Second)
	got, err := c.Expiries(context.Background(), "NIFTY", "NFO")
	if err != nil {
		t.Fatalf("Expiries failed: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expiries = %v, want %v", got, want)
	}
}

func TestQuoteServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	c := NewRESTClient(server.URL, "test-key", 5*time.Second)
	if _, err := c.Quote(context.Background(), "NIFTY", "NSE"); err == nil {
		t.Fatal("expected error for 500 response")
	}
}
