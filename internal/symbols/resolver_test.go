package symbols

import (
	"errors"
	"reflect"
	"testing"

	"optionflow/config"
	"optionflow/models"
)

func testResolver() *Resolver {
	return NewResolver(config.MarketConfig{
		Indices: map[string]float64{
			"NIFTY":      50,
			"BANKNIFTY":  100,
			"FINNIFTY":   50,
			"MIDCPNIFTY": 25,
			"SENSEX":     100,
			"BANKEX":     100,
		},
		Stocks:              []string{"RELIANCE", "TCS"},
		StockStrikeInterval: 50,
	})
}

func TestClassify(t *testing.T) {
	r := testResolver()

	tests := []struct {
		symbol   string
		kind     InstrumentKind
		interval float64
	}{
		{"NIFTY", KindIndex, 50},
		{"BANKNIFTY", KindIndex, 100},
		{"MIDCPNIFTY", KindIndex, 25},
		{"banknifty", KindIndex, 100},
		{"RELIANCE", KindStock, 50},
		{" tcs ", KindStock, 50},
	}
	for _, tt := range tests {
		inst, err := r.Classify(tt.symbol)
		if err != nil {
			t.Errorf("Classify(%q) failed: %v", tt.symbol, err)
			continue
		}
		if inst.Kind != tt.kind || inst.StrikeInterval != tt.interval {
			t.Errorf("Classify(%q) = %+v, want kind %s interval %v", tt.symbol, inst, tt.kind, tt.interval)
		}
	}
}

func TestClassifyUnsupported(t *testing.T) {
	r := testResolver()
	_, err := r.Classify("DOGECOIN")
	if !errors.Is(err, models.ErrUnsupportedSymbol) {
		t.Fatalf("expected ErrUnsupportedSymbol, got %v", err)
	}
}

func TestEligibleExpiries(t *testing.T) {
	r := testResolver()

	// 27-Nov-25 is the last Thursday of November 2025.
	expiries := []string{"06-NOV-25", "13-NOV-25", "20-NOV-25", "27-NOV-25", "04-DEC-25"}

	index, _ := r.Classify("NIFTY")
	got, err := r.EligibleExpiries(index, expiries)
	if err != nil {
		t.Fatalf("EligibleExpiries failed: %v", err)
	}
	if !reflect.DeepEqual(got, expiries) {
		t.Errorf("index should keep all expiries, got %v", got)
	}

	stock, _ := r.Classify("RELIANCE")
	got, err = r.EligibleExpiries(stock, expiries)
	if err != nil {
		t.Fatalf("EligibleExpiries failed: %v", err)
	}
	want := []string{"27-NOV-25"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("stock expiries = %v, want %v", got, want)
	}
}
