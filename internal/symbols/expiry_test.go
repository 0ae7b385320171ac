package symbols

import (
	"testing"
	"time"

	"optionflow/models"
)

func TestParseExpiry(t *testing.T) {
	got, err := ParseExpiry("28-NOV-25")
	if err != nil {
		t.Fatalf("ParseExpiry failed: %v", err)
	}
	want := time.Date(2025, time.November, 28, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("ParseExpiry = %v, want %v", got, want)
	}

	if _, err := ParseExpiry("28-Nov-25"); err != nil {
		t.Errorf("mixed case should parse: %v", err)
	}
	if _, err := ParseExpiry("2025-11-28"); err == nil {
		t.Error("ISO date should be rejected")
	}
	if _, err := ParseExpiry("31-FEB-25"); err == nil {
		t.Error("impossible date should be rejected")
	}
}

func TestFormatExpiry(t *testing.T) {
	d := time.Date(2025, time.November, 28, 0, 0, 0, 0, time.UTC)
	if got := FormatExpiry(d); got != "28-NOV-25" {
		t.Errorf("FormatExpiry = %s, want 28-NOV-25", got)
	}
}

func TestIsMonthlyExpiry(t *testing.T) {
	tests := []struct {
		date string
		want bool
	}{
		{"27-NOV-25", true},  // last Thursday of November 2025
		{"20-NOV-25", false}, // penultimate Thursday
		{"25-DEC-25", true},  // last Thursday of December 2025
		{"30-DEC-25", true},  // last Tuesday, still last of its weekday
	}
	for _, tt := range tests {
		d, err := ParseExpiry(tt.date)
		if err != nil {
			t.Fatalf("parse %s: %v", tt.date, err)
		}
		if got := IsMonthlyExpiry(d); got != tt.want {
			t.Errorf("IsMonthlyExpiry(%s) = %v, want %v", tt.date, got, tt.want)
		}
	}
}

func TestOptionSymbol(t *testing.T) {
	got, err := OptionSymbol("NIFTY", "28-NOV-25", 24650, models.Call)
	if err != nil {
		t.Fatalf("OptionSymbol failed: %v", err)
	}
	if got != "NIFTY28NOV2524650CE" {
		t.Errorf("OptionSymbol = %s, want NIFTY28NOV2524650CE", got)
	}

	got, err = OptionSymbol("midcpnifty", "28-NOV-25", 12862.5, models.Put)
	if err != nil {
		t.Fatalf("OptionSymbol failed: %v", err)
	}
	if got != "MIDCPNIFTY28NOV2512862.5PE" {
		t.Errorf("OptionSymbol = %s, want MIDCPNIFTY28NOV2512862.5PE", got)
	}

	if _, err := OptionSymbol("NIFTY", "bogus", 24650, models.Call); err == nil {
		t.Error("invalid expiry should be rejected")
	}
}
