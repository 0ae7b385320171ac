package symbols

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"optionflow/models"
)

// expiryLayout is the broker wire format for expiry dates, e.g. 28-NOV-25.
const expiryLayout = "02-Jan-06"

// ParseExpiry parses a DD-MMM-YY expiry date. Month case is
// normalized, so 28-NOV-25 and 28-Nov-25 both parse.
func ParseExpiry(expiry string) (time.Time, error) {
	parts := strings.Split(strings.TrimSpace(expiry), "-")
	if len(parts) != 3 || len(parts[1]) != 3 {
		return time.Time{}, fmt.Errorf("invalid expiry format %q, want DD-MMM-YY", expiry)
	}
	month := strings.ToUpper(parts[1][:1]) + strings.ToLower(parts[1][1:])
	normalized := parts[0] + "-" + month + "-" + parts[2]
	t, err := time.Parse(expiryLayout, normalized)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid expiry %q: %w", expiry, err)
	}
	return t, nil
}

// FormatExpiry renders an expiry date in the broker's uppercase
// DD-MMM-YY format.
func FormatExpiry(t time.Time) string {
	return strings.ToUpper(t.Format(expiryLayout))
}

// IsMonthlyExpiry reports whether the expiry is the last occurrence of
// its weekday in the month. Exchanges schedule the monthly contract on
// the final weekly slot, so adding seven days must land in the next
// month.
func IsMonthlyExpiry(t time.Time) bool {
	return t.AddDate(0, 0, 7).Month() != t.Month()
}

// FilterMonthly keeps only monthly expiries from a broker expiry list,
// preserving order. Unparseable entries fail the whole call.
func FilterMonthly(expiries []string) ([]string, error) {
	monthly := make([]string, 0, len(expiries))
	for _, e := range expiries {
		t, err := ParseExpiry(e)
		if err != nil {
			return nil, err
		}
		if IsMonthlyExpiry(t) {
			monthly = append(monthly, e)
		}
	}
	return monthly, nil
}

// OptionSymbol builds the broker option symbol, e.g.
// NIFTY28NOV2524650CE. Whole-number strikes render without a decimal
// point.
func OptionSymbol(underlying, expiry string, strike float64, ot models.OptionType) (string, error) {
	t, err := ParseExpiry(expiry)
	if err != nil {
		return "", err
	}
	strikeStr := strconv.FormatFloat(strike, 'f', -1, 64)
	return fmt.Sprintf("%s%s%s%s",
		strings.ToUpper(underlying),
		strings.ToUpper(t.Format("02Jan06")),
		strikeStr,
		ot,
	), nil
}
