// Package atm locates at-the-money strikes and builds the strike
// ladders the open-interest fetcher walks every cycle.
package atm

import (
	"math"

	"optionflow/models"
)

// Bias selects which neighbouring strike wins when the underlying sits
// between two strikes.
type Bias string

const (
	// BiasNearest rounds half away from zero, so an exact midpoint
	// resolves to the higher strike.
	BiasNearest Bias = "nearest"
	BiasHigher  Bias = "higher"
	BiasLower   Bias = "lower"
)

// Strike returns the at-the-money strike for a price on the given
// interval grid. Midpoints round up: 24675 on a 50 grid maps to 24700.
func Strike(price, interval float64) float64 {
	return math.Floor(price/interval+0.5) * interval
}

// StrikeWithBias resolves the ATM strike under an explicit bias.
func StrikeWithBias(price, interval float64, bias Bias) float64 {
	switch bias {
	case BiasHigher:
		return math.Ceil(price/interval) * interval
	case BiasLower:
		return math.Floor(price/interval) * interval
	default:
		return Strike(price, interval)
	}
}

// Ladder returns 2*width+1 strikes centred on atm, ascending. A
// negative width yields only the centre strike.
func Ladder(atm, interval float64, width int) []float64 {
	if width < 0 {
		width = 0
	}
	strikes := make([]float64, 0, 2*width+1)
	for i := -width; i <= width; i++ {
		strikes = append(strikes, atm+float64(i)*interval)
	}
	return strikes
}

// Moneyness classifies a strike against the current ATM strike and the
// underlying price. The ATM strike itself is ATM for both sides.
func Moneyness(strike, atmStrike, price float64, ot models.OptionType) models.Moneyness {
	if strike == atmStrike {
		return models.ATM
	}
	switch ot {
	case models.Call:
		if price > strike {
			return models.ITM
		}
	case models.Put:
		if price < strike {
			return models.ITM
		}
	}
	return models.OTM
}

// IntrinsicValue returns the exercise value of an option leg, floored
// at zero.
func IntrinsicValue(strike, price float64, ot models.OptionType) float64 {
	var v float64
	switch ot {
	case models.Call:
		v = price - strike
	case models.Put:
		v = strike - price
	}
	return math.Max(v, 0)
}

// TimeValue returns the premium in excess of intrinsic value, floored
// at zero so stale quotes never report a negative time value.
func TimeValue(ltp, strike, price float64, ot models.OptionType) float64 {
	return math.Max(ltp-IntrinsicValue(strike, price, ot), 0)
}
