// Package symbols resolves underlyings to their strike grids and
// builds broker-format option symbols.
package symbols

import (
	"fmt"
	"strings"

	"optionflow/config"
	"optionflow/models"
)

// InstrumentKind separates index underlyings from stock underlyings.
// Stocks carry only monthly option expiries; indices also list weeklies.
type InstrumentKind string

const (
	KindIndex InstrumentKind = "index"
	KindStock InstrumentKind = "stock"
)

// Instrument is a resolved underlying.
type Instrument struct {
	Symbol         string
	Kind           InstrumentKind
	StrikeInterval float64
}

// Resolver maps underlying symbols to instruments using the configured
// market universe.
type Resolver struct {
	indices       map[string]float64
	stocks        map[string]struct{}
	stockInterval float64
}

// NewResolver builds a resolver from the market config. Symbols are
// matched case-insensitively and stored uppercase.
func NewResolver(cfg config.MarketConfig) *Resolver {
	r := &Resolver{
		indices:       make(map[string]float64, len(cfg.Indices)),
		stocks:        make(map[string]struct{}, len(cfg.Stocks)),
		stockInterval: cfg.StockStrikeInterval,
	}
	for sym, interval := range cfg.Indices {
		r.indices[strings.ToUpper(sym)] = interval
	}
	for _, sym := range cfg.Stocks {
		r.stocks[strings.ToUpper(sym)] = struct{}{}
	}
	return r
}

// Classify resolves a symbol to its instrument, or
// models.ErrUnsupportedSymbol when the symbol is in neither universe.
func (r *Resolver) Classify(symbol string) (Instrument, error) {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	if interval, ok := r.indices[sym]; ok {
		return Instrument{Symbol: sym, Kind: KindIndex, StrikeInterval: interval}, nil
	}
	if _, ok := r.stocks[sym]; ok {
		return Instrument{Symbol: sym, Kind: KindStock, StrikeInterval: r.stockInterval}, nil
	}
	return Instrument{}, fmt.Errorf("%w: %s", models.ErrUnsupportedSymbol, sym)
}

// StrikeInterval is a convenience for callers that only need the grid.
func (r *Resolver) StrikeInterval(symbol string) (float64, error) {
	inst, err := r.Classify(symbol)
	if err != nil {
		return 0, err
	}
	return inst.StrikeInterval, nil
}

// EligibleExpiries filters a broker expiry list for the instrument:
// indices keep every expiry, stocks keep only monthly ones. Order is
// preserved.
func (r *Resolver) EligibleExpiries(inst Instrument, expiries []string) ([]string, error) {
	if inst.Kind == KindIndex {
		return expiries, nil
	}
	return FilterMonthly(expiries)
}
