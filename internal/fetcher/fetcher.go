// Package fetcher orchestrates rate-limited open-interest collection
// over a strike ladder and maintains the daily OI snapshots.
package fetcher

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"optionflow/config"
	"optionflow/internal/atm"
	"optionflow/internal/expiry"
	"optionflow/internal/ratelimit"
	"optionflow/internal/session"
	"optionflow/internal/symbols"
	"optionflow/logger"
	"optionflow/models"
)

// QuoteSource provides option and underlying quotes.
type QuoteSource interface {
	Quote(ctx context.Context, symbol, exchange string) (*models.OptionQuote, error)
}

// Store is the persistence surface the fetcher writes through. Appends
// are fire-and-forget; UpsertSnapshot is synchronous because the day
// delta depends on its result.
type Store interface {
	AppendOIRecord(rec models.OIRecord)
	AppendUnderlyingQuote(q models.UnderlyingQuote)
	UpsertSnapshot(ctx context.Context, date time.Time, symbol, expiry string, strike float64, ot models.OptionType, oi int64) (models.OISnapshot, error)
}

// Fetcher walks a strike ladder around ATM, fetching both legs per
// strike under the shared rate limiter with bounded concurrency.
type Fetcher struct {
	cfg      config.FetcherConfig
	exchange string
	derivEx  string

	quotes   QuoteSource
	expiries *expiry.Cache
	resolver *symbols.Resolver
	limiter  *ratelimit.Limiter
	clock    *session.Clock
	store    Store
	log      *logger.Log

	mu    sync.Mutex
	tasks map[string]*periodicTask
}

func New(cfg *config.Config, quotes QuoteSource, expiries *expiry.Cache, resolver *symbols.Resolver, limiter *ratelimit.Limiter, clock *session.Clock, store Store) *Fetcher {
	return &Fetcher{
		cfg:      cfg.Fetcher,
		exchange: cfg.Feed.Exchange,
		derivEx:  cfg.Feed.DerivativesExchange,
		quotes:   quotes,
		expiries: expiries,
		resolver: resolver,
		limiter:  limiter,
		clock:    clock,
		store:    store,
		log:      logger.GetLogger(),
		tasks:    make(map[string]*periodicTask),
	}
}

// NearestExpiry returns the nearest eligible expiry for a symbol:
// first entry for indices, first monthly entry for stocks.
func (f *Fetcher) NearestExpiry(ctx context.Context, symbol string) (string, error) {
	inst, err := f.resolver.Classify(symbol)
	if err != nil {
		return "", err
	}
	all, err := f.expiries.Get(ctx, inst.Symbol, f.derivEx)
	if err != nil {
		return "", err
	}
	eligible, err := f.resolver.EligibleExpiries(inst, all)
	if err != nil {
		return "", err
	}
	if len(eligible) == 0 {
		return "", fmt.Errorf("%w: no eligible expiry for %s", models.ErrExpiryUnavailable, inst.Symbol)
	}
	return eligible[0], nil
}

// Fetch runs one OI collection cycle for a symbol and expiry. Outside
// market hours it returns a MarketClosed result without issuing any
// upstream calls. ATM is recomputed from the live underlying on every
// cycle so the ladder tracks the market.
func (f *Fetcher) Fetch(ctx context.Context, symbol, expiryDate string) (*models.ChainResult, error) {
	inst, err := f.resolver.Classify(symbol)
	if err != nil {
		return nil, err
	}

	if !f.clock.IsOpen() {
		f.log.WithComponent("oi_fetcher").WithFields(logger.Fields{
			"symbol": inst.Symbol,
			"expiry": expiryDate,
		}).Info("market closed, skipping fetch cycle")
		return &models.ChainResult{
			Symbol:    inst.Symbol,
			Expiry:    expiryDate,
			Status:    models.FetchMarketClosed,
			FetchedAt: f.clock.Now(),
		}, nil
	}

	underlying, err := f.fetchUnderlying(ctx, inst.Symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch underlying quote for %s: %w", inst.Symbol, err)
	}

	atmStrike := atm.Strike(underlying.LTP, inst.StrikeInterval)
	strikes := atm.Ladder(atmStrike, inst.StrikeInterval, f.cfg.StrikeWidth)

	result := &models.ChainResult{
		Symbol:     inst.Symbol,
		Expiry:     expiryDate,
		Status:     models.FetchOK,
		FetchedAt:  f.clock.Now(),
		Underlying: underlying.LTP,
		ATM:        atmStrike,
		Strikes:    strikes,
	}

	result.Legs = f.fetchLadder(ctx, inst.Symbol, expiryDate, strikes)
	f.aggregate(result)

	f.log.WithComponent("oi_fetcher").WithFields(logger.Fields{
		"symbol":    inst.Symbol,
		"expiry":    expiryDate,
		"atm":       atmStrike,
		"succeeded": result.Succeeded,
		"failed":    result.Failed,
	}).Info("oi fetch cycle complete")

	return result, nil
}

func (f *Fetcher) fetchUnderlying(ctx context.Context, symbol string) (*models.OptionQuote, error) {
	if err := f.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	q, err := f.quotes.Quote(ctx, symbol, f.exchange)
	if err != nil {
		return nil, err
	}
	f.store.AppendUnderlyingQuote(models.UnderlyingQuote{
		Timestamp: f.clock.Now(),
		Symbol:    symbol,
		Exchange:  f.exchange,
		LTP:       q.LTP,
		Open:      q.Open,
		High:      q.High,
		Low:       q.Low,
		Close:     q.Close,
		Volume:    q.Volume,
	})
	return q, nil
}

// fetchLadder fans the 2*(2w+1) legs over a bounded worker pool. Each
// worker still waits on the shared limiter, so concurrency only hides
// network latency without exceeding the request rate.
func (f *Fetcher) fetchLadder(ctx context.Context, symbol, expiryDate string, strikes []float64) []models.LegResult {
	type legJob struct {
		strike float64
		ot     models.OptionType
	}

	jobs := make([]legJob, 0, 2*len(strikes))
	for _, strike := range strikes {
		jobs = append(jobs, legJob{strike, models.Call}, legJob{strike, models.Put})
	}

	concurrency := f.cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)

	results := make([]models.LegResult, len(jobs))
	var wg sync.WaitGroup
	for i, job := range jobs {
		wg.Add(1)
		go func(i int, job legJob) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = f.fetchLeg(ctx, symbol, expiryDate, job.strike, job.ot)
		}(i, job)
	}
	wg.Wait()

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Strike != results[j].Strike {
			return results[i].Strike < results[j].Strike
		}
		return results[i].OptionType < results[j].OptionType
	})
	return results
}

func (f *Fetcher) fetchLeg(ctx context.Context, symbol, expiryDate string, strike float64, ot models.OptionType) models.LegResult {
	leg := models.LegResult{Strike: strike, OptionType: ot}

	optSymbol, err := symbols.OptionSymbol(symbol, expiryDate, strike, ot)
	if err != nil {
		leg.Err = err.Error()
		return leg
	}

	var quote *models.OptionQuote
	for attempt := 1; attempt <= f.cfg.Retry.MaxAttempts; attempt++ {
		leg.Attempts = attempt
		if err = f.limiter.Acquire(ctx); err != nil {
			leg.Err = err.Error()
			return leg
		}
		quote, err = f.quotes.Quote(ctx, optSymbol, f.derivEx)
		if err == nil {
			break
		}
		if attempt < f.cfg.Retry.MaxAttempts {
			if !sleepCtx(ctx, Delay(attempt, f.cfg.Retry.BaseDelay, f.cfg.Retry.MaxDelay)) {
				leg.Err = ctx.Err().Error()
				return leg
			}
		}
	}
	if quote == nil {
		leg.Err = err.Error()
		f.log.WithComponent("oi_fetcher").WithError(err).WithFields(logger.Fields{
			"symbol":   optSymbol,
			"attempts": leg.Attempts,
		}).Warn("leg fetch failed after retries")
		return leg
	}

	leg.Quote = quote
	now := f.clock.Now()

	f.store.AppendOIRecord(models.OIRecord{
		Timestamp:  now,
		Symbol:     symbol,
		Exchange:   f.derivEx,
		Expiry:     expiryDate,
		Strike:     strike,
		OptionType: ot,
		OI:         quote.OI,
		Volume:     quote.Volume,
		LastPrice:  quote.LTP,
		Bid:        quote.Bid,
		Ask:        quote.Ask,
		ImpliedVol: quote.ImpliedVol,
	})

	snap, err := f.store.UpsertSnapshot(ctx, f.clock.TradingDate(), symbol, expiryDate, strike, ot, quote.OI)
	if err != nil {
		f.log.WithComponent("oi_fetcher").WithError(err).WithFields(logger.Fields{
			"symbol": symbol,
			"strike": strike,
			"type":   string(ot),
		}).Warn("snapshot upsert failed")
		return leg
	}
	leg.OIChange = quote.OI - snap.StartOI
	return leg
}

// aggregate fills the ladder-level totals from the per-leg results.
// Failed legs are excluded from every sum.
func (f *Fetcher) aggregate(result *models.ChainResult) {
	for _, leg := range result.Legs {
		if leg.Failed() {
			result.Failed++
			continue
		}
		result.Succeeded++
		switch leg.OptionType {
		case models.Call:
			result.TotalCEOI += leg.Quote.OI
		case models.Put:
			result.TotalPEOI += leg.Quote.OI
		}
	}
	if result.TotalCEOI > 0 {
		pcr := float64(result.TotalPEOI) / float64(result.TotalCEOI)
		result.PCR = &pcr
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
