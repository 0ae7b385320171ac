// Package aggregator folds the live tick stream into OHLCV candles per
// symbol and timeframe.
package aggregator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"optionflow/internal/channel"
	"optionflow/logger"
	"optionflow/models"
)

// maxQueryLimit caps how many candles a single query may return.
const maxQueryLimit = 1000

// Sink receives ticks and sealed candles for persistence. Both calls
// must not block; the store queues writes internally.
type Sink interface {
	AppendTick(tick models.Tick)
	AppendCandle(candle models.Candle)
}

type seriesKey struct {
	symbol    string
	timeframe models.Timeframe
}

// series holds the open candle plus a bounded ring of sealed candles,
// oldest first.
type series struct {
	open   *models.Candle
	sealed []models.Candle
}

// Aggregator maintains one candle series per (symbol, timeframe). The
// open candle absorbs ticks in its bucket; a tick in a later bucket
// seals it, a tick in an earlier bucket is dropped and counted. Sealed
// candles are never modified.
type Aggregator struct {
	timeframes   []models.Timeframe
	historyLimit int

	mu     sync.RWMutex
	series map[seriesKey]*series

	lateDrops int64

	channels *channel.Channels
	sink     Sink
	log      *logger.Log

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds an aggregator for the given timeframes. Invalid timeframe
// names are rejected; an empty list means all supported timeframes.
func New(timeframes []string, historyLimit int, ch *channel.Channels, sink Sink) (*Aggregator, error) {
	tfs := make([]models.Timeframe, 0, len(timeframes))
	for _, name := range timeframes {
		tf := models.Timeframe(name)
		if !tf.IsValid() {
			return nil, fmt.Errorf("unsupported timeframe %q", name)
		}
		tfs = append(tfs, tf)
	}
	if len(tfs) == 0 {
		tfs = models.Timeframes()
	}
	if historyLimit <= 0 || historyLimit > maxQueryLimit {
		historyLimit = maxQueryLimit
	}

	return &Aggregator{
		timeframes:   tfs,
		historyLimit: historyLimit,
		series:       make(map[seriesKey]*series),
		channels:     ch,
		sink:         sink,
		log:          logger.GetLogger(),
	}, nil
}

// Start consumes the tick channel until ctx is cancelled or the channel
// closes.
func (a *Aggregator) Start(ctx context.Context) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return fmt.Errorf("aggregator already running")
	}
	a.running = true
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.runMu.Unlock()

	a.wg.Add(1)
	go a.consume(runCtx)

	a.log.WithComponent("aggregator").WithFields(logger.Fields{
		"timeframes":    a.timeframes,
		"history_limit": a.historyLimit,
	}).Info("aggregator started")
	return nil
}

// Stop cancels the consume loop and waits for it to drain.
func (a *Aggregator) Stop() {
	a.runMu.Lock()
	if !a.running {
		a.runMu.Unlock()
		return
	}
	a.running = false
	a.runMu.Unlock()

	a.cancel()
	a.wg.Wait()
	a.log.WithComponent("aggregator").Info("aggregator stopped")
}

func (a *Aggregator) consume(ctx context.Context) {
	defer a.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-a.channels.Ticks:
			if !ok {
				return
			}
			if a.sink != nil {
				a.sink.AppendTick(tick)
			}
			a.Ingest(tick)
		}
	}
}

// Ingest folds one tick into every configured timeframe. Depth ticks
// and non-positive prices carry no trade information and are skipped.
func (a *Aggregator) Ingest(tick models.Tick) {
	if tick.Kind == models.TickDepth || tick.LTP <= 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, tf := range a.timeframes {
		a.ingestLocked(tick, tf)
	}
}

func (a *Aggregator) ingestLocked(tick models.Tick, tf models.Timeframe) {
	key := seriesKey{symbol: tick.Symbol, timeframe: tf}
	bucket := tf.Bucket(tick.Timestamp)

	s, ok := a.series[key]
	if !ok {
		s = &series{}
		a.series[key] = s
	}

	if s.open == nil {
		s.open = newCandle(tick, tf, bucket)
		return
	}

	switch {
	case bucket.Equal(s.open.OpenTime):
		s.open.Apply(tick.LTP, tick.LastTradeQty)
	case bucket.After(s.open.OpenTime):
		a.seal(s)
		s.open = newCandle(tick, tf, bucket)
	default:
		atomic.AddInt64(&a.lateDrops, 1)
	}
}

func newCandle(tick models.Tick, tf models.Timeframe, bucket time.Time) *models.Candle {
	return &models.Candle{
		Symbol:    tick.Symbol,
		Timeframe: tf,
		OpenTime:  bucket,
		Open:      tick.LTP,
		High:      tick.LTP,
		Low:       tick.LTP,
		Close:     tick.LTP,
		Volume:    tick.LastTradeQty,
	}
}

func (a *Aggregator) seal(s *series) {
	sealed := *s.open
	s.sealed = append(s.sealed, sealed)
	if len(s.sealed) > a.historyLimit {
		s.sealed = s.sealed[len(s.sealed)-a.historyLimit:]
	}
	if a.sink != nil {
		a.sink.AppendCandle(sealed)
	}
}

// LateDrops returns how many ticks arrived for an already-sealed bucket
// and were discarded.
func (a *Aggregator) LateDrops() int64 {
	return atomic.LoadInt64(&a.lateDrops)
}

// Candles returns up to limit candles for a series, oldest first, with
// the still-open candle last. The limit is clamped to 1000.
func (a *Aggregator) Candles(symbol string, tf models.Timeframe, limit int) []models.Candle {
	if limit <= 0 || limit > maxQueryLimit {
		limit = maxQueryLimit
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	s, ok := a.series[seriesKey{symbol: symbol, timeframe: tf}]
	if !ok {
		return nil
	}

	total := len(s.sealed)
	if s.open != nil {
		total++
	}
	if total > limit {
		total = limit
	}

	out := make([]models.Candle, 0, total)
	sealedWanted := total
	if s.open != nil {
		sealedWanted--
	}
	if sealedWanted > 0 {
		out = append(out, s.sealed[len(s.sealed)-sealedWanted:]...)
	}
	if s.open != nil {
		out = append(out, *s.open)
	}
	return out
}
