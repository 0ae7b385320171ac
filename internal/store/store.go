// Package store persists market data to QuestDB over the PostgreSQL
// wire protocol. Appends go through an internal buffered queue so the
// ingestion path never blocks on the database.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"optionflow/config"
	"optionflow/logger"
	"optionflow/models"
)

// maxQueryLimit caps candle range reads.
const maxQueryLimit = 1000

type writeOp func(ctx context.Context) error

// dbConn is the slice of the pgx pool the store issues SQL through.
type dbConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store owns the QuestDB connection pool and the async write queue.
type Store struct {
	pool *pgxpool.Pool
	db   dbConn
	log  *logger.Log

	// QuestDB has no unique constraints, so the snapshot read-then-write
	// must be serialized to keep the row singular per leg and day.
	snapMu sync.Mutex

	queueMu sync.RWMutex
	closed  bool
	queue   chan writeOp
	written int64
	dropped int64
	failed  int64

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New connects to QuestDB and verifies the connection.
func New(ctx context.Context, cfg config.QuestDBConfig, queueSize int) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN() + "?sslmode=disable")
	if err != nil {
		return nil, fmt.Errorf("failed to parse questdb config: %w", err)
	}
	poolCfg.MaxConns = 8
	poolCfg.ConnConfig.ConnectTimeout = 10 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create questdb pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping questdb: %w", err)
	}

	if queueSize <= 0 {
		queueSize = 8192
	}
	return &Store{
		pool:  pool,
		db:    pool,
		log:   logger.GetLogger(),
		queue: make(chan writeOp, queueSize),
	}, nil
}

// EnsureSchema creates all tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	s.log.WithComponent("store").Info("schema ensured")
	return nil
}

// Start launches the write queue worker.
func (s *Store) Start(ctx context.Context) error {
	s.runMu.Lock()
	if s.running {
		s.runMu.Unlock()
		return fmt.Errorf("store writer already running")
	}
	s.running = true
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.runMu.Unlock()

	s.wg.Add(1)
	go s.drain(runCtx)

	s.log.WithComponent("store").WithFields(logger.Fields{
		"queue_cap": cap(s.queue),
	}).Info("store writer started")
	return nil
}

// Stop flushes the queued writes and stops the worker.
func (s *Store) Stop() {
	s.runMu.Lock()
	if !s.running {
		s.runMu.Unlock()
		return
	}
	s.running = false
	s.runMu.Unlock()

	s.queueMu.Lock()
	s.closed = true
	close(s.queue)
	s.queueMu.Unlock()
	s.wg.Wait()
	s.cancel()
	s.log.WithComponent("store").WithFields(logger.Fields{
		"written": atomic.LoadInt64(&s.written),
		"dropped": atomic.LoadInt64(&s.dropped),
		"failed":  atomic.LoadInt64(&s.failed),
	}).Info("store writer stopped")
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) drain(ctx context.Context) {
	defer s.wg.Done()

	for op := range s.queue {
		if err := op(ctx); err != nil {
			atomic.AddInt64(&s.failed, 1)
			s.log.WithComponent("store").WithError(err).Warn("write failed")
			continue
		}
		atomic.AddInt64(&s.written, 1)
	}
}

// enqueue adds a write without blocking; on a full or closed queue the
// write is dropped and counted.
func (s *Store) enqueue(op writeOp) {
	s.queueMu.RLock()
	defer s.queueMu.RUnlock()
	if s.closed {
		atomic.AddInt64(&s.dropped, 1)
		return
	}
	select {
	case s.queue <- op:
	default:
		atomic.AddInt64(&s.dropped, 1)
	}
}

// Dropped returns how many writes were discarded on queue overflow.
func (s *Store) Dropped() int64 {
	return atomic.LoadInt64(&s.dropped)
}

// AppendTick queues a tick row in the table matching its kind.
func (s *Store) AppendTick(tick models.Tick) {
	switch tick.Kind {
	case models.TickLTP:
		s.enqueue(func(ctx context.Context) error {
			_, err := s.db.Exec(ctx,
				`INSERT INTO ticks_ltp (timestamp, symbol, exchange, ltp, last_trade_qty)
				 VALUES ($1, $2, $3, $4, $5)`,
				tick.Timestamp, tick.Symbol, tick.Exchange, tick.LTP, tick.LastTradeQty)
			return err
		})
	case models.TickQuote:
		s.enqueue(func(ctx context.Context) error {
			_, err := s.db.Exec(ctx,
				`INSERT INTO ticks_quote (timestamp, symbol, exchange, ltp, open, high, low, close,
				 volume, change, change_percent, avg_trade_price)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
				tick.Timestamp, tick.Symbol, tick.Exchange, tick.LTP, tick.Open, tick.High,
				tick.Low, tick.Close, tick.Volume, tick.Change, tick.ChangePercent, tick.AvgTradePrice)
			return err
		})
	case models.TickDepth:
		for _, level := range tick.Depth {
			level := level
			s.enqueue(func(ctx context.Context) error {
				_, err := s.db.Exec(ctx,
					`INSERT INTO ticks_depth (timestamp, symbol, exchange, level, bid, ask,
					 bid_qty, ask_qty, bid_orders, ask_orders)
					 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
					tick.Timestamp, tick.Symbol, tick.Exchange, level.Level, level.Bid, level.Ask,
					level.BidQty, level.AskQty, level.BidOrders, level.AskOrders)
				return err
			})
		}
	}
}

// AppendCandle queues a sealed candle row.
func (s *Store) AppendCandle(candle models.Candle) {
	s.enqueue(func(ctx context.Context) error {
		_, err := s.db.Exec(ctx,
			`INSERT INTO candles (open_time, symbol, timeframe, open, high, low, close, volume)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			candle.OpenTime, candle.Symbol, string(candle.Timeframe),
			candle.Open, candle.High, candle.Low, candle.Close, candle.Volume)
		return err
	})
}

// AppendOIRecord queues one open-interest observation.
func (s *Store) AppendOIRecord(rec models.OIRecord) {
	s.enqueue(func(ctx context.Context) error {
		_, err := s.db.Exec(ctx,
			`INSERT INTO options_oi (timestamp, symbol, exchange, expiry, strike, option_type,
			 oi, volume, last_price, bid, ask, iv)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			rec.Timestamp, rec.Symbol, rec.Exchange, rec.Expiry, rec.Strike, string(rec.OptionType),
			rec.OI, rec.Volume, rec.LastPrice, rec.Bid, rec.Ask, rec.ImpliedVol)
		return err
	})
}

// AppendUnderlyingQuote queues a spot/index quote row.
func (s *Store) AppendUnderlyingQuote(q models.UnderlyingQuote) {
	s.enqueue(func(ctx context.Context) error {
		_, err := s.db.Exec(ctx,
			`INSERT INTO underlying_quotes (timestamp, symbol, exchange, ltp, open, high, low, close, volume)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			q.Timestamp, q.Symbol, q.Exchange, q.LTP, q.Open, q.High, q.Low, q.Close, q.Volume)
		return err
	})
}

// UpsertSnapshot folds one OI observation into the daily snapshot row
// keyed (snapshot_date, symbol, expiry, strike, option_type). The first
// observation of the day seeds both start and end; later ones move the
// end only. The returned snapshot carries the preserved start-of-day.
func (s *Store) UpsertSnapshot(ctx context.Context, date time.Time, symbol, expiry string, strike float64, ot models.OptionType, oi int64) (models.OISnapshot, error) {
	s.snapMu.Lock()
	defer s.snapMu.Unlock()

	snap := models.OISnapshot{
		SnapshotDate: date,
		Symbol:       symbol,
		Expiry:       expiry,
		Strike:       strike,
		OptionType:   ot,
	}

	var startOI int64
	err := s.db.QueryRow(ctx,
		`SELECT oi_start_of_day FROM options_oi_snapshot
		 WHERE snapshot_date = $1 AND symbol = $2 AND expiry = $3 AND strike = $4 AND option_type = $5`,
		date, symbol, expiry, strike, string(ot)).Scan(&startOI)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		if _, err := s.db.Exec(ctx,
			`INSERT INTO options_oi_snapshot (snapshot_date, symbol, expiry, strike, option_type,
			 oi_start_of_day, oi_end_of_day)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			date, symbol, expiry, strike, string(ot), oi, oi); err != nil {
			return snap, fmt.Errorf("failed to insert snapshot: %w", err)
		}
		snap.StartOI = oi
		snap.EndOI = oi
		return snap, nil
	case err != nil:
		return snap, fmt.Errorf("failed to read snapshot: %w", err)
	}

	if _, err := s.db.Exec(ctx,
		`UPDATE options_oi_snapshot SET oi_end_of_day = $1
		 WHERE snapshot_date = $2 AND symbol = $3 AND expiry = $4 AND strike = $5 AND option_type = $6`,
		oi, date, symbol, expiry, strike, string(ot)); err != nil {
		return snap, fmt.Errorf("failed to update snapshot: %w", err)
	}
	snap.StartOI = startOI
	snap.EndOI = oi
	return snap, nil
}

// Candles reads up to limit candles for a series, most recent last.
// The limit is clamped to 1000.
func (s *Store) Candles(ctx context.Context, symbol string, tf models.Timeframe, limit int) ([]models.Candle, error) {
	if limit <= 0 || limit > maxQueryLimit {
		limit = maxQueryLimit
	}

	rows, err := s.db.Query(ctx,
		`SELECT open_time, symbol, timeframe, open, high, low, close, volume
		 FROM candles WHERE symbol = $1 AND timeframe = $2
		 ORDER BY open_time DESC LIMIT $3`,
		symbol, string(tf), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query candles: %w", err)
	}
	defer rows.Close()

	var out []models.Candle
	for rows.Next() {
		var c models.Candle
		var timeframe string
		if err := rows.Scan(&c.OpenTime, &c.Symbol, &timeframe, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan candle: %w", err)
		}
		c.Timeframe = models.Timeframe(timeframe)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// DESC read, oldest-first answer.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// OILevels returns the latest observation per (strike, option_type) leg
// for a symbol and expiry, ascending by strike.
func (s *Store) OILevels(ctx context.Context, symbol, expiry string) ([]models.OIRecord, error) {
	rows, err := s.db.Query(ctx,
		`SELECT timestamp, symbol, exchange, expiry, strike, option_type, oi, volume, last_price, bid, ask, iv
		 FROM options_oi
		 WHERE symbol = $1 AND expiry = $2
		 LATEST ON timestamp PARTITION BY strike, option_type
		 ORDER BY strike, option_type`,
		symbol, expiry)
	if err != nil {
		return nil, fmt.Errorf("failed to query oi levels: %w", err)
	}
	defer rows.Close()

	var out []models.OIRecord
	for rows.Next() {
		var rec models.OIRecord
		var ot string
		if err := rows.Scan(&rec.Timestamp, &rec.Symbol, &rec.Exchange, &rec.Expiry, &rec.Strike,
			&ot, &rec.OI, &rec.Volume, &rec.LastPrice, &rec.Bid, &rec.Ask, &rec.ImpliedVol); err != nil {
			return nil, fmt.Errorf("failed to scan oi level: %w", err)
		}
		rec.OptionType = models.OptionType(ot)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// OIChanges returns the day's snapshots for a symbol and expiry,
// ascending by strike. Change() on each row gives the day delta.
func (s *Store) OIChanges(ctx context.Context, symbol, expiry string, date time.Time) ([]models.OISnapshot, error) {
	rows, err := s.db.Query(ctx,
		`SELECT snapshot_date, symbol, expiry, strike, option_type, oi_start_of_day, oi_end_of_day
		 FROM options_oi_snapshot
		 WHERE snapshot_date = $1 AND symbol = $2 AND expiry = $3
		 ORDER BY strike, option_type`,
		date, symbol, expiry)
	if err != nil {
		return nil, fmt.Errorf("failed to query oi changes: %w", err)
	}
	defer rows.Close()

	var out []models.OISnapshot
	for rows.Next() {
		var snap models.OISnapshot
		var ot string
		if err := rows.Scan(&snap.SnapshotDate, &snap.Symbol, &snap.Expiry, &snap.Strike,
			&ot, &snap.StartOI, &snap.EndOI); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snap.OptionType = models.OptionType(ot)
		out = append(out, snap)
	}
	return out, rows.Err()
}

// Snapshot reads one daily snapshot row, or nil when absent.
func (s *Store) Snapshot(ctx context.Context, date time.Time, symbol, expiry string, strike float64, ot models.OptionType) (*models.OISnapshot, error) {
	snap := models.OISnapshot{
		SnapshotDate: date,
		Symbol:       symbol,
		Expiry:       expiry,
		Strike:       strike,
		OptionType:   ot,
	}
	err := s.db.QueryRow(ctx,
		`SELECT oi_start_of_day, oi_end_of_day FROM options_oi_snapshot
		 WHERE snapshot_date = $1 AND symbol = $2 AND expiry = $3 AND strike = $4 AND option_type = $5`,
		date, symbol, expiry, strike, string(ot)).Scan(&snap.StartOI, &snap.EndOI)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return &snap, nil
}
