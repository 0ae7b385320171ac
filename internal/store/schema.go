package store

// QuestDB DDL, applied idempotently at startup. Every table has a
// designated timestamp and daily partitions; SYMBOL columns keep the
// per-row footprint small for repeated identifiers.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS ticks_ltp (
		timestamp TIMESTAMP,
		symbol SYMBOL,
		exchange SYMBOL,
		ltp DOUBLE,
		last_trade_qty LONG
	) timestamp(timestamp) PARTITION BY DAY`,

	`CREATE TABLE IF NOT EXISTS ticks_quote (
		timestamp TIMESTAMP,
		symbol SYMBOL,
		exchange SYMBOL,
		ltp DOUBLE,
		open DOUBLE,
		high DOUBLE,
		low DOUBLE,
		close DOUBLE,
		volume LONG,
		change DOUBLE,
		change_percent DOUBLE,
		avg_trade_price DOUBLE
	) timestamp(timestamp) PARTITION BY DAY`,

	`CREATE TABLE IF NOT EXISTS ticks_depth (
		timestamp TIMESTAMP,
		symbol SYMBOL,
		exchange SYMBOL,
		level INT,
		bid DOUBLE,
		ask DOUBLE,
		bid_qty LONG,
		ask_qty LONG,
		bid_orders LONG,
		ask_orders LONG
	) timestamp(timestamp) PARTITION BY DAY`,

	`CREATE TABLE IF NOT EXISTS candles (
		open_time TIMESTAMP,
		symbol SYMBOL,
		timeframe SYMBOL,
		open DOUBLE,
		high DOUBLE,
		low DOUBLE,
		close DOUBLE,
		volume LONG
	) timestamp(open_time) PARTITION BY DAY`,

	`CREATE TABLE IF NOT EXISTS options_oi (
		timestamp TIMESTAMP,
		symbol SYMBOL,
		exchange SYMBOL,
		expiry SYMBOL,
		strike DOUBLE,
		option_type SYMBOL,
		oi LONG,
		volume LONG,
		last_price DOUBLE,
		bid DOUBLE,
		ask DOUBLE,
		iv DOUBLE
	) timestamp(timestamp) PARTITION BY DAY`,

	`CREATE TABLE IF NOT EXISTS options_oi_snapshot (
		snapshot_date TIMESTAMP,
		symbol SYMBOL,
		expiry SYMBOL,
		strike DOUBLE,
		option_type SYMBOL,
		oi_start_of_day LONG,
		oi_end_of_day LONG
	) timestamp(snapshot_date) PARTITION BY MONTH`,

	`CREATE TABLE IF NOT EXISTS underlying_quotes (
		timestamp TIMESTAMP,
		symbol SYMBOL,
		exchange SYMBOL,
		ltp DOUBLE,
		open DOUBLE,
		high DOUBLE,
		low DOUBLE,
		close DOUBLE,
		volume LONG
	) timestamp(timestamp) PARTITION BY DAY`,
}
